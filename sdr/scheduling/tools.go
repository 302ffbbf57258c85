package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
)

// Tool names exposed to the model.
const (
	ToolListAvailableSlots = "list_available_slots"
	ToolCheckAvailability  = "check_availability"
	ToolBookAppointment    = "book_appointment"
	ToolSendConfirmation   = "send_confirmation"
)

// Result is the outcome of a tool invocation. Only Message is fed back to
// the model.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// ListSlotsArgs are the arguments of list_available_slots.
type ListSlotsArgs struct {
	Date string `json:"date,omitempty" jsonschema:"description=Date in YYYY-MM-DD format. Defaults to tomorrow."`
	Unit string `json:"unit,omitempty" jsonschema:"description=Clinic unit (downtown or south zone or north zone)"`
}

// CheckAvailabilityArgs are the arguments of check_availability.
type CheckAvailabilityArgs struct {
	Date string `json:"date" jsonschema:"description=Date in YYYY-MM-DD format"`
	Time string `json:"time" jsonschema:"description=Time in HH:mm format"`
	Unit string `json:"unit,omitempty" jsonschema:"description=Clinic unit"`
}

// BookAppointmentArgs are the arguments of book_appointment.
type BookAppointmentArgs struct {
	Name      string `json:"name" jsonschema:"description=Patient name"`
	Procedure string `json:"procedure" jsonschema:"description=Procedure to schedule"`
	Unit      string `json:"unit" jsonschema:"description=Clinic unit"`
	Date      string `json:"date" jsonschema:"description=Date in YYYY-MM-DD format"`
	Time      string `json:"time" jsonschema:"description=Time in HH:mm format"`
}

// SendConfirmationArgs are the arguments of send_confirmation.
type SendConfirmationArgs struct {
	Name string `json:"name" jsonschema:"description=Patient name"`
	Date string `json:"date" jsonschema:"description=Appointment date"`
	Time string `json:"time" jsonschema:"description=Appointment time"`
	Unit string `json:"unit" jsonschema:"description=Clinic unit"`
}

// Tool binds a declaration to its typed handler.
type Tool struct {
	Name        string
	Description string
	Schema      []byte
	invoke      func(ctx context.Context, raw json.RawMessage) Result
}

// NewTool reflects the schema of A and decodes arguments into it before
// calling fn.
func NewTool[A any](name, description string, fn func(ctx context.Context, args A) Result) (Tool, error) {
	schema, err := reflectSchema(new(A))
	if err != nil {
		return Tool{}, fmt.Errorf("reflect schema for %s: %w", name, err)
	}
	return Tool{
		Name:        name,
		Description: description,
		Schema:      schema,
		invoke: func(ctx context.Context, raw json.RawMessage) Result {
			var args A
			if err := json.Unmarshal(raw, &args); err != nil {
				return failure("invalid arguments for %s: %v", name, err)
			}
			return fn(ctx, args)
		},
	}, nil
}

func reflectSchema(v any) ([]byte, error) {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
		Anonymous:                 true,
	}
	schema := reflector.Reflect(v)
	// gojsonschema only understands drafts up to 7
	schema.Version = ""
	if schema.Type == "" {
		schema.Type = "object"
	}
	return json.Marshal(schema)
}

// schedulingTools implements the four booking tools over an Availability.
type schedulingTools struct {
	availability Availability
	now          func() time.Time
}

func (s *schedulingTools) listAvailableSlots(ctx context.Context, args ListSlotsArgs) Result {
	date := strings.TrimSpace(args.Date)
	if date == "" {
		date = s.now().AddDate(0, 0, 1).Format(DateLayout)
	}
	day, err := NormalizeDate(date)
	if err != nil {
		return failure("Invalid date %q, expected YYYY-MM-DD", date)
	}

	times, ok := s.availability.Slots(ctx, day)
	if !ok {
		return failure("No available times for date %s", day)
	}

	unit := args.Unit
	if unit == "" {
		unit = "not specified"
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("Available times for %s: %s", day, strings.Join(times, ", ")),
		Data: map[string]any{
			"date":            day,
			"unit":            unit,
			"available_times": times,
			"total":           len(times),
		},
	}
}

func (s *schedulingTools) checkAvailability(ctx context.Context, args CheckAvailabilityArgs) Result {
	day, clock, err := normalizeDateTime(args.Date, args.Time)
	if err != nil {
		return failure("%v", err)
	}

	available := s.availability.IsAvailable(ctx, day, clock)
	msg := fmt.Sprintf("Time %s on %s is available!", clock, day)
	if !available {
		msg = fmt.Sprintf("Time %s on %s is not available", clock, day)
	}
	return Result{
		Success: available,
		Message: msg,
		Data: map[string]any{
			"date":      day,
			"time":      clock,
			"unit":      args.Unit,
			"available": available,
		},
	}
}

func (s *schedulingTools) bookAppointment(ctx context.Context, args BookAppointmentArgs) Result {
	day, clock, err := normalizeDateTime(args.Date, args.Time)
	if err != nil {
		return failure("%v", err)
	}

	if !s.availability.Reserve(ctx, day, clock) {
		return failure("Could not book the appointment. Time not available.")
	}

	id := uuid.NewString()
	return Result{
		Success: true,
		Message: fmt.Sprintf("Appointment booked successfully! ID: %s", id),
		Data: map[string]any{
			"appointment_id": id,
			"name":           args.Name,
			"procedure":      args.Procedure,
			"unit":           args.Unit,
			"date":           day,
			"time":           clock,
			"status":         "confirmed",
		},
	}
}

func (s *schedulingTools) sendConfirmation(_ context.Context, args SendConfirmationArgs) Result {
	msg := fmt.Sprintf("Hello %s, your appointment is confirmed for %s at %s at %s. We look forward to seeing you!",
		args.Name, args.Date, args.Time, args.Unit)
	return Result{
		Success: true,
		Message: msg,
		Data: map[string]any{
			"confirmation_sent": true,
			"message":           msg,
		},
	}
}

func normalizeDateTime(date, clock string) (string, string, error) {
	day, err := NormalizeDate(strings.TrimSpace(date))
	if err != nil {
		return "", "", fmt.Errorf("invalid date %q, expected YYYY-MM-DD", date)
	}
	hm, err := NormalizeTime(strings.TrimSpace(clock))
	if err != nil {
		return "", "", fmt.Errorf("invalid time %q, expected HH:mm", clock)
	}
	return day, hm, nil
}
