package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/ports"
	"github.com/rs/zerolog"
)

// Option configures an Executor.
type Option func(*Executor)

// WithClock overrides the clock used to resolve "tomorrow".
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// Executor is the tool registry. Lookups are read-only after construction,
// so Execute is safe for concurrent use; shared state lives in the
// Availability.
type Executor struct {
	tools     map[string]Tool
	order     []string
	validator *JSONValidator
	now       func() time.Time
	logger    zerolog.Logger
}

// NewExecutor registers the four booking tools over availability.
func NewExecutor(availability Availability, logger zerolog.Logger, opts ...Option) (*Executor, error) {
	e := &Executor{
		tools:     make(map[string]Tool),
		validator: NewJSONValidator(),
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}

	impl := &schedulingTools{availability: availability, now: func() time.Time { return e.now() }}

	list, err := NewTool(ToolListAvailableSlots,
		"List the available appointment times for a date", impl.listAvailableSlots)
	if err != nil {
		return nil, err
	}
	check, err := NewTool(ToolCheckAvailability,
		"Check whether a specific date and time is available", impl.checkAvailability)
	if err != nil {
		return nil, err
	}
	book, err := NewTool(ToolBookAppointment,
		"Book an appointment once every detail has been confirmed", impl.bookAppointment)
	if err != nil {
		return nil, err
	}
	confirm, err := NewTool(ToolSendConfirmation,
		"Send the appointment confirmation to the patient", impl.sendConfirmation)
	if err != nil {
		return nil, err
	}

	for _, t := range []Tool{list, check, book, confirm} {
		if err := e.Register(t); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Register adds a tool; names must be unique.
func (e *Executor) Register(t Tool) error {
	if t.Name == "" || t.invoke == nil {
		return fmt.Errorf("tool must have a name and a handler")
	}
	if _, dup := e.tools[t.Name]; dup {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	if err := e.validator.Compile(t.Name, t.Schema); err != nil {
		return err
	}
	e.tools[t.Name] = t
	e.order = append(e.order, t.Name)
	return nil
}

// Specs returns the declarations in registration order.
func (e *Executor) Specs() []ports.ToolSpec {
	specs := make([]ports.ToolSpec, 0, len(e.order))
	for _, name := range e.order {
		t := e.tools[name]
		specs = append(specs, ports.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			JSONSchema:  t.Schema,
		})
	}
	return specs
}

// Names returns the registered tool names in registration order.
func (e *Executor) Names() []string {
	return append([]string(nil), e.order...)
}

// Execute validates and runs call. It never fails; problems come back as an
// unsuccessful Result.
func (e *Executor) Execute(ctx context.Context, call ports.ToolCall) Result {
	t, ok := e.tools[call.Name]
	if !ok {
		return failure("tool not found: %s", call.Name)
	}

	args := call.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := e.validator.Validate(call.Name, args); err != nil {
		e.logger.Debug().Err(err).Str("tool", call.Name).Msg("tool arguments rejected")
		return failure("invalid arguments for %s: %v", call.Name, err)
	}

	res := t.invoke(ctx, args)
	e.logger.Debug().
		Str("tool", call.Name).
		Bool("success", res.Success).
		Msg("tool executed")
	return res
}
