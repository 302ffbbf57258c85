package conversation

import (
	"time"
)

// Stage is a phase of the booking workflow.
type Stage string

const (
	StageGreeting          Stage = "greeting"
	StageCollectInfo       Stage = "collect_info"
	StageConfirmUnit       Stage = "confirm_unit"
	StageCheckAvailability Stage = "check_availability"
	StageSchedule          Stage = "schedule"

	// StageError only ever appears in error envelopes; it is never stored.
	StageError Stage = "error"
)

var stageOrder = []Stage{
	StageGreeting,
	StageCollectInfo,
	StageConfirmUnit,
	StageCheckAvailability,
	StageSchedule,
}

// Index returns the position of s in the workflow, or -1.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool { return s.Index() >= 0 }

func (s Stage) String() string { return string(s) }

// Role tags a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Slot keys.
const (
	SlotName      = "name"
	SlotProcedure = "procedure"
	SlotUnit      = "unit"
	SlotDate      = "date"
	SlotTime      = "time"
)

// SlotKeys is the fixed slot vocabulary.
var SlotKeys = []string{SlotName, SlotProcedure, SlotUnit, SlotDate, SlotTime}

// Turn is one role-tagged message. Immutable once appended.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is the per-id dialogue state owned by the Store.
type Conversation struct {
	ID            string            `json:"id"`
	Turns         []Turn            `json:"turns"`
	Slots         map[string]string `json:"slots"`
	Stage         Stage             `json:"stage"`
	Summary       string            `json:"summary,omitempty"`
	RequiresHuman bool              `json:"requires_human"` // last turn only
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewConversation returns an empty conversation in the greeting stage.
func NewConversation(id string, now time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		Turns:     []Turn{},
		Slots:     map[string]string{},
		Stage:     StageGreeting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SlotsCopy returns a detached copy of the slot map.
func (c *Conversation) SlotsCopy() map[string]string {
	out := make(map[string]string, len(c.Slots))
	for k, v := range c.Slots {
		out[k] = v
	}
	return out
}

// LastTurns returns up to n most recent turns, in order, keeping only the
// given roles. No roles means all roles.
func (c *Conversation) LastTurns(n int, roles ...Role) []Turn {
	keep := func(r Role) bool {
		if len(roles) == 0 {
			return true
		}
		for _, want := range roles {
			if r == want {
				return true
			}
		}
		return false
	}

	start := 0
	if n > 0 && len(c.Turns) > n {
		start = len(c.Turns) - n
	}

	out := make([]Turn, 0, len(c.Turns)-start)
	for _, t := range c.Turns[start:] {
		if keep(t.Role) {
			out = append(out, t)
		}
	}
	return out
}
