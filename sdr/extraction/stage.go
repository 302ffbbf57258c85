package extraction

import (
	"strings"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/conversation"
)

// Transition is one row of the stage table.
type Transition struct {
	From conversation.Stage
	To   conversation.Stage
	When func(userText string, slots map[string]string) bool
}

func hasSlots(slots map[string]string, keys ...string) bool {
	for _, k := range keys {
		if slots[k] == "" {
			return false
		}
	}
	return true
}

// DefaultTransitions is the booking workflow, in order.
func DefaultTransitions() []Transition {
	return []Transition{
		{
			From: conversation.StageGreeting,
			To:   conversation.StageCollectInfo,
			When: func(text string, _ map[string]string) bool { return strings.TrimSpace(text) != "" },
		},
		{
			From: conversation.StageCollectInfo,
			To:   conversation.StageConfirmUnit,
			When: func(_ string, slots map[string]string) bool {
				return hasSlots(slots, conversation.SlotName, conversation.SlotProcedure)
			},
		},
		{
			From: conversation.StageConfirmUnit,
			To:   conversation.StageCheckAvailability,
			When: func(_ string, slots map[string]string) bool { return hasSlots(slots, conversation.SlotUnit) },
		},
		{
			From: conversation.StageCheckAvailability,
			To:   conversation.StageSchedule,
			When: func(_ string, slots map[string]string) bool {
				return hasSlots(slots, conversation.SlotDate, conversation.SlotTime)
			},
		},
	}
}

// StageMachine evaluates the transition table. It only moves forward.
type StageMachine struct {
	transitions []Transition
}

func NewStageMachine(transitions []Transition) *StageMachine {
	if len(transitions) == 0 {
		transitions = DefaultTransitions()
	}
	return &StageMachine{transitions: transitions}
}

// Advance makes one ordered pass over the table, so a turn can chain
// through several stages but each row fires at most once.
func (m *StageMachine) Advance(stage conversation.Stage, userText string, slots map[string]string) conversation.Stage {
	if !stage.Valid() {
		return stage
	}
	for _, t := range m.transitions {
		if t.From != stage || t.To.Index() <= stage.Index() {
			continue
		}
		if t.When(userText, slots) {
			stage = t.To
		}
	}
	return stage
}
