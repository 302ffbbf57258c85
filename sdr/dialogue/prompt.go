package dialogue

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/conversation"
	ports "github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/ports"
)

const persona = `You are a virtual assistant for a medical clinic, specialised in booking appointments.

Your job is to guide the patient through these stages:
1. greeting: welcome the patient and ask their name
2. collect_info: collect the patient's name and the procedure they want
3. confirm_unit: confirm which clinic unit they prefer
4. check_availability: check open times for the chosen date
5. schedule: book the appointment and send the confirmation

RULES:
- Be friendly, professional and concise
- Ask for one piece of information at a time
- Use the available functions to list times, check availability, book and confirm
- Only book once name, procedure, unit, date and time are all known
- If the patient is unhappy or asks for a person, offer to transfer them to a human agent`

// PromptBuilder assembles model-ready inputs from system text and messages.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

// Build normalises newlines and whitespace so identical prompts stay
// byte-identical.
func (b *PromptBuilder) Build(system string, messages []ports.PromptMessage, toolSpecs []ports.ToolSpec, meta map[string]string) ports.PromptInput {
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }

	out := make([]ports.PromptMessage, len(messages))
	for i, m := range messages {
		m.Content = norm(m.Content)
		out[i] = m
	}

	return ports.PromptInput{
		System:   norm(system),
		Messages: out,
		Tools:    toolSpecs,
		Meta:     meta,
	}
}

// SystemPrompt renders the persona with the live dialogue state.
func SystemPrompt(stage conversation.Stage, slots map[string]string, summary string, knowledge []string) string {
	var sb strings.Builder
	sb.WriteString(persona)
	sb.WriteString("\n\nCURRENT STAGE: ")
	sb.WriteString(stage.String())
	sb.WriteString("\nFILLED SLOTS: ")
	sb.WriteString(slotsJSON(slots))

	if summary != "" {
		sb.WriteString("\n\nPrevious conversation summary: ")
		sb.WriteString(summary)
	}
	if len(knowledge) > 0 {
		sb.WriteString("\n\nRelevant information from the knowledge base:\n")
		sb.WriteString(strings.Join(knowledge, "\n\n"))
	}
	return sb.String()
}

func slotsJSON(slots map[string]string) string {
	if slots == nil {
		slots = map[string]string{}
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// formatSlots renders "k: v" pairs in slot-vocabulary order, then any
// unknown keys sorted.
func formatSlots(slots map[string]string) string {
	parts := make([]string, 0, len(slots))
	seen := make(map[string]bool, len(slots))
	for _, k := range conversation.SlotKeys {
		if v, ok := slots[k]; ok && v != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", k, v))
			seen[k] = true
		}
	}
	var extra []string
	for k, v := range slots {
		if !seen[k] && v != "" {
			extra = append(extra, fmt.Sprintf("%s: %s", k, v))
		}
	}
	sort.Strings(extra)
	return strings.Join(append(parts, extra...), ", ")
}
