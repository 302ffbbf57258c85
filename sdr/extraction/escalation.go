package extraction

import "strings"

// Detector flags messages asking for a human or voicing dissatisfaction.
type Detector struct {
	rules RuleSource
}

func NewDetector(rules RuleSource) *Detector {
	return &Detector{rules: rules}
}

// Detect is a case-insensitive substring match over the escalation phrases,
// after blanking out the exception phrases ("no problem").
func (d *Detector) Detect(userText string) bool {
	rules := d.rules.Current()
	return rules.escalation.contains(rules.exceptions.Replace(strings.ToLower(userText)))
}
