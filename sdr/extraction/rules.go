package extraction

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// VocabularyEntry maps a phrase found in a message to a canonical value.
type VocabularyEntry struct {
	Phrase string `yaml:"phrase"`
	Value  string `yaml:"value"`
}

// RuleSet is the YAML shape of the phrase tables. Vocabulary order is
// significant.
type RuleSet struct {
	NameLeadIns          []string          `yaml:"name_lead_ins"`
	Procedures           []VocabularyEntry `yaml:"procedures"`
	Units                []VocabularyEntry `yaml:"units"`
	Escalation           []string          `yaml:"escalation"`
	EscalationExceptions []string          `yaml:"escalation_exceptions"`
	DateTimeSeparators   []string          `yaml:"date_time_separators"`
	DateLayouts          []string          `yaml:"date_layouts"`
	TimeLayouts          []string          `yaml:"time_layouts"`
}

// Rules is a compiled, immutable RuleSet.
type Rules struct {
	leadIns     *phraseIndex
	procedures  vocabulary
	units       vocabulary
	escalation  *phraseIndex
	exceptions  *strings.Replacer
	separators  map[string]struct{}
	dateLayouts []string
	timeLayouts []string
}

// RuleSource hands out the rules in force.
type RuleSource interface {
	Current() *Rules
}

// Current lets a fixed *Rules act as its own source.
func (r *Rules) Current() *Rules { return r }

// DefaultRules compiles the built-in tables.
func DefaultRules() *Rules {
	rules, err := ParseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("built-in rules are invalid: %v", err))
	}
	return rules
}

// LoadRules reads rules from path, or the built-in tables when path is empty.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes and compiles YAML rule tables.
func ParseRules(data []byte) (*Rules, error) {
	var set RuleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return Compile(set)
}

// Compile validates set and builds its phrase indexes.
func Compile(set RuleSet) (*Rules, error) {
	var errs []error
	if len(set.NameLeadIns) == 0 {
		errs = append(errs, errors.New("name_lead_ins is empty"))
	}
	procedures, err := newVocabulary(set.Procedures)
	if err != nil {
		errs = append(errs, fmt.Errorf("procedures: %w", err))
	}
	units, err := newVocabulary(set.Units)
	if err != nil {
		errs = append(errs, fmt.Errorf("units: %w", err))
	}
	if len(set.Escalation) == 0 {
		errs = append(errs, errors.New("escalation is empty"))
	}
	if len(set.DateTimeSeparators) == 0 {
		errs = append(errs, errors.New("date_time_separators is empty"))
	}
	if len(set.DateLayouts) == 0 || len(set.TimeLayouts) == 0 {
		errs = append(errs, errors.New("date_layouts and time_layouts must be set"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	r := &Rules{
		leadIns:     newPhraseIndex(),
		procedures:  procedures,
		units:       units,
		escalation:  newPhraseIndex(),
		separators:  make(map[string]struct{}, len(set.DateTimeSeparators)),
		dateLayouts: append([]string(nil), set.DateLayouts...),
		timeLayouts: append([]string(nil), set.TimeLayouts...),
	}
	for _, p := range set.NameLeadIns {
		r.leadIns.insert(p, "")
	}
	for _, p := range set.Escalation {
		r.escalation.insert(p, "")
	}
	blanks := make([]string, 0, 2*len(set.EscalationExceptions))
	for _, p := range set.EscalationExceptions {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			blanks = append(blanks, p, " ")
		}
	}
	r.exceptions = strings.NewReplacer(blanks...)
	for _, s := range set.DateTimeSeparators {
		r.separators[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	return r, nil
}
