package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log-guard/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Defaults applied to omitted rule fields.
const (
	DefaultPriority      = 2
	DefaultBlockMinutes  = 60
	DefaultAttempts      = 5
	DefaultWindowSeconds = 60
)

var priorityNames = map[string]int{
	"high":   1,
	"medium": 2,
	"low":    3,
}

// Display labels accepted as aliases of the condition and action kinds.
var conditionLabels = map[string]model.ConditionKind{
	"severity level":      model.ConditionSeverity,
	"source ip":           model.ConditionSourceAddress,
	"log message content": model.ConditionMessageContains,
	"repeated event":      model.ConditionRepeatedEvent,
}

var actionLabels = map[string]model.ActionKind{
	"block ip":         model.ActionBlockAddress,
	"send email alert": model.ActionSendAlert,
	"execute script":   model.ActionRunScript,
	"log event":        model.ActionLogOnly,
}

type priorityValue int

func (p *priorityValue) set(s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, ok := priorityNames[s]; ok {
		*p = priorityValue(n)
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid priority %q", s)
	}
	*p = priorityValue(n)
	return nil
}

func (p *priorityValue) UnmarshalYAML(value *yaml.Node) error {
	return p.set(value.Value)
}

func (p *priorityValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return p.set(s)
	}
	return p.set(string(data))
}

type rawCondition struct {
	Type     string `yaml:"type" json:"type" validate:"required"`
	Level    string `yaml:"level" json:"level"`
	Address  string `yaml:"ip_cidr" json:"ip_cidr"`
	Contains string `yaml:"contains" json:"contains"`
	Attempts *int   `yaml:"attempts" json:"attempts"`
	Window   *int   `yaml:"window" json:"window"`
}

type rawAction struct {
	Type       string `yaml:"type" json:"type" validate:"required"`
	Duration   *int   `yaml:"duration" json:"duration"`
	Recipient  string `yaml:"recipient" json:"recipient"`
	Subject    string `yaml:"subject" json:"subject"`
	ScriptPath string `yaml:"script_path" json:"script_path"`
}

type rawRule struct {
	ID        int            `yaml:"id" json:"id" validate:"gt=0"`
	Name      string         `yaml:"name" json:"name" validate:"required,max=128"`
	Priority  *priorityValue `yaml:"priority" json:"priority"`
	Enabled   *bool          `yaml:"enabled" json:"enabled"`
	Condition rawCondition   `yaml:"condition" json:"condition"`
	Action    rawAction      `yaml:"action" json:"action"`
}

type ruleFile struct {
	Rules []rawRule `yaml:"rules" json:"rules"`
}

// RuleError describes one rejected rule.
type RuleError struct {
	Index int
	ID    int
	Name  string
	Err   error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule #%d (id=%d, name=%q): %v", e.Index, e.ID, e.Name, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// FileStore reads rules from a YAML or JSON file on every call, so edits are
// picked up by the next reload.
type FileStore struct {
	path     string
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewFileStore(path string, logger *logrus.Logger) *FileStore {
	return &FileStore{
		path:     path,
		validate: validator.New(),
		logger:   logger,
	}
}

func (s *FileStore) Path() string {
	return s.path
}

// ListEnabledRules returns the valid, enabled rules. Invalid rules are logged and skipped.
func (s *FileStore) ListEnabledRules() ([]model.Rule, error) {
	rules, problems, err := s.Load()
	if err != nil {
		return nil, err
	}
	for _, p := range problems {
		s.logger.Warnf("Rejected %v", p)
	}

	enabled := make([]model.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	return enabled, nil
}

// Load parses the file and returns every valid rule (enabled or not) along
// with one error per rejected rule. err is set only when the file itself
// cannot be read or decoded.
func (s *FileStore) Load() (rules []model.Rule, problems []error, err error) {
	if s.path == "" {
		return nil, nil, errors.New("rules file path is empty")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file ruleFile
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".json":
		err = json.Unmarshal(data, &file)
	default:
		err = yaml.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse rules file %s: %w", s.path, err)
	}

	seen := make(map[int]bool)
	for i, raw := range file.Rules {
		rule, convErr := s.convert(raw)
		if convErr == nil && seen[raw.ID] {
			convErr = fmt.Errorf("duplicate rule id %d", raw.ID)
		}
		if convErr != nil {
			problems = append(problems, &RuleError{Index: i, ID: raw.ID, Name: raw.Name, Err: convErr})
			continue
		}
		seen[raw.ID] = true
		if _, ok := rule.Condition.(model.SourceAddressCondition); ok && strings.Contains(raw.Condition.Address, "/") {
			s.logger.Warnf("Rule %d uses CIDR %s; source addresses are matched exactly", raw.ID, raw.Condition.Address)
		}
		rules = append(rules, rule)
	}
	return rules, problems, nil
}

func (s *FileStore) convert(raw rawRule) (model.Rule, error) {
	if err := s.validate.Struct(raw); err != nil {
		return model.Rule{}, err
	}

	rule := model.Rule{
		ID:       raw.ID,
		Name:     raw.Name,
		Priority: DefaultPriority,
		Enabled:  true,
	}
	if raw.Priority != nil {
		rule.Priority = int(*raw.Priority)
	}
	if raw.Enabled != nil {
		rule.Enabled = *raw.Enabled
	}

	cond, err := s.convertCondition(raw.Condition)
	if err != nil {
		return model.Rule{}, fmt.Errorf("condition: %w", err)
	}
	action, err := s.convertAction(raw.Action)
	if err != nil {
		return model.Rule{}, fmt.Errorf("action: %w", err)
	}
	rule.Condition = cond
	rule.Action = action
	return rule, nil
}

func (s *FileStore) convertCondition(raw rawCondition) (model.Condition, error) {
	switch conditionKind(raw.Type) {
	case model.ConditionSeverity:
		level := raw.Level
		if level == "" {
			level = model.SeverityCritical.String()
		}
		sev, err := model.ParseSeverity(level)
		if err != nil {
			return nil, err
		}
		return model.SeverityCondition{Min: sev}, nil

	case model.ConditionSourceAddress:
		if err := s.validate.Var(raw.Address, "required,ip|cidr"); err != nil {
			return nil, fmt.Errorf("ip_cidr %q: %w", raw.Address, err)
		}
		return model.SourceAddressCondition{Address: raw.Address}, nil

	case model.ConditionMessageContains:
		text := strings.TrimSpace(raw.Contains)
		if text == "" {
			return nil, errors.New("contains must not be empty")
		}
		return model.MessageContainsCondition{Substring: text}, nil

	case model.ConditionRepeatedEvent:
		attempts, window := DefaultAttempts, DefaultWindowSeconds
		if raw.Attempts != nil {
			attempts = *raw.Attempts
		}
		if raw.Window != nil {
			window = *raw.Window
		}
		if attempts <= 0 || window <= 0 {
			return nil, errors.New("attempts and window must be positive")
		}
		return model.RepeatedEventCondition{
			Attempts: attempts,
			Window:   time.Duration(window) * time.Second,
		}, nil
	}
	return nil, fmt.Errorf("unknown condition type %q", raw.Type)
}

func (s *FileStore) convertAction(raw rawAction) (model.Action, error) {
	switch actionKind(raw.Type) {
	case model.ActionBlockAddress:
		minutes := DefaultBlockMinutes
		if raw.Duration != nil {
			minutes = *raw.Duration
		}
		if minutes <= 0 {
			return nil, errors.New("block duration must be at least one minute")
		}
		return model.BlockAction{Duration: time.Duration(minutes) * time.Minute}, nil

	case model.ActionSendAlert:
		if err := s.validate.Var(raw.Recipient, "required,email"); err != nil {
			return nil, fmt.Errorf("recipient %q: %w", raw.Recipient, err)
		}
		return model.AlertAction{Recipient: raw.Recipient, Subject: raw.Subject}, nil

	case model.ActionRunScript:
		path := strings.TrimSpace(raw.ScriptPath)
		if path == "" {
			return nil, errors.New("script_path must not be empty")
		}
		return model.ScriptAction{Path: path}, nil

	case model.ActionLogOnly:
		return model.LogAction{}, nil
	}
	return nil, fmt.Errorf("unknown action type %q", raw.Type)
}

func conditionKind(s string) model.ConditionKind {
	key := strings.ToLower(strings.TrimSpace(s))
	if k, ok := conditionLabels[key]; ok {
		return k
	}
	return model.ConditionKind(key)
}

func actionKind(s string) model.ActionKind {
	key := strings.ToLower(strings.TrimSpace(s))
	if k, ok := actionLabels[key]; ok {
		return k
	}
	return model.ActionKind(key)
}
