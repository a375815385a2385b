package model

import (
	"fmt"
	"time"
)

// ConditionKind names one of the closed set of rule conditions.
type ConditionKind string

const (
	ConditionSeverity        ConditionKind = "severity_level"
	ConditionSourceAddress   ConditionKind = "source_ip"
	ConditionMessageContains ConditionKind = "message_contains"
	ConditionRepeatedEvent   ConditionKind = "repeated_event"
)

// ActionKind names one of the closed set of rule actions.
type ActionKind string

const (
	ActionBlockAddress ActionKind = "block_ip"
	ActionSendAlert    ActionKind = "send_alert"
	ActionRunScript    ActionKind = "run_script"
	ActionLogOnly      ActionKind = "log_only"
)

// HighImpact reports whether triggering this action stops evaluation of later rules.
func (k ActionKind) HighImpact() bool {
	return k == ActionBlockAddress || k == ActionRunScript
}

// AuditName is the action name written to the audit log.
func (k ActionKind) AuditName() string {
	switch k {
	case ActionBlockAddress:
		return "ACTION_BLOCK_IP"
	case ActionSendAlert:
		return "ACTION_EMAIL_SENT"
	case ActionRunScript:
		return "ACTION_SCRIPT_EXEC"
	case ActionLogOnly:
		return "ACTION_LOG_EVENT"
	}
	return "ACTION_UNKNOWN"
}

// Condition is implemented only by the condition types in this package.
type Condition interface {
	Kind() ConditionKind
	condition()
}

type SeverityCondition struct {
	Min Severity
}

type SourceAddressCondition struct {
	// Address is compared by exact string equality; CIDR notation never matches.
	Address string
}

type MessageContainsCondition struct {
	Substring string
}

type RepeatedEventCondition struct {
	Attempts int
	Window   time.Duration
}

func (SeverityCondition) Kind() ConditionKind        { return ConditionSeverity }
func (SourceAddressCondition) Kind() ConditionKind   { return ConditionSourceAddress }
func (MessageContainsCondition) Kind() ConditionKind { return ConditionMessageContains }
func (RepeatedEventCondition) Kind() ConditionKind   { return ConditionRepeatedEvent }

func (SeverityCondition) condition()        {}
func (SourceAddressCondition) condition()   {}
func (MessageContainsCondition) condition() {}
func (RepeatedEventCondition) condition()   {}

// Action is implemented only by the action types in this package.
type Action interface {
	Kind() ActionKind
	action()
}

type BlockAction struct {
	// Duration is a whole number of minutes.
	Duration time.Duration
}

type AlertAction struct {
	Recipient string
	Subject   string
}

type ScriptAction struct {
	Path string
}

type LogAction struct{}

func (BlockAction) Kind() ActionKind  { return ActionBlockAddress }
func (AlertAction) Kind() ActionKind  { return ActionSendAlert }
func (ScriptAction) Kind() ActionKind { return ActionRunScript }
func (LogAction) Kind() ActionKind    { return ActionLogOnly }

func (BlockAction) action()  {}
func (AlertAction) action()  {}
func (ScriptAction) action() {}
func (LogAction) action()    {}

// Rule is an immutable, validated response rule.
type Rule struct {
	ID        int
	Name      string
	Priority  int
	Enabled   bool
	Condition Condition
	Action    Action
}

func (r Rule) String() string {
	return fmt.Sprintf("rule %d (%s) priority=%d %s -> %s", r.ID, r.Name, r.Priority, r.Condition.Kind(), r.Action.Kind())
}
