package dialogrt

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// OnLimitReachedPolicy enumerates the flow_management.on_limit_reached
// values from §6.
type OnLimitReachedPolicy string

const (
	OnLimitCancelOldest OnLimitReachedPolicy = "cancel_oldest"
	OnLimitRejectNew    OnLimitReachedPolicy = "reject_new"
	OnLimitAskUser      OnLimitReachedPolicy = "ask_user"
)

// OnMaxRetriesPolicy enumerates conversation_patterns.confirmation's
// on_max_retries values.
type OnMaxRetriesPolicy string

const (
	OnMaxRetriesCancel OnMaxRetriesPolicy = "cancel"
)

// FlowManagementConfig is the §6 flow_management section.
type FlowManagementConfig struct {
	MaxStackDepth   int                   `mapstructure:"max_stack_depth"`
	OnLimitReached  OnLimitReachedPolicy  `mapstructure:"on_limit_reached"`
	AbandonTimeout  time.Duration         `mapstructure:"abandon_timeout"`
}

// MemoryManagementConfig is the §6 memory_management section.
type MemoryManagementConfig struct {
	MaxHistoryMessages         int `mapstructure:"max_history_messages"`
	MaxTraceEvents             int `mapstructure:"max_trace_events"`
	ArchiveCompletedFlowsAfter int `mapstructure:"archive_completed_flows_after"`
	MaxCommandLog              int `mapstructure:"max_command_log"`
}

// CorrectionPatternConfig is conversation_patterns.correction.
type CorrectionPatternConfig struct {
	Enabled               bool `mapstructure:"enabled"`
	RevalidateDependents  bool `mapstructure:"revalidate_dependents"`
}

// ClarificationPatternConfig is conversation_patterns.clarification.
type ClarificationPatternConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	MaxDepth int    `mapstructure:"max_depth"`
	Fallback string `mapstructure:"fallback"`
}

// CancellationPatternConfig is conversation_patterns.cancellation.
type CancellationPatternConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	ConfirmBeforeCancel bool `mapstructure:"confirm_before_cancel"`
}

// HumanHandoffPatternConfig is conversation_patterns.human_handoff.
type HumanHandoffPatternConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	TriggerConditions []string `mapstructure:"trigger_conditions"`
	Action           string   `mapstructure:"action"`
}

// ConfirmationPatternConfig is conversation_patterns.confirmation.
type ConfirmationPatternConfig struct {
	Enabled      bool               `mapstructure:"enabled"`
	MaxRetries   int                `mapstructure:"max_retries"`
	OnMaxRetries OnMaxRetriesPolicy `mapstructure:"on_max_retries"`
}

// ConversationPatternsConfig bundles the five pattern sections.
type ConversationPatternsConfig struct {
	Correction    CorrectionPatternConfig    `mapstructure:"correction"`
	Clarification ClarificationPatternConfig `mapstructure:"clarification"`
	Cancellation  CancellationPatternConfig  `mapstructure:"cancellation"`
	HumanHandoff  HumanHandoffPatternConfig  `mapstructure:"human_handoff"`
	Confirmation  ConfirmationPatternConfig  `mapstructure:"confirmation"`
}

// SessionConfig is the §6 session section.
type SessionConfig struct {
	MessageTimeout time.Duration `mapstructure:"message_timeout"`
	ActionTimeout  time.Duration `mapstructure:"action_timeout"`
}

// Config is the closed configuration set of §6, loaded via viper with both
// env var and file overrides applying, plus a functional-options constructor
// retained below for in-process wiring that never touches a file.
type Config struct {
	FlowManagement      FlowManagementConfig        `mapstructure:"flow_management"`
	MemoryManagement    MemoryManagementConfig      `mapstructure:"memory_management"`
	ConversationPatterns ConversationPatternsConfig `mapstructure:"conversation_patterns"`
	Session             SessionConfig               `mapstructure:"session"`
	StateSizeBudgetBytes int                        `mapstructure:"state_size_budget_bytes"`
}

// DefaultConfig returns the §6-documented defaults.
func DefaultConfig() *Config {
	return &Config{
		FlowManagement: FlowManagementConfig{
			MaxStackDepth:  3,
			OnLimitReached: OnLimitCancelOldest,
			AbandonTimeout: 3600 * time.Second,
		},
		MemoryManagement: MemoryManagementConfig{
			MaxHistoryMessages:         50,
			MaxTraceEvents:             100,
			ArchiveCompletedFlowsAfter: 10,
			MaxCommandLog:              100,
		},
		ConversationPatterns: ConversationPatternsConfig{
			Correction:    CorrectionPatternConfig{Enabled: true, RevalidateDependents: true},
			Clarification: ClarificationPatternConfig{Enabled: true, MaxDepth: 3, Fallback: "human_handoff"},
			Cancellation:  CancellationPatternConfig{Enabled: true, ConfirmBeforeCancel: false},
			HumanHandoff: HumanHandoffPatternConfig{
				Enabled:           true,
				TriggerConditions: []string{"clarification_depth>3", "validation_failures>5", "explicit_request"},
				Action:            "handoff_to_agent",
			},
			Confirmation: ConfirmationPatternConfig{Enabled: true, MaxRetries: 3, OnMaxRetries: OnMaxRetriesCancel},
		},
		Session: SessionConfig{
			MessageTimeout: 30 * time.Second,
			ActionTimeout:  10 * time.Second,
		},
		StateSizeBudgetBytes: 1 << 20,
	}
}

// ConfigOption is a functional option over Config for in-process wiring
// that never touches a file.
type ConfigOption func(*Config)

// WithMaxStackDepth overrides flow_management.max_stack_depth.
func WithMaxStackDepth(n int) ConfigOption {
	return func(c *Config) { c.FlowManagement.MaxStackDepth = n }
}

// WithOnLimitReached overrides flow_management.on_limit_reached.
func WithOnLimitReached(p OnLimitReachedPolicy) ConfigOption {
	return func(c *Config) { c.FlowManagement.OnLimitReached = p }
}

// WithMessageTimeout overrides session.message_timeout.
func WithMessageTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.Session.MessageTimeout = d }
}

// WithActionTimeout overrides session.action_timeout.
func WithActionTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.Session.ActionTimeout = d }
}

// NewConfig builds a Config from defaults plus functional options, for
// in-process wiring with no file on disk.
func NewConfig(opts ...ConfigOption) *Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadConfig reads a Config from path (YAML/JSON/TOML, auto-detected by
// extension) via viper, falling back to env vars prefixed DIALOGRT_, and
// finally to DefaultConfig for anything unset.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIALOGRT")
	v.AutomaticEnv()

	cfg := DefaultConfig()
	bindDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigurationError{Reference: path, Reason: fmt.Sprintf("reading config: %v", err)}
		}
	}

	out := DefaultConfig()
	if err := v.Unmarshal(out); err != nil {
		return nil, &ConfigurationError{Reference: path, Reason: fmt.Sprintf("unmarshalling config: %v", err)}
	}
	return out, nil
}

func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("flow_management.max_stack_depth", cfg.FlowManagement.MaxStackDepth)
	v.SetDefault("flow_management.on_limit_reached", string(cfg.FlowManagement.OnLimitReached))
	v.SetDefault("flow_management.abandon_timeout", cfg.FlowManagement.AbandonTimeout)
	v.SetDefault("memory_management.max_history_messages", cfg.MemoryManagement.MaxHistoryMessages)
	v.SetDefault("memory_management.max_trace_events", cfg.MemoryManagement.MaxTraceEvents)
	v.SetDefault("memory_management.archive_completed_flows_after", cfg.MemoryManagement.ArchiveCompletedFlowsAfter)
	v.SetDefault("memory_management.max_command_log", cfg.MemoryManagement.MaxCommandLog)
	v.SetDefault("session.message_timeout", cfg.Session.MessageTimeout)
	v.SetDefault("session.action_timeout", cfg.Session.ActionTimeout)
	v.SetDefault("state_size_budget_bytes", cfg.StateSizeBudgetBytes)
}

// PruneLimits derives the DialogueState prune bounds from this config.
func (c *Config) PruneLimits() PruneLimits {
	return PruneLimits{
		MaxHistoryMessages:         c.MemoryManagement.MaxHistoryMessages,
		MaxTraceEvents:             c.MemoryManagement.MaxTraceEvents,
		MaxCommandLog:              c.MemoryManagement.MaxCommandLog,
		ArchiveCompletedFlowsAfter: c.MemoryManagement.ArchiveCompletedFlowsAfter,
		MaxQueuedMessages:          5,
	}
}
