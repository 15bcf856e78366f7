// Package store persists the Agent Runtime Core's data model in SQLite. Every
// entity in the data model is represented here as a Go struct with db/json
// tags; storage layout details beyond the schema itself are this package's
// concern alone.
package store

import "time"

// Agent is a configured logical assistant.
type Agent struct {
	ID              string    `db:"id" json:"id"`
	WorkspaceID     string    `db:"workspace_id" json:"workspace_id"`
	DisplayName     string    `db:"display_name" json:"display_name"`
	Description     string    `db:"description" json:"description"`
	ModelName       string    `db:"model_name" json:"model_name"`
	Temperature     float64   `db:"temperature" json:"temperature"`
	MaxOutputTokens int       `db:"max_output_tokens" json:"max_output_tokens"`
	Capabilities    TagSet    `db:"capabilities" json:"capabilities"`
	Skills          TagSet    `db:"skills" json:"skills"`
	IsControlHub    bool      `db:"is_control_hub" json:"is_control_hub"`
	IsEnabled       bool      `db:"is_enabled" json:"is_enabled"`
	DisabledReason  string    `db:"disabled_reason" json:"disabled_reason,omitempty"`
	MaxConcurrency  int       `db:"max_concurrency" json:"max_concurrency"`
	Command         string    `db:"command" json:"command"`
	Argv            TagSet    `db:"argv" json:"argv"`
	AvailableModels TagSet    `db:"available_models" json:"available_models,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Workspace scopes agents and chat tools and supplies a default cwd.
type Workspace struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	WorkingDir string    `db:"working_dir" json:"working_dir"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// DiscoveredAgent is one entry in the rebuildable discovered-agents snapshot.
type DiscoveredAgent struct {
	RegistryID  string `db:"registry_id" json:"registry_id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Command     string `db:"command" json:"command"`
	Available   bool   `db:"available" json:"available"`
	Version     string `db:"version" json:"version,omitempty"`
}

// AgentProcessStatus mirrors process.Status but is persisted independently so
// the store doesn't depend on the process package.
type AgentProcessStatus string

const (
	AgentProcessStarting AgentProcessStatus = "starting"
	AgentProcessRunning  AgentProcessStatus = "running"
	AgentProcessStopped  AgentProcessStatus = "stopped"
	AgentProcessError    AgentProcessStatus = "error"
)

// ACPSessionState is the lifecycle state of an ACP Session.
type ACPSessionState string

const (
	ACPSessionNew    ACPSessionState = "new"
	ACPSessionActive ACPSessionState = "active"
	ACPSessionEnded  ACPSessionState = "ended"
)

// ACPSession binds an external session handle to an agent-assigned protocol
// session id.
type ACPSession struct {
	ExternalSessionID string          `db:"external_session_id" json:"external_session_id"`
	AgentID            string          `db:"agent_id" json:"agent_id"`
	ProtocolSessionID  string          `db:"protocol_session_id" json:"protocol_session_id"`
	State              ACPSessionState `db:"state" json:"state"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	LastUsedAt         time.Time       `db:"last_used_at" json:"last_used_at"`
}

// TaskRunStatus enumerates the orchestration state machine's states.
type TaskRunStatus string

const (
	TaskRunPending              TaskRunStatus = "pending"
	TaskRunAnalyzing            TaskRunStatus = "analyzing"
	TaskRunPlanning             TaskRunStatus = "planning"
	TaskRunRunning              TaskRunStatus = "running"
	TaskRunAwaitingConfirmation TaskRunStatus = "awaiting_confirmation"
	TaskRunCompleted            TaskRunStatus = "completed"
	TaskRunFailed               TaskRunStatus = "failed"
	TaskRunCancelled            TaskRunStatus = "cancelled"
)

// TaskRun is one orchestration instance.
type TaskRun struct {
	ID             string        `db:"id" json:"id"`
	Title          string        `db:"title" json:"title"`
	UserPrompt     string        `db:"user_prompt" json:"user_prompt"`
	ControlHubID   string        `db:"control_hub_agent_id" json:"control_hub_agent_id"`
	WorkspaceID    string        `db:"workspace_id" json:"workspace_id"`
	Status         TaskRunStatus `db:"status" json:"status"`
	Plan           *string       `db:"plan" json:"plan,omitempty"`
	Summary        *string       `db:"summary" json:"summary,omitempty"`
	TokensIn       int           `db:"tokens_in" json:"tokens_in"`
	TokensOut      int           `db:"tokens_out" json:"tokens_out"`
	CacheRead      int           `db:"cache_read" json:"cache_read"`
	CacheCreate    int           `db:"cache_create" json:"cache_create"`
	DurationMillis int64         `db:"duration_millis" json:"duration_millis"`
	ScheduleType   string        `db:"schedule_type" json:"schedule_type"`
	NextRunAt      *time.Time    `db:"next_run_at" json:"next_run_at,omitempty"`
	IsPaused       bool          `db:"is_paused" json:"is_paused"`
	Rating         *int          `db:"rating" json:"rating,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// AssignmentStatus enumerates a Task Assignment's lifecycle.
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentRunning   AssignmentStatus = "running"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentFailed    AssignmentStatus = "failed"
	AssignmentSkipped   AssignmentStatus = "skipped"
)

// TaskAssignment is one agent's slice of a Task Run.
type TaskAssignment struct {
	ID             string           `db:"id" json:"id"`
	RunID          string           `db:"run_id" json:"run_id"`
	AgentID        string           `db:"agent_id" json:"agent_id"`
	AgentName      string           `db:"agent_name" json:"agent_name"`
	SequenceOrder  int              `db:"sequence_order" json:"sequence_order"`
	DependsOn      TagSet           `db:"depends_on" json:"depends_on"`
	InputText      string           `db:"input_text" json:"input_text"`
	OutputText     string           `db:"output_text" json:"output_text"`
	Status         AssignmentStatus `db:"status" json:"status"`
	Model          string           `db:"model" json:"model"`
	TokensIn       int              `db:"tokens_in" json:"tokens_in"`
	TokensOut      int              `db:"tokens_out" json:"tokens_out"`
	DurationMillis int64            `db:"duration_millis" json:"duration_millis"`
	ErrorMessage   string           `db:"error_message" json:"error_message,omitempty"`
	StartedAt      *time.Time       `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// RecurrenceFrequency enumerates the supported recurrence frequencies.
type RecurrenceFrequency string

const (
	FrequencyDaily   RecurrenceFrequency = "daily"
	FrequencyWeekly  RecurrenceFrequency = "weekly"
	FrequencyMonthly RecurrenceFrequency = "monthly"
	FrequencyYearly  RecurrenceFrequency = "yearly"
)

// Schedule is the recurrence configuration attached to a Task Run.
type Schedule struct {
	RunID        string              `db:"run_id" json:"run_id"`
	ScheduleType string              `db:"schedule_type" json:"schedule_type"` // none, once, recurring
	OnceAt       *time.Time          `db:"once_at" json:"once_at,omitempty"`
	Frequency    RecurrenceFrequency `db:"frequency" json:"frequency,omitempty"`
	TimeOfDay    string              `db:"time_of_day" json:"time_of_day,omitempty"` // "HH:MM"
	Interval     int                 `db:"interval" json:"interval,omitempty"`
	DaysOfWeek   TagSet              `db:"days_of_week" json:"days_of_week,omitempty"`
	DayOfMonth   int                 `db:"day_of_month" json:"day_of_month,omitempty"`
	Month        int                 `db:"month" json:"month,omitempty"`
	NextRunAt    *time.Time          `db:"next_run_at" json:"next_run_at,omitempty"`
	IsPaused     bool                `db:"is_paused" json:"is_paused"`
}

// ChatToolStatus enumerates a Chat Tool's bridge lifecycle.
type ChatToolStatus string

const (
	ChatToolStopped      ChatToolStatus = "stopped"
	ChatToolStarting     ChatToolStatus = "starting"
	ChatToolLoginRequired ChatToolStatus = "login_required"
	ChatToolRunning      ChatToolStatus = "running"
	ChatToolError        ChatToolStatus = "error"
)

// AutoReplyMode enumerates a Chat Tool's auto-reply policy.
type AutoReplyMode string

const (
	AutoReplyNone AutoReplyMode = "none"
	AutoReplyAll  AutoReplyMode = "all"
)

// ChatTool is a configured bridge to an external messaging network.
type ChatTool struct {
	ID           string        `db:"id" json:"id"`
	WorkspaceID  string        `db:"workspace_id" json:"workspace_id"`
	Name         string        `db:"name" json:"name"`
	PluginType   string        `db:"plugin_type" json:"plugin_type"`
	ConfigJSON   string        `db:"config_json" json:"config_json"`
	LinkedAgentID string       `db:"linked_agent_id" json:"linked_agent_id,omitempty"`
	Status       ChatToolStatus `db:"status" json:"status"`
	AutoReply    AutoReplyMode  `db:"auto_reply_mode" json:"auto_reply_mode"`
	MessageCount int           `db:"message_count" json:"message_count"`
	LastActiveAt *time.Time    `db:"last_active_at" json:"last_active_at,omitempty"`
	CachedQR     string        `db:"-" json:"-"` // volatile, never persisted
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// ChatMessage is an inbound or outbound message on a Chat Tool.
type ChatMessage struct {
	ID             string     `db:"id" json:"id"`
	ChatToolID     string     `db:"chat_tool_id" json:"chat_tool_id"`
	Direction      string     `db:"direction" json:"direction"` // inbound, outbound
	ExternalSenderID string   `db:"external_sender_id" json:"external_sender_id"`
	SenderName     string     `db:"sender_name" json:"sender_name"`
	Content        string     `db:"content" json:"content"`
	ContentType    string     `db:"content_type" json:"content_type"`
	Processed      bool       `db:"processed" json:"processed"`
	AgentResponse  *string    `db:"agent_response" json:"agent_response,omitempty"`
	ErrorMessage   *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Contact is an (external id, display name) pair scoped to a Chat Tool.
type Contact struct {
	ChatToolID  string `db:"chat_tool_id" json:"chat_tool_id"`
	ExternalID  string `db:"external_id" json:"external_id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Blocked     bool   `db:"blocked" json:"blocked"`
}
