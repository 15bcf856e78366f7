package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// initSchema creates every table and index the data model needs if it doesn't
// already exist. It applies no column migrations: a table that already exists
// is left as it is, and any statement error is returned.
func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			working_dir TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			description TEXT DEFAULT '',
			model_name TEXT DEFAULT '',
			temperature REAL DEFAULT 0.7,
			max_output_tokens INTEGER DEFAULT 0,
			capabilities TEXT DEFAULT '[]',
			skills TEXT DEFAULT '[]',
			is_control_hub INTEGER NOT NULL DEFAULT 0,
			is_enabled INTEGER NOT NULL DEFAULT 1,
			disabled_reason TEXT DEFAULT '',
			max_concurrency INTEGER DEFAULT 1,
			command TEXT NOT NULL,
			argv TEXT DEFAULT '[]',
			available_models TEXT DEFAULT '[]',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (workspace_id) REFERENCES workspaces(id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_one_control_hub
			ON agents(workspace_id) WHERE is_control_hub = 1`,
		`CREATE INDEX IF NOT EXISTS idx_agents_workspace_id ON agents(workspace_id)`,

		`CREATE TABLE IF NOT EXISTS discovered_agents (
			registry_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			command TEXT NOT NULL,
			available INTEGER NOT NULL DEFAULT 0,
			version TEXT DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS acp_sessions (
			external_session_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			protocol_session_id TEXT DEFAULT '',
			state TEXT NOT NULL DEFAULT 'new',
			created_at TIMESTAMP NOT NULL,
			last_used_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_acp_sessions_agent_id ON acp_sessions(agent_id)`,

		`CREATE TABLE IF NOT EXISTS task_runs (
			id TEXT PRIMARY KEY,
			title TEXT DEFAULT '',
			user_prompt TEXT NOT NULL,
			control_hub_agent_id TEXT DEFAULT '',
			workspace_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			plan TEXT,
			summary TEXT,
			tokens_in INTEGER DEFAULT 0,
			tokens_out INTEGER DEFAULT 0,
			cache_read INTEGER DEFAULT 0,
			cache_create INTEGER DEFAULT 0,
			duration_millis INTEGER DEFAULT 0,
			schedule_type TEXT DEFAULT 'none',
			next_run_at TIMESTAMP,
			is_paused INTEGER NOT NULL DEFAULT 0,
			rating INTEGER,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (workspace_id) REFERENCES workspaces(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_runs_workspace_id ON task_runs(workspace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_runs_next_run_at ON task_runs(next_run_at)`,

		`CREATE TABLE IF NOT EXISTS task_assignments (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			agent_name TEXT DEFAULT '',
			sequence_order INTEGER NOT NULL DEFAULT 0,
			depends_on TEXT DEFAULT '[]',
			input_text TEXT DEFAULT '',
			output_text TEXT DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			model TEXT DEFAULT '',
			tokens_in INTEGER DEFAULT 0,
			tokens_out INTEGER DEFAULT 0,
			duration_millis INTEGER DEFAULT 0,
			error_message TEXT DEFAULT '',
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (run_id) REFERENCES task_runs(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_assignments_run_id ON task_assignments(run_id)`,

		`CREATE TABLE IF NOT EXISTS schedules (
			run_id TEXT PRIMARY KEY,
			schedule_type TEXT NOT NULL DEFAULT 'none',
			once_at TIMESTAMP,
			frequency TEXT DEFAULT '',
			time_of_day TEXT DEFAULT '',
			interval INTEGER DEFAULT 1,
			days_of_week TEXT DEFAULT '[]',
			day_of_month INTEGER DEFAULT 0,
			month INTEGER DEFAULT 0,
			next_run_at TIMESTAMP,
			is_paused INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (run_id) REFERENCES task_runs(id)
		)`,

		`CREATE TABLE IF NOT EXISTS chat_tools (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			name TEXT NOT NULL,
			plugin_type TEXT DEFAULT '',
			config_json TEXT DEFAULT '{}',
			linked_agent_id TEXT DEFAULT '',
			status TEXT NOT NULL DEFAULT 'stopped',
			auto_reply_mode TEXT NOT NULL DEFAULT 'none',
			message_count INTEGER DEFAULT 0,
			last_active_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (workspace_id) REFERENCES workspaces(id)
		)`,

		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			chat_tool_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			external_sender_id TEXT DEFAULT '',
			sender_name TEXT DEFAULT '',
			content TEXT DEFAULT '',
			content_type TEXT DEFAULT 'text',
			processed INTEGER NOT NULL DEFAULT 0,
			agent_response TEXT,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (chat_tool_id) REFERENCES chat_tools(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_tool_id ON chat_messages(chat_tool_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_processed ON chat_messages(chat_tool_id, processed)`,

		`CREATE TABLE IF NOT EXISTS contacts (
			chat_tool_id TEXT NOT NULL,
			external_id TEXT NOT NULL,
			display_name TEXT DEFAULT '',
			blocked INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (chat_tool_id, external_id)
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("applying schema statement: %w", err)
		}
	}

	return nil
}
