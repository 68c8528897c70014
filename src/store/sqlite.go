package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqliteTimeLayout is fixed-width so stored timestamps compare as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a single-file implementation of Store for local and offline use.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{&sqlStore{db: db, d: sqliteDialect, opTimeout: defaultOperationTimeout}}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteTransient(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch sqlErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

var sqliteDialect = dialect{
	name:        "sqlite",
	schema:      sqliteSchema,
	transient:   sqliteTransient,
	placeholder: func(n int) string { return "?" + strconv.Itoa(n) },
	timeArg:     func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
	q: queries{
		insertConversation: `
			INSERT INTO conversations (conversation_key, started_at, ended_at, user_profile,
				user_id, user_email, user_name, user_country, user_company, user_language)
			VALUES (?1, ?2, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9)
			ON CONFLICT (conversation_key) DO NOTHING`,
		setConversationUser: `
			UPDATE conversations
			SET user_profile = ?2, user_id = ?3, user_email = ?4, user_name = ?5,
			    user_country = ?6, user_company = ?7, user_language = ?8, updated_at = CURRENT_TIMESTAMP
			WHERE conversation_key = ?1 AND user_profile IS NULL`,
		incrementConversation: `
			UPDATE conversations
			SET total_messages = total_messages + ?2,
			    total_tokens = total_tokens + ?3,
			    input_tokens = input_tokens + ?4,
			    output_tokens = output_tokens + ?5,
			    cached_tokens = cached_tokens + ?6,
			    ended_at = COALESCE(?7, ended_at),
			    updated_at = CURRENT_TIMESTAMP
			WHERE conversation_key = ?1`,
		setConversationStats: `
			UPDATE conversations
			SET total_messages = ?2, total_tokens = ?3, input_tokens = ?4, output_tokens = ?5,
			    cached_tokens = ?6, ended_at = COALESCE(?7, ended_at), updated_at = CURRENT_TIMESTAMP
			WHERE conversation_key = ?1`,
		insertInteraction: `
			INSERT INTO interactions (interaction_key, conversation_key, started_at, primary_agent, response_state)
			VALUES (?1, ?2, ?3, ?4, 'in_progress')
			ON CONFLICT (interaction_key) DO NOTHING`,
		bumpInteractionCount: `
			UPDATE conversations SET interaction_count = interaction_count + 1
			WHERE conversation_key = ?1
			RETURNING interaction_count`,
		setSequence: `UPDATE interactions SET sequence = ?2 WHERE interaction_key = ?1`,
		updateInteraction: `
			UPDATE interactions SET
			    total_messages = total_messages + ?2,
			    num_tool_calls = num_tool_calls + ?3,
			    num_subtasks = num_subtasks + ?4,
			    total_tokens = total_tokens + ?5,
			    input_tokens = input_tokens + ?6,
			    output_tokens = output_tokens + ?7,
			    cached_tokens = cached_tokens + ?8,
			    started_at = CASE WHEN ?9 IS NOT NULL AND ?9 < started_at THEN ?9 ELSE started_at END,
			    primary_agent = CASE WHEN primary_agent = '' THEN ?10 ELSE primary_agent END,
			    delegated_agents = CASE
			        WHEN ?11 <> ''
			         AND ?11 <> (CASE WHEN primary_agent = '' THEN ?10 ELSE primary_agent END)
			         AND NOT EXISTS (SELECT 1 FROM json_each(interactions.delegated_agents) WHERE value = ?11)
			        THEN json_insert(delegated_agents, '$[#]', ?11)
			        ELSE delegated_agents END,
			    user_query = CASE WHEN ?12 THEN ?13 ELSE user_query END,
			    user_query_message_key = CASE WHEN ?12 THEN ?14 ELSE user_query_message_key END,
			    user_query_at = CASE WHEN ?12 THEN ?15 ELSE user_query_at END,
			    agent_response = CASE WHEN ?16 AND response_state <> 'completed' THEN ?17 ELSE agent_response END,
			    agent_response_message_key = CASE WHEN ?16 AND response_state <> 'completed'
			        THEN ?18 ELSE agent_response_message_key END,
			    agent_response_at = CASE WHEN ?16 AND response_state <> 'completed' THEN ?19 ELSE agent_response_at END,
			    completed_at = CASE WHEN ?16 AND response_state <> 'completed' THEN ?19 ELSE completed_at END,
			    response_state = CASE WHEN ?16 THEN 'completed' ELSE response_state END,
			    updated_at = CURRENT_TIMESTAMP
			WHERE interaction_key = ?1`,
		replaceTotals: `
			UPDATE interactions
			SET total_messages = ?2, num_tool_calls = ?3, num_subtasks = ?4, total_tokens = ?5,
			    input_tokens = ?6, output_tokens = ?7, cached_tokens = ?8, delegated_agents = ?9,
			    updated_at = CURRENT_TIMESTAMP
			WHERE interaction_key = ?1`,
		insertTask: `
			INSERT INTO tasks (` + taskColumns + `)
			VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?13, ?14, ?15)
			ON CONFLICT (task_key) DO NOTHING`,
		updateTask: `
			UPDATE tasks SET
			    agent_name = CASE WHEN agent_name = '' THEN ?2 ELSE agent_name END,
			    completed_at = CASE WHEN status NOT IN ('completed', 'failed') AND ?3 IN ('completed', 'failed')
			        THEN ?4 ELSE completed_at END,
			    status = CASE WHEN status IN ('completed', 'failed') OR ?3 = '' THEN status ELSE ?3 END,
			    is_final = is_final OR ?5,
			    total_tokens = total_tokens + ?6,
			    input_tokens = input_tokens + ?7,
			    output_tokens = output_tokens + ?8,
			    cached_tokens = cached_tokens + ?9,
			    updated_at = CURRENT_TIMESTAMP
			WHERE task_key = ?1`,
		insertMessage: `
			INSERT INTO messages (` + messageColumns + `)
			VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?13, ?14, ?15, ?16, ?17, ?18, ?19, ?20)
			ON CONFLICT (message_key) DO NOTHING`,
	},
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		conversation_key  TEXT PRIMARY KEY,
		started_at        TEXT NOT NULL,
		ended_at          TEXT NOT NULL,
		total_messages    INTEGER NOT NULL DEFAULT 0,
		total_tokens      INTEGER NOT NULL DEFAULT 0,
		input_tokens      INTEGER NOT NULL DEFAULT 0,
		output_tokens     INTEGER NOT NULL DEFAULT 0,
		cached_tokens     INTEGER NOT NULL DEFAULT 0,
		interaction_count INTEGER NOT NULL DEFAULT 0,
		user_profile      TEXT,
		user_id           TEXT NOT NULL DEFAULT '',
		user_email        TEXT NOT NULL DEFAULT '',
		user_name         TEXT NOT NULL DEFAULT '',
		user_country      TEXT NOT NULL DEFAULT '',
		user_company      TEXT NOT NULL DEFAULT '',
		user_language     TEXT NOT NULL DEFAULT '',
		created_at        TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at        TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS interactions (
		interaction_key            TEXT PRIMARY KEY,
		conversation_key           TEXT NOT NULL REFERENCES conversations (conversation_key),
		sequence                   INTEGER NOT NULL DEFAULT 0,
		started_at                 TEXT NOT NULL,
		primary_agent              TEXT NOT NULL DEFAULT '',
		delegated_agents           TEXT NOT NULL DEFAULT '[]',
		user_query                 TEXT NOT NULL DEFAULT '',
		user_query_message_key     TEXT NOT NULL DEFAULT '',
		user_query_at              TEXT,
		agent_response             TEXT NOT NULL DEFAULT '',
		agent_response_message_key TEXT NOT NULL DEFAULT '',
		agent_response_at          TEXT,
		response_state             TEXT NOT NULL DEFAULT 'in_progress',
		completed_at               TEXT,
		total_messages             INTEGER NOT NULL DEFAULT 0,
		num_tool_calls             INTEGER NOT NULL DEFAULT 0,
		num_subtasks               INTEGER NOT NULL DEFAULT 0,
		total_tokens               INTEGER NOT NULL DEFAULT 0,
		input_tokens               INTEGER NOT NULL DEFAULT 0,
		output_tokens              INTEGER NOT NULL DEFAULT 0,
		cached_tokens              INTEGER NOT NULL DEFAULT 0,
		updated_at                 TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_conversation_started
		ON interactions (conversation_key, started_at)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		task_key         TEXT PRIMARY KEY,
		conversation_key TEXT NOT NULL,
		parent_task_key  TEXT NOT NULL DEFAULT '',
		agent_name       TEXT NOT NULL DEFAULT '',
		task_type        TEXT NOT NULL,
		status           TEXT NOT NULL,
		started_at       TEXT NOT NULL,
		completed_at     TEXT,
		total_tokens     INTEGER NOT NULL DEFAULT 0,
		input_tokens     INTEGER NOT NULL DEFAULT 0,
		output_tokens    INTEGER NOT NULL DEFAULT 0,
		cached_tokens    INTEGER NOT NULL DEFAULT 0,
		topic            TEXT NOT NULL DEFAULT '',
		method           TEXT NOT NULL DEFAULT '',
		is_final         INTEGER NOT NULL DEFAULT 0,
		subtask_counted  INTEGER NOT NULL DEFAULT 0,
		updated_at       TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks (parent_task_key)`,
	`CREATE TABLE IF NOT EXISTS messages (
		message_key      TEXT PRIMARY KEY,
		conversation_key TEXT NOT NULL REFERENCES conversations (conversation_key),
		task_key         TEXT NOT NULL,
		interaction_key  TEXT,
		parent_task_key  TEXT NOT NULL DEFAULT '',
		role             TEXT NOT NULL,
		agent_name       TEXT NOT NULL DEFAULT '',
		message_type     TEXT NOT NULL,
		task_state       TEXT NOT NULL,
		content          TEXT NOT NULL DEFAULT '',
		total_tokens     INTEGER NOT NULL DEFAULT 0,
		input_tokens     INTEGER NOT NULL DEFAULT 0,
		output_tokens    INTEGER NOT NULL DEFAULT 0,
		cached_tokens    INTEGER NOT NULL DEFAULT 0,
		model            TEXT NOT NULL DEFAULT '',
		tool_calls       TEXT NOT NULL DEFAULT '[]',
		topic            TEXT NOT NULL DEFAULT '',
		ts               TEXT NOT NULL,
		document         TEXT,
		key_synthesized  INTEGER NOT NULL DEFAULT 0,
		counted          INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_interaction ON messages (interaction_key)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_task ON messages (task_key)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts ON messages (conversation_key, ts)`,
}
