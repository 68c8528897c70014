package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"interaction-ingest/src/contracts"
)

// dialect holds everything that differs between SQL backends.
type dialect struct {
	name    string
	schema  []string
	q       queries
	timeArg func(t time.Time) any
	// transient reports driver-specific retryable failures.
	transient func(err error) bool
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
}

// queries are the statements with backend-specific syntax.
type queries struct {
	insertConversation    string
	setConversationUser   string
	incrementConversation string
	setConversationStats  string
	insertInteraction     string
	bumpInteractionCount  string
	setSequence           string
	updateInteraction     string
	replaceTotals         string
	insertTask            string
	updateTask            string
	insertMessage         string
}

const (
	conversationColumns = `conversation_key, started_at, ended_at, total_messages, total_tokens, input_tokens,
		output_tokens, cached_tokens, interaction_count, user_profile, user_id, user_email, user_name,
		user_country, user_company, user_language`

	interactionColumns = `interaction_key, conversation_key, sequence, started_at, primary_agent, delegated_agents,
		user_query, user_query_message_key, user_query_at, agent_response, agent_response_message_key,
		agent_response_at, response_state, completed_at, total_messages, num_tool_calls, num_subtasks,
		total_tokens, input_tokens, output_tokens, cached_tokens`

	taskColumns = `task_key, conversation_key, parent_task_key, agent_name, task_type, status, started_at,
		completed_at, total_tokens, input_tokens, output_tokens, cached_tokens, topic, method, is_final`

	messageColumns = `message_key, conversation_key, task_key, interaction_key, parent_task_key, role, agent_name,
		message_type, task_state, content, total_tokens, input_tokens, output_tokens, cached_tokens, model,
		tool_calls, topic, ts, document, key_synthesized`
)

// sqlStore implements Store over database/sql. PostgresStore and SQLiteStore
// embed it with their dialect.
type sqlStore struct {
	db        *sql.DB
	d         dialect
	opTimeout time.Duration
}

// defaultOperationTimeout bounds a single store call.
const defaultOperationTimeout = 10 * time.Second

func (s *sqlStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *sqlStore) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply %s schema: %w", s.d.name, err)
		}
	}
	return nil
}

// wrap annotates err with the failed operation and marks retryable failures.
func (s *sqlStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if transientConnError(err) || (s.d.transient != nil && s.d.transient(err)) {
		err = Unavailable(err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func (s *sqlStore) nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return s.d.timeArg(t)
}

func (s *sqlStore) nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.nullTime(*t)
}

func outcome(res sql.Result) (Outcome, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return AlreadyExists, nil
	}
	return Created, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// UpsertConversation inserts the conversation if absent and fills a missing profile.
func (s *sqlStore) UpsertConversation(ctx context.Context, c *contracts.Conversation) (Outcome, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	started := c.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, s.d.q.insertConversation,
		c.Key, s.d.timeArg(started), jsonArg(c.UserProfile),
		c.User.ID, c.User.Email, c.User.Name, c.User.Country, c.User.Company, c.User.Language,
	)
	if err != nil {
		return 0, s.wrap("upsert conversation", err)
	}
	out, err := outcome(res)
	if err != nil {
		return 0, s.wrap("upsert conversation", err)
	}
	if out == AlreadyExists && len(c.UserProfile) > 0 {
		if _, err := s.db.ExecContext(ctx, s.d.q.setConversationUser,
			c.Key, jsonArg(c.UserProfile),
			c.User.ID, c.User.Email, c.User.Name, c.User.Country, c.User.Company, c.User.Language,
		); err != nil {
			return 0, s.wrap("set conversation profile", err)
		}
	}
	return out, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ClaimTally flips the counted flags in one transaction.
func (s *sqlStore) ClaimTally(ctx context.Context, messageKey, subtaskKey string) (contracts.TallyClaim, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return contracts.TallyClaim{}, s.wrap("begin tally claim", err)
	}
	defer tx.Rollback()

	claim, err := s.claim(ctx, tx, messageKey, subtaskKey)
	if err != nil {
		return contracts.TallyClaim{}, err
	}
	if err := tx.Commit(); err != nil {
		return contracts.TallyClaim{}, s.wrap("commit tally claim", err)
	}
	return claim, nil
}

// ApplyTally claims the message and adds its tally in one transaction.
func (s *sqlStore) ApplyTally(ctx context.Context, t *contracts.Tally) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, s.wrap("begin tally", err)
	}
	defer tx.Rollback()

	claim, err := s.claim(ctx, tx, t.MessageKey, t.SubtaskKey)
	if err != nil {
		return false, err
	}
	if !claim.Message {
		return false, nil
	}

	d := t.Conversation
	if _, err := tx.ExecContext(ctx, s.d.q.incrementConversation,
		t.ConversationKey, d.Messages, d.Tokens.Total, d.Tokens.Input, d.Tokens.Output, d.Tokens.Cached, s.nullTime(d.EndedAt),
	); err != nil {
		return false, s.wrap("increment conversation stats", err)
	}
	if !t.TaskTokens.IsZero() {
		if err := s.updateTask(ctx, tx, t.TaskKey, &contracts.TaskPatch{Tokens: t.TaskTokens}); err != nil {
			return false, err
		}
	}
	if t.InteractionKey != "" {
		p := &contracts.InteractionPatch{Messages: t.Messages, ToolCalls: t.ToolCalls, Tokens: t.Tokens}
		if claim.Subtask {
			p.Subtasks = 1
		}
		if err := s.updateInteraction(ctx, tx, t.InteractionKey, p); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, s.wrap("commit tally", err)
	}
	return true, nil
}

func (s *sqlStore) claim(ctx context.Context, ex execer, messageKey, subtaskKey string) (contracts.TallyClaim, error) {
	var c contracts.TallyClaim
	res, err := ex.ExecContext(ctx,
		`UPDATE messages SET counted = TRUE WHERE message_key = `+s.d.placeholder(1)+` AND NOT counted`, messageKey)
	if err != nil {
		return c, s.wrap("claim message", err)
	}
	if c.Message, err = flipped(res); err != nil {
		return c, s.wrap("claim message", err)
	}
	if !c.Message || subtaskKey == "" {
		return c, nil
	}

	res, err = ex.ExecContext(ctx,
		`UPDATE tasks SET subtask_counted = TRUE WHERE task_key = `+s.d.placeholder(1)+` AND NOT subtask_counted`, subtaskKey)
	if err != nil {
		return c, s.wrap("claim subtask", err)
	}
	c.Subtask, err = flipped(res)
	return c, s.wrap("claim subtask", err)
}

func flipped(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetConversationStats overwrites the counters.
func (s *sqlStore) SetConversationStats(ctx context.Context, key string, st contracts.ConversationStats) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.d.q.setConversationStats,
		key, st.TotalMessages, st.Tokens.Total, st.Tokens.Input, st.Tokens.Output, st.Tokens.Cached, s.nullTime(st.EndedAt),
	)
	return s.wrap("set conversation stats", err)
}

// GetConversation loads one conversation.
func (s *sqlStore) GetConversation(ctx context.Context, key string) (*contracts.Conversation, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE conversation_key = `+s.d.placeholder(1), key)

	var c contracts.Conversation
	var started, ended sql.NullString
	var profile sql.NullString
	err := row.Scan(&c.Key, &started, &ended, &c.TotalMessages, &c.Tokens.Total, &c.Tokens.Input,
		&c.Tokens.Output, &c.Tokens.Cached, &c.InteractionCount, &profile, &c.User.ID, &c.User.Email,
		&c.User.Name, &c.User.Country, &c.User.Company, &c.User.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, s.wrap("get conversation", err)
	}
	c.StartedAt = parseTime(started)
	c.EndedAt = parseTime(ended)
	if profile.Valid && profile.String != "" {
		c.UserProfile = json.RawMessage(profile.String)
	}
	return &c, nil
}

// InsertInteractionIfAbsent inserts the interaction and, when created,
// takes the next sequence number from the conversation in the same transaction.
func (s *sqlStore) InsertInteractionIfAbsent(ctx context.Context, in *contracts.Interaction) (Outcome, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.wrap("begin interaction insert", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.d.q.insertInteraction,
		in.Key, in.ConversationKey, s.d.timeArg(in.StartedAt), in.PrimaryAgent,
	)
	if err != nil {
		return 0, s.wrap("insert interaction", err)
	}
	out, err := outcome(res)
	if err != nil {
		return 0, s.wrap("insert interaction", err)
	}
	if out == AlreadyExists {
		return AlreadyExists, nil
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, s.d.q.bumpInteractionCount, in.ConversationKey).Scan(&seq); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, s.wrap("allocate interaction sequence", err)
		}
	}
	if seq > 0 {
		if _, err := tx.ExecContext(ctx, s.d.q.setSequence, in.Key, seq); err != nil {
			return 0, s.wrap("set interaction sequence", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, s.wrap("commit interaction insert", err)
	}
	return Created, nil
}

// UpdateInteraction applies the patch in one UPDATE statement.
func (s *sqlStore) UpdateInteraction(ctx context.Context, key string, p *contracts.InteractionPatch) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.updateInteraction(ctx, s.db, key, p)
}

func (s *sqlStore) updateInteraction(ctx context.Context, ex execer, key string, p *contracts.InteractionPatch) error {
	var setQuery, setResponse bool
	var query, response contracts.MessageRef
	if p.Query != nil {
		setQuery, query = true, *p.Query
	}
	if p.Response != nil {
		setResponse, response = true, *p.Response
	}
	_, err := ex.ExecContext(ctx, s.d.q.updateInteraction,
		key,
		p.Messages, p.ToolCalls, p.Subtasks,
		p.Tokens.Total, p.Tokens.Input, p.Tokens.Output, p.Tokens.Cached,
		s.nullTime(p.StartedAt),
		p.PrimaryAgent,
		p.DelegatedAgent,
		setQuery, query.Text, query.MessageKey, s.nullTime(query.At),
		setResponse, response.Text, response.MessageKey, s.nullTime(response.At),
	)
	return s.wrap("update interaction", err)
}

// ReplaceInteractionTotals overwrites recomputed counters.
func (s *sqlStore) ReplaceInteractionTotals(ctx context.Context, key string, t contracts.InteractionTotals) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	agents := t.DelegatedAgents
	if agents == nil {
		agents = []string{}
	}
	encoded, err := json.Marshal(agents)
	if err != nil {
		return fmt.Errorf("failed to marshal delegated agents: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.d.q.replaceTotals,
		key, t.TotalMessages, t.NumToolCalls, t.NumSubtasks,
		t.Tokens.Total, t.Tokens.Input, t.Tokens.Output, t.Tokens.Cached, string(encoded),
	)
	return s.wrap("replace interaction totals", err)
}

// GetInteraction loads one interaction.
func (s *sqlStore) GetInteraction(ctx context.Context, key string) (*contracts.Interaction, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE interaction_key = `+s.d.placeholder(1), key)
	if err != nil {
		return nil, s.wrap("get interaction", err)
	}
	out, err := scanInteractions(rows)
	if err != nil {
		return nil, s.wrap("get interaction", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("interaction %s: %w", key, ErrNotFound)
	}
	return &out[0], nil
}

// ListInteractions returns the interactions of a conversation by sequence.
func (s *sqlStore) ListInteractions(ctx context.Context, conversationKey string) ([]contracts.Interaction, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE conversation_key = `+s.d.placeholder(1)+
			` ORDER BY sequence, started_at`, conversationKey)
	if err != nil {
		return nil, s.wrap("list interactions", err)
	}
	out, err := scanInteractions(rows)
	return out, s.wrap("list interactions", err)
}

func scanInteractions(rows *sql.Rows) ([]contracts.Interaction, error) {
	defer rows.Close()

	var out []contracts.Interaction
	for rows.Next() {
		var in contracts.Interaction
		var started, queryAt, responseAt, completedAt sql.NullString
		var agents string
		var state string
		if err := rows.Scan(&in.Key, &in.ConversationKey, &in.Sequence, &started, &in.PrimaryAgent, &agents,
			&in.UserQuery, &in.UserQueryMessageKey, &queryAt, &in.AgentResponse, &in.AgentResponseMessageKey,
			&responseAt, &state, &completedAt, &in.TotalMessages, &in.NumToolCalls, &in.NumSubtasks,
			&in.Tokens.Total, &in.Tokens.Input, &in.Tokens.Output, &in.Tokens.Cached); err != nil {
			return nil, err
		}
		in.StartedAt = parseTime(started)
		in.UserQueryAt = parseTimePtr(queryAt)
		in.AgentResponseAt = parseTimePtr(responseAt)
		in.CompletedAt = parseTimePtr(completedAt)
		in.ResponseState = contracts.ResponseState(state)
		in.DelegatedAgents = []string{}
		if agents != "" {
			if err := json.Unmarshal([]byte(agents), &in.DelegatedAgents); err != nil {
				return nil, fmt.Errorf("failed to unmarshal delegated agents: %w", err)
			}
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// FindMostRecentInteraction returns the latest interaction started at or before atOrBefore.
func (s *sqlStore) FindMostRecentInteraction(ctx context.Context, conversationKey string, atOrBefore time.Time) (string, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT interaction_key FROM interactions
		WHERE conversation_key = `+s.d.placeholder(1)+` AND started_at <= `+s.d.placeholder(2)+`
		ORDER BY started_at DESC, sequence DESC LIMIT 1`,
		conversationKey, s.d.timeArg(atOrBefore),
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.wrap("find most recent interaction", err)
	}
	return key, true, nil
}

// InsertTaskIfAbsent creates the task if absent.
func (s *sqlStore) InsertTaskIfAbsent(ctx context.Context, t *contracts.Task) (Outcome, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.d.q.insertTask,
		t.Key, t.ConversationKey, t.ParentTaskKey, t.AgentName, string(t.Type), string(t.Status),
		s.d.timeArg(t.StartedAt), s.nullTimePtr(t.CompletedAt),
		t.Tokens.Total, t.Tokens.Input, t.Tokens.Output, t.Tokens.Cached,
		t.Topic, t.Method, t.IsFinal,
	)
	if err != nil {
		return 0, s.wrap("insert task", err)
	}
	out, err := outcome(res)
	return out, s.wrap("insert task", err)
}

// UpdateTask merges the patch into the task.
func (s *sqlStore) UpdateTask(ctx context.Context, key string, p *contracts.TaskPatch) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.updateTask(ctx, s.db, key, p)
}

func (s *sqlStore) updateTask(ctx context.Context, ex execer, key string, p *contracts.TaskPatch) error {
	_, err := ex.ExecContext(ctx, s.d.q.updateTask,
		key, p.AgentName, string(p.Status), s.nullTime(p.At), p.Final,
		p.Tokens.Total, p.Tokens.Input, p.Tokens.Output, p.Tokens.Cached,
	)
	return s.wrap("update task", err)
}

// GetTask loads one task.
func (s *sqlStore) GetTask(ctx context.Context, key string) (*contracts.Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_key = `+s.d.placeholder(1), key)
	if err != nil {
		return nil, s.wrap("get task", err)
	}
	out, err := scanTasks(rows)
	if err != nil {
		return nil, s.wrap("get task", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("task %s: %w", key, ErrNotFound)
	}
	return &out[0], nil
}

// ListSubtasks returns the tasks delegated by parentTaskKey by start time.
func (s *sqlStore) ListSubtasks(ctx context.Context, parentTaskKey string) ([]contracts.Task, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE parent_task_key = `+s.d.placeholder(1)+
			` ORDER BY started_at, task_key`, parentTaskKey)
	if err != nil {
		return nil, s.wrap("list subtasks", err)
	}
	out, err := scanTasks(rows)
	return out, s.wrap("list subtasks", err)
}

func scanTasks(rows *sql.Rows) ([]contracts.Task, error) {
	defer rows.Close()

	var out []contracts.Task
	for rows.Next() {
		var t contracts.Task
		var taskType, status string
		var started, completed sql.NullString
		if err := rows.Scan(&t.Key, &t.ConversationKey, &t.ParentTaskKey, &t.AgentName, &taskType, &status,
			&started, &completed, &t.Tokens.Total, &t.Tokens.Input, &t.Tokens.Output, &t.Tokens.Cached,
			&t.Topic, &t.Method, &t.IsFinal); err != nil {
			return nil, err
		}
		t.Type = contracts.TaskType(taskType)
		t.Status = contracts.TaskState(status)
		t.StartedAt = parseTime(started)
		t.CompletedAt = parseTimePtr(completed)
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertMessageIfAbsent stores the message unless its key is already present.
func (s *sqlStore) InsertMessageIfAbsent(ctx context.Context, m *contracts.Message) (Outcome, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	calls := m.ToolCalls
	if calls == nil {
		calls = []contracts.ToolCall{}
	}
	encodedCalls, err := json.Marshal(calls)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tool calls: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.d.q.insertMessage,
		m.Key, m.ConversationKey, m.TaskKey, nullString(m.InteractionKey), m.ParentTaskKey,
		string(m.Role), m.AgentName, m.MessageType, string(m.TaskState), m.Content,
		m.Tokens.Total, m.Tokens.Input, m.Tokens.Output, m.Tokens.Cached, m.Model,
		string(encodedCalls), m.Topic, s.d.timeArg(m.Timestamp), jsonArg(m.Document), m.KeySynthesized,
	)
	if err != nil {
		return 0, s.wrap("insert message", err)
	}
	out, err := outcome(res)
	return out, s.wrap("insert message", err)
}

// ListMessages returns matching messages ordered by timestamp.
func (s *sqlStore) ListMessages(ctx context.Context, f contracts.MessageFilter) ([]contracts.Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var where []string
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, column+" = "+s.d.placeholder(len(args)))
	}
	add("conversation_key", f.ConversationKey)
	add("interaction_key", f.InteractionKey)
	add("task_key", f.TaskKey)

	query := `SELECT ` + messageColumns + ` FROM messages`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY ts, message_key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("list messages", err)
	}
	defer rows.Close()

	var out []contracts.Message
	for rows.Next() {
		var m contracts.Message
		var interactionKey, document, ts sql.NullString
		var role, state, calls string
		if err := rows.Scan(&m.Key, &m.ConversationKey, &m.TaskKey, &interactionKey, &m.ParentTaskKey,
			&role, &m.AgentName, &m.MessageType, &state, &m.Content,
			&m.Tokens.Total, &m.Tokens.Input, &m.Tokens.Output, &m.Tokens.Cached, &m.Model,
			&calls, &m.Topic, &ts, &document, &m.KeySynthesized); err != nil {
			return nil, s.wrap("scan message", err)
		}
		m.InteractionKey = interactionKey.String
		m.Role = contracts.Role(role)
		m.TaskState = contracts.TaskState(state)
		m.Timestamp = parseTime(ts)
		if document.Valid && document.String != "" {
			m.Document = json.RawMessage(document.String)
		}
		if calls != "" {
			if err := json.Unmarshal([]byte(calls), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("iterate messages", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	t, _ := contracts.ParseTimestamp(ns.String)
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	t := parseTime(ns)
	if t.IsZero() {
		return nil
	}
	return &t
}
