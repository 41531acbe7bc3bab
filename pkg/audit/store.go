// Package audit persists the durable conversation trail: every message that
// crosses the bus and the terminal result of every conversation. PostgreSQL
// is the source of truth for history; the Redis stream is a bounded replay
// window on top of it.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/models"
)

// DefaultOpTimeout bounds audit operations that arrive without a deadline.
const DefaultOpTimeout = 10 * time.Second

const pgUniqueViolation = "23505"

// Store reads and writes the audit tables.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// LogMessage appends one message to the audit trail. Message IDs are unique;
// re-logging an existing ID is a Validation error.
func (s *Store) LogMessage(ctx context.Context, m *models.Message) error {
	const op = "audit.log_message"

	metadata, err := marshalMetadata(m.Metadata)
	if err != nil {
		return fault.Wrap(fault.KindValidation, op, err)
	}

	// Detach from the caller: a dropped request must not abort the write,
	// messages are audited before they are published.
	ctx, cancel := detachedContext(ctx)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, content, turn, timestamp, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ConversationID, m.Sender, m.Content, m.Turn, m.Timestamp.UTC(), metadata,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &fault.Error{Kind: fault.KindValidation, Op: op, Message: "message id already logged: " + m.ID}
		}
		return fault.Wrap(fault.KindDependency, op, err)
	}

	slog.Debug("Logged message", "message_id", m.ID, "conversation_id", m.ConversationID)
	return nil
}

// LogResult records the terminal result of a conversation. Each conversation
// completes at most once, so a duplicate is a Validation error.
func (s *Store) LogResult(ctx context.Context, r *models.ConversationResult) error {
	const op = "audit.log_result"

	ctx, cancel := detachedContext(ctx)
	defer cancel()

	var duration sql.NullFloat64
	if r.DurationSeconds != nil {
		duration = sql.NullFloat64{Float64: *r.DurationSeconds, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, prompt, final_answer, total_turns, total_messages, created_at, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ConversationID, r.Prompt, r.FinalAnswer, r.TotalTurns, r.TotalMessages, r.CreatedAt.UTC(), duration,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &fault.Error{Kind: fault.KindValidation, Op: op, Message: "result already logged for conversation " + r.ConversationID}
		}
		return fault.Wrap(fault.KindDependency, op, err)
	}

	slog.Info("Logged conversation result", "conversation_id", r.ConversationID, "total_messages", r.TotalMessages)
	return nil
}

// MessagesFor returns a conversation's messages in chronological order,
// ties broken by turn. limit <= 0 returns everything after offset.
func (s *Store) MessagesFor(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, error) {
	const op = "audit.messages_for"

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	// LIMIT NULL means no limit.
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, content, turn, timestamp, metadata
		FROM messages
		WHERE conversation_id = $1
		ORDER BY timestamp, turn
		LIMIT $2 OFFSET $3`,
		conversationID, lim, offset,
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependency, op, err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fault.Wrap(fault.KindDependency, op, err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.KindDependency, op, err)
	}
	return messages, nil
}

// ResultFor returns the result row for a conversation, or nil if the
// conversation has not completed.
func (s *Store) ResultFor(ctx context.Context, conversationID string) (*models.ConversationResult, error) {
	const op = "audit.result_for"

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, prompt, final_answer, total_turns, total_messages, created_at, duration_seconds
		FROM conversations
		WHERE conversation_id = $1`,
		conversationID,
	)

	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindDependency, op, err)
	}
	return r, nil
}

// RecentResults returns completed conversations, newest first.
func (s *Store) RecentResults(ctx context.Context, limit, offset int) ([]*models.ConversationResult, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryResults(ctx, "audit.recent_results", `
		SELECT conversation_id, prompt, final_answer, total_turns, total_messages, created_at, duration_seconds
		FROM conversations
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
}

// Search returns conversations whose prompt or final answer contains term,
// case-insensitively, newest first. LIKE wildcards in term keep their
// wildcard meaning.
func (s *Store) Search(ctx context.Context, term string, limit, offset int) ([]*models.ConversationResult, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryResults(ctx, "audit.search", `
		SELECT conversation_id, prompt, final_answer, total_turns, total_messages, created_at, duration_seconds
		FROM conversations
		WHERE prompt ILIKE '%' || $1 || '%' OR final_answer ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		term, limit, offset,
	)
}

// Stats returns audit totals plus activity over the trailing 24 hours.
func (s *Store) Stats(ctx context.Context) (*models.AuditStats, error) {
	const op = "audit.stats"

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	since := time.Now().UTC().Add(-24 * time.Hour)

	var stats models.AuditStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM conversations),
			(SELECT count(*) FROM messages),
			(SELECT count(*) FROM conversations WHERE created_at >= $1),
			(SELECT count(*) FROM messages WHERE timestamp >= $1)`,
		since,
	).Scan(&stats.TotalConversations, &stats.TotalMessages, &stats.Conversations24h, &stats.Messages24h)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependency, op, err)
	}
	return &stats, nil
}

// AgentStats returns per-agent message counts across all conversations.
func (s *Store) AgentStats(ctx context.Context) (map[string]int64, error) {
	const op = "audit.agent_stats"

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT sender, count(*)
		FROM messages
		WHERE sender LIKE 'agent\_%'
		GROUP BY sender
		ORDER BY count(*) DESC`,
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependency, op, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var sender string
		var n int64
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, fault.Wrap(fault.KindDependency, op, err)
		}
		counts[sender] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.KindDependency, op, err)
	}
	return counts, nil
}

// Cleanup deletes conversations older than the retention window together
// with their messages. Messages go first so a failure never leaves a result
// row without its trail.
func (s *Store) Cleanup(ctx context.Context, days int) (conversationsDeleted, messagesDeleted int64, err error) {
	const op = "audit.cleanup"

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fault.Wrap(fault.KindDependency, op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM messages
		WHERE conversation_id IN (SELECT conversation_id FROM conversations WHERE created_at < $1)`,
		cutoff,
	)
	if err != nil {
		return 0, 0, fault.Wrap(fault.KindDependency, op, err)
	}
	messagesDeleted, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM conversations WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, 0, fault.Wrap(fault.KindDependency, op, err)
	}
	conversationsDeleted, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fault.Wrap(fault.KindDependency, op, err)
	}

	slog.Info("Cleaned up audit data",
		"conversations_deleted", conversationsDeleted,
		"messages_deleted", messagesDeleted,
		"retention_days", days)
	return conversationsDeleted, messagesDeleted, nil
}

// Export returns conversations from the trailing window, oldest first, each
// with its ordered messages. days <= 0 exports everything.
func (s *Store) Export(ctx context.Context, days int) ([]*models.ConversationExport, error) {
	const op = "audit.export"

	query := `
		SELECT conversation_id, prompt, final_answer, total_turns, total_messages, created_at, duration_seconds
		FROM conversations
		ORDER BY created_at`
	args := []any{}
	if days > 0 {
		query = `
		SELECT conversation_id, prompt, final_answer, total_turns, total_messages, created_at, duration_seconds
		FROM conversations
		WHERE created_at >= $1
		ORDER BY created_at`
		args = append(args, time.Now().UTC().AddDate(0, 0, -days))
	}

	results, err := s.queryResults(ctx, op, query, args...)
	if err != nil {
		return nil, err
	}

	exports := make([]*models.ConversationExport, 0, len(results))
	for _, r := range results {
		messages, err := s.MessagesFor(ctx, r.ConversationID, 0, 0)
		if err != nil {
			return nil, err
		}
		exports = append(exports, &models.ConversationExport{
			ConversationID:  r.ConversationID,
			Prompt:          r.Prompt,
			FinalAnswer:     r.FinalAnswer,
			TotalTurns:      r.TotalTurns,
			TotalMessages:   r.TotalMessages,
			CreatedAt:       r.CreatedAt,
			DurationSeconds: r.DurationSeconds,
			Messages:        messages,
		})
	}
	return exports, nil
}

// Timeline returns a conversation's messages grouped by turn, turns ascending.
func (s *Store) Timeline(ctx context.Context, conversationID string) ([]*models.TurnGroup, error) {
	messages, err := s.MessagesFor(ctx, conversationID, 0, 0)
	if err != nil {
		return nil, err
	}

	byTurn := make(map[int][]*models.Message)
	for _, m := range messages {
		byTurn[m.Turn] = append(byTurn[m.Turn], m)
	}

	turns := make([]int, 0, len(byTurn))
	for turn := range byTurn {
		turns = append(turns, turn)
	}
	sort.Ints(turns)

	groups := make([]*models.TurnGroup, 0, len(turns))
	for _, turn := range turns {
		groups = append(groups, &models.TurnGroup{Turn: turn, Messages: byTurn[turn]})
	}
	return groups, nil
}

func (s *Store) queryResults(ctx context.Context, op, query string, args ...any) ([]*models.ConversationResult, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependency, op, err)
	}
	defer rows.Close()

	var results []*models.ConversationResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fault.Wrap(fault.KindDependency, op, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.KindDependency, op, err)
	}
	return results, nil
}

// opContext applies the default audit deadline when the caller set none.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultOpTimeout)
}

// detachedContext keeps the caller's values but not its cancellation, bounded
// by the default audit deadline.
func detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), DefaultOpTimeout)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (*models.Message, error) {
	var (
		m        models.Message
		ts       time.Time
		metadata []byte
	)
	if err := sc.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Content, &m.Turn, &ts, &metadata); err != nil {
		return nil, err
	}
	m.Timestamp = ts.UTC()
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func scanResult(sc scanner) (*models.ConversationResult, error) {
	var (
		r        models.ConversationResult
		created  time.Time
		duration sql.NullFloat64
	)
	if err := sc.Scan(&r.ConversationID, &r.Prompt, &r.FinalAnswer, &r.TotalTurns, &r.TotalMessages, &created, &duration); err != nil {
		return nil, err
	}
	r.CreatedAt = created.UTC()
	if duration.Valid {
		r.DurationSeconds = &duration.Float64
	}
	return &r, nil
}

func marshalMetadata(metadata map[string]any) (any, error) {
	if metadata == nil {
		return nil, nil
	}
	return json.Marshal(metadata)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
