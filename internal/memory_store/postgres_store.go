package memory_store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lewisedginton/sentio/internal/memory"
	"github.com/lewisedginton/sentio/pkg/logger"
)

// PostgresStore persists memory records as JSONB documents: one row per user
// in memory_records plus an append-only interaction_logs table. Appends are
// plain inserts, so concurrent appends for the same user cannot lose entries.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// NewPostgresStore creates a store over an existing connection pool. Run
// migrations before first use (see RunMigrations).
func NewPostgresStore(pool *pgxpool.Pool, log logger.Logger) *PostgresStore {
	if pool == nil {
		panic("pgx pool cannot be nil")
	}
	if log == nil {
		panic("logger cannot be nil")
	}
	return &PostgresStore{pool: pool, log: log}
}

// Get loads the record row and its interaction log.
func (s *PostgresStore) Get(ctx context.Context, userID string) (*memory.MemoryRecord, error) {
	if userID == "" {
		return nil, &memory.ValidationError{Field: "user_id", Reason: "cannot be empty"}
	}

	row := s.pool.QueryRow(ctx, `
		SELECT version, created_at, updated_at, profile, semantic, action_state, strategic
		FROM memory_records
		WHERE user_id = $1`, userID)

	record := memory.MemoryRecord{UserID: userID}
	var profile, semantic, actionState, strategic []byte
	err := row.Scan(&record.Version, &record.CreatedAt, &record.UpdatedAt,
		&profile, &semantic, &actionState, &strategic)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, s.wrapInfra("get", err)
	}

	if err := unmarshalSections(&record, profile, semantic, actionState, strategic); err != nil {
		return nil, err
	}

	if memory.Migrate(&record) {
		s.log.Info("Migrated memory record schema",
			logger.UserField(userID),
			logger.StringField("version", record.Version))
	}

	episodic, err := s.recentInteractions(ctx, userID, DefaultListLimit)
	if err != nil {
		return nil, err
	}
	record.Episodic = episodic

	if err := record.Validate(); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert writes the snapshot sections, stamping updated_at.
func (s *PostgresStore) Upsert(ctx context.Context, record *memory.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	profile, semantic, actionState, strategic, err := marshalSections(record)
	if err != nil {
		return err
	}

	updatedAt := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO memory_records (user_id, version, created_at, updated_at, profile, semantic, action_state, strategic)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at,
			profile = EXCLUDED.profile,
			semantic = EXCLUDED.semantic,
			action_state = EXCLUDED.action_state,
			strategic = EXCLUDED.strategic`,
		record.UserID, record.Version, record.CreatedAt, updatedAt,
		profile, semantic, actionState, strategic)
	if err != nil {
		return s.wrapInfra("upsert", err)
	}

	record.UpdatedAt = updatedAt
	return nil
}

// AppendInteraction inserts one immutable log row.
func (s *PostgresStore) AppendInteraction(ctx context.Context, userID string, entry memory.InteractionLog) error {
	if userID == "" {
		return &memory.ValidationError{Field: "user_id", Reason: "cannot be empty"}
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags for %s: %w", userID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO interaction_logs
			(log_id, user_id, ts, direction, summary, tags, model_version,
			 reasoning_snapshot, prompt_tokens, completion_tokens, cost_usd,
			 send_failed, failure_stage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.LogID, userID, entry.Timestamp, string(entry.Direction), entry.Summary,
		tags, entry.ModelVersion, entry.ReasoningSnapshot,
		entry.PromptTokens, entry.CompletionTokens, entry.CostUSD,
		entry.SendFailed, entry.FailureStage)
	if err != nil {
		return s.wrapInfra("append_interaction", err)
	}
	return nil
}

// ListInteractions returns entries newest-last, restartable from opts.Since.
func (s *PostgresStore) ListInteractions(ctx context.Context, userID string, opts ListOptions) ([]memory.InteractionLog, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT log_id, ts, direction, summary, tags, model_version,
		       reasoning_snapshot, prompt_tokens, completion_tokens, cost_usd,
		       send_failed, failure_stage
		FROM interaction_logs
		WHERE user_id = $1 AND ts > $2
		ORDER BY ts ASC
		LIMIT $3`, userID, opts.Since, limit)
	if err != nil {
		return nil, s.wrapInfra("list_interactions", err)
	}
	return s.collectInteractions(rows)
}

// recentInteractions returns the newest limit entries, newest-last. Selection
// is by descending timestamp so a long history yields the recent window, then
// reversed back into chronological order.
func (s *PostgresStore) recentInteractions(ctx context.Context, userID string, limit int) ([]memory.InteractionLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT log_id, ts, direction, summary, tags, model_version,
		       reasoning_snapshot, prompt_tokens, completion_tokens, cost_usd,
		       send_failed, failure_stage
		FROM interaction_logs
		WHERE user_id = $1
		ORDER BY ts DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, s.wrapInfra("recent_interactions", err)
	}

	entries, err := s.collectInteractions(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// collectInteractions scans interaction_logs rows, closing the row set.
func (s *PostgresStore) collectInteractions(rows pgx.Rows) ([]memory.InteractionLog, error) {
	defer rows.Close()

	var entries []memory.InteractionLog
	for rows.Next() {
		var entry memory.InteractionLog
		var direction string
		var tags []byte
		err := rows.Scan(&entry.LogID, &entry.Timestamp, &direction, &entry.Summary,
			&tags, &entry.ModelVersion, &entry.ReasoningSnapshot,
			&entry.PromptTokens, &entry.CompletionTokens, &entry.CostUSD,
			&entry.SendFailed, &entry.FailureStage)
		if err != nil {
			return nil, s.wrapInfra("scan_interactions", err)
		}
		entry.Direction = memory.Direction(direction)
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &entry.Tags); err != nil {
				return nil, &memory.ValidationError{Field: "episodic", Reason: fmt.Sprintf("corrupt tags: %v", err)}
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapInfra("scan_interactions", err)
	}
	return entries, nil
}

// Stats aggregates interaction counts in one query.
func (s *PostgresStore) Stats(ctx context.Context, userID string) (*UserStats, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT count(*), coalesce(min(ts), 'epoch'::timestamptz), coalesce(max(ts), 'epoch'::timestamptz)
		FROM interaction_logs
		WHERE user_id = $1`, userID)

	stats := &UserStats{UserID: userID}
	var first, last time.Time
	if err := row.Scan(&stats.TotalInteractions, &first, &last); err != nil {
		return nil, s.wrapInfra("stats", err)
	}
	if stats.TotalInteractions > 0 {
		stats.FirstInteractionAt = first
		stats.LastInteractionAt = last
	}
	return stats, nil
}

// Delete removes the record row and the interaction log in one transaction.
func (s *PostgresStore) Delete(ctx context.Context, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return s.wrapInfra("delete", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM interaction_logs WHERE user_id = $1`, userID); err != nil {
		return s.wrapInfra("delete", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM memory_records WHERE user_id = $1`, userID); err != nil {
		return s.wrapInfra("delete", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return s.wrapInfra("delete", err)
	}

	s.log.Info("Erased memory record", logger.UserField(userID))
	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &UnavailableError{Op: "ping", Err: err}
	}
	return nil
}

// wrapInfra classifies a database failure as infrastructure, preserving the
// pg error for callers that want the SQLSTATE.
func (s *PostgresStore) wrapInfra(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		s.log.Error("Postgres operation failed",
			logger.StringField("op", op),
			logger.StringField("sqlstate", pgErr.Code))
	}
	return &UnavailableError{Op: op, Err: err}
}

func marshalSections(record *memory.MemoryRecord) (profile, semantic, actionState, strategic []byte, err error) {
	if profile, err = json.Marshal(&record.Profile); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal profile: %w", err)
	}
	if semantic, err = json.Marshal(&record.Semantic); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal semantic: %w", err)
	}
	if actionState, err = json.Marshal(&record.ActionState); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal action_state: %w", err)
	}
	if strategic, err = json.Marshal(&record.Strategic); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal strategic: %w", err)
	}
	return profile, semantic, actionState, strategic, nil
}

func unmarshalSections(record *memory.MemoryRecord, profile, semantic, actionState, strategic []byte) error {
	if err := json.Unmarshal(profile, &record.Profile); err != nil {
		return &memory.ValidationError{Field: "profile", Reason: fmt.Sprintf("corrupt document: %v", err)}
	}
	if err := json.Unmarshal(semantic, &record.Semantic); err != nil {
		return &memory.ValidationError{Field: "semantic", Reason: fmt.Sprintf("corrupt document: %v", err)}
	}
	if err := json.Unmarshal(actionState, &record.ActionState); err != nil {
		return &memory.ValidationError{Field: "action_state", Reason: fmt.Sprintf("corrupt document: %v", err)}
	}
	if err := json.Unmarshal(strategic, &record.Strategic); err != nil {
		return &memory.ValidationError{Field: "strategic", Reason: fmt.Sprintf("corrupt document: %v", err)}
	}
	return nil
}
