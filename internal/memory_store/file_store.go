package memory_store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/lewisedginton/sentio/internal/memory"
	"github.com/lewisedginton/sentio/internal/storage_manager"
	"github.com/lewisedginton/sentio/pkg/logger"
)

// FileStore persists one snapshot JSON plus one JSON-lines interaction log
// per user through a FileProvider (local disk or S3). Snapshot writes are
// atomic; appends for the same user are serialized by a per-user lock.
type FileStore struct {
	provider    storage_manager.FileProvider
	userLocks   map[string]*sync.Mutex
	userLockMux sync.Mutex
	log         logger.Logger
}

// FileStoreConfig holds configuration for the file store.
type FileStoreConfig struct {
	Provider storage_manager.FileProvider
	Logger   logger.Logger
}

// NewFileStore creates a new file-backed store.
func NewFileStore(cfg FileStoreConfig) *FileStore {
	if cfg.Provider == nil {
		panic("file provider cannot be nil")
	}
	if cfg.Logger == nil {
		panic("logger cannot be nil")
	}

	return &FileStore{
		provider:  cfg.Provider,
		userLocks: make(map[string]*sync.Mutex),
		log:       cfg.Logger,
	}
}

// Get loads the snapshot and merges in the episodic log.
func (s *FileStore) Get(ctx context.Context, userID string) (*memory.MemoryRecord, error) {
	if userID == "" {
		return nil, &memory.ValidationError{Field: "user_id", Reason: "cannot be empty"}
	}

	data, err := s.provider.Read(ctx, s.recordPath(userID))
	if err != nil {
		if isNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &UnavailableError{Op: "get", Err: err}
	}

	var record memory.MemoryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &memory.ValidationError{Field: "record", Reason: fmt.Sprintf("corrupt snapshot: %v", err)}
	}

	if memory.Migrate(&record) {
		s.log.Info("Migrated memory record schema",
			logger.UserField(userID),
			logger.StringField("version", record.Version))
	}

	episodic, err := s.readInteractions(ctx, userID)
	if err != nil {
		return nil, err
	}
	// The episodic view favors recent history: keep the tail of the log.
	if len(episodic) > DefaultListLimit {
		episodic = episodic[len(episodic)-DefaultListLimit:]
	}
	record.Episodic = episodic

	if err := record.Validate(); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert writes the snapshot sections atomically. The episodic log is
// deliberately excluded so re-saving an unchanged record cannot duplicate
// entries.
func (s *FileStore) Upsert(ctx context.Context, record *memory.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	lock := s.getUserLock(record.UserID)
	lock.Lock()
	defer lock.Unlock()

	snapshot := *record
	snapshot.Episodic = nil
	snapshot.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(&snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record for %s: %w", record.UserID, err)
	}

	if err := s.provider.Write(ctx, s.recordPath(record.UserID), data); err != nil {
		return &UnavailableError{Op: "upsert", Err: err}
	}

	record.UpdatedAt = snapshot.UpdatedAt
	return nil
}

// AppendInteraction appends one JSON line to the user's interaction log.
func (s *FileStore) AppendInteraction(ctx context.Context, userID string, entry memory.InteractionLog) error {
	if userID == "" {
		return &memory.ValidationError{Field: "user_id", Reason: "cannot be empty"}
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	line, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to marshal interaction for %s: %w", userID, err)
	}
	line = append(line, '\n')

	lock := s.getUserLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.provider.Append(ctx, s.interactionsPath(userID), line); err != nil {
		return &UnavailableError{Op: "append_interaction", Err: err}
	}

	s.log.Debug("Appended interaction",
		logger.UserField(userID),
		logger.StringField("log_id", entry.LogID),
		logger.StringField("direction", string(entry.Direction)))
	return nil
}

// ListInteractions returns entries newest-last, filtered and bounded by opts.
func (s *FileStore) ListInteractions(ctx context.Context, userID string, opts ListOptions) ([]memory.InteractionLog, error) {
	entries, err := s.readInteractions(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	result := make([]memory.InteractionLog, 0, limit)
	for _, entry := range entries {
		if !opts.Since.IsZero() && !entry.Timestamp.After(opts.Since) {
			continue
		}
		result = append(result, entry)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Stats reports interaction totals for a user.
func (s *FileStore) Stats(ctx context.Context, userID string) (*UserStats, error) {
	entries, err := s.readInteractions(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &UserStats{
		UserID:            userID,
		TotalInteractions: int64(len(entries)),
	}
	if len(entries) > 0 {
		stats.FirstInteractionAt = entries[0].Timestamp
		stats.LastInteractionAt = entries[len(entries)-1].Timestamp
	}
	return stats, nil
}

// Delete removes the snapshot and the interaction log. Holding the user lock
// for both removals keeps the erase atomic with respect to other operations
// on this store instance.
func (s *FileStore) Delete(ctx context.Context, userID string) error {
	lock := s.getUserLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.provider.Delete(ctx, s.recordPath(userID)); err != nil {
		return &UnavailableError{Op: "delete", Err: err}
	}
	if err := s.provider.Delete(ctx, s.interactionsPath(userID)); err != nil {
		return &UnavailableError{Op: "delete", Err: err}
	}

	s.log.Info("Erased memory record", logger.UserField(userID))
	return nil
}

// Ping verifies the provider accepts writes.
func (s *FileStore) Ping(ctx context.Context) error {
	probe := fmt.Sprintf("health/probe-%d", time.Now().UnixNano())
	if err := s.provider.Write(ctx, probe, []byte("ok")); err != nil {
		return &UnavailableError{Op: "ping", Err: err}
	}
	if err := s.provider.Delete(ctx, probe); err != nil {
		return &UnavailableError{Op: "ping", Err: err}
	}
	return nil
}

// readInteractions loads and decodes the full JSONL log for a user.
// A missing file means no interactions yet, not an error.
func (s *FileStore) readInteractions(ctx context.Context, userID string) ([]memory.InteractionLog, error) {
	data, err := s.provider.Read(ctx, s.interactionsPath(userID))
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, &UnavailableError{Op: "list_interactions", Err: err}
	}

	var entries []memory.InteractionLog
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry memory.InteractionLog
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, &memory.ValidationError{Field: "episodic", Reason: fmt.Sprintf("corrupt log line: %v", err)}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// getUserLock returns a user-specific lock, creating it if necessary.
func (s *FileStore) getUserLock(userID string) *sync.Mutex {
	s.userLockMux.Lock()
	defer s.userLockMux.Unlock()

	if lock, exists := s.userLocks[userID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.userLocks[userID] = lock
	return lock
}

// recordPath returns the storage path for a user's snapshot.
func (s *FileStore) recordPath(userID string) string {
	return fmt.Sprintf("users/%s/record.json", url.PathEscape(userID))
}

// interactionsPath returns the storage path for a user's interaction log.
func (s *FileStore) interactionsPath(userID string) string {
	return fmt.Sprintf("users/%s/interactions.jsonl", url.PathEscape(userID))
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, storage_manager.ErrObjectNotFound)
}
