package memory_store

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/sentio/internal/memory"
	"github.com/lewisedginton/sentio/pkg/logger"
)

// Backend tests run against a disposable database selected by
// SENTIO_TEST_DATABASE_URL and are skipped when it is unset. Each test uses a
// unique user id so repeated runs do not interfere with each other.
func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("SENTIO_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SENTIO_TEST_DATABASE_URL not set")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	require.NoError(t, RunMigrations(pool, log))
	return NewPostgresStore(pool, log)
}

func postgresTestUser(t *testing.T, store *PostgresStore) string {
	t.Helper()
	userID := fmt.Sprintf("pg-%s@example.com", uuid.NewString())
	t.Cleanup(func() {
		_ = store.Delete(context.Background(), userID)
	})
	return userID
}

func TestPostgresGetUnknownUserReturnsNotFound(t *testing.T) {
	store := newPostgresTestStore(t)
	userID := postgresTestUser(t, store)

	_, err := store.Get(context.Background(), userID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresUpsertGetRoundTrip(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	userID := postgresTestUser(t, store)

	record := memory.NewMemoryRecord(userID)
	record.Profile.Name = "Ada"
	record.Semantic.Preferences = []memory.Preference{{Subject: "jazz", Liked: true, Confidence: 0.9}}
	require.NoError(t, store.Upsert(ctx, record))

	loaded, err := store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", loaded.Profile.Name)
	assert.Equal(t, record.Semantic.Preferences, loaded.Semantic.Preferences)

	// The conflict path: a second upsert updates the existing row.
	loaded.Profile.Name = "Ada Lovelace"
	require.NoError(t, store.Upsert(ctx, loaded))

	again, err := store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", again.Profile.Name)
	assert.False(t, again.UpdatedAt.Before(again.CreatedAt))
}

func TestPostgresUpsertIsIdempotentForEpisodic(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	userID := postgresTestUser(t, store)

	require.NoError(t, store.Upsert(ctx, memory.NewMemoryRecord(userID)))
	require.NoError(t, store.AppendInteraction(ctx, userID, memory.NewInteractionLog(memory.DirectionInbound, "hello")))

	loaded, err := store.Get(ctx, userID)
	require.NoError(t, err)
	require.Len(t, loaded.Episodic, 1)

	require.NoError(t, store.Upsert(ctx, loaded))
	require.NoError(t, store.Upsert(ctx, loaded))

	again, err := store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, again.Episodic, 1)
}

func TestPostgresGetEpisodicKeepsNewestEntries(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	userID := postgresTestUser(t, store)

	require.NoError(t, store.Upsert(ctx, memory.NewMemoryRecord(userID)))

	total := DefaultListLimit + 50
	base := time.Now().UTC().Add(-time.Duration(total) * time.Second)
	for i := 0; i < total; i++ {
		entry := memory.NewInteractionLog(memory.DirectionInbound, fmt.Sprintf("message %d", i))
		entry.Timestamp = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.AppendInteraction(ctx, userID, entry))
	}

	loaded, err := store.Get(ctx, userID)
	require.NoError(t, err)
	require.Len(t, loaded.Episodic, DefaultListLimit)

	// A long history yields the recent window, chronological order kept.
	assert.Equal(t, fmt.Sprintf("message %d", total-DefaultListLimit), loaded.Episodic[0].Summary)
	assert.Equal(t, fmt.Sprintf("message %d", total-1), loaded.Episodic[DefaultListLimit-1].Summary)
}

func TestPostgresListInteractionsSinceAndLimit(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	userID := postgresTestUser(t, store)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		entry := memory.NewInteractionLog(memory.DirectionInbound, fmt.Sprintf("message %d", i))
		entry.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.AppendInteraction(ctx, userID, entry))
	}

	// Exclusive cursor: entries strictly after the second timestamp.
	entries, err := store.ListInteractions(ctx, userID, ListOptions{Since: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "message 2", entries[0].Summary)

	limited, err := store.ListInteractions(ctx, userID, ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "message 0", limited[0].Summary)
}

func TestPostgresStats(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	userID := postgresTestUser(t, store)

	empty, err := store.Stats(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalInteractions)

	first := memory.NewInteractionLog(memory.DirectionInbound, "hello")
	first.Timestamp = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.AppendInteraction(ctx, userID, first))
	require.NoError(t, store.AppendInteraction(ctx, userID, memory.NewInteractionLog(memory.DirectionOutbound, "hi there")))

	stats, err := store.Stats(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalInteractions)
	assert.True(t, stats.FirstInteractionAt.Before(stats.LastInteractionAt))
}

func TestPostgresDeleteErasesEverything(t *testing.T) {
	store := newPostgresTestStore(t)
	ctx := context.Background()
	userID := postgresTestUser(t, store)

	require.NoError(t, store.Upsert(ctx, memory.NewMemoryRecord(userID)))
	require.NoError(t, store.AppendInteraction(ctx, userID, memory.NewInteractionLog(memory.DirectionInbound, "hello")))

	require.NoError(t, store.Delete(ctx, userID))

	_, err := store.Get(ctx, userID)
	require.ErrorIs(t, err, ErrNotFound)

	entries, err := store.ListInteractions(ctx, userID, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPostgresPing(t *testing.T) {
	store := newPostgresTestStore(t)
	require.NoError(t, store.Ping(context.Background()))
}

// The section codec needs no database.

func TestSectionsRoundTrip(t *testing.T) {
	record := memory.NewMemoryRecord("a@x.com")
	record.Profile.Name = "Ada"
	record.Semantic.Habits = []memory.Habit{{Description: "morning runs", Confidence: 0.7}}
	record.Strategic.Strategy.Tone = "direct"

	profile, semantic, actionState, strategic, err := marshalSections(record)
	require.NoError(t, err)

	decoded := memory.MemoryRecord{UserID: record.UserID, Version: record.Version}
	require.NoError(t, unmarshalSections(&decoded, profile, semantic, actionState, strategic))
	assert.Equal(t, record.Profile, decoded.Profile)
	assert.Equal(t, record.Semantic, decoded.Semantic)
	assert.Equal(t, record.Strategic, decoded.Strategic)
}

func TestUnmarshalSectionsRejectsCorruptDocument(t *testing.T) {
	var record memory.MemoryRecord
	err := unmarshalSections(&record, []byte(`{"name":`), []byte(`{}`), []byte(`{}`), []byte(`{}`))
	require.Error(t, err)

	var validationErr *memory.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "profile", validationErr.Field)
}
