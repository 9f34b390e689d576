package audit

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulndash/vulndash/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New("error", "text")
}

// fakeRow implements pgx.Row (just Scan) over a single inserted record.
type fakeRow struct {
	hash string
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.hash
	return nil
}

// fakeRows implements pgx.Rows over an in-memory, pre-sorted slice of
// inserted audit entries.
type fakeRows struct {
	rows [][]any
	idx  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                               { return nil }

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	for i, d := range dest {
		switch v := d.(type) {
		case *uuid.UUID:
			*v = row[i].(uuid.UUID)
		case *time.Time:
			*v = row[i].(time.Time)
		case *string:
			*v = row[i].(string)
		case *[]byte:
			*v = row[i].([]byte)
		}
	}
	return nil
}

type fakeStore struct {
	inserted [][]any
}

func (s *fakeStore) Exec(ctx context.Context, sql string, args ...any) error {
	row := make([]any, len(args))
	copy(row, args)
	s.inserted = append(s.inserted, row)
	return nil
}

func (s *fakeStore) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if len(s.inserted) == 0 {
		return fakeRow{err: pgx.ErrNoRows}
	}
	sorted := append([][]any{}, s.inserted...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i][1].(time.Time).After(sorted[j][1].(time.Time))
	})
	return fakeRow{hash: sorted[0][12].(string)}
}

func (s *fakeStore) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows := make([][]any, 0, len(s.inserted))
	for _, r := range s.inserted {
		// id, ts, actor_type, actor_id, actor_ip, action, category,
		// resource_type, resource_id, changes, status, error_message,
		// entry_hash, previous_hash
		rows = append(rows, []any{
			r[0], r[1], string(r[2].(ActorType)), r[3].(string), r[4].(string),
			r[5].(string), string(r[6].(ActionCategory)), r[7].(string), r[8].(string),
			r[9].([]byte), string(r[10].(Status)), r[11].(string), r[12].(string), r[13].(string),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i][1].(time.Time).After(rows[j][1].(time.Time))
	})
	return &fakeRows{rows: rows}, nil
}

func TestLogger_LogChainsHashes(t *testing.T) {
	store := &fakeStore{}
	l := NewLogger(store, testLogger())

	require.NoError(t, l.Log(context.Background(), Entry{
		ActorType: ActorTypeUser, ActorID: "alice", Action: ActionSourceUpsert,
		Category: ActionCategoryUpdate, ResourceType: "source_config", ResourceID: "nvd-primary",
		Status: StatusSuccess,
	}))
	require.NoError(t, l.Log(context.Background(), Entry{
		ActorType: ActorTypeUser, ActorID: "alice", Action: ActionSMTPConfigUpdate,
		Category: ActionCategoryUpdate, ResourceType: "smtp_config", ResourceID: "singleton",
		Status: StatusSuccess,
	}))

	require.Len(t, store.inserted, 2)
	firstHash := store.inserted[0][12].(string)
	secondPrevHash := store.inserted[1][13].(string)
	assert.Equal(t, firstHash, secondPrevHash)
	assert.Empty(t, store.inserted[0][13].(string))
}

func TestLogger_QueryFiltersByActor(t *testing.T) {
	store := &fakeStore{}
	l := NewLogger(store, testLogger())

	require.NoError(t, l.Log(context.Background(), Entry{
		ActorType: ActorTypeUser, ActorID: "alice", Action: ActionSourceUpsert,
		Category: ActionCategoryUpdate, ResourceType: "source_config", ResourceID: "nvd-primary",
		Status: StatusSuccess,
	}))
	require.NoError(t, l.Log(context.Background(), Entry{
		ActorType: ActorTypeUser, ActorID: "bob", Action: ActionReviewItemApprove,
		Category: ActionCategoryUpdate, ResourceType: "review_queue_item", ResourceID: "item-1",
		Status: StatusSuccess,
	}))

	rows, err := l.Query(context.Background(), QueryFilters{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "bob", rows[0].ActorID)
}

func TestVerifyChain_DetectsBreak(t *testing.T) {
	rows := []LogRow{
		{ID: uuid.New(), Timestamp: time.Now(), EntryHash: "h2", PreviousHash: "h1"},
		{ID: uuid.New(), Timestamp: time.Now().Add(-time.Minute), EntryHash: "h1", PreviousHash: ""},
	}
	ok, broken := VerifyChain(rows)
	assert.True(t, ok)
	assert.Equal(t, uuid.Nil, broken)

	rows[0].PreviousHash = "tampered"
	ok, broken = VerifyChain(rows)
	assert.False(t, ok)
	assert.Equal(t, rows[0].ID, broken)
}

func TestLogger_LogWithNoPriorEntries(t *testing.T) {
	store := &fakeStore{}
	l := NewLogger(store, testLogger())
	err := l.Log(context.Background(), Entry{
		ActorType: ActorTypeSystem, ActorID: "system", Action: ActionCatalogSyncTrigger,
		Category: ActionCategoryExecute, ResourceType: "catalog_sync", Status: StatusSuccess,
	})
	require.NoError(t, err)
	require.Len(t, store.inserted, 1)
	assert.Empty(t, store.inserted[0][13].(string))
}
