package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avcb/internal/apperr"
	"avcb/internal/db"
	"avcb/internal/migrate"
)

func newSQLStore(t *testing.T) *SQL {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	s := NewSQL(conn, dialect)
	s.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestSQLCreateAssignsIDAndTimestamps(t *testing.T) {
	ctx := context.Background()
	s := newSQLStore(t)

	id, err := s.Create(ctx, TableProcess, Record{"user_id": "u1", "current_status": "cadastro"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := s.Get(ctx, TableProcess, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec["id"])
	assert.Equal(t, "2024-01-01T00:00:00.000000000Z", rec["created_at"])
	assert.Equal(t, "2024-01-01T00:00:00.000000000Z", rec["updated_at"])

	hid, err := s.Create(ctx, TableProcessHistory, Record{"process_id": id, "status": "cadastro"})
	require.NoError(t, err)
	h, err := s.Get(ctx, TableProcessHistory, hid)
	require.NoError(t, err)
	_, stamped := h["updated_at"]
	assert.False(t, stamped, "history entries carry no updated_at")
}

func TestSQLProfileRequiresID(t *testing.T) {
	s := newSQLStore(t)
	_, err := s.Create(context.Background(), TableProfile, Record{"email": "a@b.c"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSQLUpdateMergesAndStamps(t *testing.T) {
	ctx := context.Background()
	s := newSQLStore(t)
	id, err := s.Create(ctx, TableProcessDocument, Record{"process_id": "p1", "status": "rejected", "rejection_reason": "blurry"})
	require.NoError(t, err)

	s.Now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, s.Update(ctx, TableProcessDocument, id, Record{"status": "pending", "rejection_reason": nil, "created_at": "ignored"}))

	rec, err := s.Get(ctx, TableProcessDocument, id)
	require.NoError(t, err)
	assert.Equal(t, "pending", rec["status"])
	assert.Nil(t, rec["rejection_reason"])
	assert.Equal(t, "p1", rec["process_id"])
	assert.Equal(t, "2024-01-01T00:00:00.000000000Z", rec["created_at"])
	assert.Equal(t, "2024-01-02T00:00:00.000000000Z", rec["updated_at"])
}

func TestSQLMissingRecords(t *testing.T) {
	ctx := context.Background()
	s := newSQLStore(t)
	_, err := s.Get(ctx, TableProcess, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, TableProcess, "nope", Record{"a": 1}), ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, TableProcess, "nope"), ErrNotFound)
	_, err = s.Scan(ctx, "processes")
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestSQLScanFilters(t *testing.T) {
	ctx := context.Background()
	s := newSQLStore(t)
	for _, rec := range []Record{
		{"process_id": "p1", "stage": "triagem"},
		{"process_id": "p1", "stage": "vistoria"},
		{"process_id": "p2", "stage": "triagem"},
	} {
		_, err := s.Create(ctx, TableProcessDocument, rec)
		require.NoError(t, err)
	}
	all, err := s.Scan(ctx, TableProcessDocument)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	p1, err := s.Scan(ctx, TableProcessDocument, Filter{Field: "process_id", Value: "p1"})
	require.NoError(t, err)
	assert.Len(t, p1, 2)

	p1Triagem, err := s.Scan(ctx, TableProcessDocument, Filter{Field: "process_id", Value: "p1"}, Filter{Field: "stage", Value: "triagem"})
	require.NoError(t, err)
	require.Len(t, p1Triagem, 1)
	assert.Equal(t, "triagem", p1Triagem[0]["stage"])
}

func TestSQLUniqueProcessNumber(t *testing.T) {
	ctx := context.Background()
	s := newSQLStore(t)
	_, err := s.Create(ctx, TableProcess, Record{"process_number": "2024000001"})
	require.NoError(t, err)
	_, err = s.Create(ctx, TableProcess, Record{"process_number": "2024000001"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestSQLTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newSQLStore(t)
	pid, err := s.Create(ctx, TableProcess, Record{"current_status": "vistoria"})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Tx(ctx, func(tx Store) error {
		if err := tx.Update(ctx, TableProcess, pid, Record{"current_status": "exigencia"}); err != nil {
			return err
		}
		if _, err := tx.Create(ctx, TableProcessHistory, Record{"process_id": pid}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rec, err := s.Get(ctx, TableProcess, pid)
	require.NoError(t, err)
	assert.Equal(t, "vistoria", rec["current_status"])
	hist, err := s.Scan(ctx, TableProcessHistory, Filter{Field: "process_id", Value: pid})
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestTimestampIsFixedWidth(t *testing.T) {
	whole := Timestamp(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC))
	half := Timestamp(time.Date(2024, 1, 1, 0, 0, 1, 500_000_000, time.UTC))
	assert.Equal(t, "2024-01-01T00:00:01.000000000Z", whole)
	assert.Equal(t, "2024-01-01T00:00:01.500000000Z", half)
	assert.Len(t, half, len(whole))
	assert.Less(t, whole, half)
}

func TestSQLScanOrdersWithinOneSecond(t *testing.T) {
	ctx := context.Background()
	s := newSQLStore(t)
	clock := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 1, 500_000_000, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 1, 900_000_000, time.UTC),
	}
	var ids []string
	for i, at := range clock {
		s.Now = func() time.Time { return at }
		id, err := s.Create(ctx, TableProcessHistory, Record{"process_id": "p1", "status": "triagem", "step": i})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	recs, err := s.Scan(ctx, TableProcessHistory, Filter{Field: "process_id", Value: "p1"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, ids[i], rec["id"])
	}

	shuffled := []Record{recs[2], recs[0], recs[1]}
	SortByCreated(shuffled)
	for i, rec := range shuffled {
		assert.Equal(t, ids[i], rec["id"])
	}
}
