package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avcb/internal/apperr"
	"avcb/internal/db"
	"avcb/internal/domain"
	"avcb/internal/migrate"
	"avcb/internal/store"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	s := store.NewSQL(conn, dialect)
	s.Now = now
	return Repo{Store: s, Now: now}
}

func TestProcessRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	p, err := r.InsertProcess(ctx, domain.Process{
		ProcessNumber: "2024000123",
		UserID:        "u1",
		CompanyName:   "Padaria Central",
		CNAESecondary: []string{"4721-1/02"},
		CurrentStatus: domain.StageCadastro,
	})
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)

	got, err := r.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ProcessNumber, got.ProcessNumber)
	assert.Equal(t, []string{"4721-1/02"}, got.CNAESecondary)
	assert.Equal(t, domain.StageCadastro, got.CurrentStatus)

	byNumber, err := r.FindProcessByNumber(ctx, "2024000123")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byNumber.ID)

	_, err = r.FindProcessByNumber(ctx, "2024999999")
	assert.True(t, IsNotFound(err))

	err = r.UpdateProcess(ctx, p.ID, store.Record{"process_number": "other"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestListProcessesByUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	first, err := r.InsertProcess(ctx, domain.Process{ProcessNumber: "1", UserID: "u1"})
	require.NoError(t, err)
	second, err := r.InsertProcess(ctx, domain.Process{ProcessNumber: "2", UserID: "u1"})
	require.NoError(t, err)
	_, err = r.InsertProcess(ctx, domain.Process{ProcessNumber: "3", UserID: "u2"})
	require.NoError(t, err)

	mine, err := r.ListProcessesByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Equal(t, first.ID, mine[1].ID)

	all, err := r.ListProcesses(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestHistoryOrderedOldestFirst(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	for _, s := range []domain.Stage{domain.StageCadastro, domain.StageTriagem, domain.StageVistoria} {
		_, err := r.InsertHistory(ctx, domain.ProcessHistory{ProcessID: "p1", Status: s, StepStatus: domain.StepCompleted})
		require.NoError(t, err)
	}
	items, err := r.ListHistoryByProcess(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, domain.StageCadastro, items[0].Status)
	assert.Equal(t, domain.StageVistoria, items[2].Status)
}

func TestDocumentDefaultsToCadastro(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	d, err := r.InsertDocument(ctx, domain.ProcessDocument{ProcessID: "p1", DocumentName: "Planta", Status: domain.StepPending})
	require.NoError(t, err)
	got, err := r.GetDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageCadastro, got.Stage)
	assert.Nil(t, got.RejectionReason)
}

func TestRolesAndProfiles(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	_, err := r.UpsertProfile(ctx, domain.Profile{ID: "u1", FullName: "Ana", Email: "ana@example.com"})
	require.NoError(t, err)
	_, err = r.UpsertProfile(ctx, domain.Profile{ID: "u1", FullName: "Ana Souza", Email: "ana@example.com"})
	require.NoError(t, err)
	prof, err := r.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", prof.FullName)

	admin, err := r.IsAdmin(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, admin)

	require.NoError(t, r.AssignRole(ctx, "u1", "admin"))
	require.NoError(t, r.AssignRole(ctx, "u1", "admin"))
	roles, err := r.ListUserRoles(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, roles, 1)
	admin, err = r.IsAdmin(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, admin)

	require.NoError(t, r.RevokeRole(ctx, "u1", "admin"))
	admin, err = r.IsAdmin(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, admin)

	assert.ErrorIs(t, r.AssignRole(ctx, "u1", "root"), apperr.ErrValidation)
}

func TestCredentialsUniquePerEmail(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	_, err := r.InsertCredential(ctx, domain.Credential{UserID: "u1", Email: " Ana@Example.com ", PasswordHash: "h"})
	require.NoError(t, err)
	c, err := r.GetCredentialByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", c.UserID)

	_, err = r.InsertCredential(ctx, domain.Credential{UserID: "u2", Email: "ana@example.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}
