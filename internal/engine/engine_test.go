package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avcb/internal/apperr"
	"avcb/internal/config"
	"avcb/internal/db"
	"avcb/internal/domain"
	"avcb/internal/engine"
	"avcb/internal/history"
	"avcb/internal/migrate"
	"avcb/internal/notify"
	"avcb/internal/storage"
	"avcb/internal/store"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (f *fakeNotifier) Dispatch(ctx context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakeNotifier) last(t *testing.T) notify.Notification {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Notifier *fakeNotifier
	FilesDir string
}

var (
	citizen = domain.Actor{ID: "citizen-1", Name: "Ana Souza"}
	admin   = domain.Actor{ID: "admin-1", Name: "Sgt. Lima"}
)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, dialect, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))

	var mu sync.Mutex
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	s := store.NewSQL(conn, dialect)
	s.Now = now

	eng := engine.New(s, config.Default("cbm-test")).WithClock(now)
	n := &fakeNotifier{}
	eng.Notifier = n
	filesDir := filepath.Join(dir, "files")
	eng.Files = storage.Local{Root: filesDir}

	ctx := context.Background()
	require.NoError(t, eng.Repo.AssignRole(ctx, admin.ID, domain.RoleAdmin))
	return testEnv{Engine: eng, Ctx: ctx, Notifier: n, FilesDir: filesDir}
}

func (env testEnv) newProcess(t *testing.T) domain.Process {
	t.Helper()
	p, err := env.Engine.CreateProcess(env.Ctx, engine.CreateProcessInput{
		UserID:       citizen.ID,
		CompanyName:  "Padaria Central LTDA",
		CNPJ:         "11.222.333/0001-81",
		City:         "Campinas",
		State:        "sp",
		ContactName:  "Ana Souza",
		ContactPhone: "+5519999990000",
		ContactEmail: "Ana@Example.com",
		CNAEPrimary:  "1091-1/02",
		BuiltArea:    120,
	})
	require.NoError(t, err)
	return p
}

func (env testEnv) setStage(t *testing.T, id string, stage domain.Stage) {
	t.Helper()
	require.NoError(t, env.Engine.Repo.UpdateProcess(env.Ctx, id, store.Record{"current_status": stage}))
}

func (env testEnv) attach(t *testing.T, processID, name string) domain.ProcessDocument {
	t.Helper()
	d, err := env.Engine.AttachDocument(env.Ctx, engine.AttachDocumentInput{
		ProcessID: processID,
		Name:      name,
		Type:      "planta",
		FileURL:   "https://files.example/" + name + ".pdf",
		Actor:     citizen,
	})
	require.NoError(t, err)
	return d
}

func (env testEnv) process(t *testing.T, id string) domain.Process {
	t.Helper()
	p, err := env.Engine.Repo.GetProcess(env.Ctx, id)
	require.NoError(t, err)
	return p
}

func (env testEnv) document(t *testing.T, id string) domain.ProcessDocument {
	t.Helper()
	d, err := env.Engine.Repo.GetDocument(env.Ctx, id)
	require.NoError(t, err)
	return d
}

func (env testEnv) history(t *testing.T, id string) []domain.ProcessHistory {
	t.Helper()
	h, err := env.Engine.Repo.ListHistoryByProcess(env.Ctx, id)
	require.NoError(t, err)
	return h
}

func (env testEnv) advance(t *testing.T, id string) engine.AdvanceResult {
	t.Helper()
	res, err := env.Engine.AdvanceStage(env.Ctx, engine.AdvanceInput{ProcessID: id, Actor: admin})
	require.NoError(t, err)
	return res
}

func TestCreateProcessDerivesRiskFeeAndNumber(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)

	assert.Regexp(t, regexp.MustCompile(`^2024\d{6}$`), p.ProcessNumber)
	assert.Equal(t, domain.StageCadastro, p.CurrentStatus)
	assert.Equal(t, "11222333000181", p.CNPJ)
	assert.Equal(t, "SP", p.State)
	assert.Equal(t, "ana@example.com", p.ContactEmail)
	assert.Equal(t, "medio", p.RiskCategory)
	assert.InDelta(t, 185.40, p.FeeAmount, 0.001)

	h := env.history(t, p.ID)
	require.Len(t, h, 1)
	assert.Equal(t, history.EventProcessCreated, h[0].Event)
	assert.Equal(t, domain.StepPending, h[0].StepStatus)
	assert.Equal(t, citizen.ID, h[0].ResponsibleID)
}

func TestCreateProcessHighestRiskWins(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProcess(env.Ctx, engine.CreateProcessInput{
		UserID:        citizen.ID,
		CompanyName:   "Posto Avenida",
		CNPJ:          "11444777000161",
		ContactName:   "Bruno",
		CNAEPrimary:   "4729-6/99",
		CNAESecondary: []string{"4731-8/00"},
	})
	require.NoError(t, err)
	assert.Equal(t, "alto", p.RiskCategory)
	assert.InDelta(t, 412.75, p.FeeAmount, 0.001)
}

func TestCreateProcessValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateProcess(env.Ctx, engine.CreateProcessInput{
		UserID:       citizen.ID,
		CompanyName:  "Padaria",
		CNPJ:         "11.222.333/0001-82",
		ContactEmail: "not-an-email",
	})
	require.ErrorIs(t, err, apperr.ErrValidation)
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "cnpj")
	assert.Contains(t, ve.Fields, "contact_name")
	assert.Contains(t, ve.Fields, "contact_email")

	all, err := env.Engine.Repo.ListProcesses(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateProcessRetriesNumberCollision(t *testing.T) {
	env := newTestEnv(t)
	draws := []int{42, 42, 43}
	env.Engine.RandN = func(int) int {
		v := draws[0]
		if len(draws) > 1 {
			draws = draws[1:]
		}
		return v
	}
	first := env.newProcess(t)
	second := env.newProcess(t)
	assert.Equal(t, "2024000042", first.ProcessNumber)
	assert.Equal(t, "2024000043", second.ProcessNumber)

	env.Engine.RandN = func(int) int { return 42 }
	_, err := env.Engine.CreateProcess(env.Ctx, engine.CreateProcessInput{
		UserID: citizen.ID, CompanyName: "X", CNPJ: "11222333000181", ContactName: "Y",
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestAdvanceFromEveryOrderedStage(t *testing.T) {
	for _, stage := range domain.OrderedStages {
		if stage == domain.StageConcluido {
			continue
		}
		t.Run(string(stage)+"/no documents", func(t *testing.T) {
			env := newTestEnv(t)
			p := env.newProcess(t)
			env.setStage(t, p.ID, stage)
			res := env.advance(t, p.ID)
			assert.True(t, res.Advanced)
			assert.Equal(t, engine.NextStage(stage), env.process(t, p.ID).CurrentStatus)
		})
		t.Run(string(stage)+"/all completed", func(t *testing.T) {
			env := newTestEnv(t)
			p := env.newProcess(t)
			env.setStage(t, p.ID, stage)
			d := env.attach(t, p.ID, "laudo")
			_, err := env.Engine.ApproveDocument(env.Ctx, engine.ApproveDocumentInput{DocumentID: d.ID, Actor: admin})
			require.NoError(t, err)
			assert.True(t, env.advance(t, p.ID).Advanced)
			assert.Equal(t, engine.NextStage(stage), env.process(t, p.ID).CurrentStatus)
		})
		for _, blocker := range []domain.StepStatus{domain.StepPending, domain.StepRejected} {
			t.Run(string(stage)+"/"+string(blocker), func(t *testing.T) {
				env := newTestEnv(t)
				p := env.newProcess(t)
				env.setStage(t, p.ID, stage)
				d := env.attach(t, p.ID, "laudo")
				require.NoError(t, env.Engine.Repo.UpdateDocument(env.Ctx, d.ID, store.Record{"status": blocker, "rejection_reason": "x"}))
				before := len(env.history(t, p.ID))

				res := env.advance(t, p.ID)
				assert.False(t, res.Advanced)
				assert.Equal(t, engine.ReasonNotReady, res.Reason)
				assert.Equal(t, stage, env.process(t, p.ID).CurrentStatus)
				assert.Len(t, env.history(t, p.ID), before)
				if blocker == domain.StepPending {
					assert.Equal(t, 1, res.Pending)
				} else {
					assert.Equal(t, 1, res.Rejected)
				}
			})
		}
	}
}

func TestAdvanceRecordsHistoryAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	res, err := env.Engine.AdvanceStage(env.Ctx, engine.AdvanceInput{ProcessID: p.ID, Observation: "Documentação conferida", Actor: admin})
	require.NoError(t, err)
	require.True(t, res.Advanced)

	h := env.history(t, p.ID)
	last := h[len(h)-1]
	assert.Equal(t, history.EventStageAdvanced, last.Event)
	assert.Equal(t, domain.StageTriagem, last.Status)
	assert.Equal(t, domain.StepCompleted, last.StepStatus)
	assert.Equal(t, "Documentação conferida", last.Observations)
	assert.Equal(t, "Sgt. Lima", last.ResponsibleName)

	n := env.Notifier.last(t)
	assert.Equal(t, notify.EventApproved, n.Event)
	assert.Equal(t, "Cadastro", n.CurrentStageLabel)
	assert.Equal(t, "Triagem", n.NextStageLabel)
	assert.Equal(t, "+5519999990000", n.Contact.Phone)
	assert.Equal(t, p.ProcessNumber, n.ProcessNumber)
}

func TestAdvanceConcludedIsNoop(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	env.setStage(t, p.ID, domain.StageConcluido)
	before := len(env.history(t, p.ID))
	sent := len(env.Notifier.sent)

	res := env.advance(t, p.ID)
	assert.False(t, res.Advanced)
	assert.Equal(t, engine.ReasonConcluded, res.Reason)
	assert.Equal(t, domain.StageConcluido, env.process(t, p.ID).CurrentStatus)
	assert.Len(t, env.history(t, p.ID), before)
	assert.Len(t, env.Notifier.sent, sent)
}

func TestRejectAlwaysEntersExigencia(t *testing.T) {
	for _, stage := range domain.OrderedStages {
		t.Run(string(stage), func(t *testing.T) {
			env := newTestEnv(t)
			p := env.newProcess(t)
			d := env.attach(t, p.ID, "laudo")
			env.setStage(t, p.ID, stage)

			got, err := env.Engine.RejectDocument(env.Ctx, engine.RejectDocumentInput{DocumentID: d.ID, Reason: "faltando assinatura", Actor: admin})
			require.NoError(t, err)
			assert.Equal(t, domain.StepRejected, got.Status)

			after := env.process(t, p.ID)
			assert.Equal(t, domain.StageExigencia, after.CurrentStatus)
			assert.Equal(t, stage, after.PriorStage)
			h := env.history(t, p.ID)
			last := h[len(h)-1]
			assert.Equal(t, domain.StepRejected, last.StepStatus)
			assert.Equal(t, stage, last.Status)
		})
	}
}

func TestRejectRequiresReasonBeforeMutation(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	d := env.attach(t, p.ID, "laudo")
	before := len(env.history(t, p.ID))

	_, err := env.Engine.RejectDocument(env.Ctx, engine.RejectDocumentInput{DocumentID: d.ID, Reason: "   ", Actor: admin})
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, domain.StepPending, env.document(t, d.ID).Status)
	assert.Equal(t, domain.StageCadastro, env.process(t, p.ID).CurrentStatus)
	assert.Len(t, env.history(t, p.ID), before)
}

func TestResubmitClearsReason(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	d := env.attach(t, p.ID, "laudo")
	_, err := env.Engine.RejectDocument(env.Ctx, engine.RejectDocumentInput{DocumentID: d.ID, Reason: "ilegível", Actor: admin})
	require.NoError(t, err)

	_, err = env.Engine.ResubmitDocument(env.Ctx, engine.ResubmitDocumentInput{DocumentID: d.ID, FileURL: "https://files.example/laudo-v2.pdf", Justification: "", Actor: citizen})
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, domain.StepRejected, env.document(t, d.ID).Status)

	_, err = env.Engine.ResubmitDocument(env.Ctx, engine.ResubmitDocumentInput{DocumentID: d.ID, Justification: "mesmo arquivo", Actor: citizen})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "file_url")
	got := env.document(t, d.ID)
	assert.Equal(t, domain.StepRejected, got.Status)
	assert.Equal(t, "https://files.example/laudo.pdf", got.FileURL)

	_, err = env.Engine.ResubmitDocument(env.Ctx, engine.ResubmitDocumentInput{DocumentID: d.ID, FileURL: "https://files.example/laudo-v2.pdf", Justification: "nova digitalização", Actor: citizen})
	require.NoError(t, err)
	got = env.document(t, d.ID)
	assert.Equal(t, domain.StepPending, got.Status)
	assert.Nil(t, got.RejectionReason)
	require.NotNil(t, got.CorrectionJustification)
	assert.Equal(t, "nova digitalização", *got.CorrectionJustification)
	assert.NotNil(t, got.ResubmittedAt)
	assert.Equal(t, "https://files.example/laudo-v2.pdf", got.FileURL)

	h := env.history(t, p.ID)
	assert.Equal(t, domain.StepResubmitted, h[len(h)-1].StepStatus)
}

func TestApproveRecordsInProgress(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	d := env.attach(t, p.ID, "laudo")
	got, err := env.Engine.ApproveDocument(env.Ctx, engine.ApproveDocumentInput{DocumentID: d.ID, Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, domain.StepCompleted, got.Status)
	assert.Equal(t, domain.StageCadastro, env.process(t, p.ID).CurrentStatus)

	h := env.history(t, p.ID)
	assert.Equal(t, domain.StepInProgress, h[len(h)-1].StepStatus)
	n := env.Notifier.last(t)
	assert.Equal(t, notify.EventApproved, n.Event)
	assert.Empty(t, n.NextStageLabel)
}

func TestScenarioA(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	require.Equal(t, domain.StageCadastro, p.CurrentStatus)

	res := env.advance(t, p.ID)
	assert.True(t, res.Advanced)
	assert.Equal(t, domain.StageTriagem, env.process(t, p.ID).CurrentStatus)
}

func TestScenarioB(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	env.setStage(t, p.ID, domain.StageTriagem)
	d := env.attach(t, p.ID, "requerimento")
	assert.Equal(t, domain.StageTriagem, d.Stage)

	res := env.advance(t, p.ID)
	assert.False(t, res.Advanced)
	assert.Equal(t, domain.StageTriagem, env.process(t, p.ID).CurrentStatus)

	_, err := env.Engine.ApproveDocument(env.Ctx, engine.ApproveDocumentInput{DocumentID: d.ID, Actor: admin})
	require.NoError(t, err)
	res = env.advance(t, p.ID)
	assert.True(t, res.Advanced)
	assert.Equal(t, domain.StageVistoria, env.process(t, p.ID).CurrentStatus)
}

func TestScenarioC(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	env.setStage(t, p.ID, domain.StageVistoria)
	d := env.attach(t, p.ID, "planta")

	_, err := env.Engine.RejectDocument(env.Ctx, engine.RejectDocumentInput{DocumentID: d.ID, Reason: "incomplete plan", Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, domain.StageExigencia, env.process(t, p.ID).CurrentStatus)
	got := env.document(t, d.ID)
	assert.Equal(t, domain.StepRejected, got.Status)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, "incomplete plan", *got.RejectionReason)
	n := env.Notifier.last(t)
	assert.Equal(t, notify.EventRejected, n.Event)
	assert.Equal(t, "incomplete plan", n.Reason)
	assert.Equal(t, "Vistoria", n.CurrentStageLabel)

	_, err = env.Engine.ResubmitDocument(env.Ctx, engine.ResubmitDocumentInput{DocumentID: d.ID, FileURL: "https://files.example/planta-v2.pdf", Justification: "added missing page", Actor: citizen})
	require.NoError(t, err)
	got = env.document(t, d.ID)
	assert.Equal(t, domain.StepPending, got.Status)
	assert.Nil(t, got.RejectionReason)

	_, err = env.Engine.ApproveDocument(env.Ctx, engine.ApproveDocumentInput{DocumentID: d.ID, Actor: admin})
	require.NoError(t, err)
	res := env.advance(t, p.ID)
	assert.True(t, res.Advanced)
	assert.Equal(t, domain.StageVistoria, res.From)
	after := env.process(t, p.ID)
	assert.Equal(t, domain.StageComissao, after.CurrentStatus)
	assert.Empty(t, after.PriorStage)
}

func TestExigenciaRecoversStageFromHistory(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	env.setStage(t, p.ID, domain.StageVistoria)
	d := env.attach(t, p.ID, "planta")
	_, err := env.Engine.RejectDocument(env.Ctx, engine.RejectDocumentInput{DocumentID: d.ID, Reason: "incomplete plan", Actor: admin})
	require.NoError(t, err)
	// Records written before prior_stage existed carry no prior stage.
	require.NoError(t, env.Engine.Repo.UpdateProcess(env.Ctx, p.ID, store.Record{"prior_stage": nil}))

	r, err := env.Engine.StageReadiness(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageVistoria, r.ActiveStage)
	assert.False(t, r.CanAdvance)

	_, err = env.Engine.RejectDocument(env.Ctx, engine.RejectDocumentInput{DocumentID: d.ID, Reason: "still incomplete", Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, domain.StageVistoria, env.process(t, p.ID).PriorStage)
}

func TestExigenciaUsesNewestOrderedHistoryEntry(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	require.NoError(t, env.Engine.Repo.UpdateProcess(env.Ctx, p.ID, store.Record{"current_status": domain.StageExigencia}))
	r, err := env.Engine.StageReadiness(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageCadastro, r.ActiveStage)

	assert.Equal(t, domain.StageTriagem, engine.ActiveStage(domain.Process{CurrentStatus: domain.StageExigencia}, nil))
}

func TestScenarioD(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	env.setStage(t, p.ID, domain.StageAprovacao)
	env.attach(t, p.ID, "parecer")

	res, err := env.Engine.StampCertificate(env.Ctx, engine.StampInput{ProcessID: p.ID, Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, domain.StageConcluido, res.Process.CurrentStatus)
	assert.Equal(t, domain.StageConcluido, env.process(t, p.ID).CurrentStatus)

	cert := env.document(t, res.Certificate.ID)
	assert.Equal(t, domain.DocumentTypeFinalCertificate, cert.DocumentType)
	assert.Equal(t, domain.StepCompleted, cert.Status)
	assert.Equal(t, domain.StageAprovacao, cert.Stage)
	assert.True(t, cert.AvailableToUser)
	assert.Equal(t, "Sgt. Lima", cert.StampedBy)
	require.NotNil(t, cert.StampedAt)

	require.True(t, strings.HasPrefix(cert.FileURL, "file://"))
	html, err := os.ReadFile(strings.TrimPrefix(cert.FileURL, "file://"))
	require.NoError(t, err)
	assert.Contains(t, string(html), p.ProcessNumber)
	assert.Contains(t, string(html), "11.222.333/0001-81")

	h := env.history(t, p.ID)
	assert.Equal(t, "Certificado final liberado ao requerente", h[len(h)-1].Observations)

	_, err = env.Engine.StampCertificate(env.Ctx, engine.StampInput{ProcessID: p.ID, Actor: admin})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = env.Engine.RejectDocument(env.Ctx, engine.RejectDocumentInput{DocumentID: cert.ID, Reason: "x", Actor: admin})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestStampRequiresAprovacao(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	env.setStage(t, p.ID, domain.StageComissao)
	_, err := env.Engine.StampCertificate(env.Ctx, engine.StampInput{ProcessID: p.ID, FileURL: "https://files.example/avcb.pdf", Actor: admin})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, domain.StageComissao, env.process(t, p.ID).CurrentStatus)
}

func TestAprovacaoAdvancesWithCertificateOrStampPhrase(t *testing.T) {
	t.Run("certificate document", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.newProcess(t)
		env.setStage(t, p.ID, domain.StageAprovacao)
		env.attach(t, p.ID, "parecer")
		_, err := env.Engine.Repo.InsertDocument(env.Ctx, domain.ProcessDocument{
			ProcessID: p.ID, DocumentName: "AVCB", DocumentType: domain.DocumentTypeFinalCertificate,
			Status: domain.StepCompleted, Stage: domain.StageVistoria,
		})
		require.NoError(t, err)
		assert.True(t, env.advance(t, p.ID).Advanced)
		assert.Equal(t, domain.StageConcluido, env.process(t, p.ID).CurrentStatus)
	})
	t.Run("stamp phrase in history", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.newProcess(t)
		env.setStage(t, p.ID, domain.StageAprovacao)
		env.attach(t, p.ID, "parecer")
		assert.False(t, env.advance(t, p.ID).Advanced)

		err := env.Engine.Store.Tx(env.Ctx, func(tx store.Store) error {
			_, err := env.Engine.History.Append(env.Ctx, tx, history.Entry{
				ProcessID: p.ID, Stage: domain.StageAprovacao, StepStatus: domain.StepCompleted,
				Observation: "Carimbo digital aplicado manualmente", Actor: admin,
			})
			return err
		})
		require.NoError(t, err)
		assert.True(t, env.advance(t, p.ID).Advanced)
	})
	t.Run("phrase does not open other stages", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.newProcess(t)
		env.setStage(t, p.ID, domain.StageComissao)
		env.attach(t, p.ID, "parecer")
		_, err := env.Engine.AdvanceStage(env.Ctx, engine.AdvanceInput{ProcessID: p.ID, Observation: "avcb emitido", Actor: admin})
		require.NoError(t, err)
		assert.Equal(t, domain.StageComissao, env.process(t, p.ID).CurrentStatus)
	})
}

func TestStampPhraseInCitizenTextDoesNotOpenAprovacao(t *testing.T) {
	setup := func(t *testing.T) (testEnv, domain.Process, domain.ProcessDocument) {
		env := newTestEnv(t)
		p := env.newProcess(t)
		env.setStage(t, p.ID, domain.StageAprovacao)
		parecer := env.attach(t, p.ID, "parecer")
		require.False(t, env.advance(t, p.ID).Advanced)
		return env, p, parecer
	}
	assertBlocked := func(t *testing.T, env testEnv, p domain.Process, parecer domain.ProcessDocument) {
		t.Helper()
		res := env.advance(t, p.ID)
		assert.False(t, res.Advanced)
		assert.Equal(t, engine.ReasonNotReady, res.Reason)
		assert.Equal(t, domain.StageAprovacao, env.process(t, p.ID).CurrentStatus)
		assert.Equal(t, domain.StepPending, env.document(t, parecer.ID).Status)
		r, err := env.Engine.StageReadiness(env.Ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, r.CanAdvance)
	}

	t.Run("document name", func(t *testing.T) {
		env, p, parecer := setup(t)
		_, err := env.Engine.AttachDocument(env.Ctx, engine.AttachDocumentInput{
			ProcessID: p.ID, Name: "Copia do AVCB emitido em 2019", Type: "outros",
			FileURL: "https://files.example/avcb-2019.pdf", Actor: citizen,
		})
		require.NoError(t, err)
		assertBlocked(t, env, p, parecer)
	})
	t.Run("resubmit justification", func(t *testing.T) {
		env, p, parecer := setup(t)
		_, err := env.Engine.ResubmitDocument(env.Ctx, engine.ResubmitDocumentInput{
			DocumentID: parecer.ID, FileURL: "https://files.example/parecer-v2.pdf",
			Justification: "carimbo digital aplicado no original", Actor: citizen,
		})
		require.NoError(t, err)
		assertBlocked(t, env, p, parecer)
	})
	t.Run("untagged entry by citizen", func(t *testing.T) {
		env, p, parecer := setup(t)
		err := env.Engine.Store.Tx(env.Ctx, func(tx store.Store) error {
			_, err := env.Engine.History.Append(env.Ctx, tx, history.Entry{
				ProcessID: p.ID, Stage: domain.StageAprovacao, StepStatus: domain.StepCompleted,
				Observation: "Certificado final liberado", Actor: citizen,
			})
			return err
		})
		require.NoError(t, err)
		assertBlocked(t, env, p, parecer)
	})
}

func TestDeleteProcess(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	d, err := env.Engine.AttachDocument(env.Ctx, engine.AttachDocumentInput{
		ProcessID: p.ID, Name: "contrato social", Content: []byte("%PDF-1.4"), Filename: "contrato.pdf", Actor: citizen,
	})
	require.NoError(t, err)
	require.FileExists(t, strings.TrimPrefix(d.FileURL, "file://"))

	_, err = env.Engine.DeleteProcess(env.Ctx, engine.DeleteInput{ProcessID: p.ID, ConfirmNumber: p.ProcessNumber, Actor: citizen})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = env.Engine.DeleteProcess(env.Ctx, engine.DeleteInput{ProcessID: p.ID, Confirm: true, ConfirmNumber: "2024000000", Actor: citizen})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = env.Engine.DeleteProcess(env.Ctx, engine.DeleteInput{ProcessID: p.ID, Confirm: true, ConfirmNumber: p.ProcessNumber, Actor: domain.Actor{ID: "citizen-2"}})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	res, err := env.Engine.DeleteProcess(env.Ctx, engine.DeleteInput{ProcessID: p.ID, Confirm: true, ConfirmNumber: p.ProcessNumber, Actor: citizen})
	require.NoError(t, err)
	assert.Equal(t, 1, res.DocumentsRemoved)
	assert.Equal(t, 1, res.FilesRemoved)
	assert.NoFileExists(t, strings.TrimPrefix(d.FileURL, "file://"))

	_, err = env.Engine.Repo.GetProcess(env.Ctx, p.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = env.Engine.Repo.GetDocument(env.Ctx, d.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	h := env.history(t, p.ID)
	assert.Equal(t, history.EventProcessDeleted, h[len(h)-1].Event)
}

func TestDeleteOnlyInEarlyStages(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	env.setStage(t, p.ID, domain.StageTriagem)
	_, err := env.Engine.DeleteProcess(env.Ctx, engine.DeleteInput{ProcessID: p.ID, Confirm: true, ConfirmNumber: p.ProcessNumber, Actor: admin})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	other := env.newProcess(t)
	_, err = env.Engine.DeleteProcess(env.Ctx, engine.DeleteInput{ProcessID: other.ID, Confirm: true, ConfirmNumber: other.ProcessNumber, Actor: admin})
	assert.NoError(t, err)
}

func TestMarkFeePaid(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	got, err := env.Engine.MarkFeePaid(env.Ctx, p.ID, admin)
	require.NoError(t, err)
	assert.True(t, got.FeePaid)
	h := env.history(t, p.ID)
	assert.Equal(t, history.EventFeePaid, h[len(h)-1].Event)

	_, err = env.Engine.MarkFeePaid(env.Ctx, p.ID, admin)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

type failingHistory struct{ store.Store }

func (f failingHistory) Tx(ctx context.Context, fn func(store.Store) error) error {
	return f.Store.Tx(ctx, func(tx store.Store) error { return fn(failingHistoryTx{tx}) })
}

type failingHistoryTx struct{ store.Store }

func (f failingHistoryTx) Create(ctx context.Context, table string, rec store.Record) (string, error) {
	if table == store.TableProcessHistory {
		return "", errors.New("disk full")
	}
	return f.Store.Create(ctx, table, rec)
}

func TestRejectIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	env.setStage(t, p.ID, domain.StageVistoria)
	d := env.attach(t, p.ID, "planta")

	broken := env.Engine
	broken.Store = failingHistory{env.Engine.Store}
	_, err := broken.RejectDocument(env.Ctx, engine.RejectDocumentInput{DocumentID: d.ID, Reason: "incomplete plan", Actor: admin})
	require.Error(t, err)

	assert.Equal(t, domain.StepPending, env.document(t, d.ID).Status)
	assert.Equal(t, domain.StageVistoria, env.process(t, p.ID).CurrentStatus)
}

func TestNotificationFailureIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	env.Notifier.err = errors.New("gateway down")

	res := env.advance(t, p.ID)
	require.True(t, res.Advanced)
	assert.Equal(t, domain.StageTriagem, env.process(t, p.ID).CurrentStatus)

	h := env.history(t, p.ID)
	last := h[len(h)-1]
	assert.Equal(t, history.EventNotificationFailed, last.Event)
	assert.Contains(t, last.Observations, "gateway down")
	assert.Equal(t, history.EventStageAdvanced, h[len(h)-2].Event)

	env.Engine.Config.Notifications.RecordFailures = false
	before := len(h)
	env.advance(t, p.ID)
	assert.Len(t, env.history(t, p.ID), before+1)
}

func TestNotificationTogglesAreHonored(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Notifications.OnAdvance = false
	p := env.newProcess(t)
	env.advance(t, p.ID)
	assert.Empty(t, env.Notifier.sent)
}

func TestCleanupRemovesOrphanedDocuments(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	env.attach(t, p.ID, "planta")
	orphan, err := env.Engine.Repo.InsertDocument(env.Ctx, domain.ProcessDocument{ProcessID: "gone", DocumentName: "x", Status: domain.StepPending})
	require.NoError(t, err)

	n, err := env.Engine.Cleanup(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = env.Engine.Repo.GetDocument(env.Ctx, orphan.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	docs, err := env.Engine.Repo.ListDocumentsByProcess(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestDetailLoadsEverything(t *testing.T) {
	env := newTestEnv(t)
	p := env.newProcess(t)
	env.attach(t, p.ID, "planta")
	d, err := env.Engine.Detail(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, d.Process.ID)
	assert.Len(t, d.Documents, 1)
	assert.Len(t, d.History, 2)
	assert.Equal(t, domain.StageCadastro, d.Readiness.ActiveStage)
	assert.False(t, d.Readiness.CanAdvance)

	_, err = env.Engine.Detail(env.Ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
