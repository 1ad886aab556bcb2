package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avcb/internal/domain"
	"avcb/internal/history"
)

func docs(statuses ...domain.StepStatus) []domain.ProcessDocument {
	out := make([]domain.ProcessDocument, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, domain.ProcessDocument{Status: s})
	}
	return out
}

func TestClassifyStage(t *testing.T) {
	cases := []struct {
		name string
		in   []domain.ProcessDocument
		want StageClassification
	}{
		{"empty is complete", nil, StageClassification{Complete: true}},
		{"one pending", docs(domain.StepPending), StageClassification{HasPending: true, Pending: 1, Total: 1}},
		{"completed and rejected", docs(domain.StepCompleted, domain.StepRejected), StageClassification{HasRejected: true, Rejected: 1, Total: 2}},
		{"all completed", docs(domain.StepCompleted, domain.StepCompleted), StageClassification{Complete: true, Total: 2}},
		{"in progress blocks", docs(domain.StepCompleted, domain.StepInProgress), StageClassification{Total: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyStage(tc.in))
		})
	}
}

func TestReadyRequiresCompleteWithoutBlockers(t *testing.T) {
	assert.True(t, ClassifyStage(nil).Ready())
	assert.True(t, ClassifyStage(docs(domain.StepCompleted)).Ready())
	assert.False(t, ClassifyStage(docs(domain.StepPending)).Ready())
	assert.False(t, ClassifyStage(docs(domain.StepRejected)).Ready())
}

func TestDocumentsForStageDefaultsToCadastro(t *testing.T) {
	in := []domain.ProcessDocument{
		{ID: "a"},
		{ID: "b", Stage: domain.StageCadastro},
		{ID: "c", Stage: domain.StageTriagem},
	}
	got := DocumentsForStage(in, domain.StageCadastro)
	assert.Len(t, got, 2)
	assert.Equal(t, "c", DocumentsForStage(in, domain.StageTriagem)[0].ID)
	assert.Empty(t, DocumentsForStage(in, domain.StageVistoria))
}

func TestNextStage(t *testing.T) {
	want := map[domain.Stage]domain.Stage{
		domain.StageCadastro:  domain.StageTriagem,
		domain.StageTriagem:   domain.StageVistoria,
		domain.StageVistoria:  domain.StageComissao,
		domain.StageComissao:  domain.StageAprovacao,
		domain.StageAprovacao: domain.StageConcluido,
		domain.StageConcluido: domain.StageConcluido,
		domain.StageExigencia: domain.StageTriagem,
	}
	for from, to := range want {
		assert.Equal(t, to, NextStage(from), from)
	}
}

func entries(stages ...domain.Stage) []domain.ProcessHistory {
	out := make([]domain.ProcessHistory, 0, len(stages))
	for _, s := range stages {
		out = append(out, domain.ProcessHistory{Status: s})
	}
	return out
}

func TestActiveStage(t *testing.T) {
	inExigencia := domain.Process{CurrentStatus: domain.StageExigencia}

	assert.Equal(t, domain.StageVistoria, ActiveStage(domain.Process{CurrentStatus: domain.StageVistoria}, nil))
	assert.Equal(t, domain.StageTriagem, ActiveStage(inExigencia, nil))
	assert.Equal(t, domain.StageTriagem, ActiveStage(inExigencia, entries(domain.StageExigencia)))
	assert.Equal(t, domain.StageVistoria,
		ActiveStage(inExigencia, entries(domain.StageCadastro, domain.StageTriagem, domain.StageVistoria, domain.StageExigencia)))
	assert.Equal(t, domain.StageComissao,
		ActiveStage(inExigencia, entries(domain.StageComissao, domain.StageTriagem, domain.StageExigencia, domain.StageComissao)))

	withPrior := domain.Process{CurrentStatus: domain.StageExigencia, PriorStage: domain.StageAprovacao}
	assert.Equal(t, domain.StageAprovacao, ActiveStage(withPrior, entries(domain.StageVistoria)))
}

func TestStampCandidates(t *testing.T) {
	phrases := []string{"carimbo digital aplicado", "avcb emitido"}
	hist := []domain.ProcessHistory{
		{Event: history.EventStageAdvanced, Observations: "Vistoria agendada"},
		{Observations: "CARIMBO DIGITAL APLICADO pelo comandante"},
		{Event: history.EventCertificateStamped, Observations: "AVCB emitido"},
		{Event: history.EventDocumentAttached, Observations: "Documento enviado: Copia do AVCB emitido em 2019"},
		{Event: history.EventDocumentResubmit, Observations: "carimbo digital aplicado no original"},
		{Event: history.EventDocumentRejected, Observations: "avcb emitido anteriormente nao vale"},
		{Event: history.EventNotificationFailed, Observations: "webhook: avcb emitido"},
	}
	got := stampCandidates(hist, phrases)
	require.Len(t, got, 2)
	assert.Equal(t, "", got[0].Event)
	assert.Equal(t, history.EventCertificateStamped, got[1].Event)

	assert.Empty(t, stampCandidates(hist[:1], phrases))
	assert.Empty(t, stampCandidates(hist, []string{"  "}))
}
