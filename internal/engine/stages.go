package engine

import (
	"strings"

	"avcb/internal/domain"
	"avcb/internal/history"
)

var nextStage = map[domain.Stage]domain.Stage{
	domain.StageCadastro:  domain.StageTriagem,
	domain.StageTriagem:   domain.StageVistoria,
	domain.StageVistoria:  domain.StageComissao,
	domain.StageComissao:  domain.StageAprovacao,
	domain.StageAprovacao: domain.StageConcluido,
	domain.StageConcluido: domain.StageConcluido,
	domain.StageExigencia: domain.StageTriagem,
}

// NextStage returns the forward transition of s. Unknown stages re-enter at triagem.
func NextStage(s domain.Stage) domain.Stage {
	if n, ok := nextStage[s]; ok {
		return n
	}
	return domain.StageTriagem
}

// ActiveStage is the stage actions apply to. Outside exigencia it is the
// current status. Inside it, the recorded prior stage wins, then the newest
// history entry with an ordered status, then triagem.
func ActiveStage(p domain.Process, hist []domain.ProcessHistory) domain.Stage {
	if p.CurrentStatus != domain.StageExigencia {
		return p.CurrentStatus
	}
	if p.PriorStage.IsOrdered() {
		return p.PriorStage
	}
	return recoverFromHistory(hist)
}

// recoverFromHistory expects hist oldest first.
func recoverFromHistory(hist []domain.ProcessHistory) domain.Stage {
	for i := len(hist) - 1; i >= 0; i-- {
		if hist[i].Status.IsOrdered() {
			return hist[i].Status
		}
	}
	return domain.StageTriagem
}

// stampCandidates returns the history entries that record a stamping act and
// carry one of phrases. Entries written by workflow events other than the
// stamp hold free text from citizens or reviewers and never count.
func stampCandidates(hist []domain.ProcessHistory, phrases []string) []domain.ProcessHistory {
	var out []domain.ProcessHistory
	for _, h := range hist {
		if h.Event != "" && h.Event != history.EventCertificateStamped {
			continue
		}
		obs := strings.ToLower(h.Observations)
		if obs == "" {
			continue
		}
		for _, p := range phrases {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" && strings.Contains(obs, p) {
				out = append(out, h)
				break
			}
		}
	}
	return out
}
