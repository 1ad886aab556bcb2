package engine

import "avcb/internal/domain"

// StageClassification summarizes the documents of one stage.
type StageClassification struct {
	Complete    bool `json:"complete"`
	HasPending  bool `json:"has_pending"`
	HasRejected bool `json:"has_rejected"`
	Pending     int  `json:"pending"`
	Rejected    int  `json:"rejected"`
	Total       int  `json:"total"`
}

// Ready reports whether the stage guard is satisfied.
func (c StageClassification) Ready() bool {
	return c.Complete && !c.HasPending && !c.HasRejected
}

// ClassifyStage decides completeness for the documents of a single stage.
// A stage with no documents is complete.
func ClassifyStage(docs []domain.ProcessDocument) StageClassification {
	c := StageClassification{Complete: true, Total: len(docs)}
	for _, d := range docs {
		switch d.Status {
		case domain.StepCompleted:
			continue
		case domain.StepPending:
			c.HasPending = true
			c.Pending++
		case domain.StepRejected:
			c.HasRejected = true
			c.Rejected++
		}
		c.Complete = false
	}
	return c
}

// DocumentsForStage selects the documents tagged with stage. Untagged
// documents belong to cadastro.
func DocumentsForStage(docs []domain.ProcessDocument, stage domain.Stage) []domain.ProcessDocument {
	var out []domain.ProcessDocument
	for _, d := range docs {
		if d.EffectiveStage() == stage {
			out = append(out, d)
		}
	}
	return out
}

func finalCertificate(docs []domain.ProcessDocument) (domain.ProcessDocument, bool) {
	for _, d := range docs {
		if d.DocumentType == domain.DocumentTypeFinalCertificate && d.Status == domain.StepCompleted {
			return d, true
		}
	}
	return domain.ProcessDocument{}, false
}
