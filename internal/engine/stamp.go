package engine

import (
	"bytes"
	"context"
	"fmt"

	"avcb/internal/apperr"
	"avcb/internal/domain"
	"avcb/internal/history"
	"avcb/internal/notify"
	"avcb/internal/store"
)

type StampInput struct {
	ProcessID string
	// FileURL points at an externally produced certificate. When empty the
	// engine renders and uploads one.
	FileURL string
	Actor   domain.Actor
}

type StampResult struct {
	Process     domain.Process         `json:"process"`
	Certificate domain.ProcessDocument `json:"certificate"`
}

// checkStampable fails unless p sits in aprovacao, or concluded without a certificate.
func checkStampable(p domain.Process, docs []domain.ProcessDocument, active domain.Stage) error {
	if _, ok := finalCertificate(docs); ok {
		return apperr.Conflict("final certificate of process %s already issued", p.ProcessNumber)
	}
	if active != domain.StageAprovacao && p.CurrentStatus != domain.StageConcluido {
		return apperr.Conflict("process %s is in stage %s; stamping requires %s", p.ProcessNumber, active, domain.StageAprovacao)
	}
	return nil
}

// StampCertificate issues the final certificate and concludes the process
// directly, without the per-document guard.
func (e Engine) StampCertificate(ctx context.Context, in StampInput) (StampResult, error) {
	if in.ProcessID == "" {
		return StampResult{}, apperr.Invalid("process_id", "is required")
	}
	p, err := e.Repo.GetProcess(ctx, in.ProcessID)
	if err != nil {
		return StampResult{}, err
	}
	docs, err := e.Repo.ListDocumentsByProcess(ctx, p.ID)
	if err != nil {
		return StampResult{}, err
	}
	active, err := e.activeStage(ctx, e.Repo, p)
	if err != nil {
		return StampResult{}, err
	}
	if err := checkStampable(p, docs, active); err != nil {
		return StampResult{}, err
	}

	now := e.now()
	fileURL, uploaded := in.FileURL, ""
	if fileURL == "" {
		if e.Files == nil {
			return StampResult{}, fmt.Errorf("file storage not configured")
		}
		html, err := e.renderCertificate(p, in.Actor, now)
		if err != nil {
			return StampResult{}, fmt.Errorf("render certificate: %w", err)
		}
		key := fmt.Sprintf("processes/%s/certificado-final-%s.html", p.ID, p.ProcessNumber)
		if fileURL, err = e.Files.Put(ctx, key, "text/html; charset=utf-8", bytes.NewReader(html)); err != nil {
			return StampResult{}, fmt.Errorf("upload certificate: %w", err)
		}
		uploaded = fileURL
	}

	stampedBy := in.Actor.Name
	if stampedBy == "" {
		stampedBy = in.Actor.ID
	}
	stampedAt := store.Timestamp(now)
	var res StampResult
	err = e.Store.Tx(ctx, func(tx store.Store) error {
		r := e.repoFor(tx)
		p, err := r.GetProcess(ctx, in.ProcessID)
		if err != nil {
			return err
		}
		docs, err := r.ListDocumentsByProcess(ctx, p.ID)
		if err != nil {
			return err
		}
		active, err := e.activeStage(ctx, r, p)
		if err != nil {
			return err
		}
		if err := checkStampable(p, docs, active); err != nil {
			return err
		}
		cert, err := r.InsertDocument(ctx, domain.ProcessDocument{
			ProcessID:       p.ID,
			UserID:          p.UserID,
			DocumentName:    e.Config.Stamping.DocumentName,
			DocumentType:    domain.DocumentTypeFinalCertificate,
			FileURL:         fileURL,
			Status:          domain.StepCompleted,
			Stage:           domain.StageAprovacao,
			AvailableToUser: true,
			StampedBy:       stampedBy,
			StampedAt:       &stampedAt,
		})
		if err != nil {
			return err
		}
		if err := r.UpdateProcess(ctx, p.ID, store.Record{
			"current_status": domain.StageConcluido,
			"prior_stage":    nil,
		}); err != nil {
			return err
		}
		p.CurrentStatus = domain.StageConcluido
		p.PriorStage = ""
		if _, err := e.historyWriter().Append(ctx, tx, history.Entry{
			ProcessID:   p.ID,
			Event:       history.EventCertificateStamped,
			Stage:       domain.StageConcluido,
			StepStatus:  domain.StepCompleted,
			Observation: e.Config.Observations.Stamped,
			Actor:       in.Actor,
		}); err != nil {
			return err
		}
		res = StampResult{Process: p, Certificate: cert}
		return nil
	})
	if err != nil {
		e.removeFile(context.WithoutCancel(ctx), uploaded)
		return StampResult{}, err
	}
	e.dispatch(ctx, e.Config.Notifications.OnStamp, res.Process, e.advanceNotification(domain.StageAprovacao, domain.StageConcluido))
	return res, nil
}

func (e Engine) advanceNotification(from, to domain.Stage) notify.Notification {
	return notify.Notification{
		CurrentStageLabel: e.label(from),
		Event:             notify.EventApproved,
		NextStageLabel:    e.label(to),
	}
}
