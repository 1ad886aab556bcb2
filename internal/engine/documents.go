package engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"avcb/internal/apperr"
	"avcb/internal/domain"
	"avcb/internal/history"
	"avcb/internal/notify"
	"avcb/internal/storage"
	"avcb/internal/store"
)

type ApproveDocumentInput struct {
	DocumentID  string
	Observation string
	Actor       domain.Actor
}

// ApproveDocument marks a document completed. It records partial progress
// and never moves the process.
func (e Engine) ApproveDocument(ctx context.Context, in ApproveDocumentInput) (domain.ProcessDocument, error) {
	if in.DocumentID == "" {
		return domain.ProcessDocument{}, apperr.Invalid("document_id", "is required")
	}
	var (
		doc    domain.ProcessDocument
		proc   domain.Process
		active domain.Stage
	)
	err := e.Store.Tx(ctx, func(tx store.Store) error {
		r := e.repoFor(tx)
		var err error
		if doc, err = r.GetDocument(ctx, in.DocumentID); err != nil {
			return err
		}
		if doc.DocumentType == domain.DocumentTypeFinalCertificate {
			return apperr.Conflict("final certificate %s is immutable", doc.ID)
		}
		if proc, err = r.GetProcess(ctx, doc.ProcessID); err != nil {
			return err
		}
		if active, err = e.activeStage(ctx, r, proc); err != nil {
			return err
		}
		if err := r.UpdateDocument(ctx, doc.ID, store.Record{
			"status":           domain.StepCompleted,
			"rejection_reason": nil,
		}); err != nil {
			return err
		}
		doc.Status = domain.StepCompleted
		doc.RejectionReason = nil
		_, err = e.historyWriter().Append(ctx, tx, history.Entry{
			ProcessID:   proc.ID,
			Event:       history.EventDocumentApproved,
			Stage:       active,
			StepStatus:  domain.StepInProgress,
			Observation: orDefault(in.Observation, fmt.Sprintf("%s: %s", e.Config.Observations.Approved, doc.DocumentName)),
			Actor:       in.Actor,
		})
		return err
	})
	if err != nil {
		return domain.ProcessDocument{}, err
	}
	e.dispatch(ctx, e.Config.Notifications.OnApprove, proc, notify.Notification{
		CurrentStageLabel: e.label(active),
		Event:             notify.EventApproved,
	})
	return doc, nil
}

type RejectDocumentInput struct {
	DocumentID string
	Reason     string
	Actor      domain.Actor
}

// RejectDocument stores the reason and forces the owning process into
// exigencia, remembering the stage that was active.
func (e Engine) RejectDocument(ctx context.Context, in RejectDocumentInput) (domain.ProcessDocument, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return domain.ProcessDocument{}, apperr.Invalid("reason", "is required")
	}
	if in.DocumentID == "" {
		return domain.ProcessDocument{}, apperr.Invalid("document_id", "is required")
	}
	var (
		doc    domain.ProcessDocument
		proc   domain.Process
		active domain.Stage
	)
	err := e.Store.Tx(ctx, func(tx store.Store) error {
		r := e.repoFor(tx)
		var err error
		if doc, err = r.GetDocument(ctx, in.DocumentID); err != nil {
			return err
		}
		if doc.DocumentType == domain.DocumentTypeFinalCertificate {
			return apperr.Conflict("final certificate %s is immutable", doc.ID)
		}
		if proc, err = r.GetProcess(ctx, doc.ProcessID); err != nil {
			return err
		}
		if active, err = e.activeStage(ctx, r, proc); err != nil {
			return err
		}
		if err := r.UpdateDocument(ctx, doc.ID, store.Record{
			"status":           domain.StepRejected,
			"rejection_reason": reason,
		}); err != nil {
			return err
		}
		doc.Status = domain.StepRejected
		doc.RejectionReason = &reason
		if err := r.UpdateProcess(ctx, proc.ID, store.Record{
			"current_status": domain.StageExigencia,
			"prior_stage":    active,
		}); err != nil {
			return err
		}
		proc.CurrentStatus = domain.StageExigencia
		proc.PriorStage = active
		_, err = e.historyWriter().Append(ctx, tx, history.Entry{
			ProcessID:   proc.ID,
			Event:       history.EventDocumentRejected,
			Stage:       active,
			StepStatus:  domain.StepRejected,
			Observation: fmt.Sprintf("%s (%s): %s", e.Config.Observations.Exigencia, doc.DocumentName, reason),
			Actor:       in.Actor,
		})
		return err
	})
	if err != nil {
		return domain.ProcessDocument{}, err
	}
	e.dispatch(ctx, e.Config.Notifications.OnReject, proc, notify.Notification{
		CurrentStageLabel: e.label(active),
		Event:             notify.EventRejected,
		Reason:            reason,
	})
	return doc, nil
}

type ResubmitDocumentInput struct {
	DocumentID    string
	FileURL       string
	Justification string
	Actor         domain.Actor
}

// ResubmitDocument sends a corrected file back for review.
func (e Engine) ResubmitDocument(ctx context.Context, in ResubmitDocumentInput) (domain.ProcessDocument, error) {
	justification := strings.TrimSpace(in.Justification)
	if justification == "" {
		return domain.ProcessDocument{}, apperr.Invalid("justification", "is required")
	}
	fileURL := strings.TrimSpace(in.FileURL)
	if fileURL == "" {
		return domain.ProcessDocument{}, apperr.Invalid("file_url", "is required")
	}
	if in.DocumentID == "" {
		return domain.ProcessDocument{}, apperr.Invalid("document_id", "is required")
	}
	var doc domain.ProcessDocument
	err := e.Store.Tx(ctx, func(tx store.Store) error {
		r := e.repoFor(tx)
		var err error
		if doc, err = r.GetDocument(ctx, in.DocumentID); err != nil {
			return err
		}
		if doc.DocumentType == domain.DocumentTypeFinalCertificate {
			return apperr.Conflict("final certificate %s is immutable", doc.ID)
		}
		proc, err := r.GetProcess(ctx, doc.ProcessID)
		if err != nil {
			return err
		}
		active, err := e.activeStage(ctx, r, proc)
		if err != nil {
			return err
		}
		ts := store.Timestamp(e.now())
		fields := store.Record{
			"status":                   domain.StepPending,
			"file_url":                 fileURL,
			"rejection_reason":         nil,
			"correction_justification": justification,
			"resubmitted_at":           ts,
		}
		doc.FileURL = fileURL
		if err := r.UpdateDocument(ctx, doc.ID, fields); err != nil {
			return err
		}
		doc.Status = domain.StepPending
		doc.RejectionReason = nil
		doc.CorrectionJustification = &justification
		doc.ResubmittedAt = &ts
		_, err = e.historyWriter().Append(ctx, tx, history.Entry{
			ProcessID:   proc.ID,
			Event:       history.EventDocumentResubmit,
			Stage:       active,
			StepStatus:  domain.StepResubmitted,
			Observation: fmt.Sprintf("%s: %s", doc.DocumentName, justification),
			Actor:       in.Actor,
		})
		return err
	})
	if err != nil {
		return domain.ProcessDocument{}, err
	}
	return doc, nil
}

type AttachDocumentInput struct {
	ProcessID string
	Name      string
	Type      string
	// Stage defaults to the active stage of the process.
	Stage   domain.Stage
	FileURL string
	// Content is uploaded through the object store when FileURL is empty.
	Content  []byte
	Filename string
	Actor    domain.Actor
}

// AttachDocument adds a pending document to a process.
func (e Engine) AttachDocument(ctx context.Context, in AttachDocumentInput) (domain.ProcessDocument, error) {
	if in.ProcessID == "" {
		return domain.ProcessDocument{}, apperr.Invalid("process_id", "is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.ProcessDocument{}, apperr.Invalid("document_name", "is required")
	}
	if in.Type == domain.DocumentTypeFinalCertificate {
		return domain.ProcessDocument{}, apperr.Invalid("document_type", "is reserved for the stamped certificate")
	}
	if in.Stage != "" && !in.Stage.IsOrdered() {
		return domain.ProcessDocument{}, apperr.Invalid("stage", "must be an ordered stage")
	}
	if in.FileURL == "" && len(in.Content) == 0 {
		return domain.ProcessDocument{}, apperr.Invalid("file", "is required")
	}
	uploaded := ""
	if in.FileURL == "" {
		if e.Files == nil {
			return domain.ProcessDocument{}, fmt.Errorf("file storage not configured")
		}
		name := orDefault(in.Filename, in.Name)
		url, err := e.Files.Put(ctx, storage.Key(in.ProcessID, name, e.now()), storage.ContentType(name, in.Content), bytes.NewReader(in.Content))
		if err != nil {
			return domain.ProcessDocument{}, fmt.Errorf("upload %s: %w", name, err)
		}
		in.FileURL, uploaded = url, url
	}
	var doc domain.ProcessDocument
	err := e.Store.Tx(ctx, func(tx store.Store) error {
		r := e.repoFor(tx)
		proc, err := r.GetProcess(ctx, in.ProcessID)
		if err != nil {
			return err
		}
		if proc.CurrentStatus == domain.StageConcluido {
			return apperr.Conflict("process %s is concluded", proc.ProcessNumber)
		}
		active, err := e.activeStage(ctx, r, proc)
		if err != nil {
			return err
		}
		stage := in.Stage
		if stage == "" {
			stage = active
		}
		doc, err = r.InsertDocument(ctx, domain.ProcessDocument{
			ProcessID:    proc.ID,
			UserID:       proc.UserID,
			DocumentName: strings.TrimSpace(in.Name),
			DocumentType: orDefault(in.Type, "documento"),
			FileURL:      in.FileURL,
			Status:       domain.StepPending,
			Stage:        stage,
		})
		if err != nil {
			return err
		}
		_, err = e.historyWriter().Append(ctx, tx, history.Entry{
			ProcessID:   proc.ID,
			Event:       history.EventDocumentAttached,
			Stage:       active,
			StepStatus:  domain.StepPending,
			Observation: fmt.Sprintf("%s: %s", e.Config.Observations.Attached, doc.DocumentName),
			Actor:       in.Actor,
		})
		return err
	})
	if err != nil {
		e.removeFile(context.WithoutCancel(ctx), uploaded)
		return domain.ProcessDocument{}, err
	}
	return doc, nil
}
