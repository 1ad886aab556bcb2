package history

import (
	"context"
	"fmt"
	"time"

	"avcb/internal/domain"
	"avcb/internal/repo"
	"avcb/internal/store"
)

// Event tags recorded on history entries.
const (
	EventProcessCreated     = "process.created"
	EventProcessDeleted     = "process.deleted"
	EventFeePaid            = "process.fee_paid"
	EventStageAdvanced      = "stage.advanced"
	EventCertificateStamped = "certificate.stamped"
	EventDocumentAttached   = "document.attached"
	EventDocumentApproved   = "document.approved"
	EventDocumentRejected   = "document.rejected"
	EventDocumentResubmit   = "document.resubmitted"
	EventNotificationFailed = "notification.failed"
)

// Entry is one audit record before it is stored.
type Entry struct {
	ProcessID   string
	Event       string
	Stage       domain.Stage
	StepStatus  domain.StepStatus
	Observation string
	Actor       domain.Actor
}

type Writer struct {
	Now func() time.Time
}

// Append writes entry through tx. It must be the last write of the unit of work.
func (w Writer) Append(ctx context.Context, tx store.Store, entry Entry) (domain.ProcessHistory, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if entry.ProcessID == "" {
		return domain.ProcessHistory{}, fmt.Errorf("history entry without process")
	}
	if !entry.Stage.Valid() {
		return domain.ProcessHistory{}, fmt.Errorf("history entry with unknown stage %q", entry.Stage)
	}
	if !entry.StepStatus.Valid() {
		return domain.ProcessHistory{}, fmt.Errorf("history entry with unknown step status %q", entry.StepStatus)
	}
	r := repo.Repo{Store: tx, Now: w.Now}
	h, err := r.InsertHistory(ctx, domain.ProcessHistory{
		ProcessID:       entry.ProcessID,
		Event:           entry.Event,
		Status:          entry.Stage,
		StepStatus:      entry.StepStatus,
		Observations:    entry.Observation,
		ResponsibleID:   entry.Actor.ID,
		ResponsibleName: entry.Actor.Name,
	})
	if err != nil {
		return domain.ProcessHistory{}, fmt.Errorf("append history %s: %w", entry.Event, err)
	}
	return h, nil
}
