package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

type Event string

const (
	EventApproved Event = "approved"
	EventRejected Event = "rejected"
)

type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Notification tells a requester about a decision on their process.
type Notification struct {
	ProcessID         string  `json:"process_id"`
	ProcessNumber     string  `json:"process_number"`
	UserID            string  `json:"user_id"`
	CurrentStageLabel string  `json:"current_stage"`
	Event             Event   `json:"event"`
	NextStageLabel    string  `json:"next_stage,omitempty"`
	Reason            string  `json:"reason,omitempty"`
	Contact           Contact `json:"contact"`
}

// Dispatcher delivers a notification over one channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Message renders the plain text body shared by every channel.
func Message(n Notification) string {
	var b strings.Builder
	name := strings.TrimSpace(n.Contact.Name)
	if name == "" {
		name = "requerente"
	}
	fmt.Fprintf(&b, "Olá, %s. ", name)
	switch n.Event {
	case EventRejected:
		fmt.Fprintf(&b, "O processo %s tem uma exigência na etapa %s.", n.ProcessNumber, n.CurrentStageLabel)
		if n.Reason != "" {
			fmt.Fprintf(&b, " Motivo: %s.", n.Reason)
		}
		b.WriteString(" Envie a correção pelo portal.")
	default:
		if n.NextStageLabel != "" {
			fmt.Fprintf(&b, "A etapa %s do processo %s foi aprovada. Próxima etapa: %s.", n.CurrentStageLabel, n.ProcessNumber, n.NextStageLabel)
		} else {
			fmt.Fprintf(&b, "Um documento da etapa %s do processo %s foi aprovado.", n.CurrentStageLabel, n.ProcessNumber)
		}
	}
	return b.String()
}

// Subject is the e-mail subject line for n.
func Subject(n Notification) string {
	if n.Event == EventRejected {
		return fmt.Sprintf("Processo %s: exigência em %s", n.ProcessNumber, n.CurrentStageLabel)
	}
	return fmt.Sprintf("Processo %s: %s aprovada", n.ProcessNumber, n.CurrentStageLabel)
}

type Noop struct{}

func (Noop) Dispatch(context.Context, Notification) error { return nil }

// Multi fans a notification out to every channel. All channels are attempted
// and their errors are joined.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, n Notification) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, d := range m {
		g.Go(func() error {
			errs[i] = d.Dispatch(ctx, n)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
