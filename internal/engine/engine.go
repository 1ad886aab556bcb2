package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"avcb/internal/apperr"
	"avcb/internal/config"
	"avcb/internal/domain"
	"avcb/internal/engine/auth"
	"avcb/internal/history"
	"avcb/internal/notify"
	"avcb/internal/receita"
	"avcb/internal/repo"
	"avcb/internal/storage"
	"avcb/internal/store"
)

// Engine runs the inspection workflow. Every mutation is one Store.Tx unit
// of work; notifications go out after it commits.
type Engine struct {
	Store     store.Store
	Repo      repo.Repo
	History   history.Writer
	Auth      auth.Service
	Config    *config.Config
	Notifier  notify.Dispatcher
	Files     storage.ObjectStore
	Companies receita.Lookup
	Logger    *zap.Logger
	Now       func() time.Time
	// RandN draws the random part of process numbers.
	RandN func(n int) int
}

func New(s store.Store, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default("avcb")
	}
	r := repo.Repo{Store: s}
	return Engine{
		Store:    s,
		Repo:     r,
		History:  history.Writer{},
		Auth:     auth.Service{Repo: r},
		Config:   cfg,
		Notifier: notify.Noop{},
		Logger:   zap.NewNop(),
		Now:      time.Now,
		RandN:    rand.IntN,
	}
}

// WithClock pins every timestamp source of the engine to now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Repo.Now = now
	e.History.Now = now
	e.Auth.Repo.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e Engine) repoFor(tx store.Store) repo.Repo {
	r := e.Repo.With(tx)
	if r.Now == nil {
		r.Now = e.Now
	}
	return r
}

func (e Engine) authFor(r repo.Repo) auth.Service {
	a := e.Auth
	a.Repo = r
	return a
}

func (e Engine) historyWriter() history.Writer {
	w := e.History
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

func (e Engine) label(s domain.Stage) string {
	return e.Config.StageLabel(s)
}

// activeStage loads history only when the process is in exigencia without a prior stage.
func (e Engine) activeStage(ctx context.Context, r repo.Repo, p domain.Process) (domain.Stage, error) {
	if p.CurrentStatus != domain.StageExigencia || p.PriorStage.IsOrdered() {
		return ActiveStage(p, nil), nil
	}
	hist, err := r.ListHistoryByProcess(ctx, p.ID)
	if err != nil {
		return "", err
	}
	return ActiveStage(p, hist), nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("cnpj", func(fl validator.FieldLevel) bool {
		return receita.ValidCNPJ(fl.Field().String())
	})
	return v
}

func validateInput(in any) error {
	if err := validate.Struct(in); err != nil {
		return apperr.FromValidator(err)
	}
	return nil
}

var systemActor = domain.Actor{ID: "system", Name: "Notificações"}

// dispatch sends n after commit. Failures are logged and, when configured,
// recorded as a notification.failed history entry.
func (e Engine) dispatch(ctx context.Context, enabled bool, p domain.Process, n notify.Notification) {
	if !enabled || e.Notifier == nil {
		return
	}
	n.ProcessID = p.ID
	n.ProcessNumber = p.ProcessNumber
	n.UserID = p.UserID
	n.Contact = notify.Contact{Name: p.ContactName, Phone: p.ContactPhone, Email: p.ContactEmail}
	err := e.Notifier.Dispatch(ctx, n)
	if err == nil {
		return
	}
	e.log().Warn("notification failed",
		zap.String("process_id", p.ID),
		zap.String("event", string(n.Event)),
		zap.Error(err))
	if !e.Config.Notifications.RecordFailures {
		return
	}
	stage := p.CurrentStatus
	if !stage.Valid() {
		stage = domain.StageCadastro
	}
	wctx := context.WithoutCancel(ctx)
	werr := e.Store.Tx(wctx, func(tx store.Store) error {
		_, err := e.historyWriter().Append(wctx, tx, history.Entry{
			ProcessID:   p.ID,
			Event:       history.EventNotificationFailed,
			Stage:       stage,
			StepStatus:  domain.StepPending,
			Observation: fmt.Sprintf("Falha ao notificar o requerente (%s): %v", n.Event, err),
			Actor:       systemActor,
		})
		return err
	})
	if werr != nil {
		e.log().Error("record notification failure", zap.String("process_id", p.ID), zap.Error(werr))
	}
}

// removeFile deletes a stored artifact, logging instead of failing.
func (e Engine) removeFile(ctx context.Context, url string) bool {
	if e.Files == nil || url == "" {
		return false
	}
	if err := e.Files.Delete(ctx, url); err != nil {
		e.log().Warn("remove stored file", zap.String("url", url), zap.Error(err))
		return false
	}
	return true
}

func isConflict(err error) bool {
	return errors.Is(err, apperr.ErrConflict)
}
