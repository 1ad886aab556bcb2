package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"avcb/internal/apperr"
	"avcb/internal/domain"
	"avcb/internal/engine/auth"
	"avcb/internal/history"
	"avcb/internal/receita"
	"avcb/internal/repo"
	"avcb/internal/store"
)

const processNumberAttempts = 5

// CreateProcessInput is a citizen's inspection request.
type CreateProcessInput struct {
	UserID        string   `json:"user_id" validate:"required"`
	CompanyName   string   `json:"company_name" validate:"required"`
	TradeName     string   `json:"trade_name"`
	CNPJ          string   `json:"cnpj" validate:"required,cnpj"`
	Address       string   `json:"address"`
	City          string   `json:"city"`
	State         string   `json:"state" validate:"omitempty,len=2"`
	ZipCode       string   `json:"zip_code"`
	ContactName   string   `json:"contact_name" validate:"required"`
	ContactPhone  string   `json:"contact_phone"`
	ContactEmail  string   `json:"contact_email" validate:"omitempty,email"`
	CNAEPrimary   string   `json:"cnae_primary"`
	CNAESecondary []string `json:"cnae_secondary"`
	BuiltArea     float64  `json:"built_area" validate:"gte=0"`
	// LookupCompany fills blank company fields from the CNPJ registry.
	LookupCompany bool         `json:"-"`
	Actor         domain.Actor `json:"-"`
}

func (e Engine) enrich(ctx context.Context, in *CreateProcessInput) error {
	if !in.LookupCompany || e.Companies == nil || !receita.ValidCNPJ(in.CNPJ) {
		return nil
	}
	c, err := e.Companies.GetByCNPJ(ctx, in.CNPJ)
	if errors.Is(err, receita.ErrNotFound) {
		return apperr.Invalid("cnpj", "is not registered")
	}
	if err != nil {
		e.log().Warn("company lookup failed", zap.String("cnpj", receita.NormalizeCNPJ(in.CNPJ)), zap.Error(err))
		return nil
	}
	fill := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = v
		}
	}
	fill(&in.CompanyName, c.LegalName)
	fill(&in.TradeName, c.TradeName)
	fill(&in.Address, c.Address)
	fill(&in.City, c.City)
	fill(&in.State, c.State)
	fill(&in.ZipCode, c.ZipCode)
	fill(&in.ContactPhone, c.Phone)
	fill(&in.ContactEmail, c.Email)
	fill(&in.CNAEPrimary, c.CNAEPrimary)
	if len(in.CNAESecondary) == 0 {
		in.CNAESecondary = c.CNAESecondary
	}
	return nil
}

func (e Engine) processNumber() string {
	randN := e.RandN
	if randN == nil {
		randN = func(n int) int { return 0 }
	}
	return fmt.Sprintf("%04d%06d", e.now().Year(), randN(1_000_000))
}

// CreateProcess registers a request in cadastro with its risk and fee derived
// from the CNAE codes.
func (e Engine) CreateProcess(ctx context.Context, in CreateProcessInput) (domain.Process, error) {
	if err := e.enrich(ctx, &in); err != nil {
		return domain.Process{}, err
	}
	if err := validateInput(in); err != nil {
		return domain.Process{}, err
	}
	codes := append([]string{in.CNAEPrimary}, in.CNAESecondary...)
	risk := e.Config.RiskFor(codes...)
	p := domain.Process{
		UserID:        in.UserID,
		CompanyName:   strings.TrimSpace(in.CompanyName),
		TradeName:     strings.TrimSpace(in.TradeName),
		CNPJ:          receita.NormalizeCNPJ(in.CNPJ),
		Address:       in.Address,
		City:          in.City,
		State:         strings.ToUpper(in.State),
		ZipCode:       in.ZipCode,
		ContactName:   strings.TrimSpace(in.ContactName),
		ContactPhone:  in.ContactPhone,
		ContactEmail:  strings.ToLower(strings.TrimSpace(in.ContactEmail)),
		CNAEPrimary:   in.CNAEPrimary,
		CNAESecondary: in.CNAESecondary,
		RiskCategory:  risk,
		BuiltArea:     in.BuiltArea,
		FeeAmount:     e.Config.Fees[risk],
		CurrentStatus: domain.StageCadastro,
	}
	actor := in.Actor
	if actor.ID == "" {
		actor = domain.Actor{ID: in.UserID, Name: in.ContactName}
	}
	var lastErr error
	for attempt := 0; attempt < processNumberAttempts; attempt++ {
		candidate := p
		candidate.ProcessNumber = e.processNumber()
		err := e.Store.Tx(ctx, func(tx store.Store) error {
			r := e.repoFor(tx)
			if _, err := r.FindProcessByNumber(ctx, candidate.ProcessNumber); err == nil {
				return apperr.Conflict("process number %s already taken", candidate.ProcessNumber)
			} else if !repo.IsNotFound(err) {
				return err
			}
			var err error
			if candidate, err = r.InsertProcess(ctx, candidate); err != nil {
				return err
			}
			_, err = e.historyWriter().Append(ctx, tx, history.Entry{
				ProcessID:   candidate.ID,
				Event:       history.EventProcessCreated,
				Stage:       domain.StageCadastro,
				StepStatus:  domain.StepPending,
				Observation: e.Config.Observations.Created,
				Actor:       actor,
			})
			return err
		})
		if err == nil {
			return candidate, nil
		}
		if !isConflict(err) {
			return domain.Process{}, err
		}
		lastErr = err
		e.log().Debug("process number collision", zap.String("process_number", candidate.ProcessNumber))
	}
	return domain.Process{}, fmt.Errorf("allocate process number: %w", lastErr)
}

type AdvanceInput struct {
	ProcessID   string
	Observation string
	Actor       domain.Actor
}

// AdvanceResult reports the outcome of an advance attempt. A refused advance
// is not an error.
type AdvanceResult struct {
	Advanced bool           `json:"advanced"`
	From     domain.Stage   `json:"from"`
	To       domain.Stage   `json:"to"`
	Reason   string         `json:"reason,omitempty"`
	Pending  int            `json:"pending"`
	Rejected int            `json:"rejected"`
	Process  domain.Process `json:"process"`
}

const (
	ReasonNotReady  = "stage not ready"
	ReasonConcluded = "process already concluded"
)

// AdvanceStage moves a process from its active stage to the next one when
// the stage guard allows it.
func (e Engine) AdvanceStage(ctx context.Context, in AdvanceInput) (AdvanceResult, error) {
	if in.ProcessID == "" {
		return AdvanceResult{}, apperr.Invalid("process_id", "is required")
	}
	var res AdvanceResult
	err := e.Store.Tx(ctx, func(tx store.Store) error {
		r := e.repoFor(tx)
		p, err := r.GetProcess(ctx, in.ProcessID)
		if err != nil {
			return err
		}
		if p.CurrentStatus == domain.StageConcluido {
			res = AdvanceResult{From: p.CurrentStatus, To: p.CurrentStatus, Reason: ReasonConcluded, Process: p}
			return nil
		}
		docs, err := r.ListDocumentsByProcess(ctx, p.ID)
		if err != nil {
			return err
		}
		hist, err := r.ListHistoryByProcess(ctx, p.ID)
		if err != nil {
			return err
		}
		active := ActiveStage(p, hist)
		cls := ClassifyStage(DocumentsForStage(docs, active))
		ready := cls.Ready()
		if !ready && active == domain.StageAprovacao {
			_, stamped := finalCertificate(docs)
			if ready = stamped; !ready {
				if ready, err = e.stampedInHistory(ctx, e.authFor(r), hist); err != nil {
					return err
				}
			}
		}
		if !ready {
			res = AdvanceResult{From: active, To: active, Reason: ReasonNotReady, Pending: cls.Pending, Rejected: cls.Rejected, Process: p}
			return nil
		}
		next := NextStage(active)
		if err := r.UpdateProcess(ctx, p.ID, store.Record{
			"current_status": next,
			"prior_stage":    nil,
		}); err != nil {
			return err
		}
		p.CurrentStatus = next
		p.PriorStage = ""
		if _, err := e.historyWriter().Append(ctx, tx, history.Entry{
			ProcessID:   p.ID,
			Event:       history.EventStageAdvanced,
			Stage:       next,
			StepStatus:  domain.StepCompleted,
			Observation: orDefault(in.Observation, e.Config.Observations.Advanced),
			Actor:       in.Actor,
		}); err != nil {
			return err
		}
		res = AdvanceResult{Advanced: true, From: active, To: next, Process: p}
		return nil
	})
	if err != nil {
		return AdvanceResult{}, err
	}
	if res.Advanced {
		e.dispatch(ctx, e.Config.Notifications.OnAdvance, res.Process, e.advanceNotification(res.From, res.To))
	}
	return res, nil
}

type DeleteInput struct {
	ProcessID     string
	Confirm       bool
	ConfirmNumber string
	Actor         domain.Actor
}

type DeleteResult struct {
	ProcessID        string `json:"process_id"`
	DocumentsRemoved int    `json:"documents_removed"`
	FilesRemoved     int    `json:"files_removed"`
}

// DeleteProcess removes an early-stage process and its documents after two
// confirmations. History is kept and closed with a process.deleted entry.
func (e Engine) DeleteProcess(ctx context.Context, in DeleteInput) (DeleteResult, error) {
	if in.ProcessID == "" {
		return DeleteResult{}, apperr.Invalid("process_id", "is required")
	}
	if !in.Confirm {
		return DeleteResult{}, apperr.Invalid("confirm", "must be true")
	}
	if strings.TrimSpace(in.ConfirmNumber) == "" {
		return DeleteResult{}, apperr.Invalid("confirm_number", "is required")
	}
	res := DeleteResult{ProcessID: in.ProcessID}
	var files []string
	err := e.Store.Tx(ctx, func(tx store.Store) error {
		r := e.repoFor(tx)
		p, err := r.GetProcess(ctx, in.ProcessID)
		if err != nil {
			return err
		}
		if strings.TrimSpace(in.ConfirmNumber) != p.ProcessNumber {
			return apperr.Invalid("confirm_number", "does not match the process number")
		}
		if !e.Config.IsDeletable(p.CurrentStatus) {
			return apperr.Conflict("process %s is in stage %s and can no longer be deleted", p.ProcessNumber, p.CurrentStatus)
		}
		if err := e.authFor(r).RequireOwnerOrAdmin(ctx, in.Actor.ID, p); err != nil {
			return err
		}
		docs, err := r.ListDocumentsByProcess(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := r.DeleteDocument(ctx, d.ID); err != nil {
				return err
			}
			if d.FileURL != "" {
				files = append(files, d.FileURL)
			}
		}
		res.DocumentsRemoved = len(docs)
		if err := r.DeleteProcess(ctx, p.ID); err != nil {
			return err
		}
		_, err = e.historyWriter().Append(ctx, tx, history.Entry{
			ProcessID:   p.ID,
			Event:       history.EventProcessDeleted,
			Stage:       p.CurrentStatus,
			StepStatus:  domain.StepCompleted,
			Observation: fmt.Sprintf("%s (%s)", e.Config.Observations.Deleted, p.ProcessNumber),
			Actor:       in.Actor,
		})
		return err
	})
	if err != nil {
		return DeleteResult{}, err
	}
	for _, f := range files {
		if e.removeFile(ctx, f) {
			res.FilesRemoved++
		}
	}
	return res, nil
}

// MarkFeePaid confirms the inspection fee of a process.
func (e Engine) MarkFeePaid(ctx context.Context, processID string, actor domain.Actor) (domain.Process, error) {
	if processID == "" {
		return domain.Process{}, apperr.Invalid("process_id", "is required")
	}
	var p domain.Process
	err := e.Store.Tx(ctx, func(tx store.Store) error {
		r := e.repoFor(tx)
		var err error
		if p, err = r.GetProcess(ctx, processID); err != nil {
			return err
		}
		if p.FeePaid {
			return apperr.Conflict("fee of process %s already confirmed", p.ProcessNumber)
		}
		active, err := e.activeStage(ctx, r, p)
		if err != nil {
			return err
		}
		if err := r.UpdateProcess(ctx, p.ID, store.Record{"fee_paid": true}); err != nil {
			return err
		}
		p.FeePaid = true
		_, err = e.historyWriter().Append(ctx, tx, history.Entry{
			ProcessID:   p.ID,
			Event:       history.EventFeePaid,
			Stage:       active,
			StepStatus:  domain.StepCompleted,
			Observation: fmt.Sprintf("%s: R$ %.2f", e.Config.Observations.FeePaid, p.FeeAmount),
			Actor:       actor,
		})
		return err
	})
	if err != nil {
		return domain.Process{}, err
	}
	return e.Repo.GetProcess(ctx, p.ID)
}

// Readiness is the guard view of the active stage.
type Readiness struct {
	ActiveStage    domain.Stage        `json:"active_stage"`
	Classification StageClassification `json:"classification"`
	CanAdvance     bool                `json:"can_advance"`
	Stamped        bool                `json:"stamped"`
}

// stampedInHistory reports whether a stamping act was recorded manually: a
// certificate.stamped entry, or an untagged entry by a staff member, carrying
// one of the configured phrases.
func (e Engine) stampedInHistory(ctx context.Context, a auth.Service, hist []domain.ProcessHistory) (bool, error) {
	for _, h := range stampCandidates(hist, e.Config.Stamping.Phrases) {
		if h.Event == history.EventCertificateStamped {
			return true, nil
		}
		ok, err := a.IsAdmin(ctx, h.ResponsibleID)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e Engine) readiness(ctx context.Context, p domain.Process, docs []domain.ProcessDocument, hist []domain.ProcessHistory) (Readiness, error) {
	active := ActiveStage(p, hist)
	cls := ClassifyStage(DocumentsForStage(docs, active))
	_, stamped := finalCertificate(docs)
	can := cls.Ready()
	if !can && active == domain.StageAprovacao && p.CurrentStatus != domain.StageConcluido {
		can = stamped
		if !can {
			var err error
			if can, err = e.stampedInHistory(ctx, e.Auth, hist); err != nil {
				return Readiness{}, err
			}
		}
	}
	if p.CurrentStatus == domain.StageConcluido {
		can = false
	}
	return Readiness{ActiveStage: active, Classification: cls, CanAdvance: can, Stamped: stamped}, nil
}

// StageReadiness reports whether the process could advance right now.
func (e Engine) StageReadiness(ctx context.Context, processID string) (Readiness, error) {
	d, err := e.Detail(ctx, processID)
	if err != nil {
		return Readiness{}, err
	}
	return d.Readiness, nil
}

// ProcessDetail is everything a process page shows.
type ProcessDetail struct {
	Process   domain.Process           `json:"process"`
	Documents []domain.ProcessDocument `json:"documents"`
	History   []domain.ProcessHistory  `json:"history"`
	Readiness Readiness                `json:"readiness"`
}

// Detail loads a process with its documents and history in parallel.
func (e Engine) Detail(ctx context.Context, processID string) (ProcessDetail, error) {
	var d ProcessDetail
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		d.Process, err = e.Repo.GetProcess(gctx, processID)
		return err
	})
	g.Go(func() error {
		var err error
		d.Documents, err = e.Repo.ListDocumentsByProcess(gctx, processID)
		return err
	})
	g.Go(func() error {
		var err error
		d.History, err = e.Repo.ListHistoryByProcess(gctx, processID)
		return err
	})
	if err := g.Wait(); err != nil {
		return ProcessDetail{}, err
	}
	r, err := e.readiness(ctx, d.Process, d.Documents, d.History)
	if err != nil {
		return ProcessDetail{}, err
	}
	d.Readiness = r
	return d, nil
}

// Cleanup removes documents whose process no longer exists and returns how
// many were removed.
func (e Engine) Cleanup(ctx context.Context) (int, error) {
	procs, err := e.Repo.ListProcesses(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(procs))
	for _, p := range procs {
		known[p.ID] = true
	}
	recs, err := e.Store.Scan(ctx, store.TableProcessDocument)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, rec := range recs {
		pid, _ := rec["process_id"].(string)
		if known[pid] {
			continue
		}
		id, _ := rec["id"].(string)
		if err := e.Repo.DeleteDocument(ctx, id); err != nil {
			if repo.IsNotFound(err) {
				continue
			}
			return removed, err
		}
		removed++
		if url, _ := rec["file_url"].(string); url != "" {
			e.removeFile(ctx, url)
		}
		e.log().Info("removed orphaned document", zap.String("document_id", id), zap.String("process_id", pid))
	}
	return removed, nil
}
