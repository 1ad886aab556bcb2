package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"avcb/internal/apperr"
	"avcb/internal/domain"
	"avcb/internal/store"
)

// Repo is the typed view over the entity store, one method per query shape.
type Repo struct {
	Store store.Store
	Now   func() time.Time
}

var ErrNotFound = apperr.ErrNotFound

// With returns a copy of r bound to s, typically a transaction.
func (r Repo) With(s store.Store) Repo {
	r.Store = s
	return r
}

func (r Repo) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// stamp fills id and created_at so inserted records are complete without a read back.
func (r Repo) stamp(id, createdAt *string) {
	if *id == "" {
		*id = store.NewID()
	}
	if *createdAt == "" {
		*createdAt = store.Timestamp(r.now())
	}
}

func toRecord(v any) (store.Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var rec store.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	for _, k := range []string{"id", "created_at", "updated_at"} {
		if s, ok := rec[k].(string); ok && s == "" {
			delete(rec, k)
		}
	}
	return rec, nil
}

func fromRecord[T any](rec store.Record) (T, error) {
	var out T
	b, err := json.Marshal(rec)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decode record %v: %w", rec["id"], err)
	}
	return out, nil
}

func fromRecords[T any](recs []store.Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := fromRecord[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func get[T any](ctx context.Context, s store.Store, table, id string) (T, error) {
	var zero T
	if id == "" {
		return zero, apperr.Invalid("id", "is required")
	}
	rec, err := s.Get(ctx, table, id)
	if err != nil {
		return zero, err
	}
	return fromRecord[T](rec)
}

func scan[T any](ctx context.Context, s store.Store, table string, filters ...store.Filter) ([]T, error) {
	recs, err := s.Scan(ctx, table, filters...)
	if err != nil {
		return nil, err
	}
	return fromRecords[T](recs)
}

// --- processes ---

func (r Repo) GetProcess(ctx context.Context, id string) (domain.Process, error) {
	return get[domain.Process](ctx, r.Store, store.TableProcess, id)
}

// ListProcesses returns every process, newest first.
func (r Repo) ListProcesses(ctx context.Context) ([]domain.Process, error) {
	items, err := scan[domain.Process](ctx, r.Store, store.TableProcess)
	if err != nil {
		return nil, err
	}
	sortProcessesNewestFirst(items)
	return items, nil
}

// ListProcessesByUser returns the processes owned by userID, newest first.
func (r Repo) ListProcessesByUser(ctx context.Context, userID string) ([]domain.Process, error) {
	items, err := scan[domain.Process](ctx, r.Store, store.TableProcess, store.Filter{Field: "user_id", Value: userID})
	if err != nil {
		return nil, err
	}
	sortProcessesNewestFirst(items)
	return items, nil
}

func (r Repo) FindProcessByNumber(ctx context.Context, number string) (domain.Process, error) {
	items, err := scan[domain.Process](ctx, r.Store, store.TableProcess, store.Filter{Field: "process_number", Value: number})
	if err != nil {
		return domain.Process{}, err
	}
	if len(items) == 0 {
		return domain.Process{}, fmt.Errorf("process number %s: %w", number, ErrNotFound)
	}
	return items[0], nil
}

func (r Repo) InsertProcess(ctx context.Context, p domain.Process) (domain.Process, error) {
	r.stamp(&p.ID, &p.CreatedAt)
	p.UpdatedAt = p.CreatedAt
	rec, err := toRecord(p)
	if err != nil {
		return p, err
	}
	rec["created_at"], rec["updated_at"] = p.CreatedAt, p.UpdatedAt
	if _, err := r.Store.Create(ctx, store.TableProcess, rec); err != nil {
		return p, err
	}
	return p, nil
}

// UpdateProcess merges fields into the process. process_number is immutable.
func (r Repo) UpdateProcess(ctx context.Context, id string, fields store.Record) error {
	if _, ok := fields["process_number"]; ok {
		return apperr.Invalid("process_number", "is immutable")
	}
	return r.Store.Update(ctx, store.TableProcess, id, fields)
}

func (r Repo) DeleteProcess(ctx context.Context, id string) error {
	return r.Store.Delete(ctx, store.TableProcess, id)
}

func sortProcessesNewestFirst(items []domain.Process) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt > items[j].CreatedAt
		}
		return items[i].ID > items[j].ID
	})
}

// --- documents ---

func (r Repo) GetDocument(ctx context.Context, id string) (domain.ProcessDocument, error) {
	return get[domain.ProcessDocument](ctx, r.Store, store.TableProcessDocument, id)
}

// ListDocumentsByProcess returns a process's documents in upload order.
func (r Repo) ListDocumentsByProcess(ctx context.Context, processID string) ([]domain.ProcessDocument, error) {
	return scan[domain.ProcessDocument](ctx, r.Store, store.TableProcessDocument, store.Filter{Field: "process_id", Value: processID})
}

func (r Repo) InsertDocument(ctx context.Context, d domain.ProcessDocument) (domain.ProcessDocument, error) {
	r.stamp(&d.ID, &d.CreatedAt)
	d.UpdatedAt = d.CreatedAt
	if d.Stage == "" {
		d.Stage = domain.StageCadastro
	}
	rec, err := toRecord(d)
	if err != nil {
		return d, err
	}
	rec["created_at"], rec["updated_at"] = d.CreatedAt, d.UpdatedAt
	if _, err := r.Store.Create(ctx, store.TableProcessDocument, rec); err != nil {
		return d, err
	}
	return d, nil
}

func (r Repo) UpdateDocument(ctx context.Context, id string, fields store.Record) error {
	return r.Store.Update(ctx, store.TableProcessDocument, id, fields)
}

func (r Repo) DeleteDocument(ctx context.Context, id string) error {
	return r.Store.Delete(ctx, store.TableProcessDocument, id)
}

// --- history ---

// ListHistoryByProcess returns entries oldest first.
func (r Repo) ListHistoryByProcess(ctx context.Context, processID string) ([]domain.ProcessHistory, error) {
	items, err := scan[domain.ProcessHistory](ctx, r.Store, store.TableProcessHistory, store.Filter{Field: "process_id", Value: processID})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt < items[j].CreatedAt
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// InsertHistory appends an entry. Entries are append-only.
func (r Repo) InsertHistory(ctx context.Context, h domain.ProcessHistory) (domain.ProcessHistory, error) {
	r.stamp(&h.ID, &h.CreatedAt)
	rec, err := toRecord(h)
	if err != nil {
		return h, err
	}
	rec["created_at"] = h.CreatedAt
	if _, err := r.Store.Create(ctx, store.TableProcessHistory, rec); err != nil {
		return h, err
	}
	return h, nil
}

// IsNotFound reports whether err means a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
