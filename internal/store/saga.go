package store

import (
	"context"
	"errors"
	"fmt"
)

// Saga gives a non-transactional CRUD backend unit-of-work semantics by
// journaling a compensation for each write and undoing them in reverse
// order when the unit of work fails.
type Saga struct {
	Base CRUD
}

// NewSaga wraps base.
func NewSaga(base CRUD) *Saga {
	return &Saga{Base: base}
}

func (s *Saga) Get(ctx context.Context, table, id string) (Record, error) {
	return s.Base.Get(ctx, table, id)
}

func (s *Saga) Scan(ctx context.Context, table string, filters ...Filter) ([]Record, error) {
	return s.Base.Scan(ctx, table, filters...)
}

func (s *Saga) Create(ctx context.Context, table string, rec Record) (string, error) {
	return s.Base.Create(ctx, table, rec)
}

func (s *Saga) Update(ctx context.Context, table, id string, patch Record) error {
	return s.Base.Update(ctx, table, id, patch)
}

func (s *Saga) Delete(ctx context.Context, table, id string) error {
	return s.Base.Delete(ctx, table, id)
}

func (s *Saga) Tx(ctx context.Context, fn func(Store) error) error {
	j := &sagaTx{base: s.Base}
	if err := fn(j); err != nil {
		if cerr := j.compensate(ctx); cerr != nil {
			return errors.Join(err, fmt.Errorf("compensation incomplete: %w", cerr))
		}
		return err
	}
	return nil
}

type compensation func(ctx context.Context) error

type sagaTx struct {
	base  CRUD
	steps []compensation
}

func (t *sagaTx) Tx(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

func (t *sagaTx) Get(ctx context.Context, table, id string) (Record, error) {
	return t.base.Get(ctx, table, id)
}

func (t *sagaTx) Scan(ctx context.Context, table string, filters ...Filter) ([]Record, error) {
	return t.base.Scan(ctx, table, filters...)
}

func (t *sagaTx) Create(ctx context.Context, table string, rec Record) (string, error) {
	id, err := t.base.Create(ctx, table, rec)
	if err != nil {
		return "", err
	}
	t.steps = append(t.steps, func(ctx context.Context) error {
		err := t.base.Delete(ctx, table, id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	return id, nil
}

func (t *sagaTx) Update(ctx context.Context, table, id string, patch Record) error {
	prev, err := t.base.Get(ctx, table, id)
	if err != nil {
		return err
	}
	if err := t.base.Update(ctx, table, id, patch); err != nil {
		return err
	}
	t.steps = append(t.steps, func(ctx context.Context) error {
		restore := Record{}
		for k, v := range prev {
			restore[k] = v
		}
		for k := range patch {
			if _, ok := prev[k]; !ok {
				restore[k] = nil
			}
		}
		return t.base.Update(ctx, table, id, restore)
	})
	return nil
}

func (t *sagaTx) Delete(ctx context.Context, table, id string) error {
	prev, err := t.base.Get(ctx, table, id)
	if err != nil {
		return err
	}
	if err := t.base.Delete(ctx, table, id); err != nil {
		return err
	}
	t.steps = append(t.steps, func(ctx context.Context) error {
		_, err := t.base.Create(ctx, table, prev)
		return err
	})
	return nil
}

func (t *sagaTx) compensate(ctx context.Context) error {
	// Compensations run even if ctx is already canceled.
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(t.steps) - 1; i >= 0; i-- {
		if err := t.steps[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
