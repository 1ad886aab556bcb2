package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"avcb/internal/apperr"
	"avcb/internal/db"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQL stores each table as JSON bodies plus a few indexed columns.
type SQL struct {
	DB      *sql.DB
	Dialect db.Dialect
	Now     func() time.Time

	tx *sql.Tx
}

// NewSQL returns a Store over an already migrated database.
func NewSQL(conn *sql.DB, dialect db.Dialect) *SQL {
	return &SQL{DB: conn, Dialect: dialect}
}

func (s *SQL) q() queryer {
	if s.tx != nil {
		return s.tx
	}
	return s.DB
}

func (s *SQL) Tx(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	inner := &SQL{DB: s.DB, Dialect: s.Dialect, Now: s.Now, tx: tx}
	if err := fn(inner); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) Get(ctx context.Context, table, id string) (Record, error) {
	if _, err := Lookup(table); err != nil {
		return nil, err
	}
	var body string
	err := s.q().QueryRowContext(ctx, s.Dialect.Rebind(`SELECT body FROM `+table+` WHERE id=?`), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeBody(body)
}

func (s *SQL) Scan(ctx context.Context, table string, filters ...Filter) ([]Record, error) {
	spec, err := Lookup(table)
	if err != nil {
		return nil, err
	}
	var clauses []string
	var args []any
	var rest []Filter
	for _, f := range filters {
		if hasColumn(spec, f.Field) {
			clauses = append(clauses, f.Field+"=?")
			args = append(args, f.Value)
			continue
		}
		rest = append(rest, f)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT body FROM ` + table + ` ` + where + ` ORDER BY created_at ASC, id ASC`
	rows, err := s.q().QueryContext(ctx, s.Dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		rec, err := decodeBody(body)
		if err != nil {
			return nil, err
		}
		if matches(rec, rest) {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

func (s *SQL) Create(ctx context.Context, table string, rec Record) (string, error) {
	spec, err := Lookup(table)
	if err != nil {
		return "", err
	}
	full, err := prepareCreate(spec, rec, nowFn(s.Now)())
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(full)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", table, err)
	}
	cols := []string{"id", "created_at", "updated_at", "body"}
	args := []any{full["id"], stringField(full, "created_at"), nullable(stringField(full, "updated_at")), string(body)}
	for _, c := range spec.Columns {
		cols = append(cols, c)
		args = append(args, nullable(stringField(full, c)))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	query := fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s)`, table, strings.Join(cols, ","), placeholders)
	if _, err := s.q().ExecContext(ctx, s.Dialect.Rebind(query), args...); err != nil {
		if isUniqueViolation(err) {
			return "", apperr.Conflict("%s already exists", table)
		}
		return "", err
	}
	return stringField(full, "id"), nil
}

func (s *SQL) Update(ctx context.Context, table, id string, patch Record) error {
	spec, err := Lookup(table)
	if err != nil {
		return err
	}
	existing, err := s.Get(ctx, table, id)
	if err != nil {
		return err
	}
	full := merge(spec, existing, patch, nowFn(s.Now)())
	body, err := json.Marshal(full)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", table, err)
	}
	fields := []string{"updated_at=?", "body=?"}
	args := []any{nullable(stringField(full, "updated_at")), string(body)}
	for _, c := range spec.Columns {
		fields = append(fields, c+"=?")
		args = append(args, nullable(stringField(full, c)))
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id=?`, table, strings.Join(fields, ", "))
	res, err := s.q().ExecContext(ctx, s.Dialect.Rebind(query), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("%s %s violates a unique field", table, id)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, table, id string) error {
	if _, err := Lookup(table); err != nil {
		return err
	}
	res, err := s.q().ExecContext(ctx, s.Dialect.Rebind(`DELETE FROM `+table+` WHERE id=?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return nil
}

func hasColumn(spec TableSpec, field string) bool {
	switch field {
	case "id", "created_at":
		return true
	}
	for _, c := range spec.Columns {
		if c == field {
			return true
		}
	}
	return false
}

func decodeBody(body string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
