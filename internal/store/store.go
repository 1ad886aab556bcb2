package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"avcb/internal/apperr"
)

const (
	TableProcess         = "process"
	TableProcessHistory  = "process_history"
	TableProcessDocument = "process_document"
	TableProfile         = "profile"
	TableUserRole        = "user_role"
	TableCredential      = "credential"
)

var (
	// ErrNotFound is returned by Get, Update and Delete for a missing id.
	ErrNotFound = apperr.ErrNotFound
	// ErrUnknownTable is returned for any table outside the catalog.
	ErrUnknownTable = errors.New("unknown table")
)

// Record is one stored entity as a field map.
type Record map[string]any

// Filter is an equality condition on a top-level field.
type Filter struct {
	Field string
	Value string
}

// CRUD is the plain entity accessor.
type CRUD interface {
	Get(ctx context.Context, table, id string) (Record, error)
	Scan(ctx context.Context, table string, filters ...Filter) ([]Record, error)
	Create(ctx context.Context, table string, rec Record) (string, error)
	Update(ctx context.Context, table, id string, patch Record) error
	Delete(ctx context.Context, table, id string) error
}

// Store is a CRUD accessor that can also run an atomic unit of work.
// Inside fn, the given Store must be used for every read and write.
type Store interface {
	CRUD
	Tx(ctx context.Context, fn func(Store) error) error
}

// TableSpec describes the per-table id and timestamp rules.
type TableSpec struct {
	Name string
	// Stamped tables get updated_at on create and update.
	Stamped bool
	// ClientID tables require the caller to supply the id.
	ClientID bool
	// Columns are body fields mirrored into indexed columns.
	Columns []string
	// AppendOnly tables refuse update and delete from the public surface.
	AppendOnly bool
	// Internal tables are never exposed over HTTP.
	Internal bool
}

var tables = map[string]TableSpec{
	TableProcess:         {Name: TableProcess, Stamped: true, Columns: []string{"user_id", "process_number"}},
	TableProcessHistory:  {Name: TableProcessHistory, Columns: []string{"process_id"}, AppendOnly: true},
	TableProcessDocument: {Name: TableProcessDocument, Stamped: true, Columns: []string{"user_id", "process_id"}},
	TableProfile:         {Name: TableProfile, ClientID: true},
	TableUserRole:        {Name: TableUserRole, Columns: []string{"user_id"}},
	TableCredential:      {Name: TableCredential, ClientID: true, Internal: true},
}

// Lookup returns the spec for a table name.
func Lookup(table string) (TableSpec, error) {
	spec, ok := tables[table]
	if !ok {
		return TableSpec{}, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return spec, nil
}

// PublicTables lists the tables reachable through the generic HTTP surface.
func PublicTables() []string {
	var out []string
	for name, spec := range tables {
		if !spec.Internal {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// NewID returns a time-ordered record id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// TimestampLayout is RFC 3339 in UTC with a fixed nine-digit fraction, so
// stored timestamps order correctly as strings.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Timestamp formats t the way every stored timestamp is written.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func nowFn(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}

// prepareCreate copies rec and applies the table id and timestamp rules.
func prepareCreate(spec TableSpec, rec Record, now time.Time) (Record, error) {
	out := make(Record, len(rec)+3)
	for k, v := range rec {
		out[k] = v
	}
	id := stringField(out, "id")
	if id == "" {
		if spec.ClientID {
			return nil, apperr.Invalid("id", "is required for "+spec.Name)
		}
		id = NewID()
	}
	out["id"] = id
	ts := Timestamp(now)
	if stringField(out, "created_at") == "" {
		out["created_at"] = ts
	}
	if spec.Stamped {
		out["updated_at"] = ts
	}
	return out, nil
}

// merge applies patch onto existing, leaving immutable fields untouched.
func merge(spec TableSpec, existing, patch Record, now time.Time) Record {
	out := make(Record, len(existing)+len(patch)+1)
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range patch {
		if k == "id" || k == "created_at" {
			continue
		}
		out[k] = v
	}
	if spec.Stamped {
		out["updated_at"] = Timestamp(now)
	}
	return out
}

func stringField(rec Record, key string) string {
	v, ok := rec[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// matches reports whether rec satisfies every filter.
func matches(rec Record, filters []Filter) bool {
	for _, f := range filters {
		if stringField(rec, f.Field) != f.Value {
			return false
		}
	}
	return true
}

// SortByCreated orders records oldest first, using id to break ties.
func SortByCreated(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		ci, cj := stringField(recs[i], "created_at"), stringField(recs[j], "created_at")
		if ci != cj {
			return ci < cj
		}
		return stringField(recs[i], "id") < stringField(recs[j], "id")
	})
}
