package store

import (
	"context"
	"fmt"

	avcbsdk "avcb/sdk/go"
)

// remote talks to the generic /api table surface of another portal instance.
type remote struct {
	client *avcbsdk.Client
}

// NewRemote returns a Store over the HTTP table API. Units of work are
// sagas, since the remote surface has no transactions.
func NewRemote(client *avcbsdk.Client) Store {
	return NewSaga(&remote{client: client})
}

func (r *remote) Get(ctx context.Context, table, id string) (Record, error) {
	rec, err := r.client.GetRecord(ctx, table, id)
	if err != nil {
		return nil, remoteErr(table, id, err)
	}
	return Record(rec), nil
}

func (r *remote) Scan(ctx context.Context, table string, filters ...Filter) ([]Record, error) {
	var server, local []Filter
	for _, f := range filters {
		if len(server) == 0 && (f.Field == "user_id" || f.Field == "process_id") {
			server = append(server, f)
			continue
		}
		local = append(local, f)
	}
	field, value := "", ""
	if len(server) == 1 {
		field, value = server[0].Field, server[0].Value
	}
	items, err := r.client.ScanRecords(ctx, table, field, value)
	if err != nil {
		return nil, remoteErr(table, "", err)
	}
	out := make([]Record, 0, len(items))
	for _, it := range items {
		rec := Record(it)
		if matches(rec, local) {
			out = append(out, rec)
		}
	}
	SortByCreated(out)
	return out, nil
}

func (r *remote) Create(ctx context.Context, table string, rec Record) (string, error) {
	out, err := r.client.CreateRecord(ctx, table, rec)
	if err != nil {
		return "", remoteErr(table, "", err)
	}
	id := stringField(Record(out), "id")
	if id == "" {
		return "", fmt.Errorf("create %s: response without id", table)
	}
	return id, nil
}

func (r *remote) Update(ctx context.Context, table, id string, patch Record) error {
	if _, err := r.client.UpdateRecord(ctx, table, id, patch); err != nil {
		return remoteErr(table, id, err)
	}
	return nil
}

func (r *remote) Delete(ctx context.Context, table, id string) error {
	if err := r.client.DeleteRecord(ctx, table, id); err != nil {
		return remoteErr(table, id, err)
	}
	return nil
}

func remoteErr(table, id string, err error) error {
	if avcbsdk.IsNotFound(err) {
		return fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return fmt.Errorf("remote %s: %w", table, err)
}
