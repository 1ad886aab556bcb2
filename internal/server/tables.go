package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"avcb/internal/store"
)

// tableHandler serves the generic record surface under /api. Every table
// outside the public catalog answers 404.
type tableHandler struct {
	store  store.Store
	logger *zap.Logger
}

func (h tableHandler) routes(r chi.Router) {
	r.HandleFunc("/", h.serve)
	r.HandleFunc("/{table}", h.serve)
	r.HandleFunc("/{table}/{id}", h.serve)
}

func (h tableHandler) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if _, authErr := requireAdmin(r.Context()); authErr != nil {
		respondStatusError(w, authErr)
		return
	}
	table := chi.URLParam(r, "table")
	if table == "" {
		table = r.URL.Query().Get("table")
	}
	spec, err := store.Lookup(table)
	if err != nil || spec.Internal {
		respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "unknown table "+table, nil))
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		id = r.URL.Query().Get("id")
	}

	switch r.Method {
	case http.MethodGet:
		h.get(w, r, table, id)
	case http.MethodPost:
		h.create(w, r, table)
	case http.MethodPut, http.MethodDelete:
		if spec.AppendOnly {
			respondStatusError(w, newAPIError(http.StatusMethodNotAllowed, "method_not_allowed", table+" is append-only", nil))
			return
		}
		body, err := decodeRecord(r)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil))
			return
		}
		if id == "" {
			if v, ok := body["id"].(string); ok {
				id = v
			}
		}
		if id == "" {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil))
			return
		}
		if r.Method == http.MethodPut {
			h.update(w, r, table, id, body)
			return
		}
		h.delete(w, r, table, id)
	default:
		respondStatusError(w, newAPIError(http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed", nil))
	}
}

func (h tableHandler) get(w http.ResponseWriter, r *http.Request, table, id string) {
	if id != "" {
		rec, err := h.store.Get(r.Context(), table, id)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}
	var filters []store.Filter
	for _, field := range []string{"user_id", "process_id"} {
		if v := r.URL.Query().Get(field); v != "" {
			filters = append(filters, store.Filter{Field: field, Value: v})
		}
	}
	recs, err := h.store.Scan(r.Context(), table, filters...)
	if err != nil {
		h.fail(w, err)
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h tableHandler) create(w http.ResponseWriter, r *http.Request, table string) {
	body, err := decodeRecord(r)
	if err != nil {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil))
		return
	}
	id, err := h.store.Create(r.Context(), table, body)
	if err != nil {
		h.fail(w, err)
		return
	}
	rec, err := h.store.Get(r.Context(), table, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h tableHandler) update(w http.ResponseWriter, r *http.Request, table, id string, patch store.Record) {
	delete(patch, "id")
	if err := h.store.Update(r.Context(), table, id, patch); err != nil {
		h.fail(w, err)
		return
	}
	rec, err := h.store.Get(r.Context(), table, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h tableHandler) delete(w http.ResponseWriter, r *http.Request, table, id string) {
	if err := h.store.Delete(r.Context(), table, id); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (h tableHandler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrUnknownTable) {
		respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", err.Error(), nil))
		return
	}
	se := handleError(err)
	if se.GetStatus() >= http.StatusInternalServerError {
		h.logger.Error("table request failed", zap.Error(err))
	}
	respondStatusError(w, se)
}

// decodeRecord reads an optional JSON object body.
func decodeRecord(r *http.Request) (store.Record, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	rec := store.Record{}
	if strings.TrimSpace(string(data)) == "" {
		return rec, nil
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.New("body must be a JSON object")
	}
	return rec, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
