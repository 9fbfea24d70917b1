package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// CommandBus dispatches the commands state machine transitions emit.
type CommandBus interface {
	Dispatch(ctx context.Context, command string, row map[string]any) error
}

type noopBus struct{}

func (noopBus) Dispatch(context.Context, string, map[string]any) error { return nil }

// APIConfig wires the generated REST surface.
type APIConfig struct {
	Store  *Store
	Bus    CommandBus
	Logger *slog.Logger
}

// RegisterRoutes mounts CRUD and transition routes for every declared
// resource under /api/v1/{resource}, speaking JSON:API.
func RegisterRoutes(router chi.Router, cfg APIConfig) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bus == nil {
		cfg.Bus = noopBus{}
	}

	resources := cfg.Store.Resources()
	for i := range resources {
		h := &resourceAPI{res: &resources[i], cfg: cfg}
		prefix := "/api/v1/" + h.res.Name

		router.Get(prefix, h.list)
		router.Post(prefix, h.create)
		router.Get(prefix+"/{id}", h.get)
		router.Patch(prefix+"/{id}", h.update)
		router.Delete(prefix+"/{id}", h.delete)
		if h.res.StateMachine != nil {
			router.Post(prefix+"/{id}/transition/{state}", h.transition)
		}

		cfg.Logger.Debug("registered routes", "resource", h.res.Name, "prefix", prefix)
	}
}

// resourceAPI serves one resource's routes.
type resourceAPI struct {
	res *Resource
	cfg APIConfig
}

func (h *resourceAPI) list(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)

	// filter[field]=value query params become equality filters.
	var filters []Filter
	for key, values := range r.URL.Query() {
		if strings.HasPrefix(key, "filter[") && strings.HasSuffix(key, "]") && len(values) > 0 {
			filters = append(filters, Filter{Field: key[7 : len(key)-1], Value: values[0]})
		}
	}

	rows, err := h.cfg.Store.List(r.Context(), h.res.Name, filters, page)
	if err != nil {
		h.fail(w, err)
		return
	}

	docs := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, h.document(row))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": docs,
		"meta": map[string]any{
			"total":  len(rows),
			"limit":  page.Limit,
			"offset": page.Offset,
		},
	})
}

func (h *resourceAPI) get(w http.ResponseWriter, r *http.Request) {
	row, err := h.cfg.Store.Get(r.Context(), h.res.Name, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, row)
}

func (h *resourceAPI) create(w http.ResponseWriter, r *http.Request) {
	data, err := parseJSONAPIBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if h.res.BeforeCreate != nil {
		if err := h.res.BeforeCreate(r.Context(), data); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	row, err := h.cfg.Store.Create(r.Context(), h.res.Name, data)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusCreated, row)
}

func (h *resourceAPI) update(w http.ResponseWriter, r *http.Request) {
	data, err := parseJSONAPIBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	row, err := h.cfg.Store.Update(r.Context(), h.res.Name, chi.URLParam(r, "id"), data)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, http.StatusOK, row)
}

func (h *resourceAPI) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	existing, err := h.cfg.Store.Get(ctx, h.res.Name, id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if h.res.BeforeDelete != nil {
		if err := h.res.BeforeDelete(ctx, existing); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	}
	if err := h.cfg.Store.Delete(ctx, h.res.Name, id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *resourceAPI) transition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	state := chi.URLParam(r, "state")

	row, cmd, err := h.cfg.Store.Transition(ctx, h.res.Name, id, state)
	if err != nil {
		h.fail(w, err)
		return
	}

	if cmd != "" {
		if err := h.cfg.Bus.Dispatch(ctx, cmd, row); err != nil {
			// State change is already persisted; the handler records its own failure.
			h.cfg.Logger.Error("command dispatch failed", "command", cmd, "error", err)
		}
	}

	// The handler may have advanced the row further; return the latest.
	if fresh, err := h.cfg.Store.Get(ctx, h.res.Name, id); err == nil {
		row = fresh
	}
	h.respond(w, http.StatusOK, row)
}

// fail maps store sentinel errors onto HTTP statuses.
func (h *resourceAPI) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, h.res.Name+" not found")
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrGuardFailed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *resourceAPI) respond(w http.ResponseWriter, status int, row map[string]any) {
	writeJSON(w, status, map[string]any{"data": h.document(row)})
}

// document renders a row as a JSON:API resource object. The integer primary
// key stays internal; reference_id is the public id.
func (h *resourceAPI) document(row map[string]any) map[string]any {
	refID, _ := row["reference_id"].(string)
	attrs := make(map[string]any, len(row))
	for k, v := range row {
		if k == "id" || k == "reference_id" {
			continue
		}
		attrs[k] = v
	}
	return map[string]any{
		"type":       h.res.Name,
		"id":         refID,
		"attributes": attrs,
	}
}

func parseJSONAPIBody(r *http.Request) (map[string]any, error) {
	var body struct {
		Data struct {
			Type       string         `json:"type"`
			Attributes map[string]any `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.Data.Attributes == nil {
		return nil, fmt.Errorf("missing data.attributes in request body")
	}
	return body.Data.Attributes, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{
		"errors": []map[string]any{{
			"status": strconv.Itoa(status),
			"title":  http.StatusText(status),
			"detail": detail,
		}},
	})
}

func parsePage(r *http.Request) Page {
	p := DefaultPage()
	q := r.URL.Query()
	if v := q.Get("page[size]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Limit = n
		}
	}
	if v := q.Get("page[offset]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Offset = n
		}
	}
	if v := q.Get("page[number]"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Offset = (n - 1) * p.Limit
		}
	}
	return p.Normalize()
}
