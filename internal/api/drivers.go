package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-drivers/internal/driver"
	"github.com/nerrad567/gray-logic-drivers/internal/field"
	"github.com/nerrad567/gray-logic-drivers/internal/trigger"
)

// Request timeouts for calls that reach a device.
const (
	writeTimeout   = 15 * time.Second
	commandTimeout = 30 * time.Second
)

// FieldView is the JSON form of a field with its current value.
type FieldView struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Access string `json:"access"`
	Sem    string `json:"sem"`
	Limits string `json:"limits,omitempty"`
	State  string `json:"state"`
	Value  string `json:"value,omitempty"`
}

// WriteRequest is the body of PUT /api/drivers/{moniker}/fields/{name}.
type WriteRequest struct {
	Value string `json:"value"`
}

// CommandRequest is the body of POST /api/drivers/{moniker}/commands.
type CommandRequest struct {
	Command string `json:"command"`
	Arg     string `json:"arg,omitempty"`
}

// CommandResponse carries a command reply.
type CommandResponse struct {
	Reply string `json:"reply"`
}

func newFieldView(def field.Def, v field.Value, st field.State) FieldView {
	fv := FieldView{
		Name:   def.Name,
		Type:   def.Type.String(),
		Access: def.Access.String(),
		Sem:    string(def.Sem),
		Limits: def.Limits,
		State:  st.String(),
	}
	if st == field.StateGood {
		fv.Value = v.Format()
	}
	return fv
}

// fieldParam returns the field name from the path. Field names carry '#',
// which clients send escaped.
func fieldParam(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

// handleListDrivers returns the status of every instance.
func (s *Server) handleListDrivers(w http.ResponseWriter, _ *http.Request) {
	statuses := s.drivers.Statuses()
	if statuses == nil {
		statuses = []driver.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"drivers": statuses,
		"count":   len(statuses),
	})
}

// handleGetDriver returns one instance's status.
func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	st, err := s.drivers.Status(chi.URLParam(r, "moniker"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handlePutDriver adds or reconfigures an instance from a YAML config body.
func (s *Server) handlePutDriver(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading body: "+err.Error())
		return
	}
	cfg, err := driver.DecodeConfigYAML(body)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if _, err := s.drivers.Status(cfg.Moniker); errors.Is(err, driver.ErrInstanceNotFound) {
		err = s.drivers.Add(r.Context(), cfg)
		status = http.StatusCreated
		if err != nil {
			writeDomainError(w, err)
			return
		}
	} else if err := s.drivers.Reconfigure(r.Context(), cfg); err != nil {
		writeDomainError(w, err)
		return
	}

	st, err := s.drivers.Status(cfg.Moniker)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, status, st)
}

// handleDeleteDriver terminates an instance and forgets its config.
func (s *Server) handleDeleteDriver(w http.ResponseWriter, r *http.Request) {
	if err := s.drivers.Remove(r.Context(), chi.URLParam(r, "moniker")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListFields returns every field of an instance with its value.
func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	moniker := chi.URLParam(r, "moniker")
	defs, err := s.drivers.FieldDefs(moniker)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]FieldView, 0, len(defs))
	for _, def := range defs {
		_, v, st, err := s.drivers.Snapshot(moniker, def.Name)
		if err != nil {
			// The instance was reconfigured under us; report what is left.
			continue
		}
		views = append(views, newFieldView(def, v, st))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fields": views,
		"count":  len(views),
	})
}

// handleGetField returns one field.
func (s *Server) handleGetField(w http.ResponseWriter, r *http.Request) {
	def, v, st, err := s.drivers.Snapshot(chi.URLParam(r, "moniker"), fieldParam(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFieldView(def, v, st))
}

// handlePutField writes a field. The value is text in the field's format.
func (s *Server) handlePutField(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	moniker, name := chi.URLParam(r, "moniker"), fieldParam(r)

	ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
	defer cancel()
	if err := s.drivers.WriteText(ctx, moniker, name, req.Value); err != nil {
		writeDomainError(w, err)
		return
	}

	def, v, st, err := s.drivers.Snapshot(moniker, name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFieldView(def, v, st))
}

// handleCommand runs a backdoor command.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeBadRequest(w, "command is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	reply, err := s.drivers.Command(ctx, chi.URLParam(r, "moniker"), req.Command, req.Arg)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CommandResponse{Reply: reply})
}

// handleListTriggers returns recent trigger events, newest first.
//
// Query parameters: moniker, kind, since (RFC 3339), limit.
func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	if s.triggers == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "trigger log not configured")
		return
	}

	q := r.URL.Query()
	f := trigger.Filter{
		Moniker: q.Get("moniker"),
		Kind:    trigger.Kind(q.Get("kind")),
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeBadRequest(w, "since must be RFC 3339")
			return
		}
		f.Since = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	events, err := s.triggers.List(r.Context(), f)
	if err != nil {
		s.logger.Error("listing triggers", "error", err)
		writeInternalError(w, "listing triggers failed")
		return
	}
	if events == nil {
		events = []trigger.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"triggers": events,
		"count":    len(events),
	})
}
