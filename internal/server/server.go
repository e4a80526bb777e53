// Package server is the authoritative board store and its HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/api"
	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// maxRequestBytes caps request bodies.
const maxRequestBytes = 1 << 20

// Server serves the board API over a Store.
type Server struct {
	store  *Store
	logger *slog.Logger

	mu       sync.Mutex
	controls api.Controls
	rand     func() float64
	sleep    func(context.Context, time.Duration) error
}

// New returns a server over store with default fault controls.
func New(store *Store, logger *slog.Logger) *Server {
	return &Server{
		store:    store,
		logger:   logger,
		controls: api.DefaultControls(),
		rand:     rand.Float64,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Handler builds the router. allowedOrigins configures CORS; empty
// allows any origin.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	r := mux.NewRouter()

	data := r.NewRoute().Subrouter()
	data.Use(s.faults)
	data.HandleFunc(api.PathState, s.handleState).Methods(http.MethodGet)
	data.HandleFunc(api.PathLists, s.handleCreateList).Methods(http.MethodPost)
	data.HandleFunc(api.PathLists+"/{id}", s.handleUpdateList).Methods(http.MethodPut)
	data.HandleFunc(api.PathCards, s.handleCreateCard).Methods(http.MethodPost)
	data.HandleFunc(api.PathCards+"/{id}", s.handleUpdateCard).Methods(http.MethodPut)
	data.HandleFunc(api.PathCards+"/{id}/force", s.handleForceCard).Methods(http.MethodPut)
	data.HandleFunc(api.PathCards+"/{id}", s.handleDeleteCard).Methods(http.MethodDelete)
	data.HandleFunc(api.PathMove, s.handleMove).Methods(http.MethodPut)

	r.HandleFunc(api.PathControls, s.handleGetControls).Methods(http.MethodGet)
	r.HandleFunc(api.PathControls, s.handleSetControls).Methods(http.MethodPost)
	r.HandleFunc(api.PathReset, s.handleReset).Methods(http.MethodPost)
	r.HandleFunc(api.PathWS, s.handleWS)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept"},
	})

	return c.Handler(r)
}

// faults applies the configured delay and injected failures to data
// routes.
func (s *Server) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		ctl := s.controls
		fail := ctl.FailNext || (ctl.FailRate > 0 && s.rand() < ctl.FailRate)
		s.controls.FailNext = false
		s.mu.Unlock()

		if err := s.sleep(r.Context(), time.Duration(ctl.DelayMs)*time.Millisecond); err != nil {
			return
		}

		if fail {
			s.logger.Debug("injecting failure", slog.String("path", r.URL.Path))
			writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{
				Error:   api.CodeInjected,
				Message: "Injected server failure",
			})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a store error onto the wire contract.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *ConflictError

	switch {
	case errors.As(err, &ce):
		entity, mErr := json.Marshal(ce.Entity)
		if mErr != nil {
			s.writeError(w, r, mErr)
			return
		}

		writeJSON(w, http.StatusConflict, api.ErrorResponse{
			Error:        api.CodeConflict,
			EntityType:   ce.EntityType,
			ID:           ce.ID,
			ServerEntity: entity,
		})
	case errors.Is(err, kerrors.ErrNotFound):
		writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: api.CodeNotFound, Message: err.Error()})
	case errors.Is(err, kerrors.ErrValidation):
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: api.CodeBadRequest, Message: err.Error()})
	default:
		s.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: api.CodeInternal, Message: "internal error"})
	}
}

func decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return errors.Join(kerrors.ErrValidation, err)
	}

	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.State()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var req api.ListBody
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	l, err := s.store.CreateList(req.List)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, api.ListBody{List: l})
}

func (s *Server) handleUpdateList(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateListRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	l, err := s.store.UpdateList(mux.Vars(r)["id"], req.Patch, req.BaseVersion)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, api.ListBody{List: l})
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var req api.CardBody
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c, err := s.store.CreateCard(req.Card)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, api.CardBody{Card: c})
}

func (s *Server) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateCardRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	c, err := s.store.UpdateCard(mux.Vars(r)["id"], req.Patch, req.BaseVersion)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, api.CardBody{Card: c})
}

func (s *Server) handleForceCard(w http.ResponseWriter, r *http.Request) {
	var req api.CardBody
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	req.Card.ID = mux.Vars(r)["id"]

	c, err := s.store.ForceCard(req.Card)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, api.CardBody{Card: c})
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCard(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req api.MoveRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.store.MoveCard(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, api.MoveResponse{Card: res.Card, FromList: res.FromList, ToList: res.ToList})
}

func (s *Server) handleGetControls(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ctl := s.controls
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, ctl)
}

// controlsPatch is a partial update of the fault controls.
type controlsPatch struct {
	DelayMs  *int     `json:"delayMs"`
	FailRate *float64 `json:"failRate"`
	FailNext *bool    `json:"failNext"`
}

func (s *Server) handleSetControls(w http.ResponseWriter, r *http.Request) {
	var p controlsPatch
	if err := decode(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.mu.Lock()
	if p.DelayMs != nil {
		s.controls.DelayMs = max(0, *p.DelayMs)
	}

	if p.FailRate != nil {
		s.controls.FailRate = min(1, max(0, *p.FailRate))
	}

	if p.FailNext != nil {
		s.controls.FailNext = *p.FailNext
	}

	ctl := s.controls
	s.mu.Unlock()

	s.logger.Info("server controls updated",
		slog.Int("delay_ms", ctl.DelayMs),
		slog.Float64("fail_rate", ctl.FailRate),
		slog.Bool("fail_next", ctl.FailNext),
	)

	writeJSON(w, http.StatusOK, ctl)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Reset(); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.mu.Lock()
	s.controls = api.DefaultControls()
	s.mu.Unlock()

	s.logger.Info("server reset")

	writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
}
