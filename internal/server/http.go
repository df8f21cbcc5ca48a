// Package server exposes the closure engine over HTTP. Authentication
// and sessions live in the dashboard gateway in front of this service;
// operator identity arrives in headers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"CierreLedger/internal/archive"
	"CierreLedger/internal/cleanup"
	"CierreLedger/internal/directory"
	"CierreLedger/internal/lock"
	"CierreLedger/internal/observability"
	"CierreLedger/internal/period"
	"CierreLedger/internal/query"
)

// Archiver is the archival surface the server drives.
type Archiver interface {
	Archive(ctx context.Context, op directory.Operator, hint *time.Time) (*archive.Report, error)
	ArchiveParticipant(ctx context.Context, op directory.Operator, periodStart time.Time, participantID uuid.UUID) (*archive.Report, error)
}

// Cleaner is the cleanup surface the server drives.
type Cleaner interface {
	Cleanup(ctx context.Context, op directory.Operator, hint *time.Time) (*cleanup.Report, *cleanup.Readiness, error)
	Validate(ctx context.Context, per period.Period) (*cleanup.Readiness, error)
	TargetPeriod(hint *time.Time) (period.Period, error)
}

// Server wires the engine's operations onto a chi router.
type Server struct {
	archiver Archiver
	cleaner  Cleaner
	status   *query.Service
	locks    *lock.Manager
	health   *observability.HealthChecker
	log      zerolog.Logger
}

func New(archiver Archiver, cleaner Cleaner, status *query.Service, locks *lock.Manager, health *observability.HealthChecker, log zerolog.Logger) *Server {
	return &Server{
		archiver: archiver,
		cleaner:  cleaner,
		status:   status,
		locks:    locks,
		health:   health,
		log:      log,
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Archival over a few thousand participants is minutes, not seconds.
	r.Use(middleware.Timeout(15 * time.Minute))

	if s.health != nil {
		r.Get("/healthz", s.health.LivenessHandler)
		r.Get("/readyz", s.health.ReadinessHandler)
	}

	r.Route("/v1/close", func(r chi.Router) {
		r.Post("/archive", s.handleArchive)
		r.Post("/archive/participants/{participantID}", s.handleArchiveParticipant)
		r.Get("/archive/status", s.handleArchiveStatus)
		r.Get("/archive/records", s.handleArchiveRecords)
		r.Get("/snapshot", s.handleSnapshot)
		r.Post("/cleanup", s.handleCleanup)
		r.Get("/cleanup/readiness", s.handleCleanupReadiness)
		r.Post("/locks/{lockID}/force-release", s.handleForceRelease)
	})

	return r
}

type closeRequest struct {
	PeriodDate string `json:"period_date,omitempty"` // YYYY-MM-DD, a 1st or a 16th
}

type errorResponse struct {
	Error            string   `json:"error"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

type alreadyRunningResponse struct {
	AlreadyRunning bool      `json:"already_running"`
	Holder         string    `json:"holder"`
	AcquiredAt     time.Time `json:"acquired_at"`
	LockID         string    `json:"lock_id,omitempty"`
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	op, ok := s.operator(w, r)
	if !ok {
		return
	}
	hint, ok := s.periodHint(w, r)
	if !ok {
		return
	}

	report, err := s.archiver.Archive(r.Context(), op, hint)
	if err != nil {
		s.writeArchiveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleArchiveParticipant(w http.ResponseWriter, r *http.Request) {
	op, ok := s.operator(w, r)
	if !ok {
		return
	}

	participantID, err := uuid.Parse(chi.URLParam(r, "participantID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid participant id"})
		return
	}

	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.PeriodDate == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "period_date is required for participant repair"})
		return
	}
	per, err := period.ParseStart(req.PeriodDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	report, err := s.archiver.ArchiveParticipant(r.Context(), op, per.Date, participantID)
	if err != nil {
		s.writeArchiveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleArchiveStatus(w http.ResponseWriter, r *http.Request) {
	per, ok := s.requiredPeriod(w, r)
	if !ok {
		return
	}

	st, err := s.status.ArchiveStatus(r.Context(), per)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleArchiveRecords(w http.ResponseWriter, r *http.Request) {
	per, ok := s.requiredPeriod(w, r)
	if !ok {
		return
	}
	recs, err := s.status.Records(r.Context(), per)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	per, ok := s.requiredPeriod(w, r)
	if !ok {
		return
	}
	snap, err := s.status.Snapshot(r.Context(), per)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no snapshot exists for period " + per.String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batch_id":    snap.BatchID.String(),
		"period_date": snap.PeriodDate.Format("2006-01-02"),
		"period_type": snap.PeriodType,
		"operator":    snap.Operator,
		"created_at":  snap.CreatedAt,
		"payload":     json.RawMessage(snap.Payload),
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	op, ok := s.operator(w, r)
	if !ok {
		return
	}
	hint, ok := s.periodHint(w, r)
	if !ok {
		return
	}

	report, readiness, err := s.cleaner.Cleanup(r.Context(), op, hint)
	if err != nil {
		var held *lock.HeldError
		switch {
		case errors.As(err, &held):
			writeJSON(w, http.StatusConflict, alreadyRunningResponse{
				AlreadyRunning: true,
				Holder:         held.Holder,
				AcquiredAt:     held.AcquiredAt,
				LockID:         held.LockID.String(),
			})
		case errors.Is(err, cleanup.ErrValidationFailed):
			resp := errorResponse{Error: err.Error()}
			if readiness != nil {
				resp.ValidationErrors = readiness.Errors
			}
			writeJSON(w, http.StatusUnprocessableEntity, resp)
		default:
			s.internalError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCleanupReadiness(w http.ResponseWriter, r *http.Request) {
	hint, ok := s.periodHintQuery(w, r)
	if !ok {
		return
	}
	per, err := s.cleaner.TargetPeriod(hint)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	readiness, err := s.cleaner.Validate(r.Context(), per)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readiness)
}

func (s *Server) handleForceRelease(w http.ResponseWriter, r *http.Request) {
	op, ok := s.operator(w, r)
	if !ok {
		return
	}

	lockID, err := uuid.Parse(chi.URLParam(r, "lockID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid lock id"})
		return
	}

	released, err := s.locks.ForceRelease(r.Context(), lockID, op.ID)
	if err != nil {
		if errors.Is(err, lock.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "lock not found"})
			return
		}
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lock_id":  released.ID.String(),
		"status":   released.Status,
		"reason":   released.Reason,
		"released": true,
	})
}

// writeArchiveError maps pipeline errors onto status codes: contention
// is 409 (a signal, not a failure), precondition refusals are 422,
// anything else is a hard 500.
func (s *Server) writeArchiveError(w http.ResponseWriter, err error) {
	var held *lock.HeldError
	switch {
	case errors.As(err, &held):
		writeJSON(w, http.StatusConflict, alreadyRunningResponse{
			AlreadyRunning: true,
			Holder:         held.Holder,
			AcquiredAt:     held.AcquiredAt,
			LockID:         held.LockID.String(),
		})
	case errors.Is(err, archive.ErrNotClosureDay),
		errors.Is(err, archive.ErrAlreadyArchived),
		errors.Is(err, archive.ErrParticipantArchived),
		errors.Is(err, archive.ErrPeriodStillOpen):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	default:
		s.internalError(w, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

// operator builds the caller identity from gateway-injected headers.
func (s *Server) operator(w http.ResponseWriter, r *http.Request) (directory.Operator, bool) {
	id := r.Header.Get("X-Operator-Id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "X-Operator-Id header is required"})
		return directory.Operator{}, false
	}
	return directory.Operator{
		ID:      id,
		Root:    r.Header.Get("X-Operator-Root") == "true",
		GroupID: r.Header.Get("X-Operator-Group"),
	}, true
}

func (s *Server) periodHint(w http.ResponseWriter, r *http.Request) (*time.Time, bool) {
	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return nil, false
	}
	if req.PeriodDate == "" {
		return nil, true
	}
	per, err := period.ParseStart(req.PeriodDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return nil, false
	}
	d := per.Date
	return &d, true
}

// requiredPeriod parses the mandatory ?period= query parameter.
func (s *Server) requiredPeriod(w http.ResponseWriter, r *http.Request) (period.Period, bool) {
	raw := r.URL.Query().Get("period")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "period query parameter is required (YYYY-MM-DD)"})
		return period.Period{}, false
	}
	per, err := period.ParseStart(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return period.Period{}, false
	}
	return per, true
}

func (s *Server) periodHintQuery(w http.ResponseWriter, r *http.Request) (*time.Time, bool) {
	raw := r.URL.Query().Get("period")
	if raw == "" {
		return nil, true
	}
	per, err := period.ParseStart(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return nil, false
	}
	d := per.Date
	return &d, true
}

func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
