package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cs-isia-racer/car/internal/capture"
	"github.com/cs-isia-racer/car/internal/types"
)

const defaultSessionLimit = 100

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondValue(w http.ResponseWriter, value any) {
	respondJSON(w, http.StatusOK, types.ValueResponse{Value: value})
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, types.ErrorResponse{Error: err.Error()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.cfg)
}

func (s *Server) handleCapturing(w http.ResponseWriter, _ *http.Request) {
	respondValue(w, s.capture.Capturing())
}

func (s *Server) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	info, err := s.capture.Start(r.Context(), s.captureDir(r))
	if err != nil {
		s.respondCaptureError(w, err)
		return
	}
	s.logger.Info("capture requested", slog.String("session", info.ID), slog.String("path", info.Path))
	respondValue(w, true)
}

func (s *Server) handleCaptureStop(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.capture.Stop(); err != nil {
		s.respondCaptureError(w, err)
		return
	}
	respondValue(w, false)
}

func (s *Server) respondCaptureError(w http.ResponseWriter, err error) {
	if capture.IsStateConflict(err) {
		respondError(w, http.StatusConflict, err)
		return
	}
	s.logger.Error("capture request failed", slog.String("error", err.Error()))
	respondError(w, http.StatusInternalServerError, err)
}

func (s *Server) handleCaptureSessions(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		respondJSON(w, http.StatusOK, []types.SessionRecord{})
		return
	}
	limit := defaultSessionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	records, err := s.catalog.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing capture sessions failed", slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []types.SessionRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleSteer(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "delta", s.controls.UpdateSteering)
}

func (s *Server) handleSteerSet(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "value", s.controls.SetSteering)
}

func (s *Server) handleThrottle(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "delta", s.controls.UpdateThrottle)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, param string, apply func(float64) (float64, error)) {
	raw := chi.URLParam(r, param)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New(param+" must be a number"))
		return
	}
	stored, err := apply(v)
	if err != nil {
		s.logger.Error("actuator write failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondValue(w, stored)
}

func (s *Server) handleStreamStart(w http.ResponseWriter, _ *http.Request) {
	respondValue(w, s.streamStats().Running)
}
