package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/capture"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/geometry"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/source"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/spectral"
	"github.com/himanishpuri/BlinkCal/pkg/logger"
	"github.com/himanishpuri/BlinkCal/pkg/models"
	"github.com/himanishpuri/BlinkCal/pkg/utils"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service blinkcal.Service
	config  *ServerConfig
	log     blinkcal.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	NominalRateHz  float64
	ExcludedBins   int
	MQTTBroker     string
	AllowedOrigins []string
}

// NewServer creates a new server instance
func NewServer(service blinkcal.Service, config *ServerConfig) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     logger.GetLogger().WithPrefix("server"),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// respondServiceError maps service errors onto status codes. Pipeline
// failures are reported as 422 with the failing stage.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, blinkcal.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if stage, ok := blinkcal.FailedStage(err); ok && stage != blinkcal.StagePersist {
		s.respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   http.StatusText(http.StatusUnprocessableEntity),
			Message: err.Error(),
			Code:    http.StatusUnprocessableEntity,
			Stage:   string(stage),
		})
		return
	}
	s.log.Errorf("Request failed: %v", err)
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

// decodeBody reads a JSON body into v, capped at limit bytes.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "BlinkCal API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":        "GET /health",
			"listSessions":  "GET /api/sessions",
			"createSession": "POST /api/sessions",
			"getSession":    "GET /api/sessions/{id}",
			"patchSession":  "PATCH /api/sessions/{id}",
			"deleteSession": "DELETE /api/sessions/{id}",
			"calibrate":     "POST /api/sessions/{id}/calibrate",
			"analyzePixel":  "POST /api/analyze/pixel",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleListSessions handles GET /api/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	recs, err := s.service.ListRecords()
	if err != nil {
		s.log.Errorf("Failed to list records: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve sessions")
		return
	}

	sessions := make([]SessionSummary, len(recs))
	for i, rec := range recs {
		sessions[i] = SessionSummary{
			SessionID:  rec.SessionID,
			Markers:    len(rec.BlinkingCircles),
			Detected:   len(rec.FFTCenters),
			Calibrated: len(rec.PaperToProjection) == 9,
			UpdatedAt:  rec.UpdatedAt,
		}
	}

	s.respondJSON(w, http.StatusOK, ListSessionsResponse{
		Sessions: sessions,
		Count:    len(sessions),
	})
}

// handleCreateSession handles POST /api/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(w, r, 1<<20, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = utils.NewSessionID()
	} else if !utils.ValidSessionID(req.SessionID) {
		s.respondError(w, http.StatusBadRequest, "Invalid session ID")
		return
	}

	rec, err := s.service.SaveMarkers(req.SessionID, req.Markers)
	if err != nil {
		s.log.Errorf("Failed to save markers for %s: %v", req.SessionID, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	s.log.Infof("Created session %s with %d markers", rec.SessionID, len(req.Markers))
	s.respondJSON(w, http.StatusCreated, rec)
}

// handleGetSession handles GET /api/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	rec, err := s.service.GetRecord(sessionID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

// handlePatchSession handles PATCH /api/sessions/{id}. Fields absent from
// the body keep their stored values.
func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	var patch models.RecordPatch
	if err := decodeBody(w, r, 1<<20, &patch); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if patch.Empty() {
		s.respondError(w, http.StatusBadRequest, "No fields to update")
		return
	}

	rec, err := s.service.UpdateRecord(sessionID, patch)
	if err != nil {
		if errors.Is(err, blinkcal.ErrInvalidRecord) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

// handleDeleteSession handles DELETE /api/sessions/{id}
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.service.DeleteRecord(sessionID); err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.log.Infof("Deleted session %s", sessionID)
	s.respondJSON(w, http.StatusOK, DeleteSessionResponse{
		Message:   "Session deleted successfully",
		SessionID: sessionID,
	})
}

// handleCalibrate handles POST /api/sessions/{id}/calibrate
func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request, sessionID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	var body CalibrateRequest
	if err := decodeBody(w, r, MaxBodyBytes, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := body.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rate := body.FrameRateHz
	if rate == 0 {
		rate = s.config.NominalRateHz
	}
	frames, err := decodeFrames(body.Frames, rate, decodeImage)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	batch, err := capture.NewBatch(sessionID, frames, rate)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := blinkcal.CalibrationRequest{
		SessionID: sessionID,
		Batch:     batch,
		Markers:   body.Markers,
		Camera:    body.Camera,
		Corners:   body.Corners,
	}
	if len(body.Pose) > 0 {
		pose, err := geometry.PoseFromSlice(body.Pose)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Pose = &pose
	}
	if body.Bounds != nil {
		req.Bounds = geometry.Bounds{Width: body.Bounds.Width, Height: body.Bounds.Height, Margin: body.Bounds.Margin}
	}

	s.log.Infof("Calibrating session %s: %d frames %dx%d at %.2f Hz",
		sessionID, batch.Len(), batch.Width, batch.Height, batch.SamplingRateHz)
	res, err := s.service.Calibrate(ctx, req)
	if err != nil {
		stage, staged := blinkcal.FailedStage(err)
		if res == nil || !staged || stage == blinkcal.StagePersist {
			s.respondServiceError(w, err)
			return
		}
		resp := newCalibrateResponse(res)
		resp.Stage = string(stage)
		resp.Error = err.Error()
		s.respondJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	s.respondJSON(w, http.StatusOK, newCalibrateResponse(res))
}

func decodeImage(data []byte) (models.Frame, error) {
	return source.Decode(bytes.NewReader(data))
}

// handleAnalyzePixel handles POST /api/analyze/pixel
func (s *Server) handleAnalyzePixel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req AnalyzePixelRequest
	if err := decodeBody(w, r, 4<<20, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(s.config.ExcludedBins); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	est := spectral.Estimate(req.Series, req.SamplingRateHz, req.Excluded(s.config.ExcludedBins))
	s.respondJSON(w, http.StatusOK, AnalyzePixelResponse{
		DominantBin:         est.DominantBin,
		DominantFrequencyHz: est.DominantFrequencyHz,
		Magnitude:           est.Magnitude,
		ResolutionHz:        req.SamplingRateHz / float64(len(req.Series)),
	})
}

// handleSessions routes /api/sessions
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListSessions(w, r)
	case http.MethodPost:
		s.handleCreateSession(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleSession routes /api/sessions/{id} and /api/sessions/{id}/calibrate
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	if rest == "" {
		s.respondError(w, http.StatusBadRequest, "Session ID required")
		return
	}
	parts := strings.Split(rest, "/")
	sessionID := parts[0]
	if !utils.ValidSessionID(sessionID) {
		s.respondError(w, http.StatusBadRequest, "Invalid session ID")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			s.handleGetSession(w, r, sessionID)
		case http.MethodPatch:
			s.handlePatchSession(w, r, sessionID)
		case http.MethodDelete:
			s.handleDeleteSession(w, r, sessionID)
		default:
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case len(parts) == 2 && parts[1] == "calibrate":
		if r.Method != http.MethodPost {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.handleCalibrate(w, r, sessionID)
	default:
		http.NotFound(w, r)
	}
}
