package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/capture"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/geometry"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/source"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/spectral"
	"github.com/himanishpuri/BlinkCal/pkg/logger"
	"github.com/himanishpuri/BlinkCal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	records   map[string]*models.CalibrationRecord
	lastReq   blinkcal.CalibrationRequest
	calibrate func(req blinkcal.CalibrationRequest) (*blinkcal.CalibrationResult, error)
}

func newFakeService() *fakeService {
	return &fakeService{records: map[string]*models.CalibrationRecord{}}
}

func (f *fakeService) Capture(ctx context.Context, sessionID string, src capture.Source) (*capture.Batch, error) {
	return nil, fmt.Errorf("not used")
}

func (f *fakeService) Calibrate(ctx context.Context, req blinkcal.CalibrationRequest) (*blinkcal.CalibrationResult, error) {
	f.lastReq = req
	return f.calibrate(req)
}

func (f *fakeService) SaveMarkers(sessionID string, markers []models.EmitterMarker) (*models.CalibrationRecord, error) {
	circles := models.CirclesFromMarkers(markers)
	return f.UpdateRecord(sessionID, models.RecordPatch{BlinkingCircles: &circles})
}

func (f *fakeService) UpdateRecord(sessionID string, patch models.RecordPatch) (*models.CalibrationRecord, error) {
	if patch.PoseMatrix != nil {
		if _, err := geometry.PoseFromSlice(*patch.PoseMatrix); err != nil {
			return nil, fmt.Errorf("%w: %w", blinkcal.ErrInvalidRecord, err)
		}
	}
	rec, ok := f.records[sessionID]
	if !ok {
		rec = &models.CalibrationRecord{SessionID: sessionID, CreatedAt: time.Now()}
		f.records[sessionID] = rec
	}
	if patch.BlinkingCircles != nil {
		rec.BlinkingCircles = *patch.BlinkingCircles
	}
	if patch.PoseMatrix != nil {
		rec.PoseMatrix = *patch.PoseMatrix
	}
	if patch.PaperToProjection != nil {
		rec.PaperToProjection = *patch.PaperToProjection
	}
	rec.UpdatedAt = time.Now()
	return rec, nil
}

func (f *fakeService) GetRecord(sessionID string) (*models.CalibrationRecord, error) {
	rec, ok := f.records[sessionID]
	if !ok {
		return nil, blinkcal.ErrNotFound
	}
	return rec, nil
}

func (f *fakeService) ListRecords() ([]models.CalibrationRecord, error) {
	var out []models.CalibrationRecord
	for _, rec := range f.records {
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeService) DeleteRecord(sessionID string) error {
	if _, ok := f.records[sessionID]; !ok {
		return blinkcal.ErrNotFound
	}
	delete(f.records, sessionID)
	return nil
}

func (f *fakeService) Close() error { return nil }

func setupTestServer(t *testing.T) (*fakeService, http.Handler) {
	t.Helper()
	svc := newFakeService()
	s := NewServer(svc, &ServerConfig{
		NominalRateHz:  30,
		ExcludedBins:   spectral.DefaultExcludedBins,
		AllowedOrigins: []string{"*"},
	})
	s.log = logger.Discard()
	return svc, s.setupRoutes()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

var testMarkers = []models.EmitterMarker{
	{ID: 1, FrequencyHz: 3, Reference: models.Point2D{X: 0, Y: 0}},
	{ID: 2, FrequencyHz: 5, Reference: models.Point2D{X: 100, Y: 0}},
}

func TestHealth(t *testing.T) {
	_, h := setupTestServer(t)
	rr := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestSessionLifecycle(t *testing.T) {
	_, h := setupTestServer(t)

	rr := doJSON(t, h, http.MethodPost, "/api/sessions", CreateSessionRequest{SessionID: "lab-1", Markers: testMarkers})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = doJSON(t, h, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list ListSessionsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "lab-1", list.Sessions[0].SessionID)
	assert.Equal(t, 2, list.Sessions[0].Markers)
	assert.False(t, list.Sessions[0].Calibrated)

	rr = doJSON(t, h, http.MethodPatch, "/api/sessions/lab-1",
		map[string]any{"paperToProjection": []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var rec models.CalibrationRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Len(t, rec.BlinkingCircles, 2, "markers survive a partial update")
	assert.Len(t, rec.PaperToProjection, 9)

	rr = doJSON(t, h, http.MethodPatch, "/api/sessions/lab-1", map[string]any{"poseMatrix": []float64{1, 2}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, h, http.MethodPatch, "/api/sessions/lab-1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, h, http.MethodDelete, "/api/sessions/lab-1", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/api/sessions/lab-1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateSessionValidation(t *testing.T) {
	_, h := setupTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"no markers", CreateSessionRequest{SessionID: "a"}},
		{"zero frequency", CreateSessionRequest{Markers: []models.EmitterMarker{{ID: 1}}}},
		{"bad id", CreateSessionRequest{SessionID: "../etc", Markers: testMarkers}},
		{"unknown field", map[string]any{"markers": testMarkers, "extra": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, h, http.MethodPost, "/api/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestSessionRouting(t *testing.T) {
	_, h := setupTestServer(t)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodGet, "/api/sessions/", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, doJSON(t, h, http.MethodPut, "/api/sessions/x", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, doJSON(t, h, http.MethodGet, "/api/sessions/x/calibrate", nil).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/api/sessions/x/other", nil).Code)
	assert.Equal(t, http.StatusNoContent, doJSON(t, h, http.MethodOptions, "/api/sessions", nil).Code)
}

func encodedFrames(t *testing.T, n int) []string {
	t.Helper()
	out := make([]string, n)
	for i := range out {
		f := models.Frame{Width: 2, Height: 2, Luma: []float64{0.1, 0.2, 0.3, float64(i%2) * 0.5}}
		var buf bytes.Buffer
		require.NoError(t, source.Encode(&buf, f))
		out[i] = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return out
}

func TestCalibrate(t *testing.T) {
	svc, h := setupTestServer(t)
	svc.calibrate = func(req blinkcal.CalibrationRequest) (*blinkcal.CalibrationResult, error) {
		return &blinkcal.CalibrationResult{
			SessionID:      req.SessionID,
			SamplingRateHz: req.Batch.SamplingRateHz,
			Points:         []models.FrequencyPoint{{X: 1, Y: 1, FrequencyHz: 5, PixelCount: 1}},
			Matches: []models.CorrespondenceMatch{{
				Marker: testMarkers[1], Planar: models.Point2D{X: 1, Y: 1}, PlanarOK: true,
			}},
			Unmatched:   testMarkers[:1],
			Homography:  geometry.IdentityHomography(),
			InlierCount: 4,
		}, nil
	}

	body := CalibrateRequest{
		Frames:      encodedFrames(t, 8),
		FrameRateHz: 20,
		Pose:        geometry.PoseToSlice(geometry.IdentityPose()),
		Bounds:      &BoundsDTO{Width: 640, Height: 480},
	}
	rr := doJSON(t, h, http.MethodPost, "/api/sessions/lab-1/calibrate", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp CalibrateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "lab-1", resp.SessionID)
	assert.InDelta(t, 20, resp.SamplingRateHz, 1e-6)
	assert.Equal(t, []int{1}, resp.UnmatchedIDs)
	require.Len(t, resp.Matches, 1)
	assert.NotNil(t, resp.Matches[0].Planar)
	assert.Equal(t, geometry.IdentityHomography().Slice(), resp.Homography)

	assert.Equal(t, 8, svc.lastReq.Batch.Len())
	assert.Equal(t, 2, svc.lastReq.Batch.Width)
	require.NotNil(t, svc.lastReq.Pose)
	assert.Equal(t, 640.0, svc.lastReq.Bounds.Width)
}

func TestCalibrateStageFailure(t *testing.T) {
	svc, h := setupTestServer(t)
	svc.calibrate = func(req blinkcal.CalibrationRequest) (*blinkcal.CalibrationResult, error) {
		res := &blinkcal.CalibrationResult{SessionID: req.SessionID, SamplingRateHz: req.Batch.SamplingRateHz}
		return res, &blinkcal.StageError{Stage: blinkcal.StageHomography, Err: geometry.ErrInsufficientCorrespondences}
	}

	rr := doJSON(t, h, http.MethodPost, "/api/sessions/lab-1/calibrate", CalibrateRequest{Frames: encodedFrames(t, 4)})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var resp CalibrateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "homography", resp.Stage)
	assert.Contains(t, resp.Error, "insufficient correspondences")
	assert.InDelta(t, 30, resp.SamplingRateHz, 1e-6, "server nominal rate applies")
	assert.Empty(t, resp.Homography)
}

func TestCalibrateRejectsBadUploads(t *testing.T) {
	_, h := setupTestServer(t)

	tests := []struct {
		name string
		body CalibrateRequest
		want string
	}{
		{"empty", CalibrateRequest{}, "frames cannot be empty"},
		{"not power of two", CalibrateRequest{Frames: encodedFrames(t, 3)}, "power of two"},
		{"bad base64", CalibrateRequest{Frames: []string{"!!", "!!"}}, "invalid base64"},
		{"bad pose", CalibrateRequest{Frames: encodedFrames(t, 2), Pose: []float64{1}}, "pose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, h, http.MethodPost, "/api/sessions/s/calibrate", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, strings.ToLower(rr.Body.String()), tt.want)
		})
	}
}

func TestAnalyzePixel(t *testing.T) {
	_, h := setupTestServer(t)

	series := make([]float64, 64)
	for i := range series {
		if (i/4)%2 == 0 {
			series[i] = 1
		}
	}
	rr := doJSON(t, h, http.MethodPost, "/api/analyze/pixel",
		AnalyzePixelRequest{Series: series, SamplingRateHz: 64, ExcludedBins: intPtr(1)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp AnalyzePixelResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 8, resp.DominantBin)
	assert.InDelta(t, 8, resp.DominantFrequencyHz, 1e-9)
	assert.InDelta(t, 1, resp.ResolutionHz, 1e-9)

	rr = doJSON(t, h, http.MethodPost, "/api/analyze/pixel",
		AnalyzePixelRequest{Series: series[:10], SamplingRateHz: 64})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func intPtr(v int) *int { return &v }

func TestAnalyzePixelDefaultsExcludedBins(t *testing.T) {
	_, h := setupTestServer(t)

	// Strong DC and a bin-1 drift dominate unless the low bins are excluded.
	series := make([]float64, 16)
	for i := range series {
		x := 2 * math.Pi * float64(i) / 16
		series[i] = 0.5 + 0.45*math.Sin(x) + 0.2*math.Sin(5*x)
	}

	rr := doJSON(t, h, http.MethodPost, "/api/analyze/pixel",
		map[string]any{"series": series, "samplingRateHz": 16})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp AnalyzePixelResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.DominantBin)
	assert.InDelta(t, 5, resp.DominantFrequencyHz, 1e-9)
	assert.InDelta(t, 0.2, resp.Magnitude, 1e-9)

	rr = doJSON(t, h, http.MethodPost, "/api/analyze/pixel",
		AnalyzePixelRequest{Series: series, SamplingRateHz: 16, ExcludedBins: intPtr(0)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.DominantBin, "an explicit zero keeps DC in play")

	rr = doJSON(t, h, http.MethodPost, "/api/analyze/pixel",
		AnalyzePixelRequest{Series: series, SamplingRateHz: 16, ExcludedBins: intPtr(8)})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
