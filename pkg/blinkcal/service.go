package blinkcal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/capture"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/extract"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/geometry"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/match"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/spectral"
	"github.com/himanishpuri/BlinkCal/pkg/logger"
	"github.com/himanishpuri/BlinkCal/pkg/models"
)

// calibrationService is the default implementation of the Service interface.
type calibrationService struct {
	storage   Storage
	publisher Publisher
	analyzer  *spectral.Analyzer
	log       Logger
	config    *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if cfg.Solver == nil {
		cfg.Solver = geometry.SVDSolver{}
	}
	if !capture.IsPowerOfTwo(cfg.BufferLength) {
		return nil, fmt.Errorf("buffer length %d: %w", cfg.BufferLength, capture.ErrNotPowerOfTwo)
	}

	analyzer := spectral.NewAnalyzer(
		spectral.WithExcludedBins(cfg.ExcludedBins),
		spectral.WithWorkers(cfg.Workers),
		spectral.WithLogger(stageLogger(cfg.Logger, "spectral")),
	)
	if err := analyzer.Validate(cfg.BufferLength); err != nil {
		return nil, fmt.Errorf("buffer length %d: %w", cfg.BufferLength, err)
	}

	var stor Storage
	var err error
	if cfg.Storage != nil {
		stor = cfg.Storage
	} else {
		stor, err = NewSQLiteStorage(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	return &calibrationService{
		storage:   stor,
		publisher: cfg.Publisher,
		analyzer:  analyzer,
		log:       cfg.Logger,
		config:    cfg,
	}, nil
}

// stageLogger tags l with a stage prefix when it supports one.
func stageLogger(l Logger, stage string) Logger {
	if p, ok := l.(interface{ WithPrefix(string) *logger.Logger }); ok {
		return p.WithPrefix(stage)
	}
	return l
}

// Capture fills one buffer from src and hands it off for analysis.
func (s *calibrationService) Capture(ctx context.Context, sessionID string, src capture.Source) (*capture.Batch, error) {
	log := stageLogger(s.log, "capture")
	sess, err := capture.NewSession(sessionID, s.config.BufferLength,
		capture.WithNominalRate(s.config.NominalRateHz))
	if err != nil {
		return nil, stageErr(StageCapture, err)
	}

	log.Infof("Capturing %d frames for session %s", s.config.BufferLength, sessionID)
	batch, err := sess.Run(ctx, src)
	if err != nil {
		return nil, stageErr(StageCapture, err)
	}
	logRate(log, batch)
	return batch, nil
}

func logRate(log Logger, b *capture.Batch) {
	st := b.Stats
	if !st.FromTimeline {
		log.Infof("Captured %dx%d x %d frames, nominal rate %.2f Hz", b.Width, b.Height, b.Len(), b.SamplingRateHz)
		return
	}
	log.Infof("Captured %dx%d x %d frames in %s, %.2f Hz (min %.2f, max %.2f)",
		b.Width, b.Height, b.Len(), st.Duration.Round(time.Millisecond), st.MeanHz, st.MinHz, st.MaxHz)
	if !st.Stable {
		log.Warnf("Frame rate drifted during capture (stddev %.2f Hz, max jitter %s); recovered frequencies assume the %.2f Hz average",
			st.StdDevHz, st.JitterMax, st.MeanHz)
	}
}

// Calibrate runs the pipeline over a completed batch and merges the results
// into the session's record.
func (s *calibrationService) Calibrate(ctx context.Context, req CalibrationRequest) (*CalibrationResult, error) {
	if req.Batch == nil {
		return nil, stageErr(StageCapture, errors.New("no frame batch"))
	}
	defer func() {
		if err := req.Batch.Complete(); err != nil {
			s.log.Debugf("Session %s not completed: %v", req.Batch.SessionID, err)
		}
	}()
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = req.Batch.SessionID
	}
	res := &CalibrationResult{
		SessionID:      sessionID,
		SamplingRateHz: req.Batch.SamplingRateHz,
		RateStats:      req.Batch.Stats,
		ResolutionHz:   req.Batch.SamplingRateHz / float64(req.Batch.Len()),
	}

	stored, err := s.storage.GetRecord(sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return res, stageErr(StagePersist, err)
	}

	markers := req.Markers
	if len(markers) == 0 && stored != nil {
		markers = models.MarkersFromCircles(stored.BlinkingCircles)
	}
	if len(markers) == 0 {
		return res, stageErr(StageMarkers, ErrNoMarkers)
	}

	// Nyquist
	if err := match.CheckNyquist(markers, req.Batch.SamplingRateHz); err != nil {
		return res, stageErr(StageNyquist, err)
	}
	if sep := match.MinSeparation(markers); sep < res.ResolutionHz {
		s.log.Warnf("Markers %.3f Hz apart but bins are %.3f Hz wide; some will share a bin", sep, res.ResolutionHz)
	}

	// Spectral analysis
	grid, err := s.analyzer.Analyze(ctx, req.Batch)
	if err != nil {
		return res, stageErr(StageAnalyze, err)
	}

	// Significant points
	res.Points = extract.Extract(grid, s.config.Threshold)
	elog := stageLogger(s.log, "extract")
	if len(res.Points) == 0 {
		elog.Warnf("No pixel above amplitude %.2f; no markers visible", s.config.Threshold)
	} else {
		elog.Infof("Found %d frequency points from %s significant pixels", len(res.Points), humanize.Comma(int64(pixelCount(res.Points))))
	}

	// Correspondences
	mlog := stageLogger(s.log, "match")
	res.Matches = match.Match(markers, res.Points, s.config.Tolerance)
	res.Unmatched = match.Unmatched(markers, res.Matches)
	for _, m := range res.Unmatched {
		mlog.Warnf("Marker %d (%.3f Hz) has no detection within %.3f Hz", m.ID, m.FrequencyHz, s.config.Tolerance)
	}
	mlog.Infof("%d matches for %d markers", len(res.Matches), len(markers))

	// Projection
	camera := req.Camera
	if camera == nil && stored != nil {
		camera = stored.CameraConfig
	}
	pose := req.Pose
	if pose == nil && stored != nil && len(stored.PoseMatrix) > 0 {
		p, err := geometry.PoseFromSlice(stored.PoseMatrix)
		if err != nil {
			return res, stageErr(StageProject, err)
		}
		pose = &p
	}
	if err := s.project(res, camera, pose); err != nil {
		return res, stageErr(StageProject, err)
	}

	detected := models.RecordPatch{
		BlinkingCircles: ptr(models.CirclesFromMarkers(markers)),
		FFTCenters:      ptr(models.CentersFromPoints(res.Points)),
	}
	if req.Camera != nil {
		detected.CameraConfig = req.Camera
	}
	if req.Pose != nil {
		detected.PoseMatrix = ptr(geometry.PoseToSlice(*req.Pose))
	}
	if res.Record, err = s.storage.MergeRecord(sessionID, detected); err != nil {
		return res, stageErr(StagePersist, err)
	}

	// Homography
	hlog := stageLogger(s.log, "homography")
	fit, err := geometry.EstimateRobust(res.Pairs, s.config.RANSAC, s.config.Solver)
	if err != nil {
		return res, stageErr(StageHomography, err)
	}
	res.Homography = fit.H
	res.Inliers = fit.Inliers
	res.InlierCount = fit.InlierCount
	res.RMSError = fit.RMSError
	hlog.Infof("Fitted on %d of %d pairs after %d iterations, RMS %.4f", fit.InlierCount, len(res.Pairs), fit.Iterations, fit.RMSError)
	if fit.InlierCount < geometry.MinCorrespondences {
		return res, stageErr(StageHomography, fmt.Errorf("%w: %d of required %d",
			geometry.ErrInsufficientCorrespondences, fit.InlierCount, geometry.MinCorrespondences))
	}

	// Validation
	corners := req.Corners
	if len(corners) == 0 {
		corners = inlierBounds(res.Pairs, res.Inliers)
	}
	res.Corners, err = geometry.ValidateCorners(fit.H, corners, req.Bounds)
	if err != nil {
		return res, stageErr(StageValidate, err)
	}

	h := fit.H.Slice()
	if res.Record, err = s.storage.MergeRecord(sessionID, models.RecordPatch{PaperToProjection: &h}); err != nil {
		return res, stageErr(StagePersist, err)
	}
	s.log.Infof("Calibration for session %s complete", sessionID)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, res.Record); err != nil {
			s.log.Warnf("Publishing calibration %s failed: %v", sessionID, err)
		}
	}
	return res, nil
}

// project fills each match's plane point and builds the fitting pairs.
// A ray that misses the plane only drops that match.
func (s *calibrationService) project(res *CalibrationResult, camera *models.CameraConfig, pose *geometry.Pose) error {
	plog := stageLogger(s.log, "projection")
	if pose == nil {
		for i := range res.Matches {
			res.Matches[i].Planar = res.Matches[i].Point.Location()
			res.Matches[i].PlanarOK = true
		}
	} else {
		if camera == nil {
			return ErrNoCamera
		}
		in, err := geometry.IntrinsicsFromConfig(*camera)
		if err != nil {
			return err
		}
		for i := range res.Matches {
			m := &res.Matches[i]
			p, err := geometry.ProjectToPlane(m.Point.Location(), in, *pose)
			if err != nil {
				plog.Warnf("Marker %d at (%.1f, %.1f): %v", m.Marker.ID, m.Point.X, m.Point.Y, err)
				continue
			}
			m.Planar = p
			m.PlanarOK = true
		}
	}

	res.Pairs = res.Pairs[:0]
	for _, m := range res.Matches {
		if m.PlanarOK {
			res.Pairs = append(res.Pairs, geometry.PointPair{Src: m.Planar, Dst: m.Marker.Reference})
		}
	}
	if dropped := len(res.Matches) - len(res.Pairs); dropped > 0 {
		plog.Warnf("%d of %d matches could not be projected", dropped, len(res.Matches))
	}
	return nil
}

// inlierBounds is the axis-aligned box around the inlier source points.
func inlierBounds(pairs []geometry.PointPair, inliers []bool) []models.Point2D {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i, p := range pairs {
		if i < len(inliers) && !inliers[i] {
			continue
		}
		minX = math.Min(minX, p.Src.X)
		minY = math.Min(minY, p.Src.Y)
		maxX = math.Max(maxX, p.Src.X)
		maxY = math.Max(maxY, p.Src.Y)
	}
	return []models.Point2D{{X: minX, Y: minY}, {X: maxX, Y: minY}, {X: maxX, Y: maxY}, {X: minX, Y: maxY}}
}

func pixelCount(points []models.FrequencyPoint) int {
	n := 0
	for _, p := range points {
		n += p.PixelCount
	}
	return n
}

func ptr[T any](v T) *T { return &v }

// SaveMarkers stores the emitter configuration for a session.
func (s *calibrationService) SaveMarkers(sessionID string, markers []models.EmitterMarker) (*models.CalibrationRecord, error) {
	circles := models.CirclesFromMarkers(markers)
	return s.UpdateRecord(sessionID, models.RecordPatch{BlinkingCircles: &circles})
}

// UpdateRecord merges patch into the stored record. Fields absent from the
// patch keep their stored values.
func (s *calibrationService) UpdateRecord(sessionID string, patch models.RecordPatch) (*models.CalibrationRecord, error) {
	if patch.PoseMatrix != nil {
		if _, err := geometry.PoseFromSlice(*patch.PoseMatrix); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
	}
	if patch.CameraConfig != nil {
		if _, err := geometry.IntrinsicsFromConfig(*patch.CameraConfig); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
	}
	if patch.PaperToProjection != nil {
		if _, err := geometry.HomographyFromSlice(*patch.PaperToProjection); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
	}
	rec, err := s.storage.MergeRecord(sessionID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update record %s: %w", sessionID, err)
	}
	return rec, nil
}

// GetRecord retrieves a session's calibration record.
func (s *calibrationService) GetRecord(sessionID string) (*models.CalibrationRecord, error) {
	return s.storage.GetRecord(sessionID)
}

// ListRecords returns all stored records.
func (s *calibrationService) ListRecords() ([]models.CalibrationRecord, error) {
	return s.storage.ListRecords()
}

// DeleteRecord removes a session's record.
func (s *calibrationService) DeleteRecord(sessionID string) error {
	return s.storage.DeleteRecord(sessionID)
}

// Close releases all resources held by the service.
func (s *calibrationService) Close() error {
	return s.storage.Close()
}
