package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/capture"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/extract"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/geometry"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/match"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/notify"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/report"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/source"
	"github.com/himanishpuri/BlinkCal/pkg/logger"
	"github.com/himanishpuri/BlinkCal/pkg/models"
	"github.com/himanishpuri/BlinkCal/pkg/utils"
)

// Global flags
var (
	dbPath     string
	configPath string
	mqttBroker string
	logLevel   string
)

func init() {
	flag.StringVar(&dbPath, "db", getEnvOrDefault("BLINKCAL_DB_PATH", "blinkcal.sqlite3"), "Path to the SQLite database file")
	flag.StringVar(&configPath, "config", getEnvOrDefault("BLINKCAL_CONFIG", ""), "JSON tuning file")
	flag.StringVar(&mqttBroker, "mqtt", getEnvOrDefault("BLINKCAL_MQTT_BROKER", ""), "MQTT broker to publish finished calibrations to")
	flag.StringVar(&logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// createService creates a calibration service with the configured options.
func createService() (blinkcal.Service, func(), error) {
	opts := []blinkcal.Option{blinkcal.WithDBPath(dbPath)}
	if configPath != "" {
		tuning, err := blinkcal.LoadTuningConfig(configPath)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, tuning.Options()...)
	}

	cleanup := func() {}
	if mqttBroker != "" {
		pub, err := notify.Connect(mqttBroker, "blinkcal-cli-"+utils.NewSessionID()[:8])
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, blinkcal.WithPublisher(pub))
		cleanup = func() { pub.Close() }
	}

	svc, err := blinkcal.NewService(opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, func() {
		svc.Close()
		cleanup()
	}, nil
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	log := logger.GetLogger()
	if logLevel != "" {
		if lvl, ok := logger.ParseLevel(logLevel); ok {
			log.SetLevel(lvl)
		}
	}

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]
	log.Debugf("Executing command: %s", command)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch command {
	case "calibrate":
		err = handleCalibrate(ctx, args[1:])
	case "live":
		err = handleLive(ctx, args[1:])
	case "simulate":
		err = handleSimulate(ctx, args[1:])
	case "show":
		err = handleShow(args[1:])
	case "list":
		err = handleList()
	case "delete":
		err = handleDelete(args[1:])
	case "plot":
		err = handlePlot(args[1:])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("\n❌ %v\n", err)
		if stage, ok := blinkcal.FailedStage(err); ok {
			fmt.Printf("   Failed stage: %s. %s\n", stage, hint(stage))
		}
		log.Errorf("%s failed: %v", command, err)
		os.Exit(1)
	}
}

// hint tells the operator what to redo after a stage failure.
func hint(stage blinkcal.Stage) string {
	switch stage {
	case blinkcal.StageCapture:
		return "Check the camera or frame directory and capture again."
	case blinkcal.StageMarkers:
		return "Provide --markers or save them for the session first."
	case blinkcal.StageNyquist:
		return "Capture at a higher frame rate or lower the marker frequencies."
	case blinkcal.StageHomography:
		return "Make sure at least four markers are visible and recapture."
	case blinkcal.StageValidate:
		return "The fit looks wrong; check marker positions and recapture."
	}
	return ""
}

// splitArgs separates leading positional arguments from flags.
func splitArgs(args []string) (positional, flags []string) {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return positional, args[i:]
		}
		positional = append(positional, arg)
	}
	return positional, nil
}

type calibrateFlags struct {
	session  *string
	markers  *string
	camera   *string
	focal    *float64
	pose     *string
	bounds   *string
	plotPath *string
}

func addCalibrateFlags(fs *flag.FlagSet) calibrateFlags {
	return calibrateFlags{
		session:  fs.String("session", "", "Session ID (default: new UUID)"),
		markers:  fs.String("markers", "", "JSON file with emitter markers [{id, frequency, reference:{x,y}}]"),
		camera:   fs.String("camera", "", "Camera resolution WxH, enables plane projection with --focal and --pose"),
		focal:    fs.Float64("focal", 0, "Focal length in pixels"),
		pose:     fs.String("pose", "", "JSON file with a row-major 4x4 (or 3x4) camera-to-plane pose"),
		bounds:   fs.String("bounds", "", "Projector resolution WxH the validated corners must fall into"),
		plotPath: fs.String("plot", "", "Write a correspondence plot to this file"),
	}
}

// request turns the flags into a calibration request for batch.
func (f calibrateFlags) request(batch *capture.Batch) (blinkcal.CalibrationRequest, error) {
	req := blinkcal.CalibrationRequest{SessionID: batch.SessionID, Batch: batch}
	if *f.markers != "" {
		markers, err := loadMarkers(*f.markers)
		if err != nil {
			return req, err
		}
		req.Markers = markers
	}
	if *f.camera != "" {
		req.Camera = &models.CameraConfig{Resolution: *f.camera, FocalLength: *f.focal}
	}
	if *f.pose != "" {
		var v []float64
		if err := readJSON(*f.pose, &v); err != nil {
			return req, err
		}
		pose, err := geometry.PoseFromSlice(v)
		if err != nil {
			return req, err
		}
		req.Pose = &pose
	}
	if *f.bounds != "" {
		w, h, err := geometry.ParseResolution(*f.bounds)
		if err != nil {
			return req, err
		}
		req.Bounds = geometry.Bounds{Width: float64(w), Height: float64(h)}
	}
	return req, nil
}

func handleCalibrate(ctx context.Context, args []string) error {
	positional, flagArgs := splitArgs(args)
	if len(positional) != 1 {
		fmt.Println("Usage: blinkcal calibrate <frames_dir> [--session id] [--markers file] [--rate hz]")
		os.Exit(1)
	}

	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	cf := addCalibrateFlags(fs)
	rate := fs.Float64("rate", 60, "Frame rate the frames were recorded at, in Hz")
	fs.Parse(flagArgs)

	sessionID := *cf.session
	if sessionID == "" {
		sessionID = utils.NewSessionID()
	}
	if !utils.ValidSessionID(sessionID) {
		return fmt.Errorf("invalid session id %q", sessionID)
	}

	svc, closeSvc, err := createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer closeSvc()

	src, err := source.NewImageDir(positional[0])
	if err != nil {
		return err
	}
	fmt.Printf("📂 Reading %d frames from %s\n", src.Len(), positional[0])

	frames, err := readAll(ctx, src)
	if err != nil {
		return err
	}
	if n := floorPowerOfTwo(len(frames)); n != len(frames) {
		fmt.Printf("   Using the first %d of %d frames\n", n, len(frames))
		frames = frames[:n]
	}
	batch, err := capture.NewBatch(sessionID, frames, *rate)
	if err != nil {
		return err
	}

	req, err := cf.request(batch)
	if err != nil {
		return err
	}
	return runCalibration(ctx, svc, req, *cf.plotPath)
}

func floorPowerOfTwo(n int) int {
	p := 1
	for p*2 <= n {
		p *= 2
	}
	if n < 1 {
		return 0
	}
	return p
}

func readAll(ctx context.Context, src *source.ImageDir) ([]models.Frame, error) {
	frames := make([]models.Frame, 0, src.Len())
	for i := 0; i < src.Len(); i++ {
		f, err := src.GetFrame(ctx)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func runCalibration(ctx context.Context, svc blinkcal.Service, req blinkcal.CalibrationRequest, plotPath string) error {
	fmt.Printf("🔍 Analyzing %s pixels x %d frames at %.2f Hz (%.3f Hz per bin)\n",
		humanize.Comma(int64(req.Batch.Width*req.Batch.Height)), req.Batch.Len(),
		req.Batch.SamplingRateHz, req.Batch.SamplingRateHz/float64(req.Batch.Len()))

	start := time.Now()
	res, err := svc.Calibrate(ctx, req)
	if res != nil {
		printResult(res)
	}
	if err != nil {
		return err
	}

	fmt.Printf("\n✅ Calibration complete in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("   Session:  %s\n", res.SessionID)
	fmt.Printf("   Inliers:  %d of %d (RMS %.3f)\n", res.InlierCount, len(res.Pairs), res.RMSError)
	h := res.Homography
	fmt.Println("   Paper to projection:")
	for r := 0; r < 3; r++ {
		fmt.Printf("     [% 12.6f % 12.6f % 12.6f]\n", h[r*3], h[r*3+1], h[r*3+2])
	}

	if plotPath != "" {
		p, err := report.CorrespondencePlot(res.Record)
		if err != nil {
			return err
		}
		if err := utils.EnsureParentDir(plotPath); err != nil {
			return err
		}
		if err := report.Save(p, plotPath); err != nil {
			return err
		}
		fmt.Printf("   Plot:     %s\n", plotPath)
	}
	return nil
}

// maxListedPoints keeps noisy captures from flooding the terminal.
const maxListedPoints = 20

func printResult(res *blinkcal.CalibrationResult) {
	if !res.RateStats.Stable && res.RateStats.FromTimeline {
		fmt.Printf("⚠️  Frame rate was unstable (%.2f to %.2f Hz); frequencies assume %.2f Hz\n",
			res.RateStats.MinHz, res.RateStats.MaxHz, res.SamplingRateHz)
	}
	fmt.Printf("\n📍 %d frequency point(s):\n", len(res.Points))
	for _, p := range extract.Strongest(res.Points, maxListedPoints) {
		fmt.Printf("   %7.3f Hz at (%.1f, %.1f) amplitude %.3f over %d px\n",
			p.FrequencyHz, p.X, p.Y, p.Amplitude, p.PixelCount)
	}
	if len(res.Points) > maxListedPoints {
		fmt.Printf("   ... and %d weaker\n", len(res.Points)-maxListedPoints)
	}

	fmt.Printf("🔗 %d match(es)\n", len(res.Matches))
	markers := make([]models.EmitterMarker, 0, len(res.Matches)+len(res.Unmatched))
	seen := map[int]bool{}
	for _, m := range res.Matches {
		if !seen[m.Marker.ID] {
			seen[m.Marker.ID] = true
			markers = append(markers, m.Marker)
		}
	}
	sorted := append([]models.CorrespondenceMatch(nil), res.Matches...)
	match.SortByDelta(sorted)
	for _, m := range sorted {
		fmt.Printf("   marker %d (%.3f Hz) -> (%.1f, %.1f), off by %.3f Hz\n",
			m.Marker.ID, m.Marker.FrequencyHz, m.Point.X, m.Point.Y, m.FrequencyDelta)
	}
	counts := match.CountByMarker(markers, res.Matches)
	for _, m := range markers {
		if counts[m.ID] > 1 {
			fmt.Printf("   marker %d (%.3f Hz) matched %d points\n", m.ID, m.FrequencyHz, counts[m.ID])
		}
	}
	for _, m := range res.Unmatched {
		fmt.Printf("   marker %d (%.3f Hz) not seen\n", m.ID, m.FrequencyHz)
	}
}

func handleLive(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("live", flag.ExitOnError)
	cf := addCalibrateFlags(fs)
	device := fs.String("device", "0", "Camera index or stream URL")
	fs.Parse(args)

	src, fps, closeCam, err := openCamera(*device)
	if err != nil {
		return err
	}
	defer closeCam()

	sessionID := *cf.session
	if sessionID == "" {
		sessionID = utils.NewSessionID()
	}
	svc, closeSvc, err := createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer closeSvc()

	fmt.Printf("🎥 Capturing from %s (device reports %.1f fps), press Ctrl+C to abort\n", *device, fps)
	batch, err := svc.Capture(ctx, sessionID, src)
	if err != nil {
		return err
	}
	req, err := cf.request(batch)
	if err != nil {
		return err
	}
	return runCalibration(ctx, svc, req, *cf.plotPath)
}

func handleSimulate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	cf := addCalibrateFlags(fs)
	width := fs.Int("width", 160, "Camera width")
	height := fs.Int("height", 120, "Camera height")
	rate := fs.Float64("rate", 60, "Frame rate in Hz")
	frames := fs.Int("frames", 0, "Frames to render when writing to --out (default: tuning buffer length)")
	radius := fs.Float64("radius", 3, "Disc radius in camera pixels")
	scale := fs.Float64("scale", 0.2, "Projector to camera scale")
	offX := fs.Float64("offset-x", 10, "Projector to camera x offset")
	offY := fs.Float64("offset-y", 10, "Projector to camera y offset")
	noise := fs.Float64("noise", 0, "Gaussian noise stddev")
	background := fs.Float64("background", 0.2, "Background luminance")
	amplitude := fs.Float64("amplitude", 0.6, "Blink amplitude")
	square := fs.Bool("square", false, "Blink on/off instead of sinusoidally")
	out := fs.String("out", "", "Write PNG frames here instead of calibrating")
	fs.Parse(args)

	if *cf.markers == "" {
		return errors.New("--markers is required")
	}
	markers, err := loadMarkers(*cf.markers)
	if err != nil {
		return err
	}

	toCamera := func(p models.Point2D) models.Point2D {
		return models.Point2D{X: *scale*p.X + *offX, Y: *scale*p.Y + *offY}
	}
	opts := []source.SyntheticOption{source.WithBrightness(*background, *amplitude)}
	if *noise > 0 {
		opts = append(opts, source.WithNoise(*noise, 1))
	}
	if *square {
		opts = append(opts, source.WithSquareWave())
	}
	src := source.NewSynthetic(*width, *height, *rate, source.BlinkersFromMarkers(markers, *radius, toCamera), opts...)

	if *out != "" {
		n := *frames
		if n <= 0 {
			n = 512
		}
		return writeFrames(ctx, src, *out, n)
	}

	sessionID := *cf.session
	if sessionID == "" {
		sessionID = utils.NewSessionID()
	}
	svc, closeSvc, err := createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer closeSvc()

	fmt.Printf("🎥 Simulating %d markers on a %dx%d camera at %.0f Hz\n", len(markers), *width, *height, *rate)
	batch, err := svc.Capture(ctx, sessionID, src)
	if err != nil {
		return err
	}
	req, err := cf.request(batch)
	if err != nil {
		return err
	}
	req.Markers = markers
	return runCalibration(ctx, svc, req, *cf.plotPath)
}

func writeFrames(ctx context.Context, src capture.Source, dir string, n int) error {
	if err := utils.MakeDir(dir); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		f, err := src.GetFrame(ctx)
		if err != nil {
			return err
		}
		fh, err := os.Create(filepath.Join(dir, fmt.Sprintf("frame_%05d.png", i)))
		if err != nil {
			return err
		}
		err = source.Encode(fh, f)
		fh.Close()
		if err != nil {
			return err
		}
	}
	fmt.Printf("✅ Wrote %d frames to %s\n", n, dir)
	return nil
}

func handleShow(args []string) error {
	if len(args) < 1 {
		fmt.Println("Usage: blinkcal show <session_id>")
		os.Exit(1)
	}
	svc, closeSvc, err := createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer closeSvc()

	rec, err := svc.GetRecord(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func handleList() error {
	log := logger.GetLogger()

	svc, closeSvc, err := createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer closeSvc()

	recs, err := svc.ListRecords()
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	if len(recs) == 0 {
		fmt.Println("\n📭 No calibrations in database")
		return nil
	}

	fmt.Printf("\n📚 Found %d calibration(s):\n\n", len(recs))
	for i, rec := range recs {
		status := "no homography"
		if len(rec.PaperToProjection) == 9 {
			status = "calibrated"
		}
		fmt.Printf("%d. %s (%s)\n", i+1, rec.SessionID, status)
		fmt.Printf("   Markers: %d | Detected: %d | Updated %s\n",
			len(rec.BlinkingCircles), len(rec.FFTCenters), humanize.Time(rec.UpdatedAt))
		if rec.CameraConfig != nil {
			fmt.Printf("   Camera:  %s, f=%.1f\n", rec.CameraConfig.Resolution, rec.CameraConfig.FocalLength)
		}
		fmt.Println()
	}
	log.Infof("Listed %d records", len(recs))
	return nil
}

func handleDelete(args []string) error {
	if len(args) < 1 {
		fmt.Println("Usage: blinkcal delete <session_id>")
		os.Exit(1)
	}
	svc, closeSvc, err := createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer closeSvc()

	if err := svc.DeleteRecord(args[0]); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	fmt.Printf("\n✅ Deleted calibration %s\n", args[0])
	return nil
}

func handlePlot(args []string) error {
	positional, flagArgs := splitArgs(args)
	fs := flag.NewFlagSet("plot", flag.ExitOnError)
	out := fs.String("out", "", "Output file (.png, .svg or .pdf)")
	frames := fs.String("frames", "", "Plot one pixel's spectrum from this frame directory instead")
	x := fs.Int("x", 0, "Pixel x for --frames")
	y := fs.Int("y", 0, "Pixel y for --frames")
	rate := fs.Float64("rate", 60, "Frame rate for --frames in Hz")
	excluded := fs.Int("excluded", 4, "Excluded low bins for --frames")
	fs.Parse(flagArgs)

	if *frames != "" {
		return plotPixel(*frames, *x, *y, *rate, *excluded, *out)
	}
	if len(positional) != 1 {
		fmt.Println("Usage: blinkcal plot <session_id> [--out file] | plot --frames <dir> --x X --y Y [--out file]")
		os.Exit(1)
	}

	svc, closeSvc, err := createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer closeSvc()

	rec, err := svc.GetRecord(positional[0])
	if err != nil {
		return err
	}
	p, err := report.CorrespondencePlot(rec)
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = rec.SessionID + ".png"
	}
	if err := utils.EnsureParentDir(path); err != nil {
		return err
	}
	if err := report.Save(p, path); err != nil {
		return err
	}
	fmt.Printf("✅ Wrote %s\n", path)
	return nil
}

func plotPixel(dir string, x, y int, rate float64, excluded int, out string) error {
	src, err := source.NewImageDir(dir)
	if err != nil {
		return err
	}
	series := make([]float64, 0, src.Len())
	for i := 0; i < src.Len(); i++ {
		f, err := src.GetFrame(context.Background())
		if err != nil {
			return err
		}
		if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
			return fmt.Errorf("pixel (%d, %d) outside %dx%d frame", x, y, f.Width, f.Height)
		}
		series = append(series, f.Luma[y*f.Width+x])
	}
	p, est, err := report.SpectrumPlot(series, rate, excluded)
	if err != nil {
		return err
	}
	if out == "" {
		out = fmt.Sprintf("pixel_%d_%d.png", x, y)
	}
	if err := report.Save(p, out); err != nil {
		return err
	}
	fmt.Printf("✅ Pixel (%d, %d): %.3f Hz, magnitude %.3f -> %s\n", x, y, est.DominantFrequencyHz, est.Magnitude, out)
	return nil
}

func loadMarkers(path string) ([]models.EmitterMarker, error) {
	var markers []models.EmitterMarker
	if err := readJSON(path, &markers); err != nil {
		return nil, err
	}
	for i := range markers {
		if markers[i].ID == 0 {
			markers[i].ID = i + 1
		}
	}
	return markers, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func printUsage() {
	fmt.Println("BlinkCal - temporal-frequency camera/projector calibration")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>          Path to SQLite database (env: BLINKCAL_DB_PATH, default: blinkcal.sqlite3)")
	fmt.Println("  --config <file>      JSON tuning file (env: BLINKCAL_CONFIG)")
	fmt.Println("  --mqtt <broker>      Publish results, e.g. tcp://localhost:1883 (env: BLINKCAL_MQTT_BROKER)")
	fmt.Println("  --log-level <level>  DEBUG, INFO, WARN or ERROR")
	fmt.Println("\nUsage:")
	fmt.Println("  blinkcal [global-options] calibrate <frames_dir> [--session id] [--markers file] [--rate hz]")
	fmt.Println("                                    [--camera WxH --focal f --pose file] [--bounds WxH] [--plot file]")
	fmt.Println("  blinkcal [global-options] live [--device 0] [--markers file] ...   (needs -tags withcv)")
	fmt.Println("  blinkcal [global-options] simulate --markers file [--out dir] [--width w --height h --rate hz]")
	fmt.Println("  blinkcal [global-options] show <session_id>")
	fmt.Println("  blinkcal [global-options] list")
	fmt.Println("  blinkcal [global-options] delete <session_id>")
	fmt.Println("  blinkcal [global-options] plot <session_id> [--out file]")
	fmt.Println("  blinkcal [global-options] plot --frames <dir> --x X --y Y [--rate hz] [--out file]")
	fmt.Println("\nExamples:")
	fmt.Println("  # Calibrate from a recorded frame sequence")
	fmt.Println("  blinkcal calibrate ./frames --session lab-1 --markers markers.json --bounds 1920x1080")
	fmt.Println()
	fmt.Println("  # Dry run against simulated emitters")
	fmt.Println("  blinkcal simulate --markers markers.json --plot sim.png")
}
