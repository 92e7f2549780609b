// Package report renders diagnostic plots of a calibration.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"path/filepath"
	"strings"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/geometry"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/spectral"
	"github.com/himanishpuri/BlinkCal/pkg/models"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

var (
	colorConfigured = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colorDetected   = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	colorExcluded   = color.RGBA{R: 160, G: 160, B: 160, A: 255}
)

// Default page size.
const (
	Width  = 8 * vg.Inch
	Height = 6 * vg.Inch
)

// CorrespondencePlot overlays the configured circles with the detected
// centres in projector coordinates. Without a stored homography the centres
// are drawn in camera pixels.
func CorrespondencePlot(rec *models.CalibrationRecord) (*plot.Plot, error) {
	if rec == nil {
		return nil, errors.New("nil record")
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Session %s", rec.SessionID)
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	var h *geometry.Homography
	if len(rec.PaperToProjection) == 9 {
		hh, err := geometry.HomographyFromSlice(rec.PaperToProjection)
		if err != nil {
			return nil, err
		}
		h = &hh
		p.X.Label.Text = "projector x"
		p.Y.Label.Text = "projector y"
	}

	if len(rec.BlinkingCircles) > 0 {
		pts := make(plotter.XYs, len(rec.BlinkingCircles))
		labels := make([]string, len(rec.BlinkingCircles))
		for i, c := range rec.BlinkingCircles {
			pts[i] = plotter.XY{X: c.X, Y: c.Y}
			labels[i] = fmt.Sprintf("%.2f Hz", c.Frequency)
		}
		if err := addScatter(p, pts, labels, "configured", colorConfigured, draw.CircleGlyph{}); err != nil {
			return nil, err
		}
	}

	if len(rec.FFTCenters) > 0 {
		pts := make(plotter.XYs, 0, len(rec.FFTCenters))
		labels := make([]string, 0, len(rec.FFTCenters))
		for _, c := range rec.FFTCenters {
			pt := models.Point2D{X: c.X, Y: c.Y}
			if h != nil {
				q, err := h.Apply(pt)
				if err != nil {
					continue
				}
				pt = q
			}
			pts = append(pts, plotter.XY{X: pt.X, Y: pt.Y})
			labels = append(labels, fmt.Sprintf("%.2f Hz", c.Freq))
		}
		if len(pts) > 0 {
			if err := addScatter(p, pts, labels, "detected", colorDetected, draw.CrossGlyph{}); err != nil {
				return nil, err
			}
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	// Image coordinates grow downwards.
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}
	return p, nil
}

func addScatter(p *plot.Plot, pts plotter.XYs, labels []string, name string, c color.Color, shape draw.GlyphDrawer) error {
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Shape = shape
	s.GlyphStyle.Radius = vg.Points(4)
	p.Add(s)
	p.Legend.Add(name, s)

	l, err := plotter.NewLabels(plotter.XYLabels{XYs: pts, Labels: labels})
	if err != nil {
		return err
	}
	for i := range l.TextStyle {
		l.TextStyle[i].Color = c
		l.TextStyle[i].XAlign = -0.5
	}
	l.Offset = vg.Point{X: vg.Points(6), Y: vg.Points(-3)}
	p.Add(l)
	return nil
}

// SpectrumPlot draws the magnitude spectrum of one pixel's series, greying
// out the excluded low bins and marking the dominant bin.
func SpectrumPlot(series []float64, samplingRateHz float64, excluded int) (*plot.Plot, models.SpectralEstimate, error) {
	n := len(series)
	if n < 2 {
		return nil, models.SpectralEstimate{}, fmt.Errorf("series too short: %d samples", n)
	}
	est := spectral.Estimate(series, samplingRateHz, excluded)
	mag := spectral.MagnitudeSpectrum(spectral.FFTReal(series))

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Dominant %.3f Hz (bin %d), magnitude %.3f", est.DominantFrequencyHz, est.DominantBin, est.Magnitude)
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "Magnitude"

	var low, high plotter.XYs
	for k, m := range mag {
		xy := plotter.XY{X: spectral.BinFrequency(k, n, samplingRateHz), Y: m}
		if k < excluded {
			low = append(low, xy)
		} else {
			high = append(high, xy)
		}
	}
	if len(low) > 0 {
		// Join the two segments visually.
		if len(high) > 0 {
			low = append(low, high[0])
		}
		line, err := plotter.NewLine(low)
		if err != nil {
			return nil, est, err
		}
		line.Color = colorExcluded
		line.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
		p.Add(line)
		p.Legend.Add("excluded", line)
	}
	if len(high) > 0 {
		line, err := plotter.NewLine(high)
		if err != nil {
			return nil, est, err
		}
		line.Color = colorConfigured
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("spectrum", line)
	}
	if est.DominantBin >= 0 {
		s, err := plotter.NewScatter(plotter.XYs{{X: est.DominantFrequencyHz, Y: est.Magnitude}})
		if err != nil {
			return nil, est, err
		}
		s.GlyphStyle.Color = colorDetected
		s.GlyphStyle.Shape = draw.RingGlyph{}
		s.GlyphStyle.Radius = vg.Points(5)
		p.Add(s)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	return p, est, nil
}

// Save writes p to path; the format follows the extension.
func Save(p *plot.Plot, path string) error {
	if err := p.Save(Width, Height, path); err != nil {
		return fmt.Errorf("saving plot %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Write renders p in format ("png", "svg", "pdf") to w.
func Write(p *plot.Plot, w io.Writer, format string) error {
	wt, err := p.WriterTo(Width, Height, strings.ToLower(format))
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
