package source

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/spectral"
	"github.com/himanishpuri/BlinkCal/pkg/models"
)

// ImageDir replays a directory of PNG or JPEG frames in lexical order.
// Frames carry no timestamps, so sessions fall back to their nominal rate.
type ImageDir struct {
	paths []string
	next  int
}

func NewImageDir(dir string) (*ImageDir, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no PNG or JPEG frames in %s", dir)
	}
	sort.Strings(paths)
	return &ImageDir{paths: paths}, nil
}

// Len is the number of frames in the directory.
func (d *ImageDir) Len() int { return len(d.paths) }

func (d *ImageDir) GetFrame(ctx context.Context) (models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return models.Frame{}, err
	}
	if d.next >= len(d.paths) {
		return models.Frame{}, io.EOF
	}
	path := d.paths[d.next]
	f, err := DecodeFile(path)
	if err != nil {
		return models.Frame{}, err
	}
	f.Seq = uint64(d.next)
	d.next++
	return f, nil
}

// DecodeFile reads one image file as a luminance frame.
func DecodeFile(path string) (models.Frame, error) {
	fh, err := os.Open(path)
	if err != nil {
		return models.Frame{}, fmt.Errorf("opening frame: %w", err)
	}
	defer fh.Close()
	return Decode(fh)
}

// Decode reads one encoded image as a luminance frame.
func Decode(r io.Reader) (models.Frame, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return models.Frame{}, fmt.Errorf("decoding frame: %w", err)
	}
	luma, w, h := spectral.LumaFromImage(img)
	return models.Frame{Width: w, Height: h, Luma: luma}, nil
}

// Encode writes f as an 8-bit grayscale PNG.
func Encode(w io.Writer, f models.Frame) error {
	if len(f.Luma) != f.Width*f.Height {
		return fmt.Errorf("frame %d: %d samples for %dx%d", f.Seq, len(f.Luma), f.Width, f.Height)
	}
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for i, v := range f.Luma {
		img.Pix[i] = uint8(math.Round(math.Min(1, math.Max(0, v)) * 255))
	}
	return png.Encode(w, img)
}
