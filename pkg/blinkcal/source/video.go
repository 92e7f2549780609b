//go:build withcv

package source

import (
	"context"
	"fmt"
	"time"

	"github.com/himanishpuri/BlinkCal/pkg/models"
	"gocv.io/x/gocv"
)

// VideoCapture reads frames from a camera device or stream through OpenCV.
// Each frame is stamped on arrival.
type VideoCapture struct {
	cap  *gocv.VideoCapture
	img  gocv.Mat
	gray gocv.Mat
	seq  uint64
}

// OpenVideoCapture opens a device index ("0") or a file/stream URL.
func OpenVideoCapture(device string) (*VideoCapture, error) {
	c, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("opening video capture %q: %w", device, err)
	}
	c.Set(gocv.VideoCaptureBufferSize, 1)
	return &VideoCapture{cap: c, img: gocv.NewMat(), gray: gocv.NewMat()}, nil
}

// FPS is the rate the device reports, useful as a nominal rate.
func (v *VideoCapture) FPS() float64 { return v.cap.Get(gocv.VideoCaptureFPS) }

func (v *VideoCapture) GetFrame(ctx context.Context) (models.Frame, error) {
	if err := ctx.Err(); err != nil {
		return models.Frame{}, err
	}
	if ok := v.cap.Read(&v.img); !ok || v.img.Empty() {
		return models.Frame{}, fmt.Errorf("video capture returned no frame")
	}
	ts := time.Now()

	// OpenCV's BGR to gray conversion uses the same 0.299/0.587/0.114 weights.
	gocv.CvtColor(v.img, &v.gray, gocv.ColorBGRToGray)
	w, h := v.gray.Cols(), v.gray.Rows()
	raw := v.gray.ToBytes()
	luma := make([]float64, w*h)
	for i := range luma {
		luma[i] = float64(raw[i]) / 255
	}

	f := models.Frame{Seq: v.seq, Timestamp: ts, Width: w, Height: h, Luma: luma}
	v.seq++
	return f, nil
}

func (v *VideoCapture) Close() error {
	v.img.Close()
	v.gray.Close()
	return v.cap.Close()
}
