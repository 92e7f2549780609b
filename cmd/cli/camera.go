//go:build withcv

package main

import (
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/capture"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/source"
)

// openCamera opens an OpenCV device and reports its nominal frame rate.
func openCamera(device string) (capture.Source, float64, func(), error) {
	v, err := source.OpenVideoCapture(device)
	if err != nil {
		return nil, 0, nil, err
	}
	return v, v.FPS(), func() { v.Close() }, nil
}
