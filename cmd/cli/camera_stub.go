//go:build !withcv

package main

import (
	"errors"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/capture"
)

func openCamera(device string) (capture.Source, float64, func(), error) {
	return nil, 0, nil, errors.New("camera capture needs a build with -tags withcv")
}
