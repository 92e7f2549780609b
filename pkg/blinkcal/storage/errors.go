package storage

import "errors"

var ErrNotFound = errors.New("calibration record not found")
