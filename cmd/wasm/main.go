//go:build js && wasm
// +build js,wasm

package main

import (
	"fmt"
	"syscall/js"

	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/capture"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/geometry"
	"github.com/himanishpuri/BlinkCal/pkg/blinkcal/spectral"
	"github.com/himanishpuri/BlinkCal/pkg/models"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorProcessing
	ErrorInsufficientPoints
	ErrorDegenerate
)

// Finds the dominant blink frequency of one pixel's brightness series.
// Returns: {error: number, data: {bin, frequency, magnitude} | string}
func analyzePixelSeries(this js.Value, args []js.Value) any {
	if len(args) < 3 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 3 arguments: seriesArray, samplingRateHz, excludedBins")
	}

	seriesJS := args[0]
	if seriesJS.Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "seriesArray must be an Array or Float64Array")
	}
	if args[1].Type() != js.TypeNumber || args[2].Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "samplingRateHz and excludedBins must be numbers")
	}

	rate := args[1].Float()
	excluded := args[2].Int()
	if rate <= 0 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid sampling rate: %g", rate))
	}

	series, err := readFloats(seriesJS, "seriesArray")
	if err != nil {
		return makeErrorResponse(ErrorInvalidArgs, err.Error())
	}
	if !capture.IsPowerOfTwo(len(series)) || len(series) < 2 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Series length must be a power of two, got: %d", len(series)))
	}
	if excluded < 0 || excluded >= len(series)/2 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("excludedBins must be in [0, %d)", len(series)/2))
	}

	est := spectral.Estimate(series, rate, excluded)

	data := js.Global().Get("Object").New()
	data.Set("bin", est.DominantBin)
	data.Set("frequency", est.DominantFrequencyHz)
	data.Set("magnitude", est.Magnitude)
	data.Set("resolution", rate/float64(len(series)))

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", data)
	return result
}

// Fits a plane-to-projector homography to point pairs, rejecting outliers.
// Input: [{src: {x, y}, dst: {x, y}}, ...]
// Returns: {error: number, data: {matrix: number[9], inliers: bool[], rms} | string}
func estimateHomography(this js.Value, args []js.Value) any {
	if len(args) < 1 || args[0].Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 1 argument: pairsArray")
	}

	pairsJS := args[0]
	pairs := make([]geometry.PointPair, pairsJS.Length())
	for i := range pairs {
		p := pairsJS.Index(i)
		src, err := readPoint(p.Get("src"))
		if err != nil {
			return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("pair %d src: %v", i, err))
		}
		dst, err := readPoint(p.Get("dst"))
		if err != nil {
			return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("pair %d dst: %v", i, err))
		}
		pairs[i] = geometry.PointPair{Src: src, Dst: dst}
	}
	if len(pairs) < geometry.MinCorrespondences {
		return makeErrorResponse(ErrorInsufficientPoints,
			fmt.Sprintf("Need at least %d pairs, got: %d", geometry.MinCorrespondences, len(pairs)))
	}

	fit, err := geometry.EstimateRobust(pairs, geometry.DefaultRANSAC(), geometry.SVDSolver{})
	if err != nil {
		return makeErrorResponse(ErrorDegenerate, fmt.Sprintf("Failed to fit homography: %v", err))
	}

	matrix := js.Global().Get("Array").New()
	for i, v := range fit.H {
		matrix.SetIndex(i, v)
	}
	inliers := js.Global().Get("Array").New()
	for i, ok := range fit.Inliers {
		inliers.SetIndex(i, ok)
	}

	data := js.Global().Get("Object").New()
	data.Set("matrix", matrix)
	data.Set("inliers", inliers)
	data.Set("rms", fit.RMSError)

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", data)
	return result
}

func readFloats(v js.Value, name string) ([]float64, error) {
	n := v.Length()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		el := v.Index(i)
		if el.Type() != js.TypeNumber {
			return nil, fmt.Errorf("%s element %d is not a number", name, i)
		}
		out[i] = el.Float()
	}
	return out, nil
}

func readPoint(v js.Value) (models.Point2D, error) {
	if v.Type() != js.TypeObject {
		return models.Point2D{}, fmt.Errorf("not an object")
	}
	x, y := v.Get("x"), v.Get("y")
	if x.Type() != js.TypeNumber || y.Type() != js.TypeNumber {
		return models.Point2D{}, fmt.Errorf("x and y must be numbers")
	}
	return models.Point2D{X: x.Float(), Y: y.Float()}, nil
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")
	if !console.IsUndefined() {
		console.Call("log", "🔧 BlinkCal WASM module initializing...")
	}

	done := make(chan struct{})

	js.Global().Set("analyzePixelSeries", js.FuncOf(analyzePixelSeries))
	js.Global().Set("estimateHomography", js.FuncOf(estimateHomography))

	window := js.Global().Get("window")
	if !window.IsUndefined() {
		eventInit := js.Global().Get("Object").New()
		event := js.Global().Get("CustomEvent").New("wasmReady", eventInit)
		window.Call("dispatchEvent", event)
	} else if !console.IsUndefined() {
		console.Call("error", "❌ window object is undefined!")
	}

	if !console.IsUndefined() {
		console.Call("log", "✅ BlinkCal WASM module loaded and ready")
	}

	<-done
}
