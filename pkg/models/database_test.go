package models

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMarkersSurviveCircleRoundTrip(t *testing.T) {
	markers := []EmitterMarker{
		{ID: 7, FrequencyHz: 6, Reference: Point2D{X: 10, Y: 20}},
		{ID: 42, FrequencyHz: 9.5, Reference: Point2D{X: 30, Y: 40}},
	}

	got := MarkersFromCircles(CirclesFromMarkers(markers))
	if diff := cmp.Diff(markers, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkersFromCirclesWithoutIDs(t *testing.T) {
	circles := []BlinkingCircle{{X: 1, Y: 2, Frequency: 5}, {ID: 9, X: 3, Y: 4, Frequency: 7}}

	got := MarkersFromCircles(circles)
	want := []EmitterMarker{
		{ID: 1, FrequencyHz: 5, Reference: Point2D{X: 1, Y: 2}},
		{ID: 9, FrequencyHz: 7, Reference: Point2D{X: 3, Y: 4}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MarkersFromCircles mismatch (-want +got):\n%s", diff)
	}
}
