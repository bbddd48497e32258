package facematch

import (
	"math"
	"testing"
)

func TestMatchFaceToMarkers(t *testing.T) {
	// 1000x800 photo, face at pixels [100, 160, 300, 400]
	// display-relative corners: [0.1, 0.2, 0.3, 0.5]
	faceBBox := []float64{100, 160, 300, 400}

	// m1 overlaps the face exactly, m2 sits elsewhere, m3 is not a face marker
	markers := []MarkerInfo{
		{UID: "m1", Type: "face", Name: "Jan", SubjUID: "s1", X: 0.1, Y: 0.2, W: 0.2, H: 0.3},
		{UID: "m2", Type: "face", Name: "Eva", SubjUID: "s2", X: 0.6, Y: 0.6, W: 0.2, H: 0.2},
		{UID: "m3", Type: "label", Name: "cat", SubjUID: "s3", X: 0.1, Y: 0.2, W: 0.2, H: 0.3},
	}

	match := MatchFaceToMarkers(faceBBox, markers, 1000, 800, 1, 0.1)
	if match == nil {
		t.Fatal("expected a match")
	}
	if match.MarkerUID != "m1" {
		t.Errorf("expected marker m1, got %s", match.MarkerUID)
	}
	if match.SubjectUID != "s1" || match.SubjectName != "Jan" {
		t.Errorf("expected subject s1/Jan, got %s/%s", match.SubjectUID, match.SubjectName)
	}
	if math.Abs(match.IoU-1.0) > 0.0001 {
		t.Errorf("expected IoU 1.0, got %f", match.IoU)
	}
}

func TestMatchFaceToMarkersBelowThreshold(t *testing.T) {
	faceBBox := []float64{100, 160, 300, 400}
	markers := []MarkerInfo{
		{UID: "m1", Type: "face", X: 0.28, Y: 0.48, W: 0.2, H: 0.3}, // corner sliver of overlap
	}

	if match := MatchFaceToMarkers(faceBBox, markers, 1000, 800, 1, 0.1); match != nil {
		t.Errorf("expected no match below threshold, got %+v", match)
	}
}

func TestMatchFaceToMarkersPicksBestOverlap(t *testing.T) {
	faceBBox := []float64{100, 160, 300, 400}
	markers := []MarkerInfo{
		{UID: "half", Type: "face", X: 0.1, Y: 0.2, W: 0.2, H: 0.15},
		{UID: "full", Type: "face", X: 0.1, Y: 0.2, W: 0.2, H: 0.3},
	}

	match := MatchFaceToMarkers(faceBBox, markers, 1000, 800, 1, 0.1)
	if match == nil || match.MarkerUID != "full" {
		t.Fatalf("expected full-overlap marker to win, got %+v", match)
	}
}

func TestMatchFaceToMarkersInvalidInput(t *testing.T) {
	markers := []MarkerInfo{{UID: "m1", Type: "face", X: 0, Y: 0, W: 1, H: 1}}

	if match := MatchFaceToMarkers([]float64{1, 2}, markers, 1000, 800, 1, 0.1); match != nil {
		t.Errorf("expected nil for short bbox, got %+v", match)
	}
	if match := MatchFaceToMarkers([]float64{0, 0, 10, 10}, markers, 0, 800, 1, 0.1); match != nil {
		t.Errorf("expected nil for zero width, got %+v", match)
	}
	if match := MatchFaceToMarkers([]float64{0, 0, 10, 10}, nil, 1000, 800, 1, 0.1); match != nil {
		t.Errorf("expected nil for no markers, got %+v", match)
	}
}

func TestExtractPrimaryFileInfo(t *testing.T) {
	details := map[string]interface{}{
		"Files": []interface{}{
			map[string]interface{}{
				"UID":     "f-thumb",
				"Primary": false,
				"Width":   float64(200),
				"Height":  float64(150),
			},
			map[string]interface{}{
				"UID":         "f-primary",
				"Primary":     true,
				"Width":       float64(4032),
				"Height":      float64(3024),
				"Orientation": float64(6),
			},
		},
	}

	info := ExtractPrimaryFileInfo(details)
	if info == nil {
		t.Fatal("expected file info")
	}
	if info.UID != "f-primary" {
		t.Errorf("expected primary file, got %s", info.UID)
	}
	if info.Width != 4032 || info.Height != 3024 {
		t.Errorf("expected 4032x3024, got %dx%d", info.Width, info.Height)
	}
	if info.Orientation != 6 {
		t.Errorf("expected orientation 6, got %d", info.Orientation)
	}
}

func TestExtractPrimaryFileInfoFallsBackToFirst(t *testing.T) {
	details := map[string]interface{}{
		"Files": []interface{}{
			map[string]interface{}{"UID": "f1", "Width": float64(100), "Height": float64(100)},
			map[string]interface{}{"UID": "f2", "Width": float64(200), "Height": float64(200)},
		},
	}

	info := ExtractPrimaryFileInfo(details)
	if info == nil || info.UID != "f1" {
		t.Fatalf("expected fallback to first file, got %+v", info)
	}
	if info.Orientation != 1 {
		t.Errorf("expected default orientation 1, got %d", info.Orientation)
	}
}

func TestExtractPrimaryFileInfoNoFiles(t *testing.T) {
	if info := ExtractPrimaryFileInfo(map[string]interface{}{}); info != nil {
		t.Errorf("expected nil for missing Files, got %+v", info)
	}
	if info := ExtractPrimaryFileInfo(map[string]interface{}{"Files": []interface{}{}}); info != nil {
		t.Errorf("expected nil for empty Files, got %+v", info)
	}
}

func TestPlanMarkerAction(t *testing.T) {
	tests := []struct {
		name     string
		match    *MatchResult
		person   string
		expected MatchAction
	}{
		{"no marker", nil, "Jan Novák", ActionCreateMarker},
		{"marker without subject", &MatchResult{MarkerUID: "m1"}, "Jan Novák", ActionAssignSubject},
		{"same subject", &MatchResult{MarkerUID: "m1", SubjectName: "Jan Novák"}, "Jan Novák", ActionAlreadyDone},
		{"same subject, different spelling", &MatchResult{MarkerUID: "m1", SubjectName: "jan-novak"}, "Jan Novák", ActionAlreadyDone},
		{"different subject", &MatchResult{MarkerUID: "m1", SubjectName: "Eva"}, "Jan Novák", ActionConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := PlanMarkerAction(tt.match, tt.person)
			if result != tt.expected {
				t.Errorf("PlanMarkerAction() = %s, want %s", result, tt.expected)
			}
		})
	}
}
