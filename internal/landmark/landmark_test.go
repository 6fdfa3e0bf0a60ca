package landmark

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectionFrameMapsGroups(t *testing.T) {
	det := &Detection{
		LeftHand:  make([]Point3D, HandLandmarkCount),
		RightHand: make([]Point3D, HandLandmarkCount),
		Pose:      make([]Point3D, 33),
	}
	for i := range det.LeftHand {
		det.LeftHand[i] = Point3D{X: 0.1, Y: float64(i)}
	}
	for i := range det.RightHand {
		det.RightHand[i] = Point3D{X: 0.2, Y: float64(i)}
	}
	for i := range det.Pose {
		det.Pose[i] = Point3D{X: 0.3, Y: float64(i)}
	}

	f := det.Frame()

	if f[0].X != 0.1 || f[20].Y != 20 {
		t.Errorf("left hand landmarks misplaced: %+v %+v", f[0], f[20])
	}
	if f[RightHandStart].X != 0.2 || f[RightHandStart+20].Y != 20 {
		t.Errorf("right hand landmarks misplaced: %+v", f[RightHandStart])
	}
	for slot, poseIdx := range PoseIndices {
		got := f[PoseStart+slot]
		if got.X != 0.3 || got.Y != float64(poseIdx) {
			t.Errorf("pose slot %d: want pose index %d, got %+v", slot, poseIdx, got)
		}
	}
}

func TestDetectionFramePartialGroups(t *testing.T) {
	det := &Detection{
		RightHand: []Point3D{{X: 0.5, Y: 0.6, Z: 0.01}},
	}
	if det.Empty() {
		t.Fatal("detection with one group should not be empty")
	}

	f := det.Frame()
	if f[RightHandStart].X != 0.5 {
		t.Errorf("right hand wrist not mapped: %+v", f[RightHandStart])
	}
	// Everything else stays zero.
	if f[0] != (Point3D{}) || f[PoseStart] != (Point3D{}) {
		t.Error("undetected groups should remain zero-valued")
	}
}

func TestDetectionEmpty(t *testing.T) {
	det := &Detection{}
	if !det.Empty() {
		t.Error("detection with no groups should be empty")
	}
	f := det.Frame()
	for i, p := range f {
		if p != (Point3D{}) {
			t.Fatalf("joint %d not zero: %+v", i, p)
		}
	}
}

func TestHTTPDetectorDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/detect" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("unexpected content type: %s", ct)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"right_hand_landmarks":[{"x":0.4,"y":0.5,"z":0.0}]}`))
	}))
	defer srv.Close()

	det := NewHTTPDetector(HTTPDetectorConfig{BaseURL: srv.URL})
	result, err := det.Detect(context.Background(), []byte("not-a-real-jpeg"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(result.RightHand) != 1 || result.RightHand[0].X != 0.4 {
		t.Errorf("unexpected detection: %+v", result)
	}
}

func TestHTTPDetectorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	det := NewHTTPDetector(HTTPDetectorConfig{BaseURL: srv.URL})
	if _, err := det.Detect(context.Background(), []byte("frame")); err == nil {
		t.Fatal("expected error on HTTP 503")
	}
}
