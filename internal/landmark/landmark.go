// Package landmark defines the 47-joint pose model shared by the feature
// extractor and the classifier, and the detector contract that produces it.
//
// Joint layout, matching the classifier's training data:
//
//	 0-20   left hand  (MediaPipe hand landmarks, wrist first)
//	21-41   right hand
//	42-46   pose subset: nose, left/right shoulder, left/right elbow
package landmark

import "context"

const (
	// HandLandmarkCount is the number of landmarks per hand.
	HandLandmarkCount = 21

	// LeftHandStart, RightHandStart and PoseStart are the slot offsets of
	// each landmark group inside a Frame.
	LeftHandStart  = 0
	RightHandStart = 21
	PoseStart      = 42

	// NumJoints is the total number of joints per frame.
	NumJoints = 47
)

// PoseIndices selects the upper-body subset of the 33 MediaPipe pose
// landmarks that maps to Frame slots 42-46, in order.
var PoseIndices = [5]int{0, 11, 12, 13, 14}

// Point3D is one landmark in detector-normalized image space: x and y in
// [0,1], z is relative depth.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Frame holds one video frame's worth of joints. Undetected groups stay
// zero-valued, matching the classifier's training convention.
type Frame [NumJoints]Point3D

// Detection is the raw per-frame output of a holistic detector. A nil group
// means the detector did not find it in the frame.
type Detection struct {
	LeftHand  []Point3D `json:"left_hand_landmarks,omitempty"`
	RightHand []Point3D `json:"right_hand_landmarks,omitempty"`
	Pose      []Point3D `json:"pose_landmarks,omitempty"`
}

// Empty reports whether no landmark group was detected at all. Frames with
// empty detections carry no signal and are dropped by the extractor.
func (d *Detection) Empty() bool {
	return len(d.LeftHand) == 0 && len(d.RightHand) == 0 && len(d.Pose) == 0
}

// Frame maps the detection onto the fixed 47-joint layout.
func (d *Detection) Frame() Frame {
	var f Frame
	for i, p := range d.LeftHand {
		if i >= HandLandmarkCount {
			break
		}
		f[LeftHandStart+i] = p
	}
	for i, p := range d.RightHand {
		if i >= HandLandmarkCount {
			break
		}
		f[RightHandStart+i] = p
	}
	for slot, poseIdx := range PoseIndices {
		if poseIdx < len(d.Pose) {
			f[PoseStart+slot] = d.Pose[poseIdx]
		}
	}
	return f
}

// Detector runs holistic body and hand landmark detection on a single
// JPEG-encoded video frame.
type Detector interface {
	Detect(ctx context.Context, jpegFrame []byte) (*Detection, error)
	Close() error
}
