// Package extract turns an uploaded video clip into the fixed-size pose
// tensor the classifier consumes: decode, per-frame landmark detection and
// temporal resampling to a fixed sequence length.
package extract

import "github.com/signlab/signcoach/internal/landmark"

// SequenceLength is the fixed number of time steps the classifier expects.
const SequenceLength = 32

// Tensor is the classifier input: channel (x, y, z) first, then time, then
// joint. Coordinates stay in detector-normalized [0,1] image space with no
// extra centering or scaling, matching how the model was trained.
type Tensor [3][SequenceLength][landmark.NumJoints]float64

// FromFrames packs a resampled landmark sequence into channel-first layout.
// frames must have exactly SequenceLength entries.
func FromFrames(frames []landmark.Frame) *Tensor {
	var t Tensor
	for ti, f := range frames {
		if ti >= SequenceLength {
			break
		}
		for j, p := range f {
			t[0][ti][j] = p.X
			t[1][ti][j] = p.Y
			t[2][ti][j] = p.Z
		}
	}
	return &t
}
