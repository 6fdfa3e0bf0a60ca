package extract

import "github.com/signlab/signcoach/internal/landmark"

// Resample stretches or compresses a landmark sequence to exactly n frames
// by uniform linear interpolation between neighbouring source frames. A
// sequence already of length n comes back unchanged; a single source frame
// is repeated n times.
func Resample(frames []landmark.Frame, n int) []landmark.Frame {
	if n <= 0 || len(frames) == 0 {
		return nil
	}
	out := make([]landmark.Frame, n)
	if len(frames) == 1 {
		for i := range out {
			out[i] = frames[0]
		}
		return out
	}
	if n == 1 {
		out[0] = frames[0]
		return out
	}

	step := float64(len(frames)-1) / float64(n-1)
	for i := range out {
		pos := float64(i) * step
		lo := int(pos)
		if lo >= len(frames)-1 {
			out[i] = frames[len(frames)-1]
			continue
		}
		frac := pos - float64(lo)
		if frac == 0 {
			out[i] = frames[lo]
			continue
		}
		out[i] = lerpFrame(frames[lo], frames[lo+1], frac)
	}
	return out
}

func lerpFrame(a, b landmark.Frame, t float64) landmark.Frame {
	var f landmark.Frame
	for j := range f {
		f[j] = landmark.Point3D{
			X: a[j].X + (b[j].X-a[j].X)*t,
			Y: a[j].Y + (b[j].Y-a[j].Y)*t,
			Z: a[j].Z + (b[j].Z-a[j].Z)*t,
		}
	}
	return f
}
