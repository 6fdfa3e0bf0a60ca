// Package classify runs the trained pose-sequence network forward on a
// single clip tensor and maps the winning model index to a dataset class id.
//
// The network is a joint CNN, a temporal convolution, a bidirectional LSTM
// and an attention-pooled linear head. Weights are loaded once at startup
// and never mutated, so one Model is safe for concurrent Predict calls.
package classify

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/signlab/signcoach/internal/extract"
	"github.com/signlab/signcoach/internal/landmark"
)

const (
	// NumClasses is the size of the model's output layer.
	NumClasses = 67

	numJoints    = landmark.NumJoints
	seqLen       = extract.SequenceLength
	pooledJoints = numJoints / 2
	lstmHidden   = 128
	lstmInput    = 128 * pooledJoints
	bnEps        = 1e-5
)

// batchNorm holds a batch-norm layer folded into a single scale and shift
// per channel (inference form).
type batchNorm struct {
	scale []float64
	shift []float64
}

func foldBatchNorm(w map[string]*tensor, prefix string) batchNorm {
	gamma := w[prefix+".weight"].data
	beta := w[prefix+".bias"].data
	mean := w[prefix+".running_mean"].data
	variance := w[prefix+".running_var"].data

	bn := batchNorm{
		scale: make([]float64, len(gamma)),
		shift: make([]float64, len(gamma)),
	}
	for i := range gamma {
		s := gamma[i] / math.Sqrt(variance[i]+bnEps)
		bn.scale[i] = s
		bn.shift[i] = beta[i] - mean[i]*s
	}
	return bn
}

// lstmDirection holds one direction of the BiLSTM. Gate rows are in
// PyTorch chunk order: input, forget, cell, output.
type lstmDirection struct {
	wih  *mat.Dense // 4H x lstmInput
	whh  *mat.Dense // 4H x H
	bias *mat.VecDense
}

func newLSTMDirection(w map[string]*tensor, suffix string) lstmDirection {
	bih := w["lstm.bias_ih_l0"+suffix].data
	bhh := w["lstm.bias_hh_l0"+suffix].data
	bias := make([]float64, len(bih))
	for i := range bias {
		bias[i] = bih[i] + bhh[i]
	}
	return lstmDirection{
		wih:  mat.NewDense(4*lstmHidden, lstmInput, w["lstm.weight_ih_l0"+suffix].data),
		whh:  mat.NewDense(4*lstmHidden, lstmHidden, w["lstm.weight_hh_l0"+suffix].data),
		bias: mat.NewVecDense(len(bias), bias),
	}
}

// Model is the loaded network.
type Model struct {
	conv1W []float64 // 64 x 3 x 5
	conv1B []float64
	bn1    batchNorm
	conv2W []float64 // 128 x 64 x 3
	conv2B []float64
	bn2    batchNorm
	tempW  []float64 // 128 x 128 x 3
	tempB  []float64
	bnTemp batchNorm

	fwd lstmDirection
	bwd lstmDirection

	attnW1 *mat.Dense // 128 x 256
	attnB1 *mat.VecDense
	attnW2 *mat.VecDense // 128
	attnB2 float64

	headBN batchNorm
	fc1W   *mat.Dense // 256 x 256
	fc1B   *mat.VecDense
	fc2W   *mat.Dense // NumClasses x 256
	fc2B   *mat.VecDense
}

// Load reads a weights file and builds an immutable model.
func Load(path string) (*Model, error) {
	w, err := loadWeights(path)
	if err != nil {
		return nil, fmt.Errorf("loading model weights: %w", err)
	}
	return build(w), nil
}

func build(w map[string]*tensor) *Model {
	return &Model{
		conv1W: w["conv1.weight"].data,
		conv1B: w["conv1.bias"].data,
		bn1:    foldBatchNorm(w, "bn1"),
		conv2W: w["conv2.weight"].data,
		conv2B: w["conv2.bias"].data,
		bn2:    foldBatchNorm(w, "bn2"),
		tempW:  w["temp_conv.weight"].data,
		tempB:  w["temp_conv.bias"].data,
		bnTemp: foldBatchNorm(w, "bn_temp"),

		fwd: newLSTMDirection(w, ""),
		bwd: newLSTMDirection(w, "_reverse"),

		attnW1: mat.NewDense(128, 2*lstmHidden, w["attn.0.weight"].data),
		attnB1: mat.NewVecDense(128, w["attn.0.bias"].data),
		attnW2: mat.NewVecDense(128, w["attn.2.weight"].data),
		attnB2: w["attn.2.bias"].data[0],

		headBN: foldBatchNorm(w, "fc.0"),
		fc1W:   mat.NewDense(256, 2*lstmHidden, w["fc.1.weight"].data),
		fc1B:   mat.NewVecDense(256, w["fc.1.bias"].data),
		fc2W:   mat.NewDense(NumClasses, 256, w["fc.4.weight"].data),
		fc2B:   mat.NewVecDense(NumClasses, w["fc.4.bias"].data),
	}
}

// Prediction is one classified clip.
type Prediction struct {
	// ClassID is the dataset class id in wire format (decimal string).
	ClassID string
	// ModelIndex is the raw argmax index over the model's output layer.
	ModelIndex int
}

// Predict runs the forward pass and selects the best well-mapped class.
func (m *Model) Predict(t *extract.Tensor) (Prediction, error) {
	logits := m.forward(t)
	idx := argmaxMapped(logits)
	id, ok := ClassIDForIndex(idx)
	if !ok {
		return Prediction{}, fmt.Errorf("model index %d has no dataset class id", idx)
	}
	return Prediction{ClassID: id, ModelIndex: idx}, nil
}

// forward computes the output logits for one clip tensor.
func (m *Model) forward(t *extract.Tensor) []float64 {
	// Joint convolutions: kernel (1,5) then (1,3), zero padding keeps the
	// joint axis at 47 until the pool halves it.
	x1 := make([][][]float64, 64)
	for o := 0; o < 64; o++ {
		x1[o] = newPlane(seqLen, numJoints)
		for ti := 0; ti < seqLen; ti++ {
			for j := 0; j < numJoints; j++ {
				sum := m.conv1B[o]
				for c := 0; c < 3; c++ {
					for k := 0; k < 5; k++ {
						jj := j + k - 2
						if jj < 0 || jj >= numJoints {
							continue
						}
						sum += m.conv1W[(o*3+c)*5+k] * t[c][ti][jj]
					}
				}
				x1[o][ti][j] = relu(sum*m.bn1.scale[o] + m.bn1.shift[o])
			}
		}
	}

	x2 := make([][][]float64, 128)
	for o := 0; o < 128; o++ {
		x2[o] = newPlane(seqLen, numJoints)
		for ti := 0; ti < seqLen; ti++ {
			for j := 0; j < numJoints; j++ {
				sum := m.conv2B[o]
				for c := 0; c < 64; c++ {
					for k := 0; k < 3; k++ {
						jj := j + k - 1
						if jj < 0 || jj >= numJoints {
							continue
						}
						sum += m.conv2W[(o*64+c)*3+k] * x1[c][ti][jj]
					}
				}
				x2[o][ti][j] = relu(sum*m.bn2.scale[o] + m.bn2.shift[o])
			}
		}
	}

	// Max-pool (1,2) over joints: 47 -> 23, trailing joint dropped.
	pooled := make([][][]float64, 128)
	for c := 0; c < 128; c++ {
		pooled[c] = newPlane(seqLen, pooledJoints)
		for ti := 0; ti < seqLen; ti++ {
			for j := 0; j < pooledJoints; j++ {
				pooled[c][ti][j] = math.Max(x2[c][ti][2*j], x2[c][ti][2*j+1])
			}
		}
	}

	// Temporal convolution: kernel (3,1) with zero padding over time.
	temp := make([][][]float64, 128)
	for o := 0; o < 128; o++ {
		temp[o] = newPlane(seqLen, pooledJoints)
		for ti := 0; ti < seqLen; ti++ {
			for j := 0; j < pooledJoints; j++ {
				sum := m.tempB[o]
				for c := 0; c < 128; c++ {
					for k := 0; k < 3; k++ {
						tt := ti + k - 1
						if tt < 0 || tt >= seqLen {
							continue
						}
						sum += m.tempW[(o*128+c)*3+k] * pooled[c][tt][j]
					}
				}
				temp[o][ti][j] = relu(sum*m.bnTemp.scale[o] + m.bnTemp.shift[o])
			}
		}
	}

	// Flatten to per-step vectors, channel-major.
	steps := make([]*mat.VecDense, seqLen)
	for ti := 0; ti < seqLen; ti++ {
		v := make([]float64, lstmInput)
		for c := 0; c < 128; c++ {
			for j := 0; j < pooledJoints; j++ {
				v[c*pooledJoints+j] = temp[c][ti][j]
			}
		}
		steps[ti] = mat.NewVecDense(lstmInput, v)
	}

	hFwd := m.fwd.run(steps, false)
	hBwd := m.bwd.run(steps, true)

	// Attention pooling over the concatenated hidden states.
	hidden := make([]*mat.VecDense, seqLen)
	scores := make([]float64, seqLen)
	for ti := 0; ti < seqLen; ti++ {
		h := mat.NewVecDense(2*lstmHidden, nil)
		for i := 0; i < lstmHidden; i++ {
			h.SetVec(i, hFwd[ti].AtVec(i))
			h.SetVec(lstmHidden+i, hBwd[ti].AtVec(i))
		}
		hidden[ti] = h

		u := mat.NewVecDense(128, nil)
		u.MulVec(m.attnW1, h)
		u.AddVec(u, m.attnB1)
		for i := 0; i < 128; i++ {
			u.SetVec(i, math.Tanh(u.AtVec(i)))
		}
		scores[ti] = mat.Dot(m.attnW2, u) + m.attnB2
	}
	weights := softmax(scores)

	context := mat.NewVecDense(2*lstmHidden, nil)
	for ti := 0; ti < seqLen; ti++ {
		context.AddScaledVec(context, weights[ti], hidden[ti])
	}

	// Classifier head.
	normed := mat.NewVecDense(2*lstmHidden, nil)
	for i := 0; i < 2*lstmHidden; i++ {
		normed.SetVec(i, context.AtVec(i)*m.headBN.scale[i]+m.headBN.shift[i])
	}

	z := mat.NewVecDense(256, nil)
	z.MulVec(m.fc1W, normed)
	z.AddVec(z, m.fc1B)
	for i := 0; i < 256; i++ {
		z.SetVec(i, relu(z.AtVec(i)))
	}

	logits := mat.NewVecDense(NumClasses, nil)
	logits.MulVec(m.fc2W, z)
	logits.AddVec(logits, m.fc2B)

	out := make([]float64, NumClasses)
	copy(out, logits.RawVector().Data)
	return out
}

// run unrolls one LSTM direction over the step vectors, returning the
// hidden state per original time index.
func (d *lstmDirection) run(steps []*mat.VecDense, reverse bool) []*mat.VecDense {
	h := mat.NewVecDense(lstmHidden, nil)
	c := mat.NewVecDense(lstmHidden, nil)
	out := make([]*mat.VecDense, len(steps))

	gates := mat.NewVecDense(4*lstmHidden, nil)
	rec := mat.NewVecDense(4*lstmHidden, nil)

	for n := 0; n < len(steps); n++ {
		ti := n
		if reverse {
			ti = len(steps) - 1 - n
		}

		gates.MulVec(d.wih, steps[ti])
		rec.MulVec(d.whh, h)
		gates.AddVec(gates, rec)
		gates.AddVec(gates, d.bias)

		next := mat.NewVecDense(lstmHidden, nil)
		for i := 0; i < lstmHidden; i++ {
			in := sigmoid(gates.AtVec(i))
			forget := sigmoid(gates.AtVec(lstmHidden + i))
			cell := math.Tanh(gates.AtVec(2*lstmHidden + i))
			outGate := sigmoid(gates.AtVec(3*lstmHidden + i))

			cv := forget*c.AtVec(i) + in*cell
			c.SetVec(i, cv)
			next.SetVec(i, outGate*math.Tanh(cv))
		}
		h = next
		out[ti] = h
	}
	return out
}

func newPlane(rows, cols int) [][]float64 {
	p := make([][]float64, rows)
	for i := range p {
		p[i] = make([]float64, cols)
	}
	return p
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func softmax(xs []float64) []float64 {
	max := xs[0]
	for _, x := range xs[1:] {
		if x > max {
			max = x
		}
	}
	sum := 0.0
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Exp(x - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
