package classify

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Weights file layout (all little-endian):
//
//	magic   [4]byte  "SCW1"
//	count   uint32
//	then per tensor:
//	  nameLen uint16
//	  name    [nameLen]byte   PyTorch state-dict key
//	  ndim    uint8
//	  dims    [ndim]uint32
//	  data    [prod(dims)]float32
const weightsMagic = "SCW1"

// tensor is one named weight loaded from disk, flattened row-major.
type tensor struct {
	dims []int
	data []float64
}

// expectedShapes is the full state dict of the trained network. Loading
// fails fast on any missing, extra or misshapen tensor.
var expectedShapes = map[string][]int{
	"conv1.weight": {64, 3, 1, 5},
	"conv1.bias":   {64},
	"bn1.weight":   {64}, "bn1.bias": {64}, "bn1.running_mean": {64}, "bn1.running_var": {64},
	"conv2.weight": {128, 64, 1, 3},
	"conv2.bias":   {128},
	"bn2.weight":   {128}, "bn2.bias": {128}, "bn2.running_mean": {128}, "bn2.running_var": {128},
	"temp_conv.weight": {128, 128, 3, 1},
	"temp_conv.bias":   {128},
	"bn_temp.weight":   {128}, "bn_temp.bias": {128}, "bn_temp.running_mean": {128}, "bn_temp.running_var": {128},
	"lstm.weight_ih_l0":         {4 * lstmHidden, lstmInput},
	"lstm.weight_hh_l0":         {4 * lstmHidden, lstmHidden},
	"lstm.bias_ih_l0":           {4 * lstmHidden},
	"lstm.bias_hh_l0":           {4 * lstmHidden},
	"lstm.weight_ih_l0_reverse": {4 * lstmHidden, lstmInput},
	"lstm.weight_hh_l0_reverse": {4 * lstmHidden, lstmHidden},
	"lstm.bias_ih_l0_reverse":   {4 * lstmHidden},
	"lstm.bias_hh_l0_reverse":   {4 * lstmHidden},
	"attn.0.weight":             {128, 2 * lstmHidden},
	"attn.0.bias":               {128},
	"attn.2.weight":             {1, 128},
	"attn.2.bias":               {1},
	"fc.0.weight":               {2 * lstmHidden}, "fc.0.bias": {2 * lstmHidden},
	"fc.0.running_mean": {2 * lstmHidden}, "fc.0.running_var": {2 * lstmHidden},
	"fc.1.weight": {256, 2 * lstmHidden},
	"fc.1.bias":   {256},
	"fc.4.weight": {NumClasses, 256},
	"fc.4.bias":   {NumClasses},
}

// loadWeights reads and validates a weights file.
func loadWeights(path string) (map[string]*tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return readWeights(f)
}

func readWeights(r io.Reader) (map[string]*tensor, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("reading weights header: %w", err)
	}
	if string(magic[:]) != weightsMagic {
		return nil, fmt.Errorf("not a weights file (magic %q)", magic)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("reading tensor count: %w", err)
	}

	tensors := make(map[string]*tensor, count)
	for i := uint32(0); i < count; i++ {
		var nameLen uint16
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("tensor %d: reading name length: %w", i, err)
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return nil, fmt.Errorf("tensor %d: reading name: %w", i, err)
		}
		name := string(nameBytes)

		wantDims, known := expectedShapes[name]
		if !known {
			return nil, fmt.Errorf("unknown tensor %q in weights file", name)
		}
		if _, dup := tensors[name]; dup {
			return nil, fmt.Errorf("duplicate tensor %q in weights file", name)
		}

		var ndim uint8
		if err := binary.Read(r, binary.LittleEndian, &ndim); err != nil {
			return nil, fmt.Errorf("tensor %q: reading rank: %w", name, err)
		}
		dims := make([]int, ndim)
		n := 1
		for d := range dims {
			var v uint32
			if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
				return nil, fmt.Errorf("tensor %q: reading dims: %w", name, err)
			}
			dims[d] = int(v)
			n *= int(v)
		}
		if !dimsEqual(dims, wantDims) {
			return nil, fmt.Errorf("tensor %q: shape %v, want %v", name, dims, wantDims)
		}

		raw := make([]byte, 4*n)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("tensor %q: reading %d values: %w", name, n, err)
		}
		data := make([]float64, n)
		for j := 0; j < n; j++ {
			bits := binary.LittleEndian.Uint32(raw[4*j:])
			data[j] = float64(math.Float32frombits(bits))
		}
		tensors[name] = &tensor{dims: dims, data: data}
	}

	for name := range expectedShapes {
		if _, ok := tensors[name]; !ok {
			return nil, fmt.Errorf("weights file is missing tensor %q", name)
		}
	}
	return tensors, nil
}

func dimsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
