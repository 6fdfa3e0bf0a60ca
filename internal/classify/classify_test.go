package classify

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/signlab/signcoach/internal/extract"
)

func TestArgmaxMappedPicksHighest(t *testing.T) {
	logits := make([]float64, NumClasses)
	logits[37] = 5.0
	logits[10] = 3.0
	if got := argmaxMapped(logits); got != 37 {
		t.Errorf("argmax = %d, want 37", got)
	}
}

func TestArgmaxMappedIgnoresUnmappedClasses(t *testing.T) {
	logits := make([]float64, NumClasses)
	// Index 1 is not well-mapped; its logit must not win no matter how big.
	logits[1] = 100.0
	logits[9] = 1.0
	if got := argmaxMapped(logits); got != 9 {
		t.Errorf("argmax = %d, want 9 (unmapped index 1 must be ignored)", got)
	}
}

func TestArgmaxMappedTieBreaksToLowestIndex(t *testing.T) {
	logits := make([]float64, NumClasses)
	logits[2] = 7.0
	logits[12] = 7.0
	logits[64] = 7.0
	if got := argmaxMapped(logits); got != 2 {
		t.Errorf("argmax = %d, want 2 (lowest index wins ties)", got)
	}

	// All-equal logits collapse to the lowest well-mapped index.
	flat := make([]float64, NumClasses)
	if got := argmaxMapped(flat); got != 0 {
		t.Errorf("argmax over flat logits = %d, want 0", got)
	}
}

func TestClassIDForIndex(t *testing.T) {
	cases := []struct {
		idx int
		id  string
	}{
		{0, "1"},
		{10, "11"},
		{40, "48"},
		{64, "74"},
	}
	for _, tc := range cases {
		id, ok := ClassIDForIndex(tc.idx)
		if !ok || id != tc.id {
			t.Errorf("ClassIDForIndex(%d) = %q,%v, want %q", tc.idx, id, ok, tc.id)
		}
	}
	if _, ok := ClassIDForIndex(1); ok {
		t.Error("index 1 has no dataset class id")
	}
}

// encodeWeights serializes a complete zero-valued state dict in the
// on-disk format.
func encodeWeights(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(weightsMagic)
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(expectedShapes))); err != nil {
		t.Fatal(err)
	}
	for name, dims := range expectedShapes {
		if err := binary.Write(&buf, binary.LittleEndian, uint16(len(name))); err != nil {
			t.Fatal(err)
		}
		buf.WriteString(name)
		buf.WriteByte(byte(len(dims)))
		n := 1
		for _, d := range dims {
			if err := binary.Write(&buf, binary.LittleEndian, uint32(d)); err != nil {
				t.Fatal(err)
			}
			n *= d
		}
		buf.Write(make([]byte, 4*n))
	}
	return buf.Bytes()
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.bin")
	if err := os.WriteFile(path, encodeWeights(t), 0644); err != nil {
		t.Fatal(err)
	}

	model, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var tensor extract.Tensor
	pred, err := model.Predict(&tensor)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	// Zero weights produce flat logits; the tie collapses to model index 0,
	// dataset class "1".
	if pred.ModelIndex != 0 || pred.ClassID != "1" {
		t.Errorf("prediction = %+v, want model index 0 / class \"1\"", pred)
	}

	again, err := model.Predict(&tensor)
	if err != nil {
		t.Fatalf("second Predict failed: %v", err)
	}
	if again != pred {
		t.Errorf("prediction not deterministic: %+v vs %+v", pred, again)
	}
}

func TestForwardIsFinite(t *testing.T) {
	w, err := readWeights(bytes.NewReader(encodeWeights(t)))
	if err != nil {
		t.Fatal(err)
	}
	model := build(w)

	var tensor extract.Tensor
	for ti := 0; ti < extract.SequenceLength; ti++ {
		for j := 0; j < len(tensor[0][ti]); j++ {
			tensor[0][ti][j] = 0.5
			tensor[1][ti][j] = 0.25
		}
	}
	logits := model.forward(&tensor)
	if len(logits) != NumClasses {
		t.Fatalf("got %d logits, want %d", len(logits), NumClasses)
	}
	for i, l := range logits {
		if math.IsNaN(l) || math.IsInf(l, 0) {
			t.Fatalf("logit %d is not finite: %v", i, l)
		}
	}
}

func TestReadWeightsRejectsBadMagic(t *testing.T) {
	data := encodeWeights(t)
	copy(data, "NOPE")
	if _, err := readWeights(bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestReadWeightsRejectsTruncated(t *testing.T) {
	data := encodeWeights(t)
	if _, err := readWeights(bytes.NewReader(data[:len(data)-10])); err == nil {
		t.Fatal("expected error for truncated file")
	}
}

func TestReadWeightsRejectsUnknownTensor(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(weightsMagic)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(1))
	name := "mystery.weight"
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(name)))
	buf.WriteString(name)
	buf.WriteByte(1)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(4))
	buf.Write(make([]byte, 16))

	if _, err := readWeights(bytes.NewReader(buf.Bytes())); err == nil {
		t.Fatal("expected error for unknown tensor name")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Fatal("expected error for missing weights file")
	}
}
