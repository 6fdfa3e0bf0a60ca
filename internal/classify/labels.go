package classify

import "strconv"

// wellMappedClasses lists the model output indices whose dataset mapping is
// trusted end to end. Argmax is restricted to this set; every other logit is
// ignored no matter how large.
var wellMappedClasses = []int{
	0, 2, 4, 6, 9, 10, 12, 13, 14, 18, 20, 21, 24, 25, 33, 37, 40, 41, 42,
	45, 46, 47, 48, 49, 51, 53, 55, 58, 62, 63, 64,
}

// reverseLabelMap maps a model output index to its dataset class id.
var reverseLabelMap = map[int]int{
	0: 1, 2: 3, 4: 5, 6: 7, 9: 10, 10: 11, 12: 14, 13: 15, 14: 16, 18: 21,
	20: 23, 21: 24, 24: 27, 25: 29, 33: 39, 37: 43, 40: 48, 41: 49, 42: 50,
	45: 54, 46: 55, 47: 56, 48: 57, 49: 58, 51: 60, 53: 62, 55: 64, 58: 67,
	62: 71, 63: 72, 64: 74,
}

// ClassIDForIndex returns the wire-format dataset class id for a model
// output index. The id travels as a decimal string; class-id comparison is
// string equality everywhere, so the encoding here is the contract.
func ClassIDForIndex(idx int) (string, bool) {
	id, ok := reverseLabelMap[idx]
	if !ok {
		return "", false
	}
	return strconv.Itoa(id), true
}

// argmaxMapped picks the well-mapped index with the highest logit. Ties go
// to the lowest index: the scan is ascending and only a strictly greater
// logit displaces the current best.
func argmaxMapped(logits []float64) int {
	best := wellMappedClasses[0]
	for _, idx := range wellMappedClasses[1:] {
		if logits[idx] > logits[best] {
			best = idx
		}
	}
	return best
}
