package vecmath

import (
	"encoding/json"
	"strings"

	"github.com/teranos/tally/errors"
)

// DropReason names why an embedding was excluded from a run.
type DropReason string

const (
	DropUnparseable       DropReason = "unparseable"
	DropEmpty             DropReason = "empty"
	DropNonFinite         DropReason = "non_finite"
	DropDimensionMismatch DropReason = "dimension_mismatch"
	DropZeroNorm          DropReason = "zero_norm"
)

// Dropped counts excluded embeddings per reason.
type Dropped map[DropReason]int

// Total returns the number of excluded embeddings.
func (d Dropped) Total() int {
	total := 0
	for _, n := range d {
		total += n
	}
	return total
}

// RawPoint is an embedding as it arrives from storage: JSON text.
type RawPoint struct {
	ID        string
	Embedding string
}

// FilterResult is the usable subset of a raw point set.
type FilterResult struct {
	Points  []Point
	Dims    int
	Dropped Dropped
}

// ParseJSON decodes a JSON array of numbers into a vector.
func ParseJSON(text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.MalformedInputf("empty embedding")
	}
	var v []float64
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode embedding"), errors.ErrMalformedInput)
	}
	if len(v) == 0 {
		return nil, errors.MalformedInputf("embedding has no components")
	}
	return v, nil
}

// FormatJSON encodes a vector as JSON text.
func FormatJSON(v []float64) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encode embedding")
	}
	return string(data), nil
}

// Filter parses raw embeddings and keeps the ones usable for a run.
//
// Entries that fail to parse, hold no components or non-finite values are
// dropped. The run's dimensionality is the most common length among the
// parsed vectors (ties go to the length seen first); vectors of any other
// length are dropped. With normalize set, vectors are scaled to unit
// length and zero vectors are dropped. Order of the surviving points
// follows the input.
func Filter(raw []RawPoint, normalize bool) FilterResult {
	result := FilterResult{Dropped: Dropped{}}

	type parsed struct {
		id  string
		vec []float64
	}
	candidates := make([]parsed, 0, len(raw))
	lengthCounts := make(map[int]int)
	var lengthOrder []int

	for _, rp := range raw {
		if strings.TrimSpace(rp.Embedding) == "" {
			result.Dropped[DropEmpty]++
			continue
		}
		v, err := ParseJSON(rp.Embedding)
		if err != nil {
			result.Dropped[DropUnparseable]++
			continue
		}
		if !IsFinite(v) {
			result.Dropped[DropNonFinite]++
			continue
		}
		if _, seen := lengthCounts[len(v)]; !seen {
			lengthOrder = append(lengthOrder, len(v))
		}
		lengthCounts[len(v)]++
		candidates = append(candidates, parsed{id: rp.ID, vec: v})
	}

	for _, l := range lengthOrder {
		if lengthCounts[l] > lengthCounts[result.Dims] {
			result.Dims = l
		}
	}

	result.Points = make([]Point, 0, len(candidates))
	for _, c := range candidates {
		if len(c.vec) != result.Dims {
			result.Dropped[DropDimensionMismatch]++
			continue
		}
		vec := c.vec
		if normalize {
			n, ok := Normalize(vec)
			if !ok {
				result.Dropped[DropZeroNorm]++
				continue
			}
			vec = n
		}
		result.Points = append(result.Points, Point{ID: c.id, Vector: vec})
	}

	return result
}
