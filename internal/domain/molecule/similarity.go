package molecule

import (
	"fmt"
	"math/bits"

	"github.com/turtacn/molcore/pkg/errors"
)

// SimilarityMetric names a bit vector similarity coefficient.
type SimilarityMetric string

const (
	MetricTanimoto SimilarityMetric = "tanimoto"
	MetricDice     SimilarityMetric = "dice"
)

// IsValid reports whether m is a known metric.
func (m SimilarityMetric) IsValid() bool {
	return m == MetricTanimoto || m == MetricDice
}

// ParseSimilarityMetric parses a metric name.
func ParseSimilarityMetric(s string) (SimilarityMetric, error) {
	m := SimilarityMetric(s)
	if m.IsValid() {
		return m, nil
	}
	return "", errors.InvalidParam("unsupported similarity metric").WithDetail(s)
}

// Similarity compares two fingerprints of the same type and length.
func Similarity(fp1, fp2 *Fingerprint, metric SimilarityMetric) (float64, error) {
	if fp1 == nil || fp2 == nil {
		return 0, errors.InvalidParam("fingerprint is nil")
	}
	if fp1.Type != fp2.Type || fp1.Length != fp2.Length || len(fp1.Bits) != len(fp2.Bits) {
		return 0, errors.InvalidParam("fingerprints must have same type and dimension").
			WithDetail(fmt.Sprintf("%s/%d vs %s/%d", fp1.Type, fp1.Length, fp2.Type, fp2.Length))
	}
	switch metric {
	case MetricTanimoto:
		return Tanimoto(fp1, fp2), nil
	case MetricDice:
		return Dice(fp1, fp2), nil
	default:
		return 0, errors.InvalidParam("unsupported similarity metric").WithDetail(string(metric))
	}
}

// Tanimoto is |a AND b| / |a OR b|. Two empty vectors score 0. The
// fingerprints must have equal length.
func Tanimoto(fp1, fp2 *Fingerprint) float64 {
	intersection, union := 0, 0
	for i := range fp1.Bits {
		intersection += bits.OnesCount8(fp1.Bits[i] & fp2.Bits[i])
		union += bits.OnesCount8(fp1.Bits[i] | fp2.Bits[i])
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Dice is 2|a AND b| / (|a| + |b|). Two empty vectors score 0.
func Dice(fp1, fp2 *Fingerprint) float64 {
	intersection, total := 0, 0
	for i := range fp1.Bits {
		intersection += bits.OnesCount8(fp1.Bits[i] & fp2.Bits[i])
		total += bits.OnesCount8(fp1.Bits[i]) + bits.OnesCount8(fp2.Bits[i])
	}
	if total == 0 {
		return 0
	}
	return 2 * float64(intersection) / float64(total)
}
