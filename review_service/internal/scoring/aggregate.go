// Package scoring turns per-criterion reviewer ratings into a consensus score.
//
// With fewer than TrimThreshold ratings every rating counts. From
// TrimThreshold on, the single lowest and single highest rating are dropped
// before averaging, so one hostile or careless reviewer cannot dominate.
package scoring

import (
	"math"
	"slices"

	"github.com/DeadlyParkour777/peer-review/review_service/internal/types"
)

// TrimThreshold is the smallest sample that gets its extremes dropped.
const TrimThreshold = 5

// TrimmedMean returns the mean of values, dropping one minimum and one
// maximum when there are at least TrimThreshold values. Empty input yields 0.
// The input slice is not modified.
func TrimmedMean(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < TrimThreshold {
		return mean(values)
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return mean(sorted[1 : len(sorted)-1])
}

// OverallScore averages the four criterion means and rounds half away from
// zero at the second decimal.
func OverallScore(clarity, argument, style, moralDepth float64) float64 {
	return Round2((clarity + argument + style + moralDepth) / 4)
}

func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// CriterionMeans is the trimmed mean of each criterion over a set of reviews.
type CriterionMeans struct {
	Clarity    float64 `json:"clarity"`
	Argument   float64 `json:"argument"`
	Style      float64 `json:"style"`
	MoralDepth float64 `json:"moral_depth"`
}

func (m CriterionMeans) Overall() float64 {
	return OverallScore(m.Clarity, m.Argument, m.Style, m.MoralDepth)
}

func Means(reviews []*types.Review) CriterionMeans {
	clarity := make([]int, 0, len(reviews))
	argument := make([]int, 0, len(reviews))
	style := make([]int, 0, len(reviews))
	moralDepth := make([]int, 0, len(reviews))
	for _, r := range reviews {
		clarity = append(clarity, r.Scores.Clarity)
		argument = append(argument, r.Scores.Argument)
		style = append(style, r.Scores.Style)
		moralDepth = append(moralDepth, r.Scores.MoralDepth)
	}

	return CriterionMeans{
		Clarity:    TrimmedMean(clarity),
		Argument:   TrimmedMean(argument),
		Style:      TrimmedMean(style),
		MoralDepth: TrimmedMean(moralDepth),
	}
}

// Consensus is the peer score of a submission. No reviews means no signal: 0.
func Consensus(reviews []*types.Review) float64 {
	if len(reviews) == 0 {
		return 0
	}
	return Means(reviews).Overall()
}

func mean(values []int) float64 {
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}
