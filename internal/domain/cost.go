package domain

import "math"

const (
	// BaseCreditCost covers any video shorter than LongCostThreshold seconds.
	BaseCreditCost = 30
	// ExtraCreditCost is charged per started 8-second block past the threshold.
	ExtraCreditCost   = 15
	LongCostThreshold = 16
	costBlockSeconds  = 8

	// AnalysisSceneSeconds sizes the analysis-stage scene breakdown.
	AnalysisSceneSeconds = 5
)

// CreditCost returns the credits charged for a video of the given duration.
func CreditCost(durationSeconds int) int {
	if durationSeconds < LongCostThreshold {
		return BaseCreditCost
	}
	blocks := int(math.Ceil(float64(durationSeconds-LongCostThreshold) / costBlockSeconds))
	return BaseCreditCost + blocks*ExtraCreditCost
}

// SceneCount is the number of scenes the analysis breakdown must contain.
func SceneCount(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	return int(math.Ceil(float64(durationSeconds) / AnalysisSceneSeconds))
}

var platformAspect = map[string]string{
	"tiktok":    "9:16",
	"youtube":   "16:9",
	"instagram": "1:1",
}

// AspectRatioFor maps a platform to its output aspect ratio.
func AspectRatioFor(platform string) (string, bool) {
	a, ok := platformAspect[platform]
	return a, ok
}

// Segmentation describes how a requested duration is split into synthesized segments.
type Segmentation struct {
	Mode      Mode
	Count     int
	Durations []float64
}

// Segment splits durationSeconds. Durations strictly greater than threshold use
// ceil(d/segmentSeconds) segments of segmentSeconds; shorter ones use two halves.
func Segment(durationSeconds, threshold, segmentSeconds int) Segmentation {
	if segmentSeconds <= 0 {
		segmentSeconds = 8
	}
	if durationSeconds > threshold {
		n := int(math.Ceil(float64(durationSeconds) / float64(segmentSeconds)))
		if n > MaxSegments {
			n = MaxSegments
		}
		d := make([]float64, n)
		for i := range d {
			d[i] = float64(segmentSeconds)
		}
		return Segmentation{Mode: ModeLongForm, Count: n, Durations: d}
	}
	half := float64(durationSeconds) / 2
	return Segmentation{Mode: ModeShortForm, Count: 2, Durations: []float64{half, half}}
}
