// Package planner maps a requested clip duration onto the generation-length
// budget handed to the music model.
//
// The constants are coupled to the MusicGen family of models, which emit
// roughly 1503 tokens for a 30 second clip. They must be revalidated whenever
// the configured model variant changes.
package planner

import "math"

const (
	// MinDurationSec is the shortest clip the service will generate.
	MinDurationSec = 4.0
	// MaxDurationSec is the longest clip the model produces reliably.
	MaxDurationSec = 30.0
	// referenceTokens is the observed token count for a MaxDurationSec clip.
	referenceTokens = 1503
	// TokensPerSec is the model's generation cadence.
	TokensPerSec = referenceTokens / MaxDurationSec
)

// Clamp bounds a requested duration into [MinDurationSec, MaxDurationSec].
// NaN is treated as a request for the minimum.
func Clamp(requestedSec float64) float64 {
	if math.IsNaN(requestedSec) {
		return MinDurationSec
	}

	return math.Min(MaxDurationSec, math.Max(MinDurationSec, requestedSec))
}

// Plan returns the token budget for a requested duration. The result is the
// hard upper bound on generation steps and never exceeds Plan(MaxDurationSec).
func Plan(requestedSec float64) int {
	return int(math.Round(Clamp(requestedSec) * TokensPerSec))
}

// Duration converts a token budget back into seconds of audio.
func Duration(tokens int) float64 {
	if tokens <= 0 {
		return 0
	}

	return float64(tokens) / TokensPerSec
}
