package domain

import "github.com/smallbiznis/finvo/internal/config"

// Decide picks the disposition for a ranked candidate list. Automatic
// application requires a single unambiguous high-confidence winner and
// an amount under the high-value threshold; everything else that scored
// at all goes to review.
func Decide(notif TransferNotification, candidates []MatchCandidate, cfg config.ReconcileConfig) (Disposition, Confidence) {
	if len(candidates) == 0 {
		return DispositionNoMatch, ConfidenceNone
	}

	best := candidates[0]
	confidence := BucketScore(best.Score)

	if best.Score < cfg.AutoApplyScore {
		return DispositionReview, confidence
	}
	if notif.Amount >= cfg.HighValueThreshold {
		// High-value transfers always get human eyes.
		return DispositionReview, confidence
	}
	if len(candidates) > 1 && best.Score-candidates[1].Score < cfg.AmbiguityMargin {
		return DispositionReview, confidence
	}
	return DispositionAutoApplied, confidence
}
