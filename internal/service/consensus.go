package service

import "github.com/truthsignal/consensus-engine/internal/model"

const (
	// Below this many votes no verdict is rendered.
	MinVotesForVerdict = 50

	// Authentic share (percent) needed for VERIFIED.
	VerifiedThresholdPct = 85

	// False share (percent) that marks content DISPUTED.
	DisputedThresholdPct = 35

	// Dissent ceiling: VERIFIED is blocked when false votes exceed
	// 1/DissentCeilingDivisor (20%) of the authentic votes.
	DissentCeilingDivisor = 5
)

// DeriveStatus maps a tally to a verification status:
//
//	total < 50                                  → pending
//	authentic% >= 85 and false > authentic*0.20 → under_review
//	authentic% >= 85                            → verified
//	false% >= 35                                → disputed
//	otherwise                                   → under_review
//
// Comparisons are done on integers so boundary tallies are exact.
func DeriveStatus(t model.VoteTally) model.VerificationStatus {
	total := t.Total
	if total <= 0 || total < MinVotesForVerdict {
		return model.StatusPending
	}

	if t.Authentic*100 >= VerifiedThresholdPct*total {
		if t.False*DissentCeilingDivisor > t.Authentic {
			return model.StatusUnderReview
		}
		return model.StatusVerified
	}

	if t.False*100 >= DisputedThresholdPct*total {
		return model.StatusDisputed
	}

	return model.StatusUnderReview
}
