package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/truthsignal/consensus-engine/internal/model"
)

func tally(total, authentic, falseVotes, unsure int) model.VoteTally {
	return model.VoteTally{Total: total, Authentic: authentic, False: falseVotes, Unsure: unsure}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name  string
		tally model.VoteTally
		want  model.VerificationStatus
	}{
		{"no votes", tally(0, 0, 0, 0), model.StatusPending},
		{"one authentic vote", tally(1, 1, 0, 0), model.StatusPending},
		{"49 unanimous authentic", tally(49, 49, 0, 0), model.StatusPending},
		{"49 unanimous false", tally(49, 0, 49, 0), model.StatusPending},
		{"50 votes 86% authentic, 7 false under ceiling", tally(50, 43, 7, 0), model.StatusVerified},
		{"60 votes 85% authentic, 10 false at ceiling", tally(60, 51, 10, 0), model.StatusVerified},
		{"60 votes 85% authentic, 11 false over ceiling", tally(60, 51, 11, 0), model.StatusUnderReview},
		{"80 votes 37.5% false", tally(80, 50, 30, 0), model.StatusDisputed},
		{"80 votes 37.5% false, rest unsure", tally(80, 0, 30, 50), model.StatusDisputed},
		{"55 votes no threshold met", tally(55, 25, 10, 20), model.StatusUnderReview},
		{"100 votes exactly 35% false", tally(100, 40, 35, 25), model.StatusDisputed},
		{"100 votes 34% false", tally(100, 40, 34, 26), model.StatusUnderReview},
		{"100 votes 84% authentic", tally(100, 84, 0, 16), model.StatusUnderReview},
		{"100 votes 85% authentic, no dissent", tally(100, 85, 0, 15), model.StatusVerified},
		{"100 votes 100% unsure", tally(100, 0, 0, 100), model.StatusUnderReview},
		{"61 votes 52 authentic, 9 false", tally(61, 52, 9, 0), model.StatusVerified},
		{"negative total treated as empty", tally(-1, 0, 0, 0), model.StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.tally))
		})
	}
}

func TestDeriveStatus_BelowMinimumIsAlwaysPending(t *testing.T) {
	for total := 0; total < MinVotesForVerdict; total++ {
		for authentic := 0; authentic <= total; authentic++ {
			falseVotes := total - authentic
			got := DeriveStatus(tally(total, authentic, falseVotes, 0))
			if got != model.StatusPending {
				t.Fatalf("DeriveStatus(total=%d, authentic=%d, false=%d) = %s, want pending",
					total, authentic, falseVotes, got)
			}
		}
	}
}

func TestDeriveStatus_DissentCeilingBoundary(t *testing.T) {
	// With 85% authentic, the verdict flips exactly when false > authentic*0.20.
	for authentic := 50; authentic <= 200; authentic++ {
		ceiling := float64(authentic) * 0.20
		for falseVotes := 0; falseVotes <= authentic/2; falseVotes++ {
			total := authentic + falseVotes
			if authentic*100 < VerifiedThresholdPct*total {
				break
			}
			got := DeriveStatus(tally(total, authentic, falseVotes, 0))
			want := model.StatusVerified
			if float64(falseVotes) > ceiling {
				want = model.StatusUnderReview
			}
			if got != want {
				t.Fatalf("authentic=%d false=%d: got %s, want %s", authentic, falseVotes, got, want)
			}
		}
	}
}
