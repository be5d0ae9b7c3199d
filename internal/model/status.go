package model

// VerificationStatus is the derived verdict for a content item.
type VerificationStatus string

const (
	StatusPending     VerificationStatus = "pending"
	StatusUnderReview VerificationStatus = "under_review"
	StatusVerified    VerificationStatus = "verified"
	StatusDisputed    VerificationStatus = "disputed"
)

// Valid reports whether s is one of the known statuses.
func (s VerificationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusVerified, StatusDisputed:
		return true
	}
	return false
}

// IsVerdict reports whether s is a settled community verdict.
func (s VerificationStatus) IsVerdict() bool {
	return s == StatusVerified || s == StatusDisputed
}

// VoteTally holds aggregated vote counts for a content item. It is derived
// from the vote rows on every read and never persisted.
type VoteTally struct {
	Total        int     `json:"total_votes"`
	Authentic    int     `json:"authentic_count"`
	False        int     `json:"false_count"`
	Unsure       int     `json:"unsure_count"`
	AuthenticPct float64 `json:"authentic_percentage"`
	FalsePct     float64 `json:"false_percentage"`
	UnsurePct    float64 `json:"unsure_percentage"`
}

// ResultsResponse is the API response for a content item's vote results.
type ResultsResponse struct {
	ContentID          string             `json:"content_id"`
	TotalVotes         int                `json:"total_votes"`
	AuthenticCount     int                `json:"authentic_count"`
	FalseCount         int                `json:"false_count"`
	UnsureCount        int                `json:"unsure_count"`
	AuthenticPct       float64            `json:"authentic_percentage"`
	FalsePct           float64            `json:"false_percentage"`
	UnsurePct          float64            `json:"unsure_percentage"`
	VerificationResult VerificationStatus `json:"verification_result"`
}

// NewResultsResponse flattens a tally and its derived status.
func NewResultsResponse(contentID string, t VoteTally, status VerificationStatus) *ResultsResponse {
	return &ResultsResponse{
		ContentID:          contentID,
		TotalVotes:         t.Total,
		AuthenticCount:     t.Authentic,
		FalseCount:         t.False,
		UnsureCount:        t.Unsure,
		AuthenticPct:       t.AuthenticPct,
		FalsePct:           t.FalsePct,
		UnsurePct:          t.UnsurePct,
		VerificationResult: status,
	}
}
