package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VoteType is a voter's tri-state assessment of a content item.
type VoteType string

const (
	VoteAuthentic VoteType = "authentic"
	VoteFalse     VoteType = "false"
	VoteUnsure    VoteType = "unsure"
)

// MaxReasoningLen matches votes.reasoning in the original schema.
const MaxReasoningLen = 1000

// ParseVoteType normalizes and validates a vote type string.
func ParseVoteType(s string) (VoteType, error) {
	switch vt := VoteType(strings.ToLower(strings.TrimSpace(s))); vt {
	case VoteAuthentic, VoteFalse, VoteUnsure:
		return vt, nil
	default:
		return "", fmt.Errorf("%w: vote_type must be one of authentic, false, unsure (got %q)", ErrValidation, s)
	}
}

// Vote is a single user's vote on a content item. There is at most one per
// (UserID, ContentID).
type Vote struct {
	ID        uuid.UUID `json:"id"`
	ContentID string    `json:"content_id"`
	UserID    string    `json:"user_id"`
	VoteType  VoteType  `json:"vote_type"`
	Reasoning *string   `json:"reasoning,omitempty"`
	VotedAt   time.Time `json:"voted_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VoteInput is a validated vote submission.
type VoteInput struct {
	UserID    string
	ContentID string
	VoteType  VoteType
	Reasoning *string
}

// Validate checks the fields the Vote Store relies on.
func (in VoteInput) Validate() error {
	if strings.TrimSpace(in.ContentID) == "" {
		return fmt.Errorf("%w: content_id is required", ErrValidation)
	}
	if strings.TrimSpace(in.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if _, err := ParseVoteType(string(in.VoteType)); err != nil {
		return err
	}
	if in.Reasoning != nil && len(*in.Reasoning) > MaxReasoningLen {
		return fmt.Errorf("%w: reasoning must be at most %d characters", ErrValidation, MaxReasoningLen)
	}
	return nil
}

// VoteRequest is the API request body for submitting a vote.
type VoteRequest struct {
	VoteType  string  `json:"vote_type" validate:"required,max=16"`
	Reasoning *string `json:"reasoning,omitempty" validate:"omitempty,max=1000"`
}

// VoteResponse is the API response after submitting a vote.
type VoteResponse struct {
	Vote               *Vote              `json:"vote"`
	Created            bool               `json:"created"`
	VerificationResult VerificationStatus `json:"verification_result"`
}
