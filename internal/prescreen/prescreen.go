// Package prescreen produces the AI assessment a new content item starts
// with. The HTTP client asks the external verification engine; the keyword
// heuristic answers when the engine is absent, slow or still processing.
package prescreen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/model"
)

// Prescreener assesses a newly created content item.
type Prescreener interface {
	Assess(ctx context.Context, seed model.ContentSeed) (model.Assessment, error)
}

// ErrNoVerdict means the engine accepted the request but has no result yet.
var ErrNoVerdict = errors.New("prescreen: no verdict yet")

var suspiciousKeywords = []string{"fake", "hoax", "conspiracy", "unverified"}

const (
	heuristicCleanConfidence   = 0.7
	heuristicFlaggedConfidence = 0.3
)

// Heuristic flags titles containing known misinformation keywords.
type Heuristic struct{}

func (Heuristic) Assess(_ context.Context, seed model.ContentSeed) (model.Assessment, error) {
	title := strings.ToLower(seed.Title)
	for _, kw := range suspiciousKeywords {
		if strings.Contains(title, kw) {
			return model.Assessment{
				Status:     model.StatusDisputed,
				Confidence: heuristicFlaggedConfidence,
				Flagged:    true,
			}, nil
		}
	}
	return model.Assessment{Status: model.StatusPending, Confidence: heuristicCleanConfidence}, nil
}

// Client calls the AI verification engine's /verify endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

type verifyRequest struct {
	ContentID string         `json:"content_id"`
	Content   map[string]any `json:"content"`
}

type verifyResponse struct {
	ContentID  string  `json:"content_id"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

// Assess posts the seed and maps the engine's answer. PROCESSING and other
// non-final answers return ErrNoVerdict.
func (c *Client) Assess(ctx context.Context, seed model.ContentSeed) (model.Assessment, error) {
	body, err := json.Marshal(verifyRequest{
		ContentID: seed.ContentID,
		Content: map[string]any{
			"title":      seed.Title,
			"category":   seed.Category,
			"source_url": seed.SourceURL,
		},
	})
	if err != nil {
		return model.Assessment{}, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/verify", bytes.NewReader(body))
	if err != nil {
		return model.Assessment{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Assessment{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Assessment{}, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return model.Assessment{}, fmt.Errorf("decode response: %w", err)
	}

	switch strings.ToUpper(vr.Status) {
	case "FLAGGED", "DISPUTED":
		return model.Assessment{Status: model.StatusDisputed, Confidence: vr.Confidence, Flagged: true}, nil
	case "VERIFIED":
		// A clean AI screen still leaves the verdict to the community.
		return model.Assessment{Status: model.StatusPending, Confidence: vr.Confidence}, nil
	default:
		return model.Assessment{}, fmt.Errorf("%w (engine status %q)", ErrNoVerdict, vr.Status)
	}
}

// WithFallback tries primary and answers with fallback on any error.
type WithFallback struct {
	Primary  Prescreener
	Fallback Prescreener
}

func (f WithFallback) Assess(ctx context.Context, seed model.ContentSeed) (model.Assessment, error) {
	if f.Primary != nil {
		a, err := f.Primary.Assess(ctx, seed)
		if err == nil {
			return a, nil
		}
		if ctx.Err() != nil {
			return model.Assessment{}, ctx.Err()
		}
		log.Debug().Err(err).Str("content_id", seed.ContentID).Msg("prescreen: engine unavailable, using fallback")
	}
	return f.Fallback.Assess(ctx, seed)
}

// New returns the engine client with heuristic fallback, or just the
// heuristic when no engine URL is configured.
func New(engineURL string, timeout time.Duration) Prescreener {
	if engineURL == "" {
		return Heuristic{}
	}
	return WithFallback{Primary: NewClient(engineURL, timeout), Fallback: Heuristic{}}
}
