// Package contentsvc talks to the Content component, which owns each content
// item's durable status field.
package contentsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/model"
)

// StatusUpdater pushes a computed status to the Content component.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, update StatusUpdate) error
}

// StatusUpdate is the PATCH body. EventID lets the Content component drop
// replays.
type StatusUpdate struct {
	ContentID string                   `json:"-"`
	Status    model.VerificationStatus `json:"status"`
	Trigger   string                   `json:"trigger"`
	EventID   string                   `json:"event_id"`
	ChangedAt time.Time                `json:"changed_at"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// UpdateStatus sends PATCH /api/v1/content/{id}/status. A 404 is returned as
// model.ErrNotFound; other non-2xx answers are retryable errors.
func (c *Client) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/api/v1/content/%s/status", c.baseURL, url.PathEscape(u.ContentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", u.EventID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("content %s: %w", u.ContentID, model.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("content status update: unexpected status %s", resp.Status)
	}
	return nil
}

// LogUpdater records updates when no Content component is configured.
type LogUpdater struct{}

func (LogUpdater) UpdateStatus(_ context.Context, u StatusUpdate) error {
	log.Info().
		Str("content_id", u.ContentID).
		Str("status", string(u.Status)).
		Str("trigger", u.Trigger).
		Str("event_id", u.EventID).
		Msg("contentsvc: status update (no content service configured)")
	return nil
}
