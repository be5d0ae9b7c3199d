package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthsignal/consensus-engine/internal/events"
	"github.com/truthsignal/consensus-engine/internal/handler"
	"github.com/truthsignal/consensus-engine/internal/metrics"
	"github.com/truthsignal/consensus-engine/internal/middleware"
	"github.com/truthsignal/consensus-engine/internal/model"
	"github.com/truthsignal/consensus-engine/internal/repository"
	"github.com/truthsignal/consensus-engine/internal/repository/memstore"
	"github.com/truthsignal/consensus-engine/internal/service"
)

// downStore fails every read with a storage error.
type downStore struct{ repository.VoteStore }

func (downStore) GetVotes(context.Context, string) ([]model.Vote, error) {
	return nil, fmt.Errorf("%w: connection refused", model.ErrStorage)
}

type testAPI struct {
	app   *fiber.App
	store *memstore.Store
	bus   *events.MemoryBus
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := memstore.New()
	bus := events.NewMemoryBus()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	app := fiber.New()
	Setup(app, &Handlers{
		Vote:   handler.NewVoteHandler(service.NewVerificationService(store, store, bus, m)),
		Health: handler.NewHealthHandler("test"),
	}, Options{Metrics: m, Gatherer: reg})
	return &testAPI{app: app, store: store, bus: bus}
}

func (a *testAPI) do(t *testing.T, method, path, userID, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := a.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestSubmitVote_CreatedThenUpdated(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, "POST", "/api/v1/content/c-1/votes", "u-1", `{"vote_type":"authentic"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, body["created"])
	assert.Equal(t, "pending", body["verification_result"])

	code, body = api.do(t, "POST", "/api/v1/content/c-1/votes", "u-1", `{"vote_type":"FALSE","reasoning":"edited"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["created"])
	v := body["vote"].(map[string]any)
	assert.Equal(t, "false", v["vote_type"])
	assert.Equal(t, "u-1", v["user_id"])
}

func TestSubmitVote_Rejections(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name     string
		path     string
		user     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"missing user header", "/api/v1/content/c-1/votes", "", `{"vote_type":"authentic"}`, http.StatusUnauthorized, "MISSING_USER"},
		{"bad content id", "/api/v1/content/bad%20id/votes", "u-1", `{"vote_type":"authentic"}`, http.StatusBadRequest, "INVALID_FIELD"},
		{"malformed json", "/api/v1/content/c-1/votes", "u-1", `{"vote_type":`, http.StatusBadRequest, "INVALID_BODY"},
		{"missing vote type", "/api/v1/content/c-1/votes", "u-1", `{}`, http.StatusBadRequest, "INVALID_FIELD"},
		{"unknown vote type", "/api/v1/content/c-1/votes", "u-1", `{"vote_type":"maybe"}`, http.StatusBadRequest, "INVALID_FIELD"},
		{"reasoning too long", "/api/v1/content/c-1/votes", "u-1",
			fmt.Sprintf(`{"vote_type":"unsure","reasoning":%q}`, strings.Repeat("r", model.MaxReasoningLen+1)),
			http.StatusBadRequest, "INVALID_FIELD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := api.do(t, "POST", tt.path, tt.user, tt.body)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantErr, errorCode(body))
		})
	}

	votes, err := api.store.GetVotes(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Empty(t, votes)
}

func TestResults_ReachesVerifiedAtMinimumSample(t *testing.T) {
	api := newTestAPI(t)
	for i := 0; i < 50; i++ {
		vt := "authentic"
		if i >= 43 {
			vt = "false"
		}
		code, _ := api.do(t, "POST", "/api/v1/content/c-9/votes", fmt.Sprintf("u-%d", i), fmt.Sprintf(`{"vote_type":%q}`, vt))
		require.Equal(t, http.StatusCreated, code)
	}

	code, body := api.do(t, "GET", "/api/v1/content/c-9/results", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "c-9", body["content_id"])
	assert.EqualValues(t, 50, body["total_votes"])
	assert.EqualValues(t, 43, body["authentic_count"])
	assert.EqualValues(t, 7, body["false_count"])
	assert.EqualValues(t, 86, body["authentic_percentage"])
	assert.EqualValues(t, 14, body["false_percentage"])
	assert.Equal(t, "verified", body["verification_result"])

	require.Len(t, api.bus.Published(), 1)
	assert.Equal(t, model.EventStatusTransitioned, api.bus.Published()[0].EventType)
}

func TestSubmitVote_DistinctVotersKeepDistinctRows(t *testing.T) {
	api := newTestAPI(t)
	for i := 0; i < 50; i++ {
		code, _ := api.do(t, "POST", "/api/v1/content/c-9/votes", fmt.Sprintf("u-%d", i), `{"vote_type":"authentic"}`)
		require.Equal(t, http.StatusCreated, code, "voter %d", i)
	}

	votes, err := api.store.GetVotes(context.Background(), "c-9")
	require.NoError(t, err)
	require.Len(t, votes, 50)
	users := make(map[string]bool, len(votes))
	for _, v := range votes {
		assert.Equal(t, "c-9", v.ContentID)
		users[v.UserID] = true
	}
	assert.Len(t, users, 50)

	require.Len(t, api.store.Outbox(), 1)
	assert.Equal(t, "c-9", api.store.Outbox()[0].ContentID)
}

func TestResults_EmptyContentIsPending(t *testing.T) {
	api := newTestAPI(t)
	code, body := api.do(t, "GET", "/api/v1/content/nothing-yet/results", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["total_votes"])
	assert.Equal(t, "pending", body["verification_result"])
}

func TestResults_StorageDown(t *testing.T) {
	store := memstore.New()
	app := fiber.New()
	Setup(app, &Handlers{
		Vote:   handler.NewVoteHandler(service.NewVerificationService(downStore{store}, store, events.NewMemoryBus(), nil)),
		Health: handler.NewHealthHandler("test"),
	}, Options{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/content/c-1/results", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMyVote(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, "GET", "/api/v1/content/c-1/votes/me", "u-1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"voted": false}, body)

	api.do(t, "POST", "/api/v1/content/c-1/votes", "u-1", `{"vote_type":"unsure"}`)

	code, body = api.do(t, "GET", "/api/v1/content/c-1/votes/me", "u-1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["voted"])
	assert.Equal(t, "unsure", body["vote"].(map[string]any)["vote_type"])

	code, _ = api.do(t, "GET", "/api/v1/content/c-1/votes/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestUserVotes_Paging(t *testing.T) {
	api := newTestAPI(t)
	for i := 0; i < 3; i++ {
		api.do(t, "POST", fmt.Sprintf("/api/v1/content/c-%d/votes", i), "u-1", `{"vote_type":"authentic"}`)
	}
	api.do(t, "POST", "/api/v1/content/c-0/votes", "u-2", `{"vote_type":"false"}`)

	code, body := api.do(t, "GET", "/api/v1/users/me/votes?limit=2", "u-1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["votes"], 2)
	assert.EqualValues(t, 2, body["limit"])

	code, body = api.do(t, "GET", "/api/v1/users/me/votes?limit=2&offset=2", "u-1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["votes"], 1)

	code, body = api.do(t, "GET", "/api/v1/users/me/votes", "nobody", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, body["votes"])

	code, _ = api.do(t, "GET", "/api/v1/users/me/votes?offset=-1", "u-1", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	api := newTestAPI(t)

	code, body := api.do(t, "GET", "/health/live", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	api.do(t, "POST", "/api/v1/content/c-1/votes", "u-1", `{"vote_type":"authentic"}`)

	resp, err := api.app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "consensus_votes_total")
	assert.Contains(t, string(raw), `endpoint="/api/v1/content/:contentId/votes"`)
}

func TestSubmitRateLimited(t *testing.T) {
	store := memstore.New()
	rl := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Max: 1, Window: time.Minute, KeyFn: middleware.KeyByUserID,
	})
	defer rl.Close()
	app := fiber.New()
	Setup(app, &Handlers{
		Vote:   handler.NewVoteHandler(service.NewVerificationService(store, store, events.NewMemoryBus(), nil)),
		Health: handler.NewHealthHandler("test"),
	}, Options{SubmitLimiter: rl})

	send := func() int {
		req := httptest.NewRequest("POST", "/api/v1/content/c-1/votes", strings.NewReader(`{"vote_type":"authentic"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", "u-1")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusCreated, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}
