package server

import (
	"bytes"
	"context"
	"errors"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/ratelimit"
	"github.com/dytto-app/dytto/internal/service/analysis"
	"github.com/dytto-app/dytto/internal/service/insights"
	"github.com/dytto-app/dytto/internal/service/journal"
	"github.com/dytto-app/dytto/internal/service/leveling"
	"github.com/dytto-app/dytto/internal/service/patterns"
	"github.com/dytto-app/dytto/internal/service/quests"
	"github.com/dytto-app/dytto/internal/service/scoring"
	"github.com/dytto-app/dytto/internal/service/tree"
	"github.com/dytto-app/dytto/internal/storage"
	"github.com/dytto-app/dytto/internal/testutil"
)

func newTestServer(t *testing.T, limiter ratelimit.Limiter) http.Handler {
	t.Helper()
	return newTestServerWithStore(t, storage.NewMemory(), limiter)
}

func newTestServerWithStore(t *testing.T, store storage.Store, limiter ratelimit.Limiter) http.Handler {
	t.Helper()
	rules := config.DefaultRules()
	logger := testutil.TestLogger()

	levels, err := leveling.New(rules.LevelThresholds, rules.LevelTitles)
	require.NoError(t, err)
	client := analysis.NewClient(analysis.NewKeywordProvider(), analysis.Options{Timeout: time.Second}, logger)
	repo := storage.NewRepository(store)
	analyzer := patterns.NewAnalyzer(client, rules.Evolution, logger)
	questSvc := quests.NewService(repo, quests.NewGenerator(rules.Quests), rules.Patterns, logger)

	srv := New(ServerConfig{
		Repo:                repo,
		Journal:             journal.New(repo, scoring.New(client, levels, rules.XP, "v1", logger), analyzer, questSvc, rules.Patterns, logger),
		Quests:              questSvc,
		Insights:            insights.New(repo, analyzer, client, rules, logger),
		Tree:                tree.New(repo, levels, analyzer, rules.Achievements),
		Levels:              levels,
		Achievements:        rules.Achievements,
		Logger:              logger,
		Limiter:             limiter,
		Backend:             config.BackendMemory,
		Analysis:            client.ProviderName(),
		Version:             "test",
		MaxRequestBodyBytes: 4096,
	})
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// decode unwraps the data field of a response envelope into out.
func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e.Error.Code
}

func createRelationship(t *testing.T, h http.Handler, name string) model.Relationship {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/relationships", model.CreateRelationshipRequest{Name: name, Categories: []string{"Friend"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rel model.Relationship
	decode(t, rec, &rel)
	return rel
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var hr model.HealthResponse
	decode(t, rec, &hr)
	assert.Equal(t, "healthy", hr.Status)
	assert.Equal(t, "memory", hr.Backend)
	assert.Equal(t, "keyword", hr.Analysis)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

// downStore fails every ping.
type downStore struct{ *storage.Memory }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth_StorageDown(t *testing.T) {
	h := newTestServerWithStore(t, downStore{storage.NewMemory()}, nil)
	rec := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var hr model.HealthResponse
	decode(t, rec, &hr)
	assert.Equal(t, "unhealthy", hr.Status)
	assert.Equal(t, "disconnected", hr.Storage)
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"request_id":"abc-123"`)
}

func TestCreateRelationship_Validation(t *testing.T) {
	h := newTestServer(t, nil)

	rec := do(t, h, http.MethodPost, "/v1/relationships", model.CreateRelationshipRequest{Name: " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, errorCode(t, rec))

	rec = do(t, h, http.MethodPost, "/v1/relationships", `{"name":"Ada","nickname":"A"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = do(t, h, http.MethodPost, "/v1/relationships", `{"name":"`+strings.Repeat("x", 5000)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRelationshipLifecycle(t *testing.T) {
	h := newTestServer(t, nil)
	rel := createRelationship(t, h, "Ada")
	base := "/v1/relationships/" + rel.ID.String()

	rec := do(t, h, http.MethodPost, "/v1/interactions", model.CreateInteractionRequest{
		RelationshipID: rel.ID,
		Content:        "We had a great, wonderful dinner and talked about her new project at work",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res model.RecordResult
	decode(t, rec, &res)
	assert.Positive(t, res.XPDelta)
	assert.True(t, res.Log.Scored())

	rec = do(t, h, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum model.RelationshipSummary
	decode(t, rec, &sum)
	assert.Equal(t, res.XPDelta, sum.Progress.XP)
	assert.Equal(t, "New Connection", sum.Title)
	assert.Equal(t, 5, sum.XPForNext)

	rec = do(t, h, http.MethodGet, base+"/interactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = do(t, h, http.MethodPost, "/v1/interactions/"+res.Log.ID.String()+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resumed model.RecordResult
	decode(t, rec, &resumed)
	assert.True(t, resumed.Skipped)
	assert.Equal(t, res.Progress.XP, resumed.Progress.XP)

	rec = do(t, h, http.MethodGet, "/v1/relationships", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestRecordInteraction_Errors(t *testing.T) {
	h := newTestServer(t, nil)
	rel := createRelationship(t, h, "Ada")

	rec := do(t, h, http.MethodPost, "/v1/interactions", model.CreateInteractionRequest{RelationshipID: rel.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "content is required")

	rec = do(t, h, http.MethodPost, "/v1/interactions", `{"relationship_id":"5b3f7d4e-1c1e-4f0a-9a57-0d0f3b1f2a11","content":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrCodeNotFound, errorCode(t, rec))
}

func TestInvalidAndUnknownIDs(t *testing.T) {
	h := newTestServer(t, nil)
	for _, path := range []string{
		"/v1/relationships/nope",
		"/v1/relationships/nope/tree",
		"/v1/relationships/nope/insights",
	} {
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, path, nil).Code, path)
	}

	missing := "/v1/relationships/5b3f7d4e-1c1e-4f0a-9a57-0d0f3b1f2a11"
	for _, path := range []string{
		missing,
		missing + "/interactions",
		missing + "/quests",
		missing + "/tree",
		missing + "/tree/next",
		missing + "/insights",
		missing + "/level-events",
	} {
		assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, path, nil).Code, path)
	}
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, missing+"/quests", nil).Code)
}

func TestQuests(t *testing.T) {
	h := newTestServer(t, nil)
	rel := createRelationship(t, h, "Ada")
	path := "/v1/relationships/" + rel.ID.String() + "/quests"

	rec := do(t, h, http.MethodPost, path, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var q model.Quest
	decode(t, rec, &q)
	assert.Equal(t, rel.ID, q.RelationshipID)
	assert.Contains(t, q.Description, "Ada")

	rec = do(t, h, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var env model.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.GreaterOrEqual(t, env.Total, 1)
}

func TestTreeEndpoints(t *testing.T) {
	h := newTestServer(t, nil)
	rel := createRelationship(t, h, "Ada")
	base := "/v1/relationships/" + rel.ID.String()

	rec := do(t, h, http.MethodGet, base+"/tree", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tr model.RelationshipTree
	decode(t, rec, &tr)
	assert.Equal(t, 1, tr.Level)
	assert.Len(t, tr.Nodes, 19)

	rec = do(t, h, http.MethodGet, base+"/tree/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var next model.TreeEvolution
	decode(t, rec, &next)
	assert.Contains(t, next.Next, "sprout")
	assert.InDelta(t, 0.053, next.Completion, 1e-9)

	rec = do(t, h, http.MethodGet, "/v1/tree", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var g model.GlobalTree
	decode(t, rec, &g)
	assert.Equal(t, 1, g.Relationships)
}

func TestGlobalTree_Empty(t *testing.T) {
	h := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/v1/tree", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var g model.GlobalTree
	decode(t, rec, &g)
	assert.Zero(t, g.Relationships)
	assert.Empty(t, g.Trees)
}

func TestInsightsEndpoints(t *testing.T) {
	h := newTestServer(t, nil)
	rel := createRelationship(t, h, "Ada")
	path := "/v1/relationships/" + rel.ID.String() + "/insights"

	rec := do(t, h, http.MethodGet, path+"?cached=true", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/interactions", model.CreateInteractionRequest{RelationshipID: rel.ID, Content: "great hike"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ins model.Insight
	decode(t, rec, &ins)
	assert.Equal(t, 1, ins.SourceCount)
	assert.Equal(t, model.InsightVersion, ins.Version)

	rec = do(t, h, http.MethodGet, path+"?cached=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cached model.Insight
	decode(t, rec, &cached)
	assert.Equal(t, ins.GeneratedAt, cached.GeneratedAt)

	rec = do(t, h, http.MethodGet, "/v1/insights", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var global model.Insight
	decode(t, rec, &global)
	assert.Equal(t, model.GlobalScope, global.Scope)
}

func TestLevelsAndLevelEvents(t *testing.T) {
	h := newTestServer(t, nil)
	rec := do(t, h, http.MethodGet, "/v1/levels", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var levels []model.LevelInfo
	decode(t, rec, &levels)
	require.Len(t, levels, 10)
	assert.Equal(t, model.LevelInfo{Level: 2, Title: "Acquaintance", Threshold: 5, Achievement: "First Connection"}, levels[1])

	rel := createRelationship(t, h, "Ada")
	rec = do(t, h, http.MethodGet, "/v1/relationships/"+rel.ID.String()+"/level-events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 2)
	t.Cleanup(func() { _ = limiter.Close() })
	h := newTestServer(t, limiter)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/relationships", nil).Code)
	}
	rec := do(t, h, http.MethodGet, "/v1/relationships", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, model.ErrCodeRateLimited, errorCode(t, rec))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code, "health is not limited")
}
