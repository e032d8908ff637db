package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/testutil"
)

func newTestClient(p Provider) *Client {
	return NewClient(p, Options{Timeout: time.Second}, testutil.TestLogger())
}

func TestClientClassifyFallsBackOnFailure(t *testing.T) {
	stub := FailingStub()
	c := newTestClient(stub)

	s := c.Classify(context.Background(), "we had an amazing dinner")
	assert.Equal(t, model.SentimentNeutral, s.Label)
	assert.Zero(t, s.Confidence)
	assert.True(t, s.Fallback)
	assert.EqualValues(t, 1, stub.ClassifyCalls())
}

func TestClientClassifyFallsBackOnTimeout(t *testing.T) {
	c := NewClient(HangingStub(), Options{Timeout: 20 * time.Millisecond}, testutil.TestLogger())

	start := time.Now()
	s := c.Classify(context.Background(), "hello")
	assert.Less(t, time.Since(start), 2*time.Second, "timeout must bound the call")
	assert.True(t, s.Fallback)
	assert.Equal(t, model.SentimentNeutral, s.Label)
}

func TestClientClassifyNormalizesProviderOutput(t *testing.T) {
	stub := &Stub{ClassifyFunc: func(context.Context, string) (model.Sentiment, error) {
		return model.Sentiment{Label: "ecstatic", Confidence: 3}, nil
	}}
	c := newTestClient(stub)

	s := c.Classify(context.Background(), "gym session then a work meeting")
	assert.Equal(t, model.SentimentNeutral, s.Label)
	assert.Equal(t, 1.0, s.Confidence)
	assert.Equal(t, []string{"work", "health"}, s.Topics)
	assert.Equal(t, []string{"reflective", "casual"}, s.Tone)
	assert.False(t, s.Fallback)
}

func TestClientGenerate(t *testing.T) {
	t.Run("success strips quotes", func(t *testing.T) {
		stub := &Stub{GenerateFunc: func(context.Context, string) (string, error) {
			return "  \"Call them tonight.\"\n", nil
		}}
		got := newTestClient(stub).Generate(context.Background(), "prompt", "fallback")
		assert.Equal(t, model.Suggestion{Text: "Call them tonight."}, got)
	})

	t.Run("failure uses fallback", func(t *testing.T) {
		got := newTestClient(FailingStub()).Generate(context.Background(), "prompt", "fallback")
		assert.Equal(t, model.Suggestion{Text: "fallback", Fallback: true}, got)
	})

	t.Run("empty completion uses fallback", func(t *testing.T) {
		stub := &Stub{GenerateFunc: func(context.Context, string) (string, error) { return "   ", nil }}
		got := newTestClient(stub).Generate(context.Background(), "prompt", "fallback")
		assert.True(t, got.Fallback)
	})

	t.Run("keyword provider cannot generate", func(t *testing.T) {
		got := newTestClient(NewKeywordProvider()).Generate(context.Background(), "prompt", "fallback")
		assert.True(t, got.Fallback)
	})
}

func TestClientHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stub := &Stub{}
	s := NewClient(stub, Options{Timeout: time.Second, RPS: 1, Burst: 1}, testutil.TestLogger()).Classify(ctx, "great")
	assert.True(t, s.Fallback)
}

func TestKeywordClassify(t *testing.T) {
	p := NewKeywordProvider()
	tests := []struct {
		text  string
		label model.SentimentLabel
		conf  float64
	}{
		{"We had an amazing, wonderful time!", model.SentimentPositive, 0.85},
		{"I loved it", model.SentimentPositive, 0.8},
		{"She was upset and worried about the move", model.SentimentNegative, 0.85},
		{"Happy but a little sad", model.SentimentNeutral, 0.5},
		{"Whatever, we grabbed coffee", model.SentimentNeutral, 0.5},
		{"great great great great great great", model.SentimentPositive, 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			s, err := p.Classify(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.label, s.Label)
			assert.InDelta(t, tt.conf, s.Confidence, 1e-9)
			assert.Len(t, s.Tone, 2)
		})
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, []string{"work"}, Topics("Long meetings at the office"))
	assert.Equal(t, []string{"family", "hobbies"}, Topics("Cooking with mom"))
	assert.Equal(t, []string{GeneralTopic}, Topics("coffee"))
	assert.Equal(t, []string{GeneralTopic}, Topics(""))
}

func TestParseClassification(t *testing.T) {
	s, err := parseClassification("Sure! ```json\n{\"sentiment\":\"Positive\",\"confidence\":0.9,\"topics\":[\"Work\"],\"tone\":[\" warm \"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, model.SentimentPositive, s.Label)
	assert.Equal(t, 0.9, s.Confidence)
	assert.Equal(t, []string{"work"}, s.Topics)
	assert.Equal(t, []string{"warm"}, s.Tone)

	_, err = parseClassification("no json here")
	assert.Error(t, err)
	_, err = parseClassification(`{"sentiment":"meh"}`)
	assert.Error(t, err)
	_, err = parseClassification(`{"sentiment":`)
	assert.Error(t, err)
}

func TestAnthropicProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var gotReq anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		assert.Equal(t, "test-model", gotReq.Model)
		assert.Equal(t, anthropicMaxTokens, gotReq.MaxTokens)

		text := "Invite them for a walk."
		if len(gotReq.Messages) == 1 && gotReq.Messages[0].Content == ClassifyPrompt("great day") {
			text = `{"sentiment":"positive","confidence":0.8,"topics":[],"tone":["joyful"]}`
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": text}},
		})
	}))
	defer server.Close()

	p := NewAnthropicProvider(server.URL+"/", "test-key", "test-model")

	t.Run("classify", func(t *testing.T) {
		s, err := p.Classify(context.Background(), "great day")
		require.NoError(t, err)
		assert.Equal(t, model.SentimentPositive, s.Label)
		assert.Equal(t, []string{"joyful"}, s.Tone)
	})

	t.Run("generate", func(t *testing.T) {
		out, err := p.Generate(context.Background(), "suggest something")
		require.NoError(t, err)
		assert.Equal(t, "Invite them for a walk.", out)
	})
}

func TestAnthropicProviderAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	_, err := NewAnthropicProvider(server.URL, "k", "m").Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limit_error")
}

func TestOllamaProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/generate":
			var req ollamaGenerateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			assert.False(t, req.Stream)
			resp := ollamaGenerateResponse{Response: "Ask about their trip."}
			if req.Format == "json" {
				resp.Response = `{"sentiment":"negative","confidence":0.7}`
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "llama")

	require.NoError(t, p.Ping(context.Background()))

	s, err := p.Classify(context.Background(), "rough week")
	require.NoError(t, err)
	assert.Equal(t, model.SentimentNegative, s.Label)
	assert.Equal(t, 0.7, s.Confidence)

	out, err := p.Generate(context.Background(), "suggest")
	require.NoError(t, err)
	assert.Equal(t, "Ask about their trip.", out)
}

func TestOllamaProviderErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "missing")
	_, err := p.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Error(t, p.Ping(context.Background()))
}
