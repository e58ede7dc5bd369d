package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hupe1980/agentcouncil/core"
	"github.com/hupe1980/agentcouncil/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	path string
	body map[string]any
}

func newServer(t *testing.T, status int, body string, c *capture) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c != nil {
			c.path = r.URL.Path
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &c.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func generate(m *Model, req model.Request) (model.Response, error) {
	ctx := context.Background()
	respCh, errCh := m.Generate(ctx, req)
	return model.Collect(ctx, respCh, errCh)
}

const chatOK = `{"id":"c1","object":"chat.completion","created":1,"model":"gpt","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"length"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`

func TestGenerate_Text(t *testing.T) {
	c := &capture{}
	srv := newServer(t, http.StatusOK, chatOK, c)
	m := NewModel(func(o *Options) {
		o.APIKey = "k"
		o.BaseURL = srv.URL + "/"
	})

	resp, err := generate(m, model.Request{
		Model:  "gpt-4o",
		System: "sys",
		Messages: []model.Message{
			{Role: core.RoleUser, Content: "q"},
			{Role: core.RoleAssistant, Content: "a"},
			{Role: core.RoleUser, Content: "q2"},
		},
		MaxTokens: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
	assert.Equal(t, model.FinishLength, resp.FinishReason)
	assert.Equal(t, 3, resp.Tokens)

	assert.True(t, strings.HasSuffix(c.path, "/chat/completions"), c.path)
	assert.Equal(t, "gpt-4o", c.body["model"])
	assert.EqualValues(t, 50, c.body["max_completion_tokens"])
	msgs, ok := c.body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	first, _ := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
}

func TestGenerate_LegacyMaxTokens(t *testing.T) {
	c := &capture{}
	srv := newServer(t, http.StatusOK, chatOK, c)
	m := NewModel(func(o *Options) {
		o.APIKey = "k"
		o.BaseURL = srv.URL + "/"
		o.LegacyMaxTokens = true
		o.Provider = "gemini"
	})

	_, err := generate(m, model.Request{Messages: []model.Message{{Role: core.RoleUser, Content: "q"}}, MaxTokens: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 10, c.body["max_tokens"])
	assert.NotContains(t, c.body, "max_completion_tokens")
	assert.Equal(t, "gemini", m.Info().Provider)
}

func TestGenerate_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", 429, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, model.ErrRateLimited},
		{"context", 400, `{"error":{"message":"This model's maximum context length is 128000 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`, model.ErrContextTooLarge},
		{"bad request", 400, `{"error":{"message":"invalid model","type":"invalid_request_error"}}`, model.ErrProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.status, tt.body, nil)
			m := NewModel(func(o *Options) {
				o.APIKey = "k"
				o.BaseURL = srv.URL + "/"
			})
			_, err := generate(m, model.Request{Messages: []model.Message{{Role: core.RoleUser, Content: "q"}}})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestGenerate_NoChoices(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt","choices":[]}`, nil)
	m := NewModel(func(o *Options) {
		o.APIKey = "k"
		o.BaseURL = srv.URL + "/"
	})
	_, err := generate(m, model.Request{Messages: []model.Message{{Role: core.RoleUser, Content: "q"}}})
	assert.True(t, errors.Is(err, model.ErrEmptyResponse))
}

func TestEmbedder(t *testing.T) {
	vec := make([]float64, 4)
	for i := range vec {
		vec[i] = float64(i) / 10
	}
	raw, err := json.Marshal(map[string]any{
		"object": "list",
		"model":  "text-embedding-3-small",
		"data":   []any{map[string]any{"object": "embedding", "index": 0, "embedding": vec}},
		"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
	})
	require.NoError(t, err)

	c := &capture{}
	srv := newServer(t, http.StatusOK, string(raw), c)
	e := NewEmbedder(func(o *EmbedderOptions) {
		o.APIKey = "k"
		o.BaseURL = srv.URL + "/"
		o.Dimensions = 4
	})

	got, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, vec, got)
	assert.True(t, strings.HasSuffix(c.path, "/embeddings"))
	assert.Equal(t, 4, e.Dimensions())

	e.opts.Dimensions = 1536
	_, err = e.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestImageGenerator(t *testing.T) {
	c := &capture{}
	srv := newServer(t, http.StatusOK, `{"created":1,"data":[{"url":"https://img.example/1.png"}]}`, c)
	g := NewImageGenerator(func(o *ImageOptions) {
		o.APIKey = "k"
		o.BaseURL = srv.URL + "/"
	})

	url, err := g.Generate(context.Background(), "a fox")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", url)
	assert.Equal(t, "a fox", c.body["prompt"])
	assert.Equal(t, "dall-e-3", c.body["model"])
	assert.Equal(t, "1024x1024", c.body["size"])
}

func TestFinishReason(t *testing.T) {
	assert.Equal(t, model.FinishStop, finishReason("stop"))
	assert.Equal(t, model.FinishFiltered, finishReason("content_filter"))
	assert.Equal(t, model.FinishOther, finishReason("tool_calls"))
}
