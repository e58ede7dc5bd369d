package tool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcouncil/model"
)

type fakeImages struct {
	url string
	err error
}

func (f fakeImages) Generate(context.Context, string) (string, error) { return f.url, f.err }

func TestImageGenerator(t *testing.T) {
	ctx := context.Background()

	_, err := NewImageGenerator(nil, nil).Generate(ctx, "a fox")
	assert.Equal(t, CodeNotConfigured, CodeOf(err))

	g := NewImageGenerator(fakeImages{url: "https://img/1.png"}, nil)
	link, err := g.Generate(ctx, "a fox")
	require.NoError(t, err)
	assert.Equal(t, "https://img/1.png", link)

	_, err = g.Generate(ctx, " ")
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = NewImageGenerator(fakeImages{err: model.NewError(model.KindProviderError, "500", "boom")}, nil).Generate(ctx, "x")
	assert.Equal(t, CodeProviderError, CodeOf(err))

	_, err = NewImageGenerator(fakeImages{err: model.NewError(model.KindNotConfigured, "", "no key")}, nil).Generate(ctx, "x")
	assert.Equal(t, CodeNotConfigured, CodeOf(err))
}

type videoServer struct {
	polls    int32
	readyAt  int32
	finalize string // status when ready
}

func (v *videoServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method == http.MethodPost {
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["prompt"] == "" {
				t.Errorf("bad submit body: %v %v", body, err)
			}
			_, _ = w.Write([]byte(`{"id":"job-1"}`))
			return
		}
		if r.URL.Path != "/videos/job-1" {
			http.NotFound(w, r)
			return
		}
		n := atomic.AddInt32(&v.polls, 1)
		if n < v.readyAt {
			_, _ = w.Write([]byte(`{"status":"processing"}`))
			return
		}
		switch v.finalize {
		case "failed":
			_, _ = w.Write([]byte(`{"status":"failed","error":"nsfw"}`))
		default:
			_, _ = w.Write([]byte(`{"status":"succeeded","output_url":"https://cdn/v.mp4"}`))
		}
	})
}

func newVideo(srv *httptest.Server, maxPolls int, sleeps *int32) *VideoGenerator {
	return NewVideoGenerator(func(o *VideoOptions) {
		o.Endpoint = srv.URL + "/videos"
		o.APIKey = "key"
		o.MaxPolls = maxPolls
		o.Sleep = func(ctx context.Context, d time.Duration) error {
			atomic.AddInt32(sleeps, 1)
			return ctx.Err()
		}
	})
}

func TestVideoGenerator_Success(t *testing.T) {
	vs := &videoServer{readyAt: 3}
	srv := httptest.NewServer(vs.handler(t))
	defer srv.Close()

	var sleeps int32
	link, err := newVideo(srv, 60, &sleeps).Generate(context.Background(), "a sunset")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/v.mp4", link)
	assert.Equal(t, int32(3), atomic.LoadInt32(&vs.polls))
	assert.Equal(t, int32(3), atomic.LoadInt32(&sleeps))
}

func TestVideoGenerator_PollCap(t *testing.T) {
	vs := &videoServer{readyAt: 100}
	srv := httptest.NewServer(vs.handler(t))
	defer srv.Close()

	var sleeps int32
	_, err := newVideo(srv, 4, &sleeps).Generate(context.Background(), "a sunset")
	require.Error(t, err)
	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.Equal(t, int32(4), atomic.LoadInt32(&vs.polls))
}

func TestVideoGenerator_Failures(t *testing.T) {
	vs := &videoServer{readyAt: 1, finalize: "failed"}
	srv := httptest.NewServer(vs.handler(t))
	defer srv.Close()

	var sleeps int32
	_, err := newVideo(srv, 5, &sleeps).Generate(context.Background(), "x")
	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, CodeExecution, te.Code)
	assert.Equal(t, "nsfw", te.Message)

	_, err = NewVideoGenerator().Generate(context.Background(), "x")
	assert.Equal(t, CodeNotConfigured, CodeOf(err))

	bad := NewVideoGenerator(func(o *VideoOptions) {
		o.Endpoint = srv.URL + "/videos"
		o.APIKey = "wrong"
	})
	_, err = bad.Generate(context.Background(), "x")
	assert.Equal(t, CodeProviderError, CodeOf(err))
}
