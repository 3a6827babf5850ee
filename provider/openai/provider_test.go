package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/casualjim/relay/provider"
	"github.com/go-openapi/swag"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const testKey = "sk-test-123"

const sseBody = "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
	"data: [DONE]\n\n"

func setupTestServer(t *testing.T, key string, handler http.HandlerFunc, extra ...func(*Provider)) (*Provider, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	p := New(key,
		RequestOptions(option.WithBaseURL(server.URL+"/v1/")),
		Timeout(time.Second),
	)
	for _, fn := range extra {
		fn(p)
	}
	return p, &hits
}

func TestNew(t *testing.T) {
	p := New(testKey)
	require.NotNil(t, p.client)
	assert.Equal(t, DefaultTimeout, p.timeout)
	assert.Equal(t, DefaultStreamTimeout, p.streamTimeout)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, VariantName, p.Variant())

	tuned := New(testKey, Timeout(2*time.Second), StreamTimeout(time.Minute))
	assert.Equal(t, 2*time.Second, tuned.timeout)
	assert.Equal(t, time.Minute, tuned.streamTimeout)
}

func TestBuildRequest(t *testing.T) {
	params := buildRequest(provider.Request{
		Prompt:       "hello",
		SystemPrompt: "be brief",
		Model:        "gpt-4o-mini",
		MaxTokens:    100,
		Temperature:  swag.Float64(0.3),
	})

	assert.Equal(t, "gpt-4o-mini", params.Model.Value)
	assert.Equal(t, int64(100), params.MaxTokens.Value)
	assert.InDelta(t, 0.3, params.Temperature.Value, 0.0001)
	require.Len(t, params.Messages.Value, 2)
}

func TestProvider_Open(t *testing.T) {
	t.Run("streams the raw response body", func(t *testing.T) {
		p, hits := setupTestServer(t, testKey, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
			assert.Equal(t, "Bearer "+testKey, r.Header.Get("Authorization"))

			body, err := io.ReadAll(r.Body)
			assert.NoError(t, err)
			assert.True(t, gjson.GetBytes(body, "stream").Bool())
			assert.Equal(t, provider.DefaultModel, gjson.GetBytes(body, "model").String())
			assert.Equal(t, int64(provider.DefaultMaxTokens), gjson.GetBytes(body, "max_tokens").Int())
			assert.InDelta(t, provider.DefaultTemperature, gjson.GetBytes(body, "temperature").Float(), 0.0001)
			assert.Equal(t, "system", gjson.GetBytes(body, "messages.0.role").String())
			assert.Equal(t, "user", gjson.GetBytes(body, "messages.1.role").String())
			assert.Contains(t, gjson.GetBytes(body, "messages.1.content").Raw, "hello")

			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, sseBody)
		})

		strm, err := p.Open(context.Background(), provider.Request{Prompt: "hello"})
		require.NoError(t, err)
		defer strm.Close()

		assert.Equal(t, http.StatusOK, strm.StatusCode)
		b, err := io.ReadAll(strm)
		require.NoError(t, err)
		assert.Equal(t, sseBody, string(b))
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("provider defaults apply to requests", func(t *testing.T) {
		p, _ := setupTestServer(t, testKey, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "gpt-4o", gjson.GetBytes(body, "model").String())
			assert.Equal(t, "answer in french", gjson.GetBytes(body, "messages.0.content").String())
			w.WriteHeader(http.StatusOK)
		}, func(p *Provider) {
			p.defaults = provider.Request{Model: "gpt-4o", SystemPrompt: "answer in french"}
		})

		strm, err := p.Open(context.Background(), provider.Request{Prompt: "hi"})
		require.NoError(t, err)
		_ = strm.Close()
	})

	t.Run("zero temperature is sent as zero", func(t *testing.T) {
		p, hits := setupTestServer(t, testKey, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			temperature := gjson.GetBytes(body, "temperature")
			assert.True(t, temperature.Exists())
			assert.Zero(t, temperature.Float())
			w.WriteHeader(http.StatusOK)
		}, func(p *Provider) {
			p.defaults = provider.Request{Temperature: swag.Float64(0)}
		})

		strm, err := p.Open(context.Background(), provider.Request{Prompt: "hi"})
		require.NoError(t, err)
		_ = strm.Close()
		assert.Equal(t, int32(1), hits.Load())
	})
}

func TestProvider_Open_InvalidCredential(t *testing.T) {
	for _, key := range []string{"", "not-a-key", "sk-"} {
		t.Run("key="+key, func(t *testing.T) {
			p, hits := setupTestServer(t, key, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			strm, err := p.Open(context.Background(), provider.Request{Prompt: "hello"})
			require.Error(t, err)
			assert.Nil(t, strm)
			assert.Equal(t, provider.AuthInvalid, provider.KindOf(err))
			assert.Equal(t, int32(0), hits.Load(), "no network call for an invalid credential")
		})
	}
}

func TestProvider_Open_StatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     map[string]string
		kind       provider.Kind
		retryAfter time.Duration
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, kind: provider.AuthInvalid},
		{name: "rate limited with header", status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "2"}, kind: provider.RateLimited, retryAfter: 2 * time.Second},
		{name: "rate limited without header", status: http.StatusTooManyRequests, kind: provider.RateLimited, retryAfter: time.Second},
		{name: "internal error", status: http.StatusInternalServerError, kind: provider.ServerUnavailable},
		{name: "service unavailable", status: http.StatusServiceUnavailable, kind: provider.ServerUnavailable},
		{name: "bad request", status: http.StatusBadRequest, kind: provider.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, hits := setupTestServer(t, testKey, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"test"}}`)
			})

			_, err := p.Open(context.Background(), provider.Request{Prompt: "hello"})
			require.Error(t, err)

			var pErr *provider.Error
			require.ErrorAs(t, err, &pErr)
			assert.Equal(t, tt.kind, pErr.Kind)
			assert.Equal(t, tt.status, pErr.StatusCode)
			if tt.kind == provider.RateLimited {
				assert.Equal(t, tt.retryAfter, pErr.RetryAfter)
			}
			assert.Equal(t, int32(1), hits.Load(), "the sdk must not retry on its own")
		})
	}
}

func TestProvider_Open_Timeout(t *testing.T) {
	p, _ := setupTestServer(t, testKey, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, func(p *Provider) {
		p.timeout = 30 * time.Millisecond
	})

	start := time.Now()
	_, err := p.Open(context.Background(), provider.Request{Prompt: "hello"})
	require.Error(t, err)
	assert.Equal(t, provider.Timeout, provider.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestProvider_Open_Cancelled(t *testing.T) {
	p, _ := setupTestServer(t, testKey, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := p.Open(ctx, provider.Request{Prompt: "hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProvider_Stream_CloseAbortsBody(t *testing.T) {
	released := make(chan struct{})
	p, _ := setupTestServer(t, testKey, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	})

	strm, err := p.Open(context.Background(), provider.Request{Prompt: "hello"})
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := strm.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "data:")

	require.NoError(t, strm.Close())
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request was not cancelled by Close")
	}
}
