package baiduocr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	tokenHits     atomic.Int64
	recognizeHits atomic.Int64

	tokenBody func(hit int64) string
	ocrBody   func(hit int64) string
}

func (p *fakeProvider) start(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		hit := p.tokenHits.Add(1)
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "test-key", r.URL.Query().Get("client_id"))
		assert.Equal(t, "test-secret", r.URL.Query().Get("client_secret"))
		fmt.Fprint(w, p.tokenBody(hit))
	})
	mux.HandleFunc("/ocr", func(w http.ResponseWriter, r *http.Request) {
		hit := p.recognizeHits.Add(1)
		assert.NotEmpty(t, r.URL.Query().Get("access_token"))
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.PostForm.Get("image"))
		fmt.Fprint(w, p.ocrBody(hit))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	return New(Config{
		APIKey:       "test-key",
		SecretKey:    "test-secret",
		TokenURL:     srv.URL + "/token",
		RecognizeURL: srv.URL + "/ocr",
	})
}

func writeImageFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crop.png")
	require.NoError(t, os.WriteFile(path, []byte("not-a-real-png"), 0o644))
	return path
}

func TestClient_Recognize(t *testing.T) {
	provider := &fakeProvider{
		tokenBody: func(int64) string {
			return `{"access_token":"tok-1","expires_in":2592000}`
		},
		ocrBody: func(int64) string {
			return `{"words_result":[{"words":"4x = 8"}]}`
		},
	}
	srv := provider.start(t)
	cli := newTestClient(srv)

	raw, err := cli.Recognize(context.Background(), writeImageFixture(t))
	require.NoError(t, err)

	result, ok := raw["words_result"].([]any)
	require.True(t, ok)
	assert.Len(t, result, 1)
	assert.EqualValues(t, 1, provider.tokenHits.Load())
	assert.EqualValues(t, 1, provider.recognizeHits.Load())
}

func TestClient_Recognize_TokenCached(t *testing.T) {
	provider := &fakeProvider{
		tokenBody: func(int64) string { return `{"access_token":"tok","expires_in":2592000}` },
		ocrBody:   func(int64) string { return `{}` },
	}
	srv := provider.start(t)
	cli := newTestClient(srv)
	imagePath := writeImageFixture(t)

	for i := 0; i < 3; i++ {
		_, err := cli.Recognize(context.Background(), imagePath)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 1, provider.tokenHits.Load(), "token fetched once and cached")
	assert.EqualValues(t, 3, provider.recognizeHits.Load())
}

func TestClient_Recognize_TokenExpiry(t *testing.T) {
	provider := &fakeProvider{
		// expires_in 100s means the 120s safety margin undershoots,
		// so the minimum 60s window applies
		tokenBody: func(int64) string { return `{"access_token":"tok","expires_in":100}` },
		ocrBody:   func(int64) string { return `{}` },
	}
	srv := provider.start(t)
	cli := newTestClient(srv)
	imagePath := writeImageFixture(t)

	current := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	cli.now = func() time.Time { return current }

	_, err := cli.Recognize(context.Background(), imagePath)
	require.NoError(t, err)
	require.EqualValues(t, 1, provider.tokenHits.Load())

	current = current.Add(59 * time.Second)
	_, err = cli.Recognize(context.Background(), imagePath)
	require.NoError(t, err)
	assert.EqualValues(t, 1, provider.tokenHits.Load(), "still inside the 60s window")

	current = current.Add(2 * time.Second)
	_, err = cli.Recognize(context.Background(), imagePath)
	require.NoError(t, err)
	assert.EqualValues(t, 2, provider.tokenHits.Load(), "expired token refetched")
}

func TestClient_Recognize_RetriesOnStaleToken(t *testing.T) {
	provider := &fakeProvider{
		tokenBody: func(hit int64) string {
			return fmt.Sprintf(`{"access_token":"tok-%d","expires_in":2592000}`, hit)
		},
		ocrBody: func(hit int64) string {
			if hit == 1 {
				return `{"error_code":110,"error_msg":"Access token invalid or no longer valid"}`
			}
			return `{"words_result":[{"words":"ok"}]}`
		},
	}
	srv := provider.start(t)
	cli := newTestClient(srv)

	raw, err := cli.Recognize(context.Background(), writeImageFixture(t))
	require.NoError(t, err)

	assert.Zero(t, ErrorCode(raw))
	assert.EqualValues(t, 2, provider.tokenHits.Load(), "stale token force-refreshed")
	assert.EqualValues(t, 2, provider.recognizeHits.Load())
}

func TestClient_Recognize_RetriesOnlyOnce(t *testing.T) {
	provider := &fakeProvider{
		tokenBody: func(int64) string { return `{"access_token":"tok","expires_in":2592000}` },
		ocrBody: func(int64) string {
			return `{"error_code":111,"error_msg":"Access token expired"}`
		},
	}
	srv := provider.start(t)
	cli := newTestClient(srv)

	raw, err := cli.Recognize(context.Background(), writeImageFixture(t))
	require.NoError(t, err)

	// the second response is surfaced as-is for the caller to inspect
	assert.Equal(t, 111, ErrorCode(raw))
	assert.Equal(t, "Access token expired", ErrorMessage(raw))
	assert.EqualValues(t, 2, provider.recognizeHits.Load())
}

func TestClient_Recognize_MissingCredentials(t *testing.T) {
	cli := New(Config{})

	_, err := cli.Recognize(context.Background(), writeImageFixture(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "缺少百度 OCR 鉴权配置")
}

func TestClient_Recognize_MissingImage(t *testing.T) {
	cli := New(Config{APIKey: "k", SecretKey: "s"})

	_, err := cli.Recognize(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read image file")
}

func TestClient_Recognize_TokenRejected(t *testing.T) {
	provider := &fakeProvider{
		tokenBody: func(int64) string {
			return `{"error":"invalid_client","error_description":"unknown client id"}`
		},
		ocrBody: func(int64) string { return `{}` },
	}
	srv := provider.start(t)
	cli := newTestClient(srv)

	_, err := cli.Recognize(context.Background(), writeImageFixture(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "获取百度 access_token 失败：unknown client id")
	assert.Zero(t, provider.recognizeHits.Load())
}

func TestClient_Recognize_ProviderHTTPError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"tok","expires_in":2592000}`)
	})
	mux.HandleFunc("/ocr", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream busy", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cli := newTestClient(srv)
	_, err := cli.Recognize(context.Background(), writeImageFixture(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{name: "clean object", in: `{"a":1}`, want: map[string]any{"a": float64(1)}},
		{name: "noise around object", in: "callback({\"a\":1});", want: map[string]any{"a": float64(1)}},
		{name: "empty", in: "", want: map[string]any{}},
		{name: "garbage", in: "not json at all", want: map[string]any{}},
		{name: "array", in: `[1,2]`, want: map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSONObject(tt.in))
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"error_code":216201,"error_msg":"image format error"}`), &decoded))

	assert.Equal(t, 216201, ErrorCode(decoded))
	assert.Equal(t, "image format error", ErrorMessage(decoded))

	assert.Zero(t, ErrorCode(map[string]any{}))
	assert.Empty(t, ErrorMessage(map[string]any{}))
	assert.Equal(t, 110, ErrorCode(map[string]any{"error_code": "110"}))
}
