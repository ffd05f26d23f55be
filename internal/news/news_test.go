package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("test-key", Config{ArticleLimit: 3, LookbackDays: 7}, zerolog.Nop())
	c.baseURL = srv.URL
	c.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestHeadlines_FormatsExcerptNewestFirst(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "Reliance Industries", r.URL.Query().Get("q"))
		assert.Equal(t, "2026-08-21", r.URL.Query().Get("from"))
		assert.Equal(t, "3", r.URL.Query().Get("pageSize"))

		w.Write([]byte(`{"status":"ok","articles":[
			{"title":"Old refinery update","source":{"name":"Mint"},"publishedAt":"2026-08-25T08:00:00Z"},
			{"title":"Q1 results beat estimates","description":"Net profit up 12%.","source":{"name":"ET"},"publishedAt":"2026-08-27T09:30:00Z"}
		]}`))
	})

	excerpt, err := c.Headlines(context.Background(), "Reliance Industries")
	require.NoError(t, err)

	assert.Contains(t, excerpt, "- Q1 results beat estimates (ET, Aug 27)")
	assert.Contains(t, excerpt, "Net profit up 12%.")
	assert.Less(t, // newest article comes first
		strings.Index(excerpt, "Q1 results"), strings.Index(excerpt, "Old refinery"))
}

func TestHeadlines_APIErrorSurfaces(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"status":"error","message":"apiKeyInvalid"}`))
	})

	_, err := c.Headlines(context.Background(), "RELIANCE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apiKeyInvalid")
}

func TestHeadlines_EmptyResultIsEmptyExcerpt(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","articles":[]}`))
	})

	excerpt, err := c.Headlines(context.Background(), "RELIANCE")
	require.NoError(t, err)
	assert.Empty(t, excerpt)
}
