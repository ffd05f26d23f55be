// Package news fetches recent headlines for the traded instrument so
// the oracle sees the same context a human trader would.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Provider returns a short, prompt-ready excerpt of recent headlines
// for a query. An empty excerpt means no usable news.
type Provider interface {
	Headlines(ctx context.Context, query string) (string, error)
}

// Config tunes the headline window.
type Config struct {
	ArticleLimit int
	LookbackDays int
}

// Client fetches company news from NewsAPI (newsapi.org).
type Client struct {
	apiKey  string
	limit   int
	days    int
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
	now     func() time.Time
}

// NewClient creates a NewsAPI client.
func NewClient(apiKey string, cfg Config, logger zerolog.Logger) *Client {
	limit := cfg.ArticleLimit
	if limit <= 0 {
		limit = 5
	}
	days := cfg.LookbackDays
	if days <= 0 {
		days = 7
	}
	return &Client{
		apiKey:  apiKey,
		limit:   limit,
		days:    days,
		baseURL: "https://newsapi.org/v2/everything",
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With().Str("component", "news").Logger(),
		now:     time.Now,
	}
}

type article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
	PublishedAt string `json:"publishedAt"`
}

type everythingResponse struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Articles []article `json:"articles"`
}

// Headlines fetches recent articles matching query, newest first, and
// formats them as a plain-text excerpt.
func (c *Client) Headlines(ctx context.Context, query string) (string, error) {
	now := c.now()
	params := url.Values{}
	params.Set("q", query)
	params.Set("language", "en")
	params.Set("sortBy", "relevancy")
	params.Set("from", now.AddDate(0, 0, -c.days).Format("2006-01-02"))
	params.Set("to", now.Format("2006-01-02"))
	params.Set("pageSize", strconv.Itoa(c.limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching news: %w", err)
	}
	defer resp.Body.Close()

	var body everythingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding news response: %w", err)
	}
	if body.Status != "ok" {
		return "", fmt.Errorf("news api: %s", body.Message)
	}

	c.logger.Debug().Str("query", query).Int("articles", len(body.Articles)).Msg("News fetched")
	return formatExcerpt(body.Articles), nil
}

// formatExcerpt renders articles newest-first as bullet lines.
func formatExcerpt(articles []article) string {
	sorted := append([]article(nil), articles...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PublishedAt > sorted[j].PublishedAt
	})

	var b strings.Builder
	for _, a := range sorted {
		if a.Title == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s", a.Title)
		if a.Source.Name != "" {
			fmt.Fprintf(&b, " (%s", a.Source.Name)
			if ts, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
				fmt.Fprintf(&b, ", %s", ts.Format("Jan 2"))
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
		if a.Description != "" {
			fmt.Fprintf(&b, "  %s\n", a.Description)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}
