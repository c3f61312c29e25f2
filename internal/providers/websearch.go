package providers

import (
	"context"
	"strings"

	"github.com/tripsage/tripsage-core/internal/cerr"
)

// WebSearch is a Tavily-compatible search and extract client.
type WebSearch struct {
	http    *HTTPClient
	baseURL string
	apiKey  string
}

// NewWebSearch creates a client. An empty apiKey makes every call return
// web_search_not_configured.
func NewWebSearch(hc *HTTPClient, baseURL, apiKey string) *WebSearch {
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	return &WebSearch{http: hc, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

// Configured reports whether an API key is set.
func (w *WebSearch) Configured() bool { return w.apiKey != "" }

type SearchRequest struct {
	Query          string   `json:"query"`
	MaxResults     int      `json:"max_results,omitempty"`
	SearchDepth    string   `json:"search_depth,omitempty"`
	Topic          string   `json:"topic,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
	IncludeAnswer  bool     `json:"include_answer,omitempty"`
}

type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type SearchResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer,omitempty"`
	Results []SearchResult `json:"results"`
}

// Search runs a web search.
func (w *WebSearch) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if !w.Configured() {
		return nil, cerr.New(cerr.WebSearchNotConfigured, "web search API key not configured", nil)
	}
	if req.MaxResults <= 0 {
		req.MaxResults = 5
	}
	if req.SearchDepth == "" {
		req.SearchDepth = "basic"
	}

	body := struct {
		APIKey string `json:"api_key"`
		SearchRequest
	}{APIKey: w.apiKey, SearchRequest: req}

	var resp SearchResponse
	err := w.http.DoJSON(ctx, Request{
		Method:        "POST",
		URL:           w.baseURL + "/search",
		Body:          body,
		FailCode:      cerr.WebSearchFailed,
		RateLimitCode: cerr.WebSearchRateLimited,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Query == "" {
		resp.Query = req.Query
	}
	return &resp, nil
}

type CrawlPage struct {
	URL        string `json:"url"`
	RawContent string `json:"raw_content"`
}

// Crawl extracts page content for the given URLs.
func (w *WebSearch) Crawl(ctx context.Context, urls []string) ([]CrawlPage, error) {
	if !w.Configured() {
		return nil, cerr.New(cerr.WebSearchNotConfigured, "web search API key not configured", nil)
	}
	body := map[string]any{"api_key": w.apiKey, "urls": urls}

	var resp struct {
		Results []CrawlPage `json:"results"`
	}
	err := w.http.DoJSON(ctx, Request{
		Method:        "POST",
		URL:           w.baseURL + "/extract",
		Body:          body,
		FailCode:      cerr.WebCrawlFailed,
		RateLimitCode: cerr.WebCrawlRateLimited,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}
