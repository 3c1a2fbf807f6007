package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"loreanchor/pkg/domain"
)

// DefaultSimilarity is assigned to matches the search service returns
// without a similarity percentage. Found-by-reverse-image-search already
// implies high confidence, so the default is deliberately high.
const DefaultSimilarity = 90

// maxResults caps how many candidate matches one scan considers.
const maxResults = 20

// ErrService marks failures of the external search service: network errors,
// non-success statuses, malformed payloads. Callers must treat it as "scan
// failed", never as "nothing found".
var ErrService = errors.New("scan service unavailable")

// Result is one raw candidate from the search service. Classification and
// Similarity are optional; missing values are filled in by Evaluate.
type Result struct {
	Title          string   `json:"title"`
	URL            string   `json:"url"`
	Domain         string   `json:"domain"`
	Classification string   `json:"status"`
	Similarity     *float64 `json:"similarity"`
}

// Client performs a reverse similarity search for one media file.
type Client interface {
	Search(ctx context.Context, filename string, file io.Reader, whitelist []string) ([]Result, error)
}

// HTTPClient talks to the search API over HTTP multipart.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient builds a client for the given search API endpoint. The API
// key is optional; without one the backend serves canned results.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type searchResponse struct {
	Status  string   `json:"status"`
	Results []Result `json:"results"`
}

// Search uploads the file and returns candidate matches.
func (c *HTTPClient) Search(ctx context.Context, filename string, file io.Reader, whitelist []string) ([]Result, error) {
	// The payload is streamed through a pipe so large media files are not
	// buffered in memory twice.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if err := mw.WriteField("whitelist", strings.Join(whitelist, ",")); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if c.apiKey != "" {
			if err := mw.WriteField("api_key", c.apiKey); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scan", pr)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrService, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrService, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %s", ErrService, resp.Status)
	}
	var parsed searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrService, err)
	}
	switch parsed.Status {
	case "success":
		if len(parsed.Results) > maxResults {
			parsed.Results = parsed.Results[:maxResults]
		}
		return parsed.Results, nil
	case "no_results":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unexpected response status %q", ErrService, parsed.Status)
	}
}

// Evaluate turns raw results into classified matches. A result carrying its
// own classification is trusted; otherwise whitelist membership decides.
// Missing similarity scores get DefaultSimilarity.
func Evaluate(results []Result, whitelist []string) []domain.Match {
	matches := make([]domain.Match, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		title := strings.TrimSpace(r.Title)
		if title == "" {
			title = "No Title"
		}
		siteDomain := NormalizeDomain(r.Domain)
		if siteDomain == "" {
			siteDomain = SiteName(r.URL)
		}
		var suspicious bool
		switch strings.ToLower(strings.TrimSpace(r.Classification)) {
		case "suspicious":
			suspicious = true
		case "safe":
			suspicious = false
		default:
			suspicious = !Whitelisted(r.URL, whitelist)
		}
		similarity := float64(DefaultSimilarity)
		if r.Similarity != nil {
			similarity = *r.Similarity
		}
		matches = append(matches, domain.Match{
			Title:      title,
			URL:        r.URL,
			Domain:     siteDomain,
			Suspicious: suspicious,
			Similarity: similarity,
		})
	}
	return matches
}
