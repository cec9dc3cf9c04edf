package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"robolike/internal/domain"
)

const (
	apiClientTimeout = 20 * time.Second
	maxResponseBytes = 4 << 20

	recentPostsPathFormat = "/api/instagram/hashtag/%s/recent"
	authStatusPath        = "/api/auth/status"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrPaymentRequired = errors.New("payment required")
)

// StatusError is returned for any unexpected HTTP status of the API.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

type recentPostsResponse struct {
	Posts []domain.Candidate `json:"posts"`
}

// Fetcher talks to the hashtag search API.
type Fetcher struct {
	baseURL     string
	accessToken string
	client      *http.Client
	captions    *captionCache
	log         *slog.Logger
}

func NewFetcher(baseURL string, accessToken string, log *slog.Logger) *Fetcher {
	return &Fetcher{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		accessToken: strings.TrimSpace(accessToken),
		client:      &http.Client{Timeout: apiClientTimeout},
		captions:    newCaptionCache(captionCacheMaxEntries),
		log:         log,
	}
}

// FetchRecent returns one page of recent posts for hashtag, in the order the
// API returned them. A response without posts yields an empty slice.
func (f *Fetcher) FetchRecent(ctx context.Context, hashtag string) ([]domain.Candidate, error) {
	hashtag = strings.TrimSpace(hashtag)
	if hashtag == "" {
		return nil, errors.New("hashtag is empty")
	}

	endpoint := f.baseURL + fmt.Sprintf(recentPostsPathFormat, url.PathEscape(hashtag))

	resp, err := f.do(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			f.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"operation", "FetchRecent",
				"hashtag", hashtag)
		}
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusPaymentRequired:
		return nil, ErrPaymentRequired
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	var body recentPostsResponse
	if err = json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(body.Posts))
	for _, c := range body.Posts {
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			f.log.WarnContext(ctx, "Skipping candidate without id",
				"hashtag", hashtag,
				"permalink", c.Permalink)

			continue
		}

		c.Permalink = strings.TrimSpace(c.Permalink)
		c.Caption = strings.TrimSpace(c.Caption)
		candidates = append(candidates, c)
	}

	return candidates, nil
}

// CheckAuth reports whether the access token is accepted by the API.
func (f *Fetcher) CheckAuth(ctx context.Context) (bool, error) {
	resp, err := f.do(ctx, f.baseURL+authStatusPath)
	if err != nil {
		return false, err
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			f.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"operation", "CheckAuth")
		}
	}()

	return resp.StatusCode == http.StatusOK, nil
}

func (f *Fetcher) do(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.accessToken)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	return resp, nil
}
