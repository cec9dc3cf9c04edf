package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"robolike/internal/domain"

	"github.com/PuerkitoBio/goquery"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

	captionTTL = time.Hour
)

// ResolveCaption reads the caption of a post page from its Open Graph meta
// tags. Results are cached per post id.
func (f *Fetcher) ResolveCaption(ctx context.Context, c domain.Candidate) (string, error) {
	canonicalURL := CanonicalPermalink(c.Permalink)
	if canonicalURL == "" {
		return "", errors.New("permalink is empty")
	}

	now := time.Now()
	if caption, ok := f.captions.lookup(c.ID, now); ok {
		return caption, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, canonicalURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req) //nolint:gosec // Permalink comes from the API.
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			f.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"canonicalURL", canonicalURL,
				"operation", "ResolveCaption")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("create document from reader: %w", err)
	}

	caption := ""
	if content, ok := doc.Find("meta[property='og:description']").Attr("content"); ok {
		caption = strings.TrimSpace(content)
	} else if content, ok = doc.Find("meta[property='og:title']").Attr("content"); ok {
		caption = strings.TrimSpace(content)
	}

	f.captions.put(c.ID, caption, captionTTL, now)

	return caption, nil
}

// CanonicalPermalink strips query and fragment from a post permalink.
func CanonicalPermalink(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}

	u.RawQuery = ""
	u.Fragment = ""

	return u.String()
}
