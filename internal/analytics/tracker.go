package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"robolike/internal/domain"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	metricsPath  = "/api/metrics"
	eventPath    = "/desktop-app"
	queueSize    = 256
	sendTimeout  = 10 * time.Second
	sendInterval = 200 * time.Millisecond
	sendBurst    = 5

	likesPerMinute = 1
)

type payload struct {
	Path       string `json:"path"`
	SessionID  string `json:"sessionId"`
	EventType  string `json:"eventType"`
	EventValue string `json:"eventValue"`
}

type event struct {
	eventType string
	metadata  map[string]any
}

// Tracker sends analytics events to the metrics API. Events are queued and
// delivered by a single worker, so tracking never blocks the caller.
type Tracker struct {
	endpoint    string
	accessToken string
	sessionID   string
	appVersion  string
	platform    string
	startedAt   time.Time

	client  *http.Client
	limiter *rate.Limiter
	queue   chan event
	done    chan struct{}

	mu     sync.Mutex
	closed bool

	log *slog.Logger
}

func New(baseURL string, accessToken string, appVersion string, log *slog.Logger) *Tracker {
	t := &Tracker{
		endpoint:    strings.TrimRight(strings.TrimSpace(baseURL), "/") + metricsPath,
		accessToken: strings.TrimSpace(accessToken),
		sessionID:   "session_" + uuid.NewString(),
		appVersion:  appVersion,
		platform:    Platform(runtime.GOOS),
		startedAt:   time.Now(),
		client:      &http.Client{Timeout: sendTimeout},
		limiter:     rate.NewLimiter(rate.Every(sendInterval), sendBurst),
		queue:       make(chan event, queueSize),
		done:        make(chan struct{}),
		log:         log,
	}

	go t.processQueue()

	return t
}

// Platform maps GOOS to the platform names used by the metrics API.
func Platform(goos string) string {
	switch goos {
	case "windows":
		return "windows"
	case "darwin":
		return "macos"
	case "linux":
		return "linux"
	default:
		return goos
	}
}

func (t *Tracker) SessionID() string {
	return t.sessionID
}

func (t *Tracker) TrackAppSessionStart(ctx context.Context) {
	t.enqueue(ctx, domain.EventAppSessionStart, map[string]any{
		"action":      "launch",
		"description": "App launched",
	})
}

func (t *Tracker) TrackAppSessionEnd(ctx context.Context) {
	t.enqueue(ctx, domain.EventAppSessionEnd, map[string]any{
		"action":          "close",
		"description":     "App closed",
		"sessionDuration": int64(time.Since(t.startedAt).Seconds()),
	})
}

func (t *Tracker) TrackAppLogin(ctx context.Context, method string) {
	t.enqueue(ctx, domain.EventAppLogin, map[string]any{
		"action":      "success",
		"description": "User logged into app",
		"loginMethod": method,
	})
}

func (t *Tracker) TrackLikesStarted(ctx context.Context, hashtag string, maxLikes int) {
	t.enqueue(ctx, domain.EventLikesStarted, map[string]any{
		"action":         "hashtag",
		"description":    "User started liking posts",
		"targetHashtag":  nullableString(hashtag),
		"likesPerMinute": likesPerMinute,
		"maxLikes":       maxLikes,
	})
}

func (t *Tracker) TrackLikesStopped(ctx context.Context, reason string, totalLikes int, duration time.Duration) {
	t.enqueue(ctx, domain.EventLikesStopped, map[string]any{
		"action":      reason,
		"description": "User stopped liking posts",
		"totalLikes":  totalLikes,
		"duration":    int64(duration.Seconds()),
		"reason":      reason,
	})
}

func (t *Tracker) TrackPostLiked(ctx context.Context, postID string, hashtag string, likesCount *int) {
	var count any
	if likesCount != nil {
		count = *likesCount
	}

	t.enqueue(ctx, domain.EventPostLiked, map[string]any{
		"action":      "hashtag",
		"description": "Successfully liked a post",
		"postId":      nullableString(postID),
		"hashtag":     nullableString(hashtag),
		"likesCount":  count,
	})
}

func (t *Tracker) TrackAppError(ctx context.Context, errorType string, errorMessage string, errorCode string) {
	t.enqueue(ctx, domain.EventAppError, map[string]any{
		"action":       errorType,
		"description":  errorMessage,
		"errorType":    errorType,
		"errorCode":    nullableString(errorCode),
		"errorMessage": errorMessage,
	})
}

// Close stops accepting events and waits until the queued ones are sent or
// ctx is done.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain analytics queue: %w", ctx.Err())
	}
}

func (t *Tracker) enqueue(ctx context.Context, eventType string, metadata map[string]any) {
	metadata["appVersion"] = t.appVersion
	metadata["platform"] = t.platform

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		t.log.WarnContext(ctx, "Analytics tracker is closed, dropping event",
			"eventType", eventType)

		return
	}

	select {
	case t.queue <- event{eventType: eventType, metadata: metadata}:
	default:
		t.log.WarnContext(ctx, "Analytics queue is full, dropping event",
			"eventType", eventType,
			"queueLen", len(t.queue))
	}
}

func (t *Tracker) processQueue() {
	defer close(t.done)

	for e := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)

		if err := t.limiter.Wait(ctx); err != nil {
			t.log.WarnContext(ctx, "Analytics limiter wait failed",
				"error", err,
				"eventType", e.eventType)
		} else if err = t.send(ctx, e); err != nil {
			t.log.ErrorContext(ctx, "Failed to send analytics event",
				"error", err,
				"eventType", e.eventType,
				"queueLen", len(t.queue))
		} else {
			t.log.DebugContext(ctx, "Analytics event is sent",
				"eventType", e.eventType)
		}

		cancel()
	}
}

func (t *Tracker) send(ctx context.Context, e event) error {
	value, err := json.Marshal(e.metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	body, err := json.Marshal(payload{
		Path:       eventPath,
		SessionID:  t.sessionID,
		EventType:  e.eventType,
		EventValue: string(value),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if t.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.accessToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			t.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"operation", "send")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		return fmt.Errorf("do request: unexpected status: %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
