package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// SettleDelay is how long the page gets to render the post after the
	// in-place navigation before the like control is looked up.
	SettleDelay = 3 * time.Second

	discoveryTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	replyWait        = 10 * time.Second
	maxMessageSize   = 1024 * 1024

	targetListPath = "/json/list"
	pageTargetType = "page"
)

var ErrNoPageTarget = errors.New("no page target is open in the browser")

type target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

type cdpRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type evaluateParams struct {
	Expression  string `json:"expression"`
	UserGesture bool   `json:"userGesture"`
}

type cdpReply struct {
	ID    int64 `json:"id"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Surface drives a page of an already running browser through the Chrome
// DevTools Protocol. Results of injected scripts are never inspected.
type Surface struct {
	debugURL    string
	targetHost  string
	settleDelay time.Duration
	client      *http.Client
	dialer      *websocket.Dialer
	nextID      atomic.Int64
	log         *slog.Logger
}

// New creates a Surface. debugURL is either a page websocket URL or the HTTP
// endpoint of the browser's remote debugging port.
func New(debugURL string, targetHost string, log *slog.Logger) *Surface {
	return &Surface{
		debugURL:    strings.TrimRight(strings.TrimSpace(debugURL), "/"),
		targetHost:  strings.TrimSpace(targetHost),
		settleDelay: SettleDelay,
		client:      &http.Client{Timeout: discoveryTimeout},
		dialer:      &websocket.Dialer{HandshakeTimeout: discoveryTimeout},
		log:         log,
	}
}

// DispatchLikeAction navigates the page to path in place, waits for the page
// to settle, then clicks the like control.
func (s *Surface) DispatchLikeAction(ctx context.Context, path string) error {
	wsURL, err := s.pageURL(ctx)
	if err != nil {
		return fmt.Errorf("find page target: %w", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial page target: %w", err)
	}
	defer func() {
		if err = conn.Close(); err != nil {
			s.log.WarnContext(ctx, "Failed to close page connection",
				"error", err,
				"wsURL", wsURL)
		}
	}()
	conn.SetReadLimit(maxMessageSize)

	if err = s.evaluate(ctx, conn, NavigateScript(path)); err != nil {
		return fmt.Errorf("navigate to %s: %w", path, err)
	}

	s.log.DebugContext(ctx, "Page is navigated, waiting to settle",
		"path", path,
		"settleDelay", s.settleDelay)

	timer := time.NewTimer(s.settleDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if err = s.evaluate(ctx, conn, ClickLikeScript()); err != nil {
		return fmt.Errorf("click like control: %w", err)
	}

	return nil
}

// evaluate sends Runtime.evaluate and waits for the protocol to acknowledge
// it, which only means the script ran.
func (s *Surface) evaluate(ctx context.Context, conn *websocket.Conn, expression string) error {
	id := s.nextID.Add(1)

	req := cdpRequest{
		ID:     id,
		Method: "Runtime.evaluate",
		Params: evaluateParams{Expression: expression, UserGesture: true},
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(replyWait)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	for {
		var reply cdpReply
		if err := conn.ReadJSON(&reply); err != nil {
			return fmt.Errorf("read reply: %w", err)
		}

		// Protocol events carry no id.
		if reply.ID != id {
			continue
		}

		if reply.Error != nil {
			return fmt.Errorf("protocol error %d: %s", reply.Error.Code, reply.Error.Message)
		}

		return nil
	}
}

func (s *Surface) pageURL(ctx context.Context) (string, error) {
	if strings.HasPrefix(s.debugURL, "ws://") || strings.HasPrefix(s.debugURL, "wss://") {
		return s.debugURL, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.debugURL+targetListPath, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			s.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"operation", "pageURL")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("do request: unexpected status: %d", resp.StatusCode)
	}

	var targets []target
	if err = json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("decode targets: %w", err)
	}

	t, ok := pickTarget(targets, s.targetHost)
	if !ok {
		return "", ErrNoPageTarget
	}

	return t.WebSocketDebuggerURL, nil
}

// pickTarget prefers the first page showing targetHost and falls back to the
// first page at all.
func pickTarget(targets []target, targetHost string) (target, bool) {
	var fallback *target

	for i := range targets {
		t := &targets[i]
		if t.Type != pageTargetType || t.WebSocketDebuggerURL == "" {
			continue
		}

		if targetHost != "" && strings.Contains(t.URL, targetHost) {
			return *t, true
		}

		if fallback == nil {
			fallback = t
		}
	}

	if fallback == nil {
		return target{}, false
	}

	return *fallback, true
}
