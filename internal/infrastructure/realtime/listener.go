// Package realtime subscribes to the backend's change feed over a websocket
// and invalidates cached collections when their rows change server side.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"companion/internal/bootstrap/logging"
	"companion/internal/errs"
)

const (
	dialTimeout      = 10 * time.Second
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
	heartbeatPeriod  = 25 * time.Second
	readDeadlineSlop = 2 * heartbeatPeriod
)

// changeEvent is what the feed sends per committed server-side change.
type changeEvent struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
}

// Listener keeps one websocket subscription alive and calls onChange with
// the affected collection name for every change event.
type Listener struct {
	endpoint string
	apiKey   string
	onChange func(collection string)
}

// NewListener builds a listener for a project base URL, e.g.
// https://abcdefghij.supabase.co becomes wss://.../realtime/v1/changes.
func NewListener(baseURL string, apiKey string, onChange func(collection string)) (*Listener, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend base url is required")
	}
	if onChange == nil {
		return nil, errors.New("change callback is required")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errs.Wrap(err, "parse backend base url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return nil, errors.New("backend base url must be http or https")
	}
	u.Path += "/realtime/v1/changes"
	query := u.Query()
	query.Set("apikey", apiKey)
	u.RawQuery = query.Encode()

	return &Listener{endpoint: u.String(), apiKey: apiKey, onChange: onChange}, nil
}

// Run connects and consumes the feed until ctx is cancelled, reconnecting
// with exponential backoff. It only returns the ctx error.
func (l *Listener) Run(ctx context.Context) error {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "realtime.listener"))
	backoff := initialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := l.consume(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logging.Warn(logCtx, "change feed disconnected, reconnecting",
			slog.Duration("backoff", backoff),
			slog.Any("err", errs.Loggable(err)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// consume runs one connection until it breaks.
func (l *Listener) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, l.endpoint, nil)
	if err != nil {
		return errs.Wrap(err, "dial change feed")
	}
	defer func() { _ = conn.Close() }()

	// Close the socket when ctx goes, so the blocked ReadMessage returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	go l.heartbeat(ctx, conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadlineSlop))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return errs.Wrap(err, "read change feed")
		}

		var event changeEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			logging.Debug(ctx, "unreadable change event skipped",
				slog.String("component", "realtime.listener"))
			continue
		}
		if event.Type != "change" || event.Collection == "" {
			continue
		}
		l.onChange(event.Collection)
	}
}

func (l *Listener) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
