// Package notify publishes cache-commit events over NATS so companion
// processes on the same machine (kiosk screens, the badge printer agent) can
// react to data changes without polling the store.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"companion/internal/errs"
	"companion/internal/ports"
)

const defaultSubject = "companion.cache.commit"

type commitEvent struct {
	Key string    `json:"key"`
	At  time.Time `json:"at"`
}

// Publisher is a NATS-backed ports.CommitPublisher.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

var _ ports.CommitPublisher = (*Publisher)(nil)

func NewPublisher(url string, subject string) (*Publisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	if subject = strings.TrimSpace(subject); subject == "" {
		subject = defaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("companion"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errs.Wrap(err, "connect to nats")
	}
	return &Publisher{conn: conn, subject: subject}, nil
}

// Publish emits one commit event. The cache service treats failures as
// best effort, so this only reports them.
func (p *Publisher) Publish(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(commitEvent{Key: key, At: time.Now().UTC()})
	if err != nil {
		return errs.Wrap(err, "encode commit event")
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return errs.Wrap(err, "publish commit event")
	}
	return nil
}

// Close flushes pending publishes and drops the connection.
func (p *Publisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return errs.Wrap(err, "drain nats connection")
	}
	return nil
}
