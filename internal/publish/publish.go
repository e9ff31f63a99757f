// Package publish fans vitals snapshots out to NATS subscribers.
//
// A [Publisher] samples a snapshot source at a fixed interval and publishes
// each snapshot as JSON on one subject. Ticks without an active session are
// skipped. Publishing is fire-and-forget: NATS buffers while reconnecting
// and a failed publish is logged, never retried.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/biofeedback/pkg/types"
)

// DefaultInterval is the publish cadence.
const DefaultInterval = time.Second

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

var _ Conn = (*nats.Conn)(nil)

// SnapshotFunc returns the current vitals and whether a session is active.
type SnapshotFunc func(ctx context.Context) (types.Vitals, bool)

// Connect dials the NATS server at url with reconnects enabled forever.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("publish: connect %s: %w", url, err)
	}
	return nc, nil
}

// Option configures a [Publisher].
type Option func(*Publisher)

// WithInterval sets the publish cadence.
func WithInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

// Publisher publishes vitals snapshots to a subject.
type Publisher struct {
	conn     Conn
	subject  string
	interval time.Duration
}

// New returns a Publisher writing to subject over conn.
func New(conn Conn, subject string, opts ...Option) *Publisher {
	p := &Publisher{conn: conn, subject: subject, interval: DefaultInterval}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Subject returns the subject snapshots are published on.
func (p *Publisher) Subject() string { return p.subject }

// Publish encodes v and publishes it once.
func (p *Publisher) Publish(v types.Vitals) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish: %s: %w", p.subject, err)
	}
	return nil
}

// Run publishes a snapshot from src every interval until ctx is done. It
// returns ctx.Err().
func (p *Publisher) Run(ctx context.Context, src SnapshotFunc) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("vitals publisher running", "subject", p.subject, "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			v, ok := src(ctx)
			if !ok {
				continue
			}
			if err := p.Publish(v); err != nil {
				slog.Warn("vitals publish failed", "session_id", v.SessionID, "err", err)
			}
		}
	}
}

// Encode returns the wire form of v.
func Encode(v types.Vitals) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("publish: encode vitals: %w", err)
	}
	return data, nil
}
