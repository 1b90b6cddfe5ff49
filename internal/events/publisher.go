// Package events forwards session transitions to NATS so dashboards and
// audit consumers can follow a console without polling it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/signalsfoundry/gridplanner/internal/logging"
	"github.com/signalsfoundry/gridplanner/internal/session"
)

const (
	// DefaultSubjectPrefix roots every published subject.
	DefaultSubjectPrefix = "gridconsole"

	envelopeSource = "gridplanner/console"
	envelopeType   = "com.signalsfoundry.gridplanner."
)

// Envelope is the JSON body of every published message.
type Envelope struct {
	SpecVersion     string    `json:"specversion"`
	ID              string    `json:"id"`
	Source          string    `json:"source"`
	Type            string    `json:"type"`
	Subject         string    `json:"subject"`
	Time            time.Time `json:"time"`
	DataContentType string    `json:"datacontenttype"`
	Epoch           uint64    `json:"epoch"`
	Data            any       `json:"data,omitempty"`
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher turns session events into NATS messages on
// <prefix>.<sector>.<kind>.
type Publisher struct {
	conn   Conn
	prefix string
	log    logging.Logger
}

// NewPublisher wraps conn. An empty prefix uses DefaultSubjectPrefix.
func NewPublisher(conn Conn, prefix string, log logging.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Publisher{conn: conn, prefix: strings.TrimSuffix(prefix, "."), log: log}
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(ev session.Event) string {
	sector := ev.SectorID
	if sector == "" {
		sector = "none"
	}
	return fmt.Sprintf("%s.%s.%s", p.prefix, tokenSafe(sector), ev.Kind)
}

// Publish sends one event.
func (p *Publisher) Publish(ev session.Event) error {
	subject := p.Subject(ev)
	env := Envelope{
		SpecVersion:     "1.0",
		ID:              uuid.NewString(),
		Source:          envelopeSource,
		Type:            envelopeType + string(ev.Kind),
		Subject:         subject,
		Time:            ev.At,
		DataContentType: "application/json",
		Epoch:           ev.Epoch,
		Data:            ev.Payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind, err)
	}
	if err := p.conn.Publish(subject, body); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Attach forwards every event of s until the returned function is called.
// Publish failures are logged and dropped.
func (p *Publisher) Attach(s *session.Session) (detach func()) {
	return s.Subscribe(func(ev session.Event) {
		if err := p.Publish(ev); err != nil {
			p.log.Warn(context.Background(), "event publish failed",
				logging.String("kind", string(ev.Kind)),
				logging.Err(err),
			)
		}
	})
}

// Connect dials NATS with reconnect handlers that report through log.
func Connect(url, name string, log logging.Logger, opts ...nats.Option) (*nats.Conn, error) {
	if log == nil {
		log = logging.Noop()
	}
	ctx := context.Background()
	base := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(ctx, "nats disconnected", logging.Err(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info(ctx, "nats reconnected", logging.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn(ctx, "nats error", logging.Err(err))
		}),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// tokenSafe strips characters NATS treats as subject syntax.
func tokenSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
