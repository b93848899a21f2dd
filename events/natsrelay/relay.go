package natsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/internal/fanout"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config holds the relay connection settings.
type Config struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	NodeID        string        `yaml:"node_id"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "gogate.auth"
	}
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
}

// Conn is the subset of *nats.Conn the relay uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Message is the wire form of a relayed event.
type Message struct {
	Kind      goGate.AuthEventKind `json:"kind"`
	At        time.Time            `json:"at"`
	SubjectID string               `json:"subject_id"`
	NodeID    string               `json:"node_id"`
}

// Stats are the relay counters.
type Stats struct {
	Published uint64
	Received  uint64
	Errors    uint64
}

// Relay publishes and receives lifecycle events for one node.
type Relay struct {
	conn   Conn
	nc     *nats.Conn
	prefix string
	nodeID string
	log    *zap.Logger

	mu    sync.Mutex
	sub   *nats.Subscription
	hub   *fanout.Hub
	subID func() string

	published atomic.Uint64
	received  atomic.Uint64
	failed    atomic.Uint64
}

// Connect dials NATS and returns a relay owning the connection.
func Connect(cfg Config, log *zap.Logger) (*Relay, error) {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("gogate-"+cfg.NodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	r := New(nc, cfg, log)
	r.nc = nc
	return r, nil
}

// New wraps an existing connection. The caller keeps ownership of conn.
func New(conn Conn, cfg Config, log *zap.Logger) *Relay {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		conn:   conn,
		prefix: strings.TrimSuffix(cfg.SubjectPrefix, "."),
		nodeID: cfg.NodeID,
		log:    log,
		hub:    fanout.New(0),
	}
}

// NodeID identifies this relay in published messages.
func (r *Relay) NodeID() string { return r.nodeID }

func (r *Relay) subject(subjectID string) string {
	return r.prefix + "." + subjectID
}

// Publish sends ev for subjectID. Events without a subject are dropped.
func (r *Relay) Publish(ctx context.Context, subjectID string, ev goGate.AuthEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if subjectID == "" {
		return nil
	}
	data, err := json.Marshal(Message{Kind: ev.Kind, At: ev.At, SubjectID: subjectID, NodeID: r.nodeID})
	if err != nil {
		r.failed.Add(1)
		return err
	}
	if err := r.conn.Publish(r.subject(subjectID), data); err != nil {
		r.failed.Add(1)
		return fmt.Errorf("nats publish: %w", err)
	}
	r.published.Add(1)
	return nil
}

// Listen subscribes to every subject under the prefix and keeps events
// for the subject returned by current. It is idempotent.
func (r *Relay) Listen(current func() string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil || r.subID != nil {
		return nil
	}
	sub, err := r.conn.Subscribe(r.prefix+".*", r.handle)
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	r.sub = sub
	r.subID = current
	return nil
}

func (r *Relay) handle(msg *nats.Msg) {
	var m Message
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		r.failed.Add(1)
		r.log.Debug("relay message unreadable", zap.Error(err))
		return
	}
	if m.NodeID == r.nodeID {
		return
	}
	r.mu.Lock()
	current := r.subID
	r.mu.Unlock()
	if current == nil || m.SubjectID == "" || m.SubjectID != current() {
		return
	}
	r.received.Add(1)
	r.hub.Emit(goGate.EventTokenRefreshed, m.At)
}

// Events streams remote events accepted by Listen until ctx is done.
func (r *Relay) Events(ctx context.Context) (<-chan goGate.AuthEvent, error) {
	return r.hub.Subscribe(ctx), nil
}

// Stats returns the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Received:  r.received.Load(),
		Errors:    r.failed.Load(),
	}
}

// Close unsubscribes and drains a connection opened by Connect.
func (r *Relay) Close() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.subID = nil
	r.mu.Unlock()

	var errs []error
	if sub != nil {
		errs = append(errs, sub.Unsubscribe())
	}
	if r.nc != nil {
		errs = append(errs, r.nc.Drain())
	}
	return errors.Join(errs...)
}
