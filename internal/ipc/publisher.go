package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gitter-badger/gnomato/internal/bus"
	gotel "github.com/gitter-badger/gnomato/internal/otel"
	"github.com/gitter-badger/gnomato/internal/shared"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Conn is the subset of *dbus.Conn the publisher uses.
type Conn interface {
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	ExportMethodTable(methods map[string]interface{}, path dbus.ObjectPath, iface string) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
}

var _ Conn = (*dbus.Conn)(nil)

// Config names the published object. Zero fields take the defaults.
type Config struct {
	Name       string
	ObjectPath dbus.ObjectPath
	Interface  string
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultBusName
	}
	if c.ObjectPath == "" {
		c.ObjectPath = DefaultObjectPath
	}
	if c.Interface == "" {
		c.Interface = DefaultInterface
	}
	return c
}

// Option configures a Publisher.
type Option func(*Publisher)

func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithEventBus publishes a PublisherStateEvent on every transition.
func WithEventBus(b *bus.Bus) Option {
	return func(p *Publisher) { p.events = b }
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Publisher) {
		if t != nil {
			p.tracer = t
		}
	}
}

func WithMetrics(m *gotel.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// Publisher owns the bus name and the exported state object.
type Publisher struct {
	conn     Conn
	cfg      Config
	accessor func() string

	logger  *slog.Logger
	events  *bus.Bus
	tracer  trace.Tracer
	metrics *gotel.Metrics

	mu       sync.Mutex
	state    State
	exported bool
	closed   bool
	signals  chan *dbus.Signal
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewPublisher binds accessor to conn. Nothing is exported until Start.
func NewPublisher(conn Conn, accessor func() string, cfg Config, opts ...Option) *Publisher {
	p := &Publisher{
		conn:     conn,
		cfg:      cfg.withDefaults(),
		accessor: accessor,
		logger:   slog.Default(),
		tracer:   nooptrace.NewTracerProvider().Tracer(gotel.ScopeName),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "ipc", "bus_name", p.cfg.Name)
	return p
}

// State returns the current name-ownership state.
func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start exports the object and requests the well-known name without
// queueing. Any failure leaves the publisher Lost (or Unregistered when
// nothing was requested yet) and returns a *RegistrationError.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return p.registrationError("export", errors.New("publisher is closed"))
	}
	if p.state != StateUnregistered {
		return p.registrationError("request name", fmt.Errorf("publisher already started (state %s)", p.state))
	}
	if p.accessor == nil {
		return p.registrationError("export", errors.New("state accessor is nil"))
	}

	node := introspectNode(p.cfg.Interface)
	node.Name = string(p.cfg.ObjectPath)
	if err := p.conn.Export(introspect.NewIntrospectable(node), p.cfg.ObjectPath, introspectableInterface); err != nil {
		return p.registrationError("introspection", err)
	}
	methods := map[string]interface{}{
		MethodGetElapsedTime: p.getElapsedTime,
	}
	if err := p.conn.ExportMethodTable(methods, p.cfg.ObjectPath, p.cfg.Interface); err != nil {
		_ = p.conn.Export(nil, p.cfg.ObjectPath, introspectableInterface)
		return p.registrationError("export", err)
	}
	p.exported = true

	// Subscribe before requesting so a NameLost cannot slip past.
	p.signals = make(chan *dbus.Signal, 16)
	p.conn.Signal(p.signals)
	p.wg.Add(1)
	go p.watch(p.signals)

	p.transitionLocked(StateNameRequested, "requesting name")
	reply, err := p.conn.RequestName(p.cfg.Name, dbus.NameFlagDoNotQueue)
	if err != nil {
		p.loseLocked("request failed")
		return p.registrationError("request name", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		p.loseLocked("name already owned")
		return p.registrationError("request name", fmt.Errorf("not primary owner (reply %d)", reply))
	}
	p.transitionLocked(StateAcquired, "name acquired")
	p.logger.InfoContext(ctx, "bus name acquired", "object_path", string(p.cfg.ObjectPath))
	return nil
}

// Close unexports the object, stops watching signals and releases the name
// if held. A Lost publisher stays Lost. It must run before the task store
// closes.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	if p.signals != nil {
		p.conn.RemoveSignal(p.signals)
	}

	var errs []error
	if p.exported {
		errs = append(errs, p.unexportLocked())
	}
	if p.state == StateAcquired {
		if _, err := p.conn.ReleaseName(p.cfg.Name); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", p.cfg.Name, err))
		}
	}
	switch p.state {
	case StateAcquired, StateNameRequested:
		p.transitionLocked(StateUnregistered, "closed")
	case StateLost:
		p.logger.Debug("publisher closed after name loss")
	}
	p.mu.Unlock()

	p.wg.Wait()
	return errors.Join(errs...)
}

// watch turns NameLost signals and connection termination into Lost.
func (p *Publisher) watch(ch <-chan *dbus.Signal) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case sig, ok := <-ch:
			if !ok {
				p.lose("bus connection closed")
				return
			}
			if sig == nil || len(sig.Body) == 0 {
				continue
			}
			name, _ := sig.Body[0].(string)
			if name != p.cfg.Name {
				continue
			}
			switch sig.Name {
			case nameLostSignal:
				p.lose("name lost")
				return
			case nameAcquiredSignal:
				p.logger.Debug("name acquired signal")
			}
		}
	}
}

func (p *Publisher) lose(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.loseLocked(reason)
}

// loseLocked moves to Lost and unregisters the object. Lost is terminal.
func (p *Publisher) loseLocked(reason string) {
	if p.state == StateLost {
		return
	}
	if p.exported {
		if err := p.unexportLocked(); err != nil {
			p.logger.Warn("unexport after name loss failed", "error", err)
		}
	}
	p.transitionLocked(StateLost, reason)
	p.logger.Warn("bus name lost", "reason", reason)
}

func (p *Publisher) unexportLocked() error {
	p.exported = false
	mErr := p.conn.ExportMethodTable(nil, p.cfg.ObjectPath, p.cfg.Interface)
	iErr := p.conn.Export(nil, p.cfg.ObjectPath, introspectableInterface)
	if err := errors.Join(mErr, iErr); err != nil {
		return fmt.Errorf("unexport %s: %w", p.cfg.ObjectPath, err)
	}
	return nil
}

func (p *Publisher) transitionLocked(to State, reason string) {
	from := p.state
	p.state = to
	p.logger.Debug("publisher state changed", "from", from.String(), "to", to.String(), "reason", reason)
	p.events.Publish(bus.TopicPublisherState, bus.PublisherStateEvent{
		Name:   p.cfg.Name,
		From:   from.String(),
		To:     to.String(),
		Reason: reason,
	})
}

func (p *Publisher) registrationError(stage string, err error) error {
	return &RegistrationError{Stage: stage, Name: p.cfg.Name, Err: err}
}

// getElapsedTime is exported on the bus. godbus fills sender from the
// message header.
func (p *Publisher) getElapsedTime(sender dbus.Sender) (string, *dbus.Error) {
	return p.Handle(shared.WithSender(context.Background(), string(sender)), GetElapsedTime{})
}

// Handle dispatches one request with tracing, metrics and a per-call
// trace_id.
func (p *Publisher) Handle(ctx context.Context, req Request) (string, *dbus.Error) {
	traceID := shared.NewTraceID()
	ctx = shared.WithTraceID(ctx, traceID)
	ctx, span := gotel.StartServerSpan(ctx, p.tracer, "ipc."+req.Method(),
		gotel.AttrIPCMethod.String(req.Method()),
		gotel.AttrBusName.String(p.cfg.Name),
		gotel.AttrTraceID.String(traceID),
	)
	defer span.End()

	start := time.Now()
	out, dErr := Dispatch(req, p.accessor)
	outcome := "ok"
	if dErr != nil {
		outcome = dErr.Name
		span.SetStatus(codes.Error, dErr.Error())
	}
	span.SetAttributes(gotel.AttrIPCOutcome.String(outcome))

	if p.metrics != nil {
		set := metric.WithAttributes(gotel.AttrIPCMethod.String(req.Method()), gotel.AttrIPCOutcome.String(outcome))
		p.metrics.IPCCalls.Add(ctx, 1, set)
		p.metrics.IPCDuration.Record(ctx, time.Since(start).Seconds(), set)
	}
	p.logger.DebugContext(ctx, "bus method call",
		"trace_id", traceID,
		"method", req.Method(),
		"sender", shared.Sender(ctx),
		"outcome", outcome,
	)
	return out, dErr
}
