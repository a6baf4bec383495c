package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/slack-go/slack"

	"github.com/nicebartender/edi/command"
	"github.com/nicebartender/edi/dispatch"
	"github.com/nicebartender/edi/errs"
	"github.com/nicebartender/edi/event"
	"github.com/nicebartender/edi/metrics"
	"github.com/nicebartender/edi/plugin"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 2 * time.Minute
	defaultMultiplier     = 2.0
	defaultJitter         = 0.2
	defaultStopTimeout    = 10 * time.Second
)

// Supervisor drives one run of the bot: it dials, waits for the handshake,
// starts the units, routes events in order and reconnects until stopped.
type Supervisor struct {
	dial       DialFunc
	units      *plugin.Registry
	commands   *command.Registry
	dispatcher *dispatch.Dispatcher

	logger      *slog.Logger
	metrics     *metrics.Metrics
	observer    func(from, to State)
	disabled    []string
	sections    func(unit string) plugin.Section
	backoff     *backoff.ExponentialBackOff
	stopTimeout time.Duration
	reconnect   bool

	session *Session

	mu       sync.Mutex
	state    State
	stopOnce sync.Once
}

type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithObserver is called after every state transition.
func WithObserver(fn func(from, to State)) Option {
	return func(s *Supervisor) { s.observer = fn }
}

// WithDisabledUnits keeps the named units from starting.
func WithDisabledUnits(names ...string) Option {
	return func(s *Supervisor) { s.disabled = append(s.disabled, names...) }
}

// WithSections supplies each unit's configuration table.
func WithSections(fn func(unit string) plugin.Section) Option {
	return func(s *Supervisor) { s.sections = fn }
}

// WithBackoff sets the reconnect delay policy. Zero values keep the defaults.
func WithBackoff(initial, max time.Duration, multiplier float64) Option {
	return func(s *Supervisor) {
		if initial > 0 {
			s.backoff.InitialInterval = initial
		}
		if max > 0 {
			s.backoff.MaxInterval = max
		}
		if multiplier >= 1 {
			s.backoff.Multiplier = multiplier
		}
	}
}

func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithReconnect controls whether a closed stream is redialed. Without it a
// clean close ends the run.
func WithReconnect(on bool) Option {
	return func(s *Supervisor) { s.reconnect = on }
}

func New(dial DialFunc, units *plugin.Registry, commands *command.Registry, dispatcher *dispatch.Dispatcher, opts ...Option) *Supervisor {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = defaultInitialBackoff
	bo.MaxInterval = defaultMaxBackoff
	bo.Multiplier = defaultMultiplier
	bo.RandomizationFactor = defaultJitter

	s := &Supervisor{
		dial:        dial,
		units:       units,
		commands:    commands,
		dispatcher:  dispatcher,
		logger:      slog.Default(),
		backoff:     bo,
		stopTimeout: defaultStopTimeout,
		reconnect:   true,
		sections:    func(string) plugin.Section { return nil },
		session:     newSession(),
		state:       Disconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session", "session_id", s.session.ID())
	s.backoff.Reset()
	return s
}

// Session exposes the live session, mostly for tests and the console.
func (s *Supervisor) Session() *Session { return s.session }

// State is the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) transition(to State) error {
	s.mu.Lock()
	from := s.state
	if err := checkTransition(from, to); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = to
	s.mu.Unlock()

	s.logger.Debug("state changed", "from", from, "to", to)
	s.metrics.State(int(to))
	if s.observer != nil {
		s.observer(from, to)
	}
	return nil
}

// Run blocks until ctx is cancelled or an unrecoverable error occurs. Units
// are always stopped before it returns. Cancellation is a clean stop and
// returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.State() == Stopped {
		return checkTransition(Stopped, Connecting)
	}

	for {
		if ctx.Err() != nil {
			return s.shutdown(nil)
		}
		if err := s.transition(Connecting); err != nil {
			return s.shutdown(err)
		}

		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return s.shutdown(nil)
			}
			if !errs.IsTransient(err) {
				s.logger.Error("connect failed", "err", err)
				return s.shutdown(err)
			}
			if terr := s.transition(Disconnected); terr != nil {
				return s.shutdown(terr)
			}
			if !s.wait(ctx, err) {
				return s.shutdown(nil)
			}
			continue
		}

		s.session.attach(conn)
		if err := s.transition(Handshaking); err != nil {
			return s.shutdown(err)
		}
		err = s.stream(ctx, conn)
		if cerr := s.session.detach(); cerr != nil {
			s.logger.Debug("close connection", "err", cerr)
		}

		switch {
		case ctx.Err() != nil:
			return s.shutdown(nil)
		case errors.Is(err, errs.ErrConnectionClosed) && !s.reconnect:
			s.logger.Info("connection closed")
			return s.shutdown(nil)
		case errs.IsTransient(err) && s.reconnect:
			s.logger.Warn("connection lost", "err", err)
			if terr := s.transition(Disconnected); terr != nil {
				return s.shutdown(terr)
			}
			s.metrics.Reconnect()
			if !s.wait(ctx, err) {
				return s.shutdown(nil)
			}
		default:
			s.logger.Error("stream failed", "err", err)
			return s.shutdown(err)
		}
	}
}

// stream waits for the handshake, then routes events until the stream
// ends. Events before the handshake are dropped.
func (s *Supervisor) stream(ctx context.Context, conn Connection) error {
	handshaken := false
	for {
		ev, err := conn.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch {
		case ev.Kind() == event.KindHello:
			if err := s.ready(ctx, conn, handshaken); err != nil {
				return err
			}
			handshaken = true
		case !handshaken:
			s.logger.Debug("event before handshake dropped", ev.LogAttrs()...)
			continue
		}

		// the route outlives cancellation so units are not interrupted mid-event
		s.dispatcher.Route(context.WithoutCancel(ctx), ev, s.session)

		if ev.Kind() == event.KindGoodbye {
			return errs.Transient(errs.ErrConnectionClosed, "session", "goodbye")
		}
	}
}

// ready runs the readiness actions. Units are started only the first time
// in a run; later handshakes only refresh the bot identity.
func (s *Supervisor) ready(ctx context.Context, conn Connection, rehello bool) error {
	if err := s.transition(Ready); err != nil {
		return err
	}
	if !rehello {
		s.backoff.Reset()
	}

	self := conn.Self()
	s.session.identify(self)
	s.logger.Info("connected", "bot", self.Name, "bot_id", self.ID)

	if !s.session.started() {
		s.startUnits(ctx)
	}
	return s.transition(Streaming)
}

func (s *Supervisor) deps(name string) plugin.Deps {
	return plugin.Deps{
		Out:    s.session,
		Logger: s.logger.With("unit", name),
		Config: s.sections(name),
		Peer:   s.session.Unit,
	}
}

func (s *Supervisor) startUnits(ctx context.Context) {
	live := s.units.Instantiate(s.units.Discover(s.disabled), s.deps)

	candidates := make([]plugin.Plugin, 0, len(live))
	for _, p := range live {
		candidates = append(candidates, p)
	}
	failed := dispatch.Batch(candidates, func(p plugin.Plugin) error { return p.Start(ctx) })
	for name, err := range failed {
		s.metrics.UnitError(name, "start")
		s.logger.Error("unit failed to start", "unit", name, "err", err)
		delete(live, name)
	}

	s.session.setUnits(live)

	providers := make(map[string]command.Provider, len(live))
	for name, p := range live {
		providers[name] = p
	}
	n := s.commands.Materialize(providers)
	s.logger.Info("units started", "units", len(live), "commands", n)
}

// wait sleeps for the next backoff interval, or longer when the upstream
// asked for it. It reports false when ctx ended first.
func (s *Supervisor) wait(ctx context.Context, cause error) bool {
	d := s.backoff.NextBackOff()
	var limited *slack.RateLimitedError
	if errors.As(cause, &limited) && limited.RetryAfter > d {
		d = limited.RetryAfter
	}
	s.logger.Info("reconnecting", "in", d)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// shutdown stops the units, unbinds the commands and closes the connection.
// It runs once; cause is returned unchanged.
func (s *Supervisor) shutdown(cause error) error {
	s.stopOnce.Do(func() {
		if err := s.transition(ShuttingDown); err != nil {
			s.logger.Warn("shutdown from unexpected state", "err", err)
		}

		if units := s.session.Units(); len(units) > 0 {
			s.stopUnits(units)
		}
		s.commands.Unbind()
		if err := s.session.detach(); err != nil {
			s.logger.Debug("close connection", "err", err)
		}

		if err := s.transition(Stopped); err != nil {
			s.logger.Warn("stop from unexpected state", "err", err)
		}
	})
	if cause != nil {
		return fmt.Errorf("session: %w", cause)
	}
	return nil
}

func (s *Supervisor) stopUnits(units []plugin.Plugin) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	done := make(chan map[string]error, 1)
	go func() {
		done <- dispatch.Batch(units, func(p plugin.Plugin) error { return p.Stop(ctx) })
	}()

	select {
	case failed := <-done:
		for name, err := range failed {
			s.metrics.UnitError(name, "stop")
			s.logger.Error("unit failed to stop", "unit", name, "err", err)
		}
		s.logger.Info("units stopped", "units", len(units))
	case <-ctx.Done():
		s.logger.Error("units did not stop in time", "timeout", s.stopTimeout)
	}
}
