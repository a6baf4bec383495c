package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicebartender/edi/command"
	"github.com/nicebartender/edi/dispatch"
	"github.com/nicebartender/edi/errs"
	"github.com/nicebartender/edi/event"
	"github.com/nicebartender/edi/plugin"
	"github.com/nicebartender/edi/session"
	fake "github.com/nicebartender/edi/testutil"
)

var bot = event.User{ID: "UBOT", Name: "edi"}

type harness struct {
	t           *testing.T
	conns       []*fake.Conn
	dialErrs    []error
	dials       int
	transitions []string
	units       []*fake.Unit
	commands    *command.Registry
	cancel      context.CancelFunc
	// stopAt cancels the run on the nth time Streaming is entered
	stopAt    int
	streaming int
}

func newHarness(t *testing.T, units ...*fake.Unit) *harness {
	return &harness{t: t, units: units, commands: command.NewRegistry(nil)}
}

func (h *harness) dial(context.Context) (session.Connection, error) {
	h.dials++
	if len(h.dialErrs) > 0 {
		err := h.dialErrs[0]
		h.dialErrs = h.dialErrs[1:]
		return nil, err
	}
	require.NotEmpty(h.t, h.conns, "unexpected dial")
	c := h.conns[0]
	h.conns = h.conns[1:]
	return c, nil
}

func (h *harness) supervisor(opts ...session.Option) *session.Supervisor {
	var factories []plugin.Factory
	for _, u := range h.units {
		factories = append(factories, u.Factory(command.Spec{Name: "echo-" + u.Name(), Method: "echo"}))
	}
	reg, err := plugin.NewRegistry(nil, factories...)
	require.NoError(h.t, err)
	require.NoError(h.t, reg.RegisterCommands(h.commands))

	observe := func(from, to session.State) {
		h.transitions = append(h.transitions, from.String()+">"+to.String())
		if to == session.Streaming {
			h.streaming++
			if h.streaming == h.stopAt && h.cancel != nil {
				h.cancel()
			}
		}
	}
	base := []session.Option{
		session.WithObserver(observe),
		session.WithBackoff(time.Millisecond, 5*time.Millisecond, 2),
		session.WithStopTimeout(time.Second),
	}
	return session.New(h.dial, reg, h.commands, dispatch.New(h.commands), append(base, opts...)...)
}

func (h *harness) run(s *session.Supervisor) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.cancel = cancel
	return s.Run(ctx)
}

func (h *harness) tail(n int) []string {
	if len(h.transitions) < n {
		return h.transitions
	}
	return h.transitions[len(h.transitions)-n:]
}

func echo(_ context.Context, inv command.Invocation) (string, error) {
	return inv.Command + ": " + inv.At(0), nil
}

func TestSupervisor_TransportCloseReconnects(t *testing.T) {
	quotes := fake.NewUnit("quotes")
	h := newHarness(t, quotes)
	first := fake.NewConn(bot).Hello().Push(fake.Message("C1", "U1", "hi")).Fail(errs.Transient(errs.ErrConnectionClosed, "test", "read"))
	second := fake.NewConn(bot).Hello()
	h.conns = []*fake.Conn{first, second}
	h.stopAt = 2

	s := h.supervisor()
	require.NoError(t, h.run(s))

	assert.Equal(t, 2, h.dials)
	assert.Contains(t, h.transitions, "streaming>disconnected")
	assert.Contains(t, h.transitions, "disconnected>connecting")
	assert.NotContains(t, h.transitions[:len(h.transitions)-2], "shutting_down>stopped")
	assert.Equal(t, []string{"streaming>shutting_down", "shutting_down>stopped"}, h.tail(2))

	assert.Equal(t, 1, quotes.Starts(), "units survive a reconnect")
	assert.Equal(t, 1, quotes.Stops())
	assert.True(t, first.Closed())
	assert.True(t, second.Closed())
	assert.Equal(t, session.Stopped, s.State())
}

func TestSupervisor_RehelloDoesNotRestartUnits(t *testing.T) {
	a, b := fake.NewUnit("a"), fake.NewUnit("b")
	h := newHarness(t, a, b)
	h.conns = []*fake.Conn{fake.NewConn(bot).Hello().Hello().Hello()}
	h.stopAt = 3

	require.NoError(t, h.run(h.supervisor()))

	for _, u := range []*fake.Unit{a, b} {
		assert.Equal(t, 1, u.Starts(), u.Name())
		assert.Equal(t, 1, u.Stops(), u.Name())
		assert.Len(t, u.Events(), 3, "every hello is routed")
	}
	assert.Equal(t, 2, countOf(h.transitions, "streaming>ready"))
}

func TestSupervisor_StopSignalFromStreaming(t *testing.T) {
	u := fake.NewUnit("chatlog")
	h := newHarness(t, u)
	conn := fake.NewConn(bot).Hello()
	h.conns = []*fake.Conn{conn}
	h.stopAt = 1

	s := h.supervisor()
	require.NoError(t, h.run(s))

	assert.Equal(t, []string{
		"disconnected>connecting",
		"connecting>handshaking",
		"handshaking>ready",
		"ready>streaming",
		"streaming>shutting_down",
		"shutting_down>stopped",
	}, h.transitions)
	assert.Equal(t, 1, u.Stops())
	assert.True(t, conn.Closed())

	err := s.Run(context.Background())
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
	assert.Equal(t, 1, u.Stops(), "stop runs once per run")
}

func TestSupervisor_CommandsLiveWhileStreaming(t *testing.T) {
	u := fake.NewUnit("quotes").WithCommand("echo", echo)
	h := newHarness(t, u)
	conn := fake.NewConn(bot).
		Push(fake.Message("C1", "U1", "@edi echo-quotes early")).
		Hello().
		Push(fake.Message("C1", "U1", "@edi echo-quotes hello")).
		Push(event.New(event.KindGoodbye, nil))
	h.conns = []*fake.Conn{conn}

	require.NoError(t, h.run(h.supervisor(session.WithReconnect(false))))

	assert.Equal(t, []string{"echo-quotes: hello"}, conn.Texts(), "events before the handshake are dropped")
	_, ok := h.commands.Lookup("echo-quotes")
	assert.False(t, ok, "commands are unbound at stop")
	assert.Equal(t, 1, h.dials)
	assert.Equal(t, 1, u.Stops())
}

func TestSupervisor_FatalDialError(t *testing.T) {
	u := fake.NewUnit("quotes")
	h := newHarness(t, u)
	h.dialErrs = []error{errs.Fatal(errs.ErrAuthFailed, "rtm", "connect")}

	s := h.supervisor()
	err := h.run(s)
	require.ErrorIs(t, err, errs.ErrAuthFailed)
	assert.Equal(t, []string{"disconnected>connecting", "connecting>shutting_down", "shutting_down>stopped"}, h.transitions)
	assert.Zero(t, u.Starts())
	assert.Zero(t, u.Stops())
}

func TestSupervisor_TransientDialErrorRetries(t *testing.T) {
	h := newHarness(t, fake.NewUnit("help"))
	h.dialErrs = []error{errs.Transient(errors.New("no such host"), "rtm", "connect")}
	h.conns = []*fake.Conn{fake.NewConn(bot).Hello()}
	h.stopAt = 1

	require.NoError(t, h.run(h.supervisor()))
	assert.Equal(t, 2, h.dials)
	assert.Contains(t, h.transitions, "connecting>disconnected")
}

func TestSupervisor_FatalStreamErrorStopsUnits(t *testing.T) {
	u := fake.NewUnit("quotes")
	h := newHarness(t, u)
	h.conns = []*fake.Conn{fake.NewConn(bot).Hello().Fail(errors.New("corrupt frame"))}

	err := h.run(h.supervisor())
	require.EqualError(t, err, "session: corrupt frame")
	assert.Equal(t, 1, u.Starts())
	assert.Equal(t, 1, u.Stops())
	assert.Equal(t, []string{"streaming>shutting_down", "shutting_down>stopped"}, h.tail(2))
}

func TestSupervisor_FailedStartExcludesUnit(t *testing.T) {
	good := fake.NewUnit("good")
	bad := fake.NewUnit("bad")
	bad.StartErr = errors.New("missing credentials")
	h := newHarness(t, good, bad)
	h.conns = []*fake.Conn{fake.NewConn(bot).Hello().Push(fake.Message("C1", "U1", "hi")).Push(event.New(event.KindGoodbye, nil))}

	s := h.supervisor(session.WithReconnect(false))
	require.NoError(t, h.run(s))

	assert.Len(t, good.Events(), 3)
	assert.Empty(t, bad.Events())
	assert.Zero(t, bad.Stops())
	assert.Equal(t, 1, good.Stops())
}

func TestSupervisor_DisabledUnits(t *testing.T) {
	on, off := fake.NewUnit("on"), fake.NewUnit("off")
	h := newHarness(t, on, off)
	h.conns = []*fake.Conn{fake.NewConn(bot).Hello()}
	h.stopAt = 1

	require.NoError(t, h.run(h.supervisor(session.WithDisabledUnits("OFF"))))
	assert.Equal(t, 1, on.Starts())
	assert.Zero(t, off.Starts())
}

func countOf(xs []string, x string) int {
	n := 0
	for _, s := range xs {
		if s == x {
			n++
		}
	}
	return n
}
