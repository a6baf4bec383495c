package units

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nicebartender/edi/event"
	"github.com/nicebartender/edi/mention"
	"github.com/nicebartender/edi/plugin"
)

type ChatLogConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

func defaultChatLogConfig() ChatLogConfig {
	return ChatLogConfig{}
}

// ChatLog greets the connection in the log and, with a directory set, keeps
// a per-channel daily transcript.
type ChatLog struct {
	plugin.Base
	out    plugin.Outbound
	logger *slog.Logger
	cfg    ChatLogConfig
	now    func() time.Time

	mu    sync.Mutex
	files map[string]*os.File
}

func ChatLogFactory() plugin.Factory {
	return plugin.Factory{
		Name:    "chatlog",
		Enabled: true,
		New: func(deps plugin.Deps) (plugin.Plugin, error) {
			cfg := defaultChatLogConfig()
			if err := decode(deps.Config, &cfg); err != nil {
				return nil, err
			}
			return NewChatLog(deps.Out, deps.Logger, cfg), nil
		},
	}
}

func NewChatLog(out plugin.Outbound, logger *slog.Logger, cfg ChatLogConfig) *ChatLog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &ChatLog{
		Base:   plugin.NewBase("chatlog"),
		out:    out,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		files:  make(map[string]*os.File),
	}
	c.On(event.KindHello, c.hello)
	c.On(event.KindMessage, c.message)
	return c
}

func (c *ChatLog) hello(context.Context, *event.Envelope) error {
	c.logger.Info("Hello, Slack!")
	return nil
}

func (c *ChatLog) message(_ context.Context, ev *event.Envelope) error {
	if c.cfg.Dir == "" || ev.UserID() == "" || ev.Has("subtype") {
		return nil
	}

	channel := ev.ChannelID()
	if ch, ok := c.out.Channel(channel); ok && ch.Name != "" {
		channel = ch.Name
	}
	user := ev.UserID()
	if u, ok := c.out.User(user); ok && u.Name != "" {
		user = u.Name
	}

	now := c.now()
	line := fmt.Sprintf("[%s] <%s> %s\n", now.Format(time.TimeOnly), user, mention.Expand(ev.Text(), c.out))

	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.file(channel, now)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write chat log: %w", err)
	}
	return nil
}

// file returns the open transcript for channel on the day of now. Caller
// holds mu.
func (c *ChatLog) file(channel string, now time.Time) (*os.File, error) {
	path := filepath.Join(c.cfg.Dir, channel, now.Format(time.DateOnly)+".log")
	if f, ok := c.files[path]; ok {
		return f, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create chat log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open chat log: %w", err)
	}

	// One file per channel stays open; yesterday's is closed on rollover.
	prefix := filepath.Join(c.cfg.Dir, channel) + string(filepath.Separator)
	for p, old := range c.files {
		if filepath.Dir(p)+string(filepath.Separator) == prefix {
			old.Close()
			delete(c.files, p)
		}
	}
	c.files[path] = f
	return f, nil
}

func (c *ChatLog) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for p, f := range c.files {
		if err := f.Close(); err != nil && first == nil {
			first = fmt.Errorf("close chat log: %w", err)
		}
		delete(c.files, p)
	}
	return first
}
