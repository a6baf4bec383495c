// Package rtm connects the bot to Slack's real time messaging stream.
package rtm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/slack-go/slack"

	"github.com/nicebartender/edi/errs"
	"github.com/nicebartender/edi/event"
)

// Client opens RTM connections with one bot token.
type Client struct {
	api         *slack.Client
	dialer      *websocket.Dialer
	logger      *slog.Logger
	pingPeriod  time.Duration
	sendTimeout time.Duration
}

type Option func(*clientOptions)

type clientOptions struct {
	apiURL      string
	dialer      *websocket.Dialer
	logger      *slog.Logger
	pingPeriod  time.Duration
	sendTimeout time.Duration
}

// WithAPIURL points the Web API calls somewhere other than slack.com. The
// URL must end in a slash.
func WithAPIURL(u string) Option {
	return func(o *clientOptions) { o.apiURL = u }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(o *clientOptions) { o.dialer = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithPingPeriod sets how often keepalive pings are sent.
func WithPingPeriod(d time.Duration) Option {
	return func(o *clientOptions) { o.pingPeriod = d }
}

func NewClient(token string, opts ...Option) *Client {
	o := clientOptions{
		dialer:      websocket.DefaultDialer,
		logger:      slog.Default(),
		pingPeriod:  pingPeriod,
		sendTimeout: sendTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var apiOpts []slack.Option
	if o.apiURL != "" {
		apiOpts = append(apiOpts, slack.OptionAPIURL(o.apiURL))
	}
	return &Client{
		api:         slack.New(token, apiOpts...),
		dialer:      o.dialer,
		logger:      o.logger.With("component", "rtm"),
		pingPeriod:  o.pingPeriod,
		sendTimeout: o.sendTimeout,
	}
}

// Dial asks the Web API for a stream URL, loads the directory and opens
// the websocket. Credential problems are fatal; everything else is worth
// retrying.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	info, wsURL, err := c.api.ConnectRTMContext(ctx)
	if err != nil {
		return nil, classify(err, "connect")
	}
	if info == nil || info.User == nil || wsURL == "" {
		return nil, errs.Transient(fmt.Errorf("%w: rtm.connect returned no identity", errs.ErrHandshake), "rtm", "connect")
	}
	self := event.User{ID: info.User.ID, Name: info.User.Name}

	dir, err := c.loadDirectory(ctx)
	if err != nil {
		return nil, classify(err, "directory")
	}

	ws, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, errs.Transient(fmt.Errorf("dial %s: %w", wsURL, err), "rtm", "dial")
	}

	channels, users := dir.Len()
	c.logger.Info("rtm connected", "bot", self.Name, "bot_id", self.ID, "channels", channels, "users", users)
	return newConn(ws, c, self, dir), nil
}

func (c *Client) loadDirectory(ctx context.Context) (*Directory, error) {
	dir := NewDirectory()

	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel", "private_channel"},
		Limit:           200,
		ExcludeArchived: true,
	}
	for {
		channels, cursor, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("conversations.list: %w", err)
		}
		for _, ch := range channels {
			dir.PutChannel(event.Channel{ID: ch.ID, Name: ch.Name})
		}
		if cursor == "" {
			break
		}
		params.Cursor = cursor
	}

	users, err := c.api.GetUsersContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("users.list: %w", err)
	}
	for _, u := range users {
		dir.PutUser(event.User{ID: u.ID, Name: u.Name})
	}
	return dir, nil
}

var authErrors = map[string]bool{
	"invalid_auth":     true,
	"not_authed":       true,
	"account_inactive": true,
	"token_revoked":    true,
	"token_expired":    true,
}

func classify(err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) && authErrors[apiErr.Err] {
		return errs.Fatal(fmt.Errorf("%w: %s", errs.ErrAuthFailed, apiErr.Err), "rtm", op)
	}
	return errs.Transient(err, "rtm", op)
}
