package units

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/go-resty/resty/v2"

	"github.com/nicebartender/edi/command"
	"github.com/nicebartender/edi/errs"
	"github.com/nicebartender/edi/plugin"
)

type TimelineConfig struct {
	Server      string        `mapstructure:"server" yaml:"server"`
	AccessToken string        `mapstructure:"access_token" yaml:"access_token"`
	Channels    []string      `mapstructure:"channels" yaml:"channels"`
	Schedule    string        `mapstructure:"schedule" yaml:"schedule"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

func defaultTimelineConfig() TimelineConfig {
	return TimelineConfig{
		Channels: []string{},
		Schedule: "* * * * *",
		Timeout:  15 * time.Second,
	}
}

const shrug = `¯\_(ツ)_/¯`

var errTimelineOff = errors.New("timeline: no credentials configured")

// status is the subset of a Mastodon status the unit reads.
type status struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Content string `json:"content"`
	Account struct {
		Acct string `json:"acct"`
	} `json:"account"`
}

type account struct {
	Acct string `json:"acct"`
}

type apiError struct {
	Error string `json:"error"`
}

// Timeline mirrors a Mastodon-compatible home timeline into chat and posts
// statuses on request.
type Timeline struct {
	plugin.Base
	out    plugin.Outbound
	logger *slog.Logger
	cfg    TimelineConfig

	client *resty.Client
	now    func() time.Time

	sinceID string // touched by the poll loop only

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func TimelineFactory() plugin.Factory {
	return plugin.Factory{
		Name:    "timeline",
		Enabled: true,
		New: func(deps plugin.Deps) (plugin.Plugin, error) {
			cfg := defaultTimelineConfig()
			if err := decode(deps.Config, &cfg); err != nil {
				return nil, err
			}
			return NewTimeline(deps.Out, deps.Logger, cfg), nil
		},
		Commands: []command.Spec{
			{Name: "post", Args: `(?P<status>.+)`, Description: "<status>: publish a new status"},
		},
	}
}

func NewTimeline(out plugin.Outbound, logger *slog.Logger, cfg TimelineConfig) *Timeline {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Timeline{
		Base:   plugin.NewBase("timeline"),
		out:    out,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
	t.Handle("post", t.post)
	return t
}

// Start checks the credentials and launches the poll loop. Without
// credentials the unit stays up but inert.
func (t *Timeline) Start(ctx context.Context) error {
	if t.cfg.Server == "" || t.cfg.AccessToken == "" {
		t.logger.Debug("missing timeline credentials")
		return nil
	}
	cron := gronx.New()
	if !cron.IsValid(t.cfg.Schedule) {
		return errs.Invalid(fmt.Errorf("%w: timeline schedule %q", errs.ErrInvalidConfig, t.cfg.Schedule), "timeline", "start")
	}

	t.client = resty.New().
		SetBaseURL(t.cfg.Server).
		SetAuthToken(t.cfg.AccessToken).
		SetTimeout(t.cfg.Timeout).
		SetHeader("Accept", "application/json")

	var me account
	resp, err := t.client.R().SetContext(ctx).SetResult(&me).SetError(&apiError{}).
		Get("/api/v1/accounts/verify_credentials")
	if err := responseError(resp, err); err != nil {
		t.client = nil
		return fmt.Errorf("timeline: verify credentials: %w", err)
	}
	t.logger.Info("connected to timeline", "account", "@"+me.Acct)

	if len(t.cfg.Channels) == 0 {
		t.logger.Info("no timeline channels configured")
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.wg.Add(1)
	go t.loop(loopCtx)
	return nil
}

func (t *Timeline) Stop(context.Context) error {
	if t.cancel != nil {
		t.cancel()
		t.wg.Wait()
		t.cancel = nil
	}
	return nil
}

func (t *Timeline) loop(ctx context.Context) {
	defer t.wg.Done()
	for {
		next, err := gronx.NextTickAfter(t.cfg.Schedule, t.now(), false)
		if err != nil {
			t.logger.Error("timeline schedule", "err", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := t.poll(ctx); err != nil && ctx.Err() == nil {
			t.logger.Error("timeline update failed", "err", err)
		}
	}
}

// poll fetches statuses newer than the last one seen. The first poll only
// records where the timeline stands.
func (t *Timeline) poll(ctx context.Context) error {
	params := map[string]string{"limit": "20"}
	if t.sinceID == "" {
		params["limit"] = "1"
	} else {
		params["since_id"] = t.sinceID
	}

	var statuses []status
	resp, err := t.client.R().SetContext(ctx).SetQueryParams(params).
		SetResult(&statuses).SetError(&apiError{}).
		Get("/api/v1/timelines/home")
	if err := responseError(resp, err); err != nil {
		return err
	}
	if len(statuses) == 0 {
		t.logger.Debug("timeline empty")
		return nil
	}

	// Newest first on the wire; announce oldest first.
	if t.sinceID != "" {
		for i := len(statuses) - 1; i >= 0; i-- {
			t.logger.Info("timeline", "account", "@"+statuses[i].Account.Acct, "url", statuses[i].URL)
			t.announce(ctx, statuses[i])
		}
	}
	t.sinceID = statuses[0].ID
	return nil
}

func (t *Timeline) announce(ctx context.Context, s status) {
	for _, name := range t.cfg.Channels {
		ch, ok := t.out.ChannelByName(name)
		if !ok {
			t.logger.Debug("timeline channel not found", "channel", name)
			continue
		}
		if err := t.out.PostMessage(ctx, ch.ID, s.URL); err != nil {
			t.logger.Error("failed to announce status", "channel", name, "err", err)
		}
	}
}

// Update publishes text as a new status and returns its URL.
func (t *Timeline) Update(ctx context.Context, text string) (string, error) {
	if t.client == nil {
		return "", errTimelineOff
	}
	var posted status
	resp, err := t.client.R().SetContext(ctx).
		SetFormData(map[string]string{"status": text}).
		SetResult(&posted).SetError(&apiError{}).
		Post("/api/v1/statuses")
	if err := responseError(resp, err); err != nil {
		return "", fmt.Errorf("timeline: post status: %w", err)
	}
	return posted.URL, nil
}

func (t *Timeline) post(ctx context.Context, inv command.Invocation) (string, error) {
	url, err := t.Update(ctx, inv.Arg("status"))
	if err != nil {
		t.logger.Error("failed to update status", "err", err)
		return shrug, nil
	}
	return url, nil
}

func responseError(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsError() {
		return nil
	}
	if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status(), e.Error)
	}
	return errors.New(resp.Status())
}
