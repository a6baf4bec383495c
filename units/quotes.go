package units

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/nicebartender/edi/command"
	"github.com/nicebartender/edi/db"
	"github.com/nicebartender/edi/event"
	"github.com/nicebartender/edi/mention"
	"github.com/nicebartender/edi/plugin"
)

type QuotesConfig struct {
	DBPath      string `mapstructure:"db_path" yaml:"db_path"`
	TweetGrabs  bool   `mapstructure:"tweet_grabs" yaml:"tweet_grabs"`
	TweetFormat string `mapstructure:"tweet_format" yaml:"tweet_format"`
}

func defaultQuotesConfig() QuotesConfig {
	return QuotesConfig{
		DBPath:      "quotes.db",
		TweetFormat: "<{user}> {text}",
	}
}

const (
	defaultQuoteCount = 3
	maxQuoteCount     = 20
)

// StatusPoster publishes a status and returns its URL.
type StatusPoster interface {
	Update(ctx context.Context, text string) (string, error)
}

// Quotes remembers what people said and saves it on request.
type Quotes struct {
	plugin.Base
	out    plugin.Outbound
	logger *slog.Logger
	cfg    QuotesConfig
	peer   func(name string) (plugin.Plugin, bool)

	db *db.DB

	mu      sync.Mutex
	recents map[string]map[string]string // channel name -> username -> last text
}

func QuotesFactory() plugin.Factory {
	return plugin.Factory{
		Name:    "quotes",
		Enabled: true,
		New: func(deps plugin.Deps) (plugin.Plugin, error) {
			cfg := defaultQuotesConfig()
			if err := decode(deps.Config, &cfg); err != nil {
				return nil, err
			}
			return NewQuotes(deps, cfg), nil
		},
		Commands: []command.Spec{
			{
				Name:        "grab",
				Args:        `(?P<username>\S+)`,
				Description: "<username>: grab the user's last message",
			},
			{
				Name: "quote",
				Args: `(?:#?(?P<qid>\d+)|(?P<limit>\d+)?\s*(?P<username>\S+))?`,
				Description: `[<id> | [<count>] <username>]: show recent quotes

					id: integer - show a specific quote by ID
					count: integer - how many quotes to show
					username: string - only show quotes for the given username`,
			},
		},
	}
}

func NewQuotes(deps plugin.Deps, cfg QuotesConfig) *Quotes {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	q := &Quotes{
		Base:    plugin.NewBase("quotes"),
		out:     deps.Out,
		logger:  logger,
		cfg:     cfg,
		peer:    deps.Peer,
		recents: make(map[string]map[string]string),
	}
	q.On(event.KindMessage, q.remember)
	q.Handle("grab", q.grab)
	q.Handle("quote", q.quote)
	return q
}

func (q *Quotes) Start(context.Context) error {
	d, err := db.Open(q.cfg.DBPath)
	if err != nil {
		return err
	}
	q.db = d
	return nil
}

func (q *Quotes) Stop(context.Context) error {
	if q.db == nil {
		return nil
	}
	err := q.db.Close()
	q.db = nil
	return err
}

func (q *Quotes) remember(_ context.Context, ev *event.Envelope) error {
	if ev.UserID() == "" || ev.Has("subtype") {
		return nil
	}
	channel, ok := q.out.Channel(ev.ChannelID())
	if !ok {
		return nil
	}
	user, ok := q.out.User(ev.UserID())
	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.recents[channel.Name] == nil {
		q.recents[channel.Name] = make(map[string]string)
	}
	q.recents[channel.Name][user.Name] = ev.Text()
	return nil
}

func (q *Quotes) recent(channel, username string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	text, ok := q.recents[channel][username]
	return text, ok
}

func (q *Quotes) grab(ctx context.Context, inv command.Invocation) (string, error) {
	username := mention.Username(inv.Arg("username"), q.out)
	text, ok := q.recent(inv.Channel.Name, username)
	if !ok {
		return "no history for " + username, nil
	}

	saved, err := q.db.AddQuote(ctx, inv.Channel.Name, username, inv.User.Name, text)
	if err != nil {
		return "", err
	}

	if q.cfg.TweetGrabs {
		poster, ok := q.poster()
		if !ok {
			q.logger.Debug("timeline unit not active")
			return fmt.Sprintf("quote #%d saved", saved.ID), nil
		}
		if _, err := poster.Update(ctx, q.format(saved)); err != nil {
			q.logger.Error("failed to post quote", "quote", saved.ID, "err", err)
			return fmt.Sprintf("quote #%d saved", saved.ID), nil
		}
		return fmt.Sprintf("quote #%d saved and tweeted", saved.ID), nil
	}
	return fmt.Sprintf("quote #%d saved", saved.ID), nil
}

func (q *Quotes) poster() (StatusPoster, bool) {
	if q.peer == nil {
		return nil, false
	}
	p, ok := q.peer("timeline")
	if !ok {
		return nil, false
	}
	poster, ok := p.(StatusPoster)
	return poster, ok
}

func (q *Quotes) format(saved *db.Quote) string {
	return strings.NewReplacer(
		"{id}", strconv.FormatInt(saved.ID, 10),
		"{channel}", saved.Channel,
		"{user}", saved.Username,
		"{username}", saved.Username,
		"{text}", saved.Text,
	).Replace(q.cfg.TweetFormat)
}

func (q *Quotes) quote(ctx context.Context, inv command.Invocation) (string, error) {
	var found []db.Quote

	if qid := inv.Arg("qid"); qid != "" {
		id, err := strconv.ParseInt(qid, 10, 64)
		if err != nil {
			return "no quotes found", nil
		}
		got, err := q.db.GetQuote(ctx, id)
		switch {
		case errors.Is(err, db.ErrQuoteNotFound):
		case err != nil:
			return "", err
		case got.Channel == inv.Channel.Name:
			found = append(found, *got)
		}
	} else {
		limit := defaultQuoteCount
		if raw := inv.Arg("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				n = maxQuoteCount
			}
			limit = max(1, min(maxQuoteCount, n))
		}
		username := mention.Username(inv.Arg("username"), q.out)
		var err error
		found, err = q.db.FindQuotes(ctx, inv.Channel.Name, username, true, limit)
		if err != nil {
			return "", err
		}
	}

	if len(found) == 0 {
		return "no quotes found", nil
	}
	lines := make([]string, len(found))
	for i, f := range found {
		lines[i] = f.String()
	}
	return strings.Join(lines, "\n"), nil
}
