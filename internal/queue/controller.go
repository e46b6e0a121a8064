// Package queue tracks one citizen's membership in the meeting queue:
// idempotent registration, fixed-interval position polling, transition
// notifications, connectivity tracking and the one-shot meeting redirect.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/jawaracloud/akim-queue/internal/api"
	"github.com/jawaracloud/akim-queue/internal/notify"
	"github.com/jawaracloud/akim-queue/pkg/models"
)

// ErrMissingSession is returned when the controller is started without a
// session identifier. Callers route the user back to the login flow.
var ErrMissingSession = errors.New("queue: missing session id")

// Gateway is the slice of the API client this controller needs.
type Gateway interface {
	JoinQueue(ctx context.Context, sessionID string) (models.JoinResponse, error)
	Position(ctx context.Context, sessionID string) (models.PositionResponse, error)
}

// Navigator opens the meeting room in an independent context, leaving the
// tracking view behind.
type Navigator interface {
	OpenMeeting(url string) error
}

// LeaveGuard warns the user that leaving forfeits their queue position.
// Install and Remove are idempotent.
type LeaveGuard interface {
	Install()
	Remove()
}

// NopGuard is a LeaveGuard that does nothing.
type NopGuard struct{}

func (NopGuard) Install() {}
func (NopGuard) Remove()  {}

// Config tunes the polling loop. The observed production interval is 5s.
type Config struct {
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// Controller tracks one session in the queue.
type Controller struct {
	gw       Gateway
	notifier notify.Notifier
	nav      Navigator
	guard    LeaveGuard
	log      zerolog.Logger
	cfg      Config

	sessionID string

	registered *atomic.Bool
	redirected *atomic.Bool
	online     *atomic.Bool

	mu         sync.Mutex
	last       models.PositionResponse
	haveLast   bool
	lastStatus models.QueueStatus
	haveStatus bool
}

// New builds a controller for sessionID.
func New(gw Gateway, notifier notify.Notifier, nav Navigator, guard LeaveGuard, log zerolog.Logger, sessionID string, cfg Config) *Controller {
	return &Controller{
		gw:         gw,
		notifier:   notifier,
		nav:        nav,
		guard:      guard,
		log:        log,
		cfg:        cfg.withDefaults(),
		sessionID:  sessionID,
		registered: atomic.NewBool(false),
		redirected: atomic.NewBool(false),
		online:     atomic.NewBool(true),
	}
}

// Last returns the most recent position snapshot.
func (c *Controller) Last() (models.PositionResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.haveLast
}

// Online reports whether the last poll reached the server.
func (c *Controller) Online() bool { return c.online.Load() }

// Redirected reports whether the one-shot meeting redirect has fired.
func (c *Controller) Redirected() bool { return c.redirected.Load() }

// Register joins the queue exactly once per controller lifetime. The
// server refusing a duplicate join counts as success; any other join error
// is logged and tracking proceeds anyway, since the entry may well exist.
func (c *Controller) Register(ctx context.Context) {
	if !c.registered.CompareAndSwap(false, true) {
		return
	}
	_, err := c.gw.JoinQueue(ctx, c.sessionID)
	switch {
	case err == nil, api.AlreadyJoined(err):
		c.notifier.Notify(notify.Notification{
			Level:   notify.LevelSuccess,
			Message: "You are registered in the queue",
		})
	case errors.Is(err, api.ErrUnauthorized):
		// Central 401 handling already logged it.
	default:
		c.log.Warn().Err(err).Str("session", c.sessionID).Msg("queue join failed, checking position anyway")
	}
}

// PollOnce fetches the current position and applies every observable
// effect: connectivity transitions, status-change notifications and the
// at-most-once redirect. Safe to call concurrently; last write wins.
func (c *Controller) PollOnce(ctx context.Context) (models.PositionResponse, error) {
	pos, err := c.gw.Position(ctx, c.sessionID)
	if err != nil {
		// 401 is a session problem, not a connectivity one.
		if !errors.Is(err, api.ErrUnauthorized) {
			if c.online.Swap(false) {
				c.notifier.Notify(notify.Notification{
					Level:   notify.LevelError,
					Message: "Lost connection to the server, reconnecting",
				})
			}
		}
		return models.PositionResponse{}, err
	}

	if !c.online.Swap(true) {
		c.notifier.Notify(notify.Notification{
			Level:   notify.LevelSuccess,
			Message: "Connection restored",
		})
	}

	c.mu.Lock()
	prev, had := c.lastStatus, c.haveStatus
	c.lastStatus, c.haveStatus = pos.Status, true
	c.last, c.haveLast = pos, true
	c.mu.Unlock()

	if had && prev != pos.Status {
		c.notifyTransition(pos)
	}

	if pos.Status == models.StatusInBuffer && pos.MeetingURL != nil && *pos.MeetingURL != "" {
		c.redirect(*pos.MeetingURL)
	}
	return pos, nil
}

// notifyTransition emits exactly one notification keyed by the new status.
func (c *Controller) notifyTransition(pos models.PositionResponse) {
	switch pos.Status {
	case models.StatusInBuffer:
		n := notify.Notification{
			Level:   notify.LevelInfo,
			Message: "It is your turn",
		}
		if pos.MeetingURL != nil && *pos.MeetingURL != "" {
			n.ActionLabel = "Open the meeting"
			n.ActionURL = *pos.MeetingURL
		}
		c.notifier.Notify(n)
	case models.StatusServed:
		c.notifier.Notify(notify.Notification{
			Level:   notify.LevelSuccess,
			Message: "The meeting is over",
		})
	case models.StatusCancelled:
		c.notifier.Notify(notify.Notification{
			Level:   notify.LevelNeutral,
			Message: "The meeting was cancelled",
		})
	}
}

// redirect opens the meeting at most once per controller lifetime, tearing
// down the leave guard at that instant. Later polls that still report the
// buffered status do not re-open it.
func (c *Controller) redirect(url string) {
	if !c.redirected.CompareAndSwap(false, true) {
		return
	}
	c.guard.Remove()
	if err := c.nav.OpenMeeting(url); err != nil {
		c.log.Error().Err(err).Str("url", url).Msg("opening meeting failed")
	}
}

// Run registers, awaits the first position fetch, then polls on the fixed
// interval until the redirect fires or ctx is cancelled. The leave guard
// is installed for the whole tracking phase and removed on exit.
func (c *Controller) Run(ctx context.Context) error {
	if c.sessionID == "" {
		return ErrMissingSession
	}

	c.guard.Install()
	defer c.guard.Remove()

	c.Register(ctx)
	c.PollOnce(ctx)
	if c.redirected.Load() {
		return nil
	}

	tick := time.NewTicker(c.cfg.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			c.PollOnce(ctx)
			if c.redirected.Load() {
				return nil
			}
		}
	}
}
