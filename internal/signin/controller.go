// Package signin drives the mobile sign-in session: create a remote sign
// session, show its QR, poll the sign status, and persist the resulting
// credential on success.
package signin

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jawaracloud/akim-queue/internal/api"
	"github.com/jawaracloud/akim-queue/internal/credentials"
	"github.com/jawaracloud/akim-queue/internal/notify"
	"github.com/jawaracloud/akim-queue/pkg/models"
)

// QR is a released-once handle to a fetched QR image.
type QR interface {
	Path() string
	ContentType() string
	Release() error
}

// Gateway is the slice of the API client this controller needs.
type Gateway interface {
	CreateSignSession(ctx context.Context, sessionID, phoneNumber string) (models.SignSession, error)
	SignInit(ctx context.Context, sessionID string) (models.SignInitResponse, error)
	SignStatus(ctx context.Context, sessionID string) (models.SignSession, error)
	FetchQR(ctx context.Context, sessionID string) (*api.QRImage, error)
}

// qrFetcher mirrors Gateway.FetchQR behind the QR interface so tests can
// substitute handles and count releases.
type qrFetcher func(ctx context.Context, sessionID string) (QR, error)

// Outcome is the terminal result of a sign-in attempt.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSigned
	OutcomeFailed
	OutcomeTimeout
)

// Config tunes the polling loops. Zero values take the defaults observed
// in production: 2s status polls, 60s QR refresh, no overall deadline.
type Config struct {
	PollInterval      time.Duration
	QRRefreshInterval time.Duration
	MaxWait           time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.QRRefreshInterval <= 0 {
		c.QRRefreshInterval = 60 * time.Second
	}
	return c
}

// Controller runs one sign-in attempt for one session identifier. It is
// re-runnable: after a FAILED outcome the caller may Start it again.
type Controller struct {
	gw       Gateway
	fetchQR  qrFetcher
	creds    *credentials.Store
	notifier notify.Notifier
	log      zerolog.Logger
	cfg      Config

	sessionID   string
	phoneNumber string

	mu      sync.Mutex
	qr      QR
	signURL string
}

// New builds a controller for sessionID. phoneNumber may be empty.
func New(gw Gateway, creds *credentials.Store, notifier notify.Notifier, log zerolog.Logger, sessionID, phoneNumber string, cfg Config) *Controller {
	return &Controller{
		gw: gw,
		fetchQR: func(ctx context.Context, id string) (QR, error) {
			return gw.FetchQR(ctx, id)
		},
		creds:       creds,
		notifier:    notifier,
		log:         log,
		cfg:         cfg.withDefaults(),
		sessionID:   sessionID,
		phoneNumber: phoneNumber,
	}
}

// SessionID returns the correlation key this controller signs in with.
func (c *Controller) SessionID() string { return c.sessionID }

// SignURL returns the direct same-device sign URL, when the server
// provided one.
func (c *Controller) SignURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signURL
}

// CurrentQR returns the live QR handle, or nil before the first load.
// Ownership stays with the controller.
func (c *Controller) CurrentQR() QR {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.qr
}

// Init creates the remote sign session, resolves the same-device sign URL
// and loads the first QR. A create failure is terminal for this attempt
// and user-visible; a QR or init failure is reported but does not prevent
// status polling, which can still resolve through other login paths.
func (c *Controller) Init(ctx context.Context) error {
	if _, err := c.gw.CreateSignSession(ctx, c.sessionID, c.phoneNumber); err != nil {
		c.log.Error().Err(err).Str("session", c.sessionID).Msg("create sign session failed")
		c.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Could not start sign-in, please try again",
		})
		return err
	}

	if init, err := c.gw.SignInit(ctx, c.sessionID); err != nil {
		c.log.Warn().Err(err).Msg("sign init failed, same-device login unavailable")
	} else {
		c.mu.Lock()
		c.signURL = init.SignURL
		c.mu.Unlock()
	}

	if err := c.RefreshQR(ctx); err != nil {
		c.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Could not load the QR code, try refreshing",
		})
	}
	return nil
}

// RefreshQR fetches a new QR image, releasing the superseded handle first.
func (c *Controller) RefreshQR(ctx context.Context) error {
	img, err := c.fetchQR(ctx, c.sessionID)
	if err != nil {
		c.log.Error().Err(err).Msg("qr fetch failed")
		return err
	}
	c.mu.Lock()
	prev := c.qr
	c.qr = img
	c.mu.Unlock()
	if prev != nil {
		prev.Release()
	}
	return nil
}

// PollOnce checks the sign status a single time. Pending states and
// expected transient errors (session not found yet) leave the attempt
// running; other poll errors are logged and also leave it running.
func (c *Controller) PollOnce(ctx context.Context) Outcome {
	sess, err := c.gw.SignStatus(ctx, c.sessionID)
	if err != nil {
		if api.IsNotFound(err) {
			// Races between session creation and the first poll are normal.
			return OutcomePending
		}
		c.log.Warn().Err(err).Msg("sign status poll failed")
		return OutcomePending
	}

	switch sess.State {
	case models.SignSigned:
		c.persistCredential(sess)
		c.notifier.Notify(notify.Notification{
			Level:   notify.LevelSuccess,
			Message: "Signed in successfully",
		})
		return OutcomeSigned
	case models.SignFailed:
		c.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Sign-in was rejected in the mobile app",
		})
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// persistCredential prefers the signed-document payload; the session uuid
// is the fallback when the server returned no document.
func (c *Controller) persistCredential(sess models.SignSession) {
	token := ""
	if len(sess.SignedData) > 0 {
		token = sess.SignedData[0]
	}
	if token == "" {
		token = sess.SessionUUID
	}
	if token == "" {
		token = c.sessionID
	}
	if err := c.creds.SetToken(token); err != nil {
		c.log.Error().Err(err).Msg("persisting credential failed")
	}
}

// Start runs the whole attempt: skip if already authenticated, Init, then
// poll until a terminal state, the optional MaxWait deadline, or ctx
// cancellation. All timers stop and the QR handle is released before
// returning; Close is still safe to call afterwards.
func (c *Controller) Start(ctx context.Context) (Outcome, error) {
	if c.creds.IsTokenValid() {
		// A valid credential means sign-in already happened; skip ahead.
		return OutcomeSigned, nil
	}

	if err := c.Init(ctx); err != nil {
		return OutcomePending, err
	}
	defer c.Close()

	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()
	qrRefresh := time.NewTicker(c.cfg.QRRefreshInterval)
	defer qrRefresh.Stop()

	var deadline <-chan time.Time
	if c.cfg.MaxWait > 0 {
		timer := time.NewTimer(c.cfg.MaxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return OutcomePending, ctx.Err()
		case <-deadline:
			return OutcomeTimeout, nil
		case <-qrRefresh.C:
			c.RefreshQR(ctx)
		case <-poll.C:
			if out := c.PollOnce(ctx); out != OutcomePending {
				return out, nil
			}
		}
	}
}

// Close releases the live QR handle. Mandatory on teardown.
func (c *Controller) Close() {
	c.mu.Lock()
	qr := c.qr
	c.qr = nil
	c.mu.Unlock()
	if qr != nil {
		qr.Release()
	}
}

// AwaitCompletion is the bounded post-sign check: poll the sign status
// every interval for at most maxWait and report whether the session ended
// up signed. Poll errors only matter once the deadline passes.
func AwaitCompletion(ctx context.Context, gw Gateway, log zerolog.Logger, sessionID string, interval, maxWait time.Duration) (models.SignSession, bool, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 60 * time.Second
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	var last models.SignSession
	check := func() (models.SignSession, bool) {
		sess, err := gw.SignStatus(ctx, sessionID)
		if err != nil {
			log.Warn().Err(err).Msg("completion check poll failed")
			return last, false
		}
		return sess, sess.State == models.SignSigned
	}

	if sess, ok := check(); ok {
		return sess, true, nil
	} else {
		last = sess
	}

	for {
		select {
		case <-ctx.Done():
			return last, false, ctx.Err()
		case <-deadline.C:
			return last, false, nil
		case <-tick.C:
			sess, ok := check()
			last = sess
			if ok {
				return sess, true, nil
			}
		}
	}
}
