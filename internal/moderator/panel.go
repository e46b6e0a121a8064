// Package moderator is the staff console behind the queue: paginated
// listing, per-entry and bulk mutations, stats, and best-effort name
// resolution. The server stays the single source of truth; every mutation
// is followed by a full reload instead of touching local state.
package moderator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jawaracloud/akim-queue/internal/api"
	"github.com/jawaracloud/akim-queue/internal/credentials"
	"github.com/jawaracloud/akim-queue/internal/notify"
	"github.com/jawaracloud/akim-queue/pkg/models"
)

// ErrValidation marks input rejected locally, before any network call.
var ErrValidation = errors.New("moderator: invalid input")

// ErrCancelled marks an action the operator declined to confirm.
var ErrCancelled = errors.New("moderator: cancelled")

// Gateway is the slice of the API client the panel needs.
type Gateway interface {
	ListQueues(ctx context.Context, params api.ListParams) (models.Page[models.QueueItem], error)
	Stats(ctx context.Context) (models.QueueStats, error)
	UpdateQueueStatus(ctx context.Context, id int64, status models.QueueStatus) (models.StatusChangeResponse, error)
	UpdateMeetingURL(ctx context.Context, id int64, meetingURL string) (models.MeetingURLUpdateResponse, error)
	BulkUpdateStatus(ctx context.Context, fromSeq, toSeq int64, status models.QueueStatus) (models.BulkStatusUpdateResponse, error)
	DeleteQueue(ctx context.Context, id int64) (models.DeleteQueueResponse, error)
	SignStatus(ctx context.Context, sessionID string) (models.SignSession, error)
}

// ConfirmationPrompt asks the operator before destructive actions.
type ConfirmationPrompt interface {
	Confirm(message string) bool
}

// AlwaysConfirm approves everything; used in tests and scripted runs.
type AlwaysConfirm struct{}

func (AlwaysConfirm) Confirm(string) bool { return true }

// Config tunes the panel.
type Config struct {
	RefreshInterval time.Duration
	NameBatchLimit  int
	PageSize        int
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 5 * time.Second
	}
	if c.NameBatchLimit <= 0 {
		c.NameBatchLimit = 20
	}
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	return c
}

// Panel holds the listing state and issues mutations.
type Panel struct {
	gw       Gateway
	notifier notify.Notifier
	confirm  ConfirmationPrompt
	log      zerolog.Logger
	cfg      Config

	mu     sync.Mutex
	params api.ListParams
	page   models.Page[models.QueueItem]
	stats  models.QueueStats
	names  map[string]string
}

// NewPanel builds a panel sorted by sequence number, newest first.
func NewPanel(gw Gateway, notifier notify.Notifier, confirm ConfirmationPrompt, log zerolog.Logger, cfg Config) *Panel {
	cfg = cfg.withDefaults()
	return &Panel{
		gw:       gw,
		notifier: notifier,
		confirm:  confirm,
		log:      log,
		cfg:      cfg,
		params: api.ListParams{
			Size:      cfg.PageSize,
			Sort:      "sequenceNumber",
			Direction: models.SortDesc,
		},
		names: make(map[string]string),
	}
}

// Params returns the current listing parameters.
func (p *Panel) Params() api.ListParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

// SetFilter changes the status filter and rewinds to the first page.
func (p *Panel) SetFilter(status models.QueueStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params.Status = status
	p.params.Page = 0
}

// SetPage moves to a page index (0-based).
func (p *Panel) SetPage(page int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if page >= 0 {
		p.params.Page = page
	}
}

// SetPageSize changes the page size and rewinds to the first page.
func (p *Panel) SetPageSize(size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size > 0 {
		p.params.Size = size
		p.params.Page = 0
	}
}

// SetSort changes the sort field and direction.
func (p *Panel) SetSort(field string, dir models.SortDirection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params.Sort = field
	p.params.Direction = dir
}

// Page returns the last loaded page.
func (p *Panel) Page() models.Page[models.QueueItem] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

// Stats returns the last loaded aggregate counters.
func (p *Panel) Stats() models.QueueStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Name returns the resolved display name for a session, if any.
func (p *Panel) Name(sessionID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.names[sessionID]
	return n, ok
}

// Reload fetches the listing and stats with the current parameters and
// then resolves missing display names, a bounded batch per cycle.
func (p *Panel) Reload(ctx context.Context) error {
	params := p.Params()

	page, err := p.gw.ListQueues(ctx, params)
	if err != nil {
		p.log.Error().Err(err).Msg("queue listing failed")
		p.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Could not load the queue list",
		})
		return err
	}
	stats, err := p.gw.Stats(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("stats fetch failed")
	}

	p.mu.Lock()
	p.page = page
	if err == nil {
		p.stats = stats
	}
	p.mu.Unlock()

	p.enrichNames(ctx, page.Content)
	return nil
}

// enrichNames resolves display names for entries that lack one, at most
// NameBatchLimit lookups per cycle. Individual failures fall back to a
// placeholder and are never surfaced.
func (p *Panel) enrichNames(ctx context.Context, items []models.QueueItem) {
	p.mu.Lock()
	var missing []string
	for _, item := range items {
		if item.FullName != "" {
			continue
		}
		if _, done := p.names[item.SessionID]; done {
			continue
		}
		missing = append(missing, item.SessionID)
		if len(missing) == p.cfg.NameBatchLimit {
			break
		}
	}
	p.mu.Unlock()

	for _, sid := range missing {
		name := ""
		if sess, err := p.gw.SignStatus(ctx, sid); err == nil {
			name = sess.DisplayName()
		}
		p.mu.Lock()
		p.names[sid] = name
		p.mu.Unlock()
	}
}

// ChangeStatus moves one entry to a new status and reloads everything,
// since a status change can shift the server-computed stats as well.
func (p *Panel) ChangeStatus(ctx context.Context, id int64, status models.QueueStatus) error {
	if _, err := p.gw.UpdateQueueStatus(ctx, id, status); err != nil {
		p.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Could not change the status",
		})
		return err
	}
	p.notifier.Notify(notify.Notification{
		Level:   notify.LevelSuccess,
		Message: "Status updated",
	})
	return p.Reload(ctx)
}

// SetMeetingURL assigns a meeting URL. Blank input is rejected locally.
func (p *Panel) SetMeetingURL(ctx context.Context, id int64, meetingURL string) error {
	if strings.TrimSpace(meetingURL) == "" {
		p.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Enter a meeting URL",
		})
		return ErrValidation
	}
	if _, err := p.gw.UpdateMeetingURL(ctx, id, meetingURL); err != nil {
		p.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Could not update the meeting URL",
		})
		return err
	}
	p.notifier.Notify(notify.Notification{
		Level:   notify.LevelSuccess,
		Message: "Meeting URL updated",
	})
	return p.Reload(ctx)
}

// BulkUpdate moves a sequence-number range to a status. The range must be
// non-zero on both ends and ordered; violations never reach the network.
func (p *Panel) BulkUpdate(ctx context.Context, fromSeq, toSeq int64, status models.QueueStatus) error {
	if fromSeq <= 0 || toSeq <= 0 || fromSeq > toSeq {
		p.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Check the sequence number range",
		})
		return ErrValidation
	}
	res, err := p.gw.BulkUpdateStatus(ctx, fromSeq, toSeq, status)
	if err != nil {
		p.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Bulk update failed",
		})
		return err
	}
	p.notifier.Notify(notify.Notification{
		Level:   notify.LevelSuccess,
		Message: fmt.Sprintf("Updated %d entries", res.UpdatedCount),
	})
	return p.Reload(ctx)
}

// Delete cancels one entry after interactive confirmation.
func (p *Panel) Delete(ctx context.Context, id int64) error {
	if !p.confirm.Confirm("Cancel this queue entry?") {
		return ErrCancelled
	}
	if _, err := p.gw.DeleteQueue(ctx, id); err != nil {
		p.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Could not cancel the entry",
		})
		return err
	}
	p.notifier.Notify(notify.Notification{
		Level:   notify.LevelNeutral,
		Message: "Queue entry cancelled",
	})
	return p.Reload(ctx)
}

// Watch reloads on the fixed refresh interval until ctx is cancelled.
func (p *Panel) Watch(ctx context.Context) error {
	p.Reload(ctx)

	tick := time.NewTicker(p.cfg.RefreshInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			p.Reload(ctx)
		}
	}
}

// Login verifies a username/password pair by storing it and calling the
// stats endpoint. A rejection clears the stored credential again.
func Login(ctx context.Context, gw Gateway, creds *credentials.Store, username, password string) error {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		return ErrValidation
	}
	if err := creds.SetAdminCredential(username, password); err != nil {
		return err
	}
	if _, err := gw.Stats(ctx); err != nil {
		creds.ClearAdminCredential()
		return err
	}
	return nil
}
