// Package devserver is an in-process implementation of the queue, sign and
// moderator API this repository's clients consume. The production server is
// an external system; this one exists for local development, simulations
// and tests.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/jawaracloud/akim-queue/pkg/models"
)

// ErrBadStatus rejects mutations targeting a status outside the closed set.
var ErrBadStatus = errors.New("unknown status")

// Config tunes the development server's behavior.
type Config struct {
	JWTSecret  string
	MeetingURL string
	SignURL    string
	BufferSize int
	TokenTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.JWTSecret == "" {
		c.JWTSecret = "dev-secret-change-me"
	}
	if c.MeetingURL == "" {
		c.MeetingURL = "https://meet.example/room"
	}
	if c.SignURL == "" {
		c.SignURL = "https://egov.example/mobile-sign"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	return c
}

// Service owns the queue and sign-session state behind the HTTP handlers.
type Service struct {
	store  Store
	signs  *SignStore
	broker *Broker
	log    zerolog.Logger
	cfg    Config
}

// NewService wires the store and an optional broker (nil is fine).
func NewService(store Store, broker *Broker, log zerolog.Logger, cfg Config) *Service {
	return &Service{
		store:  store,
		signs:  NewSignStore(),
		broker: broker,
		log:    log,
		cfg:    cfg.withDefaults(),
	}
}

// Join registers a session in the queue. A duplicate join surfaces
// ErrAlreadyJoined so the handler can answer 409.
func (s *Service) Join(ctx context.Context, sessionID string) (models.JoinResponse, error) {
	item, err := s.store.Join(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrAlreadyJoined) {
			return models.JoinResponse{
				SequenceNumber: item.SequenceNumber,
				Status:         item.Status,
			}, err
		}
		return models.JoinResponse{}, err
	}

	joinsTotal.Inc()
	s.broker.Publish("akim.queue.joined", item)
	s.maybePromote(ctx)

	return models.JoinResponse{
		SequenceNumber: item.SequenceNumber,
		Status:         item.Status,
		Message:        "registered",
	}, nil
}

// Position projects an entry into the citizen-facing shape. An unknown
// session is NOT_IN_QUEUE rather than an error.
func (s *Service) Position(ctx context.Context, sessionID string) (models.PositionResponse, error) {
	positionPolls.Inc()

	item, err := s.store.BySession(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return models.PositionResponse{Status: models.StatusNotInQueue}, nil
	}
	if err != nil {
		return models.PositionResponse{}, err
	}

	resp := models.PositionResponse{Status: item.Status, MeetingURL: item.MeetingURL}
	if item.Status == models.StatusWaiting {
		ahead, err := s.store.WaitingAhead(ctx, item.SequenceNumber)
		if err != nil {
			return models.PositionResponse{}, err
		}
		pos := ahead + 1
		resp.Number = &pos
	}
	return resp, nil
}

// CreateSign opens (or reuses) a pending sign session for the identifier.
func (s *Service) CreateSign(uuid, phoneNumber string) models.SignSession {
	sess := s.signs.Create(uuid)
	if phoneNumber != "" {
		s.log.Debug().Str("uuid", uuid).Str("phone", phoneNumber).Msg("sign session carries phone number")
	}
	return sess
}

// SignInit returns the direct sign URL for same-device flows.
func (s *Service) SignInit(uuid string) (models.SignInitResponse, error) {
	sess, ok := s.signs.Get(uuid)
	if !ok {
		return models.SignInitResponse{}, ErrNotFound
	}
	return models.SignInitResponse{
		SessionID: sess.ID,
		Timestamp: time.Now().Unix(),
		SignURL:   fmt.Sprintf("%s?session=%s", s.cfg.SignURL, uuid),
		Status:    "OK",
	}, nil
}

// SignStatus returns the current sign session state.
func (s *Service) SignStatus(uuid string) (models.SignSession, error) {
	sess, ok := s.signs.Get(uuid)
	if !ok {
		return models.SignSession{}, ErrNotFound
	}
	return sess, nil
}

// ApplyCallback resolves a sign session from the signing app's callback.
// Success issues a bearer token (unless the app sent a signed document),
// records a synthetic identity and drops the citizen into the queue, so
// the tracking page finds an existing entry right away.
func (s *Service) ApplyCallback(ctx context.Context, payload models.SignCallbackPayload) (models.SignCallbackResponse, error) {
	success := strings.EqualFold(payload.Result, models.CallbackResultSuccess)

	sess, ok := s.signs.Resolve(payload.SessionID, func(sess *models.SignSession) {
		if !success {
			sess.State = models.SignFailed
			return
		}
		sess.State = models.SignSigned
		if sess.User == nil {
			sess.User = &models.SignUser{
				ID:       sess.ID,
				IIN:      fmt.Sprintf("%012d", sess.ID),
				FullName: fmt.Sprintf("Citizen %d", sess.ID),
			}
		}
		doc := payload.SignedDocument
		if doc == "" {
			doc = s.issueToken(sess)
		}
		sess.SignedData = []string{doc}
	})
	if !ok {
		return models.SignCallbackResponse{}, ErrNotFound
	}

	signCallbacks.WithLabelValues(strings.ToUpper(payload.Result)).Inc()

	if success {
		if _, err := s.Join(ctx, sess.SessionUUID); err != nil && !errors.Is(err, ErrAlreadyJoined) {
			s.log.Warn().Err(err).Str("uuid", sess.SessionUUID).Msg("auto-join after sign failed")
		}
	}

	return models.SignCallbackResponse{
		SessionID:      payload.SessionID,
		Result:         strings.ToUpper(payload.Result),
		SignedDocument: payload.SignedDocument,
	}, nil
}

func (s *Service) issueToken(sess *models.SignSession) string {
	claims := models.CitizenToken{
		SessionID: sess.SessionUUID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if sess.User != nil {
		claims.FullName = sess.User.FullName
		claims.IIN = sess.User.IIN
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		s.log.Error().Err(err).Msg("token signing failed")
		return sess.SessionUUID
	}
	return signed
}

// List pages, filters and sorts the moderator listing.
func (s *Service) List(ctx context.Context, status string, page, size int, sortField string, dir models.SortDirection) (models.Page[models.QueueItem], error) {
	items, err := s.store.List(ctx)
	if err != nil {
		return models.Page[models.QueueItem]{}, err
	}

	filtered := items[:0:0]
	for _, item := range items {
		if matchesFilter(item, status) {
			filtered = append(filtered, item)
		}
	}
	sortItems(filtered, sortField, dir)

	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	total := len(filtered)
	totalPages := (total + size - 1) / size

	start := page * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	content := filtered[start:end]

	return models.Page[models.QueueItem]{
		Content:       content,
		TotalPages:    totalPages,
		TotalElements: int64(total),
		Number:        page,
		Size:          size,
		First:         page == 0,
		Last:          page >= totalPages-1,
		Empty:         len(content) == 0,
	}, nil
}

func sortItems(items []models.QueueItem, field string, dir models.SortDirection) {
	less := func(a, b models.QueueItem) bool { return a.SequenceNumber < b.SequenceNumber }
	switch field {
	case "id":
		less = func(a, b models.QueueItem) bool { return a.ID < b.ID }
	case "createdAt":
		less = func(a, b models.QueueItem) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case "status":
		less = func(a, b models.QueueItem) bool { return a.Status < b.Status }
	}
	sort.SliceStable(items, func(i, j int) bool {
		if dir == models.SortDesc {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}

// Get returns one entry by id.
func (s *Service) Get(ctx context.Context, id int64) (models.QueueItem, error) {
	return s.store.ByID(ctx, id)
}

// SetStatus moves one entry. Buffering assigns the meeting URL; serving
// stamps servedAt; leaving the buffer clears the URL again.
func (s *Service) SetStatus(ctx context.Context, id int64, status models.QueueStatus) (models.StatusChangeResponse, error) {
	if !validTarget(status) {
		return models.StatusChangeResponse{}, ErrBadStatus
	}

	var old models.QueueStatus
	item, err := s.store.Update(ctx, id, func(item *models.QueueItem) {
		old = item.Status
		applyStatus(item, status, s.cfg.MeetingURL)
	})
	if err != nil {
		return models.StatusChangeResponse{}, err
	}

	s.broker.Publish("akim.queue.status", item)
	s.maybePromote(ctx)

	return models.StatusChangeResponse{
		Message:   "status updated",
		OldStatus: old,
		NewStatus: item.Status,
		Queue:     item,
	}, nil
}

func validTarget(status models.QueueStatus) bool {
	for _, s := range models.AllStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func applyStatus(item *models.QueueItem, status models.QueueStatus, meetingURL string) {
	item.Status = status
	switch status {
	case models.StatusInBuffer:
		if item.MeetingURL == nil {
			url := fmt.Sprintf("%s/%d", meetingURL, item.SequenceNumber)
			item.MeetingURL = &url
		}
	case models.StatusServed:
		now := time.Now().UTC()
		item.ServedAt = &now
		item.MeetingURL = nil
	default:
		item.MeetingURL = nil
	}
}

// SetMeetingURL assigns the meeting URL of one entry.
func (s *Service) SetMeetingURL(ctx context.Context, id int64, meetingURL string) (models.MeetingURLUpdateResponse, error) {
	var old *string
	item, err := s.store.Update(ctx, id, func(item *models.QueueItem) {
		old = item.MeetingURL
		item.MeetingURL = &meetingURL
	})
	if err != nil {
		return models.MeetingURLUpdateResponse{}, err
	}
	return models.MeetingURLUpdateResponse{
		Message: "meeting url updated",
		OldURL:  old,
		NewURL:  meetingURL,
		Queue:   item,
	}, nil
}

// BulkSetStatus moves every entry in a sequence range.
func (s *Service) BulkSetStatus(ctx context.Context, fromSeq, toSeq int64, status models.QueueStatus) (models.BulkStatusUpdateResponse, error) {
	if !validTarget(status) {
		return models.BulkStatusUpdateResponse{}, ErrBadStatus
	}
	items, err := s.store.List(ctx)
	if err != nil {
		return models.BulkStatusUpdateResponse{}, err
	}

	var updated int64
	for _, item := range items {
		if item.SequenceNumber < fromSeq || item.SequenceNumber > toSeq {
			continue
		}
		if _, err := s.store.Update(ctx, item.ID, func(it *models.QueueItem) {
			applyStatus(it, status, s.cfg.MeetingURL)
		}); err == nil {
			updated++
		}
	}
	s.maybePromote(ctx)

	return models.BulkStatusUpdateResponse{
		Message:      "bulk update applied",
		UpdatedCount: updated,
		FromSeq:      fromSeq,
		ToSeq:        toSeq,
		NewStatus:    status,
	}, nil
}

// Delete cancels one entry. Entries are never physically removed so the
// numbering stays stable.
func (s *Service) Delete(ctx context.Context, id int64) (models.DeleteQueueResponse, error) {
	item, err := s.store.Update(ctx, id, func(item *models.QueueItem) {
		applyStatus(item, models.StatusCancelled, s.cfg.MeetingURL)
	})
	if err != nil {
		return models.DeleteQueueResponse{}, err
	}
	s.broker.Publish("akim.queue.cancelled", item)
	s.maybePromote(ctx)
	return models.DeleteQueueResponse{Message: "queue cancelled", Queue: item}, nil
}

// Stats counts entries per status.
func (s *Service) Stats(ctx context.Context) (models.QueueStats, error) {
	items, err := s.store.List(ctx)
	if err != nil {
		return models.QueueStats{}, err
	}
	var st models.QueueStats
	for _, item := range items {
		st.Total++
		switch item.Status {
		case models.StatusWaiting:
			st.Waiting++
		case models.StatusInBuffer:
			st.InBuffer++
		case models.StatusServed:
			st.Served++
		case models.StatusCancelled:
			st.Cancelled++
		}
	}
	return st, nil
}

// maybePromote is the automatic server transition: keep up to BufferSize
// entries buffered, oldest waiting first.
func (s *Service) maybePromote(ctx context.Context) {
	items, err := s.store.List(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("promotion scan failed")
		return
	}

	buffered := 0
	for _, item := range items {
		if item.Status == models.StatusInBuffer {
			buffered++
		}
	}

	for _, item := range items {
		if buffered >= s.cfg.BufferSize {
			return
		}
		if item.Status != models.StatusWaiting {
			continue
		}
		promoted, err := s.store.Update(ctx, item.ID, func(it *models.QueueItem) {
			applyStatus(it, models.StatusInBuffer, s.cfg.MeetingURL)
		})
		if err != nil {
			continue
		}
		buffered++
		s.broker.Publish("akim.queue.status", promoted)
	}
}

// RunMaintenance periodically re-runs promotion, the dev stand-in for the
// production server's background transitions.
func (s *Service) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybePromote(ctx)
		}
	}
}
