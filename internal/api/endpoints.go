package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jawaracloud/akim-queue/pkg/models"
)

// JoinQueue registers the session in the queue. The server treats repeat
// joins for the same session as a conflict; see AlreadyJoined.
func (c *Client) JoinQueue(ctx context.Context, sessionID string) (models.JoinResponse, error) {
	var out models.JoinResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/citizen/join", url.Values{"sessionId": {sessionID}}, nil, &out)
	return out, err
}

// Position returns the session's current place and status in the queue.
func (c *Client) Position(ctx context.Context, sessionID string) (models.PositionResponse, error) {
	var out models.PositionResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/citizen/position", url.Values{"sessionId": {sessionID}}, nil, &out)
	return out, err
}

// CreateSignSession opens a remote sign session for the given session
// identifier. phoneNumber is optional and omitted when empty.
func (c *Client) CreateSignSession(ctx context.Context, sessionID, phoneNumber string) (models.SignSession, error) {
	query := url.Values{"uuid": {sessionID}}
	if phoneNumber != "" {
		query.Set("phoneNumber", phoneNumber)
	}
	var out models.SignSession
	err := c.doJSON(ctx, http.MethodGet, "/api/sign/create_session", query, nil, &out)
	return out, err
}

// SignInit returns the direct sign URL for same-device flows.
func (c *Client) SignInit(ctx context.Context, sessionID string) (models.SignInitResponse, error) {
	var out models.SignInitResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/sign/init", url.Values{"sessionId": {sessionID}}, nil, &out)
	return out, err
}

// SignStatus returns the current state of a sign session.
func (c *Client) SignStatus(ctx context.Context, sessionID string) (models.SignSession, error) {
	var out models.SignSession
	err := c.doJSON(ctx, http.MethodGet, "/api/sign/status", url.Values{"sessionId": {sessionID}}, nil, &out)
	return out, err
}

// SignCallback reports a finished sign attempt back to the server.
func (c *Client) SignCallback(ctx context.Context, payload models.SignCallbackPayload) (models.SignCallbackResponse, error) {
	var out models.SignCallbackResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/sign/callback", nil, payload, &out)
	return out, err
}

// ListParams select, order and page the moderator listing.
type ListParams struct {
	Status    models.QueueStatus // empty means no filter
	Page      int                // 0-based
	Size      int
	Sort      string
	Direction models.SortDirection
}

func (p ListParams) query() url.Values {
	q := url.Values{
		"page": {strconv.Itoa(p.Page)},
		"size": {strconv.Itoa(p.Size)},
	}
	if p.Status != "" {
		q.Set("status", string(p.Status))
	}
	if p.Sort != "" {
		q.Set("sort", p.Sort)
	}
	if p.Direction != "" {
		q.Set("direction", string(p.Direction))
	}
	return q
}

// ListQueues returns one page of queue entries.
func (c *Client) ListQueues(ctx context.Context, params ListParams) (models.Page[models.QueueItem], error) {
	var out models.Page[models.QueueItem]
	err := c.doJSON(ctx, http.MethodGet, "/api/citizen-moderator/queues", params.query(), nil, &out)
	return out, err
}

// QueueByID returns a single queue entry.
func (c *Client) QueueByID(ctx context.Context, id int64) (models.QueueItem, error) {
	var out models.QueueItem
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/citizen-moderator/queue/%d", id), nil, nil, &out)
	return out, err
}

// UpdateQueueStatus moves one entry to the target status.
func (c *Client) UpdateQueueStatus(ctx context.Context, id int64, status models.QueueStatus) (models.StatusChangeResponse, error) {
	var out models.StatusChangeResponse
	err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/api/citizen-moderator/queue/%d/status", id),
		url.Values{"status": {string(status)}}, nil, &out)
	return out, err
}

// UpdateMeetingURL assigns the meeting room URL of one entry.
func (c *Client) UpdateMeetingURL(ctx context.Context, id int64, meetingURL string) (models.MeetingURLUpdateResponse, error) {
	var out models.MeetingURLUpdateResponse
	err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/api/citizen-moderator/queue/%d/meeting-url", id),
		url.Values{"meetingUrl": {meetingURL}}, nil, &out)
	return out, err
}

// BulkUpdateStatus moves every entry whose sequence number falls in
// [fromSeq, toSeq] to the target status.
func (c *Client) BulkUpdateStatus(ctx context.Context, fromSeq, toSeq int64, status models.QueueStatus) (models.BulkStatusUpdateResponse, error) {
	query := url.Values{
		"fromSeq": {strconv.FormatInt(fromSeq, 10)},
		"toSeq":   {strconv.FormatInt(toSeq, 10)},
		"status":  {string(status)},
	}
	var out models.BulkStatusUpdateResponse
	err := c.doJSON(ctx, http.MethodPut, "/api/citizen-moderator/queues/bulk-status", query, nil, &out)
	return out, err
}

// Stats returns the aggregate queue counters.
func (c *Client) Stats(ctx context.Context) (models.QueueStats, error) {
	var out models.QueueStats
	err := c.doJSON(ctx, http.MethodGet, "/api/citizen-moderator/stats", nil, nil, &out)
	return out, err
}

// DeleteQueue cancels one entry.
func (c *Client) DeleteQueue(ctx context.Context, id int64) (models.DeleteQueueResponse, error) {
	var out models.DeleteQueueResponse
	err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/citizen-moderator/queue/%d", id), nil, nil, &out)
	return out, err
}
