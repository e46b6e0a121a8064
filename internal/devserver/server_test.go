package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/jawaracloud/akim-queue/pkg/models"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := NewService(NewMemStore(), nil, zerolog.Nop(), Config{
		JWTSecret:  "test-secret",
		BufferSize: 2,
	})
	h := NewHandler(svc, zerolog.Nop(), "admin", "secret")
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(url, "citizen-moderator") {
		req.SetBasicAuth("admin", "secret")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp
}

func TestJoinIsIdempotentPerSession(t *testing.T) {
	srv := newTestServer(t)

	var first models.JoinResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/citizen/join?sessionId=abc", nil, &first)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first join: status %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/citizen/join?sessionId=abc", nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second join: want 409, got %d", resp.StatusCode)
	}
}

func TestPositionUnknownSessionIsNotInQueue(t *testing.T) {
	srv := newTestServer(t)

	var pos models.PositionResponse
	doJSON(t, http.MethodGet, srv.URL+"/api/citizen/position?sessionId=nobody", nil, &pos)
	if pos.Status != models.StatusNotInQueue {
		t.Fatalf("want NOT_IN_QUEUE, got %q", pos.Status)
	}
	if pos.Number != nil {
		t.Fatalf("want null number, got %d", *pos.Number)
	}
}

func TestPositionCountsWaitingAhead(t *testing.T) {
	srv := newTestServer(t)

	// BufferSize is 2, so the first two joiners are buffered and the
	// rest wait behind them.
	for i := 0; i < 5; i++ {
		doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/citizen/join?sessionId=s%d", srv.URL, i), nil, nil)
	}

	var pos models.PositionResponse
	doJSON(t, http.MethodGet, srv.URL+"/api/citizen/position?sessionId=s4", nil, &pos)
	if pos.Status != models.StatusWaiting {
		t.Fatalf("want WAITING, got %q", pos.Status)
	}
	if pos.Number == nil || *pos.Number != 3 {
		t.Fatalf("want position 3, got %v", pos.Number)
	}

	doJSON(t, http.MethodGet, srv.URL+"/api/citizen/position?sessionId=s0", nil, &pos)
	if pos.Status != models.StatusInBuffer {
		t.Fatalf("want IN_BUFFER for first joiner, got %q", pos.Status)
	}
	if pos.MeetingURL == nil {
		t.Fatal("buffered entry should carry a meeting url")
	}
}

func TestSignFlowIssuesTokenAndJoinsQueue(t *testing.T) {
	srv := newTestServer(t)

	var sess models.SignSession
	doJSON(t, http.MethodGet, srv.URL+"/api/sign/create_session?uuid=sess-1&phoneNumber=%2B77001234567", nil, &sess)
	if sess.State != models.SignPending {
		t.Fatalf("new session state: %q", sess.State)
	}

	var initResp models.SignInitResponse
	doJSON(t, http.MethodGet, srv.URL+"/api/sign/init?sessionId=sess-1", nil, &initResp)
	if !strings.Contains(initResp.SignURL, "sess-1") {
		t.Fatalf("sign url should reference the session: %q", initResp.SignURL)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sign/callback", models.SignCallbackPayload{
		SessionID: "sess-1",
		Result:    models.CallbackResultSuccess,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback: status %d", resp.StatusCode)
	}

	doJSON(t, http.MethodGet, srv.URL+"/api/sign/status?sessionId=sess-1", nil, &sess)
	if sess.State != models.SignSigned {
		t.Fatalf("want SIGNED, got %q", sess.State)
	}
	if len(sess.SignedData) == 0 {
		t.Fatal("signed session should carry issued credential")
	}

	// The credential is a verifiable JWT bound to the session.
	var claims models.CitizenToken
	_, err := jwt.ParseWithClaims(sess.SignedData[0], &claims, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.SessionID != "sess-1" {
		t.Fatalf("token bound to %q", claims.SessionID)
	}

	// Signing auto-joins, so the tracking page finds an entry.
	var pos models.PositionResponse
	doJSON(t, http.MethodGet, srv.URL+"/api/citizen/position?sessionId=sess-1", nil, &pos)
	if pos.Status == models.StatusNotInQueue {
		t.Fatal("signed citizen should already be in the queue")
	}
}

func TestSignCallbackFailureMarksFailed(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, http.MethodGet, srv.URL+"/api/sign/create_session?uuid=sess-2", nil, nil)
	doJSON(t, http.MethodPost, srv.URL+"/api/sign/callback", models.SignCallbackPayload{
		SessionID: "sess-2",
		Result:    models.CallbackResultFailed,
	}, nil)

	var sess models.SignSession
	doJSON(t, http.MethodGet, srv.URL+"/api/sign/status?sessionId=sess-2", nil, &sess)
	if sess.State != models.SignFailed {
		t.Fatalf("want FAILED, got %q", sess.State)
	}

	var pos models.PositionResponse
	doJSON(t, http.MethodGet, srv.URL+"/api/citizen/position?sessionId=sess-2", nil, &pos)
	if pos.Status != models.StatusNotInQueue {
		t.Fatal("failed sign must not join the queue")
	}
}

func TestQRRequiresExistingSession(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/qr?sessionId=missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404, got %d", resp.StatusCode)
	}

	doJSON(t, http.MethodGet, srv.URL+"/api/sign/create_session?uuid=qr-1", nil, nil)
	resp, err = http.Get(srv.URL + "/api/qr?sessionId=qr-1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("want image/png, got %q", ct)
	}
}

func TestModeratorRoutesRequireBasicAuth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/citizen-moderator/queues")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no auth: want 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/citizen-moderator/queues", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: want 401, got %d", resp.StatusCode)
	}
}

func TestModeratorLifecycle(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 4; i++ {
		doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/citizen/join?sessionId=m%d", srv.URL, i), nil, nil)
	}

	var page models.Page[models.QueueItem]
	doJSON(t, http.MethodGet, srv.URL+"/api/citizen-moderator/queues?size=2&page=0&sort=sequenceNumber&direction=ASC", nil, &page)
	if page.TotalElements != 4 || len(page.Content) != 2 {
		t.Fatalf("page shape: total=%d len=%d", page.TotalElements, len(page.Content))
	}
	if page.Content[0].SequenceNumber > page.Content[1].SequenceNumber {
		t.Fatal("ASC sort violated")
	}

	target := page.Content[0]

	var changed models.StatusChangeResponse
	doJSON(t, http.MethodPut, fmt.Sprintf("%s/api/citizen-moderator/queue/%d/status?status=SERVED", srv.URL, target.ID),
		nil, &changed)
	if changed.NewStatus != models.StatusServed {
		t.Fatalf("want SERVED, got %q", changed.NewStatus)
	}
	if changed.Queue.ServedAt == nil {
		t.Fatal("serving should stamp servedAt")
	}

	resp := doJSON(t, http.MethodPut, fmt.Sprintf("%s/api/citizen-moderator/queue/%d/status?status=BOGUS", srv.URL, target.ID),
		nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status: want 400, got %d", resp.StatusCode)
	}

	var bulk models.BulkStatusUpdateResponse
	doJSON(t, http.MethodPut, srv.URL+"/api/citizen-moderator/queues/bulk-status?fromSeq=1&toSeq=4&status=CANCELLED",
		nil, &bulk)
	if bulk.UpdatedCount != 4 {
		t.Fatalf("bulk: want 4 updates, got %d", bulk.UpdatedCount)
	}

	var stats models.QueueStats
	doJSON(t, http.MethodGet, srv.URL+"/api/citizen-moderator/stats", nil, &stats)
	if stats.Total != 4 || stats.Cancelled != 4 {
		t.Fatalf("stats after bulk cancel: %+v", stats)
	}
}

func TestDeleteCancelsWithoutRemoving(t *testing.T) {
	srv := newTestServer(t)

	var joined models.JoinResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/citizen/join?sessionId=del-1", nil, &joined)

	var page models.Page[models.QueueItem]
	doJSON(t, http.MethodGet, srv.URL+"/api/citizen-moderator/queues", nil, &page)
	id := page.Content[0].ID

	var deleted models.DeleteQueueResponse
	doJSON(t, http.MethodDelete, fmt.Sprintf("%s/api/citizen-moderator/queue/%d", srv.URL, id), nil, &deleted)
	if deleted.Queue.Status != models.StatusCancelled {
		t.Fatalf("want CANCELLED, got %q", deleted.Queue.Status)
	}

	var item models.QueueItem
	doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/citizen-moderator/queue/%d", srv.URL, id), nil, &item)
	if item.ID != id {
		t.Fatal("cancelled entry should remain readable")
	}
}

func TestListFiltersByStatus(t *testing.T) {
	svc := NewService(NewMemStore(), nil, zerolog.Nop(), Config{BufferSize: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Join(ctx, fmt.Sprintf("f%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	page, err := svc.List(ctx, "WAITING", 0, 20, "sequenceNumber", models.SortAsc)
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalElements != 2 {
		t.Fatalf("one entry is buffered, want 2 waiting, got %d", page.TotalElements)
	}
	for _, item := range page.Content {
		if item.Status != models.StatusWaiting {
			t.Fatalf("filter leaked %q", item.Status)
		}
	}
}

func TestPromotionRefillsBuffer(t *testing.T) {
	svc := NewService(NewMemStore(), nil, zerolog.Nop(), Config{BufferSize: 1})
	ctx := context.Background()

	svc.Join(ctx, "p1")
	svc.Join(ctx, "p2")

	pos, _ := svc.Position(ctx, "p2")
	if pos.Status != models.StatusWaiting {
		t.Fatalf("second joiner should wait, got %q", pos.Status)
	}

	// Serving the buffered entry frees a slot; the waiter moves up.
	page, _ := svc.List(ctx, "IN_BUFFER", 0, 20, "sequenceNumber", models.SortAsc)
	if _, err := svc.SetStatus(ctx, page.Content[0].ID, models.StatusServed); err != nil {
		t.Fatal(err)
	}

	pos, _ = svc.Position(ctx, "p2")
	if pos.Status != models.StatusInBuffer {
		t.Fatalf("waiter should be promoted, got %q", pos.Status)
	}
}
