package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jawaracloud/akim-queue/internal/credentials"
	"github.com/jawaracloud/akim-queue/pkg/models"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *credentials.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	creds := credentials.NewStore(credentials.NewMemKV())
	return NewClient(srv.URL, creds, zerolog.Nop()), creds
}

func TestAuthorizationPrecedence(t *testing.T) {
	var gotAuth string
	client, creds := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(models.PositionResponse{Status: models.StatusWaiting})
	}))

	ctx := context.Background()

	// No credential at all.
	if _, err := client.Position(ctx, "s1"); err != nil {
		t.Fatalf("position: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("unauthenticated request carried Authorization %q", gotAuth)
	}

	// Bearer only.
	creds.SetToken("tok")
	if _, err := client.Position(ctx, "s1"); err != nil {
		t.Fatalf("position: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("Authorization = %q, want bearer", gotAuth)
	}

	// Basic wins over Bearer.
	creds.SetAdminCredential("admin", "pw")
	if _, err := client.Position(ctx, "s1"); err != nil {
		t.Fatalf("position: %v", err)
	}
	admin, _ := creds.AdminCredential()
	if gotAuth != "Basic "+admin {
		t.Fatalf("Authorization = %q, want basic", gotAuth)
	}
}

func TestUnauthorizedIsFlagged(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "session expired"})
	}))

	_, err := client.Position(context.Background(), "s1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Message != "session expired" {
		t.Fatalf("server message lost: %v", err)
	}
}

func TestNotFoundClassification(t *testing.T) {
	if IsNotFound(errors.New("plain")) {
		t.Fatal("plain error classified as not-found")
	}
	if !IsNotFound(&StatusError{Code: http.StatusNotFound}) {
		t.Fatal("404 not classified as not-found")
	}
	if !IsNotFound(&StatusError{Code: http.StatusBadRequest, Message: "session not initialized yet"}) {
		t.Fatal("not-initialized message not classified as not-found")
	}
	if !IsNotFound(&StatusError{Code: http.StatusBadRequest, Message: "Sign session not yet initialized"}) {
		t.Fatal("not-yet-initialized message not classified as not-found")
	}
	if IsNotFound(&StatusError{Code: http.StatusInternalServerError, Message: "boom"}) {
		t.Fatal("500 classified as not-found")
	}
}

func TestAlreadyJoinedClassification(t *testing.T) {
	if !AlreadyJoined(&StatusError{Code: http.StatusConflict}) {
		t.Fatal("409 not classified as already-joined")
	}
	if !AlreadyJoined(&StatusError{Code: http.StatusBadRequest, Message: "Session already registered in queue"}) {
		t.Fatal("already-registered message not classified")
	}
	if AlreadyJoined(&StatusError{Code: http.StatusBadRequest, Message: "invalid session"}) {
		t.Fatal("unrelated 400 classified as already-joined")
	}
}

func TestFetchQRLifecycle(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "image/*" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))

	img, err := client.FetchQR(context.Background(), "s1")
	if err != nil {
		t.Fatalf("fetch qr: %v", err)
	}
	if img.ContentType() != "image/png" {
		t.Fatalf("content type = %q", img.ContentType())
	}
	data, err := os.ReadFile(img.Path())
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatal("image bytes do not match response body")
	}

	if err := img.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(img.Path()); !os.IsNotExist(err) {
		t.Fatal("backing file still present after release")
	}
	// Second release is a no-op.
	if err := img.Release(); err != nil {
		t.Fatalf("double release: %v", err)
	}
}

func TestListQueuesQuery(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "WAITING" || q.Get("page") != "2" || q.Get("size") != "20" ||
			q.Get("sort") != "sequenceNumber" || q.Get("direction") != "DESC" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(models.Page[models.QueueItem]{Empty: true})
	}))

	page, err := client.ListQueues(context.Background(), ListParams{
		Status:    models.StatusWaiting,
		Page:      2,
		Size:      20,
		Sort:      "sequenceNumber",
		Direction: models.SortDesc,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !page.Empty || len(page.Content) != 0 {
		t.Fatalf("empty page mishandled: %+v", page)
	}
}
