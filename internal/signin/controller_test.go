package signin

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/jawaracloud/akim-queue/internal/api"
	"github.com/jawaracloud/akim-queue/internal/credentials"
	"github.com/jawaracloud/akim-queue/internal/notify"
	"github.com/jawaracloud/akim-queue/pkg/models"
)

func validToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

type fakeGateway struct {
	createErr  error
	initErr    error
	statusFn   func() (models.SignSession, error)
	createdFor []string
}

func (f *fakeGateway) CreateSignSession(_ context.Context, sessionID, _ string) (models.SignSession, error) {
	f.createdFor = append(f.createdFor, sessionID)
	if f.createErr != nil {
		return models.SignSession{}, f.createErr
	}
	return models.SignSession{SessionUUID: sessionID, State: models.SignPending}, nil
}

func (f *fakeGateway) SignInit(context.Context, string) (models.SignInitResponse, error) {
	if f.initErr != nil {
		return models.SignInitResponse{}, f.initErr
	}
	return models.SignInitResponse{SignURL: "https://sign.example/direct", Status: "OK"}, nil
}

func (f *fakeGateway) SignStatus(context.Context, string) (models.SignSession, error) {
	return f.statusFn()
}

func (f *fakeGateway) FetchQR(context.Context, string) (*api.QRImage, error) {
	return nil, errors.New("not used in tests")
}

type fakeQR struct {
	releases *int
}

func (q fakeQR) Path() string        { return "/tmp/qr" }
func (q fakeQR) ContentType() string { return "image/png" }
func (q fakeQR) Release() error      { *q.releases += 1; return nil }

func newTestController(gw *fakeGateway) (*Controller, *notify.Recorder, *credentials.Store) {
	rec := &notify.Recorder{}
	creds := credentials.NewStore(credentials.NewMemKV())
	c := New(gw, creds, rec, zerolog.Nop(), "sess-1", "", Config{})
	return c, rec, creds
}

func TestQRHandleHygiene(t *testing.T) {
	releases := 0
	gw := &fakeGateway{}
	c, _, _ := newTestController(gw)
	c.fetchQR = func(context.Context, string) (QR, error) {
		return fakeQR{releases: &releases}, nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := c.RefreshQR(ctx); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if releases != 2 {
		t.Fatalf("releases = %d after three loads, want 2", releases)
	}
	if c.CurrentQR() == nil {
		t.Fatal("no live handle after loads")
	}

	c.Close()
	if releases != 3 {
		t.Fatalf("releases = %d after close, want 3", releases)
	}
	if c.CurrentQR() != nil {
		t.Fatal("handle still live after close")
	}
}

func TestPollOnceTransitions(t *testing.T) {
	t.Run("pending keeps polling", func(t *testing.T) {
		gw := &fakeGateway{statusFn: func() (models.SignSession, error) {
			return models.SignSession{State: models.SignPending}, nil
		}}
		c, rec, _ := newTestController(gw)
		if out := c.PollOnce(context.Background()); out != OutcomePending {
			t.Fatalf("outcome = %v, want pending", out)
		}
		if len(rec.All()) != 0 {
			t.Fatalf("pending produced notifications: %v", rec.Messages())
		}
	})

	t.Run("not-found is silent", func(t *testing.T) {
		gw := &fakeGateway{statusFn: func() (models.SignSession, error) {
			return models.SignSession{}, &api.StatusError{Code: http.StatusNotFound}
		}}
		c, rec, _ := newTestController(gw)
		if out := c.PollOnce(context.Background()); out != OutcomePending {
			t.Fatalf("outcome = %v, want pending", out)
		}
		if len(rec.All()) != 0 {
			t.Fatalf("transient error produced notifications: %v", rec.Messages())
		}
	})

	t.Run("network error keeps polling", func(t *testing.T) {
		gw := &fakeGateway{statusFn: func() (models.SignSession, error) {
			return models.SignSession{}, errors.New("connection refused")
		}}
		c, rec, _ := newTestController(gw)
		if out := c.PollOnce(context.Background()); out != OutcomePending {
			t.Fatalf("outcome = %v, want pending", out)
		}
		if len(rec.All()) != 0 {
			t.Fatal("transient network error surfaced to the user")
		}
	})

	t.Run("signed persists document and notifies", func(t *testing.T) {
		gw := &fakeGateway{statusFn: func() (models.SignSession, error) {
			return models.SignSession{
				State:      models.SignSigned,
				SignedData: []string{"signed-doc-b64"},
			}, nil
		}}
		c, rec, creds := newTestController(gw)
		if out := c.PollOnce(context.Background()); out != OutcomeSigned {
			t.Fatalf("outcome = %v, want signed", out)
		}
		if tok, _ := creds.Token(); tok != "signed-doc-b64" {
			t.Fatalf("persisted token = %q", tok)
		}
		got := rec.All()
		if len(got) != 1 || got[0].Level != notify.LevelSuccess {
			t.Fatalf("notifications = %v", got)
		}
	})

	t.Run("signed falls back to session uuid", func(t *testing.T) {
		gw := &fakeGateway{statusFn: func() (models.SignSession, error) {
			return models.SignSession{State: models.SignSigned, SessionUUID: "uuid-7"}, nil
		}}
		c, _, creds := newTestController(gw)
		c.PollOnce(context.Background())
		if tok, _ := creds.Token(); tok != "uuid-7" {
			t.Fatalf("fallback token = %q", tok)
		}
	})

	t.Run("failed stops with one error", func(t *testing.T) {
		gw := &fakeGateway{statusFn: func() (models.SignSession, error) {
			return models.SignSession{State: models.SignFailed}, nil
		}}
		c, rec, creds := newTestController(gw)
		if out := c.PollOnce(context.Background()); out != OutcomeFailed {
			t.Fatalf("outcome = %v, want failed", out)
		}
		if _, ok := creds.Token(); ok {
			t.Fatal("failed sign persisted a credential")
		}
		got := rec.All()
		if len(got) != 1 || got[0].Level != notify.LevelError {
			t.Fatalf("notifications = %v", got)
		}
	})
}

func TestInitCreateFailureIsTerminal(t *testing.T) {
	gw := &fakeGateway{createErr: errors.New("server down")}
	c, rec, _ := newTestController(gw)
	if err := c.Init(context.Background()); err == nil {
		t.Fatal("create failure not returned")
	}
	got := rec.All()
	if len(got) != 1 || got[0].Level != notify.LevelError {
		t.Fatalf("notifications = %v", got)
	}
}

func TestInitQRFailureDoesNotAbort(t *testing.T) {
	gw := &fakeGateway{}
	c, rec, _ := newTestController(gw)
	c.fetchQR = func(context.Context, string) (QR, error) {
		return nil, errors.New("qr backend down")
	}
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("init failed on qr error: %v", err)
	}
	if c.SignURL() == "" {
		t.Fatal("sign url not captured")
	}
	// The failure is user-visible but polling can still proceed.
	got := rec.All()
	if len(got) != 1 || got[0].Level != notify.LevelError {
		t.Fatalf("notifications = %v", got)
	}
}

func TestStartSkipsWhenAlreadyAuthenticated(t *testing.T) {
	gw := &fakeGateway{}
	c, _, creds := newTestController(gw)

	now := time.Now()
	creds.SetToken(validToken(t, now.Add(time.Hour)))

	out, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if out != OutcomeSigned {
		t.Fatalf("outcome = %v, want signed", out)
	}
	if len(gw.createdFor) != 0 {
		t.Fatal("start issued network calls despite a valid credential")
	}
}

func TestAwaitCompletion(t *testing.T) {
	t.Run("signs within the window", func(t *testing.T) {
		calls := 0
		gw := &fakeGateway{statusFn: func() (models.SignSession, error) {
			calls++
			if calls < 3 {
				return models.SignSession{State: models.SignPending}, nil
			}
			return models.SignSession{State: models.SignSigned, SessionUUID: "u"}, nil
		}}
		sess, ok, err := AwaitCompletion(context.Background(), gw, zerolog.Nop(), "s", time.Millisecond, time.Second)
		if err != nil {
			t.Fatalf("await: %v", err)
		}
		if !ok || sess.State != models.SignSigned {
			t.Fatalf("ok=%v sess=%+v", ok, sess)
		}
	})

	t.Run("gives up at the deadline", func(t *testing.T) {
		gw := &fakeGateway{statusFn: func() (models.SignSession, error) {
			return models.SignSession{State: models.SignPending}, nil
		}}
		_, ok, err := AwaitCompletion(context.Background(), gw, zerolog.Nop(), "s", time.Millisecond, 20*time.Millisecond)
		if err != nil {
			t.Fatalf("await: %v", err)
		}
		if ok {
			t.Fatal("reported signed after timeout")
		}
	})
}
