// Package main is the citizen front-end: sign in with a mobile QR code,
// join the queue and track the position until the meeting starts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/jawaracloud/akim-queue/internal/api"
	"github.com/jawaracloud/akim-queue/internal/config"
	"github.com/jawaracloud/akim-queue/internal/credentials"
	"github.com/jawaracloud/akim-queue/internal/notify"
	"github.com/jawaracloud/akim-queue/internal/queue"
	"github.com/jawaracloud/akim-queue/internal/session"
	"github.com/jawaracloud/akim-queue/internal/signin"
)

const (
	keySession = "session_uuid"
	keyPhone   = "phone_number"
)

func main() {
	var (
		phone     = flag.String("phone", "", "phone number bound to the sign request")
		serverURL = flag.String("server", "", "API base URL (overrides config)")
		fresh     = flag.Bool("fresh", false, "discard the stored session and credentials")
	)
	flag.Parse()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}

	log := newLogger(cfg.LogLevel)

	kv, err := credentials.OpenFileKV(cfg.CredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.CredentialsFile).Msg("cannot open credentials file")
	}
	creds := credentials.NewStore(kv)

	if *fresh {
		creds.ClearToken()
		kv.Delete(keySession)
		kv.Delete(keyPhone)
	}

	sessionID, _ := kv.Get(keySession)
	if sessionID == "" {
		sessionID = session.NewID()
		kv.Set(keySession, sessionID)
	}

	phoneNumber, _ := kv.Get(keyPhone)
	if *phone != "" {
		normalized, err := normalizePhone(*phone)
		if err != nil {
			log.Fatal().Err(err).Str("phone", *phone).Msg("invalid phone number")
		}
		phoneNumber = normalized
		kv.Set(keyPhone, phoneNumber)
	}
	log.Info().Str("session", sessionID).Str("server", cfg.ServerURL).Msg("starting")

	notifier := buildNotifier(cfg, log)
	client := api.NewClient(cfg.ServerURL, creds, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signer := signin.New(client, creds, notifier, log, sessionID, phoneNumber, signin.Config{
		PollInterval:      cfg.SignPollInterval(),
		QRRefreshInterval: cfg.QRRefreshInterval(),
	})
	outcome, err := signer.Start(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Fatal().Err(err).Msg("sign-in failed to start")
	}
	switch outcome {
	case signin.OutcomeSigned:
	case signin.OutcomeFailed:
		log.Error().Msg("signing was rejected, run again to retry")
		os.Exit(1)
	default:
		log.Warn().Msg("sign-in did not complete")
		os.Exit(1)
	}

	if url := signer.SignURL(); url != "" {
		log.Info().Str("url", url).Msg("same-device sign link")
	}

	tracker := queue.New(client, notifier, consoleNavigator{log: log}, consoleGuard{log: log},
		log, sessionID, queue.Config{PollInterval: cfg.PollInterval()})
	if err := tracker.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("queue tracking failed")
	}
}

// normalizePhone reduces user input to the 11-digit national form the
// sign API expects: digits only, leading 7 added when missing.
func normalizePhone(raw string) (string, error) {
	var digits []rune
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) > 0 && digits[0] != '7' {
		digits = append([]rune{'7'}, digits...)
	}
	if len(digits) != 11 {
		return "", fmt.Errorf("want 11 digits, got %d", len(digits))
	}
	return string(digits), nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

func buildNotifier(cfg config.Client, log zerolog.Logger) notify.Notifier {
	base := notify.LogNotifier{Log: log}
	if cfg.NATSURL == "" {
		return base
	}
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("akim-citizen"))
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.NATSURL).Msg("NATS unavailable, notifications stay local")
		return base
	}
	return notify.NATSNotifier{Conn: nc, Subject: cfg.NotifySubject, Next: base, Log: log}
}

// consoleNavigator stands in for the browser redirect: it prints the
// meeting URL instead of opening it.
type consoleNavigator struct {
	log zerolog.Logger
}

func (n consoleNavigator) OpenMeeting(url string) error {
	n.log.Info().Str("url", url).Msg("your meeting is ready, open this link")
	fmt.Println(url)
	return nil
}

// consoleGuard is the terminal analog of the leave-page warning.
type consoleGuard struct {
	log zerolog.Logger
}

func (g consoleGuard) Install() {
	g.log.Debug().Msg("stay in the queue; quitting may lose your spot")
}

func (g consoleGuard) Remove() {}
