// Package main is a load simulator: it pushes a crowd of citizens through
// the sign-in and queue flow while a synthetic moderator serves them.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/atomic"

	"github.com/jawaracloud/akim-queue/internal/session"
	"github.com/jawaracloud/akim-queue/pkg/models"
)

// Config holds simulation configuration.
type Config struct {
	ServerURL string
	AdminUser string
	AdminPass string
	NumUsers  int
	PollRate  time.Duration
	ServeRate time.Duration
}

// Stats holds simulation statistics.
type Stats struct {
	Signed    atomic.Int64
	Joined    atomic.Int64
	Served    atomic.Int64
	Cancelled atomic.Int64
	Polls     atomic.Int64
}

func main() {
	config := Config{
		ServerURL: getEnv("SERVER_URL", "http://localhost:8080"),
		AdminUser: getEnv("ADMIN_USER", "admin"),
		AdminPass: getEnv("ADMIN_PASSWORD", "admin"),
		NumUsers:  getEnvInt("NUM_USERS", 50),
		PollRate:  5 * time.Second,
		ServeRate: 3 * time.Second,
	}

	stats := &Stats{}
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("\nShutting down simulation...")
		cancel()
	}()

	log.Printf("Starting simulation with %d users", config.NumUsers)
	log.Printf("Server: %s", config.ServerURL)

	// Synthetic moderator keeps the queue moving
	go runModerator(ctx, config, stats)

	var wg sync.WaitGroup
	users := make(chan int, config.NumUsers)
	for i := 0; i < config.NumUsers; i++ {
		users <- i + 1
	}
	close(users)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range users {
				simulateCitizen(ctx, config, userID, stats)
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				printStats(stats)
			}
		}
	}()

	wg.Wait()

	log.Println("\n=== Final Statistics ===")
	printStats(stats)
}

func simulateCitizen(ctx context.Context, config Config, userID int, stats *Stats) {
	time.Sleep(time.Duration(rand.Intn(5000)) * time.Millisecond)

	sessionID := session.NewID()

	// Open a sign session and complete it the way the mobile app would
	if err := getJSON(fmt.Sprintf("%s/api/sign/create_session?uuid=%s", config.ServerURL, sessionID), nil); err != nil {
		log.Printf("User %d: create_session failed: %v", userID, err)
		return
	}
	if err := postJSON(config.ServerURL+"/api/sign/callback", models.SignCallbackPayload{
		SessionID: sessionID,
		Result:    models.CallbackResultSuccess,
	}, nil); err != nil {
		log.Printf("User %d: callback failed: %v", userID, err)
		return
	}
	stats.Signed.Inc()
	stats.Joined.Inc()
	log.Printf("User %d: signed in and joined", userID)

	ticker := time.NewTicker(config.PollRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var pos models.PositionResponse
			if err := getJSON(fmt.Sprintf("%s/api/citizen/position?sessionId=%s", config.ServerURL, sessionID), &pos); err != nil {
				log.Printf("User %d: poll failed: %v", userID, err)
				continue
			}
			stats.Polls.Inc()

			switch pos.Status {
			case models.StatusServed:
				stats.Served.Inc()
				log.Printf("User %d: served", userID)
				return
			case models.StatusCancelled:
				stats.Cancelled.Inc()
				log.Printf("User %d: cancelled", userID)
				return
			case models.StatusInBuffer:
				if pos.MeetingURL != nil {
					log.Printf("User %d: meeting ready at %s", userID, *pos.MeetingURL)
				}
			}
		}
	}
}

// runModerator marks buffered entries as served at a steady rate.
func runModerator(ctx context.Context, config Config, stats *Stats) {
	ticker := time.NewTicker(config.ServeRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var page models.Page[models.QueueItem]
			url := config.ServerURL + "/api/citizen-moderator/queues?status=IN_BUFFER&size=5"
			if err := adminGet(config, url, &page); err != nil {
				log.Printf("Moderator: listing failed: %v", err)
				continue
			}
			for _, item := range page.Content {
				url := fmt.Sprintf("%s/api/citizen-moderator/queue/%d/status?status=SERVED", config.ServerURL, item.ID)
				if err := adminPut(config, url); err != nil {
					log.Printf("Moderator: serve %d failed: %v", item.ID, err)
				}
			}
		}
	}
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(url string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func adminGet(config Config, url string, out any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(config.AdminUser, config.AdminPass)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func adminPut(config Config, url string) error {
	req, err := http.NewRequest(http.MethodPut, url, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(config.AdminUser, config.AdminPass)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func printStats(stats *Stats) {
	log.Printf("Signed: %d | Joined: %d | Served: %d | Cancelled: %d | Polls: %d",
		stats.Signed.Load(), stats.Joined.Load(), stats.Served.Load(),
		stats.Cancelled.Load(), stats.Polls.Load())
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		fmt.Sscanf(value, "%d", &result)
		return result
	}
	return defaultValue
}
