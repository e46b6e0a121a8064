// Package main is the moderator console: list, watch and mutate the
// citizen queue over the moderator API.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/jawaracloud/akim-queue/internal/api"
	"github.com/jawaracloud/akim-queue/internal/config"
	"github.com/jawaracloud/akim-queue/internal/credentials"
	"github.com/jawaracloud/akim-queue/internal/moderator"
	"github.com/jawaracloud/akim-queue/internal/notify"
	"github.com/jawaracloud/akim-queue/pkg/models"
)

const usage = `usage: moderator <command> [flags]

commands:
  login       verify and store moderator credentials
  logout      forget stored credentials
  list        show one page of the queue
  watch       refresh the listing every few seconds
  set-status  change one entry's status
  set-url     assign one entry's meeting url
  bulk        change status for a sequence range
  delete      cancel one entry (asks for confirmation)
  stats       show aggregate counters
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()

	kv, err := credentials.OpenFileKV(cfg.CredentialsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "credentials: %v\n", err)
		os.Exit(1)
	}
	creds := credentials.NewStore(kv)
	client := api.NewClient(cfg.ServerURL, creds, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &console{
		panel: moderator.NewPanel(client, notify.LogNotifier{Log: log}, stdinConfirm{}, log,
			moderator.Config{RefreshInterval: cfg.PollInterval()}),
		client:  client,
		creds:   creds,
		refresh: cfg.PollInterval(),
	}

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
			os.Exit(1)
		}
	}
}

type console struct {
	panel   *moderator.Panel
	client  *api.Client
	creds   *credentials.Store
	refresh time.Duration
}

func (c *console) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return c.login(ctx, args)
	case "logout":
		return c.creds.ClearAdminCredential()
	case "list":
		return c.list(ctx, args)
	case "watch":
		return c.watch(ctx, args)
	case "set-status":
		return c.setStatus(ctx, args)
	case "set-url":
		return c.setURL(ctx, args)
	case "bulk":
		return c.bulk(ctx, args)
	case "delete":
		return c.delete(ctx, args)
	case "stats":
		return c.stats(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *console) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	user := fs.String("user", "", "moderator username")
	pass := fs.String("password", "", "moderator password")
	fs.Parse(args)

	if err := moderator.Login(ctx, c.client, c.creds, *user, *pass); err != nil {
		return err
	}
	fmt.Println("logged in")
	return nil
}

func (c *console) applyListFlags(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "", "filter by status (WAITING, IN_BUFFER, SERVED, CANCELLED)")
	page := fs.Int("page", 0, "zero-based page")
	size := fs.Int("size", 20, "page size")
	sortBy := fs.String("sort", "sequenceNumber", "sort field")
	asc := fs.Bool("asc", false, "sort ascending")
	fs.Parse(args)

	c.panel.SetFilter(models.QueueStatus(*status))
	c.panel.SetPage(*page)
	c.panel.SetPageSize(*size)
	dir := models.SortDesc
	if *asc {
		dir = models.SortAsc
	}
	c.panel.SetSort(*sortBy, dir)
	return nil
}

func (c *console) list(ctx context.Context, args []string) error {
	if err := c.applyListFlags(args); err != nil {
		return err
	}
	if err := c.panel.Reload(ctx); err != nil {
		return err
	}
	c.render()
	return nil
}

func (c *console) watch(ctx context.Context, args []string) error {
	if err := c.applyListFlags(args); err != nil {
		return err
	}
	if err := c.panel.Reload(ctx); err != nil {
		return err
	}
	c.render()

	go c.panel.Watch(ctx)

	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.render()
		}
	}
}

func (c *console) render() {
	page := c.panel.Page()
	stats := c.panel.Stats()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEQ\tSTATUS\tNAME\tMEETING\tCREATED")
	for _, item := range page.Content {
		name := item.FullName
		if name == "" {
			if n, ok := c.panel.Name(item.SessionID); ok {
				name = n
			}
		}
		meeting := ""
		if item.MeetingURL != nil {
			meeting = *item.MeetingURL
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
			item.ID, item.SequenceNumber, item.Status, name, meeting,
			item.CreatedAt.Local().Format("15:04:05"))
	}
	w.Flush()

	fmt.Printf("page %d/%d, %d total | waiting %d, buffered %d, served %d, cancelled %d\n",
		page.Number+1, max(page.TotalPages, 1), page.TotalElements,
		stats.Waiting, stats.InBuffer, stats.Served, stats.Cancelled)
}

func (c *console) setStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-status", flag.ExitOnError)
	id := fs.Int64("id", 0, "queue entry id")
	status := fs.String("status", "", "target status")
	fs.Parse(args)
	return c.panel.ChangeStatus(ctx, *id, models.QueueStatus(strings.ToUpper(*status)))
}

func (c *console) setURL(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-url", flag.ExitOnError)
	id := fs.Int64("id", 0, "queue entry id")
	url := fs.String("url", "", "meeting url")
	fs.Parse(args)
	return c.panel.SetMeetingURL(ctx, *id, *url)
}

func (c *console) bulk(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bulk", flag.ExitOnError)
	from := fs.Int64("from", 0, "first sequence number")
	to := fs.Int64("to", 0, "last sequence number")
	status := fs.String("status", "", "target status")
	fs.Parse(args)
	return c.panel.BulkUpdate(ctx, *from, *to, models.QueueStatus(strings.ToUpper(*status)))
}

func (c *console) delete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.Int64("id", 0, "queue entry id")
	fs.Parse(args)
	return c.panel.Delete(ctx, *id)
}

func (c *console) stats(ctx context.Context) error {
	if err := c.panel.Reload(ctx); err != nil {
		return err
	}
	st := c.panel.Stats()
	fmt.Printf("total %d\nwaiting %d\nin buffer %d\nserved %d\ncancelled %d\n",
		st.Total, st.Waiting, st.InBuffer, st.Served, st.Cancelled)
	return nil
}

// stdinConfirm asks on the terminal before destructive actions.
type stdinConfirm struct{}

func (stdinConfirm) Confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
