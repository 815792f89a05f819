package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/attendsync/internal/attendance"
	"github.com/agentworkforce/attendsync/internal/pollclient"
	"github.com/joho/godotenv"
)

// writeAction is the single write a run may submit before exiting.
type writeAction struct {
	createSession string
	endSession    bool
	checkInName   string
	checkInID     string
	deleteRecord  string
}

func (a writeAction) empty() bool {
	return a.createSession == "" && !a.endSession && a.checkInName == "" && a.checkInID == "" && a.deleteRecord == ""
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}

	baseURL := flag.String("base-url", envOrDefault("ATTENDSYNC_BASE_URL", "http://127.0.0.1:3000"), "attendsync base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("ATTENDSYNC_ADMIN_TOKEN")), "admin bearer token")
	password := flag.String("password", strings.TrimSpace(os.Getenv("ATTENDSYNC_ADMIN_PASSWORD")), "admin password, exchanged for a token before writing")
	stateFile := flag.String("state-file", strings.TrimSpace(os.Getenv("ATTENDSYNC_POLL_STATE_FILE")), "cached snapshot path")
	exportPath := flag.String("export", strings.TrimSpace(os.Getenv("ATTENDSYNC_POLL_EXPORT")), "write a CSV export here after every successful poll")
	interval := flag.Duration("interval", durationEnv("ATTENDSYNC_POLL_INTERVAL", pollclient.DefaultPollInterval), "poll interval")
	intervalJitter := flag.Float64("interval-jitter", floatEnv("ATTENDSYNC_POLL_INTERVAL_JITTER", 0), "poll interval jitter ratio (0.0-1.0)")
	timeout := flag.Duration("timeout", durationEnv("ATTENDSYNC_POLL_TIMEOUT", 10*time.Second), "per-request timeout")
	once := flag.Bool("once", false, "run one poll cycle and exit")

	var action writeAction
	flag.StringVar(&action.createSession, "create-session", "", "start a session with this name, then exit")
	flag.BoolVar(&action.endSession, "end-session", false, "end the active session, then exit")
	flag.StringVar(&action.checkInName, "check-in-name", "", "student name to check in to the active session")
	flag.StringVar(&action.checkInID, "check-in-id", "", "student ID to check in to the active session")
	flag.StringVar(&action.deleteRecord, "delete", "", "delete the record with this ID, then exit")
	flag.Parse()

	if *interval <= 0 {
		*interval = pollclient.DefaultPollInterval
	}
	if *timeout <= 0 {
		*timeout = 10 * time.Second
	}
	*intervalJitter = pollclient.ClampJitterRatio(*intervalJitter)

	client := pollclient.NewHTTPClient(*baseURL, *token, &http.Client{Timeout: *timeout})
	poller := newPoller(client, pollConfig{
		interval:   *interval,
		jitter:     *intervalJitter,
		timeout:    *timeout,
		stateFile:  *stateFile,
		exportPath: *exportPath,
	}, log.Default())

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !action.empty() {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		if err := submit(ctx, client, poller, *password, action); err != nil {
			log.Fatalf("write failed: %v", err)
		}
		return
	}

	if *once {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		if err := poller.SyncOnce(ctx); err != nil {
			log.Fatalf("poll failed: %v", err)
		}
		return
	}

	if err := poller.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("poller stopped: %v", err)
	}
	log.Printf("poller stopping")
}

type pollConfig struct {
	interval   time.Duration
	jitter     float64
	timeout    time.Duration
	stateFile  string
	exportPath string
}

// newPoller logs online/offline transitions and rewrites the export after
// every snapshot the poller accepts.
func newPoller(client pollclient.RemoteClient, cfg pollConfig, logger pollclient.Logger) *pollclient.Poller {
	return pollclient.NewPoller(client, pollclient.PollerOptions{
		Interval:     cfg.interval,
		Jitter:       cfg.jitter,
		Logger:       logger,
		StateFile:    cfg.stateFile,
		CycleTimeout: cfg.timeout,
		OnStatus:     func(online bool, err error) {
			if online {
				logger.Printf("server online")
				return
			}
			logger.Printf("server offline: %v", err)
		},
		OnChange:     func(snapshot attendance.Database) {
			session := "none"
			if snapshot.ActiveSession != nil {
				session = snapshot.ActiveSession.Name
			}
			logger.Printf("poll ok: session=%s records=%d", session, len(snapshot.Records))
			if cfg.exportPath == "" {
				return
			}
			if err := writeExport(cfg.exportPath, snapshot.Records); err != nil {
				logger.Printf("export failed: %v", err)
			}
		},
	})
}

func submit(ctx context.Context, client *pollclient.HTTPClient, poller *pollclient.Poller, password string, action writeAction) error {
	if password != "" && (action.createSession != "" || action.endSession || action.deleteRecord != "") {
		if _, err := client.Login(ctx, password); err != nil {
			return fmt.Errorf("admin login: %w", err)
		}
	}
	// Refresh first so the duplicate check sees current records.
	if err := poller.SyncOnce(ctx); err != nil {
		return err
	}
	switch {
	case action.createSession != "":
		session, err := poller.CreateSession(ctx, action.createSession)
		if err != nil {
			return err
		}
		log.Printf("session started: %s (%s)", session.Name, session.ID)
	case action.endSession:
		if err := poller.EndSession(ctx); err != nil {
			return err
		}
		log.Printf("session ended")
	case action.deleteRecord != "":
		if err := poller.DeleteRecord(ctx, action.deleteRecord); err != nil {
			return err
		}
		log.Printf("record deleted: %s", action.deleteRecord)
	default:
		record, err := poller.CheckInActive(ctx, action.checkInName, action.checkInID)
		if err != nil {
			return err
		}
		log.Printf("checked in: %s (%s) to %s", record.StudentName, record.StudentID, record.SessionName)
	}
	return nil
}

func writeExport(path string, records []attendance.AttendanceRecord) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := attendance.WriteCSV(f, records, time.Local); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}
