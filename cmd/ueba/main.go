package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentryhq/ueba/internal/api"
	"github.com/sentryhq/ueba/internal/config"
	"github.com/sentryhq/ueba/internal/models"
	"github.com/sentryhq/ueba/internal/threat"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	demo := flag.Bool("demo", false, "Run with in-memory storage and seeded sample data")
	flag.Parse()

	if *showVersion {
		fmt.Printf("UEBA v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	// Initialize and start API server
	var opts []api.ServerOption
	if *demo {
		opts = append(opts, api.WithMemoryBackend())
	}

	server, err := api.NewServer(cfg, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize server: %v\n", err)
		os.Exit(1)
	}

	if *demo {
		if err := seedDemoData(ctx, server.Service()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to seed demo data: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Demo mode: in-memory storage with seeded sample users")
	}

	if err := server.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

// seedDemoData registers a few users and replays a day of activity so the
// dashboard has something to show.
func seedDemoData(ctx context.Context, svc *threat.Service) error {
	users := []models.User{
		{UserID: "jsmith", Name: "Jordan Smith", Role: "Developer", Department: "Engineering", Email: "jsmith@example.com"},
		{UserID: "mchen", Name: "Morgan Chen", Role: "Finance", Department: "Finance", Email: "mchen@example.com"},
		{UserID: "apatel", Name: "Avery Patel", Role: "HR", Department: "People", Email: "apatel@example.com"},
	}
	for i := range users {
		if err := svc.RegisterUser(ctx, &users[i]); err != nil {
			return err
		}
	}

	now := time.Now()
	events := []models.ActivityEvent{
		{
			UserID:       "jsmith",
			Timestamp:    now.Add(-6 * time.Hour),
			ActivityType: models.ActivityLogon,
			Details:      models.LogonDetails{IPAddress: "10.1.4.20", Location: "office"},
		},
		{
			UserID:       "jsmith",
			Timestamp:    now.Add(-5 * time.Hour),
			ActivityType: models.ActivityFileAccess,
			Details:      models.FileDetails{Path: "/repos/service/main.go", SizeMB: 0.2},
		},
		{
			UserID:       "mchen",
			Timestamp:    now.Add(-4 * time.Hour),
			ActivityType: models.ActivityLogon,
			Details:      models.LogonDetails{GeoAnomaly: 1, IPAddress: "203.0.113.50", Location: "unknown"},
		},
		{
			UserID:       "mchen",
			Timestamp:    now.Add(-3 * time.Hour),
			ActivityType: models.ActivityFileAccess,
			Details:      models.FileDetails{Path: "/finance/q3-forecast.xlsx", Sensitive: true, SizeMB: 640},
		},
		{
			UserID:       "mchen",
			Timestamp:    now.Add(-2 * time.Hour),
			ActivityType: models.ActivityEmail,
			Details:      models.EmailDetails{Recipient: "contact@example.org", External: true, AttachmentSizeMB: 22, SuspiciousKeywords: 2},
		},
		{
			UserID:       "apatel",
			Timestamp:    now.Add(-1 * time.Hour),
			ActivityType: models.ActivityLogon,
			Details:      models.LogonDetails{IPAddress: "10.1.7.3", Location: "office"},
		},
	}

	for i := range events {
		if _, err := svc.SubmitActivity(ctx, &events[i]); err != nil {
			return err
		}
	}

	return nil
}
