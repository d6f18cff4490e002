package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"polar-fitness-sync/internal/config"
	"polar-fitness-sync/internal/database"
	"polar-fitness-sync/internal/events"
	"polar-fitness-sync/internal/polar"
	"polar-fitness-sync/internal/session"
	"polar-fitness-sync/internal/syncer"
)

func main() {
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors
	})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "help" {
		printUsage()
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client := polar.NewClient(polar.Options{
		ClientID:          cfg.PolarClientID,
		ClientSecret:      cfg.PolarClientSecret,
		RedirectURI:       cfg.PolarRedirectURI,
		BaseURL:           cfg.PolarAPIBaseURL,
		TokenURL:          cfg.PolarTokenURL,
		AuthURL:           cfg.PolarAuthURL,
		RequestsPerSecond: cfg.PolarRequestsPerSecond,
		BreakerFailures:   cfg.PolarBreakerFailures,
	})

	switch command {
	case "webhook":
		handleWebhook(ctx, client)
	case "sync":
		handleSync(ctx, client, cfg)
	case "user":
		handleUser(ctx, client, cfg)
	case "token":
		handleToken(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`polar-fitness-sync CLI - Polar AccessLink administration

Usage:
  cli <command> [options]

Commands:
  webhook create <url> [events]      Register the AccessLink webhook
  webhook list                       List the registered webhook
  webhook update <id> <url> [events] Change the webhook URL or events
  webhook delete <id>                Delete the webhook
  sync <userId> [date]               Sync one user for a date (default: yesterday)
  user <userId>                      Show the AccessLink user record for a linked user
  token <userId> [role]              Issue a session token (role: user or instructor)
  help                               Show this help message

Events are comma separated, e.g. EXERCISE,SLEEP (default: EXERCISE,SLEEP,CONTINUOUS_HEART_RATE,ACTIVITY_SUMMARY)

Examples:
  cli webhook create https://sync.example.com/webhooks/polar
  cli webhook list
  cli webhook delete abc123
  cli sync user-1 2025-03-09
  cli token instructor-1 instructor

Environment Variables Required:
  POLAR_CLIENT_ID       - AccessLink client ID
  POLAR_CLIENT_SECRET   - AccessLink client secret
  SESSION_SECRET        - HMAC secret for session tokens
  STORE_BACKEND         - sqlite or firestore (default: sqlite)
  DATABASE_PATH         - sqlite database file (default: ./data.db)`)
}

func handleWebhook(ctx context.Context, client *polar.Client) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: webhook subcommand required (create, list, update, delete)")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "create":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Error: Webhook URL required")
			fmt.Fprintln(os.Stderr, "Usage: cli webhook create <url> [events]")
			os.Exit(1)
		}
		handleWebhookCreate(ctx, client, os.Args[3], parseEvents(4))
	case "list":
		handleWebhookList(ctx, client)
	case "update":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Error: Webhook ID and URL required")
			fmt.Fprintln(os.Stderr, "Usage: cli webhook update <id> <url> [events]")
			os.Exit(1)
		}
		handleWebhookUpdate(ctx, client, os.Args[3], os.Args[4], parseEvents(5))
	case "delete":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Error: Webhook ID required")
			fmt.Fprintln(os.Stderr, "Usage: cli webhook delete <id>")
			os.Exit(1)
		}
		handleWebhookDelete(ctx, client, os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown webhook subcommand '%s'\n", os.Args[2])
		os.Exit(1)
	}
}

// parseEvents reads a comma separated event list from os.Args[i]
func parseEvents(i int) []string {
	if len(os.Args) <= i {
		return polar.DefaultWebhookEvents
	}
	var out []string
	for _, e := range strings.Split(os.Args[i], ",") {
		if e = strings.ToUpper(strings.TrimSpace(e)); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func handleWebhookCreate(ctx context.Context, client *polar.Client, url string, eventTypes []string) {
	fmt.Printf("Creating webhook...\n")
	fmt.Printf("URL: %s\n", url)
	fmt.Printf("Events: %s\n", strings.Join(eventTypes, ", "))
	fmt.Println()

	result, err := client.CreateWebhook(ctx, eventTypes, url)
	if err != nil {
		printVendorError("Webhook creation failed", err)
		os.Exit(1)
	}

	if result.AlreadyExists {
		fmt.Println("A webhook already exists for this client.")
		fmt.Println("\nTo change it, run: cli webhook list, then cli webhook update <id> <url>")
		return
	}

	fmt.Println("✓ Webhook created successfully!")
	fmt.Printf("  ID: %s\n", result.Webhook.ID)
	fmt.Printf("  URL: %s\n", result.Webhook.URL)
	if result.Webhook.SignatureSecretKey != "" {
		fmt.Printf("  Signature Secret: %s\n", result.Webhook.SignatureSecretKey)
		fmt.Println("\nSet POLAR_WEBHOOK_SECRET to the signature secret. It is not shown again.")
	}
}

func handleWebhookList(ctx context.Context, client *polar.Client) {
	fmt.Println("Fetching webhooks...")

	webhooks, err := client.ListWebhooks(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list webhooks: %v\n", err)
		os.Exit(1)
	}

	if len(webhooks) == 0 {
		fmt.Println("No webhooks found.")
		fmt.Println("\nTo create one, run: cli webhook create <url>")
		return
	}

	fmt.Printf("\nFound %d webhook(s):\n\n", len(webhooks))
	for _, wh := range webhooks {
		fmt.Printf("ID: %s\n", wh.ID)
		fmt.Printf("  URL: %s\n", wh.URL)
		fmt.Printf("  Events: %s\n", strings.Join(wh.Events, ", "))
		fmt.Printf("  Active: %t\n", wh.Active)
		fmt.Println()
	}
}

func handleWebhookUpdate(ctx context.Context, client *polar.Client, id, url string, eventTypes []string) {
	fmt.Printf("Updating webhook %s...\n", id)

	wh, err := client.UpdateWebhook(ctx, id, eventTypes, url)
	if err != nil {
		printVendorError("Webhook update failed", err)
		os.Exit(1)
	}

	fmt.Println("✓ Webhook updated successfully!")
	fmt.Printf("  URL: %s\n", wh.URL)
	fmt.Printf("  Events: %s\n", strings.Join(wh.Events, ", "))
}

func handleWebhookDelete(ctx context.Context, client *polar.Client, id string) {
	fmt.Printf("Deleting webhook %s...\n", id)

	if err := client.DeleteWebhook(ctx, id); err != nil {
		var httpErr *polar.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == 404 {
			fmt.Fprintf(os.Stderr, "Error: Webhook %s not found\n", id)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Println("✓ Webhook deleted successfully!")
}

func printVendorError(msg string, err error) {
	var httpErr *polar.HTTPError
	if errors.As(err, &httpErr) {
		fmt.Fprintf(os.Stderr, "Error: %s (HTTP %d)\n", msg, httpErr.StatusCode)
		fmt.Fprintf(os.Stderr, "Response: %s\n", httpErr.Body)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

func openRepository(ctx context.Context, cfg *config.Config) (*database.Repository, func()) {
	var store database.Store
	var err error
	if cfg.StoreBackend == config.StoreBackendFirestore {
		store, err = database.OpenFirestore(ctx, cfg.FirestoreProjectID)
	} else {
		var db *database.DB
		db, err = database.Open(cfg.DatabasePath)
		if err == nil {
			if err = db.Init(); err != nil {
				db.Close()
			}
		}
		store = db
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open store: %v\n", err)
		os.Exit(1)
	}
	return database.NewRepository(store), func() { store.Close() }
}

func handleSync(ctx context.Context, client *polar.Client, cfg *config.Config) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: User ID required")
		fmt.Fprintln(os.Stderr, "Usage: cli sync <userId> [date]")
		os.Exit(1)
	}
	userID := os.Args[2]

	date := syncer.Yesterday(time.Now())
	if len(os.Args) > 3 {
		if _, err := time.Parse("2006-01-02", os.Args[3]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid date %q (want YYYY-MM-DD)\n", os.Args[3])
			os.Exit(1)
		}
		date = os.Args[3]
	}

	allowList, err := config.LoadAllowList(cfg.AllowListPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	repo, closeStore := openRepository(ctx, cfg)
	defer closeStore()

	s := syncer.New(client, repo, allowList, cfg.SyncCategories, events.NewBroker())

	fmt.Printf("Syncing %s for %s...\n", userID, date)

	summary, err := s.SyncUser(ctx, userID, date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for _, c := range cfg.SyncCategories {
		fmt.Printf("  %-24s %s\n", c, summary.PerCategory[c])
	}
	for _, e := range summary.Errors {
		fmt.Printf("  ! %s: %s\n", e.Category, e.Error)
	}

	if summary.Failed > 0 {
		fmt.Fprintf(os.Stderr, "\n%d of %d categories failed\n", summary.Failed, summary.Total)
		os.Exit(1)
	}
	fmt.Println("✓ Sync completed successfully!")
}

func handleUser(ctx context.Context, client *polar.Client, cfg *config.Config) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: User ID required")
		fmt.Fprintln(os.Stderr, "Usage: cli user <userId>")
		os.Exit(1)
	}
	userID := os.Args[2]

	repo, closeStore := openRepository(ctx, cfg)
	defer closeStore()

	account, err := repo.GetLinkedAccount(ctx, userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !account.HasCredentials() {
		fmt.Fprintf(os.Stderr, "Error: User %s has no linked Polar account\n", userID)
		os.Exit(1)
	}

	user, err := client.GetUser(ctx, account.AccessToken, account.VendorUserID)
	if err != nil {
		printVendorError("Failed to fetch user", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Polar user %d:\n%s\n", account.VendorUserID, out)
}

func handleToken(cfg *config.Config) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: User ID required")
		fmt.Fprintln(os.Stderr, "Usage: cli token <userId> [role]")
		os.Exit(1)
	}

	role := session.RoleUser
	if len(os.Args) > 3 {
		role = os.Args[3]
	}
	if role != session.RoleUser && role != session.RoleInstructor {
		fmt.Fprintf(os.Stderr, "Error: Unknown role '%s' (want %s or %s)\n", role, session.RoleUser, session.RoleInstructor)
		os.Exit(1)
	}

	token, err := session.Issue(session.Config{
		Secret: cfg.SessionSecret,
		Issuer: cfg.SessionIssuer,
	}, os.Args[2], role, session.DefaultTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
