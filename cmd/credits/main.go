package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"paywall_gateway/internal/config"
	"paywall_gateway/internal/models"
	"paywall_gateway/internal/storage"
)

func main() {
	userID := flag.String("user", "", "user id (required)")
	email := flag.String("email", "", "email for -create")
	create := flag.Bool("create", false, "create the user if it does not exist")
	set := flag.Int64("set", -1, "set the credit balance to this value")
	add := flag.Int64("add", 0, "add (or with a negative value, remove) credits")
	clearBalance := flag.Bool("clear", false, "mark the balance as unavailable (NULL)")
	history := flag.Int("history", 0, "list this many recent content records")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "ERROR: -user is required")
		flag.Usage()
		os.Exit(2)
	}
	if *set >= 0 && (*add != 0 || *clearBalance) || (*add != 0 && *clearBalance) {
		fmt.Fprintln(os.Stderr, "ERROR: -set, -add and -clear are mutually exclusive")
		os.Exit(2)
	}
	if *create && !isValidEmail(*email) {
		fmt.Fprintf(os.Stderr, "ERROR: Invalid email format: %q\n", *email)
		os.Exit(2)
	}

	// Load configuration (primarily for database connection)
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	dbConfig := storage.DefaultDBConfig(cfg.Database.URL)
	dbConfig.MaxOpenConns = 2
	dbConfig.MaxIdleConns = 1
	dbConfig.UserCacheSize = 10 // Minimal cache for the admin tool

	db, err := storage.NewDB(dbConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users := db.NewUserRepository()

	user, err := users.GetByID(ctx, *userID)
	switch {
	case errors.Is(err, storage.ErrUserNotFound) && *create:
		user = &models.User{ID: *userID, Email: *email}
		if err := users.Create(ctx, user); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Failed to create user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created user %s (%s)\n", user.ID, user.Email)
	case errors.Is(err, storage.ErrUserNotFound):
		fmt.Fprintf(os.Stderr, "ERROR: User %s not found (use -create -email to add it)\n", *userID)
		os.Exit(1)
	case err != nil:
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load user: %v\n", err)
		os.Exit(1)
	}

	switch {
	case *clearBalance:
		if err := users.SetCredits(ctx, *userID, nil); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Failed to clear balance: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Balance cleared; the user will only receive previews")
	case *set >= 0:
		if err := users.SetCredits(ctx, *userID, set); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Failed to set balance: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Balance set to %s credits\n", humanize.Comma(*set))
	case *add != 0:
		balance, err := users.AddCredits(ctx, *userID, *add)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Failed to add credits: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added %s credits, balance is now %s\n", humanize.Comma(*add), humanize.Comma(balance))
	default:
		fmt.Printf("User: %s (%s)\n", user.ID, user.Email)
		fmt.Printf("Balance: %s\n", formatBalance(user))
	}

	if *history > 0 {
		records, err := db.NewContentRepository().ListByUser(ctx, *userID, *history)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Failed to list content: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nLast %d content record(s):\n", len(records))
		for _, rec := range records {
			fmt.Printf("  %s  %-8s %3d%%  %-16s %s credits  %s\n",
				rec.CreatedAt.Format(time.RFC3339),
				rec.AccessLevel,
				rec.PreviewPercent,
				rec.Endpoint,
				humanize.Comma(rec.CreditsCharged),
				humanize.Bytes(uint64(len(rec.Content))),
			)
		}
	}
}

func formatBalance(u *models.User) string {
	if !u.HasBalance() {
		return "unavailable"
	}
	return humanize.Comma(u.Balance()) + " credits"
}

// isValidEmail performs a basic email validation
func isValidEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at == strings.LastIndex(email, "@") && at < len(email)-1
}
