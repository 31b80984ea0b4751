package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/banksync/internal/archive"
	"github.com/dvloznov/banksync/internal/categorize"
	"github.com/dvloznov/banksync/internal/domain"
	infraBQ "github.com/dvloznov/banksync/internal/infra/bigquery"
	"github.com/dvloznov/banksync/internal/logger"
	"github.com/dvloznov/banksync/internal/provider/truelayer"
	syncsvc "github.com/dvloznov/banksync/internal/sync"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "sync":
		runSync(log)
	case "categorize":
		runCategorize(log)
	case "connections":
		runConnections(log)
	case "accounts":
		runAccounts(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Bank Sync CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  sync         Sync accounts, balances and transactions for a connection")
	fmt.Println("  categorize   Run one categorization pass over pending expenses")
	fmt.Println("  connections  List active bank connections")
	fmt.Println("  accounts     List accounts under a connection")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func runSync(log zerolog.Logger) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	connectionID := fs.String("connection-id", "", "Connection to sync")
	accountID := fs.String("account-id", "", "Restrict the sync to one account")
	force := fs.Bool("force", false, "Force a full history pull")
	balanceOnly := fs.Bool("balance-only", false, "Refresh balances without pulling transactions")
	bucket := fs.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket for raw payload archiving")
	fs.Parse(os.Args[2:])

	if *connectionID == "" {
		log.Fatal().Msg("Error: --connection-id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := infraBQ.NewRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create repository")
	}
	defer repo.Close()

	provider := truelayer.New(truelayer.ConfigFromEnv())
	tokens := syncsvc.NewTokenManager(repo, provider, log)

	incomeCategoryID := ""
	if income, err := repo.FindCategoryByName(ctx, domain.CategoryIncome); err != nil {
		log.Fatal().Err(err).Msg("Failed to look up Income category")
	} else if income != nil {
		incomeCategoryID = income.ID
	}

	var archiver syncsvc.Archiver
	if *bucket != "" {
		archiver = archive.NewWriter(*bucket)
	}

	service := syncsvc.NewService(repo, provider, tokens,
		syncsvc.NewIngestor(repo, incomeCategoryID, log), archiver, log)

	result, err := service.Sync(ctx, syncsvc.Request{
		ConnectionID: *connectionID,
		AccountID:    *accountID,
		Force:        *force,
		BalanceOnly:  *balanceOnly,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	for _, acc := range result.Accounts {
		fmt.Printf("%s  %s  %s  balance=%d  %s  %d transactions\n",
			acc.Account.ID, acc.Account.Name, acc.Account.Currency,
			acc.Balance.CurrentMinor, acc.SyncType, acc.TransactionCount)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
	fmt.Printf("Synced %d account(s).\n", len(result.Accounts))
}

func runCategorize(log zerolog.Logger) {
	fs := flag.NewFlagSet("categorize", flag.ExitOnError)
	batchSize := fs.Int("batch-size", 0, "Classifier batch size (default 5, max 40)")
	model := fs.String("model", os.Getenv("GEMINI_MODEL"), "Gemini model name")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := infraBQ.NewRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create repository")
	}
	defer repo.Close()

	service := categorize.NewService(repo, categorize.NewGeminiClassifier(*model),
		categorize.NewCache(), 0, log)

	stats, err := service.Run(ctx, *batchSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Categorization failed")
	}

	fmt.Printf("Categorized %d from cache, %d via AI, %d still pending.\n",
		stats.Cached, stats.Classified, stats.Pending)
}

func runConnections(log zerolog.Logger) {
	fs := flag.NewFlagSet("connections", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	repo, err := infraBQ.NewRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create repository")
	}
	defer repo.Close()

	conns, err := repo.ListActiveConnections(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list connections")
	}

	if len(conns) == 0 {
		fmt.Println("No active connections.")
		return
	}
	for _, conn := range conns {
		lastSynced := "never"
		if !conn.LastSyncedAt.IsZero() {
			lastSynced = conn.LastSyncedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  user=%s  provider=%s  %s  last synced %s\n",
			conn.ID, conn.UserID, conn.Provider, conn.Status, lastSynced)
	}
}

func runAccounts(log zerolog.Logger) {
	fs := flag.NewFlagSet("accounts", flag.ExitOnError)
	connectionID := fs.String("connection-id", "", "Connection to list accounts for")
	fs.Parse(os.Args[2:])

	if *connectionID == "" {
		log.Fatal().Msg("Error: --connection-id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	repo, err := infraBQ.NewRepository(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create repository")
	}
	defer repo.Close()

	accounts, err := repo.ListAccountsByConnection(ctx, *connectionID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list accounts")
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts for this connection.")
		return
	}
	for _, account := range accounts {
		balance := "no balance recorded"
		if latest, err := repo.LatestBalance(ctx, account.ID); err == nil && latest != nil {
			balance = fmt.Sprintf("balance=%d %s at %s",
				latest.CurrentMinor, latest.Currency, latest.RecordedAt.Format(time.RFC3339))
		}
		fmt.Printf("%s  %s  %s  %s\n", account.ID, account.Name, account.Currency, balance)
	}
}
