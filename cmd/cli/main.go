package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-advisor/internal/api/middleware"
	"github.com/dvloznov/finance-advisor/internal/app"
	"github.com/dvloznov/finance-advisor/internal/config"
	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/logger"
	"github.com/dvloznov/finance-advisor/internal/store"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	"github.com/dvloznov/finance-advisor/internal/tools"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		runIngest()
	case "chat":
		runChat()
	case "budget":
		runBudget()
	case "status":
		runStatus()
	case "reconcile":
		runReconcile()
	case "token":
		runToken()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Finance Advisor CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest     Ingest a statement PDF, a directory of PDFs, or a gs:// URI")
	fmt.Println("  chat       Ask questions about your spending")
	fmt.Println("  budget     Set or show category budgets")
	fmt.Println("  status     List your documents and their processing status")
	fmt.Println("  reconcile  Find transactions whose vector record is missing")
	fmt.Println("  token      Issue an API bearer token")
	fmt.Println("  help       Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// commonFlags registers the flags every data command shares.
func commonFlags(fs *flag.FlagSet) (configPath, user *string) {
	configPath = fs.String("config", os.Getenv("FINADVISOR_CONFIG"), "Path to config file (or set FINADVISOR_CONFIG env)")
	user = fs.String("user", os.Getenv("FINADVISOR_USER"), "User ID to act as (or set FINADVISOR_USER env)")
	return configPath, user
}

func load(configPath string) (*config.Config, zerolog.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	return cfg, logger.NewWithConfig(cfg.Log.Level, cfg.Log.Format)
}

func owner(log zerolog.Logger, raw string) tenant.ID {
	id, err := tenant.Parse(raw)
	if err != nil {
		log.Fatal().Err(err).Msg("Error: --user is required")
	}
	return id
}

func runBudget() {
	fs := flag.NewFlagSet("budget", flag.ExitOnError)
	configPath, user := commonFlags(fs)
	category := fs.String("category", "", "Category to budget; omit to show status")
	amount := fs.Float64("amount", -1, "Budget amount for --category")
	fs.Parse(os.Args[2:])

	cfg, log := load(*configPath)
	id := owner(log, *user)

	ctx := logger.WithContext(context.Background(), log)
	st, err := app.OpenStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	if *category != "" {
		if *amount < 0 {
			log.Fatal().Msg("Error: --amount must be a non-negative number")
		}
		budget := &domain.Budget{UserID: id, Category: domain.NormalizeCategory(*category), Amount: *amount}
		if err := st.UpsertBudget(ctx, budget); err != nil {
			log.Fatal().Err(err).Msg("Failed to save budget")
		}
		color.Green("✓ Budget for %s set to %.2f\n", budget.Category, budget.Amount)
	}

	statuses, err := tools.BudgetStatuses(ctx, st, id)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compute budget status")
	}
	if len(statuses) == 0 {
		fmt.Println("No budgets set.")
		return
	}

	fmt.Println("\n=== Budgets ===")
	for _, s := range statuses {
		line := color.GreenString
		switch {
		case s.Percent() >= 100:
			line = color.RedString
		case s.Percent() >= 80:
			line = color.YellowString
		}
		fmt.Println(line("%s", s.Line()))
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath, user := commonFlags(fs)
	documentID := fs.String("document", "", "Show one document and its transactions")
	fs.Parse(os.Args[2:])

	cfg, log := load(*configPath)
	id := owner(log, *user)

	ctx := logger.WithContext(context.Background(), log)
	st, err := app.OpenStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()

	if *documentID != "" {
		inspect(ctx, log, st, id, *documentID)
		return
	}

	docs, err := st.ListDocuments(ctx, id)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list documents")
	}

	fmt.Printf("\n=== Documents (%d) ===\n", len(docs))
	for _, d := range docs {
		fmt.Printf("%s  %-10s  %s  %s\n", d.ID, statusColor(d.Status), d.UploadDate.Format(time.DateOnly), d.Filename)
		if d.Error != "" {
			fmt.Printf("    %s\n", color.RedString(d.Error))
		}
	}
}

func inspect(ctx context.Context, log zerolog.Logger, st store.Store, id tenant.ID, documentID string) {
	doc, err := st.GetDocument(ctx, id, documentID)
	if err != nil {
		log.Fatal().Err(err).Str("document_id", documentID).Msg("Document not found")
	}

	fmt.Println("\n=== Document Details ===")
	fmt.Printf("ID:       %s\n", doc.ID)
	fmt.Printf("File:     %s\n", doc.Filename)
	fmt.Printf("Uploaded: %s\n", doc.UploadDate.Format(time.RFC3339))
	fmt.Printf("Status:   %s\n", statusColor(doc.Status))
	if doc.StorageURI != "" {
		fmt.Printf("Archive:  %s\n", doc.StorageURI)
	}
	if doc.Error != "" {
		fmt.Printf("Error:    %s\n", doc.Error)
	}

	// The owner check above covers the rows of this document.
	txs, err := st.ListTransactionsByDocument(ctx, doc.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list transactions")
	}

	fmt.Printf("\n=== Transactions (%d) ===\n", len(txs))
	for i, tx := range txs {
		fmt.Printf("\n%d. %s\n", i+1, tx.Merchant)
		fmt.Printf("   Date:     %s\n", tx.Date.Format(time.DateOnly))
		fmt.Printf("   Amount:   %.2f %s\n", tx.Amount, tx.Currency)
		if tx.Category != "" {
			fmt.Printf("   Category: %s\n", tx.Category)
		}
	}
	fmt.Println()
}

func statusColor(s domain.DocumentStatus) string {
	switch s {
	case domain.StatusCompleted:
		return color.GreenString(string(s))
	case domain.StatusFailed:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func runReconcile() {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("FINADVISOR_CONFIG"), "Path to config file (or set FINADVISOR_CONFIG env)")
	repair := fs.Bool("repair", false, "Re-embed missing vector records")
	fs.Parse(os.Args[2:])

	cfg, log := load(*configPath)
	cfg.Reconcile.Repair = cfg.Reconcile.Repair || *repair

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	report, err := application.Reconciler.Sweep(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Reconcile failed")
	}

	fmt.Printf("Checked %d failed documents.\n", report.Checked)
	for _, o := range report.Documents {
		state := color.YellowString("unrepaired")
		if o.Repaired {
			state = color.GreenString("repaired")
		}
		fmt.Printf("  %s (user %s): %d/%d vectors missing, %s\n",
			o.DocumentID, o.Owner, len(o.MissingVectors), o.Transactions, state)
	}
}

func runToken() {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath, user := commonFlags(fs)
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime; 0 never expires")
	fs.Parse(os.Args[2:])

	cfg, log := load(*configPath)
	if cfg.Auth.JWTSecret == "" {
		log.Fatal().Msg("Error: auth.jwt_secret is not configured")
	}

	token, err := middleware.IssueToken(owner(log, *user), []byte(cfg.Auth.JWTSecret), *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}
	fmt.Println(token)
}
