// Command fintrack drives the import pipeline from the command line:
// staging statement files, processing and confirming batches, posting
// manual transactions and managing category rules.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"fintrack/internal/amqp"
	"fintrack/internal/config"
	"fintrack/internal/core"
	"fintrack/internal/ledger"
	applog "fintrack/internal/log"
	"fintrack/internal/matcher"
	"fintrack/internal/services"
	"fintrack/internal/statement"
	"fintrack/internal/storage"
	"fintrack/internal/store"
	"fintrack/internal/store/memory"
)

type app struct {
	cfg          *config.Config
	store        store.Store
	accounts     *services.AccountService
	imports      *services.ImportService
	rules        *services.RuleService
	transactions *services.TransactionService
	categories   *services.CategoryService
	close        func()
}

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: applog.ComponentApp})
	applog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("Startup failed", "error", err)
		os.Exit(1)
	}
	defer a.close()

	ctx := context.Background()
	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("Command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func buildApp(cfg *config.Config, logger *applog.Logger) (*app, error) {
	var st store.Store
	closeFn := func() {}

	switch cfg.DataBackend {
	case "sqlite":
		sqliteStore, err := storage.NewSQLiteStore(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite store: %w", err)
		}
		st = sqliteStore
		closeFn = func() { sqliteStore.Close() }
		logger.Info("Using SQLite backend", "path", cfg.SQLiteDBPath)
	default:
		st = memory.New()
		logger.Info("Using in-memory backend")
	}

	var events services.BatchEventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			closeFn()
			return nil, fmt.Errorf("initialize AMQP client: %w", err)
		}
		events = client
		prev := closeFn
		closeFn = func() { client.Close(); prev() }
		logger.Info("AMQP eventing enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	}

	registry := statement.DefaultRegistry()
	m := matcher.New(st)
	eng := ledger.New(st)

	return &app{
		cfg:          cfg,
		store:        st,
		accounts:     services.NewAccountService(st, logger),
		imports:      services.NewImportService(st, registry, m, events, logger),
		rules:        services.NewRuleService(st, m, logger),
		transactions: services.NewTransactionService(st, eng, m, logger),
		categories:   services.NewCategoryService(st, eng, logger),
		close:        closeFn,
	}, nil
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	user := a.cfg.UserID

	switch command {
	case "create-account":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		currency := fs.String("currency", a.cfg.DefaultCurrency, "account currency")
		fs.Parse(args)
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: create-account [-currency CAD] <name>")
		}
		account, err := a.accounts.CreateAccount(ctx, user, fs.Arg(0), *currency)
		if err != nil {
			return err
		}
		fmt.Printf("account %s created (%s)\n", account.ID, account.Currency)
		return nil

	case "import":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		format := fs.String("format", "", "statement format (default: detect)")
		fs.Parse(args)
		if fs.NArg() < 2 {
			return fmt.Errorf("usage: import [-format id] <account-id> <file>")
		}
		content, err := os.ReadFile(fs.Arg(1))
		if err != nil {
			return fmt.Errorf("read statement file: %w", err)
		}
		batch, err := a.imports.CreateBatch(ctx, user, fs.Arg(0), fs.Arg(1), string(content), *format)
		if err != nil {
			return err
		}
		fmt.Printf("batch %s staged (%s, %d rows parsed)\n", batch.ID, batch.StatementFormat, batch.ProcessedCount)
		return nil

	case "process":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		autoCreate := fs.Bool("auto-create", false, "commit rows immediately")
		fs.Parse(args)
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: process [-auto-create] <batch-id>")
		}
		batch, err := a.imports.ProcessBatch(ctx, user, fs.Arg(0), *autoCreate)
		if err != nil {
			return err
		}
		fmt.Printf("batch %s: %s (%d rows processed)\n", batch.ID, batch.Status, batch.ProcessedCount)
		return nil

	case "confirm":
		if len(args) < 1 {
			return fmt.Errorf("usage: confirm <batch-id> [row-id ...]")
		}
		batch, err := a.imports.ConfirmBatch(ctx, user, args[0], args[1:])
		if err != nil {
			return err
		}
		fmt.Printf("batch %s: %s\n", batch.ID, batch.Status)
		return nil

	case "skip":
		if len(args) < 2 {
			return fmt.Errorf("usage: skip <batch-id> <row-id ...>")
		}
		return a.imports.SkipRows(ctx, user, args[0], args[1:])

	case "batch":
		if len(args) < 1 {
			return fmt.Errorf("usage: batch <batch-id>")
		}
		batch, rows, err := a.imports.GetBatch(ctx, user, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("batch %s  %s  format=%s  rows=%d\n", batch.ID, batch.Status, batch.StatementFormat, len(rows))
		if batch.ErrorMessage != "" {
			fmt.Printf("  error: %s\n", batch.ErrorMessage)
		}
		for _, row := range rows {
			line := fmt.Sprintf("  #%d %s %s", row.RowNumber, row.ID, row.Status)
			if row.ProcessedData != nil {
				line += fmt.Sprintf("  %s %s %s %q",
					row.ProcessedData.TransactionDate.Format("2006-01-02"),
					row.ProcessedData.Type, row.ProcessedData.Amount, row.ProcessedData.Description)
			}
			if row.ErrorMessage != "" {
				line += "  error: " + row.ErrorMessage
			}
			fmt.Println(line)
		}
		return nil

	case "batches":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		account := fs.String("account", "", "filter by account id")
		status := fs.String("status", "", "filter by status")
		fs.Parse(args)
		batches, err := a.imports.ListBatches(ctx, user, store.BatchFilter{
			AccountID: *account,
			Status:    core.BatchStatus(*status),
		})
		if err != nil {
			return err
		}
		for _, b := range batches {
			fmt.Printf("%s  %s  %s  %s\n", b.ID, b.CreatedAt.Format(time.RFC3339), b.Status, b.FileName)
		}
		return nil

	case "post":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		amount := fs.String("amount", "", "amount (non-negative)")
		txType := fs.String("type", "expense", "transaction type")
		date := fs.String("date", time.Now().Format("2006-01-02"), "transaction date")
		category := fs.String("category", "", "category id (default: matched)")
		merchant := fs.String("merchant", "", "merchant")
		desc := fs.String("desc", "", "description")
		fs.Parse(args)
		if fs.NArg() < 1 || *amount == "" || *desc == "" {
			return fmt.Errorf("usage: post -amount N -desc TEXT [-type expense] <account-id>")
		}
		amt, err := decimal.NewFromString(*amount)
		if err != nil {
			return fmt.Errorf("parse amount: %w", err)
		}
		day, err := time.Parse("2006-01-02", *date)
		if err != nil {
			return fmt.Errorf("parse date: %w", err)
		}
		t, err := a.transactions.PostTransaction(ctx, user, fs.Arg(0), ledger.PostInput{
			TransactionDate: day,
			Amount:          amt,
			Type:            core.TransactionType(*txType),
			CategoryID:      *category,
			Merchant:        *merchant,
			Description:     *desc,
		})
		if err != nil {
			return err
		}
		fmt.Printf("transaction %s posted\n", t.ID)
		return nil

	case "transfer":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		amount := fs.String("amount", "", "amount to move")
		date := fs.String("date", time.Now().Format("2006-01-02"), "transaction date")
		desc := fs.String("desc", "Transfer", "description")
		fs.Parse(args)
		if fs.NArg() < 2 || *amount == "" {
			return fmt.Errorf("usage: transfer -amount N <source-account> <dest-account>")
		}
		amt, err := decimal.NewFromString(*amount)
		if err != nil {
			return fmt.Errorf("parse amount: %w", err)
		}
		day, err := time.Parse("2006-01-02", *date)
		if err != nil {
			return fmt.Errorf("parse date: %w", err)
		}
		out, in, err := a.transactions.PostTransferPair(ctx, user, fs.Arg(0), fs.Arg(1), ledger.TransferInput{
			TransactionDate: day,
			Amount:          amt,
			Description:     *desc,
		})
		if err != nil {
			return err
		}
		fmt.Printf("transfer posted: %s -> %s\n", out.ID, in.ID)
		return nil

	case "delete-txn":
		if len(args) < 1 {
			return fmt.Errorf("usage: delete-txn <transaction-id>")
		}
		return a.transactions.DeleteTransaction(ctx, user, args[0])

	case "transactions":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		account := fs.String("account", "", "filter by account id")
		category := fs.String("category", "", "filter by category id")
		txType := fs.String("type", "", "filter by type")
		fs.Parse(args)
		txns, err := a.transactions.ListTransactions(ctx, user, store.TransactionFilter{
			AccountID:  *account,
			CategoryID: *category,
			Type:       core.TransactionType(*txType),
		})
		if err != nil {
			return err
		}
		for _, t := range txns {
			fmt.Printf("%s  %s  %-12s %10s %s  %q\n",
				t.ID, t.TransactionDate.Format("2006-01-02"), t.Type, t.Amount, t.Currency, t.Description)
		}
		return nil

	case "summary":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		from := fs.String("from", "", "start date (2006-01-02)")
		to := fs.String("to", "", "end date (2006-01-02)")
		fs.Parse(args)
		var fromT, toT time.Time
		var err error
		if *from != "" {
			if fromT, err = time.Parse("2006-01-02", *from); err != nil {
				return fmt.Errorf("parse from date: %w", err)
			}
		}
		if *to != "" {
			if toT, err = time.Parse("2006-01-02", *to); err != nil {
				return fmt.Errorf("parse to date: %w", err)
			}
		}
		summary, err := a.transactions.CategorySummary(ctx, user, fromT, toT)
		if err != nil {
			return err
		}
		fmt.Printf("total spent: %s\n", summary.Total)
		for _, ct := range summary.ByCategory {
			fmt.Printf("  %-30s %10s  %5.1f%%  (%d)\n", ct.Name, ct.Total, ct.Percent, ct.Count)
		}
		return nil

	case "add-category":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		parent := fs.String("parent", "", "parent category id")
		fs.Parse(args)
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: add-category [-parent id] <name>")
		}
		c, err := a.categories.CreateCategory(ctx, user, fs.Arg(0), *parent)
		if err != nil {
			return err
		}
		fmt.Printf("category %s created\n", c.ID)
		return nil

	case "delete-category":
		if len(args) < 1 {
			return fmt.Errorf("usage: delete-category <category-id>")
		}
		return a.categories.DeleteCategory(ctx, user, args[0])

	case "categories":
		cats, err := a.categories.ListSystemCategories(ctx)
		if err != nil {
			return err
		}
		for _, c := range cats {
			fmt.Printf("%-40s %s\n", c.ID, c.Name)
		}
		return nil

	case "add-rule":
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		field := fs.String("field", "description", "match field (description|merchant)")
		matchType := fs.String("match", "contains", "match type (exact|contains|regex)")
		priority := fs.Int("priority", 0, "rule priority, higher first")
		fs.Parse(args)
		if fs.NArg() < 2 {
			return fmt.Errorf("usage: add-rule [-field f] [-match m] <category-id> <pattern>")
		}
		rule, err := a.rules.CreateRule(ctx, user, core.CategoryRule{
			CategoryID: fs.Arg(0),
			Pattern:    fs.Arg(1),
			Field:      core.MatchField(*field),
			MatchType:  core.MatchType(*matchType),
			Priority:   *priority,
		})
		if err != nil {
			return err
		}
		fmt.Printf("rule %s created\n", rule.ID)
		return nil

	case "rules":
		rules, err := a.rules.ListRules(ctx, user)
		if err != nil {
			return err
		}
		for _, r := range rules {
			fmt.Printf("%s  p=%d  %s %s %q -> %s\n", r.ID, r.Priority, r.Field, r.MatchType, r.Pattern, r.CategoryID)
		}
		return nil

	case "delete-rule":
		if len(args) < 1 {
			return fmt.Errorf("usage: delete-rule <rule-id>")
		}
		return a.rules.DeleteRule(ctx, user, args[0])

	case "match":
		if len(args) < 1 {
			return fmt.Errorf("usage: match <description> [merchant]")
		}
		merchant := ""
		if len(args) > 1 {
			merchant = args[1]
		}
		categoryID, err := a.transactions.MatchCategory(ctx, user, args[0], merchant)
		if err != nil {
			return err
		}
		if categoryID == "" {
			fmt.Println("no match")
		} else {
			fmt.Println(categoryID)
		}
		return nil

	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fintrack <command> [flags]

accounts:      create-account
importing:     import, process, confirm, skip, batch, batches
transactions:  post, transfer, delete-txn, transactions, summary
categories:    add-category, delete-category, categories, add-rule, rules, delete-rule, match`)
}
