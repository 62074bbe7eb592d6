// grant-credits adds credits to a user's balance from the command line.
//
// Usage:
//
//	grant-credits -user u_123 -package pro -key order-991
//	grant-credits -user u_123 -amount 25 -source promotional -description "support goodwill"
//	grant-credits -user u_123 -show
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/charge"
	"github.com/jobboard/aicredits/internal/config"
	"github.com/jobboard/aicredits/internal/guest"
	"github.com/jobboard/aicredits/internal/logger"
	"github.com/jobboard/aicredits/internal/migration"
	"github.com/jobboard/aicredits/internal/models"
	"github.com/jobboard/aicredits/internal/policy"
	"github.com/jobboard/aicredits/internal/storage"
)

func main() {
	var (
		userID      = flag.String("user", "", "user id to credit (required)")
		amount      = flag.Int64("amount", 0, "credits to grant")
		source      = flag.String("source", string(models.TransactionPromotional), "purchase, signup_bonus, promotional or refund")
		pkg         = flag.String("package", "", "grant a named package instead of an amount")
		description = flag.String("description", "", "ledger description")
		key         = flag.String("key", "", "idempotency key; a repeated key grants nothing")
		show        = flag.Bool("show", false, "print balance and recent transactions only")
	)
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "ERROR: -user is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadForTools()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zl, err := logger.New("warn")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to build logger: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.NewDB(storage.DBConfig{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.URL,
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := migration.RunMigrations(db.Conn().DB, cfg.Database.Driver); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Failed to run migrations: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo := db.NewBalanceRepository()

	if *show {
		if err := printLedger(ctx, repo, *userID); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
		return
	}

	pol, err := buildPolicy(cfg, zl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	coord := charge.NewCoordinator(repo, pol, guest.NewTracker(pol.GuestAllotment(), false), nil, zl)

	var res *storage.GrantResult
	if *pkg != "" {
		res, err = coord.GrantPackage(ctx, *userID, *pkg, *key)
	} else {
		var src models.TransactionType
		src, err = models.ParseGrantSource(*source)
		if err == nil {
			res, err = coord.Grant(ctx, *userID, models.Credits(*amount), src, *description, *key)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Grant failed: %v\n", err)
		os.Exit(1)
	}

	if !res.Applied {
		fmt.Printf("INFO: Key %q was already used; nothing granted\n", *key)
	} else {
		fmt.Println("SUCCESS: Credits granted")
	}
	fmt.Printf("User:    %s\n", *userID)
	fmt.Printf("Balance: %d\n", res.Balance)
}

func buildPolicy(cfg *config.Config, zl *zap.Logger) (*policy.Policy, error) {
	pf, err := config.LoadPolicyFile(cfg.CreditsFile)
	if err != nil {
		return nil, err
	}
	return policy.New(policy.Config{
		FeatureCosts:   pf.FeatureCostTable(),
		Packages:       pf.PackageTable(),
		SignupBonus:    models.Credits(pf.SignupBonus),
		GuestAllotment: models.Credits(pf.GuestAllotment),
	}, zl)
}

func printLedger(ctx context.Context, repo *storage.BalanceRepository, userID string) error {
	balance, err := repo.GetBalance(ctx, userID)
	if err != nil {
		return err
	}
	txns, err := repo.ListTransactions(ctx, userID, 20, 0)
	if err != nil {
		return err
	}

	fmt.Printf("User:    %s\n", userID)
	fmt.Printf("Balance: %d\n", balance)
	if len(txns) == 0 {
		fmt.Println("No transactions")
		return nil
	}
	fmt.Println("Recent transactions:")
	for _, t := range txns {
		fmt.Printf("  %s  %+6d  %-13s %s\n", t.CreatedAt.Format(time.RFC3339), t.Amount, t.Type, t.Description)
	}
	return nil
}
