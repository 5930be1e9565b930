package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sabalioglu/ai-ugc/internal/infra"
	"github.com/sabalioglu/ai-ugc/internal/ledger"
	"github.com/sabalioglu/ai-ugc/internal/sqlinline"
)

func main() {
	var (
		userFlag   string
		amountFlag int
		showFlag   bool
	)

	flag.StringVar(&userFlag, "user", "", "user id (JWT subject) to credit")
	flag.IntVar(&amountFlag, "amount", 0, "credits to add to the balance")
	flag.BoolVar(&showFlag, "show", false, "print the current balance without changing it")
	flag.Parse()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}
	if !showFlag && amountFlag <= 0 {
		exitWithError(errors.New("-amount must be positive"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", "credits")
	runner := infra.NewSQLRunner(pool, logger)
	if err := infra.ApplySchema(ctx, runner, sqlinline.QSchema); err != nil {
		exitWithError(err)
	}
	credits := ledger.NewPostgres(runner)

	if showFlag {
		balance, err := credits.Balance(ctx, userID)
		if err != nil {
			exitWithError(fmt.Errorf("failed to read balance: %w", err))
		}
		fmt.Printf("user %s balance=%d\n", userID, balance)
		return
	}

	balance, err := credits.Grant(ctx, userID, amountFlag)
	if err != nil {
		exitWithError(fmt.Errorf("failed to grant credits: %w", err))
	}
	fmt.Printf("user %s credited %d, balance=%d\n", userID, amountFlag, balance)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
