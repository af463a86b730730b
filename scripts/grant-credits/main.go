/**
 * @description
 * Script to grant (or revoke) credits on an account by its identity key.
 * Useful for support adjustments and for topping up test accounts without
 * going through a real checkout.
 *
 * Usage:
 *   go run ./scripts/grant-credits <identity-key> <delta>
 *
 * Example:
 *   go run ./scripts/grant-credits 1b4e28ba-2fa1-11d2-883f-0016d3cca427 50
 *
 * @dependencies
 * - Go 1.21+
 * - Environment variables: DATABASE_URL
 */

package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/themutherfvcker/credit-service/internal/domain"
	"github.com/themutherfvcker/credit-service/internal/store"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Println("Usage: go run ./scripts/grant-credits <identity-key> <delta>")
		fmt.Println("Example: go run ./scripts/grant-credits 1b4e28ba-2fa1-11d2-883f-0016d3cca427 50")
		os.Exit(1)
	}

	identityKey := os.Args[1]
	delta, err := strconv.ParseInt(os.Args[2], 10, 64)
	if err != nil || delta == 0 {
		log.Fatalf("delta must be a non-zero integer, got %q", os.Args[2])
	}

	// Load environment variables from .env file if it exists
	loadEnvFile("../.env")
	loadEnvFile(".env")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbpool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbpool.Close()

	repo := store.NewPostgresRepository(dbpool)

	// Show the account before touching it
	account, err := repo.FindAccountByIdentity(ctx, identityKey)
	if err != nil {
		log.Fatalf("Failed to find account: %v", err)
	}

	fmt.Printf("Account Details:\n")
	fmt.Printf("  ID: %s\n", account.ID)
	fmt.Printf("  Balance: %d\n", account.Balance)
	fmt.Printf("  Plan: %s\n", account.Plan)

	fmt.Printf("\nApply adjustment of %+d credits? (yes/no): ", delta)
	var confirmation string
	fmt.Scanln(&confirmation)

	if confirmation != "yes" {
		fmt.Println("Adjustment cancelled.")
		os.Exit(0)
	}

	var balance int64
	if delta > 0 {
		balance, err = repo.Credit(ctx, account.ID, delta, domain.ReasonAdjustManual, nil)
	} else {
		balance, _, err = repo.Debit(ctx, account.ID, -delta, domain.ReasonAdjustManual, nil)
	}
	if err != nil {
		log.Fatalf("Failed to apply adjustment: %v", err)
	}

	fmt.Printf("Applied %+d credits. New balance: %d\n", delta, balance)
}

// loadEnvFile loads environment variables from a .env file
func loadEnvFile(filename string) {
	file, err := os.Open(filename)
	if err != nil {
		return // File doesn't exist, that's okay
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			// Remove quotes if present
			value = strings.Trim(value, "\"'")
			os.Setenv(key, value)
		}
	}
}
