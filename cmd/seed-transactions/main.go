package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/txsummary/config"
	"github.com/mmdatafocus/txsummary/models"
)

// seed-transactions fills the transactions table with synthetic data for
// local development against sqlite or a scratch MySQL.
func main() {
	merchants := flag.Int("merchants", 3, "Number of merchants to create")
	perMerchant := flag.Int("per-merchant", 200, "Transactions per merchant")
	days := flag.Int("days", 90, "Spread transactions over the last N days")
	missing := flag.Int("missing-created-at", 5, "Transactions per merchant without created_at")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := config.ConnectDatabaseWithRetry(ctx, settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database not available: %v\n", err)
		os.Exit(1)
	}
	if err := models.MigrateTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	store := models.NewStore(db)
	defer store.Close()

	rng := rand.New(rand.NewSource(*seed))
	statuses := []string{"success", "success", "success", "failed", "refunded"}
	now := time.Now().UTC()

	for i := 0; i < *merchants; i++ {
		merchantId := uuid.NewString()
		txs := make([]models.Transaction, 0, *perMerchant+*missing)
		for j := 0; j < *perMerchant; j++ {
			createdAt := now.Add(-time.Duration(rng.Int63n(int64(*days) * int64(24*time.Hour)))).Truncate(time.Second)
			txs = append(txs, models.Transaction{
				MerchantId: &merchantId,
				Amount:     decimal.New(rng.Int63n(10_000_000), -2),
				CreatedAt:  &createdAt,
				Status:     statuses[rng.Intn(len(statuses))],
			})
		}
		for j := 0; j < *missing; j++ {
			txs = append(txs, models.Transaction{
				MerchantId: &merchantId,
				Amount:     decimal.New(rng.Int63n(10_000), -2),
				Status:     "success",
			})
		}
		if err := store.InsertTransactions(ctx, txs); err != nil {
			fmt.Fprintf(os.Stderr, "merchant %s: insert failed: %v\n", merchantId, err)
			os.Exit(1)
		}
		fmt.Printf("seeded merchant=%s transactions=%d\n", merchantId, len(txs))
	}
	fmt.Println("Seed complete")
}
