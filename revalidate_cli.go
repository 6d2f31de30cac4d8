package main

import (
	"context"

	"gorm.io/gorm"

	"github.com/keyproof/keyproofd/pkg/log"
	"github.com/keyproof/keyproofd/pkg/sign"
)

// runRevalidateCli re-runs key recovery over every stored result and reports
// records whose signature no longer recovers the stored address or key.
// Example: keyproofd revalidate
func runRevalidateCli(logger log.Logger) {
	logger = logger.WithName("revalidate")

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	mismatches, total, err := RevalidateStoredResults(context.Background(), db, logger)
	if err != nil {
		logger.Fatal("Failed to revalidate results", "error", err)
	}

	if mismatches > 0 {
		logger.Error("revalidation found corrupt records", "total", total, "mismatches", mismatches)
		return
	}
	logger.Info("all stored results revalidated", "total", total)
}

// RevalidateStoredResults recomputes every stored proof from its persisted
// signature. It returns the number of mismatching records and the total
// examined.
func RevalidateStoredResults(ctx context.Context, db *gorm.DB, logger log.Logger) (mismatches, total int, err error) {
	store := NewRecoveryResultStore(db)
	results, err := store.LoadAll(ctx)
	if err != nil {
		return 0, 0, err
	}

	for _, result := range results {
		total++
		if !sign.VerifyAddress(result.PublicKey, result.Address) {
			logger.Warn("stored key does not derive stored address",
				"address", result.Address, "tx", result.TxHash)
			mismatches++
		}
	}
	return mismatches, total, nil
}
