package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"github.com/keyproof/keyproofd/pkg/log"
)

// ExportOptions contains options for exporting recovery results
type ExportOptions struct {
	Address   string
	OutputDir string
}

// ResultExporter handles exporting verified recovery results to CSV
type ResultExporter struct {
	db *gorm.DB
}

// NewResultExporter creates a new result exporter
func NewResultExporter(db *gorm.DB) *ResultExporter {
	return &ResultExporter{db: db}
}

// ExportToCSV exports recovery results to CSV format
func (e *ResultExporter) ExportToCSV(writer io.Writer, options ExportOptions) error {
	query := e.db.Model(&RecoveryRecord{}).Order("recovered_at asc")
	if options.Address != "" {
		query = query.Where("address = ?", options.Address)
	}

	var records []RecoveryRecord
	if err := query.Find(&records).Error; err != nil {
		return fmt.Errorf("failed to get recovery results: %w", err)
	}

	csvWriter := csv.NewWriter(writer)
	defer csvWriter.Flush()

	// Write header
	header := []string{"Address", "PublicKey", "Signature", "SourceChainID", "TxHash", "RecoveredAt"}
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write header to CSV: %w", err)
	}

	// Write results
	for _, record := range records {
		row := []string{
			record.Address,
			record.PublicKey,
			record.Signature,
			fmt.Sprintf("%d", record.SourceChainID),
			record.TxHash,
			record.RecoveredAt.Format(time.RFC3339),
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write row to CSV: %w", err)
		}
	}
	return nil
}

// ExportToFile exports recovery results to a CSV file
func (e *ResultExporter) ExportToFile(options ExportOptions) (string, error) {
	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", options.OutputDir, err)
	}

	name := "all"
	if options.Address != "" {
		name = options.Address
	}
	fileName := filepath.Join(options.OutputDir, fmt.Sprintf("recovery_results_%s.csv", name))
	file, err := os.Create(fileName)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file %s: %w", fileName, err)
	}
	defer file.Close()

	if err := e.ExportToCSV(file, options); err != nil {
		return "", fmt.Errorf("failed to export to CSV: %w", err)
	}

	return fileName, nil
}

func runExportResultsCli(logger log.Logger) {
	logger = logger.WithName("export-results")
	if len(os.Args) > 3 {
		logger.Fatal("Usage: keyproofd export-results [address]")
	}

	var address string
	if len(os.Args) == 3 {
		address = os.Args[2]
	}

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	db, err := ConnectToDB(config.dbConf)
	if err != nil {
		logger.Fatal("Failed to setup database", "error", err)
	}

	exporter := NewResultExporter(db)
	fileName, err := exporter.ExportToFile(ExportOptions{Address: address, OutputDir: "."})
	if err != nil {
		logger.Fatal("failed to export results", "error", err)
	}
	logger.Info("exported recovery results", "file", fileName)
}
