package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keyproof/keyproofd/pkg/chainsearch"
	"github.com/keyproof/keyproofd/pkg/proof"
	"github.com/keyproof/keyproofd/pkg/sign"
)

// RecoveryRecord represents a verified recovery result in the database
type RecoveryRecord struct {
	ID            uint           `gorm:"primaryKey"`
	Address       string         `gorm:"column:address;type:varchar(42);not null;uniqueIndex"`
	PublicKey     string         `gorm:"column:public_key;type:varchar(132);not null"`
	Signature     string         `gorm:"column:signature;type:varchar(132);not null"`
	SourceChainID uint64         `gorm:"column:source_chain_id;not null"`
	TxHash        string         `gorm:"column:tx_hash;type:varchar(66);not null"`
	RecoveredAt   time.Time      `gorm:"column:recovered_at;not null"`
	Attempts      datatypes.JSON `gorm:"column:attempts"`
}

// TableName specifies the table name for the RecoveryRecord model
func (RecoveryRecord) TableName() string {
	return "recovery_results"
}

// RecoveryResultStore persists verified recovery results.
type RecoveryResultStore struct {
	db *gorm.DB
}

var _ proof.ResultStore = (*RecoveryResultStore)(nil)

// NewRecoveryResultStore creates a new RecoveryResultStore instance
func NewRecoveryResultStore(db *gorm.DB) *RecoveryResultStore {
	return &RecoveryResultStore{db: db}
}

// Save stores a verified result. Results are immutable: a second write for
// the same address is silently ignored.
func (s *RecoveryResultStore) Save(ctx context.Context, result *proof.RecoveryResult) error {
	attempts, err := json.Marshal(result.Attempts)
	if err != nil {
		return fmt.Errorf("failed to encode attempts: %w", err)
	}

	record := &RecoveryRecord{
		Address:       result.Address.String(),
		PublicKey:     hexutil.Encode(result.PublicKey.Bytes()),
		Signature:     result.Signature.String(),
		SourceChainID: result.SourceChainID,
		TxHash:        result.TxHash.Hex(),
		RecoveredAt:   result.RecoveredAt,
		Attempts:      attempts,
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "address"}}, DoNothing: true}).
		Create(record).Error
}

// LoadAll returns every stored result, oldest first, for cache warm-up.
func (s *RecoveryResultStore) LoadAll(ctx context.Context) ([]*proof.RecoveryResult, error) {
	var records []RecoveryRecord
	if err := s.db.WithContext(ctx).Order("recovered_at asc").Find(&records).Error; err != nil {
		return nil, err
	}

	results := make([]*proof.RecoveryResult, 0, len(records))
	for _, record := range records {
		result, err := record.toResult()
		if err != nil {
			return nil, fmt.Errorf("corrupt record for %s: %w", record.Address, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *RecoveryRecord) toResult() (*proof.RecoveryResult, error) {
	addr, err := sign.AddressFromHex(r.Address)
	if err != nil {
		return nil, err
	}
	rawKey, err := hexutil.Decode(r.PublicKey)
	if err != nil {
		return nil, err
	}
	pk, err := sign.PublicKeyFromBytes(rawKey)
	if err != nil {
		return nil, err
	}
	sig, err := sign.ParseSignatureHex(r.Signature)
	if err != nil {
		return nil, err
	}

	var attempts []chainsearch.SearchAttempt
	if len(r.Attempts) > 0 {
		if err := json.Unmarshal(r.Attempts, &attempts); err != nil {
			return nil, err
		}
	}

	return &proof.RecoveryResult{
		Address:       addr,
		PublicKey:     pk,
		Signature:     sig,
		SourceChainID: r.SourceChainID,
		TxHash:        common.HexToHash(r.TxHash),
		RecoveredAt:   r.RecoveredAt,
		Attempts:      attempts,
	}, nil
}
