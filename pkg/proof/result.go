package proof

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/keyproof/keyproofd/pkg/chainsearch"
	"github.com/keyproof/keyproofd/pkg/sign"
)

// RecoveryResult is a verified address-to-key binding together with the
// transaction that proves it. Results are immutable once produced; callers
// must not modify the attempt slice.
type RecoveryResult struct {
	Address       sign.Address                `json:"address"`
	PublicKey     sign.PublicKey              `json:"public_key"`
	Signature     sign.Signature              `json:"signature"`
	SourceChainID uint64                      `json:"source_chain_id"`
	TxHash        common.Hash                 `json:"tx_hash"`
	RecoveredAt   time.Time                   `json:"recovered_at"`
	Attempts      []chainsearch.SearchAttempt `json:"attempts,omitempty"`
}
