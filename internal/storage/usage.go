package storage

import (
	"strings"
	"time"
)

// PaymentUsage records that an on-chain transaction has been consumed to
// unlock a piece of content. The pair (TransactionID, ContentID) is the
// replay-protection key: one transaction unlocks one content resource once.
type PaymentUsage struct {
	TransactionID string            `json:"transactionId" bson:"transaction_id"`
	ContentID     string            `json:"contentId" bson:"content_id"`
	UserAddress   string            `json:"userAddress" bson:"user_address"`
	Amount        string            `json:"amount" bson:"amount"` // atomic stablecoin units, decimal string
	ConsumedAt    time.Time         `json:"consumedAt" bson:"consumed_at"`
	Metadata      map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// NormalizeTxID lowercases a transaction hash so that checksummed and
// lowercase hex spellings of the same hash share one usage record.
func NormalizeTxID(txID string) string {
	return strings.ToLower(strings.TrimSpace(txID))
}

// usageKey builds the composite map key used by the in-memory store.
func usageKey(txID, contentID string) string {
	return NormalizeTxID(txID) + ":" + contentID
}
