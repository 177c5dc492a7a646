// Package ledger defines the financial transactions that get clustered.
package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one ledger entry. Withdrawal is money going out, Deposit
// money coming in; a row normally carries only one of them.
type Transaction struct {
	ID           string          `json:"id" yaml:"id"`
	Date         time.Time       `json:"date" yaml:"date"`
	Description  string          `json:"description" yaml:"description"`
	Category     string          `json:"category,omitempty" yaml:"category,omitempty"`
	Counterparty string          `json:"counterparty,omitempty" yaml:"counterparty,omitempty"`
	Withdrawal   decimal.Decimal `json:"withdrawal" yaml:"withdrawal"`
	Deposit      decimal.Decimal `json:"deposit" yaml:"deposit"`
	// Embedding is the JSON text of the description's embedding, empty
	// until one has been generated.
	Embedding string `json:"-" yaml:"-"`
}

// HasEmbedding reports whether an embedding has been stored.
func (t Transaction) HasEmbedding() bool {
	return t.Embedding != ""
}

// Net returns deposit minus withdrawal.
func (t Transaction) Net() decimal.Decimal {
	return t.Deposit.Sub(t.Withdrawal)
}

// Fingerprint identifies a point set together with the parameters a run
// was computed with. Equal fingerprints give equal clustering results.
func Fingerprint(ids []string, vectors [][]float64, params ...float64) string {
	h := sha256.New()
	var buf [8]byte
	for i, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		if i < len(vectors) {
			for _, x := range vectors[i] {
				binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
				h.Write(buf[:])
			}
		}
	}
	for _, p := range params {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
