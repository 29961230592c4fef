// Package normalizer turns parsed rows into settlement transactions.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/parsers"
)

// DefaultCurrency is used when a row carries no currency.
const DefaultCurrency = "CHF"

type Result struct {
	Transactions []models.SettlementTransaction
	// Duplicates counts rows dropped because an earlier row of the file had the same bytes.
	Duplicates int
}

// Fingerprint identifies a row within its file by the sha256 of its raw bytes.
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Normalize assigns ids, the file reference and the currency default to rows.
// Byte-identical rows are dropped, keeping the first.
func Normalize(fileID uuid.UUID, source models.SourceKind, currency string, rows []parsers.Row) Result {
	if currency == "" {
		currency = DefaultCurrency
	}
	seen := make(map[string]struct{}, len(rows))
	res := Result{Transactions: make([]models.SettlementTransaction, 0, len(rows))}

	for _, row := range rows {
		fp := Fingerprint(row.Raw)
		if _, dup := seen[fp]; dup {
			res.Duplicates++
			continue
		}
		seen[fp] = struct{}{}

		ccy := strings.ToUpper(strings.TrimSpace(row.Currency))
		if ccy == "" {
			ccy = currency
		}
		net := row.NetAmount
		if net == 0 && row.FeeAmount == nil {
			net = row.GrossAmount
		}
		res.Transactions = append(res.Transactions, models.SettlementTransaction{
			ID:                    uuid.New(),
			FileID:                fileID,
			Source:                source,
			RowNumber:             row.RowNumber,
			ProviderTransactionID: row.ProviderTransactionID,
			GrossAmount:           row.GrossAmount,
			FeeAmount:             row.FeeAmount,
			NetAmount:             net,
			Currency:              ccy,
			Direction:             row.Direction,
			ValueDate:             row.ValueDate,
			Description:           strings.TrimSpace(row.Description),
			Fingerprint:           fp,
		})
	}
	return res
}
