package normalizer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/parsers"
)

func TestNormalize_DropsDuplicateRows(t *testing.T) {
	fileID := uuid.New()
	date := time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC)
	fee := int64(110)
	rows := []parsers.Row{
		{RowNumber: 2, GrossAmount: 6550, FeeAmount: &fee, NetAmount: 6440, Direction: models.DirectionCredit, ValueDate: date, Raw: []byte("TX-1|65.50")},
		{RowNumber: 3, GrossAmount: 6550, FeeAmount: &fee, NetAmount: 6440, Direction: models.DirectionCredit, ValueDate: date, Raw: []byte("TX-1|65.50")},
		{RowNumber: 4, GrossAmount: 1200, Currency: "chf", Direction: models.DirectionDebit, ValueDate: date, Description: "  refund ", Raw: []byte("TX-2|-12.00")},
	}

	res := Normalize(fileID, models.SourceSumUp, "", rows)
	require.Len(t, res.Transactions, 2)
	assert.Equal(t, 1, res.Duplicates)

	first := res.Transactions[0]
	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.Equal(t, fileID, first.FileID)
	assert.Equal(t, models.SourceSumUp, first.Source)
	assert.Equal(t, 2, first.RowNumber)
	assert.Equal(t, "CHF", first.Currency)
	assert.Equal(t, Fingerprint([]byte("TX-1|65.50")), first.Fingerprint)
	assert.Len(t, first.Fingerprint, 64)

	second := res.Transactions[1]
	assert.Equal(t, 4, second.RowNumber)
	assert.Equal(t, "CHF", second.Currency)
	assert.Equal(t, int64(1200), second.NetAmount)
	assert.Equal(t, "refund", second.Description)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestNormalize_Empty(t *testing.T) {
	res := Normalize(uuid.New(), models.SourceTwint, "EUR", nil)
	assert.Empty(t, res.Transactions)
	assert.Zero(t, res.Duplicates)
}
