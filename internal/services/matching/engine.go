package matching

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/parsers"
)

var (
	amountWeight = decimal.NewFromFloat(0.7)
	dateWeight   = decimal.NewFromFloat(0.3)
	hundred      = decimal.NewFromInt(100)
)

// Config holds the scoring knobs. Zero values are replaced by the defaults.
type Config struct {
	DateWindowDays       int
	AmountTolerancePct   decimal.Decimal
	AmountToleranceMinor int64
	MinConfidence        int
	Location             *time.Location
	PaymentMethods       map[models.SourceKind][]string
}

func DefaultPaymentMethods() map[models.SourceKind][]string {
	return map[models.SourceKind][]string{
		models.SourceSumUp:       {"sumup", "card"},
		models.SourceTwint:       {"twint"},
		models.SourceBankCamt053: {"bank_transfer", "invoice"},
	}
}

func DefaultConfig() Config {
	return Config{
		DateWindowDays:       2,
		AmountTolerancePct:   decimal.NewFromFloat(0.05),
		AmountToleranceMinor: 500,
		MinConfidence:        40,
		Location:             parsers.DefaultLocation,
		PaymentMethods:       DefaultPaymentMethods(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DateWindowDays <= 0 {
		c.DateWindowDays = d.DateWindowDays
	}
	if !c.AmountTolerancePct.IsPositive() {
		c.AmountTolerancePct = d.AmountTolerancePct
	}
	if c.AmountToleranceMinor <= 0 {
		c.AmountToleranceMinor = d.AmountToleranceMinor
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	if len(c.PaymentMethods) == 0 {
		c.PaymentMethods = d.PaymentMethods
	}
	return c
}

// Engine scores a settlement transaction against POS records. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Window returns the date window in days.
func (e *Engine) Window() int {
	return e.cfg.DateWindowDays
}

// Methods returns the POS payment methods compatible with source.
func (e *Engine) Methods(source models.SourceKind) []string {
	return append([]string(nil), e.cfg.PaymentMethods[source]...)
}

// Compatible reports whether pos could settle txn at all: payment method and
// kind fit the transaction, and the record is still pending.
func (e *Engine) Compatible(txn models.SettlementTransaction, pos models.POSRecord) bool {
	if pos.SettlementStatus != models.SettlementPending {
		return false
	}
	switch txn.Direction {
	case models.DirectionCredit:
		if pos.Kind != models.POSKindSale {
			return false
		}
	case models.DirectionDebit:
		if pos.Kind != models.POSKindExpense {
			return false
		}
	default:
		return false
	}
	for _, m := range e.cfg.PaymentMethods[txn.Source] {
		if strings.EqualFold(m, pos.PaymentMethod) {
			return true
		}
	}
	return false
}

// DayDistance is the number of calendar days between the POS timestamp and the value date.
func (e *Engine) DayDistance(txn models.SettlementTransaction, pos models.POSRecord) int {
	posDay := parsers.CalendarDate(pos.Timestamp, e.cfg.Location)
	days := int(posDay.Sub(txn.ValueDay()).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// Score computes the confidence of pairing txn with pos without checking eligibility.
func (e *Engine) Score(txn models.SettlementTransaction, pos models.POSRecord) models.MatchCandidate {
	variance := txn.GrossAmount - pos.Amount
	if variance < 0 {
		variance = -variance
	}

	amountScore := hundred
	if variance != 0 {
		tolerance := decimal.NewFromInt(pos.Amount).Abs().Mul(e.cfg.AmountTolerancePct)
		if floor := decimal.NewFromInt(e.cfg.AmountToleranceMinor); tolerance.LessThan(floor) {
			tolerance = floor
		}
		amountScore = hundred.Sub(hundred.Mul(decimal.NewFromInt(variance)).Div(tolerance))
		if amountScore.IsNegative() {
			amountScore = decimal.Zero
		}
	}

	days := e.DayDistance(txn, pos)
	window := decimal.NewFromInt(int64(e.cfg.DateWindowDays))
	dateScore := hundred.Sub(hundred.Mul(decimal.NewFromInt(int64(days))).Div(window))
	if dateScore.IsNegative() {
		dateScore = decimal.Zero
	}

	confidence := amountWeight.Mul(amountScore).Add(dateWeight.Mul(dateScore)).Round(0).IntPart()

	return models.MatchCandidate{
		SettlementTransactionID: txn.ID,
		POSRecordID:             pos.ID,
		MatchType:               models.MatchApproximate,
		Confidence:              int(confidence),
		Variance:                variance,
		AmountScore:             amountScore.Round(2).InexactFloat64(),
		DateScore:               dateScore.Round(2).InexactFloat64(),
		DayDistance:             days,
		POSAmount:               pos.Amount,
		POSTimestamp:            pos.Timestamp,
	}
}

// Match returns the candidates for txn in pool, best first. Candidates below
// the confidence floor are dropped. The best candidate is exact when it scores
// 100 and no other record does.
func (e *Engine) Match(txn models.SettlementTransaction, pool []models.POSRecord) []models.MatchCandidate {
	var candidates []models.MatchCandidate
	for _, pos := range pool {
		if !e.Compatible(txn, pos) {
			continue
		}
		if e.DayDistance(txn, pos) > e.cfg.DateWindowDays {
			continue
		}
		c := e.Score(txn, pos)
		if c.Confidence < e.cfg.MinConfidence {
			continue
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.DayDistance != b.DayDistance {
			return a.DayDistance < b.DayDistance
		}
		if a.Variance != b.Variance {
			return a.Variance < b.Variance
		}
		return a.POSRecordID.String() < b.POSRecordID.String()
	})

	if len(candidates) > 0 && candidates[0].Confidence == 100 &&
		(len(candidates) == 1 || candidates[1].Confidence < 100) {
		candidates[0].MatchType = models.MatchExact
	}
	return candidates
}
