package parsers

import "settlement-reconciliation-engine/internal/models"

// SumUpParser parses SumUp transaction report CSV exports (English or German headers).
type SumUpParser struct {
	engine csvEngine
}

var sumUpLayout = csvLayout{
	provider: models.SourceSumUp,
	columns: map[string][]string{
		colID:          {"transaction code", "transaktionscode", "transaction id", "transaktions-id"},
		colDate:        {"date", "datum", "transaction date", "transaktionsdatum"},
		colAmount:      {"total amount", "gesamtbetrag", "amount", "betrag"},
		colFee:         {"fee", "gebühr", "gebuehr", "transaction fee", "transaktionsgebühr"},
		colNet:         {"payout", "auszahlung", "net amount", "nettobetrag"},
		colType:        {"type", "typ", "transaction type", "transaktionstyp"},
		colStatus:      {"status"},
		colDescription: {"description", "beschreibung", "card type", "kartentyp", "payment method", "zahlungsart"},
		colCurrency:    {"currency", "währung", "waehrung"},
	},
	required:     []string{colID, colDate, colAmount},
	signatures:   []string{"transaction code", "transaktionscode", "payout", "auszahlung"},
	debitTypes:   []string{"refund", "erstattung", "chargeback", "rückbuchung"},
	skipStatuses: []string{"failed", "fehlgeschlagen", "cancel", "storniert", "declined", "abgelehnt"},
}

func NewSumUpParser(opts Options) *SumUpParser {
	return &SumUpParser{engine: csvEngine{layout: sumUpLayout, opts: opts}}
}

func (p *SumUpParser) Source() models.SourceKind { return models.SourceSumUp }

func (p *SumUpParser) Extension() string { return ".csv" }

func (p *SumUpParser) Sniff(raw []byte) bool { return p.engine.sniff(raw) }

func (p *SumUpParser) Parse(raw []byte) (*Output, error) { return p.engine.parse(raw) }
