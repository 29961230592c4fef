package parsers

import "settlement-reconciliation-engine/internal/models"

// TwintParser parses TWINT merchant portal settlement CSV exports.
type TwintParser struct {
	engine csvEngine
}

var twintLayout = csvLayout{
	provider: models.SourceTwint,
	columns: map[string][]string{
		colID:          {"order id", "auftrags-id", "transaction id", "transaktions-id"},
		colDate:        {"transaction date", "transaktionsdatum", "date", "datum"},
		colAmount:      {"amount", "betrag", "transaction amount", "transaktionsbetrag"},
		colFee:         {"fee", "gebühr", "gebuehr", "commission", "kommission"},
		colNet:         {"settlement amount", "gutschriftsbetrag", "net amount", "nettobetrag"},
		colType:        {"transaction type", "transaktionsart", "type", "typ"},
		colStatus:      {"status"},
		colDescription: {"merchant reference", "händlerreferenz", "store", "filiale"},
		colCurrency:    {"currency", "währung", "waehrung"},
	},
	required:     []string{colID, colDate, colAmount},
	signatures:   []string{"order id", "auftrags-id", "settlement amount", "gutschriftsbetrag", "transaktionsart"},
	contains:     "twint",
	debitTypes:   []string{"refund", "rückerstattung", "rueckerstattung", "reversal", "storno"},
	skipStatuses: []string{"failed", "fehlgeschlagen", "cancel", "abgebrochen", "declined", "abgelehnt"},
}

func NewTwintParser(opts Options) *TwintParser {
	return &TwintParser{engine: csvEngine{layout: twintLayout, opts: opts}}
}

func (p *TwintParser) Source() models.SourceKind { return models.SourceTwint }

func (p *TwintParser) Extension() string { return ".csv" }

func (p *TwintParser) Sniff(raw []byte) bool { return p.engine.sniff(raw) }

func (p *TwintParser) Parse(raw []byte) (*Output, error) { return p.engine.parse(raw) }
