package parsers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"settlement-reconciliation-engine/internal/apperror"
	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/money"
)

// Logical CSV columns shared by the card and wallet layouts.
const (
	colID          = "id"
	colDate        = "date"
	colAmount      = "amount"
	colFee         = "fee"
	colNet         = "net"
	colType        = "type"
	colStatus      = "status"
	colDescription = "description"
	colCurrency    = "currency"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// csvLayout describes one provider's header aliases and row semantics.
type csvLayout struct {
	provider   models.SourceKind
	columns    map[string][]string
	required   []string
	signatures []string
	// contains marks the provider when any header cell contains it.
	contains     string
	debitTypes   []string
	skipStatuses []string
}

// csvEngine is the shared reader behind the SumUp and TWINT parsers.
type csvEngine struct {
	layout csvLayout
	opts   Options
}

// decodeText strips a UTF-8 BOM and decodes legacy Windows-1252 exports.
func decodeText(raw []byte) []byte {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if utf8.Valid(raw) {
		return raw
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// sniffDelimiter picks the most frequent of ; , and tab in the header line.
func sniffDelimiter(text []byte) rune {
	line := text
	if i := bytes.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{';', ',', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.Trim(strings.TrimSpace(h), `"`)
	return strings.Join(strings.Fields(strings.ToLower(h)), " ")
}

func headerLine(raw []byte) []string {
	text := decodeText(raw)
	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = sniffDelimiter(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rec, err := r.Read()
	if err != nil {
		return nil
	}
	out := make([]string, len(rec))
	for i, h := range rec {
		out[i] = normalizeHeader(h)
	}
	return out
}

func (e *csvEngine) sniff(raw []byte) bool {
	header := headerLine(raw)
	if len(header) < 2 {
		return false
	}
	for _, h := range header {
		if e.layout.contains != "" && strings.Contains(h, e.layout.contains) {
			return true
		}
		for _, sig := range e.layout.signatures {
			if h == sig {
				return true
			}
		}
	}
	return false
}

// resolve maps logical columns to header positions.
func (e *csvEngine) resolve(header []string) (map[string]int, error) {
	idx := make(map[string]int)
	for logical, aliases := range e.layout.columns {
		for _, alias := range aliases {
			found := false
			for i, h := range header {
				if h == alias {
					idx[logical] = i
					found = true
					break
				}
			}
			if found {
				break
			}
		}
	}
	for _, req := range e.layout.required {
		if _, ok := idx[req]; !ok {
			return nil, apperror.Newf(apperror.CodeUnsupportedFormat,
				"%s layout not recognized: missing %s column", e.layout.provider, req).
				WithDetail("provider", string(e.layout.provider)).
				WithDetail("column", req)
		}
	}
	return idx, nil
}

func (e *csvEngine) parse(raw []byte) (*Output, error) {
	text := decodeText(raw)
	if len(bytes.TrimSpace(text)) == 0 {
		return nil, apperror.New(apperror.CodeMalformedFile, "empty file").
			WithDetail("provider", string(e.layout.provider))
	}

	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = sniffDelimiter(text)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, e.malformed(err)
	}
	for i := range header {
		header[i] = normalizeHeader(header[i])
	}
	idx, err := e.resolve(header)
	if err != nil {
		return nil, err
	}

	out := &Output{Source: e.layout.provider}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, e.malformed(err)
		}
		line, _ := r.FieldPos(0)
		if strings.TrimSpace(strings.Join(rec, "")) == "" {
			continue
		}
		row, warn := e.parseRecord(rec, idx, line)
		if warn != nil {
			out.Warnings = append(out.Warnings, *warn)
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func (e *csvEngine) malformed(err error) error {
	appErr := apperror.Wrap(apperror.CodeMalformedFile, fmt.Sprintf("reading %s CSV", e.layout.provider), err).
		WithDetail("provider", string(e.layout.provider))
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		appErr.WithDetail("row", pe.Line)
	}
	return appErr
}

func field(rec []string, idx map[string]int, col string) (string, bool) {
	i, ok := idx[col]
	if !ok || i >= len(rec) {
		return "", false
	}
	return strings.TrimSpace(rec[i]), true
}

func containsFold(values []string, v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, candidate := range values {
		if strings.Contains(v, candidate) {
			return true
		}
	}
	return false
}

func (e *csvEngine) parseRecord(rec []string, idx map[string]int, line int) (Row, *models.RowWarning) {
	p := e.layout.provider
	ref, _ := field(rec, idx, colID)
	warn := func(column, msg string) (Row, *models.RowWarning) {
		w := warning(p, line, column, ref, msg)
		return Row{}, &w
	}

	for _, req := range e.layout.required {
		if i := idx[req]; i >= len(rec) {
			return warn(req, fmt.Sprintf("row has %d columns, %s column missing", len(rec), req))
		}
	}

	if status, ok := field(rec, idx, colStatus); ok && containsFold(e.layout.skipStatuses, status) {
		return warn(colStatus, fmt.Sprintf("skipped %q transaction", status))
	}
	if ccy, ok := field(rec, idx, colCurrency); ok && ccy != "" && !strings.EqualFold(ccy, e.opts.currency()) {
		return warn(colCurrency, fmt.Sprintf("unsupported currency %q", ccy))
	}

	dateStr, _ := field(rec, idx, colDate)
	date, err := parseDate(dateStr, e.opts.location())
	if err != nil {
		return warn(colDate, err.Error())
	}

	amountStr, _ := field(rec, idx, colAmount)
	amount, err := money.ParseMinor(amountStr)
	if err != nil {
		return warn(colAmount, err.Error())
	}

	direction := models.DirectionCredit
	if amount < 0 {
		direction = models.DirectionDebit
	}
	if typ, ok := field(rec, idx, colType); ok && containsFold(e.layout.debitTypes, typ) {
		direction = models.DirectionDebit
	}
	gross := money.Abs(amount)

	var fee *int64
	if feeStr, ok := field(rec, idx, colFee); ok && feeStr != "" {
		f, err := money.ParseMinor(feeStr)
		if err != nil {
			return warn(colFee, err.Error())
		}
		f = money.Abs(f)
		fee = &f
	} else if netStr, ok := field(rec, idx, colNet); ok && netStr != "" {
		n, err := money.ParseMinor(netStr)
		if err != nil {
			return warn(colNet, err.Error())
		}
		if f := gross - money.Abs(n); f >= 0 {
			fee = &f
		}
	}
	net := gross
	if fee != nil {
		net = gross - *fee
	}

	desc, _ := field(rec, idx, colDescription)
	return Row{
		RowNumber:             line,
		ProviderTransactionID: strPtr(ref),
		GrossAmount:           gross,
		FeeAmount:             fee,
		NetAmount:             net,
		Currency:              e.opts.currency(),
		Direction:             direction,
		ValueDate:             date,
		Description:           desc,
		Raw:                   []byte(strings.Join(rec, "\x1f")),
	}, nil
}
