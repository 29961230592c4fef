package parsers

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"settlement-reconciliation-engine/internal/apperror"
	"settlement-reconciliation-engine/internal/models"
	"settlement-reconciliation-engine/internal/money"
)

const camt053Namespace = "urn:iso:std:iso:20022:tech:xsd:camt.053."

// Camt053Parser parses ISO 20022 camt.053 bank-to-customer statements.
// Element names are matched without namespace so that .001.02 through .001.08 decode alike.
type Camt053Parser struct {
	opts Options
}

func NewCamt053Parser(opts Options) *Camt053Parser {
	return &Camt053Parser{opts: opts}
}

func (p *Camt053Parser) Source() models.SourceKind { return models.SourceBankCamt053 }

func (p *Camt053Parser) Extension() string { return ".xml" }

func (p *Camt053Parser) Sniff(raw []byte) bool {
	head := bytes.TrimSpace(bytes.TrimPrefix(raw, utf8BOM))
	if len(head) == 0 || head[0] != '<' {
		return false
	}
	if len(head) > 4096 {
		head = head[:4096]
	}
	return bytes.Contains(head, []byte("<Document")) && bytes.Contains(head, []byte("camt.053"))
}

type camtDocument struct {
	Statements []camtStatement `xml:"BkToCstmrStmt>Stmt"`
}

type camtStatement struct {
	ID      string      `xml:"Id"`
	Entries []camtEntry `xml:"Ntry"`
}

type camtAmount struct {
	Value string `xml:",chardata"`
	Ccy   string `xml:"Ccy,attr"`
}

type camtDate struct {
	Dt   string `xml:"Dt"`
	DtTm string `xml:"DtTm"`
}

func (d camtDate) value() string {
	if s := strings.TrimSpace(d.Dt); s != "" {
		return s
	}
	return strings.TrimSpace(d.DtTm)
}

// camtStatus accepts both <Sts>BOOK</Sts> and <Sts><Cd>BOOK</Cd></Sts>.
type camtStatus struct {
	Text string `xml:",chardata"`
	Cd   string `xml:"Cd"`
}

func (s camtStatus) code() string {
	if c := strings.TrimSpace(s.Cd); c != "" {
		return strings.ToUpper(c)
	}
	return strings.ToUpper(strings.TrimSpace(s.Text))
}

type camtCharges struct {
	Total   *camtAmount `xml:"TtlChrgsAndTaxAmt"`
	Records []struct {
		Amt camtAmount `xml:"Amt"`
	} `xml:"Rcrd"`
}

// total returns the charges in minor units, or nil when none are reported.
func (c camtCharges) total() (*int64, error) {
	if c.Total != nil && strings.TrimSpace(c.Total.Value) != "" {
		v, err := money.ParseMinor(c.Total.Value)
		if err != nil {
			return nil, err
		}
		v = money.Abs(v)
		return &v, nil
	}
	if len(c.Records) == 0 {
		return nil, nil
	}
	var sum int64
	for _, r := range c.Records {
		v, err := money.ParseMinor(r.Amt.Value)
		if err != nil {
			return nil, err
		}
		sum += money.Abs(v)
	}
	return &sum, nil
}

type camtParty struct {
	Name    string `xml:"Nm"`
	PtyName string `xml:"Pty>Nm"`
}

func (p camtParty) name() string {
	if n := strings.TrimSpace(p.Name); n != "" {
		return n
	}
	return strings.TrimSpace(p.PtyName)
}

type camtTxDetail struct {
	Refs struct {
		AcctSvcrRef string `xml:"AcctSvcrRef"`
		EndToEndID  string `xml:"EndToEndId"`
		TxID        string `xml:"TxId"`
	} `xml:"Refs"`
	Amt       *camtAmount `xml:"Amt"`
	TxAmt     *camtAmount `xml:"AmtDtls>TxAmt>Amt"`
	CdtDbtInd string      `xml:"CdtDbtInd"`
	Chrgs     camtCharges `xml:"Chrgs"`
	RmtInf    struct {
		Ustrd []string `xml:"Ustrd"`
	} `xml:"RmtInf"`
	RltdPties struct {
		Dbtr camtParty `xml:"Dbtr"`
		Cdtr camtParty `xml:"Cdtr"`
	} `xml:"RltdPties"`
	AddtlTxInf string `xml:"AddtlTxInf"`
	Inner      []byte `xml:",innerxml"`
}

func (d camtTxDetail) amount() *camtAmount {
	if d.Amt != nil && strings.TrimSpace(d.Amt.Value) != "" {
		return d.Amt
	}
	if d.TxAmt != nil && strings.TrimSpace(d.TxAmt.Value) != "" {
		return d.TxAmt
	}
	return nil
}

func (d camtTxDetail) reference() string {
	for _, ref := range []string{d.Refs.AcctSvcrRef, d.Refs.EndToEndID} {
		ref = strings.TrimSpace(ref)
		if ref != "" && !strings.EqualFold(ref, "NOTPROVIDED") {
			return ref
		}
	}
	return ""
}

type camtEntry struct {
	NtryRef      string         `xml:"NtryRef"`
	Amt          camtAmount     `xml:"Amt"`
	CdtDbtInd    string         `xml:"CdtDbtInd"`
	Sts          camtStatus     `xml:"Sts"`
	BookgDt      camtDate       `xml:"BookgDt"`
	ValDt        camtDate       `xml:"ValDt"`
	AcctSvcrRef  string         `xml:"AcctSvcrRef"`
	Chrgs        camtCharges    `xml:"Chrgs"`
	AddtlNtryInf string         `xml:"AddtlNtryInf"`
	Details      []camtTxDetail `xml:"NtryDtls>TxDtls"`
	Inner        []byte         `xml:",innerxml"`
}

func (e camtEntry) reference() string {
	if ref := strings.TrimSpace(e.AcctSvcrRef); ref != "" {
		return ref
	}
	return strings.TrimSpace(e.NtryRef)
}

func direction(ind string) (models.Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(ind)) {
	case "CRDT":
		return models.DirectionCredit, true
	case "DBIT":
		return models.DirectionDebit, true
	}
	return "", false
}

func (p *Camt053Parser) Parse(raw []byte) (*Output, error) {
	dec := xml.NewDecoder(bytes.NewReader(bytes.TrimPrefix(raw, utf8BOM)))
	root, err := rootElement(dec)
	if err != nil {
		return nil, err
	}
	if root.Name.Local != "Document" || !strings.HasPrefix(root.Name.Space, camt053Namespace) {
		return nil, apperror.Newf(apperror.CodeUnsupportedFormat,
			"not a camt.053 statement: root %s in namespace %q", root.Name.Local, root.Name.Space).
			WithDetail("provider", string(models.SourceBankCamt053))
	}

	var doc camtDocument
	if err := dec.DecodeElement(&doc, &root); err != nil {
		return nil, apperror.Wrap(apperror.CodeMalformedFile, "decoding camt.053 statement", err).
			WithDetail("provider", string(models.SourceBankCamt053))
	}
	if len(doc.Statements) == 0 {
		return nil, apperror.New(apperror.CodeMalformedFile, "camt.053 document has no statements").
			WithDetail("provider", string(models.SourceBankCamt053))
	}

	out := &Output{Source: models.SourceBankCamt053}
	seq, ordinal := 0, 0
	for _, stmt := range doc.Statements {
		for _, entry := range stmt.Entries {
			ordinal++
			p.parseEntry(entry, ordinal, &seq, out)
		}
	}
	return out, nil
}

func rootElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return xml.StartElement{}, apperror.New(apperror.CodeUnsupportedFormat, "no XML root element").
					WithDetail("provider", string(models.SourceBankCamt053))
			}
			return xml.StartElement{}, apperror.Wrap(apperror.CodeMalformedFile, "reading XML prolog", err).
				WithDetail("provider", string(models.SourceBankCamt053))
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

func (p *Camt053Parser) parseEntry(entry camtEntry, ordinal int, seq *int, out *Output) {
	src := models.SourceBankCamt053
	entryCol := "Ntry[" + strconv.Itoa(ordinal) + "]"

	if status := entry.Sts.code(); status != "BOOK" {
		*seq++
		out.Warnings = append(out.Warnings,
			warning(src, *seq, entryCol+"/Sts", entry.reference(), fmt.Sprintf("entry status %q is not booked", status)))
		return
	}

	details := entry.Details
	if len(details) == 0 {
		details = []camtTxDetail{{}}
	}
	single := len(details) == 1

	for i, detail := range details {
		*seq++
		col := entryCol
		if len(entry.Details) > 0 {
			col += "/TxDtls[" + strconv.Itoa(i+1) + "]"
		}
		ref := detail.reference()
		if ref == "" {
			ref = entry.reference()
		}
		warn := func(field, msg string) {
			out.Warnings = append(out.Warnings, warning(src, *seq, col+"/"+field, ref, msg))
		}

		amt := detail.amount()
		if amt == nil {
			if !single {
				warn("Amt", "batch detail without amount")
				continue
			}
			amt = &entry.Amt
		}
		if ccy := strings.TrimSpace(amt.Ccy); ccy != "" && !strings.EqualFold(ccy, p.opts.currency()) {
			warn("Amt", fmt.Sprintf("unsupported currency %q", ccy))
			continue
		}
		gross, err := money.ParseMinor(amt.Value)
		if err != nil {
			warn("Amt", err.Error())
			continue
		}
		gross = money.Abs(gross)

		ind := detail.CdtDbtInd
		if strings.TrimSpace(ind) == "" {
			ind = entry.CdtDbtInd
		}
		dir, ok := direction(ind)
		if !ok {
			warn("CdtDbtInd", fmt.Sprintf("unknown credit/debit indicator %q", ind))
			continue
		}

		dateStr := entry.ValDt.value()
		if dateStr == "" {
			dateStr = entry.BookgDt.value()
		}
		date, err := parseDate(dateStr, p.opts.location())
		if err != nil {
			warn("ValDt", err.Error())
			continue
		}

		charges := detail.Chrgs
		if charges.Total == nil && len(charges.Records) == 0 && single {
			charges = entry.Chrgs
		}
		fee, err := charges.total()
		if err != nil {
			warn("Chrgs", err.Error())
			continue
		}
		net := gross
		if fee != nil {
			net = gross - *fee
		}

		raw := make([]byte, 0, len(entry.Inner)+len(detail.Inner)+8)
		raw = append(raw, entry.Inner...)
		raw = append(raw, 0x1f)
		raw = strconv.AppendInt(raw, int64(i), 10)
		raw = append(raw, 0x1f)
		raw = append(raw, detail.Inner...)

		out.Rows = append(out.Rows, Row{
			RowNumber:             *seq,
			ProviderTransactionID: strPtr(ref),
			GrossAmount:           gross,
			FeeAmount:             fee,
			NetAmount:             net,
			Currency:              p.opts.currency(),
			Direction:             dir,
			ValueDate:             date,
			Description:           describe(entry, detail),
			Raw:                   raw,
		})
	}
}

func describe(entry camtEntry, detail camtTxDetail) string {
	var parts []string
	add := func(s string) {
		if s = strings.Join(strings.Fields(s), " "); s != "" {
			parts = append(parts, s)
		}
	}
	for _, u := range detail.RmtInf.Ustrd {
		add(u)
	}
	add(detail.RltdPties.Dbtr.name())
	add(detail.RltdPties.Cdtr.name())
	add(detail.AddtlTxInf)
	add(entry.AddtlNtryInf)
	return strings.Join(parts, " / ")
}
