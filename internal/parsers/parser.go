// Package parsers turns provider settlement exports into normalized rows.
package parsers

import (
	"bytes"
	"path/filepath"
	"strings"
	"time"

	"settlement-reconciliation-engine/internal/apperror"
	"settlement-reconciliation-engine/internal/models"
)

// RegistryVersion is bumped whenever a source kind or layout is added.
const RegistryVersion = 3

// Row is one parsed settlement line before normalization.
type Row struct {
	RowNumber             int
	ProviderTransactionID *string
	GrossAmount           int64
	FeeAmount             *int64
	NetAmount             int64
	Currency              string
	Direction             models.Direction
	ValueDate             time.Time
	Description           string
	// Raw holds the source bytes of the row, used to detect duplicated lines.
	Raw []byte
}

// Output is the result of parsing one file.
type Output struct {
	Source   models.SourceKind
	Rows     []Row
	Warnings []models.RowWarning
}

// Parser converts one provider's export format.
type Parser interface {
	Source() models.SourceKind
	// Extension is the file extension the format is usually delivered with.
	Extension() string
	// Sniff reports whether raw looks like this parser's format.
	Sniff(raw []byte) bool
	Parse(raw []byte) (*Output, error)
}

// Options controls locale handling shared by all parsers.
type Options struct {
	// Location is used to derive calendar dates from provider timestamps.
	Location *time.Location
	// Currency is the only currency accepted; rows in other currencies are skipped.
	Currency string
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return DefaultLocation
	}
	return o.Location
}

func (o Options) currency() string {
	if o.Currency == "" {
		return "CHF"
	}
	return o.Currency
}

// Registry holds the closed set of supported sources in detection order.
type Registry struct {
	parsers map[models.SourceKind]Parser
	order   []models.SourceKind
}

func NewRegistry() *Registry {
	return &Registry{parsers: make(map[models.SourceKind]Parser)}
}

// Register adds a parser. Panics on duplicate source.
func (r *Registry) Register(p Parser) {
	if _, ok := r.parsers[p.Source()]; ok {
		panic("duplicate parser source: " + string(p.Source()))
	}
	r.parsers[p.Source()] = p
	r.order = append(r.order, p.Source())
}

// Get returns the parser for source, or nil.
func (r *Registry) Get(source models.SourceKind) Parser {
	return r.parsers[source]
}

// Sources lists the registered sources in detection order.
func (r *Registry) Sources() []models.SourceKind {
	return append([]models.SourceKind(nil), r.order...)
}

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	r.Register(NewCamt053Parser(opts))
	r.Register(NewSumUpParser(opts))
	r.Register(NewTwintParser(opts))
	return r
}

// Detect picks the parser for a file. A declared source wins; otherwise parsers
// whose extension matches the filename are sniffed first, then the rest.
func (r *Registry) Detect(filename string, raw []byte, declared models.SourceKind) (Parser, error) {
	if declared != "" {
		p := r.Get(declared)
		if p == nil {
			return nil, apperror.Newf(apperror.CodeUnsupportedFormat, "unknown settlement source %q", declared).
				WithDetail("registry_version", RegistryVersion)
		}
		return p, nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, apperror.New(apperror.CodeUnsupportedFormat, "empty file")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	var preferred, rest []Parser
	for _, src := range r.order {
		p := r.parsers[src]
		if ext != "" && p.Extension() == ext {
			preferred = append(preferred, p)
		} else {
			rest = append(rest, p)
		}
	}
	for _, p := range append(preferred, rest...) {
		if p.Sniff(raw) {
			return p, nil
		}
	}
	return nil, apperror.Newf(apperror.CodeUnsupportedFormat, "unrecognized settlement file %q", filename).
		WithDetail("registry_version", RegistryVersion)
}

func warning(provider models.SourceKind, row int, column, ref, msg string) models.RowWarning {
	return models.RowWarning{Row: row, Provider: provider, Column: column, Reference: ref, Message: msg}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
