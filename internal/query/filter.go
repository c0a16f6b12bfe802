// Package query compiles filter expressions into parameterized SQL
// against either destination store, executes them, and renders rows in
// the four output formats. The engine is stateless: every call is an
// independent read-only transaction, so queries never interfere with
// ingestion.
package query

import (
	"errors"
	"fmt"
	"time"

	"spectralog/internal/geo"
	"spectralog/internal/spectrum"
)

// ErrUsage marks a request the caller got wrong, as opposed to the
// store failing. Callers print these without a stack.
var ErrUsage = errors.New("usage error")

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

// Store selects the relation a request runs against.
type Store string

const (
	// StoreEventLog queries one topic's table in the event-log database.
	StoreEventLog Store = "eventLog"
	// StoreCorrLog queries the correlated inquiry relation.
	StoreCorrLog Store = "correlatedLog"
	// StoreErrors queries the parked decode/write error stream,
	// filterable by time and count only.
	StoreErrors Store = "errors"
)

// Format selects the output rendering.
type Format string

const (
	FormatTable        Format = "table"
	FormatCSV          Format = "csv"
	FormatJSON         Format = "json"
	FormatIndentedJSON Format = "indentedJson"
)

// ParseFormat validates a format name from flags.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatTable, FormatCSV, FormatJSON, FormatIndentedJSON:
		return Format(s), nil
	}
	return "", usagef("unknown output format %q: want table, csv, json or indentedJson", s)
}

// Filter is one node of the AND-combined predicate tree. Nodes are
// plain data; the SQL compiler is the single visitor over them.
type Filter interface {
	filterNode()
}

// TimeRange keeps rows with From <= time < To. A zero bound is open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// MaxAge keeps rows with time >= now-Age.
type MaxAge struct {
	Age time.Duration
}

// Distance keeps rows whose location is within MaxKm of Origin,
// great-circle.
type Distance struct {
	Origin geo.Point
	MaxKm  float64
}

// Keyhole keeps rows whose location falls inside an anchored
// directional visibility shape.
type Keyhole struct {
	Shape *geo.Shape
}

// FieldMatch keeps rows where a named field equals Value, or does not
// when Negate is set. The field vocabulary depends on the store.
type FieldMatch struct {
	Field  string
	Value  string
	Negate bool
}

// FrequencySet keeps correlated rows whose granted channels or
// frequency ranges intersect the parsed set.
type FrequencySet struct {
	Set spectrum.RangeSet
}

// RawWhere appends a caller-written SQL predicate verbatim. Mutually
// exclusive with time filters.
type RawWhere struct {
	Clause string
}

func (TimeRange) filterNode()    {}
func (MaxAge) filterNode()       {}
func (Distance) filterNode()     {}
func (Keyhole) filterNode()      {}
func (FieldMatch) filterNode()   {}
func (FrequencySet) filterNode() {}
func (RawWhere) filterNode()     {}

// SortKey orders results by a projected field.
type SortKey struct {
	Field string
	Desc  bool
}

// Request is one query against one store.
type Request struct {
	Store Store
	// Topic selects the event-log table; ignored for the other stores.
	Topic    string
	Filters  []Filter
	Columns  []string
	MaxCount int
	SortKeys []SortKey
	Distinct bool
	// Count returns the matching row count instead of the rows. It
	// excludes the projection, sorting, distinct and max-count knobs.
	Count bool
}
