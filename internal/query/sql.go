package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"spectralog/internal/corrstore"
	"spectralog/internal/schema"
	"spectralog/internal/spectrum"
)

// compiled is a ready-to-run statement.
type compiled struct {
	SQL  string
	Args []any
	Cols []string
}

// argList numbers placeholders as values are added. Postgres does not
// require $n to appear in textual order, so reusing a returned
// placeholder is fine.
type argList []any

func (a *argList) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

// corrFrom joins the correlated relation with its lookup tables. LEFT
// joins: an entry without a device or location document still queries.
const corrFrom = `inquiry_message m
LEFT JOIN afc_server s ON s.id = m.server_id
LEFT JOIN device_descriptor d ON d.digest = m.device_digest
LEFT JOIN request_location l ON l.digest = m.location_digest
LEFT JOIN afc_config c ON c.digest = m.config_digest`

// corrColumns maps projection names to SQL expressions. Casts keep the
// scanned values renderable without driver-specific types.
var corrColumns = map[string]string{
	"time":         "m.rx_time",
	"server":       "s.name",
	"request_id":   "m.request_id",
	"serial":       "d.serial_number",
	"region":       "c.region",
	"ruleset":      "m.ruleset",
	"code":         "m.response_code",
	"description":  "m.response_description",
	"supplemental": "m.response_supplemental",
	"duration_ms":  "m.duration_ms",
	"ap_ip":        "m.ap_ip::text",
	"mtls_dn":      "m.mtls_dn",
	"opts":         "m.runtime_opts",
	"uls":          "m.uls_version",
	"geo":          "m.geo_version",
	"lat":          "ST_Y(l.point::geometry)",
	"lon":          "ST_X(l.point::geometry)",
	"digest":       "m.digest",
	"request":      "m.request::text",
	"response":     "m.response::text",
}

var corrDefaultColumns = []string{"time", "server", "request_id", "serial", "region", "ruleset", "code", "description"}

var errorColumns = map[string]string{
	"id":      "id::text",
	"time":    "time",
	"topic":   "topic",
	"source":  "source",
	"error":   "error",
	"payload": "encode(payload, 'escape')",
}

var errorDefaultColumns = []string{"time", "topic", "source", "error"}

var eventDefaultColumns = []string{"time", "source", "log"}

// jsonKeyPattern bounds what an event-log projection or filter may name
// inside the payload. The key itself travels as a parameter; this just
// keeps headers sane.
var jsonKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

func compile(req *Request, now time.Time) (*compiled, error) {
	if req.MaxCount < 0 {
		return nil, usagef("max count cannot be negative")
	}
	if req.Count && (len(req.Columns) > 0 || len(req.SortKeys) > 0 || req.Distinct || req.MaxCount > 0) {
		return nil, usagef("count cannot be combined with columns, sorting, distinct or max count")
	}
	if err := checkTimeRawConflict(req.Filters); err != nil {
		return nil, err
	}
	switch req.Store {
	case StoreEventLog:
		return compileEvent(req, now)
	case StoreCorrLog:
		return compileCorr(req, now)
	case StoreErrors:
		return compileErrors(req, now)
	}
	return nil, usagef("unknown store %q", req.Store)
}

// checkTimeRawConflict rejects mixing the time vocabulary with a
// free-form selection body, in either direction.
func checkTimeRawConflict(filters []Filter) error {
	var hasTime, hasRaw bool
	for _, f := range filters {
		switch f.(type) {
		case TimeRange, MaxAge:
			hasTime = true
		case RawWhere:
			hasRaw = true
		}
	}
	if hasTime && hasRaw {
		return usagef("time filters cannot be combined with a free-form selection body")
	}
	return nil
}

func compileCorr(req *Request, now time.Time) (*compiled, error) {
	args := argList{}
	resolve := func(name string) (string, error) {
		expr, ok := corrColumns[name]
		if !ok {
			return "", usagef("unknown column %q for the correlated store", name)
		}
		return expr, nil
	}

	cols := req.Columns
	if len(cols) == 0 {
		cols = corrDefaultColumns
	}
	selectList, names, err := projection(cols, resolve)
	if err != nil {
		return nil, err
	}

	var conds []string
	var hasRaw bool
	for _, f := range req.Filters {
		switch f := f.(type) {
		case TimeRange:
			conds = append(conds, timeRangeConds(f, "m.rx_time", &args)...)
		case MaxAge:
			c, err := maxAgeCond(f, "m.rx_time", now, &args)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		case Distance:
			c, err := distanceCond(f, &args)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		case Keyhole:
			if f.Shape == nil {
				return nil, usagef("keyhole filter has no anchored shape")
			}
			conds = append(conds, fmt.Sprintf("ST_CoveredBy(l.point, ST_GeogFromText(%s))", args.add(f.Shape.WKT())))
		case FieldMatch:
			c, err := corrFieldCond(f, &args)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		case FrequencySet:
			c, err := frequencyCond(f.Set, &args)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		case RawWhere:
			c, err := rawCond(f)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
			hasRaw = true
		default:
			return nil, usagef("unsupported filter %T for the correlated store", f)
		}
	}

	order, err := orderClause(req, names, resolve, hasRaw)
	if err != nil {
		return nil, err
	}
	return assemble(req, selectList, corrFrom, conds, order, names, &args), nil
}

func compileEvent(req *Request, now time.Time) (*compiled, error) {
	if req.Topic == "" {
		return nil, usagef("event log queries need a topic")
	}
	table, err := schema.TableForTopic(req.Topic)
	if err != nil {
		return nil, usagef("topic %q: %v", req.Topic, err)
	}

	args := argList{}
	resolve := func(name string) (string, error) {
		switch name {
		case "time":
			return "time", nil
		case "source":
			return "source", nil
		case "log":
			return "log::text", nil
		}
		if !jsonKeyPattern.MatchString(name) {
			return "", usagef("invalid payload field name %q", name)
		}
		return "log->>" + args.add(name), nil
	}

	cols := req.Columns
	if len(cols) == 0 {
		cols = eventDefaultColumns
	}
	selectList, names, err := projection(cols, resolve)
	if err != nil {
		return nil, err
	}

	var conds []string
	var hasRaw bool
	for _, f := range req.Filters {
		switch f := f.(type) {
		case TimeRange:
			conds = append(conds, timeRangeConds(f, "time", &args)...)
		case MaxAge:
			c, err := maxAgeCond(f, "time", now, &args)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		case FieldMatch:
			c, err := eventFieldCond(f, resolve, &args)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		case RawWhere:
			c, err := rawCond(f)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
			hasRaw = true
		default:
			return nil, usagef("filter %T is only supported for the correlated store", f)
		}
	}

	order, err := orderClause(req, names, resolve, hasRaw)
	if err != nil {
		return nil, err
	}
	from := pgx.Identifier{table}.Sanitize()
	return assemble(req, selectList, from, conds, order, names, &args), nil
}

func compileErrors(req *Request, now time.Time) (*compiled, error) {
	args := argList{}
	resolve := func(name string) (string, error) {
		expr, ok := errorColumns[name]
		if !ok {
			return "", usagef("unknown column %q for the error stream", name)
		}
		return expr, nil
	}

	cols := req.Columns
	if len(cols) == 0 {
		cols = errorDefaultColumns
	}
	selectList, names, err := projection(cols, resolve)
	if err != nil {
		return nil, err
	}

	var conds []string
	for _, f := range req.Filters {
		switch f := f.(type) {
		case TimeRange:
			conds = append(conds, timeRangeConds(f, "time", &args)...)
		case MaxAge:
			c, err := maxAgeCond(f, "time", now, &args)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		default:
			return nil, usagef("the error stream filters by time and count only")
		}
	}

	order, err := orderClause(req, names, resolve, false)
	if err != nil {
		return nil, err
	}
	from := pgx.Identifier{schema.ErrorTable}.Sanitize()
	return assemble(req, selectList, from, conds, order, names, &args), nil
}

// projection builds the select list, aliasing every expression to its
// requested name.
func projection(cols []string, resolve func(string) (string, error)) (string, []string, error) {
	var parts []string
	var names []string
	for _, col := range cols {
		expr, err := resolve(col)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, expr+" AS "+pgx.Identifier{col}.Sanitize())
		names = append(names, col)
	}
	return strings.Join(parts, ", "), names, nil
}

func timeRangeConds(f TimeRange, col string, args *argList) []string {
	var conds []string
	if !f.From.IsZero() {
		conds = append(conds, col+" >= "+args.add(f.From.UTC()))
	}
	if !f.To.IsZero() {
		conds = append(conds, col+" < "+args.add(f.To.UTC()))
	}
	return conds
}

func maxAgeCond(f MaxAge, col string, now time.Time, args *argList) (string, error) {
	if f.Age <= 0 {
		return "", usagef("max age must be positive")
	}
	return col + " >= " + args.add(now.Add(-f.Age).UTC()), nil
}

func distanceCond(f Distance, args *argList) (string, error) {
	if !f.Origin.Valid() {
		return "", usagef("distance origin is not a valid point")
	}
	if f.MaxKm <= 0 {
		return "", usagef("distance bound must be positive")
	}
	origin := fmt.Sprintf("ST_SetSRID(ST_MakePoint(%s, %s), 4326)::geography",
		args.add(f.Origin.Lon), args.add(f.Origin.Lat))
	return fmt.Sprintf("ST_DWithin(l.point, %s, %s)", origin, args.add(f.MaxKm*1000)), nil
}

func rawCond(f RawWhere) (string, error) {
	clause := strings.TrimSpace(f.Clause)
	if clause == "" {
		return "", usagef("empty selection body")
	}
	return "(" + clause + ")", nil
}

func corrFieldCond(f FieldMatch, args *argList) (string, error) {
	switch f.Field {
	case "region":
		return eqCond("c.region", f, args), nil
	case "serial":
		return eqCond("d.serial_number", f, args), nil
	case "ruleset":
		return eqCond("m.ruleset", f, args), nil
	case "cn":
		return eqCond("m.mtls_dn", f, args), nil
	case "server":
		return eqCond("s.name", f, args), nil
	case "request_id":
		return eqCond("m.request_id", f, args), nil
	case "code":
		n, err := strconv.Atoi(strings.TrimSpace(f.Value))
		if err != nil {
			return "", usagef("response code %q is not a number", f.Value)
		}
		if f.Negate {
			return "m.response_code IS DISTINCT FROM " + args.add(n), nil
		}
		return "m.response_code = " + args.add(n), nil
	case "cert":
		// Containment: some element of the certification array has this
		// id, extra keys allowed. False, not an error, on a non-array.
		cond := fmt.Sprintf("d.certifications @> jsonb_build_array(jsonb_build_object('id', %s::text))", args.add(f.Value))
		if f.Negate {
			return fmt.Sprintf("(d.certifications IS NULL OR NOT %s)", cond), nil
		}
		return cond, nil
	case "opts":
		mask, err := parseOptsValue(f.Value)
		if err != nil {
			return "", err
		}
		if f.Negate {
			return fmt.Sprintf("(m.runtime_opts & %s) = 0", args.add(mask)), nil
		}
		return fmt.Sprintf("(m.runtime_opts & %s) <> 0", args.add(mask)), nil
	}
	return "", usagef("unknown filter field %q for the correlated store", f.Field)
}

func eqCond(col string, f FieldMatch, args *argList) string {
	if f.Negate {
		return col + " IS DISTINCT FROM " + args.add(f.Value)
	}
	return col + " = " + args.add(f.Value)
}

func eventFieldCond(f FieldMatch, resolve func(string) (string, error), args *argList) (string, error) {
	if f.Field == "time" {
		return "", usagef("filter on time with the time window flags")
	}
	expr, err := resolve(f.Field)
	if err != nil {
		return "", err
	}
	if expr == "log::text" {
		return "", usagef("cannot equality-match the whole payload, name a field inside it")
	}
	if f.Negate {
		return expr + " IS DISTINCT FROM " + args.add(f.Value), nil
	}
	return expr + " = " + args.add(f.Value), nil
}

// parseOptsValue resolves a request-option flag by name or numeric
// mask.
func parseOptsValue(v string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "gui":
		return corrstore.OptGUI, nil
	case "nocache", "no-cache":
		return corrstore.OptNoCache, nil
	case "debug", "dbg":
		return corrstore.OptDebug, nil
	case "extdebug", "ext-debug", "edbg":
		return corrstore.OptExtDebug, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, usagef("unknown request option flag %q: want gui, nocache, debug, extdebug or a positive mask", v)
	}
	return n, nil
}

// frequencyCond matches a record when any granted channel or frequency
// range overlaps any requested triple. Channel-origin triples
// (bandwidth > 0) require the same bandwidth in max_eirp; raw triples
// overlap either table at any bandwidth. Overlap is half-open, so
// adjacent channels do not match each other.
func frequencyCond(set spectrum.RangeSet, args *argList) (string, error) {
	if len(set) == 0 {
		return "", usagef("empty frequency/channel set")
	}
	var ors []string
	for _, r := range set {
		low := args.add(r.LowMHz)
		high := args.add(r.HighMHz)
		if r.BandwidthMHz > 0 {
			ors = append(ors, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM max_eirp g WHERE g.message_digest = m.digest AND g.bandwidth_mhz = %s AND g.low_mhz < %s AND g.high_mhz > %s)",
				args.add(r.BandwidthMHz), high, low))
			continue
		}
		ors = append(ors, fmt.Sprintf(
			"(EXISTS (SELECT 1 FROM max_eirp g WHERE g.message_digest = m.digest AND g.low_mhz < %s AND g.high_mhz > %s)"+
				" OR EXISTS (SELECT 1 FROM max_psd p WHERE p.message_digest = m.digest AND p.low_mhz < %s AND p.high_mhz > %s))",
			high, low, high, low))
	}
	return "(" + strings.Join(ors, " OR ") + ")", nil
}

// orderClause applies sort keys, defaulting to ascending time order for
// filtered queries. Free-form selection bodies get no implied order,
// and distinct results may only sort by projected columns.
func orderClause(req *Request, projected []string, resolve func(string) (string, error), hasRaw bool) (string, error) {
	if len(req.SortKeys) == 0 {
		if hasRaw {
			return "", nil
		}
		if req.Distinct && !containsName(projected, "time") {
			return "", nil
		}
		expr, err := resolve("time")
		if err != nil {
			return "", nil
		}
		return " ORDER BY " + expr + " ASC", nil
	}

	var parts []string
	for _, k := range req.SortKeys {
		if req.Distinct && !containsName(projected, k.Field) {
			return "", usagef("distinct results sort only by projected columns, %q is not projected", k.Field)
		}
		expr, err := resolve(k.Field)
		if err != nil {
			return "", err
		}
		dir := " ASC"
		if k.Desc {
			dir = " DESC"
		}
		parts = append(parts, expr+dir)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

// assemble stitches the clauses in SQL's required order: truncation
// applies after sorting. A count collapses the projection and drops
// ordering; the filter conditions still apply.
func assemble(req *Request, selectList, from string, conds []string, order string, names []string, args *argList) *compiled {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if req.Count {
		sb.WriteString("count(*) AS count FROM ")
		sb.WriteString(from)
		if len(conds) > 0 {
			sb.WriteString(" WHERE ")
			sb.WriteString(strings.Join(conds, " AND "))
		}
		return &compiled{SQL: sb.String(), Args: []any(*args), Cols: []string{"count"}}
	}
	if req.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(selectList)
	sb.WriteString(" FROM ")
	sb.WriteString(from)
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(order)
	if req.MaxCount > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(args.add(req.MaxCount))
	}
	return &compiled{SQL: sb.String(), Args: []any(*args), Cols: names}
}
