// logq queries the destination stores. By default it runs against the
// correlated inquiry log; --topic selects one event-log topic and
// --errors the parked decode/write error stream. --list-topics and
// --list-sources enumerate instead of querying.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"spectralog/internal/geo"
	"spectralog/internal/platform/config"
	"spectralog/internal/platform/logger"
	"spectralog/internal/platform/redis"
	"spectralog/internal/query"
	"spectralog/internal/spectrum"
	"spectralog/internal/timespec"
)

const usageText = `Usage: logq [flags]

Queries the correlated inquiry log unless --topic or --errors selects
another store. Field-match values negate with a leading "not ", e.g.
--code "not 0". Configuration comes from SPECTRALOG_* environment
variables; flags override per invocation.

Flags:
`

// cliFlags carries every parsed flag. Validation happens while the
// request is built, not at parse time, so conflicts surface as usage
// errors with the offending flags named.
type cliFlags struct {
	envFile     string
	eventDSN    string
	corrDSN     string
	timeout     time.Duration
	topic       string
	errStream   bool
	listTopics  bool
	listSources string

	from   string
	to     string
	maxAge time.Duration
	zone   string

	server    string
	requestID string
	region    string
	serial    string
	cert      string
	ruleset   string
	cn        string
	code      string
	opts      string
	matches   []string

	near        string
	withinKm    float64
	withinMiles float64
	keyhole     string
	azimuth     float64

	channels string
	where    string

	columns  []string
	maxCount int
	sorts    []string
	distinct bool
	count    bool
	format   string
}

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", query.ErrUsage, fmt.Sprintf(format, args...))
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "logq: %v\n", err)
		if errors.Is(err, query.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	var c cliFlags
	flags := pflag.NewFlagSet("logq", pflag.ContinueOnError)
	flags.StringVar(&c.envFile, "env-file", "", "load environment from this file before reading config")
	flags.StringVar(&c.eventDSN, "eventlog-dsn", "", "override the event log store connection string")
	flags.StringVar(&c.corrDSN, "corrlog-dsn", "", "override the correlated log store connection string")
	flags.DurationVar(&c.timeout, "timeout", time.Minute, "abandon the query after this long")

	flags.StringVar(&c.topic, "topic", "", "query this event-log topic instead of the correlated log")
	flags.BoolVar(&c.errStream, "errors", false, "query the parked decode/write error stream")
	flags.BoolVar(&c.listTopics, "list-topics", false, "list topics with stored events and exit")
	flags.StringVar(&c.listSources, "list-sources", "", "list distinct sources within this topic and exit")

	flags.StringVar(&c.from, "from", "", "keep records at or after this time (partial ISO-8601)")
	flags.StringVar(&c.to, "to", "", "keep records before this time (partial ISO-8601)")
	flags.DurationVar(&c.maxAge, "max-age", 0, "keep records younger than this")
	flags.StringVar(&c.zone, "zone", "", "time zone for input timestamps and display (default from config)")

	flags.StringVar(&c.server, "server", "", "match the reporting coordination server name")
	flags.StringVar(&c.requestID, "request-id", "", "match the inquiry request id")
	flags.StringVar(&c.region, "region", "", "match the configuration region")
	flags.StringVar(&c.serial, "serial", "", "match the device serial number")
	flags.StringVar(&c.cert, "cert", "", "match a device certification id")
	flags.StringVar(&c.ruleset, "ruleset", "", "match the ruleset id")
	flags.StringVar(&c.cn, "cn", "", "match the mTLS distinguished name")
	flags.StringVar(&c.code, "code", "", "match the response code")
	flags.StringVar(&c.opts, "opts", "", "match a runtime request option (gui|nocache|dbg|edbg or a mask)")
	flags.StringArrayVar(&c.matches, "match", nil, "match field=value; repeatable (payload keys for event-log topics)")

	flags.StringVar(&c.near, "near", "", "reference point as lat,lon for the distance and keyhole filters")
	flags.Float64Var(&c.withinKm, "within-km", 0, "keep records within this many kilometers of --near")
	flags.Float64Var(&c.withinMiles, "within-miles", 0, "keep records within this many miles of --near")
	flags.StringVar(&c.keyhole, "keyhole", "", "keyhole template (file path or s3://bucket/key) anchored at --near")
	flags.Float64Var(&c.azimuth, "azimuth", 0, "keyhole look azimuth in degrees clockwise from north")

	flags.StringVar(&c.channels, "channels", "", "match granted channels/frequencies, e.g. 1,5-29:40,6100-6130")
	flags.StringVar(&c.where, "where", "", "free-form SQL selection body (excludes the time flags)")

	flags.StringSliceVar(&c.columns, "columns", nil, "project these columns instead of the store defaults")
	flags.IntVar(&c.maxCount, "max-count", 0, "truncate the result after this many rows (after sorting)")
	flags.StringArrayVar(&c.sorts, "sort", nil, "sort by field[:asc|desc]; repeatable")
	flags.BoolVar(&c.distinct, "distinct", false, "drop exact duplicate rows after projection")
	flags.BoolVar(&c.count, "count", false, "print the matching row count instead of the rows")
	flags.StringVar(&c.format, "format", "table", "output format: table, csv, json or indentedJson")

	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() != 0 {
		flags.Usage()
		return usagef("unexpected argument %q", flags.Arg(0))
	}

	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", c.envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := overrideStores(cfg, &c); err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	zoneSpec := c.zone
	if zoneSpec == "" {
		zoneSpec = cfg.Query.Zone
	}
	loc, err := timespec.Zone(zoneSpec)
	if err != nil {
		return usagef("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return execute(ctx, cfg, &c, loc, log)
}

// overrideStores applies the per-invocation connection flags on top of
// the environment configuration.
func overrideStores(cfg *config.Config, c *cliFlags) error {
	var err error
	if c.eventDSN != "" {
		if cfg.Stores.EventLog, err = config.ParseDSN(c.eventDSN); err != nil {
			return usagef("--eventlog-dsn: %v", err)
		}
	}
	if c.corrDSN != "" {
		if cfg.Stores.CorrLog, err = config.ParseDSN(c.corrDSN); err != nil {
			return usagef("--corrlog-dsn: %v", err)
		}
	}
	return nil
}

func execute(ctx context.Context, cfg *config.Config, c *cliFlags, loc *time.Location, log *slog.Logger) error {
	if c.listTopics && c.listSources != "" {
		return usagef("--list-topics and --list-sources are mutually exclusive")
	}
	store, err := c.store()
	if err != nil {
		return err
	}

	// Only the store this invocation touches gets dialed; the other one
	// may not be reachable from here.
	var events, corr *pgxpool.Pool
	enumerating := c.listTopics || c.listSources != ""
	if enumerating || store != query.StoreCorrLog {
		if events, err = pgxpool.New(ctx, cfg.Stores.EventLog.URL()); err != nil {
			return fmt.Errorf("open event log store: %w", err)
		}
		defer events.Close()
	} else {
		if corr, err = pgxpool.New(ctx, cfg.Stores.CorrLog.URL()); err != nil {
			return fmt.Errorf("open correlated log store: %w", err)
		}
		defer corr.Close()
	}

	engineOpts := []query.Option{query.WithLogger(log)}
	if enumerating && cfg.Redis.URL != "" {
		// The enumeration cache is best effort: an unreachable Redis
		// must not fail the query.
		rc, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			log.Debug("enumeration cache unavailable", "error", err)
		} else {
			defer rc.Close()
			engineOpts = append(engineOpts, query.WithCache(rc.Unwrap(), cfg.Redis.CacheTTL))
		}
	}
	engine := query.New(events, corr, engineOpts...)

	switch {
	case c.listTopics:
		topics, err := engine.ListTopics(ctx)
		if err != nil {
			return err
		}
		return printLines(topics)
	case c.listSources != "":
		sources, err := engine.ListSources(ctx, c.listSources)
		if err != nil {
			return err
		}
		return printLines(sources)
	}

	format, err := query.ParseFormat(c.format)
	if err != nil {
		return err
	}
	req, err := buildRequest(ctx, c, store, time.Now(), loc)
	if err != nil {
		return err
	}
	rs, err := engine.Query(ctx, req)
	if err != nil {
		return err
	}
	return query.Render(os.Stdout, rs, format, loc)
}

func (c *cliFlags) store() (query.Store, error) {
	if c.topic != "" && c.errStream {
		return "", usagef("--topic and --errors are mutually exclusive")
	}
	switch {
	case c.errStream:
		return query.StoreErrors, nil
	case c.topic != "":
		return query.StoreEventLog, nil
	}
	return query.StoreCorrLog, nil
}

// buildRequest maps the flag vocabulary onto the filter tree. The
// engine validates per-store vocabulary; this layer only resolves
// specs that need outside help: timestamps, zones, templates, channel
// tables.
func buildRequest(ctx context.Context, c *cliFlags, store query.Store, now time.Time, loc *time.Location) (*query.Request, error) {
	var filters []query.Filter

	if c.from != "" || c.to != "" {
		var tr query.TimeRange
		var err error
		if c.from != "" {
			if tr.From, err = timespec.Resolve(c.from, now, loc); err != nil {
				return nil, usagef("--from: %v", err)
			}
		}
		if c.to != "" {
			if tr.To, err = timespec.Resolve(c.to, now, loc); err != nil {
				return nil, usagef("--to: %v", err)
			}
		}
		filters = append(filters, tr)
	}
	if c.maxAge != 0 {
		filters = append(filters, query.MaxAge{Age: c.maxAge})
	}

	geoFilters, err := c.geoFilters(ctx)
	if err != nil {
		return nil, err
	}
	filters = append(filters, geoFilters...)

	for _, m := range fieldPairs(c) {
		if m.value == "" {
			continue
		}
		filters = append(filters, fieldMatch(m.field, m.value))
	}
	for _, raw := range c.matches {
		field, value, ok := strings.Cut(raw, "=")
		if !ok || field == "" {
			return nil, usagef("--match wants field=value, got %q", raw)
		}
		filters = append(filters, fieldMatch(field, value))
	}

	if c.channels != "" {
		set, err := spectrum.ParseSet(c.channels)
		if err != nil {
			return nil, usagef("--channels: %v", err)
		}
		filters = append(filters, query.FrequencySet{Set: set})
	}
	if c.where != "" {
		filters = append(filters, query.RawWhere{Clause: c.where})
	}

	sortKeys, err := parseSorts(c.sorts)
	if err != nil {
		return nil, err
	}
	return &query.Request{
		Store:    store,
		Topic:    c.topic,
		Filters:  filters,
		Columns:  c.columns,
		MaxCount: c.maxCount,
		SortKeys: sortKeys,
		Distinct: c.distinct,
		Count:    c.count,
	}, nil
}

// geoFilters resolves the reference point and builds the distance and
// keyhole filters around it.
func (c *cliFlags) geoFilters(ctx context.Context) ([]query.Filter, error) {
	wantsPoint := c.withinKm != 0 || c.withinMiles != 0 || c.keyhole != ""
	if c.near == "" {
		if wantsPoint {
			return nil, usagef("--within-km, --within-miles and --keyhole need a --near reference point")
		}
		return nil, nil
	}
	if !wantsPoint {
		return nil, usagef("--near needs --within-km, --within-miles or --keyhole")
	}
	origin, err := parsePoint(c.near)
	if err != nil {
		return nil, usagef("--near: %v", err)
	}

	var filters []query.Filter
	switch {
	case c.withinKm != 0 && c.withinMiles != 0:
		return nil, usagef("--within-km and --within-miles are mutually exclusive")
	case c.withinKm != 0:
		filters = append(filters, query.Distance{Origin: origin, MaxKm: c.withinKm})
	case c.withinMiles != 0:
		filters = append(filters, query.Distance{Origin: origin, MaxKm: geo.MilesToKm(c.withinMiles)})
	}

	if c.keyhole != "" {
		tmpl, err := geo.LoadTemplate(ctx, c.keyhole)
		if err != nil {
			return nil, err
		}
		shape, err := geo.Anchor(tmpl, origin, c.azimuth)
		if err != nil {
			return nil, usagef("--keyhole: %v", err)
		}
		filters = append(filters, query.Keyhole{Shape: shape})
	}
	return filters, nil
}

// parsePoint parses "lat,lon" in decimal degrees.
func parsePoint(spec string) (geo.Point, error) {
	latPart, lonPart, ok := strings.Cut(spec, ",")
	if !ok {
		return geo.Point{}, fmt.Errorf("want lat,lon, got %q", spec)
	}
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(latPart), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(lonPart), 64)
	if latErr != nil || lonErr != nil {
		return geo.Point{}, fmt.Errorf("want lat,lon, got %q", spec)
	}
	p := geo.Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		return geo.Point{}, fmt.Errorf("point %s is out of range", p)
	}
	return p, nil
}

type fieldPair struct{ field, value string }

func fieldPairs(c *cliFlags) []fieldPair {
	return []fieldPair{
		{"server", c.server},
		{"request_id", c.requestID},
		{"region", c.region},
		{"serial", c.serial},
		{"cert", c.cert},
		{"ruleset", c.ruleset},
		{"cn", c.cn},
		{"code", c.code},
		{"opts", c.opts},
	}
}

// fieldMatch peels the "not " negation marker off a match value.
func fieldMatch(field, value string) query.FieldMatch {
	if rest, ok := strings.CutPrefix(value, "not "); ok {
		return query.FieldMatch{Field: field, Value: strings.TrimSpace(rest), Negate: true}
	}
	return query.FieldMatch{Field: field, Value: value}
}

func parseSorts(specs []string) ([]query.SortKey, error) {
	var keys []query.SortKey
	for _, spec := range specs {
		field, dir, hasDir := strings.Cut(spec, ":")
		if field == "" {
			return nil, usagef("--sort wants field[:asc|desc], got %q", spec)
		}
		key := query.SortKey{Field: field}
		if hasDir {
			switch dir {
			case "asc":
			case "desc":
				key.Desc = true
			default:
				return nil, usagef("--sort direction %q: want asc or desc", dir)
			}
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func printLines(lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Println(line); err != nil {
			return err
		}
	}
	return nil
}
