package query

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectralog/internal/geo"
	"spectralog/internal/spectrum"
)

var compileNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func mustCompile(t *testing.T, req *Request) *compiled {
	t.Helper()
	c, err := compile(req, compileNow)
	require.NoError(t, err)
	return c
}

// TestCompileCorr pins the correlated-store compiler: placeholder
// discipline, half-open time bounds, and the WHERE, ORDER BY, LIMIT
// clause order.
func TestCompileCorr(t *testing.T) {
	t.Run("default projection and natural time order", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreCorrLog})
		assert.Contains(t, c.SQL, `m.rx_time AS "time"`)
		assert.Contains(t, c.SQL, "FROM inquiry_message m")
		assert.Contains(t, c.SQL, "LEFT JOIN request_location l")
		assert.True(t, strings.HasSuffix(c.SQL, "ORDER BY m.rx_time ASC"), c.SQL)
		assert.Equal(t, []string{"time", "server", "request_id", "serial", "region", "ruleset", "code", "description"}, c.Cols)
		assert.Empty(t, c.Args)
	})

	t.Run("time window is half open", func(t *testing.T) {
		from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
		c := mustCompile(t, &Request{Store: StoreCorrLog, Filters: []Filter{TimeRange{From: from, To: to}}})
		assert.Contains(t, c.SQL, "m.rx_time >= $1")
		assert.Contains(t, c.SQL, "m.rx_time < $2")
		assert.Equal(t, []any{from, to}, c.Args)
	})

	t.Run("max age anchors to the reference instant", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreCorrLog, Filters: []Filter{MaxAge{Age: time.Hour}}})
		assert.Contains(t, c.SQL, "m.rx_time >= $1")
		assert.Equal(t, []any{compileNow.Add(-time.Hour)}, c.Args)
	})

	t.Run("field match equality and negation", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreCorrLog, Filters: []Filter{
			FieldMatch{Field: "region", Value: "US_47_CFR_PART_15_SUBPART_E"},
			FieldMatch{Field: "serial", Value: "SN-1", Negate: true},
		}})
		assert.Contains(t, c.SQL, "c.region = $1")
		assert.Contains(t, c.SQL, "d.serial_number IS DISTINCT FROM $2")
	})

	t.Run("certification match uses containment", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreCorrLog, Filters: []Filter{FieldMatch{Field: "cert", Value: "FCC-007"}}})
		assert.Contains(t, c.SQL, "d.certifications @> jsonb_build_array(jsonb_build_object('id', $1::text))")
		assert.Equal(t, []any{"FCC-007"}, c.Args)
	})

	t.Run("response code parses to an integer parameter", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreCorrLog, Filters: []Filter{FieldMatch{Field: "code", Value: "101"}}})
		assert.Contains(t, c.SQL, "m.response_code = $1")
		assert.Equal(t, []any{101}, c.Args)

		_, err := compile(&Request{Store: StoreCorrLog, Filters: []Filter{FieldMatch{Field: "code", Value: "ok"}}}, compileNow)
		assert.ErrorIs(t, err, ErrUsage)
	})

	t.Run("option flags resolve by name to bit tests", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreCorrLog, Filters: []Filter{FieldMatch{Field: "opts", Value: "gui"}}})
		assert.Contains(t, c.SQL, "(m.runtime_opts & $1) <> 0")
		assert.Equal(t, []any{1}, c.Args)

		c = mustCompile(t, &Request{Store: StoreCorrLog, Filters: []Filter{FieldMatch{Field: "opts", Value: "nocache", Negate: true}}})
		assert.Contains(t, c.SQL, "(m.runtime_opts & $1) = 0")
		assert.Equal(t, []any{2}, c.Args)

		_, err := compile(&Request{Store: StoreCorrLog, Filters: []Filter{FieldMatch{Field: "opts", Value: "turbo"}}}, compileNow)
		assert.ErrorIs(t, err, ErrUsage)
	})

	t.Run("unknown field is a usage error", func(t *testing.T) {
		_, err := compile(&Request{Store: StoreCorrLog, Filters: []Filter{FieldMatch{Field: "color", Value: "red"}}}, compileNow)
		require.ErrorIs(t, err, ErrUsage)
		assert.Contains(t, err.Error(), `unknown filter field "color"`)
	})

	t.Run("distance compiles to ST_DWithin in meters", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreCorrLog, Filters: []Filter{
			Distance{Origin: geo.Point{Lat: 40.7, Lon: -74.0}, MaxKm: 25},
		}})
		assert.Contains(t, c.SQL, "ST_DWithin(l.point, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)")
		assert.Equal(t, []any{-74.0, 40.7, 25000.0}, c.Args)
	})

	t.Run("keyhole compiles to ST_CoveredBy over the anchored ring", func(t *testing.T) {
		tmpl := geo.Template{Name: "k", Vertices: []geo.Vertex{
			{BearingOffsetDeg: -30, DistanceKm: 10},
			{BearingOffsetDeg: 0, DistanceKm: 20},
			{BearingOffsetDeg: 30, DistanceKm: 10},
		}}
		shape, err := geo.Anchor(tmpl, geo.Point{Lat: 40, Lon: -74}, 90)
		require.NoError(t, err)

		c := mustCompile(t, &Request{Store: StoreCorrLog, Filters: []Filter{Keyhole{Shape: shape}}})
		assert.Contains(t, c.SQL, "ST_CoveredBy(l.point, ST_GeogFromText($1))")
		require.Len(t, c.Args, 1)
		wkt, ok := c.Args[0].(string)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(wkt, "POLYGON(("), wkt)
	})

	t.Run("channel set requires matching bandwidth", func(t *testing.T) {
		set, err := spectrum.ParseSet("5")
		require.NoError(t, err)
		c := mustCompile(t, &Request{Store: StoreCorrLog, Filters: []Filter{FrequencySet{Set: set}}})
		assert.Contains(t, c.SQL, "g.bandwidth_mhz = $3")
		assert.Contains(t, c.SQL, "g.low_mhz < $2 AND g.high_mhz > $1")
		assert.NotContains(t, c.SQL, "max_psd")
		assert.Equal(t, []any{5965.0, 5985.0, 20}, c.Args)
	})

	t.Run("raw frequency set overlaps either grant table", func(t *testing.T) {
		set, err := spectrum.ParseSet("6100-6130")
		require.NoError(t, err)
		c := mustCompile(t, &Request{Store: StoreCorrLog, Filters: []Filter{FrequencySet{Set: set}}})
		assert.Contains(t, c.SQL, "FROM max_eirp g")
		assert.Contains(t, c.SQL, "FROM max_psd p")
		assert.NotContains(t, c.SQL, "bandwidth_mhz")
		assert.Equal(t, []any{6100.0, 6130.0}, c.Args)
	})

	t.Run("limit comes after order by", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreCorrLog, MaxCount: 10, SortKeys: []SortKey{{Field: "code", Desc: true}}})
		orderAt := strings.Index(c.SQL, "ORDER BY m.response_code DESC")
		limitAt := strings.Index(c.SQL, "LIMIT $1")
		require.GreaterOrEqual(t, orderAt, 0, c.SQL)
		require.GreaterOrEqual(t, limitAt, 0, c.SQL)
		assert.Less(t, orderAt, limitAt)
		assert.Equal(t, []any{10}, c.Args)
	})

	t.Run("negative max count is a usage error", func(t *testing.T) {
		_, err := compile(&Request{Store: StoreCorrLog, MaxCount: -1}, compileNow)
		assert.ErrorIs(t, err, ErrUsage)
	})

	t.Run("distinct dedupes the projection", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreCorrLog, Columns: []string{"region"}, Distinct: true})
		assert.True(t, strings.HasPrefix(c.SQL, "SELECT DISTINCT "), c.SQL)
		assert.NotContains(t, c.SQL, "ORDER BY", "time is not projected, no implied order")
	})

	t.Run("distinct sort must stay inside the projection", func(t *testing.T) {
		_, err := compile(&Request{
			Store:    StoreCorrLog,
			Columns:  []string{"region"},
			Distinct: true,
			SortKeys: []SortKey{{Field: "time"}},
		}, compileNow)
		require.ErrorIs(t, err, ErrUsage)
		assert.Contains(t, err.Error(), "projected")
	})

	t.Run("unknown projection column is a usage error", func(t *testing.T) {
		_, err := compile(&Request{Store: StoreCorrLog, Columns: []string{"nope"}}, compileNow)
		assert.ErrorIs(t, err, ErrUsage)
	})
}

// TestCompileTimeRawExclusivity checks each combination of the
// time-window and free-form vocabularies; they exclude each other in
// both directions.
func TestCompileTimeRawExclusivity(t *testing.T) {
	raw := RawWhere{Clause: "response_code = 0"}
	window := TimeRange{From: compileNow.Add(-time.Hour)}
	age := MaxAge{Age: time.Hour}

	cases := []struct {
		name    string
		filters []Filter
		wantErr bool
	}{
		{"time range then raw", []Filter{window, raw}, true},
		{"raw then time range", []Filter{raw, window}, true},
		{"max age then raw", []Filter{age, raw}, true},
		{"raw then max age", []Filter{raw, age}, true},
		{"raw with both time forms", []Filter{window, age, raw}, true},
		{"raw alone is fine", []Filter{raw}, false},
		{"time range alone is fine", []Filter{window}, false},
		{"max age alone is fine", []Filter{age}, false},
		{"raw with a field match is fine", []Filter{raw, FieldMatch{Field: "region", Value: "US"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := compile(&Request{Store: StoreCorrLog, Filters: tc.filters}, compileNow)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrUsage)
				assert.Contains(t, err.Error(), "cannot be combined")
				return
			}
			require.NoError(t, err)
		})
	}
}

// TestCompileEvent covers per-topic table addressing and payload
// fields that exist only as JSON keys. Identifier quoting and the
// key-as-parameter rule are the injection boundary.
func TestCompileEvent(t *testing.T) {
	t.Run("topic resolves to a quoted table", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreEventLog, Topic: "device.metrics-v2"})
		assert.Contains(t, c.SQL, `FROM "device_metrics_v2"`)
		assert.Equal(t, []string{"time", "source", "log"}, c.Cols)
	})

	t.Run("missing topic is a usage error", func(t *testing.T) {
		_, err := compile(&Request{Store: StoreEventLog}, compileNow)
		require.ErrorIs(t, err, ErrUsage)
		assert.Contains(t, err.Error(), "need a topic")
	})

	t.Run("payload fields travel as parameters", func(t *testing.T) {
		c := mustCompile(t, &Request{
			Store:   StoreEventLog,
			Topic:   "device_metrics",
			Columns: []string{"time", "level"},
			Filters: []Filter{FieldMatch{Field: "level", Value: "error"}},
		})
		assert.Contains(t, c.SQL, `log->>$1 AS "level"`)
		assert.Contains(t, c.SQL, "log->>$2 = $3")
		assert.Equal(t, []any{"level", "level", "error"}, c.Args)
	})

	t.Run("source filters hit the column", func(t *testing.T) {
		c := mustCompile(t, &Request{
			Store:   StoreEventLog,
			Topic:   "device_metrics",
			Filters: []Filter{FieldMatch{Field: "source", Value: "sensor-9", Negate: true}},
		})
		assert.Contains(t, c.SQL, "source IS DISTINCT FROM $1")
	})

	t.Run("whole payload equality is rejected", func(t *testing.T) {
		_, err := compile(&Request{
			Store:   StoreEventLog,
			Topic:   "device_metrics",
			Filters: []Filter{FieldMatch{Field: "log", Value: "{}"}},
		}, compileNow)
		assert.ErrorIs(t, err, ErrUsage)
	})

	t.Run("spatial and frequency filters are correlated-store only", func(t *testing.T) {
		for _, f := range []Filter{
			Distance{Origin: geo.Point{Lat: 1, Lon: 1}, MaxKm: 1},
			FrequencySet{Set: spectrum.RangeSet{{BandwidthMHz: 20, LowMHz: 5945, HighMHz: 5965}}},
		} {
			_, err := compile(&Request{Store: StoreEventLog, Topic: "t", Filters: []Filter{f}}, compileNow)
			assert.ErrorIs(t, err, ErrUsage)
		}
	})

	t.Run("hostile payload field name is rejected", func(t *testing.T) {
		_, err := compile(&Request{
			Store:   StoreEventLog,
			Topic:   "t",
			Columns: []string{`x" FROM y; --`},
		}, compileNow)
		assert.ErrorIs(t, err, ErrUsage)
	})
}

// TestCompileErrors keeps the error stream narrow: anything beyond
// time and count filters fails loudly instead of silently scanning a
// relation it does not understand.
func TestCompileErrors(t *testing.T) {
	t.Run("defaults target the parked table", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreErrors})
		assert.Contains(t, c.SQL, `FROM "siphon_errors"`)
		assert.Equal(t, []string{"time", "topic", "source", "error"}, c.Cols)
	})

	t.Run("time and count filters pass", func(t *testing.T) {
		c := mustCompile(t, &Request{
			Store:    StoreErrors,
			Filters:  []Filter{MaxAge{Age: time.Hour}},
			MaxCount: 5,
		})
		assert.Contains(t, c.SQL, "time >= $1")
		assert.Contains(t, c.SQL, "LIMIT $2")
	})

	t.Run("anything else is rejected", func(t *testing.T) {
		for _, f := range []Filter{
			FieldMatch{Field: "topic", Value: "x"},
			RawWhere{Clause: "1=1"},
			Distance{Origin: geo.Point{Lat: 1, Lon: 1}, MaxKm: 1},
		} {
			_, err := compile(&Request{Store: StoreErrors, Filters: []Filter{f}}, compileNow)
			require.ErrorIs(t, err, ErrUsage)
			assert.Contains(t, err.Error(), "time and count only")
		}
	})

	t.Run("payload projects through a safe encoding", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreErrors, Columns: []string{"time", "payload"}})
		assert.Contains(t, c.SQL, "encode(payload, 'escape')")
	})
}

// TestCompileRawWhere verifies free-form bodies give up the implied
// ordering while explicit sort keys still apply.
func TestCompileRawWhere(t *testing.T) {
	t.Run("raw body gets no implied order", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreCorrLog, Filters: []Filter{RawWhere{Clause: "m.response_code <> 0"}}})
		assert.Contains(t, c.SQL, "(m.response_code <> 0)")
		assert.NotContains(t, c.SQL, "ORDER BY")
	})

	t.Run("explicit sort still applies", func(t *testing.T) {
		c := mustCompile(t, &Request{
			Store:    StoreCorrLog,
			Filters:  []Filter{RawWhere{Clause: "m.response_code <> 0"}},
			SortKeys: []SortKey{{Field: "time", Desc: true}},
		})
		assert.Contains(t, c.SQL, "ORDER BY m.rx_time DESC")
	})

	t.Run("empty body is a usage error", func(t *testing.T) {
		_, err := compile(&Request{Store: StoreCorrLog, Filters: []Filter{RawWhere{Clause: "   "}}}, compileNow)
		assert.ErrorIs(t, err, ErrUsage)
	})
}

// TestCompileCount verifies a count collapses the projection and drops
// ordering while the filter conditions still apply.
func TestCompileCount(t *testing.T) {
	t.Run("count keeps the filters", func(t *testing.T) {
		c := mustCompile(t, &Request{
			Store:   StoreErrors,
			Filters: []Filter{MaxAge{Age: time.Hour}},
			Count:   true,
		})
		assert.Equal(t, `SELECT count(*) AS count FROM "siphon_errors" WHERE time >= $1`, c.SQL)
		assert.Equal(t, []string{"count"}, c.Cols)
	})

	t.Run("count works on every store", func(t *testing.T) {
		c := mustCompile(t, &Request{Store: StoreCorrLog, Count: true})
		assert.Equal(t, "SELECT count(*) AS count FROM "+corrFrom, c.SQL)

		c = mustCompile(t, &Request{Store: StoreEventLog, Topic: "device_metrics", Count: true})
		assert.Equal(t, `SELECT count(*) AS count FROM "device_metrics"`, c.SQL)
	})

	t.Run("count excludes the row-shaping knobs", func(t *testing.T) {
		for _, req := range []*Request{
			{Store: StoreErrors, Count: true, Columns: []string{"topic"}},
			{Store: StoreErrors, Count: true, SortKeys: []SortKey{{Field: "time"}}},
			{Store: StoreErrors, Count: true, Distinct: true},
			{Store: StoreErrors, Count: true, MaxCount: 3},
		} {
			_, err := compile(req, compileNow)
			require.ErrorIs(t, err, ErrUsage)
			assert.Contains(t, err.Error(), "count cannot be combined")
		}
	})
}
