//go:build integration

package corrstore_test

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"spectralog/internal/corrstore"
	"spectralog/pkg/testutil/containers"
)

type StoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *corrstore.Store
}

func TestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = corrstore.New(s.postgres.Corr, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *StoreSuite) SetupTest() {
	ctx := context.Background()
	// Truncate in dependency order
	err := s.postgres.TruncateCorr(ctx,
		"max_psd", "max_eirp", "inquiry_message",
		"request_location", "device_descriptor", "afc_config", "afc_server",
	)
	s.Require().NoError(err)
}

// newTestEntry builds a complete entry whose digests derive from seed,
// so distinct seeds produce distinct rows and equal seeds replay.
func newTestEntry(seed string) *corrstore.Entry {
	raw := []byte(`{"seed":"` + seed + `"}`)
	deviceDoc := []byte(`{"serialNumber":"SN-` + seed + `"}`)
	locationDoc := []byte(`{"loc":"` + seed + `"}`)
	configDoc := []byte(`{"regionId":"US"}`)

	ip := netip.MustParseAddr("192.0.2.7")
	elevation := 12.5
	uncertainty := 50.0

	return &corrstore.Entry{
		Digest:      corrstore.Digest(raw),
		Server:      "afc-us-east-1",
		RequestID:   "req-" + seed,
		RxTime:      time.Date(2026, 8, 25, 17, 4, 5, 0, time.UTC),
		DurationMs:  212,
		APIP:        &ip,
		MTLSDN:      "CN=ap-" + seed,
		RuntimeOpts: corrstore.OptGUI | corrstore.OptDebug,
		Ruleset:     "US_47_CFR_PART_15_SUBPART_E",
		ULSVersion:  "uls-2026-08-20",
		GeoVersion:  "geo-2026-07-01",

		ResponseCode:        0,
		ResponseDescription: "SUCCESS",

		Request:  []byte(`{"requestId":"req-` + seed + `"}`),
		Response: []byte(`{"requestId":"req-` + seed + `","response":{"responseCode":0}}`),

		Device: &corrstore.DeviceDescriptor{
			Digest:         corrstore.Digest(deviceDoc),
			SerialNumber:   "SN-" + seed,
			Certifications: []byte(`[{"rulesetId":"US_47_CFR_PART_15_SUBPART_E","id":"FCCID-` + seed + `"}]`),
		},
		Location: &corrstore.Location{
			Digest:       corrstore.Digest(locationDoc),
			Lat:          40.7128,
			Lon:          -74.0060,
			ElevationM:   &elevation,
			UncertaintyM: &uncertainty,
			HeightType:   "AGL",
		},
		Config: &corrstore.Config{
			Digest: corrstore.Digest(configDoc),
			Region: "US",
			Raw:    configDoc,
		},

		EIRP: []corrstore.EIRPGrant{
			{OpClass: 133, Channel: 7, BandwidthMHz: 80, LowMHz: 5945, HighMHz: 6025, EIRPdBm: 30},
			{OpClass: 133, Channel: 23, BandwidthMHz: 80, LowMHz: 6025, HighMHz: 6105, EIRPdBm: 29.5},
		},
		PSD: []corrstore.PSDGrant{
			{LowMHz: 5925, HighMHz: 6425, PSDdBmMHz: 17.5},
		},
	}
}

func (s *StoreSuite) countRows(table string) int {
	var n int
	err := s.postgres.Corr.QueryRow(context.Background(), "SELECT count(*) FROM "+table).Scan(&n)
	s.Require().NoError(err)
	return n
}

// TestAppendWritesCompleteEntry verifies the transactional write lands
// the message row, the lookup documents, and every grant.
func (s *StoreSuite) TestAppendWritesCompleteEntry() {
	ctx := context.Background()
	entry := newTestEntry("alpha")

	s.Require().NoError(s.store.Append(ctx, entry))

	var (
		server   string
		reqID    string
		rxTime   time.Time
		duration int
		apIP     string
		opts     int
		code     int
	)
	err := s.postgres.Corr.QueryRow(ctx, `
		SELECT srv.name, m.request_id, m.rx_time, m.duration_ms,
		       m.ap_ip::text, m.runtime_opts, m.response_code
		FROM inquiry_message m
		JOIN afc_server srv ON srv.id = m.server_id
		WHERE m.digest = $1
	`, entry.Digest).Scan(&server, &reqID, &rxTime, &duration, &apIP, &opts, &code)
	s.Require().NoError(err)

	s.Equal("afc-us-east-1", server)
	s.Equal("req-alpha", reqID)
	s.True(entry.RxTime.Equal(rxTime))
	s.Equal(212, duration)
	s.Equal("192.0.2.7", apIP)
	s.Equal(corrstore.OptGUI|corrstore.OptDebug, opts)
	s.Equal(0, code)

	s.Equal(1, s.countRows("device_descriptor"))
	s.Equal(1, s.countRows("request_location"))
	s.Equal(1, s.countRows("afc_config"))
	s.Equal(2, s.countRows("max_eirp"))
	s.Equal(1, s.countRows("max_psd"))
}

// TestLocationPointRoundTrip verifies the geography point is stored
// with the right axis order.
func (s *StoreSuite) TestLocationPointRoundTrip() {
	ctx := context.Background()
	entry := newTestEntry("geo")

	s.Require().NoError(s.store.Append(ctx, entry))

	var lat, lon float64
	err := s.postgres.Corr.QueryRow(ctx, `
		SELECT ST_Y(point::geometry), ST_X(point::geometry)
		FROM request_location WHERE digest = $1
	`, entry.Location.Digest).Scan(&lat, &lon)
	s.Require().NoError(err)

	s.InDelta(40.7128, lat, 1e-6)
	s.InDelta(-74.0060, lon, 1e-6)
}

// TestReplayCollapsesOntoExistingRows verifies that appending the same
// entry twice leaves exactly the rows of one append.
func (s *StoreSuite) TestReplayCollapsesOntoExistingRows() {
	ctx := context.Background()
	entry := newTestEntry("replay")

	s.Require().NoError(s.store.Append(ctx, entry))
	s.Require().NoError(s.store.Append(ctx, entry))

	s.Equal(1, s.countRows("inquiry_message"))
	s.Equal(1, s.countRows("afc_server"))
	s.Equal(1, s.countRows("device_descriptor"))
	s.Equal(1, s.countRows("request_location"))
	s.Equal(1, s.countRows("afc_config"))
	s.Equal(2, s.countRows("max_eirp"))
	s.Equal(1, s.countRows("max_psd"))
}

// TestSharedDocumentsDeduplicate verifies distinct entries referencing
// the same device and config documents share one lookup row.
func (s *StoreSuite) TestSharedDocumentsDeduplicate() {
	ctx := context.Background()

	first := newTestEntry("one")
	second := newTestEntry("two")
	second.Device = first.Device
	second.Config = first.Config

	s.Require().NoError(s.store.Append(ctx, first))
	s.Require().NoError(s.store.Append(ctx, second))

	s.Equal(2, s.countRows("inquiry_message"))
	s.Equal(1, s.countRows("afc_server"))
	s.Equal(1, s.countRows("device_descriptor"))
	s.Equal(2, s.countRows("request_location"))
	s.Equal(1, s.countRows("afc_config"))
}

// TestEntryWithoutOptionalDocuments verifies a minimal inquiry lands
// with NULL document references and no grants.
func (s *StoreSuite) TestEntryWithoutOptionalDocuments() {
	ctx := context.Background()

	entry := newTestEntry("bare")
	entry.Device = nil
	entry.Location = nil
	entry.Config = nil
	entry.APIP = nil
	entry.EIRP = nil
	entry.PSD = nil

	s.Require().NoError(s.store.Append(ctx, entry))

	var deviceDigest, locationDigest, configDigest, apIP *string
	err := s.postgres.Corr.QueryRow(ctx, `
		SELECT device_digest, location_digest, config_digest, ap_ip::text
		FROM inquiry_message WHERE digest = $1
	`, entry.Digest).Scan(&deviceDigest, &locationDigest, &configDigest, &apIP)
	s.Require().NoError(err)

	s.Nil(deviceDigest)
	s.Nil(locationDigest)
	s.Nil(configDigest)
	s.Nil(apIP)
	s.Equal(0, s.countRows("max_eirp"))
	s.Equal(0, s.countRows("max_psd"))
}

// TestConcurrentReplay verifies concurrent redeliveries of one record
// all succeed and still produce a single row set.
func (s *StoreSuite) TestConcurrentReplay() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	var failures atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.Append(ctx, newTestEntry("race")); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(0), failures.Load(), "every replay should succeed")
	s.Equal(1, s.countRows("inquiry_message"))
	s.Equal(2, s.countRows("max_eirp"))
}

func (s *StoreSuite) TestHealthy() {
	s.NoError(s.store.Healthy(context.Background()))
}
