// Package siphon drains the event log into the two destination stores.
// One consumer loop per process: records decode by topic, write to their
// store, and only then acknowledge. Records that cannot decode are parked
// in the error stream so the partition keeps moving.
package siphon

import (
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	json "github.com/goccy/go-json"

	"spectralog/internal/corrstore"
	"spectralog/internal/jsonlog"
	"spectralog/internal/platform/kafka/consumer"
	"spectralog/internal/spectrum"
)

// Decoder turns raw records into store-shaped documents. It is pure
// apart from skip logging: no I/O, safe for concurrent use.
type Decoder struct {
	logger *slog.Logger
}

func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// wireInquiry is the structured-topic envelope. Request, response and
// config stay raw: their digests are taken over the exact received
// bytes, and the documents land in JSONB columns untouched.
type wireInquiry struct {
	Version        string          `json:"version"`
	AFCServer      string          `json:"afcServer"`
	RxTime         time.Time       `json:"rxTime"`
	DurationMs     int             `json:"durationMs"`
	APIP           string          `json:"apIP"`
	MTLSDN         string          `json:"mtlsDN"`
	RuntimeOpts    int             `json:"runtimeOpts"`
	ULSDataVersion string          `json:"ulsDataVersion"`
	GeoDataVersion string          `json:"geoDataVersion"`
	Request        json.RawMessage `json:"request"`
	Response       json.RawMessage `json:"response"`
	Config         json.RawMessage `json:"config"`
}

type wireRequest struct {
	RequestID        string          `json:"requestId"`
	DeviceDescriptor json.RawMessage `json:"deviceDescriptor"`
	Location         json.RawMessage `json:"location"`
}

type wireDevice struct {
	SerialNumber    string          `json:"serialNumber"`
	CertificationID json.RawMessage `json:"certificationId"`
}

type wirePoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type wireLocation struct {
	Ellipse *struct {
		Center    *wirePoint `json:"center"`
		MajorAxis *float64   `json:"majorAxis"`
	} `json:"ellipse"`
	LinearPolygon *struct {
		OuterBoundary []wirePoint `json:"outerBoundary"`
	} `json:"linearPolygon"`
	RadialPolygon *struct {
		Center *wirePoint `json:"center"`
	} `json:"radialPolygon"`
	Elevation *struct {
		Height     *float64 `json:"height"`
		HeightType string   `json:"heightType"`
	} `json:"elevation"`
}

type wireResponse struct {
	RequestID string `json:"requestId"`
	RulesetID string `json:"rulesetId"`
	Response  *struct {
		ResponseCode     int    `json:"responseCode"`
		ShortDescription string `json:"shortDescription"`
		SupplementalInfo string `json:"supplementalInfo"`
	} `json:"response"`
	AvailableFrequencyInfo []struct {
		FrequencyRange struct {
			LowFrequency  float64 `json:"lowFrequency"`
			HighFrequency float64 `json:"highFrequency"`
		} `json:"frequencyRange"`
		MaxPSD float64 `json:"maxPsd"`
	} `json:"availableFrequencyInfo"`
	AvailableChannelInfo []struct {
		GlobalOperatingClass int       `json:"globalOperatingClass"`
		ChannelCfi           []int     `json:"channelCfi"`
		MaxEirp              []float64 `json:"maxEirp"`
	} `json:"availableChannelInfo"`
}

type wireConfig struct {
	RegionID string `json:"regionId"`
}

// Inquiry decodes a structured-topic record into a correlated entry.
// Errors mean the payload cannot produce a complete entry and belongs
// in the error stream.
func (d *Decoder) Inquiry(msg *consumer.Message) (*corrstore.Entry, error) {
	var w wireInquiry
	if err := json.Unmarshal(msg.Value, &w); err != nil {
		return nil, fmt.Errorf("unmarshal inquiry envelope: %w", err)
	}
	if w.AFCServer == "" {
		return nil, fmt.Errorf("inquiry envelope missing afcServer")
	}
	if len(w.Request) == 0 {
		return nil, fmt.Errorf("inquiry envelope missing request")
	}
	if len(w.Response) == 0 {
		return nil, fmt.Errorf("inquiry envelope missing response")
	}

	var req wireRequest
	if err := json.Unmarshal(w.Request, &req); err != nil {
		return nil, fmt.Errorf("unmarshal request document: %w", err)
	}
	if req.RequestID == "" {
		return nil, fmt.Errorf("request document missing requestId")
	}
	var resp wireResponse
	if err := json.Unmarshal(w.Response, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response document: %w", err)
	}

	e := &corrstore.Entry{
		Digest:      corrstore.Digest(msg.Value),
		Server:      w.AFCServer,
		RequestID:   req.RequestID,
		RxTime:      w.RxTime.UTC(),
		DurationMs:  w.DurationMs,
		MTLSDN:      w.MTLSDN,
		RuntimeOpts: w.RuntimeOpts,
		Ruleset:     resp.RulesetID,
		ULSVersion:  w.ULSDataVersion,
		GeoVersion:  w.GeoDataVersion,
		Request:     append([]byte(nil), w.Request...),
		Response:    append([]byte(nil), w.Response...),
	}
	if w.RxTime.IsZero() {
		e.RxTime = msg.Timestamp.UTC()
	}
	if w.APIP != "" {
		ip, err := netip.ParseAddr(w.APIP)
		if err != nil {
			return nil, fmt.Errorf("parse apIP: %w", err)
		}
		e.APIP = &ip
	}
	if resp.Response != nil {
		e.ResponseCode = resp.Response.ResponseCode
		e.ResponseDescription = resp.Response.ShortDescription
		e.ResponseSupplemental = resp.Response.SupplementalInfo
	}

	if len(req.DeviceDescriptor) > 0 {
		var dev wireDevice
		if err := json.Unmarshal(req.DeviceDescriptor, &dev); err != nil {
			return nil, fmt.Errorf("unmarshal deviceDescriptor: %w", err)
		}
		e.Device = &corrstore.DeviceDescriptor{
			Digest:         corrstore.Digest(req.DeviceDescriptor),
			SerialNumber:   dev.SerialNumber,
			Certifications: dev.CertificationID,
		}
	}
	if len(req.Location) > 0 {
		loc, err := decodeLocation(req.Location)
		if err != nil {
			return nil, err
		}
		e.Location = loc
	}
	if len(w.Config) > 0 {
		var cfg wireConfig
		if err := json.Unmarshal(w.Config, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config document: %w", err)
		}
		e.Config = &corrstore.Config{
			Digest: corrstore.Digest(w.Config),
			Region: cfg.RegionID,
			Raw:    append([]byte(nil), w.Config...),
		}
	}

	e.EIRP = d.expandChannels(msg.Topic, resp)
	for _, fi := range resp.AvailableFrequencyInfo {
		e.PSD = append(e.PSD, corrstore.PSDGrant{
			LowMHz:    fi.FrequencyRange.LowFrequency,
			HighMHz:   fi.FrequencyRange.HighFrequency,
			PSDdBmMHz: fi.MaxPSD,
		})
	}
	return e, nil
}

// expandChannels pairs channelCfi with maxEirp and denormalizes each
// grant to its frequency bounds. Grants outside the channel table are
// dropped rather than failing the whole entry.
func (d *Decoder) expandChannels(topic string, resp wireResponse) []corrstore.EIRPGrant {
	var grants []corrstore.EIRPGrant
	for _, ci := range resp.AvailableChannelInfo {
		n := len(ci.ChannelCfi)
		if len(ci.MaxEirp) < n {
			n = len(ci.MaxEirp)
		}
		for i := 0; i < n; i++ {
			cfi := ci.ChannelCfi[i]
			bw, low, high, ok := spectrum.ChannelFrequency(ci.GlobalOperatingClass, cfi)
			if !ok {
				d.logger.Debug("dropping grant outside channel table",
					"topic", topic,
					"op_class", ci.GlobalOperatingClass,
					"cfi", cfi)
				continue
			}
			grants = append(grants, corrstore.EIRPGrant{
				OpClass:      ci.GlobalOperatingClass,
				Channel:      cfi,
				BandwidthMHz: bw,
				LowMHz:       low,
				HighMHz:      high,
				EIRPdBm:      ci.MaxEirp[i],
			})
		}
	}
	return grants
}

// decodeLocation reduces the request's location document to a point.
// The three shapes the protocol allows each carry a natural center:
// the ellipse and radial polygon declare one, the linear polygon uses
// its first boundary vertex.
func decodeLocation(raw json.RawMessage) (*corrstore.Location, error) {
	var wl wireLocation
	if err := json.Unmarshal(raw, &wl); err != nil {
		return nil, fmt.Errorf("unmarshal location document: %w", err)
	}

	var center *wirePoint
	var uncertainty *float64
	switch {
	case wl.Ellipse != nil && wl.Ellipse.Center != nil:
		center = wl.Ellipse.Center
		uncertainty = wl.Ellipse.MajorAxis
	case wl.RadialPolygon != nil && wl.RadialPolygon.Center != nil:
		center = wl.RadialPolygon.Center
	case wl.LinearPolygon != nil && len(wl.LinearPolygon.OuterBoundary) > 0:
		center = &wl.LinearPolygon.OuterBoundary[0]
	default:
		return nil, fmt.Errorf("location document has no usable point")
	}
	if center.Latitude < -90 || center.Latitude > 90 || center.Longitude < -180 || center.Longitude > 180 {
		return nil, fmt.Errorf("location point out of range: lat=%v lon=%v", center.Latitude, center.Longitude)
	}

	loc := &corrstore.Location{
		Digest:       corrstore.Digest(raw),
		Lat:          center.Latitude,
		Lon:          center.Longitude,
		UncertaintyM: uncertainty,
	}
	if wl.Elevation != nil {
		loc.ElevationM = wl.Elevation.Height
		loc.HeightType = wl.Elevation.HeightType
	}
	return loc, nil
}

// Generic decodes any non-structured topic into an event record. The
// payload is kept verbatim; only well-formedness is checked. Envelope
// time and source are honored when the payload carries them, otherwise
// the record's own timestamp and coordinates stand in.
func (d *Decoder) Generic(msg *consumer.Message) (*jsonlog.Event, error) {
	if !json.Valid(msg.Value) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	ev := &jsonlog.Event{
		Topic:  msg.Topic,
		Time:   msg.Timestamp.UTC(),
		Source: fmt.Sprintf("%s@%d", msg.Topic, msg.Partition),
		Log:    append([]byte(nil), msg.Value...),
	}
	if ev.Time.IsZero() || ev.Time.Unix() <= 0 {
		ev.Time = time.Now().UTC()
	}

	var env struct {
		Time   string `json:"time"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal(msg.Value, &env); err == nil {
		if env.Source != "" {
			ev.Source = env.Source
		}
		if env.Time != "" {
			if t, err := time.Parse(time.RFC3339Nano, env.Time); err == nil {
				ev.Time = t.UTC()
			}
		}
	}
	return ev, nil
}
