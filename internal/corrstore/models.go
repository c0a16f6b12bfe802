// Package corrstore persists correlated log entries into the fixed-shape
// store. Rows are content-addressed: every document is keyed by the
// sha256 of its wire bytes, so redelivered records collapse onto the
// rows they already produced.
package corrstore

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
	"time"
)

// Digest returns the content address for a wire document: the sha256 of
// its bytes, hex encoded.
func Digest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// DeviceDescriptor is the requesting device's identity document.
type DeviceDescriptor struct {
	Digest         string
	SerialNumber   string
	Certifications []byte // [{rulesetId, id}] as received
}

// Location is the request location reduced to a point with uncertainty.
type Location struct {
	Digest       string
	Lat          float64
	Lon          float64
	ElevationM   *float64
	UncertaintyM *float64
	HeightType   string
}

// Config is the server configuration in effect for the inquiry.
type Config struct {
	Digest string
	Region string
	Raw    []byte
}

// EIRPGrant is one granted channel with its power limit. Frequency
// bounds are denormalized from the channel table at decode time.
type EIRPGrant struct {
	OpClass      int
	Channel      int
	BandwidthMHz int
	LowMHz       float64
	HighMHz      float64
	EIRPdBm      float64
}

// PSDGrant is one granted frequency range with its PSD limit.
type PSDGrant struct {
	LowMHz    float64
	HighMHz   float64
	PSDdBmMHz float64
}

// Entry is one complete correlated log entry: the inquiry round trip
// plus the configuration lookups it references.
type Entry struct {
	Digest      string // whole wire record
	Server      string
	RequestID   string
	RxTime      time.Time
	DurationMs  int
	APIP        *netip.Addr
	MTLSDN      string
	RuntimeOpts int
	Ruleset     string
	ULSVersion  string
	GeoVersion  string

	ResponseCode         int
	ResponseDescription  string
	ResponseSupplemental string

	Request  []byte // full request document
	Response []byte // full response document

	Device   *DeviceDescriptor
	Location *Location
	Config   *Config

	EIRP []EIRPGrant
	PSD  []PSDGrant
}

// Runtime option bits carried in Entry.RuntimeOpts.
const (
	OptGUI      = 1 << 0 // interactive GUI request
	OptNoCache  = 1 << 1 // response cache bypassed
	OptDebug    = 1 << 2 // debug requested
	OptExtDebug = 1 << 3 // extended debug requested
)
