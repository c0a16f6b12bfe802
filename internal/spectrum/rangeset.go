package spectrum

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Range is one normalized (bandwidth, low, high) triple parsed from a
// specifier token. Bandwidth 0 means "any bandwidth": the triple originated
// from a raw MHz range rather than channel numbers.
type Range struct {
	BandwidthMHz int
	LowMHz       float64
	HighMHz      float64
}

// RangeSet is the parsed form of a frequency/channel specifier.
type RangeSet []Range

// ParseSet parses a comma-separated specifier where each token is one of:
//
//	137          a 20 MHz channel number
//	1-233        a channel-number range (both endpoints valid 20 MHz channels)
//	1-233:40     a channel-number range restricted to a bandwidth
//	6100-6130    a raw MHz range (endpoints that are not both channel numbers)
//
// Channel tokens expand through the 20 MHz table. The resulting set is sorted
// and overlapping same-bandwidth triples are merged.
func ParseSet(spec string) (RangeSet, error) {
	var set RangeSet
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		ranges, err := parseToken(token)
		if err != nil {
			return nil, err
		}
		set = append(set, ranges...)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("empty frequency/channel specifier %q", spec)
	}
	return set.normalize(), nil
}

func parseToken(token string) ([]Range, error) {
	body, bwPart, hasBW := strings.Cut(token, ":")

	lowPart, highPart, isRange := strings.Cut(body, "-")
	if !isRange {
		if hasBW {
			return nil, fmt.Errorf("bandwidth suffix requires a channel range, got %q", token)
		}
		cfi, err := strconv.Atoi(strings.TrimSpace(body))
		if err != nil {
			return nil, fmt.Errorf("invalid channel number %q", body)
		}
		low, high, ok := ChannelRange(cfi)
		if !ok {
			return nil, fmt.Errorf("channel %d is not a 20 MHz channel", cfi)
		}
		return []Range{{BandwidthMHz: 20, LowMHz: low, HighMHz: high}}, nil
	}

	lowPart = strings.TrimSpace(lowPart)
	highPart = strings.TrimSpace(highPart)

	a, aErr := strconv.Atoi(lowPart)
	b, bErr := strconv.Atoi(highPart)
	channelRange := aErr == nil && bErr == nil && IsTwentyMHzChannel(a) && IsTwentyMHzChannel(b)

	if hasBW && !channelRange {
		return nil, fmt.Errorf("bandwidth suffix requires channel endpoints, got %q", token)
	}

	if channelRange {
		if a > b {
			return nil, fmt.Errorf("channel range %q is inverted", token)
		}
		if hasBW {
			bw, err := strconv.Atoi(strings.TrimSpace(bwPart))
			if err != nil || !validBandwidth(bw) {
				return nil, fmt.Errorf("invalid bandwidth %q in %q", bwPart, token)
			}
			lowA, _, _ := ChannelRange(a)
			_, highB, _ := ChannelRange(b)
			return []Range{{BandwidthMHz: bw, LowMHz: lowA, HighMHz: highB}}, nil
		}
		var ranges []Range
		for _, cfi := range twentyMHzChannels {
			if cfi < a || cfi > b {
				continue
			}
			low, high, _ := ChannelRange(cfi)
			ranges = append(ranges, Range{BandwidthMHz: 20, LowMHz: low, HighMHz: high})
		}
		return ranges, nil
	}

	// Raw MHz range.
	low, lowErr := strconv.ParseFloat(lowPart, 64)
	high, highErr := strconv.ParseFloat(highPart, 64)
	if lowErr != nil || highErr != nil {
		return nil, fmt.Errorf("invalid frequency range %q", token)
	}
	if low >= high {
		return nil, fmt.Errorf("frequency range %q is inverted", token)
	}
	return []Range{{BandwidthMHz: 0, LowMHz: low, HighMHz: high}}, nil
}

func validBandwidth(bw int) bool {
	switch bw {
	case 20, 40, 80, 160, 320:
		return true
	}
	return false
}

// normalize sorts the set and merges overlapping or adjacent triples that
// share a bandwidth, yielding a canonical form independent of token order.
func (s RangeSet) normalize() RangeSet {
	if len(s) < 2 {
		return s
	}
	sort.Slice(s, func(i, j int) bool {
		if s[i].BandwidthMHz != s[j].BandwidthMHz {
			return s[i].BandwidthMHz < s[j].BandwidthMHz
		}
		if s[i].LowMHz != s[j].LowMHz {
			return s[i].LowMHz < s[j].LowMHz
		}
		return s[i].HighMHz < s[j].HighMHz
	})
	merged := RangeSet{s[0]}
	for _, r := range s[1:] {
		last := &merged[len(merged)-1]
		if r.BandwidthMHz == last.BandwidthMHz && r.LowMHz <= last.HighMHz {
			if r.HighMHz > last.HighMHz {
				last.HighMHz = r.HighMHz
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// overlaps reports half-open interval overlap.
func overlaps(aLow, aHigh, bLow, bHigh float64) bool {
	return aLow < bHigh && bLow < aHigh
}

// MatchesChannel reports whether a stored channel entry (bandwidth plus
// derived frequency bounds) intersects the set. Channel-origin triples only
// match entries of the same bandwidth; raw-frequency triples match any.
func (s RangeSet) MatchesChannel(bandwidthMHz int, lowMHz, highMHz float64) bool {
	for _, r := range s {
		if r.BandwidthMHz != 0 && r.BandwidthMHz != bandwidthMHz {
			continue
		}
		if overlaps(r.LowMHz, r.HighMHz, lowMHz, highMHz) {
			return true
		}
	}
	return false
}

// MatchesFrequency reports whether a stored frequency-range entry (no
// bandwidth, e.g. a PSD range) intersects the set. Only raw-frequency triples
// apply; channel-origin triples carry a bandwidth no frequency entry has.
func (s RangeSet) MatchesFrequency(lowMHz, highMHz float64) bool {
	for _, r := range s {
		if r.BandwidthMHz != 0 {
			continue
		}
		if overlaps(r.LowMHz, r.HighMHz, lowMHz, highMHz) {
			return true
		}
	}
	return false
}
