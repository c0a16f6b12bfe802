// Package spectrum implements the frequency/channel vocabulary shared by the
// ingestion writer and the query filter: the fixed 20 MHz channel-to-frequency
// table for the 5925-7125 MHz band, the global-operating-class bandwidth map,
// and the range-set specifier grammar.
package spectrum

// Channel center frequencies follow the band convention
// center = bandStartMHz + 5*cfi, with channel 2 as the lone exception.
const (
	bandStartMHz = 5950.0
	bandLowMHz   = 5925.0
	bandHighMHz  = 7125.0
)

// chan2CenterMHz is the center of the out-of-pattern 20 MHz channel 2.
const chan2CenterMHz = 5935.0

// opClassBandwidth maps a global operating class to its channel bandwidth in MHz.
var opClassBandwidth = map[int]int{
	131: 20,
	132: 40,
	133: 80,
	134: 160,
	135: 80,
	136: 20,
	137: 320,
}

// twentyMHzChannels lists the valid 20 MHz channel numbers: channel 2 plus the
// 1, 5, 9, ... 233 ladder. Built once; order is ascending.
var twentyMHzChannels = buildTwentyMHzChannels()

func buildTwentyMHzChannels() []int {
	chans := make([]int, 0, 60)
	chans = append(chans, 1, 2)
	for cfi := 5; cfi <= 233; cfi += 4 {
		chans = append(chans, cfi)
	}
	return chans
}

// IsTwentyMHzChannel reports whether cfi is a valid 20 MHz channel number.
func IsTwentyMHzChannel(cfi int) bool {
	if cfi == 2 {
		return true
	}
	return cfi >= 1 && cfi <= 233 && cfi%4 == 1
}

// ChannelRange returns the 20 MHz frequency bounds for a channel number from
// the fixed table. ok is false for channel numbers outside the table.
func ChannelRange(cfi int) (lowMHz, highMHz float64, ok bool) {
	if !IsTwentyMHzChannel(cfi) {
		return 0, 0, false
	}
	center := bandStartMHz + 5*float64(cfi)
	if cfi == 2 {
		center = chan2CenterMHz
	}
	return center - 10, center + 10, true
}

// OpClassBandwidth returns the channel bandwidth in MHz for a global operating
// class. ok is false for operating classes outside the band.
func OpClassBandwidth(opClass int) (int, bool) {
	bw, ok := opClassBandwidth[opClass]
	return bw, ok
}

// ChannelFrequency resolves an (operating class, channel) pair into its
// bandwidth and frequency bounds. Used by the correlated-store writer to
// denormalize frequency columns at ingest time so the query layer can compile
// channel filters to plain range predicates.
func ChannelFrequency(opClass, cfi int) (bandwidthMHz int, lowMHz, highMHz float64, ok bool) {
	bw, ok := opClassBandwidth[opClass]
	if !ok {
		return 0, 0, 0, false
	}
	center := bandStartMHz + 5*float64(cfi)
	if cfi == 2 && bw == 20 {
		center = chan2CenterMHz
	}
	low := center - float64(bw)/2
	high := center + float64(bw)/2
	if low < bandLowMHz || high > bandHighMHz {
		return 0, 0, 0, false
	}
	return bw, low, high, true
}
