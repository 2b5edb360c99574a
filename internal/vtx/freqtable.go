package vtx

// Frequency limits accepted by every setter, in MHz.
const (
	MinFrequencyMHz = 5000
	MaxFrequencyMHz = 5999
)

// Analog 5.8 GHz band numbers as used by Betaflight vtx tables.
const (
	BandA = 1 // Boscam A
	BandB = 2 // Boscam B
	BandE = 3 // Boscam E
	BandF = 4 // Fatshark / NexWave
	BandR = 5 // Raceband

	MinBand    = BandA
	MaxBand    = BandR
	MinChannel = 1
	MaxChannel = 8
)

var freqTable = [MaxBand][MaxChannel]uint16{
	{5865, 5845, 5825, 5805, 5785, 5765, 5745, 5725}, // A
	{5733, 5752, 5771, 5790, 5809, 5828, 5847, 5866}, // B
	{5705, 5685, 5665, 5645, 5885, 5905, 5925, 5945}, // E
	{5740, 5760, 5780, 5800, 5820, 5840, 5860, 5880}, // F
	{5658, 5695, 5732, 5769, 5806, 5843, 5880, 5917}, // R
}

var bandNames = [MaxBand]string{"A", "B", "E", "F", "R"}

// BandChannelToFrequency returns the frequency in MHz for a 1-based band
// and channel, or 0 when either is out of range.
func BandChannelToFrequency(band, channel int) uint16 {
	if !ValidBandChannel(band, channel) {
		return 0
	}
	return freqTable[band-MinBand][channel-MinChannel]
}

// FrequencyToBandChannel finds the first band/channel (in band order) that
// maps to mhz. Raceband 7 and Fatshark 8 share 5880; Fatshark wins.
func FrequencyToBandChannel(mhz uint16) (band, channel int, ok bool) {
	for b := range freqTable {
		for c, f := range freqTable[b] {
			if f == mhz {
				return b + MinBand, c + MinChannel, true
			}
		}
	}
	return 0, 0, false
}

// ValidBandChannel reports whether band and channel are inside the table.
func ValidBandChannel(band, channel int) bool {
	return band >= MinBand && band <= MaxBand &&
		channel >= MinChannel && channel <= MaxChannel
}

// ValidFrequency reports whether mhz is inside the supported 5.8 GHz range.
func ValidFrequency(mhz uint16) bool {
	return mhz >= MinFrequencyMHz && mhz <= MaxFrequencyMHz
}

// BandName returns the single letter name of a band, or "" if invalid.
func BandName(band int) string {
	if band < MinBand || band > MaxBand {
		return ""
	}
	return bandNames[band-MinBand]
}
