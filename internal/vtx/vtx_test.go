package vtx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBandChannelToFrequency(t *testing.T) {
	testCases := []struct {
		name    string
		band    int
		channel int
		want    uint16
	}{
		{"raceband 3", BandR, 3, 5732},
		{"raceband 1", BandR, 1, 5658},
		{"band A 1", BandA, 1, 5865},
		{"band E 5", BandE, 5, 5885},
		{"fatshark 8", BandF, 8, 5880},
		{"invalid band", 6, 1, 0},
		{"zero band", 0, 1, 0},
		{"channel 0", BandA, 0, 0},
		{"channel 9", BandA, 9, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, BandChannelToFrequency(tc.band, tc.channel))
		})
	}
}

func TestFrequencyToBandChannel(t *testing.T) {
	band, ch, ok := FrequencyToBandChannel(5732)
	require.True(t, ok)
	require.Equal(t, BandR, band)
	require.Equal(t, 3, ch)

	band, ch, ok = FrequencyToBandChannel(5880)
	require.True(t, ok)
	require.Equal(t, BandF, band)
	require.Equal(t, 8, ch)

	_, _, ok = FrequencyToBandChannel(5000)
	require.False(t, ok)

	require.Equal(t, "R", BandName(BandR))
	require.Equal(t, "", BandName(7))
}

func TestValidFrequency(t *testing.T) {
	require.True(t, ValidFrequency(5000))
	require.True(t, ValidFrequency(5999))
	require.False(t, ValidFrequency(4999))
	require.False(t, ValidFrequency(6000))
	require.False(t, ValidFrequency(0))
}

func TestCRC8(t *testing.T) {
	// SmartAudio GET_SETTINGS request: AA 55 03 00 9F
	require.Equal(t, byte(0x9F), CRC8([]byte{0xAA, 0x55, 0x03, 0x00}))
	require.Equal(t, byte(0), CRC8(nil))
	require.Equal(t, byte(0x00), crc8Table[0])
	require.Equal(t, byte(crc8Poly), crc8Table[1])
	require.Equal(t, crc8Table[0x5A], CRC8([]byte{0x5A}))

	inputs := [][]byte{
		{0x00},
		{0xAA, 0x55, 0x09, 0x02, 0x16, 0x64},
		{0xAA, 0x55, 0x01, 0x05, 0x00, 0x01, 0x00, 0x16, 0xE9},
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	}
	for _, in := range inputs {
		frame := append(append([]byte{}, in...), CRC8(in))
		// Appending the CRC must validate.
		require.Equal(t, frame[len(frame)-1], CRC8(frame[:len(frame)-1]))
		// Any single bit flip, payload or trailer, must be caught.
		for i := range frame {
			for bit := 0; bit < 8; bit++ {
				bad := append([]byte{}, frame...)
				bad[i] ^= 1 << bit
				require.NotEqual(t, bad[len(bad)-1], CRC8(bad[:len(bad)-1]),
					"flip byte %d bit %d of % X", i, bit, frame)
			}
		}
	}
}

func TestTrampChecksum(t *testing.T) {
	frame := make([]byte, TrampFrameSize)
	frame[0] = 0x0F
	frame[1] = 'F'
	frame[2] = 0x6C
	frame[3] = 0x16
	sum := TrampChecksum(frame)
	require.Equal(t, byte('F'+0x6C+0x16), sum)

	// Header, checksum slot and terminator are outside the window.
	frame[0] = 0x10
	frame[TrampChecksumPos] = 0x55
	frame[TrampTermPos] = 0x01
	require.Equal(t, sum, TrampChecksum(frame))

	// Swapping bytes inside the window leaves the sum unchanged.
	swapped := append([]byte{}, frame...)
	swapped[2], swapped[3] = swapped[3], swapped[2]
	require.Equal(t, sum, TrampChecksum(swapped))

	// Corrupting any single byte in 1..13 changes it.
	for i := 1; i < TrampChecksumPos; i++ {
		bad := append([]byte{}, frame...)
		bad[i]++
		require.NotEqual(t, sum, TrampChecksum(bad), "byte %d", i)
	}
}

func TestSinceWraparound(t *testing.T) {
	require.Equal(t, uint32(10), Since(15, 5))
	require.Equal(t, uint32(20), Since(10, 0xFFFFFFF6))
}

func TestParseProtocol(t *testing.T) {
	p, err := ParseProtocol("SmartAudio")
	require.NoError(t, err)
	require.Equal(t, SmartAudio, p)

	p, err = ParseProtocol(" tramp ")
	require.NoError(t, err)
	require.Equal(t, Tramp, p)

	_, err = ParseProtocol("crsf")
	require.Error(t, err)

	var q Protocol
	require.NoError(t, q.UnmarshalText([]byte("tramp")))
	require.Equal(t, Tramp, q)
	b, err := q.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "tramp", string(b))
}
