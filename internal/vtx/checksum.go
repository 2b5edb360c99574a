package vtx

// crc8Poly is the CRC-8/DVB-S2 generator polynomial used by SmartAudio.
const crc8Poly = 0xD5

// TRAMP frame layout shared by the engine and the simulator.
const (
	TrampFrameSize   = 16
	TrampChecksumPos = 14
	TrampTermPos     = 15
)

var crc8Table = makeCRC8Table(crc8Poly)

func makeCRC8Table(poly byte) (t [256]byte) {
	for i := range t {
		crc := byte(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// CRC8 computes CRC-8/DVB-S2 (poly 0xD5, MSB first, init 0, no reflection).
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}

// TrampChecksum sums bytes 1..13 of a 16-byte TRAMP frame, mod 256.
// The header byte, the checksum slot and the terminator are excluded.
func TrampChecksum(frame []byte) byte {
	var sum byte
	for i := 1; i < TrampChecksumPos && i < len(frame); i++ {
		sum += frame[i]
	}
	return sum
}
