package smartaudio

// Version is the negotiated SmartAudio protocol revision.
type Version int

const (
	VersionUnknown Version = iota
	Version1
	Version2
	Version21
)

func (v Version) String() string {
	switch v {
	case Version1:
		return "1"
	case Version2:
		return "2"
	case Version21:
		return "2.1"
	}
	return ""
}

// powerLevel is one row of the standard SmartAudio power table.
type powerLevel struct {
	mw    uint16
	level byte // v1 wire value
	dbm   byte // v2.1 wire value
}

var powerTable = [...]powerLevel{
	{mw: 25, level: 7, dbm: 14},
	{mw: 200, level: 16, dbm: 23},
	{mw: 500, level: 25, dbm: 27},
	{mw: 800, level: 40, dbm: 29},
}

// powerIndex picks the highest table entry not above mw. Anything below
// the first entry maps to index 0.
func powerIndex(mw uint16) int {
	idx := 0
	for i, p := range powerTable {
		if p.mw <= mw {
			idx = i
		}
	}
	return idx
}

// encodePower converts a table index into the byte SET_POWER carries for v.
func encodePower(v Version, idx int) byte {
	p := powerTable[idx]
	switch v {
	case Version1:
		return p.level
	case Version21:
		return p.dbm | dBmFlag
	}
	return byte(idx)
}

// decodePower maps a settings-reply power byte back to mW (0 if unknown).
func decodePower(v Version, raw byte) uint16 {
	switch v {
	case VersionUnknown:
		return 0
	case Version1:
		for _, p := range powerTable {
			if p.level == raw {
				return p.mw
			}
		}
		return 0
	}
	if int(raw) < len(powerTable) {
		return powerTable[raw].mw
	}
	return 0
}
