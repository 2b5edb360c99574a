package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/betavtx/internal/vtx"
)

// Logger records timestamped VTX status snapshots to CSV files with
// automatic rotation.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool
	now      func() time.Time

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000 // ~14 hrs at 2 Hz
)

var csvHeader = []string{
	"timestamp", "protocol", "ready", "state", "version",
	"frequency_mhz", "band", "channel", "power_mw", "pit_mode", "pit_frequency_mhz",
	"temperature_c", "race_locked",
	"packets_sent", "packets_received", "crc_errors", "bad_length", "bad_preamble",
	"queue_drops", "retransmits", "timeouts", "tx_errors",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/vtxd"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 50*time.Millisecond {
		interval = 500 * time.Millisecond // Default 2 Hz
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		now:      time.Now,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes a status snapshot if the minimum interval has elapsed.
func (l *Logger) Record(st vtx.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	now := l.now()
	if now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(now, st)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("vtx_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ts time.Time, s vtx.Status) []string {
	c := s.Counters
	return []string{
		ts.Format(time.RFC3339Nano),
		s.Protocol.String(),
		boolStr(s.Ready),
		s.State,
		s.Version,
		strconv.Itoa(int(s.Frequency)),
		vtx.BandName(s.Band),
		strconv.Itoa(s.Channel),
		strconv.Itoa(int(s.Power)),
		boolStr(s.PitMode),
		strconv.Itoa(int(s.PitFreq)),
		strconv.Itoa(int(s.Temperature)),
		boolStr(s.RaceLocked),
		u32(c.PacketsSent),
		u32(c.PacketsReceived),
		u32(c.CRCErrors),
		u32(c.BadLength),
		u32(c.BadPreamble),
		u32(c.QueueDrops),
		u32(c.Retransmits),
		u32(c.Timeouts),
		u32(c.TxErrors),
	}
}

func u32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
