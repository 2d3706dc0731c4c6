package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/greenroomlabs/envirodash/internal/control"
)

// Logger records timestamped environment readings and device states to
// CSV files with automatic rotation.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

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
	maxRowsPerFile = 100_000 // Rotate after 100k rows (~2.3 days at one row per 2s)
)

var csvHeader = []string{
	"timestamp", "temperature_c", "humidity_pct", "co2_ppm",
	"light_lux", "smoke", "pm25",
	"heating", "cooling", "humidify", "dehumidify",
	"ventilation", "close_vent",
}

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/envirodash"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 500*time.Millisecond {
		interval = 2 * time.Second // Default one row per tick
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
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

// Record writes a sample + device snapshot if the minimum interval has
// elapsed. A nil sample (serial mode with the link down) is skipped.
func (l *Logger) Record(sample *control.Sample, devices control.DeviceStates) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || sample == nil {
		return
	}

	now := time.Now()
	if now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	// Open/rotate file if needed
	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	row := buildRow(now, sample, devices)
	if err := l.writer.Write(row); err != nil {
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

	filename := fmt.Sprintf("envirodash_%s.csv", now.Format("2006-01-02_150405"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	// Write header
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

func buildRow(ts time.Time, s *control.Sample, d control.DeviceStates) []string {
	row := make([]string, len(csvHeader))

	row[0] = ts.Format(time.RFC3339)
	row[1] = fmt.Sprintf("%.1f", s.Temperature)
	row[2] = fmt.Sprintf("%.1f", s.Humidity)
	row[3] = fmt.Sprintf("%.0f", s.CO2)
	row[4] = fmt.Sprintf("%.0f", s.Light)
	row[5] = fmt.Sprintf("%.1f", s.Smoke)
	if s.PM25 != nil {
		row[6] = fmt.Sprintf("%.1f", *s.PM25)
	}
	row[7] = boolStr(d.Heating)
	row[8] = boolStr(d.Cooling)
	row[9] = boolStr(d.Humidify)
	row[10] = boolStr(d.Dehumidify)
	row[11] = boolStr(d.Ventilation)
	row[12] = boolStr(d.CloseVent)

	return row
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
