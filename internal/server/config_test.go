package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/greenroomlabs/envirodash/internal/control"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	if cfg.Mode != string(control.ModeSimulation) {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("baud = %d", cfg.Serial.BaudRate)
	}
	if cfg.TickMs != 2000 {
		t.Errorf("tick = %d", cfg.TickMs)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen = %q", cfg.Server.ListenAddr)
	}
	if b := cfg.Thresholds["co2"]; b == nil || b.Max == nil || *b.Max != 1000 {
		t.Errorf("co2 threshold = %+v", b)
	}
}

func TestLoadConfig_FromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
mode: serial
serial:
  port_path: /dev/ttyACM3
  baud_rate: 57600
tick_ms: 500
server:
  listen_addr: ":9000"
mqtt:
  enabled: true
  broker: tcp://broker.local:1883
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig(path)
	if cfg.Mode != "serial" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Serial.PortPath != "/dev/ttyACM3" || cfg.Serial.BaudRate != 57600 {
		t.Errorf("serial = %+v", cfg.Serial)
	}
	if cfg.TickMs != 500 {
		t.Errorf("tick = %d", cfg.TickMs)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen = %q", cfg.Server.ListenAddr)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "tcp://broker.local:1883" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	// Unspecified sections keep their defaults.
	if cfg.MQTT.ClientID != "envirodash" {
		t.Errorf("client id = %q", cfg.MQTT.ClientID)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SERIAL_PORT", "/dev/ttyUSB7")
	t.Setenv("SERIAL_BAUD", "9600")
	t.Setenv("LISTEN_ADDR", ":7070")
	t.Setenv("LOG_ENABLED", "true")

	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if cfg.Serial.PortPath != "/dev/ttyUSB7" {
		t.Errorf("port = %q", cfg.Serial.PortPath)
	}
	if cfg.Serial.BaudRate != 9600 {
		t.Errorf("baud = %d", cfg.Serial.BaudRate)
	}
	if cfg.Server.ListenAddr != ":7070" {
		t.Errorf("listen = %q", cfg.Server.ListenAddr)
	}
	if !cfg.Logging.Enabled {
		t.Error("logging not enabled")
	}
}

func TestConfig_SaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := LoadConfig(path)
	cfg.Mode = "serial"
	cfg.Serial.PortPath = "/dev/ttyS9"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	again := LoadConfig(path)
	if again.Mode != "serial" || again.Serial.PortPath != "/dev/ttyS9" {
		t.Errorf("reloaded = mode %q port %q", again.Mode, again.Serial.PortPath)
	}
}

func TestConfig_UpdateFromJSON(t *testing.T) {
	cfg := DefaultConfig()

	patch := []byte(`{"serial":{"portPath":"/dev/ttyACM0"},"tickMs":1000}`)
	if err := cfg.UpdateFromJSON(patch); err != nil {
		t.Fatalf("UpdateFromJSON: %v", err)
	}
	if cfg.Serial.PortPath != "/dev/ttyACM0" {
		t.Errorf("port = %q", cfg.Serial.PortPath)
	}
	if cfg.TickMs != 1000 {
		t.Errorf("tick = %d", cfg.TickMs)
	}
	// Untouched fields survive the merge.
	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("baud = %d", cfg.Serial.BaudRate)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen = %q", cfg.Server.ListenAddr)
	}

	if err := cfg.UpdateFromJSON([]byte("{broken")); err == nil {
		t.Error("malformed patch accepted")
	}
}
