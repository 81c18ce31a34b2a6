package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database_path: /var/lib/zigbee-appd/zigbee.db
device:
  driver: zstack
  path: /dev/ttyUSB0
  baudrate: 115200
  flow_control: hardware
network:
  channel: 15
  channels: 0x07FFF800
  pan_id: 0x1A62
  extended_pan_id: "dd:dd:dd:dd:dd:dd:dd:dd"
  network_key: "01030507090b0d0f00020406080a0c0d"
  update_id: 0
ota:
  otau_directory: /var/lib/zigbee-appd/otau
  ikea_provider: true
  sonoff_provider: true
  extra_providers:
    - https://example.org/index.json
source_routing:
  enabled: true
startup:
  auto_form: true
log:
  level: debug
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.Path != "/dev/ttyUSB0" || cfg.Device.Baudrate != 115200 {
		t.Errorf("device = %+v", cfg.Device)
	}
	if cfg.Network.Channel != 15 || cfg.Network.PanID != 0x1A62 {
		t.Errorf("network = %+v", cfg.Network)
	}
	if !cfg.OTA.IkeaProvider || cfg.OTA.LedvanceProvider {
		t.Errorf("ota = %+v", cfg.OTA)
	}
	if len(cfg.OTA.ExtraProviders) != 1 {
		t.Errorf("extra providers = %v", cfg.OTA.ExtraProviders)
	}
	if !cfg.SourceRouting.Enabled || !cfg.Startup.AutoForm {
		t.Error("flags not parsed")
	}
}

func TestValidateRejectsBadChannel(t *testing.T) {
	_, err := Load(writeConfig(t, `
database_path: /tmp/z.db
device:
  path: /dev/ttyUSB0
network:
  channel: 5
`))
	if err == nil || !strings.Contains(err.Error(), "channel") {
		t.Errorf("err = %v", err)
	}
}

func TestValidateRequiresPaths(t *testing.T) {
	if _, err := Load(writeConfig(t, `device: {path: /dev/ttyUSB0}`)); err == nil {
		t.Error("missing database_path accepted")
	}
	if _, err := Load(writeConfig(t, `database_path: /tmp/z.db`)); err == nil {
		t.Error("missing device.path accepted")
	}
}
