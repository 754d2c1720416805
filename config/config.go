// Package config loads the exporter's static parameters: the serial
// device to drive, route-B credentials, scan parameters, the target
// ECHONET object, and the metric mapping, following the same
// defaults-then-YAML-then-environment layering the rest of the pack uses.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/hashicorp/go-envparse"
	"gopkg.in/yaml.v3"

	"github.com/hnw/broute-meter-exporter/echonet"
)

// Config is the exporter's full static configuration.
type Config struct {
	SerialDevicePath string             `yaml:"serial_device_path"`
	Baud             int                `yaml:"baud"`
	Credentials      *CredentialsConfig `yaml:"credentials"`
	ScanChannelMask  uint32             `yaml:"scan_channel_mask"`
	ScanDuration     uint8              `yaml:"scan_duration"`
	TargetObject     EojHex             `yaml:"target_object"`
	Measures         []MeasureConfig    `yaml:"measures"`
	RecvTimeoutMs    int                `yaml:"recv_timeout_ms"`
	Bind             string             `yaml:"bind"`
}

// CredentialsConfig is the route-B id/password pair. Both fields must be
// set together; a Config with one but not the other is rejected by
// Validate.
type CredentialsConfig struct {
	RBID string `yaml:"rbid"`
	Pwd  string `yaml:"pwd"`
}

// EojHex is a 6-hex-character ECHONET object id ("028801") as it appears
// in YAML.
type EojHex string

// ToEoj parses the hex text into an echonet.Eoj.
func (e EojHex) ToEoj() (echonet.Eoj, error) {
	b, err := hex.DecodeString(string(e))
	if err != nil || len(b) != 3 {
		return echonet.Eoj{}, fmt.Errorf("config: target_object %q is not 6 hex characters", string(e))
	}
	return echonet.Eoj{ClassGroup: b[0], ClassCode: b[1], Instance: b[2]}, nil
}

// LayoutConfig names one fixed-width integer field to decode from a
// property's EDT, in the order it should be read.
type LayoutConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // one of i8,i16,i32,u8,u16,u32
}

func (l LayoutConfig) toFieldLayout() (echonet.FieldLayout, error) {
	var t echonet.FieldType
	switch l.Type {
	case "i8":
		t = echonet.I8
	case "i16":
		t = echonet.I16
	case "i32":
		t = echonet.I32
	case "u8":
		t = echonet.U8
	case "u16":
		t = echonet.U16
	case "u32":
		t = echonet.U32
	default:
		return echonet.FieldLayout{}, fmt.Errorf("config: unknown layout type %q", l.Type)
	}
	return echonet.FieldLayout{Name: l.Name, Type: t}, nil
}

// MeasureConfig configures one property read and how to decode it.
type MeasureConfig struct {
	Name   string         `yaml:"name"`
	Help   string         `yaml:"help"`
	EPC    string         `yaml:"epc"` // 2 hex characters, e.g. "E7"
	Layout []LayoutConfig `yaml:"layout"`
}

func (m MeasureConfig) epcByte() (byte, error) {
	b, err := hex.DecodeString(m.EPC)
	if err != nil || len(b) != 1 {
		return 0, fmt.Errorf("config: measure %q has invalid epc %q", m.Name, m.EPC)
	}
	return b[0], nil
}

const (
	defaultBaud            = 115200
	defaultScanChannelMask = 0xFFFFFFFF
	defaultScanDuration    = 6
	defaultRecvTimeoutMs   = 5000
	defaultBind            = ":9929"
)

// Load reads and parses the YAML file at path, applying the documented
// defaults for any field the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Baud:            defaultBaud,
		ScanChannelMask: defaultScanChannelMask,
		ScanDuration:    defaultScanDuration,
		RecvTimeoutMs:   defaultRecvTimeoutMs,
		Bind:            defaultBind,
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnvFile overlays KEY=VALUE pairs from an env file (as produced by
// systemd EnvironmentFile= or a .env) onto cfg. Four keys are read:
// BROUTE_SERIAL_DEVICE_PATH, BROUTE_BIND, and the route-B credentials
// BROUTE_ROUTE_B_ID and BROUTE_ROUTE_B_PASSWORD (cfg.Credentials is
// created if the YAML left it unset). Other keys are ignored; measures,
// the target object and the remaining scalar fields are YAML-only. A
// missing file is not an error.
func ApplyEnvFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	env, err := envparse.Parse(f)
	if err != nil {
		return fmt.Errorf("config: parsing env file %s: %w", path, err)
	}

	if v, ok := env["BROUTE_SERIAL_DEVICE_PATH"]; ok {
		cfg.SerialDevicePath = v
	}
	if v, ok := env["BROUTE_BIND"]; ok {
		cfg.Bind = v
	}
	if v, ok := env["BROUTE_ROUTE_B_ID"]; ok {
		if cfg.Credentials == nil {
			cfg.Credentials = &CredentialsConfig{}
		}
		cfg.Credentials.RBID = v
	}
	if v, ok := env["BROUTE_ROUTE_B_PASSWORD"]; ok {
		if cfg.Credentials == nil {
			cfg.Credentials = &CredentialsConfig{}
		}
		cfg.Credentials.Pwd = v
	}
	return nil
}

// Validate checks structural invariants Load/ApplyEnvFile can't catch by
// themselves: a fully specified credentials pair, a parseable target
// object, and parseable measure layouts.
func (c *Config) Validate() error {
	if c.SerialDevicePath == "" {
		return fmt.Errorf("config: serial_device_path is required")
	}
	if c.Credentials != nil {
		if (c.Credentials.RBID == "") != (c.Credentials.Pwd == "") {
			return fmt.Errorf("config: credentials.rbid and credentials.pwd must both be set or both be empty")
		}
		if c.Credentials.RBID != "" && len(c.Credentials.RBID) != 32 {
			return fmt.Errorf("config: credentials.rbid must be 32 hex characters, got %d", len(c.Credentials.RBID))
		}
	}
	if _, err := c.TargetObject.ToEoj(); err != nil {
		return err
	}
	if len(c.Measures) == 0 {
		return fmt.Errorf("config: at least one measure is required")
	}
	for _, m := range c.Measures {
		if _, err := m.epcByte(); err != nil {
			return err
		}
		for _, l := range m.Layout {
			if _, err := l.toFieldLayout(); err != nil {
				return err
			}
		}
	}
	return nil
}

// EPCByte returns the measure's EPC parsed from its two hex characters.
// This package does not import scrape; main converts each MeasureConfig
// into a scrape.Measure using EPCByte and FieldLayouts.
func (m MeasureConfig) EPCByte() (byte, error) { return m.epcByte() }

// FieldLayouts converts this measure's configured layout entries.
func (m MeasureConfig) FieldLayouts() ([]echonet.FieldLayout, error) {
	out := make([]echonet.FieldLayout, 0, len(m.Layout))
	for _, l := range m.Layout {
		fl, err := l.toFieldLayout()
		out = append(out, fl)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
