// Package config loads and validates the host-side YAML configuration for
// an osdpd PD instance: serial device, protocol identity, capability
// table, and the Secure Channel Base Key.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/barnettlynn/osdp-pd/pkg/osdp"
)

// Config is the on-disk shape of an osdpd host configuration file.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	PD      PDConfig      `yaml:"pd"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

// DeviceConfig describes the serial line the PD engine listens on.
type DeviceConfig struct {
	Path     string `yaml:"path"`
	BaudRate *int   `yaml:"baud_rate"`
}

// PDConfig describes the identity, address, and key material the engine
// answers with.
type PDConfig struct {
	Address      *int             `yaml:"address"`
	SCBK         string           `yaml:"scbk"`
	Identity     IdentityConfig   `yaml:"identity"`
	Capabilities []CapabilityItem `yaml:"capabilities"`
}

// IdentityConfig mirrors osdp.Identity in a YAML-friendly (hex string)
// shape.
type IdentityConfig struct {
	VendorCode      string `yaml:"vendor_code"`
	Model           *int   `yaml:"model"`
	Version         *int   `yaml:"version"`
	SerialNumber    string `yaml:"serial_number"`
	FirmwareVersion string `yaml:"firmware_version"`
}

// CapabilityItem is one row of the capability table.
type CapabilityItem struct {
	FunctionCode    string `yaml:"function_code"`
	ComplianceLevel *int   `yaml:"compliance_level"`
	NumItems        *int   `yaml:"num_items"`
}

// RuntimeConfig holds options that govern the serve loop and optional
// GPIO-backed sensor inputs rather than the protocol itself.
type RuntimeConfig struct {
	TickMS *int        `yaml:"tick_ms"`
	GPIO   *GPIOConfig `yaml:"gpio"`
}

// GPIOConfig names the gpiocdev chip and lines used for tamper/power
// sensing (internal/sensors). Nil means no GPIO monitor is started.
type GPIOConfig struct {
	Chip       string `yaml:"chip"`
	TamperLine *int   `yaml:"tamper_line"`
	PowerLine  *int   `yaml:"power_line"`
}

var capFunctionCodes = map[string]osdp.CapFunctionCode{
	"contact_status_monitoring":    osdp.CapContactStatusMonitoring,
	"output_control":               osdp.CapOutputControl,
	"card_data_format":             osdp.CapCardDataFormat,
	"reader_led_control":           osdp.CapReaderLEDControl,
	"reader_audible_output":       osdp.CapReaderAudibleOutput,
	"reader_text_output":           osdp.CapReaderTextOutput,
	"time_keeping":                 osdp.CapTimeKeeping,
	"check_character_support":      osdp.CapCheckCharacterSupport,
	"communication_security":       osdp.CapCommunicationSecurity,
	"receive_buffer_size":          osdp.CapReceiveBufferSize,
	"largest_combined_message_size": osdp.CapLargestCombinedMessageSize,
	"smart_card_support":           osdp.CapSmartCardSupport,
	"readers":                      osdp.CapReaders,
	"biometrics":                   osdp.CapBiometrics,
}

// Load reads path, decodes it in strict (unknown-field-rejecting) mode,
// resolves a relative device path against the config file's directory
// (the GPIO chip name is used as given), and validates the result.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths(configPath string) {
	dir := filepath.Dir(configPath)
	c.Device.Path = resolvePath(dir, c.Device.Path)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

// Validate checks the decoded config for completeness and reports the
// first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.Path) == "" {
		return fmt.Errorf("config.device.path is required")
	}
	if c.Device.BaudRate == nil {
		return fmt.Errorf("config.device.baud_rate is required")
	}

	if c.PD.Address == nil {
		return fmt.Errorf("config.pd.address is required")
	}
	if *c.PD.Address < 0 || *c.PD.Address > 0x7F {
		return fmt.Errorf("config.pd.address must be 0..127")
	}
	if strings.TrimSpace(c.PD.SCBK) == "" {
		return fmt.Errorf("config.pd.scbk is required (use \"NONE\" for install mode)")
	}
	if _, err := osdp.ParseSCBKHex(c.PD.SCBK); err != nil {
		return fmt.Errorf("config.pd.scbk: %w", err)
	}

	if err := c.PD.Identity.validate(); err != nil {
		return err
	}
	for i, item := range c.PD.Capabilities {
		if _, err := item.resolve(); err != nil {
			return fmt.Errorf("config.pd.capabilities[%d]: %w", i, err)
		}
	}

	if c.Runtime.GPIO != nil {
		if strings.TrimSpace(c.Runtime.GPIO.Chip) == "" {
			return fmt.Errorf("config.runtime.gpio.chip is required when gpio is configured")
		}
	}
	return nil
}

func (ic IdentityConfig) validate() error {
	if strings.TrimSpace(ic.VendorCode) == "" {
		return fmt.Errorf("config.pd.identity.vendor_code is required")
	}
	if ic.Model == nil {
		return fmt.Errorf("config.pd.identity.model is required")
	}
	if ic.Version == nil {
		return fmt.Errorf("config.pd.identity.version is required")
	}
	if strings.TrimSpace(ic.SerialNumber) == "" {
		return fmt.Errorf("config.pd.identity.serial_number is required")
	}
	if strings.TrimSpace(ic.FirmwareVersion) == "" {
		return fmt.Errorf("config.pd.identity.firmware_version is required")
	}
	_, err := ic.resolve()
	return err
}

func (ic IdentityConfig) resolve() (osdp.Identity, error) {
	vendor, err := parseHexUint32(ic.VendorCode)
	if err != nil {
		return osdp.Identity{}, fmt.Errorf("identity.vendor_code: %w", err)
	}
	serial, err := parseHexUint32(ic.SerialNumber)
	if err != nil {
		return osdp.Identity{}, fmt.Errorf("identity.serial_number: %w", err)
	}
	firmware, err := parseHexUint32(ic.FirmwareVersion)
	if err != nil {
		return osdp.Identity{}, fmt.Errorf("identity.firmware_version: %w", err)
	}
	return osdp.Identity{
		VendorCode:      vendor,
		Model:           byte(*ic.Model),
		Version:         byte(*ic.Version),
		SerialNumber:    serial,
		FirmwareVersion: firmware,
	}, nil
}

func (item CapabilityItem) resolve() (osdp.Capability, error) {
	fc, ok := capFunctionCodes[item.FunctionCode]
	if !ok {
		return osdp.Capability{}, fmt.Errorf("unknown function_code %q", item.FunctionCode)
	}
	if item.ComplianceLevel == nil {
		return osdp.Capability{}, fmt.Errorf("compliance_level is required")
	}
	if item.NumItems == nil {
		return osdp.Capability{}, fmt.Errorf("num_items is required")
	}
	return osdp.Capability{
		FunctionCode:    fc,
		ComplianceLevel: byte(*item.ComplianceLevel),
		NumItems:        byte(*item.NumItems),
	}, nil
}

// ToEngineConfig converts the decoded host config into the osdp.Config the
// engine constructor expects. Call only after Validate has succeeded.
func (c *Config) ToEngineConfig() (osdp.Config, error) {
	identity, err := c.PD.Identity.resolve()
	if err != nil {
		return osdp.Config{}, err
	}
	caps := make([]osdp.Capability, 0, len(c.PD.Capabilities))
	for _, item := range c.PD.Capabilities {
		resolved, err := item.resolve()
		if err != nil {
			return osdp.Config{}, err
		}
		caps = append(caps, resolved)
	}
	scbk, err := osdp.ParseSCBKHex(c.PD.SCBK)
	if err != nil {
		return osdp.Config{}, err
	}
	return osdp.Config{
		Address:      byte(*c.PD.Address),
		BaudRate:     *c.Device.BaudRate,
		ID:           identity,
		Capabilities: caps,
		SCBK:         scbk,
	}, nil
}

// TickIntervalMS returns the configured serve-loop tick in milliseconds, defaulting to 50
// (matching cmd/osdpd/serve.go's poll cadence) when unset.
func (c *Config) TickIntervalMS() int {
	if c.Runtime.TickMS != nil && *c.Runtime.TickMS > 0 {
		return *c.Runtime.TickMS
	}
	return 50
}

func parseHexUint32(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	var v uint32
	if _, err := fmt.Sscanf(s, "%x", &v); err != nil {
		return 0, fmt.Errorf("invalid hex value %q: %w", s, err)
	}
	return v, nil
}
