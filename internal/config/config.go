package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"il0373/internal/epd"
)

// PanelConfig describes the panel geometry and controller parameters.
type PanelConfig struct {
	// Rows and Cols are the native dimensions. Cols must be a multiple of 8.
	Rows int `yaml:"rows" json:"rows"`
	Cols int `yaml:"cols" json:"cols"`

	// Rotation in degrees: 0, 90, 180 or 270.
	Rotation int `yaml:"rotation" json:"rotation"`

	// Resolution is the PanelSetting class: "96x230", "96x252", "128x296" or
	// "160x296" (default).
	Resolution string `yaml:"resolution" json:"resolution"`

	// PowerSetting is VDH, VDL, VDHR. Empty means the controller default.
	PowerSetting []int `yaml:"power_setting,omitempty" json:"power_setting,omitempty"`

	// BoosterSoftStart is phases A, B, C. Empty means the controller default.
	BoosterSoftStart []int `yaml:"booster_soft_start,omitempty" json:"booster_soft_start,omitempty"`

	// PLL is the frame rate clock byte. Zero means the controller default.
	PLL int `yaml:"pll,omitempty" json:"pll,omitempty"`
}

// SPIConfig selects the SPI port.
type SPIConfig struct {
	// Port is the name passed to spireg.Open; empty picks the first port.
	Port string `yaml:"port" json:"port"`
	// MaxHz caps the clock. Zero keeps the driver maximum.
	MaxHz int64 `yaml:"max_hz" json:"max_hz"`
}

// PinsConfig names the GPIOs as understood by gpioreg.ByName.
type PinsConfig struct {
	// CS is the controller chip select. Empty lets the SPI port drive it;
	// required when SRAM is enabled.
	CS     string `yaml:"cs" json:"cs"`
	DC     string `yaml:"dc" json:"dc"`
	RST    string `yaml:"rst" json:"rst"`
	Busy   string `yaml:"busy" json:"busy"`
	SramCS string `yaml:"sram_cs,omitempty" json:"sram_cs,omitempty"`
}

// ContentConfig selects what gets drawn. The first non-empty of URL, Image
// and Text wins.
type ContentConfig struct {
	Text  string `yaml:"text" json:"text"`
	Image string `yaml:"image,omitempty" json:"image,omitempty"`
	URL   string `yaml:"url,omitempty" json:"url,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the preview server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// BatteryConfig enables the I2C battery gauge.
type BatteryConfig struct {
	// Bus is the name passed to i2creg.Open; empty picks the first bus.
	Bus string `yaml:"bus" json:"bus"`
	// Addr is the 7-bit controller address. Zero means battery.DefaultAddr.
	Addr int `yaml:"addr,omitempty" json:"addr,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the preview server. Empty
	// disables it.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is debug, info or error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// LogFormat is console (default) or json.
	LogFormat string `yaml:"log_format" json:"log_format"`

	// RefreshCron is a cron-style schedule string (e.g. "0 * * * *") used for
	// periodic refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Panel PanelConfig `yaml:"panel" json:"panel"`
	SPI   SPIConfig   `yaml:"spi" json:"spi"`
	Pins  PinsConfig  `yaml:"pins" json:"pins"`

	// SRAM keeps the planes in the SRAM chip on the bus instead of host
	// memory.
	SRAM bool `yaml:"sram" json:"sram"`

	Content ContentConfig `yaml:"content" json:"content"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// preview endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// Battery, if non-nil, reads a PiSugar3 battery gauge on each refresh.
	Battery *BatteryConfig `yaml:"battery,omitempty" json:"battery,omitempty"`
}

// DefaultConfig returns an in-memory default configuration for an Inky pHAT
// style 104x212 panel on a Raspberry Pi.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "",
		LogLevel:    "info",
		LogFormat:   "console",
		RefreshCron: "0 * * * *",
		Panel: PanelConfig{
			Rows:       212,
			Cols:       104,
			Rotation:   270,
			Resolution: epd.R160x296.String(),
		},
		Pins: PinsConfig{
			CS:   "GPIO8",
			DC:   "GPIO22",
			RST:  "GPIO27",
			Busy: "GPIO17",
		},
		Content: ContentConfig{Text: "Hello, IL0373"},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "0 * * * *"
	}
	if c.Panel.Resolution == "" {
		c.Panel.Resolution = epd.R160x296.String()
	}
}

// Validate reports settings that cannot drive a panel.
func (c *Config) Validate() error {
	if c.Pins.DC == "" || c.Pins.RST == "" || c.Pins.Busy == "" {
		return errors.New("config: pins dc, rst and busy are required")
	}
	if c.SRAM && (c.Pins.CS == "" || c.Pins.SramCS == "") {
		return errors.New("config: sram requires pins cs and sram_cs")
	}
	if c.Battery != nil && (c.Battery.Addr < 0 || c.Battery.Addr > 0x7F) {
		return fmt.Errorf("config: battery addr %#x is not a 7-bit I2C address", c.Battery.Addr)
	}
	_, err := c.PanelConfig()
	return err
}

// PanelConfig builds the controller configuration from the panel section.
func (c *Config) PanelConfig() (*epd.Config, error) {
	p := c.Panel
	if p.Rows < 0 || p.Rows > epd.MaxGateOutputs || p.Cols < 0 || p.Cols > epd.MaxSourceOutputs {
		return nil, fmt.Errorf("config: panel %dx%d: %w", p.Cols, p.Rows, epd.ErrInvalidDimensions)
	}
	rot, err := epd.RotationFromDegrees(p.Rotation)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	res, err := parseResolution(p.Resolution)
	if err != nil {
		return nil, err
	}

	b := epd.NewBuilder().
		Dimensions(epd.Dimensions{Rows: uint16(p.Rows), Cols: uint8(p.Cols)}).
		Rotation(rot).
		PanelSetting(res)
	if len(p.PowerSetting) > 0 {
		v, err := triple("power_setting", p.PowerSetting)
		if err != nil {
			return nil, err
		}
		b.PowerSetting(v[0], v[1], v[2])
	}
	if len(p.BoosterSoftStart) > 0 {
		v, err := triple("booster_soft_start", p.BoosterSoftStart)
		if err != nil {
			return nil, err
		}
		b.BoosterSoftStart(v[0], v[1], v[2])
	}
	if p.PLL < 0 || p.PLL > 0xFF {
		return nil, fmt.Errorf("config: pll %d out of byte range", p.PLL)
	}
	if p.PLL != 0 {
		b.PLL(uint8(p.PLL))
	}

	cfg, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// triple checks that vals holds three bytes.
func triple(name string, vals []int) ([3]uint8, error) {
	var out [3]uint8
	if len(vals) != 3 {
		return out, fmt.Errorf("config: %s needs 3 values, got %d", name, len(vals))
	}
	for i, v := range vals {
		if v < 0 || v > 0xFF {
			return out, fmt.Errorf("config: %s value %d out of byte range", name, v)
		}
		out[i] = uint8(v)
	}
	return out, nil
}

func parseResolution(s string) (epd.DisplayResolution, error) {
	for _, r := range []epd.DisplayResolution{epd.R96x230, epd.R96x252, epd.R128x296, epd.R160x296} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("config: unknown panel resolution %q", s)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically, via
// a temp file in the same directory and a rename. The parent directory is
// created with 0700 and the file ends up 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".il0373-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
