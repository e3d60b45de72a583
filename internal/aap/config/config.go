// Package config defines the engine's Configuration object (spec.md §6's
// option table) plus the resolution→dpi defaults and letterbox math used by
// the discovery package. YAML loading for the less frequently-tuned fields
// (key_map, sensors_enabled) follows doismellburning-samoyed's
// src/deviceid.go pattern of gopkg.in/yaml.v3 unmarshalling into a small
// struct with flags always taking precedence over the file.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Resolution is one of the five negotiated video sizes spec.md §6 allows.
type Resolution struct {
	Width, Height int
}

var (
	Resolution800x480   = Resolution{800, 480}
	Resolution1280x720  = Resolution{1280, 720}
	Resolution1920x1080 = Resolution{1920, 1080}
	Resolution2560x1440 = Resolution{2560, 1440}
	Resolution3840x2160 = Resolution{3840, 2160}
)

// resolutionDPI is the resolution→dpi default table from spec.md §6.
var resolutionDPI = map[Resolution]int{
	Resolution800x480:   160,
	Resolution1280x720:  240,
	Resolution1920x1080: 320,
	Resolution2560x1440: 480,
	Resolution3840x2160: 640,
}

func (r Resolution) defaultDPI() (int, bool) {
	dpi, ok := resolutionDPI[r]
	return dpi, ok
}

// NightMode enumerates the night-mode policy driving whether the NIGHT
// sensor is advertised during discovery.
type NightMode string

const (
	NightModeAuto        NightMode = "AUTO"
	NightModeDay         NightMode = "DAY"
	NightModeNight       NightMode = "NIGHT"
	NightModeAutoWaitGPS NightMode = "AUTO_WAIT_GPS"
	NightModeNone        NightMode = "NONE"
)

// TransportKind selects between the two Transport backends.
type TransportKind string

const (
	TransportUSB    TransportKind = "usb"
	TransportSocket TransportKind = "socket"
)

// TransportConfig carries the fields relevant to whichever TransportKind is
// selected; the unused half is zero.
type TransportConfig struct {
	Kind TransportKind
	FD   int    // TransportUSB
	Host string // TransportSocket
	Port int    // TransportSocket
}

// Margins are added on top of any computed letterbox margin.
type Margins struct {
	Top, Bottom, Left, Right int
}

// Config is the engine's single configuration object, spec.md §6.
type Config struct {
	Transport TransportConfig

	PinnedCertificateChain [][]byte
	PinnedPrivateKey       any

	Resolution          Resolution
	PreserveAspectRatio bool
	UserMargins         Margins
	ManualDPI           int // 0 = auto

	MicSampleRate int // 8000 or 16000

	SensorsEnabled map[uint8]bool
	BluetoothMAC   string

	KeyMap map[int32]int32

	StabilisationDelayMS int // 200..1000

	NightMode NightMode
}

// Validate checks the option table's documented constraints.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportUSB:
		if c.Transport.FD < 0 {
			return fmt.Errorf("config: usb transport requires a non-negative fd")
		}
	case TransportSocket:
		if c.Transport.Host == "" || c.Transport.Port <= 0 {
			return fmt.Errorf("config: socket transport requires host and port")
		}
	default:
		return fmt.Errorf("config: transport.kind must be %q or %q", TransportUSB, TransportSocket)
	}
	if _, ok := c.Resolution.defaultDPI(); !ok {
		return fmt.Errorf("config: resolution %dx%d is not one of the five supported sizes", c.Resolution.Width, c.Resolution.Height)
	}
	if c.MicSampleRate != 8000 && c.MicSampleRate != 16000 {
		return fmt.Errorf("config: mic_sample_rate must be 8000 or 16000, got %d", c.MicSampleRate)
	}
	if c.StabilisationDelayMS < 200 || c.StabilisationDelayMS > 1000 {
		return fmt.Errorf("config: stabilisation_delay_ms must be in [200,1000], got %d", c.StabilisationDelayMS)
	}
	switch c.NightMode {
	case NightModeAuto, NightModeDay, NightModeNight, NightModeAutoWaitGPS, NightModeNone:
	default:
		return fmt.Errorf("config: invalid night_mode %q", c.NightMode)
	}
	return nil
}

// EffectiveDPI returns the dpi to advertise for the configured resolution:
// ManualDPI if non-zero, otherwise the resolution's table default scaled by
// any letterbox effective-height adjustment when PreserveAspectRatio is set
// and the video's native aspect differs from the display's.
//
// videoHeight is the source video's natural height at the negotiated width;
// when it differs from Resolution.Height and PreserveAspectRatio is set,
// top/bottom letterbox margins are added (on top of UserMargins) and the
// dpi is scaled by effective_height/display_height, per spec.md §6.
func (c *Config) EffectiveDPI(videoHeight int) (dpi int, topMargin int, bottomMargin int) {
	base, _ := c.Resolution.defaultDPI()
	if c.ManualDPI != 0 {
		base = c.ManualDPI
	}
	if !c.PreserveAspectRatio || videoHeight <= 0 || videoHeight >= c.Resolution.Height {
		return base, c.UserMargins.Top, c.UserMargins.Bottom
	}

	letterbox := c.Resolution.Height - videoHeight
	top := letterbox / 2
	bottom := letterbox - top

	effectiveHeight := c.Resolution.Height - top - bottom
	scaled := base
	if c.Resolution.Height > 0 {
		scaled = base * effectiveHeight / c.Resolution.Height
	}
	return scaled, c.UserMargins.Top + top, c.UserMargins.Bottom + bottom
}

// fileOverlay is the subset of Config worth tuning from a YAML file rather
// than flags — sensors_enabled and key_map are maps best expressed as data,
// matching doismellburning-samoyed's tocalls.yaml approach to configuring
// lookup tables rather than individual CLI flags per entry.
type fileOverlay struct {
	SensorsEnabled []uint8         `yaml:"sensors_enabled"`
	KeyMap         map[int32]int32 `yaml:"key_map"`
	BluetoothMAC   string          `yaml:"bluetooth_mac"`
}

// LoadOverlay reads sensors_enabled/key_map/bluetooth_mac from a YAML file
// and merges them into cfg. Flags parsed after LoadOverlay win: callers
// should call LoadOverlay first, then apply any explicit flag values on top
// so the file only supplies defaults.
func LoadOverlay(cfg *Config, data []byte) error {
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parsing overlay yaml: %w", err)
	}
	if len(overlay.SensorsEnabled) > 0 {
		if cfg.SensorsEnabled == nil {
			cfg.SensorsEnabled = make(map[uint8]bool, len(overlay.SensorsEnabled))
		}
		for _, s := range overlay.SensorsEnabled {
			cfg.SensorsEnabled[s] = true
		}
	}
	if len(overlay.KeyMap) > 0 {
		if cfg.KeyMap == nil {
			cfg.KeyMap = make(map[int32]int32, len(overlay.KeyMap))
		}
		for k, v := range overlay.KeyMap {
			cfg.KeyMap[k] = v
		}
	}
	if overlay.BluetoothMAC != "" && cfg.BluetoothMAC == "" {
		cfg.BluetoothMAC = overlay.BluetoothMAC
	}
	return nil
}
