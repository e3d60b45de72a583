package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/alxayo/aap-headunit/internal/aap/config"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds the raw flag values prior to translation into
// config.Config, so main.go can validate and map in one place.
type cliConfig struct {
	transportKind string
	usbFD         int
	socketHost    string
	socketPort    int

	resolution          string
	preserveAspectRatio bool
	manualDPI           int
	marginTop           int
	marginBottom        int
	marginLeft          int
	marginRight         int

	micSampleRate        int
	stabilisationDelayMS int
	nightMode            string
	bluetoothMAC         string
	sensorsEnabled       []string

	certFile string
	keyFile  string

	overlayFile string
	logLevel    string
	showVersion bool
}

// resolutionTable maps the --resolution flag's accepted strings onto
// config.Resolution, mirroring the five sizes config.Validate enforces.
var resolutionTable = map[string]config.Resolution{
	"800x480":   config.Resolution800x480,
	"1280x720":  config.Resolution1280x720,
	"1920x1080": config.Resolution1920x1080,
	"2560x1440": config.Resolution2560x1440,
	"3840x2160": config.Resolution3840x2160,
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := pflag.NewFlagSet("aap-headunit", pflag.ContinueOnError)

	cfg := &cliConfig{}

	fs.StringVarP(&cfg.transportKind, "transport", "t", "usb", "Transport backend: usb|socket")
	fs.IntVar(&cfg.usbFD, "usb-fd", -1, "Open file descriptor for the usb transport")
	fs.StringVar(&cfg.socketHost, "socket-host", "127.0.0.1", "Host for the socket transport")
	fs.IntVar(&cfg.socketPort, "socket-port", 5277, "Port for the socket transport")

	fs.StringVarP(&cfg.resolution, "resolution", "r", "1280x720", "Video resolution: 800x480|1280x720|1920x1080|2560x1440|3840x2160")
	fs.BoolVar(&cfg.preserveAspectRatio, "preserve-aspect-ratio", true, "Letterbox instead of stretching when the video's native aspect differs from the display")
	fs.IntVar(&cfg.manualDPI, "manual-dpi", 0, "Override the resolution's default dpi (0 = auto)")
	fs.IntVar(&cfg.marginTop, "margin-top", 0, "Extra top margin in pixels, added on top of any computed letterbox margin")
	fs.IntVar(&cfg.marginBottom, "margin-bottom", 0, "Extra bottom margin in pixels")
	fs.IntVar(&cfg.marginLeft, "margin-left", 0, "Extra left margin in pixels")
	fs.IntVar(&cfg.marginRight, "margin-right", 0, "Extra right margin in pixels")

	fs.IntVar(&cfg.micSampleRate, "mic-sample-rate", 16000, "Microphone sample rate in Hz: 8000|16000")
	fs.IntVar(&cfg.stabilisationDelayMS, "stabilisation-delay-ms", 300, "Delay before sensors/mic start after entering Streaming, in [200,1000]")
	fs.StringVar(&cfg.nightMode, "night-mode", "AUTO", "Night mode policy: AUTO|DAY|NIGHT|AUTO_WAIT_GPS|NONE")
	fs.StringVar(&cfg.bluetoothMAC, "bluetooth-mac", "", "Bluetooth MAC address advertised during service discovery")
	fs.StringSliceVar(&cfg.sensorsEnabled, "sensor", nil, "Sensor type id to advertise as enabled (can be specified multiple times)")

	fs.StringVar(&cfg.certFile, "cert-file", "", "PEM file containing the pinned certificate chain")
	fs.StringVar(&cfg.keyFile, "key-file", "", "PEM file containing the pinned private key")

	fs.StringVar(&cfg.overlayFile, "overlay", "", "YAML file overlaying sensors_enabled/key_map/bluetooth_mac (flags take precedence)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.transportKind {
	case "usb", "socket":
	default:
		return nil, fmt.Errorf("invalid transport %q, must be usb or socket", cfg.transportKind)
	}
	if _, ok := resolutionTable[cfg.resolution]; !ok {
		return nil, fmt.Errorf("invalid resolution %q", cfg.resolution)
	}
	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}
	if (cfg.certFile == "") != (cfg.keyFile == "") {
		return nil, fmt.Errorf("cert-file and key-file must be supplied together")
	}

	return cfg, nil
}

// toConfig translates the parsed flags into a config.Config, applying any
// overlay first so flags win per config.LoadOverlay's documented precedence.
func (c *cliConfig) toConfig(overlay []byte) (*config.Config, error) {
	cfg := &config.Config{
		Resolution:           resolutionTable[c.resolution],
		PreserveAspectRatio:  c.preserveAspectRatio,
		ManualDPI:            c.manualDPI,
		UserMargins:          config.Margins{Top: c.marginTop, Bottom: c.marginBottom, Left: c.marginLeft, Right: c.marginRight},
		MicSampleRate:        c.micSampleRate,
		StabilisationDelayMS: c.stabilisationDelayMS,
		NightMode:            config.NightMode(strings.ToUpper(c.nightMode)),
		BluetoothMAC:         c.bluetoothMAC,
	}

	switch c.transportKind {
	case "usb":
		cfg.Transport = config.TransportConfig{Kind: config.TransportUSB, FD: c.usbFD}
	case "socket":
		cfg.Transport = config.TransportConfig{Kind: config.TransportSocket, Host: c.socketHost, Port: c.socketPort}
	}

	if len(overlay) > 0 {
		if err := config.LoadOverlay(cfg, overlay); err != nil {
			return nil, err
		}
	}
	if c.bluetoothMAC != "" {
		cfg.BluetoothMAC = c.bluetoothMAC
	}
	if len(c.sensorsEnabled) > 0 {
		if cfg.SensorsEnabled == nil {
			cfg.SensorsEnabled = make(map[uint8]bool, len(c.sensorsEnabled))
		}
		for _, s := range c.sensorsEnabled {
			id, err := strconv.ParseUint(s, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid --sensor %q: %w", s, err)
			}
			cfg.SensorsEnabled[uint8(id)] = true
		}
	}

	return cfg, nil
}
