package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxEndpoints mirrors the reference daemon's hard cap on simultaneous data
// channels; the protocol address field itself supports up to 63 (§9).
const maxEndpoints = 32

type appConfig struct {
	endpointPaths []string

	serialPath    string
	maxFrameSize  int
	debug         bool
	profile       string
	baud          int
	pin           int
	symlinkPrefix string
	waitForChild  bool
	faultTolerant bool

	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

var allowedBauds = []int{0, 9600, 19200, 38400, 57600, 115200, 230400, 460800}

// parseFlags parses the CLI, applies GSMMUXD_* environment overrides for
// anything not explicitly set on the command line, and validates ranges.
// The returned bool reports whether usage/help was requested (exit 0,
// config is nil).
func parseFlags(args []string) (*appConfig, bool, error) {
	fs := flag.NewFlagSet("gsmmuxd", flag.ContinueOnError)
	fs.Usage = func() { printUsage(fs) }

	serialPath := fs.String("p", "/dev/modem", "serial port device")
	maxFrameSize := fs.Int("f", 31, "maximum information field size")
	debug := fs.Bool("d", false, "debug mode: run in foreground, verbose logging")
	profile := fs.String("m", "generic", "modem profile: mc35|mc75|irz52it|generic")
	baud := fs.Int("b", 0, "serial baud rate (0 = do not touch)")
	pin := fs.Int("P", 0, "SIM PIN (1..9999; 0 = none)")
	symlinkPrefix := fs.String("s", "", "create <prefix>0, <prefix>1, ... symlinks to endpoint slaves")
	wait := fs.Bool("w", false, "parent blocks until child reports startup success or exits")
	faultTolerant := fs.Bool("r", false, "fault-tolerant mode: ping and auto-restart")
	help1 := fs.Bool("h", false, "show usage")
	help2 := fs.Bool("?", false, "show usage")

	logFormat := fs.String("log-format", "text", "log format: text|json")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "metrics HTTP listen address (e.g. :9100); empty disables")
	logMetricsEvery := fs.Duration("log-metrics-interval", 0, "if >0, periodically log metrics counters")
	mdnsEnable := fs.Bool("mdns-enable", false, "enable mDNS advertisement of this daemon")
	mdnsName := fs.String("mdns-name", "", "mDNS instance name (default gsmmuxd-<hostname>)")

	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *help1 || *help2 {
		fs.Usage()
		return nil, true, nil
	}

	cfg := &appConfig{
		endpointPaths: fs.Args(),
		serialPath:    *serialPath,
		maxFrameSize:  *maxFrameSize,
		debug:         *debug,
		profile:       *profile,
		baud:          *baud,
		pin:           *pin,
		symlinkPrefix: *symlinkPrefix,
		waitForChild:  *wait,
		faultTolerant: *faultTolerant,

		logFormat:       *logFormat,
		logLevel:        *logLevel,
		metricsAddr:     *metricsAddr,
		logMetricsEvery: *logMetricsEvery,
		mdnsEnable:      *mdnsEnable,
		mdnsName:        *mdnsName,
	}

	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	if err := applyEnvOverrides(cfg, set); err != nil {
		return nil, false, err
	}
	if err := cfg.validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: gsmmuxd [options] pty-path [pty-path ...]")
	fmt.Fprintln(os.Stderr, "  pty-path is /dev/ptmx (allocate a fresh Unix98 pty) or a direct pty path,")
	fmt.Fprintln(os.Stderr, "  one per data channel, up to", maxEndpoints)
	fs.PrintDefaults()
}

func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if len(c.endpointPaths) == 0 {
		return errors.New("at least one pty path is required")
	}
	if len(c.endpointPaths) > maxEndpoints {
		return fmt.Errorf("too many pty paths: %d (max %d)", len(c.endpointPaths), maxEndpoints)
	}
	if c.maxFrameSize <= 0 {
		return fmt.Errorf("-f must be > 0 (got %d)", c.maxFrameSize)
	}
	switch c.profile {
	case "mc35", "mc75", "irz52it", "generic":
	default:
		return fmt.Errorf("unknown modem profile %q", c.profile)
	}
	bok := false
	for _, b := range allowedBauds {
		if c.baud == b {
			bok = true
			break
		}
	}
	if !bok {
		return fmt.Errorf("unsupported baud rate %d", c.baud)
	}
	if c.pin < 0 || c.pin > 9999 {
		return fmt.Errorf("-P must be 0..9999 (got %d)", c.pin)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps GSMMUXD_* environment variables onto cfg unless the
// corresponding flag was explicitly given on the command line, matching the
// teacher's CAN_SERVER_* convention in spirit.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	setErr := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if _, ok := set["p"]; !ok {
		if v, ok := get("GSMMUXD_SERIAL"); ok && v != "" {
			c.serialPath = v
		}
	}
	if _, ok := set["f"]; !ok {
		if v, ok := get("GSMMUXD_MAX_FRAME_SIZE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.maxFrameSize = n
			} else {
				setErr(fmt.Errorf("invalid GSMMUXD_MAX_FRAME_SIZE: %w", err))
			}
		}
	}
	if _, ok := set["d"]; !ok {
		if v, ok := get("GSMMUXD_DEBUG"); ok && v != "" {
			c.debug = truthy(v)
		}
	}
	if _, ok := set["m"]; !ok {
		if v, ok := get("GSMMUXD_PROFILE"); ok && v != "" {
			c.profile = v
		}
	}
	if _, ok := set["b"]; !ok {
		if v, ok := get("GSMMUXD_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.baud = n
			} else {
				setErr(fmt.Errorf("invalid GSMMUXD_BAUD: %w", err))
			}
		}
	}
	if _, ok := set["P"]; !ok {
		if v, ok := get("GSMMUXD_PIN"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.pin = n
			} else {
				setErr(fmt.Errorf("invalid GSMMUXD_PIN: %w", err))
			}
		}
	}
	if _, ok := set["s"]; !ok {
		if v, ok := get("GSMMUXD_SYMLINK_PREFIX"); ok {
			c.symlinkPrefix = v
		}
	}
	if _, ok := set["w"]; !ok {
		if v, ok := get("GSMMUXD_WAIT"); ok && v != "" {
			c.waitForChild = truthy(v)
		}
	}
	if _, ok := set["r"]; !ok {
		if v, ok := get("GSMMUXD_FAULT_TOLERANT"); ok && v != "" {
			c.faultTolerant = truthy(v)
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("GSMMUXD_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("GSMMUXD_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("GSMMUXD_METRICS_ADDR"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("GSMMUXD_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				c.logMetricsEvery = d
			} else {
				setErr(fmt.Errorf("invalid GSMMUXD_LOG_METRICS_INTERVAL: %w", err))
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("GSMMUXD_MDNS_ENABLE"); ok && v != "" {
			c.mdnsEnable = truthy(v)
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("GSMMUXD_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
