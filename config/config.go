package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/jnesss/proc-enforcer/process"
)

// Default output names used when an export flag is given without a value.
const (
	DefaultCSVPath   = "export.csv"
	DefaultJSONLPath = "export.jsonl"
)

// Settings holds every runtime option. Environment variables are parsed
// first and become the flag defaults, so a flag overrides the environment.
type Settings struct {
	IntervalMs     uint64  `env:"PROCENF_INTERVAL_MS" envDefault:"1000"`
	CPUThreshold   float64 `env:"PROCENF_CPU_THRESHOLD" envDefault:"80"`
	RAMThreshold   float64 `env:"PROCENF_RAM_THRESHOLD" envDefault:"20"`
	SustainSamples uint64  `env:"PROCENF_SUSTAIN_SAMPLES" envDefault:"3"`
	SustainSeconds *uint64 `env:"PROCENF_SUSTAIN_SECONDS"`
	SpikeDelta     float64 `env:"PROCENF_SPIKE_DELTA" envDefault:"30"`

	Enforce      bool `env:"PROCENF_ENFORCE" envDefault:"false"`
	ExemptSystem bool `env:"PROCENF_EXEMPT_SYSTEM" envDefault:"true"`
	Stealth      bool `env:"PROCENF_STEALTH" envDefault:"false"`
	Once         bool `env:"PROCENF_ONCE" envDefault:"false"`

	AllowlistPath string `env:"PROCENF_ALLOWLIST" envDefault:"allowlist.txt"`
	ExportCSV     string `env:"PROCENF_EXPORT_CSV"`
	ExportJSONL   string `env:"PROCENF_EXPORT_JSONL"`
	ExportAll     bool   `env:"PROCENF_EXPORT_ALL" envDefault:"false"`
	DBPath        string `env:"PROCENF_DB"`
	RulesDir      string `env:"PROCENF_RULES_DIR"`
	QuarantineDir string `env:"PROCENF_QUARANTINE_DIR"`

	OverloadCPU float64 `env:"PROCENF_OVERLOAD_CPU" envDefault:"0"`
	OverloadRAM float64 `env:"PROCENF_OVERLOAD_RAM" envDefault:"0"`

	WebListen string `env:"PROCENF_WEB_LISTEN"`
	LogLevel  string `env:"PROCENF_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PROCENF_LOG_FORMAT" envDefault:"text"`

	sustainSeconds uint64
}

// Load parses Settings from the environment.
func Load() (*Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &s, nil
}

// AddFlags binds the settings to fs using the current values as defaults.
func (s *Settings) AddFlags(fs *pflag.FlagSet) {
	fs.Uint64Var(&s.IntervalMs, "interval", s.IntervalMs, "poll interval in milliseconds")
	fs.Float64Var(&s.CPUThreshold, "cpu", s.CPUThreshold, "per-process cpu threshold in percent")
	fs.Float64Var(&s.RAMThreshold, "ram", s.RAMThreshold, "per-process ram threshold in percent")
	fs.Uint64Var(&s.SustainSamples, "sustain-samples", s.SustainSamples, "consecutive breaching cycles before a sustained anomaly")
	if s.SustainSeconds != nil {
		s.sustainSeconds = *s.SustainSeconds
	}
	fs.Uint64Var(&s.sustainSeconds, "sustain-seconds", s.sustainSeconds, "sustain window in seconds, overrides --sustain-samples")
	fs.Float64Var(&s.SpikeDelta, "spike", s.SpikeDelta, "cpu increase in percentage points between cycles that counts as a spike")

	fs.BoolVar(&s.Enforce, "enforce", s.Enforce, "kill processes that are not allowlisted")
	fs.BoolVar(&s.ExemptSystem, "exempt-system", s.ExemptSystem, "skip policy checks for system executables")
	fs.BoolVar(&s.Stealth, "stealth", s.Stealth, "anomaly detection only, no allowlist and no enforcement")
	fs.BoolVar(&s.Once, "once", s.Once, "run a single cycle and exit")

	fs.StringVar(&s.AllowlistPath, "allowlist", s.AllowlistPath, "allowlist file")
	fs.StringVar(&s.ExportCSV, "export-csv", s.ExportCSV, "append events to a CSV file")
	fs.Lookup("export-csv").NoOptDefVal = DefaultCSVPath
	fs.StringVar(&s.ExportJSONL, "export-jsonl", s.ExportJSONL, "append events to a JSON lines file")
	fs.Lookup("export-jsonl").NoOptDefVal = DefaultJSONLPath
	fs.BoolVar(&s.ExportAll, "export-all", s.ExportAll, "export a sample event for every reading")
	fs.StringVar(&s.DBPath, "db", s.DBPath, "sqlite audit database")
	fs.StringVar(&s.RulesDir, "rules-dir", s.RulesDir, "Sigma rules directory")
	fs.StringVar(&s.QuarantineDir, "quarantine-dir", s.QuarantineDir, "copy executables here before killing them")

	fs.Float64Var(&s.OverloadCPU, "overload-cpu", s.OverloadCPU, "machine-wide cpu threshold in percent, 0 disables")
	fs.Float64Var(&s.OverloadRAM, "overload-ram", s.OverloadRAM, "machine-wide ram threshold in percent, 0 disables")

	fs.StringVar(&s.WebListen, "web", s.WebListen, "listen address for the HTTP API, empty disables")
	fs.StringVar(&s.LogLevel, "log-level", s.LogLevel, "log level")
	fs.StringVar(&s.LogFormat, "log-format", s.LogFormat, "log format: text or json")
}

// Complete applies flags that need to know whether they were set, then
// validates the result.
func (s *Settings) Complete(fs *pflag.FlagSet) error {
	if f := fs.Lookup("sustain-seconds"); f != nil && f.Changed {
		v := s.sustainSeconds
		s.SustainSeconds = &v
	}
	return s.Validate()
}

// Validate rejects settings the monitor cannot run with.
func (s *Settings) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"cpu threshold":          s.CPUThreshold,
		"ram threshold":          s.RAMThreshold,
		"spike delta":            s.SpikeDelta,
		"overload cpu threshold": s.OverloadCPU,
		"overload ram threshold": s.OverloadRAM,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	switch strings.ToLower(s.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", s.LogFormat))
	}
	if _, err := log.ParseLevel(s.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Interval returns the poll interval.
func (s *Settings) Interval() time.Duration {
	return time.Duration(s.IntervalMs) * time.Millisecond
}

// SustainWindow returns the sustain window in cycles.
func (s *Settings) SustainWindow() uint64 {
	return process.ResolveSustainWindow(s.IntervalMs, s.SustainSamples, s.SustainSeconds)
}

// Detector returns the anomaly detector configuration.
func (s *Settings) Detector() process.DetectorConfig {
	return process.DetectorConfig{
		IntervalMs:    s.IntervalMs,
		CPUThreshold:  s.CPUThreshold,
		RAMThreshold:  s.RAMThreshold,
		SpikeDelta:    s.SpikeDelta,
		SustainWindow: s.SustainWindow(),
	}
}

// ConfigureLogging applies the log level and format to the standard logger.
func (s *Settings) ConfigureLogging() error {
	level, err := log.ParseLevel(s.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if strings.ToLower(s.LogFormat) == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
