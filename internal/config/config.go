// Package config resolves floodwatchd's runtime configuration from
// command-line flags, using only the stdlib flag package and
// time.ParseDuration for human-readable durations.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/docker/docker/pkg/parsers/kernel"
)

// minKernelVersion is the first Linux release with nf_tables element
// timeout support wired all the way through to the netlink ABI this
// client speaks.
var minKernelVersion = kernel.VersionInfo{Kernel: 3, Major: 13}

// Config is the full set of runtime options floodwatchd accepts.
type Config struct {
	BLThreshold uint64
	BLPeriod    time.Duration

	IPSetBaseTime time.Duration
	IPSetBanTTL   time.Duration

	Table         string
	IPSetIPv4Name string
	IPSetIPv6Name string

	ReportingIPTimePeriod  time.Duration
	ReportingBanTimePeriod time.Duration

	CacheInitialCapacity int
	CacheMaxSize         int

	DryRun bool

	MetricsAddr string
}

// Load parses args (typically os.Args[1:]) into a Config and validates
// the threshold/period combination, returning a startup error if they're
// inconsistent.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("floodwatchd", flag.ContinueOnError)

	cfg := Config{}
	var blPeriod, baseTime, banTTL, ipReport, banReport string

	fs.Uint64Var(&cfg.BLThreshold, "bl-threshold", 0, "burst capacity of the rate limiter; 0 means ban on sight")
	fs.StringVar(&blPeriod, "bl-period", "1s", "replenishment period for the full burst")
	fs.StringVar(&baseTime, "ipset-base-time", "1m", "duration of a first-time ban")
	fs.StringVar(&banTTL, "ipset-ban-ttl", "1h", "recidivism retention window")
	fs.StringVar(&cfg.Table, "table", "floodwatch", "nftables table name (family inet)")
	fs.StringVar(&cfg.IPSetIPv4Name, "ipset-ipv4-name", "banned4", "name of the IPv4 timed set")
	fs.StringVar(&cfg.IPSetIPv6Name, "ipset-ipv6-name", "banned6", "name of the IPv6 timed set")
	fs.StringVar(&ipReport, "reporting-ip-time-period", "10s", "minimum interval between line-rate reports")
	fs.StringVar(&banReport, "reporting-ban-time-period", "10s", "minimum interval between ban-rate reports")
	fs.IntVar(&cfg.CacheInitialCapacity, "cache-initial-capacity", 100_000, "initial size of the limiter map (the TTL caches are not pre-sized)")
	fs.IntVar(&cfg.CacheMaxSize, "cache-max-size", 500_000, "eviction cap for both TTL caches")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "skip kernel socket I/O; cache updates still proceed")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9112", "listen address for the Prometheus metrics endpoint")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var err error
	if cfg.BLPeriod, err = time.ParseDuration(blPeriod); err != nil {
		return Config{}, fmt.Errorf("config: bl-period: %w", err)
	}
	if cfg.IPSetBaseTime, err = time.ParseDuration(baseTime); err != nil {
		return Config{}, fmt.Errorf("config: ipset-base-time: %w", err)
	}
	if cfg.IPSetBanTTL, err = time.ParseDuration(banTTL); err != nil {
		return Config{}, fmt.Errorf("config: ipset-ban-ttl: %w", err)
	}
	if cfg.ReportingIPTimePeriod, err = time.ParseDuration(ipReport); err != nil {
		return Config{}, fmt.Errorf("config: reporting-ip-time-period: %w", err)
	}
	if cfg.ReportingBanTimePeriod, err = time.ParseDuration(banReport); err != nil {
		return Config{}, fmt.Errorf("config: reporting-ban-time-period: %w", err)
	}

	if cfg.BLThreshold > 0 && cfg.BLPeriod <= 0 {
		return Config{}, fmt.Errorf("config: bl-period must be positive when bl-threshold > 0")
	}

	return cfg, nil
}

// CheckKernelVersion fails fast when the host kernel predates nf_tables
// timed-set support, turning a confusing first-ban failure into a clear
// startup error.
func CheckKernelVersion() error {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		return fmt.Errorf("config: reading kernel version: %w", err)
	}
	if kernel.CompareKernelVersion(*v, minKernelVersion) < 0 {
		return fmt.Errorf("config: kernel %s predates the minimum supported %d.%d for nf_tables timed sets", v, minKernelVersion.Kernel, minKernelVersion.Major)
	}
	return nil
}
