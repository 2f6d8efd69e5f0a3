// Command floodwatchd reads candidate IP addresses on stdin, rate-limits
// them per key, and installs timed bans for offenders into an nftables
// set reached over raw netfilter netlink.
package main

import (
	"errors"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/floodwatch/internal/config"
	"github.com/runZeroInc/floodwatch/pkg/kernelset"
	"github.com/runZeroInc/floodwatch/pkg/limiter"
	"github.com/runZeroInc/floodwatch/pkg/lineio"
	"github.com/runZeroInc/floodwatch/pkg/metrics"
	"github.com/runZeroInc/floodwatch/pkg/pipeline"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.Fatalf("startup: %v", err)
	}

	if !cfg.DryRun && runtime.GOOS == "linux" {
		if err := config.CheckKernelVersion(); err != nil {
			logrus.Fatalf("startup: %v", err)
		}
	}

	kc, err := kernelset.Open(cfg.Table, cfg.IPSetIPv4Name, cfg.IPSetIPv6Name, cfg.DryRun)
	if err != nil {
		logrus.Fatalf("startup: opening kernel set client: %v", err)
	}
	defer kc.Close()

	var rateLimiter *limiter.KeyedLimiter
	if cfg.BLThreshold > 0 {
		rateLimiter = limiter.NewKeyedLimiter(limiter.Quota{
			Burst:  cfg.BLThreshold,
			Period: cfg.BLPeriod,
		}, cfg.CacheInitialCapacity)
	}

	suppressionTTL := cfg.IPSetBaseTime - time.Second
	if suppressionTTL < 0 {
		suppressionTTL = 0
	}

	engine := pipeline.New(pipeline.Config{
		BaseBanTime:        cfg.IPSetBaseTime,
		ReportingIPPeriod:  cfg.ReportingIPTimePeriod,
		ReportingBanPeriod: cfg.ReportingBanTimePeriod,
	}, rateLimiter, suppressionTTL, cfg.IPSetBanTTL, cfg.CacheMaxSize, kc)

	if !cfg.DryRun {
		if err := engine.SelfTest(); err != nil {
			logrus.Fatalf("startup: self-test ban failed: %v", err)
		}
		logrus.Info("startup self-test passed: kernel set is reachable and writable")
	}

	collector := metrics.New(engine)
	prometheus.MustRegister(collector)
	go serveMetrics(cfg.MetricsAddr)

	logrus.WithFields(logrus.Fields{
		"table":     cfg.Table,
		"ipv4_set":  cfg.IPSetIPv4Name,
		"ipv6_set":  cfg.IPSetIPv6Name,
		"dry_run":   cfg.DryRun,
		"threshold": cfg.BLThreshold,
	}).Info("floodwatchd starting")

	if err := run(engine, os.Stdin); err != nil {
		logrus.Fatalf("pipeline terminated: %v", err)
	}
}

func run(engine *pipeline.Engine, stdin io.Reader) error {
	r := lineio.New(stdin)
	for {
		line, err := r.ReadLine()
		if len(line) > 0 || err == nil {
			if herr := engine.HandleLine(line); herr != nil {
				return herr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithError(err).Warn("metrics server stopped")
	}
}
