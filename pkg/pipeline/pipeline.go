// Package pipeline wires the keyed limiter, the two TTL caches and the
// kernel set client into the per-line state machine: admit or deny,
// parse, suppress, compute timeout, submit, record.
package pipeline

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/floodwatch/pkg/kernelset"
	"github.com/runZeroInc/floodwatch/pkg/limiter"
	"github.com/runZeroInc/floodwatch/pkg/ttlcache"
)

// Config holds everything the orchestrator needs that isn't already
// captured by the limiter quota or the kernel client's own setup.
type Config struct {
	BaseBanTime time.Duration

	ReportingIPPeriod  time.Duration
	ReportingBanPeriod time.Duration
}

// Engine is the single-goroutine orchestrator: it owns the limiter, both
// caches and the kernel set client exclusively, and mutates them only
// from HandleLine's and SelfTest's call stacks.
type Engine struct {
	cfg Config

	limiter *limiter.KeyedLimiter // nil means "ban on sight"
	kernel  *kernelset.Client

	suppression *ttlcache.Cache[struct{}]
	recidivism  *ttlcache.Cache[uint32]

	lineCount      uint64
	lineCountStart time.Time
	banCount       uint64
	banCountStart  time.Time

	totalLines uint64
	totalBans  uint64

	log *logrus.Entry
}

// New constructs an Engine. rateLimiter may be nil for "ban on sight"
// mode, where every parseable line is banned unconditionally. kernel
// must already be open (dry-run or real).
func New(cfg Config, rateLimiter *limiter.KeyedLimiter, suppressionTTL, recidivismTTL time.Duration, cacheMaxSize int, kernel *kernelset.Client) *Engine {
	now := time.Now()
	return &Engine{
		cfg:            cfg,
		limiter:        rateLimiter,
		kernel:         kernel,
		suppression:    ttlcache.New[struct{}](suppressionTTL, cacheMaxSize),
		recidivism:     ttlcache.New[uint32](recidivismTTL, cacheMaxSize),
		lineCountStart: now,
		banCountStart:  now,
		log:            logrus.WithField("component", "pipeline"),
	}
}

// SelfTest exercises the real kernel-set path against two reserved
// documentation addresses before any input is read, turning a
// misconfigured table/set or a permissions problem into an immediate
// startup failure instead of a silent first ban failure under load. In
// dry-run mode the client still builds both batches but sends nothing to
// the kernel, so the call always succeeds.
func (e *Engine) SelfTest() error {
	v4 := netip.MustParseAddr("192.0.2.1")    // TEST-NET-1, RFC 5737
	v6 := netip.MustParseAddr("2001:db8::1") // documentation prefix, RFC 3849

	for _, ip := range []netip.Addr{v4, v6} {
		if err := e.kernel.Submit(ip, time.Second); err != nil {
			return fmt.Errorf("pipeline: startup self-test ban of %s failed: %w", ip, err)
		}
	}
	return nil
}

// HandleLine runs one line through the admit/deny/ban state machine. A
// parse error is logged and swallowed; a kernel I/O error is fatal and
// returned to the caller, which is expected to terminate the process.
func (e *Engine) HandleLine(line []byte) error {
	e.lineCount++
	e.totalLines++

	admitted := e.limiter != nil && e.limiter.Check(line)
	if !admitted {
		ip, err := parseIP(line)
		if err != nil {
			e.log.WithField("line", safeString(line)).Warnf("discarding unparseable candidate: %v", err)
		} else if err := e.ban(ip); err != nil {
			return err
		}
	}

	e.maybeReportLines()
	return nil
}

// ban suppresses a redundant ban, otherwise computes a recidivism-scaled
// timeout, submits it to the kernel, and records both caches.
func (e *Engine) ban(ip netip.Addr) error {
	if e.suppression.Contains(ip) {
		e.log.WithField("ip", ip).Debug("ban suppressed: already banned")
		return nil
	}

	prior, _ := e.recidivism.Get(ip)
	count := prior + 1
	timeout := banDuration(e.cfg.BaseBanTime, count)

	correlation := xid.New()
	e.log.WithFields(logrus.Fields{
		"ip":          ip,
		"ban_count":   count,
		"timeout":     timeout,
		"correlation": correlation.String(),
	}).Info("submitting ban")

	if err := e.kernel.Submit(ip, timeout); err != nil {
		return fmt.Errorf("pipeline: kernel submit for %s (correlation %s): %w", ip, correlation, err)
	}

	e.suppression.Insert(ip, struct{}{})
	e.recidivism.Insert(ip, count)

	e.banCount++
	e.totalBans++
	e.maybeReportBans()
	return nil
}

// banDuration computes count * base, saturating at the maximum
// representable Duration instead of overflowing, ahead of the later
// millisecond conversion in pkg/kernelset.NewElement.
func banDuration(base time.Duration, count uint32) time.Duration {
	if base <= 0 || count == 0 {
		return 0
	}

	const maxDuration = time.Duration(1<<63 - 1)
	if int64(base) > int64(maxDuration)/int64(count) {
		return maxDuration
	}
	return base * time.Duration(count)
}

func parseIP(line []byte) (netip.Addr, error) {
	ip, err := netip.ParseAddr(string(line))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse IP: %w", err)
	}
	return ip, nil
}

// safeString renders arbitrary line bytes for logging without assuming
// UTF-8: the conversion copies the bytes unchanged and does no
// validation, so invalid sequences reach the log formatter as-is.
func safeString(line []byte) string {
	return string(line)
}

// maybeReportLines emits a line-count observability tick. The modulo-10
// gate avoids probing the clock on every single line.
func (e *Engine) maybeReportLines() {
	if e.lineCount%10 != 0 {
		return
	}
	if time.Since(e.lineCountStart) <= e.cfg.ReportingIPPeriod {
		return
	}
	e.log.Infof("processed %d lines in %s", e.lineCount, time.Since(e.lineCountStart))
	e.lineCount = 0
	e.lineCountStart = time.Now()
}

func (e *Engine) maybeReportBans() {
	if time.Since(e.banCountStart) <= e.cfg.ReportingBanPeriod {
		return
	}
	e.log.Infof("issued %d bans in %s", e.banCount, time.Since(e.banCountStart))
	e.banCount = 0
	e.banCountStart = time.Now()
}

// LimiterSize, SuppressionSize and RecidivismSize expose live state for
// pkg/metrics.
func (e *Engine) LimiterSize() int {
	if e.limiter == nil {
		return 0
	}
	return e.limiter.Len()
}

func (e *Engine) SuppressionSize() int { return e.suppression.Len() }
func (e *Engine) RecidivismSize() int  { return e.recidivism.Len() }

// LinesProcessed and BansIssued are cumulative, process-lifetime totals
// for pkg/metrics; unlike lineCount/banCount they are never reset by the
// periodic reporting ticks.
func (e *Engine) LinesProcessed() uint64 { return e.totalLines }
func (e *Engine) BansIssued() uint64     { return e.totalBans }
