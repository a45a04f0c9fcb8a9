// Package handler hosts the two long-lived engine loops: the input
// handler that dispatches ready node work to the worker engine and the
// output handler that applies worker results.
package handler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	pollGrowth = 1.2
	pollShrink = 0.8
)

// poller tracks the adaptive polling interval of one handler loop.
// Idle ticks stretch the interval, productive ticks shrink it, both
// clamped to the configured window. With adaptation disabled the
// interval stays pinned at min.
type poller struct {
	min      time.Duration
	max      time.Duration
	adaptive bool
	current  time.Duration
	gauge    prometheus.Gauge
}

// newPoller creates a poller starting at min. gauge may be nil.
func newPoller(min, max time.Duration, adaptive bool, gauge prometheus.Gauge) *poller {
	p := &poller{
		min:      min,
		max:      max,
		adaptive: adaptive,
		current:  min,
		gauge:    gauge,
	}
	p.report()
	return p
}

// Interval returns the current polling interval
func (p *poller) Interval() time.Duration {
	return p.current
}

// Idle stretches the interval after a tick that found no work
func (p *poller) Idle() {
	if !p.adaptive {
		return
	}
	p.current = time.Duration(float64(p.current) * pollGrowth)
	if p.current > p.max {
		p.current = p.max
	}
	p.report()
}

// Productive shrinks the interval after a tick that moved work
func (p *poller) Productive() {
	if !p.adaptive {
		return
	}
	p.current = time.Duration(float64(p.current) * pollShrink)
	if p.current < p.min {
		p.current = p.min
	}
	p.report()
}

func (p *poller) report() {
	if p.gauge != nil {
		p.gauge.Set(p.current.Seconds())
	}
}
