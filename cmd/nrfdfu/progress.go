package main

import (
	"log/slog"

	"github.com/moffa90/go-nrfdfu/dfu"
)

// progressStep is the percentage between progress log lines.
const progressStep = 10

// progressLogger logs DFU progress at coarse steps. It is only called from
// the engine goroutine.
type progressLogger struct {
	log   *slog.Logger
	state dfu.State
	next  float64
}

func newProgressLogger(log *slog.Logger) *progressLogger {
	return &progressLogger{log: log}
}

func (p *progressLogger) report(pr dfu.Progress) {
	if pr.State != p.state || pr.Percentage < p.next-progressStep {
		p.state = pr.State
		p.next = 0
	}
	if pr.Percentage < p.next {
		return
	}
	p.log.Info("dfu progress", "address", pr.Address, "state", pr.State,
		"percent", int(pr.Percentage), "bytes", pr.BytesSent, "total", pr.TotalBytes)
	p.next = float64(int(pr.Percentage)/progressStep*progressStep + progressStep)
}
