// Package audit runs the periodic conservation check of the ledger and
// refreshes the ledger state gauges on the same schedule.
package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/token_ledger/internal/feeledger"
	"github.com/R3E-Network/token_ledger/internal/logging"
	"github.com/R3E-Network/token_ledger/internal/metrics"
)

// DefaultSchedule checks the ledger once a minute.
const DefaultSchedule = "@every 1m"

// Ledger is what the auditor inspects.
type Ledger interface {
	CheckInvariants() error
	Info() feeledger.Info
}

// Auditor schedules conservation checks with a cron expression.
type Auditor struct {
	ledger Ledger
	logger *logging.Logger
	cron   *cron.Cron

	mu        sync.Mutex
	lastErr   error
	runs      int
	violation bool
}

// New validates schedule and prepares an auditor. Standard five-field
// expressions and descriptors such as "@every 30s" are accepted.
func New(ledger Ledger, schedule string, logger *logging.Logger) (*Auditor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	a := &Auditor{
		ledger: ledger,
		logger: logger,
		cron:   cron.New(),
	}
	if _, err := a.cron.AddFunc(schedule, func() { _ = a.RunOnce() }); err != nil {
		return nil, fmt.Errorf("invalid audit schedule %q: %w", schedule, err)
	}
	return a, nil
}

// Start begins running checks in the background.
func (a *Auditor) Start() {
	a.logger.WithField("entries", len(a.cron.Entries())).Info("Ledger auditor started")
	a.cron.Start()
}

// Stop halts the schedule and waits for a running check to finish or ctx
// to expire.
func (a *Auditor) Stop(ctx context.Context) {
	done := a.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce performs one check immediately.
func (a *Auditor) RunOnce() error {
	err := a.ledger.CheckInvariants()
	info := a.ledger.Info()
	metrics.SetLedgerState(info.Paused, info.FeeRateBps, info.Pairs)
	metrics.RecordAudit(err == nil)

	a.mu.Lock()
	a.runs++
	a.lastErr = err
	if err != nil {
		a.violation = true
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.WithError(err).Error("Ledger conservation check failed")
		return err
	}
	a.logger.WithField("total_supply", info.TotalSupply.Dec()).Debug("Ledger conservation check passed")
	return nil
}

// Status reports how many checks ran, the most recent result and whether
// any check has ever failed.
func (a *Auditor) Status() (runs int, lastErr error, everFailed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs, a.lastErr, a.violation
}
