/*
scheduler.go - Automated horizon maintenance

PURPOSE:
  Periodically re-materializes every active recurrence so the rolling
  horizon stays full without any client calling generate. A template with
  a 6-month horizon swept daily always has roughly 6 months of future
  entries on the ledger.

DESIGN:
  - Runs a background goroutine with configurable sweep interval
  - Sweeps every company, every active template
  - Generation is idempotent, so overlapping with manual generate calls
    or a concurrent sweep is harmless; a lost dedup race surfaces as
    ErrDuplicateInstance and is skipped
  - Paused and ended templates are left alone

CONFIGURATION:
  - SweepInterval: How often to sweep (default: 24 hours)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewHorizonScheduler(store, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Generate endpoint (manual materialization)
  - engine/materialize.go: The engine being invoked
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/recurrence-engine/engine"
)

// HorizonScheduler keeps the materialization horizon of every active
// recurrence topped up.
type HorizonScheduler struct {
	Store         engine.TxStore
	Materializer  *engine.Materializer
	SweepInterval time.Duration
	Enabled       bool
	Logger        *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewHorizonScheduler creates a new scheduler.
func NewHorizonScheduler(store engine.TxStore, logger *slog.Logger) *HorizonScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HorizonScheduler{
		Store:         store,
		Materializer:  engine.NewMaterializer(store, logger),
		SweepInterval: 24 * time.Hour,
		Enabled:       true,
		Logger:        logger,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (hs *HorizonScheduler) Start() {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if !hs.Enabled {
		hs.Logger.Info("horizon scheduler disabled, not starting")
		return
	}

	hs.ticker = time.NewTicker(hs.SweepInterval)
	hs.wg.Add(1)

	go hs.run()

	hs.Logger.Info("horizon scheduler started", "interval", hs.SweepInterval)
}

// Stop stops the scheduler.
func (hs *HorizonScheduler) Stop() {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.ticker != nil {
		hs.ticker.Stop()
		close(hs.stop)
		hs.wg.Wait()
		hs.Logger.Info("horizon scheduler stopped")
	}
}

func (hs *HorizonScheduler) run() {
	defer hs.wg.Done()

	// Sweep immediately on start
	hs.sweep()

	for {
		select {
		case <-hs.ticker.C:
			hs.sweep()
		case <-hs.stop:
			return
		}
	}
}

// sweep runs one materialization pass over every active template.
func (hs *HorizonScheduler) sweep() {
	ctx := context.Background()

	companies, err := hs.Store.Companies(ctx)
	if err != nil {
		hs.Logger.Error("horizon sweep failed to list companies", "error", err)
		return
	}

	var generated, skippedTemplates int
	for _, companyID := range companies {
		templates, err := hs.Store.ListTemplates(ctx, companyID)
		if err != nil {
			hs.Logger.Error("horizon sweep failed to list templates",
				"company_id", companyID, "error", err)
			continue
		}

		for _, tmpl := range templates {
			if tmpl.Status != engine.RecurrenceActive {
				continue
			}
			t := tmpl
			result, err := hs.Materializer.Materialize(ctx, &t, engine.MaterializeInput{
				SkipExisting: true,
			})
			if err != nil {
				// A lost dedup race means another writer covered this
				// template; anything else is worth surfacing.
				if errors.Is(err, engine.ErrDuplicateInstance) {
					skippedTemplates++
					continue
				}
				hs.Logger.Error("horizon sweep failed for recurrence",
					"recurrence_id", tmpl.ID, "company_id", companyID, "error", err)
				continue
			}
			generated += len(result.Created)
		}
	}

	if generated > 0 || skippedTemplates > 0 {
		hs.Logger.Info("horizon sweep completed",
			"generated", generated, "raced", skippedTemplates)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (hs *HorizonScheduler) RunNow() {
	hs.sweep()
}
