/*
outbox.go - Durable delivery of payable ledger postings

PURPOSE:
  Approval must never be held hostage by the payable ledger, and a
  payable must never be silently lost. The engine writes PendingPosting
  rows inside the approval transaction; this Drainer delivers them to the
  Ledger afterwards, retrying on failure with a bounded budget.

GUARANTEES:
  - "approval succeeded" and "all payables posted" stay separate:
    a ledger outage delays postings, it never rolls back an approval.
  - A posting is marked posted only after Post returns nil.
  - After MaxAttempts consecutive failures the row is parked as failed
    and surfaced in the log for manual intervention; it is not retried
    further and not deleted.

DESIGN:
  Background goroutine with a configurable tick, same shape as the other
  periodic workers in this codebase. DrainOnce is exposed separately so
  tests and the approval path can flush synchronously.
*/
package payables

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/trade-core/trading"
)

// =============================================================================
// DRAINER
// =============================================================================

type Drainer struct {
	Store       trading.Store
	Ledger      Ledger
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewDrainer(store trading.Store, ledger Ledger, log zerolog.Logger) *Drainer {
	return &Drainer{
		Store:       store,
		Ledger:      ledger,
		Interval:    5 * time.Second,
		BatchSize:   50,
		MaxAttempts: 5,
		log:         log.With().Str("component", "payables-drainer").Logger(),
		stop:        make(chan struct{}),
	}
}

// Start begins the background drain loop.
func (d *Drainer) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ticker = time.NewTicker(d.Interval)
	d.wg.Add(1)
	go d.run()
	d.log.Info().Dur("interval", d.Interval).Msg("outbox drainer started")
}

// Stop stops the drain loop and waits for the in-flight pass to finish.
func (d *Drainer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ticker != nil {
		d.ticker.Stop()
		close(d.stop)
		d.wg.Wait()
		d.log.Info().Msg("outbox drainer stopped")
	}
}

func (d *Drainer) run() {
	defer d.wg.Done()

	// Drain immediately on start so restarts pick up parked work.
	d.DrainOnce(context.Background())

	for {
		select {
		case <-d.ticker.C:
			d.DrainOnce(context.Background())
		case <-d.stop:
			return
		}
	}
}

// DrainOnce delivers one batch of pending postings. Returns how many were
// posted successfully.
func (d *Drainer) DrainOnce(ctx context.Context) int {
	postings, err := d.Store.PendingPostings(ctx, d.BatchSize)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to load pending postings")
		return 0
	}

	posted := 0
	for _, p := range postings {
		entry := Entry{
			Type:          EntryCredit,
			SupplierID:    p.SupplierID,
			Amount:        p.Amount,
			Currency:      p.Currency,
			ReferenceType: p.ReferenceType,
			ReferenceID:   p.ReferenceID,
			Description:   p.Description,
			Date:          p.Date,
		}

		if err := d.Ledger.Post(ctx, entry); err != nil {
			attempts := p.Attempts + 1
			terminal := attempts >= d.MaxAttempts
			if markErr := d.Store.MarkPostingFailed(ctx, p.ID, attempts, terminal); markErr != nil {
				d.log.Error().Err(markErr).Str("posting", p.ID).Msg("failed to record posting failure")
			}
			evt := d.log.Warn()
			if terminal {
				evt = d.log.Error()
			}
			evt.Err(err).
				Str("posting", p.ID).
				Str("supplier", string(p.SupplierID)).
				Int("attempts", attempts).
				Bool("parked", terminal).
				Msg("payable ledger posting failed")
			continue
		}

		if err := d.Store.MarkPosted(ctx, p.ID); err != nil {
			// The entry reached the ledger but the marker write failed; the
			// next pass will post it again. The ledger is append-only, so
			// this is the at-least-once edge of the outbox.
			d.log.Error().Err(err).Str("posting", p.ID).Msg("posted but failed to mark")
			continue
		}
		posted++
	}

	if posted > 0 {
		d.log.Debug().Int("posted", posted).Msg("drained outbox batch")
	}
	return posted
}
