package reconcile

import (
	"context"
	"errors"
	"time"

	"vpnstore/internal/database"
	"vpnstore/internal/deposit"
	"vpnstore/internal/model"

	"go.uber.org/zap"
)

// Feed is the mutation source polled each cycle.
type Feed interface {
	FetchRecent(ctx context.Context) ([]model.Transaction, error)
}

// Notifier delivers the per-event user messages. Notification is best
// effort: a failed send never unwinds a committed settlement.
type Notifier interface {
	DepositSettled(userID int64, req *model.DepositRequest, newBalance int64)
	DepositExpired(userID int64, req *model.DepositRequest)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) DepositSettled(int64, *model.DepositRequest, int64) {}
func (NopNotifier) DepositExpired(int64, *model.DepositRequest)        {}

// Reconciler drives the poll/match/settle loop. One instance runs for the
// whole process; request-handling flows never call into it directly.
type Reconciler struct {
	tracker  *deposit.Tracker
	db       *database.Database
	feed     Feed
	notify   Notifier
	interval time.Duration
	log      *zap.Logger
}

func New(tracker *deposit.Tracker, db *database.Database, feed Feed, notify Notifier, interval time.Duration, log *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Reconciler{
		tracker:  tracker,
		db:       db,
		feed:     feed,
		notify:   notify,
		interval: interval,
		log:      log,
	}
}

// Run executes ReconcileOnce on a fixed interval until the context is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce performs one full cycle: expire stale requests, fetch the
// feed once, and settle every pending request with a matching inbound
// credit. Settlement is idempotent across cycles and restarts because the
// ledger reference uniqueness is checked inside the settlement transaction.
func (r *Reconciler) ReconcileOnce(ctx context.Context) {
	for _, req := range r.tracker.Expire(time.Now()) {
		r.notify.DepositExpired(req.UserID, req)
	}

	pending := r.tracker.Pending()
	if len(pending) == 0 {
		return
	}

	txs, err := r.feed.FetchRecent(ctx)
	if err != nil {
		// No new data this cycle; pending requests are untouched and will
		// be retried on the next tick.
		r.log.Warn("mutation feed unavailable", zap.Error(err))
		return
	}

	// A transaction is consumable by exactly one request, ever. The feed
	// repeats entries across polls, so references that already carry a
	// ledger entry are pre-marked consumed; otherwise a repeated entry
	// could collide with a younger request sharing the same final amount.
	// Pending is ordered oldest first, which is the tie-break when two
	// requests share a final amount within one cycle.
	consumed := make(map[string]bool)
	for _, tx := range txs {
		if !tx.Inbound() {
			continue
		}
		settled, err := r.db.HasLedgerReference(tx.Reference)
		if err != nil {
			r.log.Warn("ledger reference lookup failed", zap.String("reference", tx.Reference), zap.Error(err))
			return
		}
		if settled {
			consumed[tx.Reference] = true
		}
	}

	for _, req := range pending {
		tx, ok := matchTransaction(txs, req.Final, consumed)
		if !ok {
			continue
		}
		if r.settle(req, tx) {
			consumed[tx.Reference] = true
		}
	}
}

func matchTransaction(txs []model.Transaction, amount int64, consumed map[string]bool) (model.Transaction, bool) {
	for _, tx := range txs {
		if tx.Inbound() && tx.Amount == amount && !consumed[tx.Reference] {
			return tx, true
		}
	}
	return model.Transaction{}, false
}

// settle converts the matched transaction into a balance credit. Returns
// true when the transaction reference was consumed, either now or by a
// previous cycle.
func (r *Reconciler) settle(req *model.DepositRequest, tx model.Transaction) bool {
	newBalance, err := r.db.SettleDeposit(req, tx.Reference)
	switch {
	case err == nil:
		r.tracker.Close(req.Code)
		req.Status = model.StatusSettled
		r.log.Info("deposit settled",
			zap.String("code", req.Code),
			zap.Int64("user_id", req.UserID),
			zap.Int64("credited", req.Requested),
			zap.Int64("fee", req.Fee()),
			zap.String("reference", tx.Reference))
		r.notify.DepositSettled(req.UserID, req, newBalance)
		return true
	case errors.Is(err, database.ErrAlreadySettled):
		// The reference was credited to another request with the same final
		// amount. The settlement rolled back, so this request stays pending
		// and waits for its own transaction; the reference is spent either
		// way.
		return true
	case errors.Is(err, database.ErrRequestClosed):
		// Expiry sweep or another process closed the request first.
		r.tracker.Close(req.Code)
		return false
	default:
		// Whole unit of work aborted; request stays pending for the next
		// cycle.
		r.log.Error("settlement failed",
			zap.String("code", req.Code),
			zap.String("reference", tx.Reference),
			zap.Error(err))
		return false
	}
}
