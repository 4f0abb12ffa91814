package deposit

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"vpnstore/internal/database"
	"vpnstore/internal/model"

	"go.uber.org/zap"
)

// ErrBelowMinimum means the requested amount is under the role's floor.
var ErrBelowMinimum = errors.New("amount below minimum deposit")

// Options tunes the tracker. Zero values fall back to production defaults.
type Options struct {
	TTL          time.Duration
	SurchargeMax int64
	MinStandard  int64
	MinReseller  int64
}

func (o *Options) fill() {
	if o.TTL <= 0 {
		o.TTL = time.Hour
	}
	if o.SurchargeMax <= 0 {
		o.SurchargeMax = 300
	}
	if o.MinStandard <= 0 {
		o.MinStandard = 1000
	}
	if o.MinReseller <= 0 {
		o.MinReseller = 50000
	}
}

// Tracker is the registry of open deposit requests. The in-memory map is a
// cache over the deposit_requests table; the table is the source of truth
// and the map is rebuilt from it on startup.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*model.DepositRequest

	db   *database.Database
	opts Options
	log  *zap.Logger
}

func NewTracker(db *database.Database, opts Options, log *zap.Logger) *Tracker {
	opts.fill()
	return &Tracker{
		pending: make(map[string]*model.DepositRequest),
		db:      db,
		opts:    opts,
		log:     log,
	}
}

// Minimum returns the deposit floor for the role tier.
func (t *Tracker) Minimum(reseller bool) int64 {
	if reseller {
		return t.opts.MinReseller
	}
	return t.opts.MinStandard
}

// TTL returns the configured request lifetime.
func (t *Tracker) TTL() time.Duration {
	return t.opts.TTL
}

// Open mints a new pending request. The final amount carries a random
// surcharge in [1, SurchargeMax] so two concurrent requests for the same
// round amount almost never collide in the feed.
func (t *Tracker) Open(userID, requested int64, reseller bool) (*model.DepositRequest, error) {
	if min := t.Minimum(reseller); requested < min {
		return nil, fmt.Errorf("%w: minimum is %d", ErrBelowMinimum, min)
	}

	now := time.Now()
	req := &model.DepositRequest{
		Code:      fmt.Sprintf("dep-%d-%d", userID, now.UnixNano()),
		UserID:    userID,
		Requested: requested,
		Final:     requested + 1 + rand.Int63n(t.opts.SurchargeMax),
		Status:    model.StatusPending,
		CreatedAt: now,
	}

	if err := t.db.InsertDepositRequest(req); err != nil {
		return nil, fmt.Errorf("persist deposit request: %w", err)
	}

	t.mu.Lock()
	t.pending[req.Code] = req
	t.mu.Unlock()

	t.log.Info("deposit request opened",
		zap.String("code", req.Code),
		zap.Int64("user_id", userID),
		zap.Int64("requested", requested),
		zap.Int64("final", req.Final))
	return req, nil
}

// AttachQRMessage records the outbound QR message id so settlement and
// expiry can delete it later. Returns false when the request left the active
// set while the QR was being delivered; the caller owns cleanup of the
// message in that case, since the notifier never saw its id.
func (t *Tracker) AttachQRMessage(code string, messageID int) (bool, error) {
	t.mu.Lock()
	req, open := t.pending[code]
	if open {
		req.QRMessageID = messageID
	}
	t.mu.Unlock()
	if !open {
		return false, nil
	}
	return true, t.db.UpdateDepositQRMessage(code, messageID)
}

// Expire removes every pending request older than the TTL and returns them
// so the caller can notify users and clean up QR messages. The row delete is
// conditioned on the request still being pending, so a settlement that has
// already committed wins the race.
func (t *Tracker) Expire(now time.Time) []*model.DepositRequest {
	t.mu.Lock()
	var stale []*model.DepositRequest
	for _, req := range t.pending {
		if now.Sub(req.CreatedAt) > t.opts.TTL {
			stale = append(stale, req)
		}
	}
	t.mu.Unlock()

	var expired []*model.DepositRequest
	for _, req := range stale {
		removed, err := t.db.DeletePendingDeposit(req.Code)
		if err != nil {
			t.log.Error("failed to expire deposit request", zap.String("code", req.Code), zap.Error(err))
			continue
		}

		t.mu.Lock()
		delete(t.pending, req.Code)
		t.mu.Unlock()

		if removed {
			req.Status = model.StatusExpired
			expired = append(expired, req)
			t.log.Info("deposit request expired", zap.String("code", req.Code), zap.Int64("user_id", req.UserID))
		}
	}
	return expired
}

// Close drops a request from the active set and deletes its row. Closing a
// code twice, or a code that never existed, is a no-op.
func (t *Tracker) Close(code string) {
	t.mu.Lock()
	delete(t.pending, code)
	t.mu.Unlock()

	if _, err := t.db.DeletePendingDeposit(code); err != nil {
		t.log.Error("failed to delete deposit request", zap.String("code", code), zap.Error(err))
	}
}

// Pending returns a snapshot of open requests sorted oldest first, the order
// settlement uses to break final-amount ties.
func (t *Tracker) Pending() []*model.DepositRequest {
	t.mu.Lock()
	out := make([]*model.DepositRequest, 0, len(t.pending))
	for _, req := range t.pending {
		out = append(out, req)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Code < out[j].Code
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Rehydrate rebuilds the active set from durable storage. Called once at
// startup so requests opened before a restart can still settle.
func (t *Tracker) Rehydrate() error {
	reqs, err := t.db.LoadPendingDeposits()
	if err != nil {
		return fmt.Errorf("load pending deposits: %w", err)
	}

	t.mu.Lock()
	for i := range reqs {
		req := reqs[i]
		t.pending[req.Code] = &req
	}
	count := len(t.pending)
	t.mu.Unlock()

	t.log.Info("pending deposits loaded", zap.Int("count", count))
	return nil
}
