package deposit

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"vpnstore/internal/database"
)

func newTracker(t *testing.T, opts Options) (*Tracker, *database.Database) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTracker(db, opts, zap.NewNop()), db
}

func TestOpenSurchargeRange(t *testing.T) {
	tracker, _ := newTracker(t, Options{SurchargeMax: 300})

	// The surcharge is random, so sample repeatedly and check bounds.
	for i := 0; i < 50; i++ {
		req, err := tracker.Open(int64(i), 10000, false)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if req.Final <= req.Requested || req.Final > req.Requested+300 {
			t.Fatalf("final = %d, want in (%d, %d]", req.Final, req.Requested, req.Requested+300)
		}
		if req.Fee() != req.Final-req.Requested {
			t.Fatalf("fee = %d, want %d", req.Fee(), req.Final-req.Requested)
		}
	}
}

func TestOpenBelowMinimum(t *testing.T) {
	tracker, _ := newTracker(t, Options{MinStandard: 1000, MinReseller: 50000})

	if _, err := tracker.Open(1, 999, false); !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("standard 999: err = %v, want ErrBelowMinimum", err)
	}
	if _, err := tracker.Open(1, 1000, false); err != nil {
		t.Errorf("standard 1000: %v", err)
	}
	if _, err := tracker.Open(2, 49999, true); !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("reseller 49999: err = %v, want ErrBelowMinimum", err)
	}
	if _, err := tracker.Open(2, 50000, true); err != nil {
		t.Errorf("reseller 50000: %v", err)
	}
}

func TestExpire(t *testing.T) {
	tracker, db := newTracker(t, Options{TTL: time.Minute})

	req, err := tracker.Open(1, 5000, false)
	if err != nil {
		t.Fatal(err)
	}

	if expired := tracker.Expire(req.CreatedAt.Add(30 * time.Second)); len(expired) != 0 {
		t.Fatalf("expired %d requests before TTL", len(expired))
	}

	expired := tracker.Expire(req.CreatedAt.Add(2 * time.Minute))
	if len(expired) != 1 || expired[0].Code != req.Code {
		t.Fatalf("expired = %v, want [%s]", expired, req.Code)
	}
	if len(tracker.Pending()) != 0 {
		t.Error("request still pending after expiry")
	}

	pending, err := db.LoadPendingDeposits()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Error("request row survived expiry")
	}

	// A second sweep reports nothing.
	if expired := tracker.Expire(req.CreatedAt.Add(3 * time.Minute)); len(expired) != 0 {
		t.Errorf("second sweep expired %d requests", len(expired))
	}
}

func TestAttachQRMessage(t *testing.T) {
	tracker, db := newTracker(t, Options{})

	req, err := tracker.Open(1, 5000, false)
	if err != nil {
		t.Fatal(err)
	}

	attached, err := tracker.AttachQRMessage(req.Code, 77)
	if err != nil || !attached {
		t.Fatalf("attach on open request: attached=%v err=%v", attached, err)
	}
	pending, err := db.LoadPendingDeposits()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].QRMessageID != 77 {
		t.Errorf("persisted request = %+v, want qr_message_id 77", pending)
	}

	// The request can close while the QR is still being delivered; the
	// caller is told so it can clean the message up itself.
	tracker.Close(req.Code)
	attached, err = tracker.AttachQRMessage(req.Code, 78)
	if err != nil {
		t.Fatal(err)
	}
	if attached {
		t.Error("attach reported success on a closed request")
	}
}

func TestCloseIdempotent(t *testing.T) {
	tracker, _ := newTracker(t, Options{})

	req, err := tracker.Open(1, 5000, false)
	if err != nil {
		t.Fatal(err)
	}
	tracker.Close(req.Code)
	tracker.Close(req.Code)
	tracker.Close("never-opened")

	if len(tracker.Pending()) != 0 {
		t.Error("closed request still pending")
	}
}

func TestPendingOldestFirst(t *testing.T) {
	tracker, _ := newTracker(t, Options{})

	var codes []string
	for i := 0; i < 3; i++ {
		req, err := tracker.Open(int64(i), 5000, false)
		if err != nil {
			t.Fatal(err)
		}
		codes = append(codes, req.Code)
		time.Sleep(2 * time.Millisecond)
	}

	pending := tracker.Pending()
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	for i, req := range pending {
		if req.Code != codes[i] {
			t.Errorf("pending[%d] = %s, want %s", i, req.Code, codes[i])
		}
	}
}

func TestRehydrate(t *testing.T) {
	tracker, db := newTracker(t, Options{})

	req, err := tracker.Open(9, 7500, false)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a restart: fresh tracker over the same database.
	restarted := NewTracker(db, Options{}, zap.NewNop())
	if err := restarted.Rehydrate(); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	pending := restarted.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending after restart = %d, want 1", len(pending))
	}
	got := pending[0]
	if got.Code != req.Code || got.Final != req.Final || got.UserID != 9 {
		t.Errorf("rehydrated request = %+v, want %+v", got, req)
	}
}
