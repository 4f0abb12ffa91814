package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vpnstore/internal/model"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGetOrCreateUser(t *testing.T) {
	db := newTestDB(t)

	user, err := db.GetOrCreateUser(42)
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	if user.Balance != 0 {
		t.Errorf("new user balance = %d, want 0", user.Balance)
	}

	again, err := db.GetOrCreateUser(42)
	if err != nil {
		t.Fatalf("GetOrCreateUser second call: %v", err)
	}
	if again.ID != user.ID {
		t.Errorf("second call created a new row: %d != %d", again.ID, user.ID)
	}
}

func TestCreditDepositIdempotent(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetOrCreateUser(1); err != nil {
		t.Fatal(err)
	}

	balance, err := db.CreditDeposit(1, 5000, "ref-1")
	if err != nil {
		t.Fatalf("first credit: %v", err)
	}
	if balance != 5000 {
		t.Errorf("balance after credit = %d, want 5000", balance)
	}

	_, err = db.CreditDeposit(1, 5000, "ref-1")
	if !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("second credit err = %v, want ErrAlreadySettled", err)
	}

	got, err := db.GetBalance(1)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5000 {
		t.Errorf("balance after duplicate credit = %d, want 5000", got)
	}

	history, err := db.GetLedgerEntries(1, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if history.Total != 1 {
		t.Errorf("ledger entries = %d, want 1", history.Total)
	}
}

func TestDebitForAccount(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetOrCreateUser(1); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreditDeposit(1, 500, "seed"); err != nil {
		t.Fatal(err)
	}

	t.Run("InsufficientFunds", func(t *testing.T) {
		_, err := db.DebitForAccount(1, 1000, "account-ssh", "debit-1")
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("err = %v, want ErrInsufficientFunds", err)
		}
		balance, _ := db.GetBalance(1)
		if balance != 500 {
			t.Errorf("balance changed on failed debit: %d", balance)
		}
		history, _ := db.GetLedgerEntries(1, 1, 10)
		if history.Total != 1 {
			t.Errorf("failed debit left a ledger entry: %d entries", history.Total)
		}
	})

	t.Run("Success", func(t *testing.T) {
		balance, err := db.DebitForAccount(1, 300, "account-ssh", "debit-2")
		if err != nil {
			t.Fatalf("debit: %v", err)
		}
		if balance != 200 {
			t.Errorf("balance = %d, want 200", balance)
		}
	})
}

func TestSettleDeposit(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetOrCreateUser(7); err != nil {
		t.Fatal(err)
	}

	open := func(code string) *model.DepositRequest {
		req := &model.DepositRequest{
			Code:      code,
			UserID:    7,
			Requested: 10000,
			Final:     10123,
			Status:    model.StatusPending,
			CreatedAt: time.Now(),
		}
		if err := db.InsertDepositRequest(req); err != nil {
			t.Fatalf("insert request: %v", err)
		}
		return req
	}

	t.Run("CreditsRequestedAmount", func(t *testing.T) {
		req := open("dep-a")
		balance, err := db.SettleDeposit(req, "tx-a")
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		if balance != 10000 {
			t.Errorf("balance = %d, want 10000 (requested, not final)", balance)
		}
	})

	t.Run("RequestRowGone", func(t *testing.T) {
		req := open("dep-b")
		if _, err := db.DeletePendingDeposit("dep-b"); err != nil {
			t.Fatal(err)
		}
		_, err := db.SettleDeposit(req, "tx-b")
		if !errors.Is(err, ErrRequestClosed) {
			t.Fatalf("err = %v, want ErrRequestClosed", err)
		}
		balance, _ := db.GetBalance(7)
		if balance != 10000 {
			t.Errorf("balance = %d, want unchanged 10000", balance)
		}
	})

	t.Run("DuplicateReference", func(t *testing.T) {
		req := open("dep-c")
		_, err := db.SettleDeposit(req, "tx-a")
		if !errors.Is(err, ErrAlreadySettled) {
			t.Fatalf("err = %v, want ErrAlreadySettled", err)
		}
		if balance, _ := db.GetBalance(7); balance != 10000 {
			t.Errorf("balance = %d, want unchanged 10000", balance)
		}
		// The whole unit of work rolled back: the request survives and can
		// still settle against its own transaction.
		pending, err := db.LoadPendingDeposits()
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, p := range pending {
			if p.Code == "dep-c" {
				found = true
			}
		}
		if !found {
			t.Fatal("request dep-c was closed by a duplicate-reference settle")
		}

		if _, err := db.SettleDeposit(req, "tx-c"); err != nil {
			t.Fatalf("settle with own reference: %v", err)
		}
	})

	t.Run("HasLedgerReference", func(t *testing.T) {
		for _, ref := range []string{"tx-a", "tx-c"} {
			ok, err := db.HasLedgerReference(ref)
			if err != nil || !ok {
				t.Errorf("HasLedgerReference(%q) = %v, %v, want true", ref, ok, err)
			}
		}
		ok, err := db.HasLedgerReference("tx-never")
		if err != nil || ok {
			t.Errorf("HasLedgerReference(tx-never) = %v, %v, want false", ok, err)
		}
	})
}

func TestDeletePendingDepositIdempotent(t *testing.T) {
	db := newTestDB(t)
	req := &model.DepositRequest{
		Code: "dep-x", UserID: 1, Requested: 1000, Final: 1050,
		Status: model.StatusPending, CreatedAt: time.Now(),
	}
	if err := db.InsertDepositRequest(req); err != nil {
		t.Fatal(err)
	}

	removed, err := db.DeletePendingDeposit("dep-x")
	if err != nil || !removed {
		t.Fatalf("first delete: removed=%v err=%v", removed, err)
	}
	removed, err = db.DeletePendingDeposit("dep-x")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if removed {
		t.Error("second delete reported a removed row")
	}
}

func TestServerCreateCap(t *testing.T) {
	db := newTestDB(t)
	server, err := db.CreateServer(&model.Server{
		Domain: "sg1.example.com", Auth: "secret", Name: "SG-1",
		Price: 1000, CreateLimit: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := db.IncrementServerCreated(server.ID); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	if err := db.IncrementServerCreated(server.ID); !errors.Is(err, ErrServerFull) {
		t.Fatalf("err = %v, want ErrServerFull", err)
	}

	if err := db.DecrementServerCreated(server.ID); err != nil {
		t.Fatal(err)
	}
	if err := db.IncrementServerCreated(server.ID); err != nil {
		t.Fatalf("increment after release: %v", err)
	}
}

func TestServerCRUD(t *testing.T) {
	db := newTestDB(t)

	server, err := db.CreateServer(&model.Server{
		Domain: "id1.example.com", Auth: "secret", Name: "ID-1", Price: 500,
	})
	if err != nil {
		t.Fatal(err)
	}

	server.Price = 700
	server.Name = "ID-1b"
	if err := db.UpdateServer(server); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetServer(server.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Price != 700 || got.Name != "ID-1b" {
		t.Errorf("update not applied: %+v", got)
	}

	if err := db.DeleteServer(server.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetServer(server.ID); !errors.Is(err, ErrServerNotFound) {
		t.Fatalf("err = %v, want ErrServerNotFound", err)
	}
}
