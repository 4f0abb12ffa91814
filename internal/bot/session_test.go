package bot

import (
	"sync"
	"testing"

	"vpnstore/internal/model"
)

func TestSessionTransitions(t *testing.T) {
	t.Run("BuyFlowSSH", func(t *testing.T) {
		s := &Session{}
		for _, next := range []State{StateBuyUsername, StateBuyPassword, StateBuyDuration} {
			if err := s.To(next); err != nil {
				t.Fatalf("transition to %s: %v", next, err)
			}
		}
	})

	t.Run("BuyFlowSkipsPassword", func(t *testing.T) {
		s := &Session{State: StateBuyUsername}
		if err := s.To(StateBuyDuration); err != nil {
			t.Fatalf("username straight to duration: %v", err)
		}
	})

	t.Run("CrossFlowRejected", func(t *testing.T) {
		s := &Session{State: StateDepositAmount}
		if err := s.To(StateBuyUsername); err == nil {
			t.Fatal("deposit flow jumped into buy flow")
		}
	})

	t.Run("IdleAlwaysReachable", func(t *testing.T) {
		for _, from := range []State{StateDepositAmount, StateBuyPassword, StateAdminCreditAmount} {
			s := &Session{State: from}
			if err := s.To(StateIdle); err != nil {
				t.Errorf("cancel from %s: %v", from, err)
			}
		}
	})
}

func TestSessionReset(t *testing.T) {
	s := &Session{
		State:       StateBuyDuration,
		Action:      model.ActionCreate,
		AccountType: model.TypeVMess,
		ServerID:    3,
		Username:    "alice1",
		Password:    "pass1",
	}
	s.Reset()
	if s.State != StateIdle || s.Username != "" || s.ServerID != 0 {
		t.Errorf("reset left state behind: %+v", s)
	}
}

func TestSessionConcurrentInput(t *testing.T) {
	reg := NewSessions()
	reg.Get(42).State = StateDepositAmount

	// Rapid digit-pad callbacks arrive on separate goroutines for the same
	// chat; each one holds the session like the update handlers do.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := reg.Get(42)
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.State != StateDepositAmount {
				return
			}
			s.AmountBuffer += "1"
		}()
	}
	wg.Wait()

	if got := reg.Get(42).AmountBuffer; len(got) != 50 {
		t.Errorf("buffer length = %d, want 50", len(got))
	}
}

func TestSessionsRegistry(t *testing.T) {
	reg := NewSessions()

	a := reg.Get(100)
	a.State = StateDepositAmount
	if reg.Get(100) != a {
		t.Error("second Get returned a different session")
	}
	if reg.Get(200).State != StateIdle {
		t.Error("sessions leak state across chats")
	}

	reg.Drop(100)
	if reg.Get(100).State != StateIdle {
		t.Error("dropped session kept its state")
	}
}
