package bot

import (
	"fmt"
	"sync"

	"vpnstore/internal/model"
)

// State names one step of a chat conversation. Transitions are validated so
// a stray update can never leave a session half-way through two flows at
// once.
type State int

const (
	StateIdle State = iota
	StateDepositAmount
	StateBuyUsername
	StateBuyPassword
	StateBuyDuration
	StateManageUsername
	StateAdminCreditUser
	StateAdminCreditAmount
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDepositAmount:
		return "deposit_amount"
	case StateBuyUsername:
		return "buy_username"
	case StateBuyPassword:
		return "buy_password"
	case StateBuyDuration:
		return "buy_duration"
	case StateManageUsername:
		return "manage_username"
	case StateAdminCreditUser:
		return "admin_credit_user"
	case StateAdminCreditAmount:
		return "admin_credit_amount"
	default:
		return "unknown"
	}
}

// transitions holds the allowed next states for each state. Idle is always
// reachable (cancel / flow finished).
var transitions = map[State][]State{
	StateIdle:              {StateDepositAmount, StateBuyUsername, StateManageUsername, StateAdminCreditUser},
	StateDepositAmount:     {},
	StateBuyUsername:       {StateBuyPassword, StateBuyDuration},
	StateBuyPassword:       {StateBuyDuration},
	StateBuyDuration:       {},
	StateManageUsername:    {},
	StateAdminCreditUser:   {StateAdminCreditAmount},
	StateAdminCreditAmount: {},
}

// Session is the per-chat conversation state. Updates for one chat are
// handled on separate goroutines, so every handler holds mu for the whole
// interaction before reading or writing the fields.
type Session struct {
	mu sync.Mutex

	State        State
	Action       model.Action
	AccountType  model.AccountType
	ServerID     int64
	Username     string
	Password     string
	AmountBuffer string
	TargetUserID int64
	PromptMsgID  int
}

// To validates and applies a state transition.
func (s *Session) To(next State) error {
	if next == StateIdle {
		s.State = StateIdle
		return nil
	}
	for _, allowed := range transitions[s.State] {
		if allowed == next {
			s.State = next
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", s.State, next)
}

// Reset clears the session back to idle. The mutex is left alone so Reset
// is safe while the session is held.
func (s *Session) Reset() {
	s.State = StateIdle
	s.Action = ""
	s.AccountType = ""
	s.ServerID = 0
	s.Username = ""
	s.Password = ""
	s.AmountBuffer = ""
	s.TargetUserID = 0
	s.PromptMsgID = 0
}

// Sessions is a concurrency-safe registry of chat sessions.
type Sessions struct {
	mu sync.Mutex
	m  map[int64]*Session
}

func NewSessions() *Sessions {
	return &Sessions{m: make(map[int64]*Session)}
}

// Get returns the session for a chat, creating it when absent.
func (s *Sessions) Get(chatID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[chatID]
	if !ok {
		sess = &Session{}
		s.m[chatID] = sess
	}
	return sess
}

// Drop removes a chat's session entirely.
func (s *Sessions) Drop(chatID int64) {
	s.mu.Lock()
	delete(s.m, chatID)
	s.mu.Unlock()
}
