package model

import "time"

// Deposit request statuses
const (
	StatusPending = "pending"
	StatusSettled = "settled"
	StatusExpired = "expired"
)

// Ledger entry kinds
const (
	KindDeposit = "deposit"
)

// AccountKind returns the ledger entry kind for a paid account action.
func AccountKind(accountType AccountType) string {
	return "account-" + string(accountType)
}

// Action is a provisioning operation requested against a server panel.
type Action string

const (
	ActionCreate      Action = "create"
	ActionRenew       Action = "renew"
	ActionDelete      Action = "delete"
	ActionLock        Action = "lock"
	ActionUnlock      Action = "unlock"
	ActionChangeLimit Action = "changelimit"
)

// Paid reports whether the action is balance-gated and debited on success.
func (a Action) Paid() bool {
	return a == ActionCreate || a == ActionRenew
}

// AccountType is the kind of network account managed on a panel.
type AccountType string

const (
	TypeSSH         AccountType = "ssh"
	TypeVMess       AccountType = "vmess"
	TypeVLess       AccountType = "vless"
	TypeTrojan      AccountType = "trojan"
	TypeShadowsocks AccountType = "shadowsocks"
)

// AccountTypes lists every supported account type in menu order.
var AccountTypes = []AccountType{TypeSSH, TypeVMess, TypeVLess, TypeTrojan, TypeShadowsocks}

type User struct {
	ID       int64 `json:"id"`
	UserID   int64 `json:"user_id"`
	Balance  int64 `json:"balance"`
	Reseller bool  `json:"reseller"`
}

// LedgerEntry is one immutable row of the transaction log. Reference is
// unique across all entries and is what makes settlement idempotent.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Amount    int64     `json:"amount"`
	Kind      string    `json:"kind"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerHistory is a page of ledger entries.
type LedgerHistory struct {
	Entries  []LedgerEntry `json:"entries"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// DepositRequest is an open payment request. Final carries the random
// surcharge that disambiguates concurrent requests for the same amount;
// the user is credited Requested, the difference is the admin fee.
type DepositRequest struct {
	Code        string    `json:"code"`
	UserID      int64     `json:"user_id"`
	Requested   int64     `json:"requested"`
	Final       int64     `json:"final"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	QRMessageID int       `json:"qr_message_id"`
}

// Fee returns the admin surcharge portion of the request.
func (r *DepositRequest) Fee() int64 {
	return r.Final - r.Requested
}

// Transaction is one entry of the external mutation feed. Read-only;
// amounts are integer minor units after normalization.
type Transaction struct {
	Reference string `json:"reference_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// Inbound reports whether the transaction is a credit into the account.
func (t Transaction) Inbound() bool {
	return t.Status == "IN"
}

// Server is one provisioning back-end in the inventory.
type Server struct {
	ID           int64  `json:"id"`
	Domain       string `json:"domain"`
	Auth         string `json:"-"`
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	Quota        int    `json:"quota"`
	IPLimit      int    `json:"ip_limit"`
	CreateLimit  int    `json:"create_limit"`
	CreatedCount int    `json:"created_count"`
	ResellerOnly bool   `json:"reseller_only"`
}

// Response is the envelope for HTTP API replies.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CreateServerRequest is the request body for adding a server.
type CreateServerRequest struct {
	Domain       string `json:"domain" binding:"required"`
	Auth         string `json:"auth" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Price        int64  `json:"price" binding:"required,gt=0"`
	Quota        int    `json:"quota"`
	IPLimit      int    `json:"ip_limit"`
	CreateLimit  int    `json:"create_limit"`
	ResellerOnly bool   `json:"reseller_only"`
}

// AdjustBalanceRequest is the admin request body for crediting a user.
type AdjustBalanceRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// RateLimitConfig tunes the per-IP token bucket on the HTTP API.
type RateLimitConfig struct {
	RequestsPerSecond int `json:"requests_per_second"`
	BurstSize         int `json:"burst_size"`
}
