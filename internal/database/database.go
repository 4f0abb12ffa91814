package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vpnstore/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrAlreadySettled means the idempotency guard found an existing ledger
	// entry for the reference. The transaction has already been credited,
	// necessarily to some other request, so nothing is changed.
	ErrAlreadySettled = errors.New("transaction already settled")

	// ErrRequestClosed means the deposit request row was gone when settlement
	// ran, usually because the expiry sweep won the race.
	ErrRequestClosed = errors.New("deposit request no longer pending")

	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrUserNotFound      = errors.New("user not found")
	ErrServerNotFound    = errors.New("server not found")
	ErrServerFull        = errors.New("server account limit reached")
)

// Database owns user balances, the append-only ledger, deposit request
// persistence and the server inventory. Every balance mutation happens in a
// single transaction paired with its ledger insert.
type Database struct {
	db *sql.DB
}

// New opens the SQLite database and initializes the schema.
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	// SQLite allows a single writer; serializing the pool avoids
	// SQLITE_BUSY on concurrent settlement and debit transactions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("error creating tables: %v", err)
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER UNIQUE NOT NULL,
			balance INTEGER NOT NULL DEFAULT 0,
			reseller INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			kind TEXT NOT NULL,
			reference TEXT UNIQUE NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS deposit_requests (
			code TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			requested INTEGER NOT NULL,
			final INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL,
			qr_message_id INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (user_id) REFERENCES users(user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS servers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			domain TEXT NOT NULL,
			auth TEXT NOT NULL,
			name TEXT NOT NULL,
			price INTEGER NOT NULL,
			quota INTEGER NOT NULL DEFAULT 0,
			ip_limit INTEGER NOT NULL DEFAULT 0,
			create_limit INTEGER NOT NULL DEFAULT 0,
			created_count INTEGER NOT NULL DEFAULT 0,
			reseller_only INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query: %v\nQuery: %s", err, query)
		}
	}

	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying database connection.
func (d *Database) DB() *sql.DB {
	return d.db
}

// GetOrCreateUser returns the user, inserting a zero-balance row on first
// interaction.
func (d *Database) GetOrCreateUser(userID int64) (*model.User, error) {
	user, err := d.GetUser(userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if _, err := d.db.Exec("INSERT OR IGNORE INTO users (user_id, balance) VALUES (?, 0)", userID); err != nil {
		return nil, err
	}
	return d.GetUser(userID)
}

// GetUser retrieves a user by their external id.
func (d *Database) GetUser(userID int64) (*model.User, error) {
	var user model.User
	err := d.db.QueryRow("SELECT id, user_id, balance, reseller FROM users WHERE user_id = ?", userID).
		Scan(&user.ID, &user.UserID, &user.Balance, &user.Reseller)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetBalance returns the current balance for a user.
func (d *Database) GetBalance(userID int64) (int64, error) {
	var balance int64
	err := d.db.QueryRow("SELECT balance FROM users WHERE user_id = ?", userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// SetReseller flips the privileged tier flag for a user.
func (d *Database) SetReseller(userID int64, reseller bool) error {
	result, err := d.db.Exec("UPDATE users SET reseller = ? WHERE user_id = ?", reseller, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreditDeposit credits a user's balance and appends the ledger entry in one
// transaction. The unique reference constraint is the idempotency guard: if
// an entry already exists the credit is skipped and ErrAlreadySettled is
// returned with no state change.
func (d *Database) CreditDeposit(userID, amount int64, reference string) (int64, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow("SELECT 1 FROM ledger_entries WHERE reference = ?", reference).Scan(&exists)
	if err == nil {
		return 0, ErrAlreadySettled
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	newBalance, err := creditLocked(tx, userID, amount, model.KindDeposit, reference)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// SettleDeposit performs the full settlement unit of work atomically: close
// the pending request, run the idempotency guard, credit the requested
// amount and append the deposit ledger entry. Either everything commits or
// the request stays pending for the next cycle; in particular a guard hit
// rolls the request removal back.
func (d *Database) SettleDeposit(req *model.DepositRequest, reference string) (int64, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Conditioned on the request still being open; losing this race to the
	// expiry sweep means nobody credits.
	result, err := tx.Exec("DELETE FROM deposit_requests WHERE code = ? AND status = ?", req.Code, model.StatusPending)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, ErrRequestClosed
	}

	var exists int
	err = tx.QueryRow("SELECT 1 FROM ledger_entries WHERE reference = ?", reference).Scan(&exists)
	if err == nil {
		// The reference was credited to a different request: a settled
		// request has no row left to delete, so a guard hit here can only
		// mean a final-amount collision. Roll back so the request stays
		// pending and can settle against its own transaction later.
		return 0, ErrAlreadySettled
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	newBalance, err := creditLocked(tx, req.UserID, req.Requested, model.KindDeposit, reference)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return newBalance, nil
}

func creditLocked(tx *sql.Tx, userID, amount int64, kind, reference string) (int64, error) {
	_, err := tx.Exec(
		"INSERT INTO ledger_entries (user_id, amount, kind, reference, created_at) VALUES (?, ?, ?, ?, ?)",
		userID, amount, kind, reference, time.Now().Unix())
	if err != nil {
		return 0, err
	}

	result, err := tx.Exec("UPDATE users SET balance = balance + ? WHERE user_id = ?", amount, userID)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, ErrUserNotFound
	}

	var balance int64
	if err := tx.QueryRow("SELECT balance FROM users WHERE user_id = ?", userID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// DebitForAccount debits a user's balance for a successful provisioning
// operation and appends the ledger entry in one transaction. The update is
// conditioned on the balance covering the cost so concurrent debits cannot
// drive it negative.
func (d *Database) DebitForAccount(userID, cost int64, kind, reference string) (int64, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		"UPDATE users SET balance = balance - ? WHERE user_id = ? AND balance >= ?",
		cost, userID, cost)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, ErrInsufficientFunds
	}

	_, err = tx.Exec(
		"INSERT INTO ledger_entries (user_id, amount, kind, reference, created_at) VALUES (?, ?, ?, ?, ?)",
		userID, -cost, kind, reference, time.Now().Unix())
	if err != nil {
		return 0, err
	}

	var balance int64
	if err := tx.QueryRow("SELECT balance FROM users WHERE user_id = ?", userID).Scan(&balance); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// HasLedgerReference reports whether a ledger entry exists for the external
// reference. The reconciler uses it to drop already-credited transactions
// from matching before they can collide with a pending final amount.
func (d *Database) HasLedgerReference(reference string) (bool, error) {
	var one int
	err := d.db.QueryRow("SELECT 1 FROM ledger_entries WHERE reference = ?", reference).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetLedgerEntries retrieves a user's ledger history with pagination.
func (d *Database) GetLedgerEntries(userID int64, page, pageSize int) (*model.LedgerHistory, error) {
	var total int
	err := d.db.QueryRow("SELECT COUNT(*) FROM ledger_entries WHERE user_id = ?", userID).Scan(&total)
	if err != nil {
		return nil, err
	}

	offset := (page - 1) * pageSize

	rows, err := d.db.Query(`
		SELECT id, user_id, amount, kind, reference, created_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]model.LedgerEntry, 0)
	for rows.Next() {
		var entry model.LedgerEntry
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Amount, &entry.Kind, &entry.Reference, &createdAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &model.LedgerHistory{
		Entries:  entries,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// InsertDepositRequest persists a freshly opened deposit request.
func (d *Database) InsertDepositRequest(req *model.DepositRequest) error {
	_, err := d.db.Exec(`
		INSERT INTO deposit_requests (code, user_id, requested, final, status, created_at, qr_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.Code, req.UserID, req.Requested, req.Final, req.Status, req.CreatedAt.Unix(), req.QRMessageID)
	return err
}

// UpdateDepositQRMessage records the outbound QR message for later cleanup.
func (d *Database) UpdateDepositQRMessage(code string, messageID int) error {
	_, err := d.db.Exec("UPDATE deposit_requests SET qr_message_id = ? WHERE code = ?", messageID, code)
	return err
}

// DeletePendingDeposit removes a request conditioned on it still being
// pending. Returns false when the row was already gone; deleting twice is a
// no-op.
func (d *Database) DeletePendingDeposit(code string) (bool, error) {
	result, err := d.db.Exec("DELETE FROM deposit_requests WHERE code = ? AND status = ?", code, model.StatusPending)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// LoadPendingDeposits returns every persisted pending request, oldest first.
// Used to rehydrate the in-memory active set on startup.
func (d *Database) LoadPendingDeposits() ([]model.DepositRequest, error) {
	rows, err := d.db.Query(`
		SELECT code, user_id, requested, final, status, created_at, qr_message_id
		FROM deposit_requests
		WHERE status = ?
		ORDER BY created_at ASC`, model.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []model.DepositRequest
	for rows.Next() {
		var req model.DepositRequest
		var createdAt int64
		if err := rows.Scan(&req.Code, &req.UserID, &req.Requested, &req.Final, &req.Status, &createdAt, &req.QRMessageID); err != nil {
			return nil, err
		}
		req.CreatedAt = time.Unix(createdAt, 0)
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// CreateServer adds a server to the inventory.
func (d *Database) CreateServer(server *model.Server) (*model.Server, error) {
	result, err := d.db.Exec(`
		INSERT INTO servers (domain, auth, name, price, quota, ip_limit, create_limit, created_count, reseller_only)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		server.Domain, server.Auth, server.Name, server.Price, server.Quota,
		server.IPLimit, server.CreateLimit, server.ResellerOnly)
	if err != nil {
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return d.GetServer(id)
}

// GetServer retrieves a server by id.
func (d *Database) GetServer(id int64) (*model.Server, error) {
	var s model.Server
	err := d.db.QueryRow(`
		SELECT id, domain, auth, name, price, quota, ip_limit, create_limit, created_count, reseller_only
		FROM servers WHERE id = ?`, id).
		Scan(&s.ID, &s.Domain, &s.Auth, &s.Name, &s.Price, &s.Quota, &s.IPLimit,
			&s.CreateLimit, &s.CreatedCount, &s.ResellerOnly)
	if err == sql.ErrNoRows {
		return nil, ErrServerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListServers returns the full inventory.
func (d *Database) ListServers() ([]model.Server, error) {
	rows, err := d.db.Query(`
		SELECT id, domain, auth, name, price, quota, ip_limit, create_limit, created_count, reseller_only
		FROM servers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	servers := make([]model.Server, 0)
	for rows.Next() {
		var s model.Server
		if err := rows.Scan(&s.ID, &s.Domain, &s.Auth, &s.Name, &s.Price, &s.Quota, &s.IPLimit,
			&s.CreateLimit, &s.CreatedCount, &s.ResellerOnly); err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

// UpdateServer overwrites every editable attribute of a server.
func (d *Database) UpdateServer(server *model.Server) error {
	result, err := d.db.Exec(`
		UPDATE servers
		SET domain = ?, auth = ?, name = ?, price = ?, quota = ?, ip_limit = ?, create_limit = ?, reseller_only = ?
		WHERE id = ?`,
		server.Domain, server.Auth, server.Name, server.Price, server.Quota,
		server.IPLimit, server.CreateLimit, server.ResellerOnly, server.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrServerNotFound
	}
	return nil
}

// DeleteServer removes a server from the inventory.
func (d *Database) DeleteServer(id int64) error {
	result, err := d.db.Exec("DELETE FROM servers WHERE id = ?", id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrServerNotFound
	}
	return nil
}

// IncrementServerCreated bumps the created-account counter conditioned on
// the server's create cap.
func (d *Database) IncrementServerCreated(id int64) error {
	result, err := d.db.Exec(
		"UPDATE servers SET created_count = created_count + 1 WHERE id = ? AND (create_limit = 0 OR created_count < create_limit)",
		id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrServerFull
	}
	return nil
}

// DecrementServerCreated releases a reserved slot after a failed create.
func (d *Database) DecrementServerCreated(id int64) error {
	_, err := d.db.Exec(
		"UPDATE servers SET created_count = created_count - 1 WHERE id = ? AND created_count > 0",
		id)
	return err
}
