package provision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"vpnstore/internal/database"
	"vpnstore/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrProvisioningFailed means the external operation reported failure.
	// Nothing was debited; the user may retry manually.
	ErrProvisioningFailed = errors.New("provisioning operation failed")

	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidDuration = errors.New("invalid duration")
)

var (
	usernameCreate = regexp.MustCompile(`^[a-z0-9]{4,20}$`)
	usernameManage = regexp.MustCompile(`^[a-z0-9]{3,20}$`)
	passwordRe     = regexp.MustCompile(`^[a-zA-Z0-9]{3,}$`)
)

// Params are the user-supplied inputs for a provisioning operation.
type Params struct {
	Username string
	Password string
	Days     int
}

// Outcome is what Execute returns to the caller: the panel's message plus
// the cost charged (zero for free or failed operations).
type Outcome struct {
	Message string
	Cost    int64
	Balance int64
}

// Coordinator wraps a provisioning operation with balance-check, invoke and
// debit-on-success semantics. The debit happens strictly after a confirmed
// success; a crash in between may under-charge but never over-charges.
type Coordinator struct {
	db      *database.Database
	client  Client
	timeout time.Duration
	log     *zap.Logger
}

func NewCoordinator(db *database.Database, client Client, timeout time.Duration, log *zap.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Coordinator{db: db, client: client, timeout: timeout, log: log}
}

// Execute runs one provisioning operation for a user against a server.
//
// Paid actions (create, renew) are gated on the user's balance covering
// price x duration and debited only after the panel confirms success. Free
// actions skip the gate and leave no ledger entry.
func (c *Coordinator) Execute(ctx context.Context, userID, serverID int64, action model.Action, accountType model.AccountType, params Params) (*Outcome, error) {
	if err := validate(action, accountType, params); err != nil {
		return nil, err
	}

	server, err := c.db.GetServer(serverID)
	if err != nil {
		return nil, err
	}

	duration := int64(1)
	if action.Paid() {
		duration = int64(params.Days)
	}
	totalCost := server.Price * duration

	if action.Paid() {
		balance, err := c.db.GetBalance(userID)
		if err != nil {
			return nil, err
		}
		if balance < totalCost {
			return nil, fmt.Errorf("%w: have %d, need %d", database.ErrInsufficientFunds, balance, totalCost)
		}
	}

	// Reserve a slot against the server's create cap before the panel call;
	// released again if provisioning does not go through.
	reserved := false
	if action == model.ActionCreate {
		if err := c.db.IncrementServerCreated(serverID); err != nil {
			return nil, err
		}
		reserved = true
	}
	release := func() {
		if reserved {
			if err := c.db.DecrementServerCreated(serverID); err != nil {
				c.log.Error("failed to release server slot", zap.Int64("server_id", serverID), zap.Error(err))
			}
			reserved = false
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.client.Invoke(callCtx, Request{
		Action:      action,
		AccountType: accountType,
		Server:      server,
		Username:    params.Username,
		Password:    params.Password,
		Days:        params.Days,
		Quota:       server.Quota,
		IPLimit:     server.IPLimit,
	})
	if err != nil {
		// Timeouts and transport errors are provisioning failures: no debit.
		c.log.Error("panel call error",
			zap.Int64("user_id", userID),
			zap.Int64("server_id", serverID),
			zap.String("action", string(action)),
			zap.Error(err))
		release()
		return nil, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}
	if !result.OK {
		release()
		c.log.Warn("provisioning rejected, balance untouched",
			zap.Int64("user_id", userID),
			zap.Int64("server_id", serverID),
			zap.String("action", string(action)),
			zap.String("type", string(accountType)))
		return nil, fmt.Errorf("%w: %s", ErrProvisioningFailed, result.Message)
	}

	outcome := &Outcome{Message: result.Message}
	if action.Paid() {
		reference := fmt.Sprintf("account-%s-%d-%s", accountType, userID, uuid.NewString())
		newBalance, err := c.db.DebitForAccount(userID, totalCost, model.AccountKind(accountType), reference)
		if err != nil {
			// The account exists but the charge did not land. Surface the
			// error; the under-charge is accepted, an over-charge never
			// happens because balance only moves here.
			c.log.Error("debit after successful provisioning failed",
				zap.Int64("user_id", userID),
				zap.String("reference", reference),
				zap.Error(err))
			return outcome, fmt.Errorf("debit after provisioning: %w", err)
		}
		outcome.Cost = totalCost
		outcome.Balance = newBalance
		c.log.Info("provisioning charged",
			zap.Int64("user_id", userID),
			zap.Int64("server_id", serverID),
			zap.String("action", string(action)),
			zap.String("type", string(accountType)),
			zap.Int64("cost", totalCost))
	}
	return outcome, nil
}

func validate(action model.Action, accountType model.AccountType, params Params) error {
	valid := false
	for _, t := range model.AccountTypes {
		if t == accountType {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("unknown account type %q", accountType)
	}

	re := usernameManage
	if action.Paid() {
		re = usernameCreate
	}
	if !re.MatchString(params.Username) {
		return fmt.Errorf("%w: lowercase letters and digits only", ErrInvalidUsername)
	}

	if params.Password != "" && !passwordRe.MatchString(params.Password) {
		return fmt.Errorf("%w: letters and digits only, at least 3 characters", ErrInvalidPassword)
	}

	if action.Paid() && (params.Days < 1 || params.Days > 365) {
		return fmt.Errorf("%w: must be between 1 and 365 days", ErrInvalidDuration)
	}
	return nil
}
