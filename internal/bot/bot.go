package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"vpnstore/internal/config"
	"vpnstore/internal/database"
	"vpnstore/internal/deposit"
	"vpnstore/internal/model"
	"vpnstore/internal/payment"
	"vpnstore/internal/provision"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bot is the chat front-end. It translates Telegram updates into core
// operations and implements the Notifier consumed by the reconciler.
type Bot struct {
	api         *tgbotapi.BotAPI
	db          *database.Database
	tracker     *deposit.Tracker
	gateway     *payment.Gateway
	coordinator *provision.Coordinator
	cfg         config.BotConfig
	sessions    *Sessions
	log         *zap.Logger
}

func New(api *tgbotapi.BotAPI, db *database.Database, tracker *deposit.Tracker,
	gateway *payment.Gateway, coordinator *provision.Coordinator,
	cfg config.BotConfig, log *zap.Logger) *Bot {
	return &Bot{
		api:         api,
		db:          db,
		tracker:     tracker,
		gateway:     gateway,
		coordinator: coordinator,
		cfg:         cfg,
		sessions:    NewSessions(),
		log:         log,
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	for _, id := range b.cfg.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Run consumes the long-poll update channel until the context is done.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.log.Info("bot started", zap.String("username", b.api.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic in update handler", zap.Any("panic", r))
		}
	}()

	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	if _, err := b.db.GetOrCreateUser(userID); err != nil {
		b.log.Error("failed to load user", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	// Updates are handled on separate goroutines; holding the session for
	// the whole interaction serializes rapid inputs from the same chat.
	sess := b.sessions.Get(msg.Chat.ID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "menu":
			sess.Reset()
			b.sendMainMenu(msg.Chat.ID, userID)
		case "admin":
			if !b.isAdmin(userID) {
				b.send(msg.Chat.ID, "🚫 You are not allowed to use the admin menu.")
				return
			}
			b.reply(msg.Chat.ID, "🛠 Admin menu:", adminMenuKeyboard())
		}
		return
	}

	text := strings.TrimSpace(msg.Text)

	switch sess.State {
	case StateBuyUsername, StateManageUsername:
		b.handleUsernameInput(ctx, msg.Chat.ID, userID, sess, text)
	case StateBuyPassword:
		sess.Password = text
		if err := sess.To(StateBuyDuration); err != nil {
			sess.Reset()
			return
		}
		b.send(msg.Chat.ID, "⏳ Enter the active period in days (1-365):")
	case StateBuyDuration:
		b.handleDurationInput(ctx, msg.Chat.ID, userID, sess, text)
	case StateAdminCreditUser:
		target, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			b.send(msg.Chat.ID, "⚠️ User ID must be a number. Try again:")
			return
		}
		sess.TargetUserID = target
		if err := sess.To(StateAdminCreditAmount); err != nil {
			sess.Reset()
			return
		}
		b.send(msg.Chat.ID, "💰 Enter the amount to credit:")
	case StateAdminCreditAmount:
		b.handleAdminCredit(msg.Chat.ID, userID, sess, text)
	}
}

func (b *Bot) handleUsernameInput(ctx context.Context, chatID, userID int64, sess *Session, username string) {
	if username == "" {
		b.send(chatID, "❌ Username cannot be empty. Try again:")
		return
	}
	sess.Username = username

	if sess.State == StateManageUsername {
		// Free actions need no duration; run straight away.
		sess.To(StateIdle)
		b.runProvision(ctx, chatID, userID, sess, provision.Params{Username: username})
		return
	}

	if sess.Action == model.ActionCreate && sess.AccountType == model.TypeSSH {
		if err := sess.To(StateBuyPassword); err != nil {
			sess.Reset()
			return
		}
		b.send(chatID, "🔑 Enter a password:")
		return
	}
	if err := sess.To(StateBuyDuration); err != nil {
		sess.Reset()
		return
	}
	b.send(chatID, "⏳ Enter the active period in days (1-365):")
}

func (b *Bot) handleDurationInput(ctx context.Context, chatID, userID int64, sess *Session, text string) {
	days, err := strconv.Atoi(text)
	if err != nil || days < 1 || days > 365 {
		b.send(chatID, "❌ The active period must be a number between 1 and 365. Try again:")
		return
	}
	params := provision.Params{
		Username: sess.Username,
		Password: sess.Password,
		Days:     days,
	}
	sess.To(StateIdle)
	b.runProvision(ctx, chatID, userID, sess, params)
}

func (b *Bot) runProvision(ctx context.Context, chatID, userID int64, sess *Session, params provision.Params) {
	action, accountType, serverID := sess.Action, sess.AccountType, sess.ServerID
	sess.Reset()

	outcome, err := b.coordinator.Execute(ctx, userID, serverID, action, accountType, params)
	switch {
	case err == nil:
		b.send(chatID, outcome.Message)
		if action.Paid() {
			b.send(chatID, fmt.Sprintf("💳 Charged Rp%d. Balance: Rp%d", outcome.Cost, outcome.Balance))
			b.notifyGroup(fmt.Sprintf("📢 Account %s\n👤 User: %d\n🧾 Type: %s\n📛 Username: %s",
				action, userID, strings.ToUpper(string(accountType)), maskUsername(params.Username)))
		}
	case errors.Is(err, database.ErrInsufficientFunds):
		b.send(chatID, "❌ Your balance does not cover this transaction. Top up first.")
	case errors.Is(err, database.ErrServerFull):
		b.send(chatID, "❌ This server has reached its account limit. Pick another one.")
	case errors.Is(err, provision.ErrProvisioningFailed):
		b.send(chatID, fmt.Sprintf("❌ The operation failed on the server. Nothing was charged.\n\n%v", err))
	default:
		b.log.Error("provisioning error", zap.Int64("user_id", userID), zap.Error(err))
		b.send(chatID, "❌ Something went wrong. Please try again later.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID
	userID := cb.From.ID
	data := cb.Data
	sess := b.sessions.Get(chatID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ack := func(text string) {
		callback := tgbotapi.NewCallback(cb.ID, text)
		if _, err := b.api.Request(callback); err != nil {
			b.log.Warn("callback ack failed", zap.Error(err))
		}
	}

	switch {
	case data == "menu:main":
		sess.Reset()
		ack("")
		b.sendMainMenu(chatID, userID)

	case data == "menu:balance":
		ack("")
		balance, err := b.db.GetBalance(userID)
		if err != nil {
			b.send(chatID, "❌ Could not read your balance.")
			return
		}
		b.send(chatID, fmt.Sprintf("💳 Your balance: Rp%d", balance))

	case data == "menu:topup":
		sess.Reset()
		if err := sess.To(StateDepositAmount); err != nil {
			ack("")
			return
		}
		sess.AmountBuffer = ""
		ack("")
		b.reply(chatID, "💰 Enter the amount you want to top up:\n\nCurrent amount: Rp0", digitKeyboard())

	case data == "menu:buy", data == "menu:renew":
		sess.Reset()
		if data == "menu:buy" {
			sess.Action = model.ActionCreate
		} else {
			sess.Action = model.ActionRenew
		}
		ack("")
		b.reply(chatID, "🧾 Choose the account type:", accountTypeKeyboard())

	case data == "menu:manage":
		sess.Reset()
		ack("")
		b.reply(chatID, "🔧 Choose an operation:", actionKeyboard())

	case data == "menu:admin":
		ack("")
		if !b.isAdmin(userID) {
			b.send(chatID, "🚫 You are not allowed to use the admin menu.")
			return
		}
		b.reply(chatID, "🛠 Admin menu:", adminMenuKeyboard())

	case data == "admin:credit":
		ack("")
		if !b.isAdmin(userID) {
			return
		}
		sess.Reset()
		if err := sess.To(StateAdminCreditUser); err != nil {
			return
		}
		b.send(chatID, "🔍 Enter the Telegram ID of the user to credit:")

	case strings.HasPrefix(data, "act:"):
		sess.Action = model.Action(strings.TrimPrefix(data, "act:"))
		ack("")
		b.reply(chatID, "🧾 Choose the account type:", accountTypeKeyboard())

	case strings.HasPrefix(data, "typ:"):
		sess.AccountType = model.AccountType(strings.TrimPrefix(data, "typ:"))
		if sess.Action == "" {
			ack("")
			b.sendMainMenu(chatID, userID)
			return
		}
		ack("")
		b.sendServerList(chatID, userID)

	case strings.HasPrefix(data, "srv:"):
		b.handleServerChosen(chatID, userID, sess, strings.TrimPrefix(data, "srv:"), ack)

	case strings.HasPrefix(data, "num:"):
		b.handleDigit(ctx, cb, sess, strings.TrimPrefix(data, "num:"), ack)

	default:
		ack("")
	}
}

func (b *Bot) sendServerList(chatID, userID int64) {
	servers, err := b.db.ListServers()
	if err != nil {
		b.send(chatID, "❌ Could not load the server list.")
		return
	}

	user, err := b.db.GetOrCreateUser(userID)
	if err != nil {
		b.send(chatID, "❌ Could not load your account.")
		return
	}

	visible := servers[:0]
	for _, s := range servers {
		if s.ResellerOnly && !user.Reseller {
			continue
		}
		visible = append(visible, s)
	}
	if len(visible) == 0 {
		b.send(chatID, "⚠️ No servers are available right now.")
		return
	}
	b.reply(chatID, "🌐 Choose a server:", serverKeyboard(visible))
}

func (b *Bot) handleServerChosen(chatID, userID int64, sess *Session, idStr string, ack func(string)) {
	serverID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		ack("")
		return
	}
	sess.ServerID = serverID

	next := StateBuyUsername
	if !sess.Action.Paid() {
		next = StateManageUsername
	}
	if err := sess.To(next); err != nil {
		sess.Reset()
		ack("")
		b.sendMainMenu(chatID, userID)
		return
	}
	ack("")
	b.send(chatID, "👤 Enter the username (lowercase letters and digits):")
}

func (b *Bot) handleDigit(ctx context.Context, cb *tgbotapi.CallbackQuery, sess *Session, key string, ack func(string)) {
	chatID := cb.Message.Chat.ID
	userID := cb.From.ID

	if sess.State != StateDepositAmount {
		ack("")
		return
	}

	switch key {
	case "del":
		if len(sess.AmountBuffer) > 0 {
			sess.AmountBuffer = sess.AmountBuffer[:len(sess.AmountBuffer)-1]
		}
	case "ok":
		amount, _ := strconv.ParseInt(sess.AmountBuffer, 10, 64)
		if amount == 0 {
			ack("⚠️ The amount cannot be empty.")
			return
		}
		sess.To(StateIdle)
		ack("")
		b.openDeposit(ctx, chatID, userID, amount, cb.Message.MessageID)
		return
	default:
		if len(sess.AmountBuffer) >= 12 {
			ack("⚠️ The amount cannot exceed 12 digits.")
			return
		}
		sess.AmountBuffer += key
	}

	ack("")
	edit := tgbotapi.NewEditMessageText(chatID, cb.Message.MessageID,
		fmt.Sprintf("💰 Enter the amount you want to top up:\n\nCurrent amount: Rp%s", orZero(sess.AmountBuffer)))
	kb := digitKeyboard()
	edit.ReplyMarkup = &kb
	if _, err := b.api.Send(edit); err != nil {
		b.log.Warn("failed to edit amount message", zap.Error(err))
	}
}

func (b *Bot) openDeposit(ctx context.Context, chatID, userID, amount int64, promptMsgID int) {
	user, err := b.db.GetOrCreateUser(userID)
	if err != nil {
		b.send(chatID, "❌ Could not load your account.")
		return
	}

	req, err := b.tracker.Open(userID, amount, user.Reseller)
	if errors.Is(err, deposit.ErrBelowMinimum) {
		b.send(chatID, fmt.Sprintf("⚠️ The minimum top up for your account is Rp%d.", b.tracker.Minimum(user.Reseller)))
		return
	}
	if err != nil {
		b.log.Error("failed to open deposit", zap.Int64("user_id", userID), zap.Error(err))
		b.send(chatID, "❌ Could not start the top up. Please try again later.")
		return
	}

	qr, err := b.gateway.CreatePayment(ctx, req.Final)
	if err != nil {
		// Without a QR nothing can be paid; close the request instead of
		// leaving it to expire.
		b.tracker.Close(req.Code)
		b.log.Error("payment gateway error", zap.String("code", req.Code), zap.Error(err))
		b.send(chatID, "❌ Could not create the payment QR. Please try again later.")
		return
	}

	caption := fmt.Sprintf(
		"📝 Payment details:\n\n"+
			"💰 Transfer exactly: Rp%d\n"+
			"- Top up amount: Rp%d\n"+
			"- Admin fee: Rp%d\n\n"+
			"⏱ Valid for %d minutes\n"+
			"Payment is verified automatically; the balance is added once the transfer arrives.",
		req.Final, req.Requested, req.Fee(), int(b.tracker.TTL().Minutes()))

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "qris.png", Bytes: qr})
	photo.Caption = caption
	sent, err := b.api.Send(photo)
	if err != nil {
		b.tracker.Close(req.Code)
		b.log.Error("failed to send QR", zap.String("code", req.Code), zap.Error(err))
		b.send(chatID, "❌ Could not deliver the payment QR. Please try again later.")
		return
	}

	attached, err := b.tracker.AttachQRMessage(req.Code, sent.MessageID)
	if err != nil {
		b.log.Warn("failed to record QR message", zap.String("code", req.Code), zap.Error(err))
	}
	if !attached {
		// Settled or expired while the QR was in flight; the notifier had no
		// message id to clean up, so remove the photo here.
		del := tgbotapi.NewDeleteMessage(chatID, sent.MessageID)
		if _, err := b.api.Request(del); err != nil {
			b.log.Warn("failed to delete stale QR message", zap.String("code", req.Code), zap.Error(err))
		}
	}

	// Drop the amount-entry prompt now that the QR is out.
	del := tgbotapi.NewDeleteMessage(chatID, promptMsgID)
	if _, err := b.api.Request(del); err != nil {
		b.log.Warn("failed to delete amount prompt", zap.Error(err))
	}
}

func (b *Bot) handleAdminCredit(chatID, adminID int64, sess *Session, text string) {
	amount, err := strconv.ParseInt(text, 10, 64)
	if err != nil || amount <= 0 {
		b.send(chatID, "⚠️ The amount must be a positive number. Try again:")
		return
	}
	target := sess.TargetUserID
	sess.Reset()

	if _, err := b.db.GetOrCreateUser(target); err != nil {
		b.send(chatID, "❌ Could not load the target user.")
		return
	}

	reference := fmt.Sprintf("admin-%d-%s", target, uuid.NewString())
	newBalance, err := b.db.CreditDeposit(target, amount, reference)
	if err != nil {
		b.log.Error("admin credit failed", zap.Int64("target", target), zap.Error(err))
		b.send(chatID, "❌ Could not credit the user.")
		return
	}

	b.log.Info("admin credit",
		zap.Int64("admin_id", adminID),
		zap.Int64("target", target),
		zap.Int64("amount", amount))
	b.send(chatID, fmt.Sprintf("✅ Credited Rp%d to user %d.\n💳 Their balance is now Rp%d.", amount, target, newBalance))
}

func (b *Bot) sendMainMenu(chatID, userID int64) {
	balance, err := b.db.GetBalance(userID)
	if err != nil {
		balance = 0
	}
	text := fmt.Sprintf("🏪 %s\n\n💳 Balance: Rp%d", b.cfg.StoreName, balance)
	b.reply(chatID, text, mainMenuKeyboard(b.isAdmin(userID)))
}

// DepositSettled implements reconcile.Notifier: one confirmation per
// settlement, plus QR cleanup and the group announcement.
func (b *Bot) DepositSettled(userID int64, req *model.DepositRequest, newBalance int64) {
	if req.QRMessageID != 0 {
		del := tgbotapi.NewDeleteMessage(userID, req.QRMessageID)
		if _, err := b.api.Request(del); err != nil {
			b.log.Warn("failed to delete QR message", zap.String("code", req.Code), zap.Error(err))
		}
	}

	b.send(userID, fmt.Sprintf(
		"✅ Payment received!\n\n"+
			"💰 Top up: Rp%d\n"+
			"💰 Admin fee: Rp%d\n"+
			"💰 Total paid: Rp%d\n"+
			"💳 Balance: Rp%d",
		req.Requested, req.Fee(), req.Final, newBalance))

	b.notifyGroup(fmt.Sprintf("✅ Top Up\n👤 User: %d\n💰 Amount: Rp%d\n🏦 Balance: Rp%d",
		userID, req.Requested, newBalance))
}

// DepositExpired implements reconcile.Notifier: one expiry notice per
// request.
func (b *Bot) DepositExpired(userID int64, req *model.DepositRequest) {
	if req.QRMessageID != 0 {
		del := tgbotapi.NewDeleteMessage(userID, req.QRMessageID)
		if _, err := b.api.Request(del); err != nil {
			b.log.Warn("failed to delete QR message", zap.String("code", req.Code), zap.Error(err))
		}
	}
	b.send(userID, "❌ Payment expired.\n\nThe payment window has closed. Open Top Up again for a new QR.")
}

func (b *Bot) notifyGroup(text string) {
	if b.cfg.GroupID == 0 {
		return
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(b.cfg.GroupID, text)); err != nil {
		b.log.Warn("failed to notify group", zap.Error(err))
	}
}

func (b *Bot) send(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Warn("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) reply(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func maskUsername(username string) string {
	if len(username) <= 1 {
		return username
	}
	return username[:1] + strings.Repeat("x", len(username)-1)
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
