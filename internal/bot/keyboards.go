package bot

import (
	"fmt"

	"vpnstore/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func mainMenuKeyboard(isAdmin bool) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		{
			tgbotapi.NewInlineKeyboardButtonData("🛒 Buy Account", "menu:buy"),
			tgbotapi.NewInlineKeyboardButtonData("♻️ Renew Account", "menu:renew"),
		},
		{
			tgbotapi.NewInlineKeyboardButtonData("🔧 Manage Account", "menu:manage"),
			tgbotapi.NewInlineKeyboardButtonData("💰 Top Up", "menu:topup"),
		},
		{
			tgbotapi.NewInlineKeyboardButtonData("💳 My Balance", "menu:balance"),
		},
	}
	if isAdmin {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🛠 Admin", "menu:admin"),
		})
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func adminMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💵 Credit User", "admin:credit"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔙 Main Menu", "menu:main"),
		),
	)
}

// digitKeyboard is the inline numeric pad used for amount entry.
func digitKeyboard() tgbotapi.InlineKeyboardMarkup {
	digits := "1234567890"
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i, d := range digits {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(string(d), "num:"+string(d)))
		if (i+1)%3 == 0 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🔙 Delete", "num:del"),
		tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", "num:ok"),
	})
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🔙 Main Menu", "menu:main"),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func actionKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", "act:delete"),
			tgbotapi.NewInlineKeyboardButtonData("🔒 Lock", "act:lock"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔓 Unlock", "act:unlock"),
			tgbotapi.NewInlineKeyboardButtonData("📶 Change IP Limit", "act:changelimit"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔙 Main Menu", "menu:main"),
		),
	)
}

func accountTypeKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i, t := range model.AccountTypes {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(string(t), "typ:"+string(t)))
		if (i+1)%2 == 0 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🔙 Main Menu", "menu:main"),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func serverKeyboard(servers []model.Server) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i, s := range servers {
		label := fmt.Sprintf("%s (Rp%d/day)", s.Name, s.Price)
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("srv:%d", s.ID)))
		if (i+1)%2 == 0 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🔙 Main Menu", "menu:main"),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
