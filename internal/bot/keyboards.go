package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	callbackRun    = "menu_run"
	callbackStop   = "menu_stop"
	callbackStatus = "menu_status"
	callbackLikes  = "menu_likes"
)

func getMenuKeyboard() [][]tgbotapi.InlineKeyboardButton {
	return [][]tgbotapi.InlineKeyboardButton{
		{
			tgbotapi.NewInlineKeyboardButtonData("▶️ Run", callbackRun),
			tgbotapi.NewInlineKeyboardButtonData("⏹ Stop", callbackStop),
		},
		{
			tgbotapi.NewInlineKeyboardButtonData("📊 Status", callbackStatus),
			tgbotapi.NewInlineKeyboardButtonData("❤️ Likes", callbackLikes),
		},
	}
}
