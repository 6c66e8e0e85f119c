package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// per-step decision buttons
func makeStepKeyboard() tgbotapi.InlineKeyboardMarkup {
	accept := tgbotapi.NewInlineKeyboardButtonData("✅ Accept", "tut_accept")
	redo := tgbotapi.NewInlineKeyboardButtonData("🔁 Redo", "tut_redo")
	note := tgbotapi.NewInlineKeyboardButtonData("📝 Redo with a note", "tut_redo_note")
	cancel := tgbotapi.NewInlineKeyboardButtonData("✖️ Drop tutorial", "tut_cancel")
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(accept, redo),
		tgbotapi.NewInlineKeyboardRow(note, cancel),
	)
}
