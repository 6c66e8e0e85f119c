package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (r *Router) handleCallback(cb tgbotapi.CallbackQuery) {
	cid := cb.Message.Chat.ID
	_, _ = r.Bot.Request(tgbotapi.NewCallback(cb.ID, "")) // ack

	run, ok := runFor(cid)
	if !ok {
		r.send(cid, "This tutorial is gone. Send a photo to start a new one.")
		return
	}
	s := run.session

	switch cb.Data {
	case "tut_accept":
		r.dropKeyboard(cid, cb.Message.MessageID)
		if err := s.Accept(); err != nil {
			r.send(cid, "Can't accept right now: "+err.Error())
		}
	case "tut_redo":
		r.dropKeyboard(cid, cb.Message.MessageID)
		if err := s.Retry(""); err != nil {
			r.send(cid, "Can't redo right now: "+err.Error())
		}
	case "tut_redo_note":
		setMode(cid, modeAwaitNote)
		r.send(cid, "What should change? Reply with a short note and I'll redraw the step.")
	case "tut_cancel":
		r.dropKeyboard(cid, cb.Message.MessageID)
		s.Reset()
		r.send(cid, "Tutorial dropped. Send a new photo whenever you're ready.")
	}
}

func (r *Router) dropKeyboard(chatID int64, msgID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	_, _ = r.Bot.Send(edit)
}
