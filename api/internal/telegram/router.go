package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"draw-coach/api/internal/store"
	"draw-coach/api/internal/tutor"
)

type Router struct {
	Bot        *tgbotapi.BotAPI
	EngManager *tutor.Manager
	Engines    tutor.Engines
	Runs       *store.RunRepo // nil disables /history and archiving

	MaxStepAttempts   int
	DefaultTotalSteps int
	MaxImageDim       int
}

func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(*upd.CallbackQuery)
		return
	}
	if upd.Message == nil {
		return
	}
	cid := upd.Message.Chat.ID

	if upd.Message.IsCommand() {
		clearMode(cid)
		r.handleCommand(upd)
		return
	}

	// text after "Redo with a note" becomes retry feedback
	if getMode(cid) == modeAwaitNote && upd.Message.Text != "" {
		clearMode(cid)
		r.applyRetryNote(cid, upd.Message.Text)
		return
	}

	if len(upd.Message.Photo) > 0 {
		r.acceptPhoto(*upd.Message)
		return
	}

	if upd.Message.Text != "" {
		r.send(cid, "Send me a photo of what you want to learn to draw. /help for commands.")
	}
}

func (r *Router) handleCommand(upd tgbotapi.Update) {
	cid := upd.Message.Chat.ID
	switch upd.Message.Command() {
	case "start", "help":
		r.send(cid, "Send a photo and I'll turn it into a step-by-step drawing tutorial.\n"+
			"Each step comes with buttons: accept it, redo it, or redo with a note.\n\n"+
			"Commands:\n"+
			"/steps N — tutorial length (1..20)\n"+
			"/engine gemini|gpt [model] — switch the drawing engine\n"+
			"/cancel — stop the step being generated\n"+
			"/reset — drop the whole tutorial\n"+
			"/history — your recent tutorials\n"+
			"/health — bot status")
	case "health":
		r.send(cid, "✅ OK")
	case "steps":
		arg := strings.TrimSpace(upd.Message.CommandArguments())
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > 20 {
			r.send(cid, "Usage: /steps N (1..20). Applies to the next photo you send.")
			return
		}
		chatSteps.Store(cid, n)
		r.send(cid, fmt.Sprintf("Ok, the next tutorial will have %d steps.", n))
	case "engine":
		r.handleEngineCommand(cid, upd.Message.Text)
	case "cancel":
		run, ok := runFor(cid)
		if !ok {
			r.send(cid, "Nothing to cancel.")
			return
		}
		run.session.Cancel()
		r.send(cid, "Cancelled. Your accepted steps are kept; send a photo to start over or use /reset.")
	case "reset":
		run, ok := runFor(cid)
		if !ok {
			r.send(cid, "Nothing to reset.")
			return
		}
		run.session.Reset()
		r.send(cid, "Tutorial dropped. Send a new photo whenever you're ready.")
	case "history":
		r.sendHistory(cid)
	default:
		r.send(cid, "Unknown command. /help")
	}
}

// handleEngineCommand switches the chat's engine. Formats:
//
//	/engine gemini [model]
//	/engine gpt [model]
func (r *Router) handleEngineCommand(chatID int64, cmd string) {
	args := strings.Fields(strings.TrimSpace(strings.TrimPrefix(cmd, "/engine")))
	if len(args) == 0 {
		cur := r.EngManager.Get(owner(chatID))
		r.send(chatID, "Current engine: "+cur.Name()+" ("+cur.GetModel()+")\nUsage:\n/engine gemini [model]\n/engine gpt [model]")
		return
	}
	var modelArg string
	if len(args) > 1 {
		modelArg = strings.TrimSpace(args[1])
	}

	eng, err := r.Engines.ByName(args[0])
	if err != nil {
		r.send(chatID, "❌ "+err.Error())
		return
	}
	type modelSetter interface{ SetModel(string) }
	if modelArg != "" {
		if ms, ok := any(eng).(modelSetter); ok {
			ms.SetModel(modelArg)
		}
	}
	r.EngManager.Set(owner(chatID), eng)
	r.send(chatID, "✅ Engine: "+eng.Name()+" ("+eng.GetModel()+"). Applies to the next photo.")
}

func (r *Router) applyRetryNote(chatID int64, note string) {
	run, ok := runFor(chatID)
	if !ok {
		r.send(chatID, "No tutorial in progress. Send a photo first.")
		return
	}
	if err := run.session.Retry(note); err != nil {
		r.send(chatID, "Can't redo right now: "+err.Error())
		return
	}
	r.send(chatID, "Got it, redrawing the step with your note.")
}

func (r *Router) sendHistory(chatID int64) {
	if r.Runs == nil {
		r.send(chatID, "History is not available on this bot.")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := r.Runs.RecentByChat(ctx, chatID, 5)
	if err != nil {
		r.SendError(chatID, err)
		return
	}
	if len(rows) == 0 {
		r.send(chatID, "No finished tutorials yet.")
		return
	}
	var b strings.Builder
	b.WriteString("Your recent tutorials:\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "• %s — %d steps, %s (%s)\n",
			row.CreatedAt.Format("2006-01-02 15:04"), len(row.Steps), row.Engine, row.Model)
	}
	r.send(chatID, b.String())
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	_, _ = r.Bot.Send(msg)
}

func (r *Router) SendError(chatID int64, err error) {
	r.send(chatID, fmt.Sprintf("Something went wrong: %v", err))
}
