package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"draw-coach/api/internal/tutor"
	"draw-coach/api/internal/util"
)

// watchSession turns the snapshot stream into chat messages. It reacts to
// state transitions only, so intermediate snapshots within one state stay
// quiet. Ends when the subscription channel is closed.
func (r *Router) watchSession(chatID int64, snaps <-chan tutor.Snapshot) {
	var last tutor.State
	for snap := range snaps {
		if snap.State == last {
			continue
		}
		switch snap.State {
		case tutor.StateLoading:
			if snap.StepNumber > 1 {
				r.send(chatID, fmt.Sprintf("Drawing step %d of %d…", snap.StepNumber, snap.TotalSteps))
			}
		case tutor.StateAwaitingInput:
			r.sendProposed(chatID, snap)
		case tutor.StateResults:
			r.sendResults(chatID, snap)
		case tutor.StateError:
			r.send(chatID, "Something went wrong: "+snap.Error+"\nSend the photo again to retry, or /reset.")
		}
		last = snap.State
	}
}

func (r *Router) sendProposed(chatID int64, snap tutor.Snapshot) {
	p := snap.Proposed
	if p == nil {
		return
	}
	data, err := p.Image.Bytes()
	if err != nil {
		r.SendError(chatID, err)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Step %d of %d: %s", p.Instruction.StepNumber, snap.TotalSteps, p.Instruction.WhatToDraw)
	if !p.Approved {
		fmt.Fprintf(&b, "\n\n⚠️ Best of %d attempts (score %d).", p.Attempts, p.Score)
		if len(p.Issues) > 0 {
			b.WriteString(" Known issues: ")
			b.WriteString(strings.Join(p.Issues, "; "))
		}
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "step.jpg", Bytes: data})
	photo.Caption = b.String()
	photo.ReplyMarkup = makeStepKeyboard()
	if _, err := r.Bot.Send(photo); err != nil {
		r.SendError(chatID, err)
	}
}

func (r *Router) sendResults(chatID int64, snap tutor.Snapshot) {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 Tutorial finished: %d steps.\n", len(snap.AcceptedSteps))
	for _, st := range snap.AcceptedSteps {
		fmt.Fprintf(&b, "%d. %s\n", st.Step, st.Description)
	}
	b.WriteString("\nSend another photo to start a new one.")
	r.send(chatID, util.Truncate(b.String(), 3900))
}
