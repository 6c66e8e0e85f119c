package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"draw-coach/api/internal/imaging"
	"draw-coach/api/internal/tutor"
	"draw-coach/api/internal/util"
)

// acceptPhoto takes the largest rendition of an incoming photo as the
// reference image and starts a fresh tutorial, replacing any previous run
// in this chat.
func (r *Router) acceptPhoto(msg tgbotapi.Message) {
	cid := msg.Chat.ID
	ph := msg.Photo[len(msg.Photo)-1]
	file, err := r.Bot.GetFile(tgbotapi.FileConfig{FileID: ph.FileID})
	if err != nil {
		r.SendError(cid, err)
		return
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", r.Bot.Token, file.FilePath)
	raw, err := download(url)
	if err != nil {
		r.SendError(cid, err)
		return
	}

	ref, err := imaging.Normalize(raw, r.MaxImageDim)
	if err != nil {
		if errors.Is(err, imaging.ErrDecode) {
			r.send(cid, "I couldn't read that as an image. Please send a regular photo.")
			return
		}
		r.SendError(cid, err)
		return
	}

	total := stepsFor(cid, r.DefaultTotalSteps)
	s := tutor.NewSession(util.NewID(), r.EngManager.Get(owner(cid)), r.MaxStepAttempts)
	if r.Runs != nil {
		s.SetOnComplete(func(sum tutor.RunSummary) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.Runs.Insert(ctx, cid, sum); err != nil {
				log.Printf("archive run %s for chat %d: %v", sum.SessionID, cid, err)
			}
		})
	}

	snaps, unsubscribe := s.Subscribe()
	setRun(cid, &chatRun{session: s, stop: unsubscribe})
	go r.watchSession(cid, snaps)

	if err := s.Start(ref, total); err != nil {
		r.SendError(cid, err)
		return
	}
	r.send(cid, fmt.Sprintf("Photo accepted. Building a %d-step tutorial…", total))
}

func download(url string) ([]byte, error) {
	resp, err := httpClient().Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
