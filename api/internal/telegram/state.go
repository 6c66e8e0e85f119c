package telegram

import (
	"strconv"
	"sync"

	"draw-coach/api/internal/tutor"
)

// modes for the next plain-text message
const modeAwaitNote = "await_note" // text becomes retry feedback

// chatRun ties a chat to its live tutorial. stop unsubscribes the snapshot
// watcher so replacing a run never leaks a goroutine.
type chatRun struct {
	session *tutor.Session
	stop    func()
}

var (
	chatRuns  sync.Map // chatID -> *chatRun
	chatMode  sync.Map // chatID -> string
	chatSteps sync.Map // chatID -> int, /steps override
)

func setMode(chatID int64, mode string) { chatMode.Store(chatID, mode) }
func getMode(chatID int64) string {
	if v, ok := chatMode.Load(chatID); ok {
		if s, _ := v.(string); s != "" {
			return s
		}
	}
	return ""
}
func clearMode(chatID int64) { chatMode.Delete(chatID) }

func runFor(chatID int64) (*chatRun, bool) {
	if v, ok := chatRuns.Load(chatID); ok {
		return v.(*chatRun), true
	}
	return nil, false
}

func setRun(chatID int64, run *chatRun) {
	if old, ok := runFor(chatID); ok {
		old.session.Reset()
		old.stop()
	}
	chatRuns.Store(chatID, run)
}

func stepsFor(chatID int64, def int) int {
	if v, ok := chatSteps.Load(chatID); ok {
		if n, _ := v.(int); n > 0 {
			return n
		}
	}
	return def
}

func owner(chatID int64) string { return strconv.FormatInt(chatID, 10) }
