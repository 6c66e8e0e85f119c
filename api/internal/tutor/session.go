package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

type State string

const (
	StateIdle          State = "IDLE"
	StateLoading       State = "LOADING"
	StateAwaitingInput State = "AWAITING_USER_INPUT"
	StateResults       State = "RESULTS"
	StateError         State = "ERROR"
)

// ProposedStep is the one not-yet-accepted step a session may hold.
type ProposedStep struct {
	Instruction ExpertInstruction `json:"instruction"`
	Image       ImageObject       `json:"image"`
	Approved    bool              `json:"approved"`
	Score       int               `json:"score"`
	Attempts    int               `json:"attempts"`
	Issues      []string          `json:"issues,omitempty"`
}

// Snapshot is an immutable view of session state, emitted to subscribers on
// every transition.
type Snapshot struct {
	SessionID     string        `json:"session_id"`
	State         State         `json:"state"`
	TotalSteps    int           `json:"total_steps"`
	StepNumber    int           `json:"step_number"` // step currently in flight or proposed
	AcceptedSteps []DrawingStep `json:"accepted_steps"`
	Proposed      *ProposedStep `json:"proposed,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// RunSummary describes a finished tutorial, handed to the completion hook.
type RunSummary struct {
	SessionID  string
	Engine     string
	Model      string
	TotalSteps int
	Steps      []DrawingStep
	StartedAt  time.Time
	FinishedAt time.Time
}

// Session owns all mutable tutorial state. Commands are fire-and-observe:
// they either reject immediately (wrong state) or start exactly one
// asynchronous operation; observers watch the snapshot stream. Remote calls
// within an operation are strictly sequential, so results always commit in
// issuance order. Cancellation bumps the generation counter: a result whose
// generation no longer matches is discarded, never applied.
type Session struct {
	id          string
	eng         Engine
	maxAttempts int

	mu           sync.Mutex
	state        State
	total        int
	ref          ImageObject
	canvas       *ImageObject // most recently accepted step's image
	accepted     []DrawingStep
	proposed     *ProposedStep
	currentInstr ExpertInstruction  // instruction for the in-flight/proposed step, pre-feedback
	nextInstr    *ExpertInstruction // from the proposed step's validation
	errMsg       string
	startedAt    time.Time

	gen      int
	cancelOp context.CancelFunc

	subs       map[chan Snapshot]struct{}
	onComplete func(RunSummary)
}

func NewSession(id string, eng Engine, maxAttempts int) *Session {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Session{
		id:          id,
		eng:         eng,
		maxAttempts: maxAttempts,
		state:       StateIdle,
		subs:        make(map[chan Snapshot]struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// SetOnComplete registers a hook fired once a tutorial reaches RESULTS.
func (s *Session) SetOnComplete(fn func(RunSummary)) {
	s.mu.Lock()
	s.onComplete = fn
	s.mu.Unlock()
}

// Start begins a tutorial from an already-normalized reference image.
// Any residue from a previously cancelled run is cleared first.
func (s *Session) Start(ref ImageObject, totalSteps int) error {
	if ref.IsZero() {
		return errors.New("start: empty reference image")
	}
	if totalSteps <= 0 {
		return fmt.Errorf("start: bad total steps %d", totalSteps)
	}
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("start: not allowed in state %s", s.state)
	}
	s.clearRunLocked()
	s.ref = ref
	s.total = totalSteps
	s.startedAt = time.Now()
	ctx, gen := s.beginOpLocked()
	s.emitLocked()
	s.mu.Unlock()

	go s.opFirstStep(ctx, gen, ref, totalSteps)
	return nil
}

// Accept commits the proposed step and either finishes the tutorial or
// starts generating the next step.
func (s *Session) Accept() error {
	s.mu.Lock()
	if s.state != StateAwaitingInput || s.proposed == nil {
		s.mu.Unlock()
		return fmt.Errorf("accept: no proposed step in state %s", s.state)
	}
	p := s.proposed
	step := DrawingStep{
		Step:        p.Instruction.StepNumber,
		Description: p.Instruction.WhatToDraw,
		ImageURL:    p.Image.DataURL(),
	}
	s.accepted = append(s.accepted, step)
	canvas := p.Image
	s.canvas = &canvas
	next := s.nextInstr
	s.proposed = nil
	s.nextInstr = nil

	if step.Step >= s.total {
		s.state = StateResults
		s.emitLocked()
		summary := s.summaryLocked()
		cb := s.onComplete
		s.mu.Unlock()
		if cb != nil {
			go cb(summary)
		}
		return nil
	}

	if next == nil {
		// The loop guarantees next-step instructions while steps remain;
		// synthesize a continuation if the guarantee was ever violated.
		next = continuationInstruction(p.Instruction)
	}
	instr := *next
	instr.StepNumber = step.Step + 1
	instr.TotalSteps = s.total
	s.currentInstr = instr

	ref := s.ref
	prev := canvas
	ctx, gen := s.beginOpLocked()
	s.emitLocked()
	s.mu.Unlock()

	go s.opRunStep(ctx, gen, ref, &prev, instr, "")
	return nil
}

// Retry discards the proposed step and re-runs the same step number with
// the user's feedback layered onto the original instruction.
func (s *Session) Retry(feedback string) error {
	s.mu.Lock()
	if s.state != StateAwaitingInput {
		s.mu.Unlock()
		return fmt.Errorf("retry: not allowed in state %s", s.state)
	}
	instr := s.currentInstr
	ref := s.ref
	var prev *ImageObject
	if s.canvas != nil {
		c := *s.canvas
		prev = &c
	}
	s.proposed = nil
	s.nextInstr = nil
	ctx, gen := s.beginOpLocked()
	s.emitLocked()
	s.mu.Unlock()

	go s.opRunStep(ctx, gen, ref, prev, instr, feedback)
	return nil
}

// RetryArea is Retry scoped to a normalized region of the image.
func (s *Session) RetryArea(region Region, feedback string) error {
	return s.Retry(AreaFeedback(region, feedback))
}

// AreaFeedback synthesizes retry feedback that pins the change to one
// region, coordinates formatted to one decimal place.
func AreaFeedback(r Region, feedback string) string {
	text := fmt.Sprintf(
		"Focus only on the region at left %.1f%%, top %.1f%%, width %.1f%%, height %.1f%% of the image. Change only that region; leave the rest of the drawing exactly as it is.",
		r.X, r.Y, r.Width, r.Height)
	if fb := strings.TrimSpace(feedback); fb != "" {
		text += " " + fb
	}
	return text
}

// Cancel aborts the in-flight operation, if any, and returns to IDLE.
// A result that arrives after cancellation is discarded by the generation
// check. No-op outside LOADING.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateLoading {
		return
	}
	s.abortOpLocked()
	s.proposed = nil
	s.nextInstr = nil
	s.errMsg = ""
	s.state = StateIdle
	s.emitLocked()
}

// Reset aborts any in-flight operation and clears all accumulated state,
// from any state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortOpLocked()
	s.clearRunLocked()
	s.state = StateIdle
	s.emitLocked()
}

// Snapshot returns the current state view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers a snapshot observer. The current snapshot is
// delivered first. The returned func unsubscribes and closes the channel;
// slow observers miss intermediate snapshots rather than block transitions.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 16)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, unsubscribe
}

// ---------------------------------------------------------------- internal

func (s *Session) beginOpLocked() (context.Context, int) {
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelOp = cancel
	s.state = StateLoading
	s.errMsg = ""
	return ctx, gen
}

func (s *Session) abortOpLocked() {
	s.gen++
	if s.cancelOp != nil {
		s.cancelOp()
		s.cancelOp = nil
	}
}

func (s *Session) clearRunLocked() {
	s.ref = ImageObject{}
	s.canvas = nil
	s.accepted = nil
	s.proposed = nil
	s.currentInstr = ExpertInstruction{}
	s.nextInstr = nil
	s.total = 0
	s.errMsg = ""
	s.startedAt = time.Time{}
}

func (s *Session) opFirstStep(ctx context.Context, gen int, ref ImageObject, total int) {
	instr, err := s.eng.PlanFirstStep(ctx, ref, total)
	if err != nil {
		s.fail(gen, err)
		return
	}
	instr.StepNumber = 1
	instr.TotalSteps = total

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.currentInstr = instr
	s.mu.Unlock()

	s.opRunStep(ctx, gen, ref, nil, instr, "")
}

func (s *Session) opRunStep(ctx context.Context, gen int, ref ImageObject, prev *ImageObject, instr ExpertInstruction, feedback string) {
	res, err := RunStep(ctx, s.eng, ref, prev, instr, feedback, s.maxAttempts)
	if err != nil {
		s.fail(gen, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return // cancelled or superseded while in flight
	}
	s.proposed = &ProposedStep{
		Instruction: instr,
		Image:       res.Image,
		Approved:    res.Approved,
		Score:       res.Validation.Score,
		Attempts:    res.Attempts,
		Issues:      res.Validation.Issues,
	}
	s.nextInstr = res.Validation.InstructionsForNextStep
	s.state = StateAwaitingInput
	s.emitLocked()
}

func (s *Session) fail(gen int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	if errors.Is(err, context.Canceled) {
		// Cancellation already moved the session; unwind silently.
		return
	}
	s.state = StateError
	s.errMsg = err.Error()
	s.emitLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	steps := make([]DrawingStep, len(s.accepted))
	copy(steps, s.accepted)

	stepNumber := len(s.accepted)
	switch {
	case s.proposed != nil:
		stepNumber = s.proposed.Instruction.StepNumber
	case s.state == StateLoading:
		stepNumber = s.currentInstr.StepNumber
	}

	var proposed *ProposedStep
	if s.proposed != nil {
		p := *s.proposed
		proposed = &p
	}
	return Snapshot{
		SessionID:     s.id,
		State:         s.state,
		TotalSteps:    s.total,
		StepNumber:    stepNumber,
		AcceptedSteps: steps,
		Proposed:      proposed,
		Error:         s.errMsg,
	}
}

func (s *Session) emitLocked() {
	snap := s.snapshotLocked()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Session) summaryLocked() RunSummary {
	steps := make([]DrawingStep, len(s.accepted))
	copy(steps, s.accepted)
	return RunSummary{
		SessionID:  s.id,
		Engine:     s.eng.Name(),
		Model:      s.eng.GetModel(),
		TotalSteps: s.total,
		Steps:      steps,
		StartedAt:  s.startedAt,
		FinishedAt: time.Now(),
	}
}
