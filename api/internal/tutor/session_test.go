package tutor

import (
	"strings"
	"testing"
	"time"
)

func waitState(t *testing.T, snaps <-chan Snapshot, want State) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s, ok := <-snaps:
			if !ok {
				t.Fatalf("snapshot stream closed while waiting for %s", want)
			}
			if s.State == want {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func approvedWithNext(next *ExpertInstruction) ExpertValidation {
	return ExpertValidation{Approved: true, Score: 95, InstructionsForNextStep: next}
}

func TestSessionHappyPathToResults(t *testing.T) {
	step2 := baseInstr(2, 2)
	eng := &fakeEngine{
		planInstr: baseInstr(1, 2),
		validations: []ExpertValidation{
			approvedWithNext(&step2),
			approvedWithNext(nil),
		},
	}
	var summary RunSummary
	done := make(chan struct{})

	s := NewSession("s1", eng, 3)
	s.SetOnComplete(func(sum RunSummary) {
		summary = sum
		close(done)
	})
	snaps, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if err := s.Start(fakeImage("ref"), 2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := waitState(t, snaps, StateAwaitingInput)
	if snap.Proposed == nil || snap.Proposed.Instruction.StepNumber != 1 {
		t.Fatalf("bad first proposal: %+v", snap.Proposed)
	}
	if !snap.Proposed.Approved {
		t.Fatal("first proposal should be approved")
	}

	if err := s.Accept(); err != nil {
		t.Fatalf("Accept step 1: %v", err)
	}
	snap = waitState(t, snaps, StateAwaitingInput)
	if snap.Proposed.Instruction.StepNumber != 2 {
		t.Fatalf("expected step 2 proposal, got %d", snap.Proposed.Instruction.StepNumber)
	}
	if len(snap.AcceptedSteps) != 1 {
		t.Fatalf("expected 1 accepted step, got %d", len(snap.AcceptedSteps))
	}

	if err := s.Accept(); err != nil {
		t.Fatalf("Accept step 2: %v", err)
	}
	snap = waitState(t, snaps, StateResults)
	if len(snap.AcceptedSteps) != 2 {
		t.Fatalf("expected 2 accepted steps, got %d", len(snap.AcceptedSteps))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("completion hook never fired")
	}
	if summary.SessionID != "s1" || len(summary.Steps) != 2 || summary.Engine != "fake" {
		t.Fatalf("bad summary: %+v", summary)
	}
}

func TestSessionRetryDiscardsProposalAndCarriesFeedback(t *testing.T) {
	eng := &fakeEngine{planInstr: baseInstr(1, 3)}
	s := NewSession("s2", eng, 3)
	snaps, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if err := s.Start(fakeImage("ref"), 3); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitState(t, snaps, StateAwaitingInput)

	if err := s.Retry("make the head rounder"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	snap := waitState(t, snaps, StateAwaitingInput)
	if snap.Proposed.Instruction.StepNumber != 1 {
		t.Fatalf("retry must stay on step 1, got %d", snap.Proposed.Instruction.StepNumber)
	}

	eng.mu.Lock()
	last := eng.renderInstrs[len(eng.renderInstrs)-1]
	eng.mu.Unlock()
	if !strings.Contains(last, "make the head rounder") {
		t.Fatalf("retry feedback missing from instructions: %q", last)
	}
}

func TestSessionAreaRetryBuildsRegionFeedback(t *testing.T) {
	got := AreaFeedback(Region{X: 10, Y: 20, Width: 30, Height: 15}, "thinner lines")
	for _, want := range []string{"left 10.0%", "top 20.0%", "width 30.0%", "height 15.0%", "thinner lines"} {
		if !strings.Contains(got, want) {
			t.Fatalf("area feedback %q missing %q", got, want)
		}
	}
}

func TestSessionCancelDiscardsStaleResult(t *testing.T) {
	block := make(chan struct{})
	eng := &fakeEngine{planInstr: baseInstr(1, 3), blockRender: block}
	s := NewSession("s3", eng, 3)
	snaps, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if err := s.Start(fakeImage("ref"), 3); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitState(t, snaps, StateLoading)

	s.Cancel()
	waitState(t, snaps, StateIdle)

	close(block) // let the stale operation finish
	time.Sleep(50 * time.Millisecond)

	snap := s.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("stale result must not apply; state = %s", snap.State)
	}
	if snap.Proposed != nil {
		t.Fatal("stale proposal leaked into cancelled session")
	}
}

func TestSessionCancelOutsideLoadingIsNoop(t *testing.T) {
	eng := &fakeEngine{planInstr: baseInstr(1, 2)}
	s := NewSession("s4", eng, 3)
	snaps, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if err := s.Start(fakeImage("ref"), 2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitState(t, snaps, StateAwaitingInput)

	s.Cancel()
	if st := s.Snapshot().State; st != StateAwaitingInput {
		t.Fatalf("cancel outside LOADING changed state to %s", st)
	}
}

func TestSessionResetClearsEverything(t *testing.T) {
	step2 := baseInstr(2, 2)
	eng := &fakeEngine{
		planInstr:   baseInstr(1, 2),
		validations: []ExpertValidation{approvedWithNext(&step2)},
	}
	s := NewSession("s5", eng, 3)
	snaps, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if err := s.Start(fakeImage("ref"), 2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitState(t, snaps, StateAwaitingInput)
	if err := s.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	waitState(t, snaps, StateAwaitingInput)

	s.Reset()
	snap := s.Snapshot()
	if snap.State != StateIdle || len(snap.AcceptedSteps) != 0 || snap.Proposed != nil {
		t.Fatalf("reset left residue: %+v", snap)
	}

	// a fresh Start must work after reset
	if err := s.Start(fakeImage("ref2"), 2); err != nil {
		t.Fatalf("Start after reset: %v", err)
	}
	waitState(t, snaps, StateAwaitingInput)
}

func TestSessionStartRejectedOutsideIdle(t *testing.T) {
	eng := &fakeEngine{planInstr: baseInstr(1, 2)}
	s := NewSession("s6", eng, 3)
	snaps, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if err := s.Start(fakeImage("ref"), 2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitState(t, snaps, StateAwaitingInput)

	if err := s.Start(fakeImage("ref"), 2); err == nil {
		t.Fatal("second Start must be rejected outside IDLE")
	}
	if err := s.Accept(); err != nil {
		t.Fatalf("Accept: %v", err)
	}
}

func TestSessionPlanErrorReachesErrorState(t *testing.T) {
	eng := &fakeEngine{planErr: ProtocolErrorf("no plan")}
	s := NewSession("s7", eng, 3)
	snaps, unsubscribe := s.Subscribe()
	defer unsubscribe()

	if err := s.Start(fakeImage("ref"), 2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := waitState(t, snaps, StateError)
	if snap.Error == "" {
		t.Fatal("error snapshot carries no message")
	}

	// ERROR is recoverable only through Reset
	if err := s.Start(fakeImage("ref"), 2); err == nil {
		t.Fatal("Start from ERROR must be rejected")
	}
	s.Reset()
	if err := s.Start(fakeImage("ref"), 2); err != nil {
		t.Fatalf("Start after reset: %v", err)
	}
}
