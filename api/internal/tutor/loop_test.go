package tutor

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func baseInstr(step, total int) ExpertInstruction {
	return ExpertInstruction{
		StepNumber:          step,
		TotalSteps:          total,
		TargetCompleteness:  step * 100 / total,
		WhatToDraw:          "the outline",
		DrawingInstructions: "Draw the outline lightly.",
		Avoidance:           "No shading.",
	}
}

func TestRunStepApprovedFirstAttempt(t *testing.T) {
	eng := &fakeEngine{validations: []ExpertValidation{
		{Approved: true, Score: 92},
	}}
	res, err := RunStep(context.Background(), eng, fakeImage("ref"), nil, baseInstr(1, 5), "", 3)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if !res.Approved || res.Attempts != 1 || res.Validation.Score != 92 {
		t.Fatalf("got approved=%v attempts=%d score=%d", res.Approved, res.Attempts, res.Validation.Score)
	}
	if _, r, v := eng.snapshotCalls(); r != 1 || v != 1 {
		t.Fatalf("expected 1 render + 1 validate, got %d/%d", r, v)
	}
}

func TestRunStepApprovesOnThirdAttempt(t *testing.T) {
	eng := &fakeEngine{validations: []ExpertValidation{
		{Score: 40, FeedbackForRegeneration: "too dark"},
		{Score: 55, FeedbackForRegeneration: "still off"},
		{Approved: true, Score: 90},
	}}
	res, err := RunStep(context.Background(), eng, fakeImage("ref"), nil, baseInstr(1, 5), "", 3)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if !res.Approved || res.Attempts != 3 || res.Validation.Score != 90 {
		t.Fatalf("got approved=%v attempts=%d score=%d", res.Approved, res.Attempts, res.Validation.Score)
	}
}

func TestRunStepFeedbackAccumulates(t *testing.T) {
	eng := &fakeEngine{validations: []ExpertValidation{
		{Score: 30, FeedbackForRegeneration: "fix the ears"},
		{Score: 45, FeedbackForRegeneration: "fix the tail"},
		{Approved: true, Score: 85},
	}}
	_, err := RunStep(context.Background(), eng, fakeImage("ref"), nil, baseInstr(1, 5), "make it bigger", 3)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if len(eng.renderInstrs) != 3 {
		t.Fatalf("expected 3 renders, got %d", len(eng.renderInstrs))
	}
	first := eng.renderInstrs[0]
	if !strings.Contains(first, "make it bigger") {
		t.Fatalf("user feedback missing from first attempt: %q", first)
	}
	third := eng.renderInstrs[2]
	for _, want := range []string{"make it bigger", "fix the ears", "fix the tail"} {
		if !strings.Contains(third, want) {
			t.Fatalf("correction %q missing from third attempt: %q", want, third)
		}
	}
	if strings.Index(third, "fix the ears") > strings.Index(third, "fix the tail") {
		t.Fatalf("corrections out of order: %q", third)
	}
}

func TestRunStepBestEffortPicksHighestScore(t *testing.T) {
	eng := &fakeEngine{validations: []ExpertValidation{
		{Score: 40, FeedbackForRegeneration: "a"},
		{Score: 62, FeedbackForRegeneration: "b"},
		{Score: 55, FeedbackForRegeneration: "c"},
	}}
	res, err := RunStep(context.Background(), eng, fakeImage("ref"), nil, baseInstr(1, 3), "", 3)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if res.Approved {
		t.Fatal("best-effort result must not be approved")
	}
	if res.Validation.Score != 62 {
		t.Fatalf("expected winning score 62, got %d", res.Validation.Score)
	}
	if res.Image.Base64 != fakeImage("render-2").Base64 {
		t.Fatal("winner is not the second attempt's image")
	}
	// steps remain, so next instructions were synthesized after one
	// re-validation of the winner
	if res.Validation.InstructionsForNextStep == nil {
		t.Fatal("missing next-step instructions on best-effort result")
	}
	if got := res.Validation.InstructionsForNextStep.StepNumber; got != 2 {
		t.Fatalf("next step number = %d, want 2", got)
	}
	if _, _, v := eng.snapshotCalls(); v != 4 {
		t.Fatalf("expected 3 validations + 1 re-validation, got %d", v)
	}
}

func TestRunStepBestEffortTieKeepsEarliest(t *testing.T) {
	eng := &fakeEngine{validations: []ExpertValidation{
		{Score: 50},
		{Score: 50},
		{Score: 30},
	}}
	res, err := RunStep(context.Background(), eng, fakeImage("ref"), nil, baseInstr(3, 3), "", 3)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if res.Image.Base64 != fakeImage("render-1").Base64 {
		t.Fatal("tie must keep the earliest attempt")
	}
	// final step: no next instructions needed
	if res.Validation.InstructionsForNextStep != nil {
		t.Fatal("final step must not carry next-step instructions")
	}
}

func TestRunStepRenderErrorPropagates(t *testing.T) {
	boom := errors.New("model unavailable")
	eng := &fakeEngine{renderErr: boom}
	_, err := RunStep(context.Background(), eng, fakeImage("ref"), nil, baseInstr(1, 5), "", 3)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped render error, got %v", err)
	}
	if !strings.Contains(err.Error(), "render attempt 1") {
		t.Fatalf("error lacks attempt context: %v", err)
	}
}

func TestRunStepCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := &fakeEngine{}
	_, err := RunStep(ctx, eng, fakeImage("ref"), nil, baseInstr(1, 5), "", 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, r, _ := eng.snapshotCalls(); r != 0 {
		t.Fatalf("no render should happen after cancellation, got %d", r)
	}
}

func TestContinuationInstructionAdvancesTarget(t *testing.T) {
	cur := baseInstr(2, 5)
	cur.TargetCompleteness = 40
	next := continuationInstruction(cur)
	if next.StepNumber != 3 || next.TotalSteps != 5 {
		t.Fatalf("got step %d/%d", next.StepNumber, next.TotalSteps)
	}
	if next.TargetCompleteness <= cur.TargetCompleteness || next.TargetCompleteness > 100 {
		t.Fatalf("target %d must advance past %d and stay within 100", next.TargetCompleteness, cur.TargetCompleteness)
	}
	last := continuationInstruction(baseInstr(4, 5))
	if last.TargetCompleteness != 100 {
		t.Fatalf("final continuation target = %d, want 100", last.TargetCompleteness)
	}
}
