package tutor

import "testing"

func TestApplyValidationPolicyClampsAndDerives(t *testing.T) {
	v := ExpertValidation{Score: 140, Approved: true}
	ApplyValidationPolicy(&v)
	if v.Score != 100 {
		t.Fatalf("score = %d, want 100", v.Score)
	}
	if v.NextAction != "proceed" {
		t.Fatalf("next_action = %q, want proceed", v.NextAction)
	}

	v = ExpertValidation{Score: -5}
	ApplyValidationPolicy(&v)
	if v.Score != 0 {
		t.Fatalf("score = %d, want 0", v.Score)
	}
	if v.NextAction != "regenerate" {
		t.Fatalf("next_action = %q, want regenerate", v.NextAction)
	}
}

func TestApplyValidationPolicyDropsNextOnRejection(t *testing.T) {
	next := baseInstr(2, 4)
	v := ExpertValidation{Score: 30, InstructionsForNextStep: &next}
	ApplyValidationPolicy(&v)
	if v.InstructionsForNextStep != nil {
		t.Fatal("rejected validation must not carry next-step instructions")
	}

	over := baseInstr(2, 4)
	over.TargetCompleteness = 180
	v = ExpertValidation{Approved: true, Score: 90, InstructionsForNextStep: &over}
	ApplyValidationPolicy(&v)
	if v.InstructionsForNextStep.TargetCompleteness != 100 {
		t.Fatalf("target = %d, want 100", v.InstructionsForNextStep.TargetCompleteness)
	}
}

func TestValidationOutcome(t *testing.T) {
	next := baseInstr(2, 4)
	v := ExpertValidation{Approved: true, InstructionsForNextStep: &next}
	p, ok := v.Outcome().(Proceed)
	if !ok || p.Next == nil || p.Next.StepNumber != 2 {
		t.Fatalf("expected Proceed with step 2, got %#v", v.Outcome())
	}

	v = ExpertValidation{FeedbackForRegeneration: "lines too heavy"}
	r, ok := v.Outcome().(Regenerate)
	if !ok || r.Feedback != "lines too heavy" {
		t.Fatalf("expected Regenerate with feedback, got %#v", v.Outcome())
	}
}
