package tutor

// ApplyValidationPolicy normalizes a raw validator response: score clamped
// to 0..100, next_action derived from approved when absent or unknown, and
// next-step instructions only ever carried on an approving validation.
// Engines call this after decoding, before handing the value up.
func ApplyValidationPolicy(v *ExpertValidation) {
	if v.Score < 0 {
		v.Score = 0
	}
	if v.Score > 100 {
		v.Score = 100
	}
	switch v.NextAction {
	case "regenerate", "proceed":
	default:
		if v.Approved {
			v.NextAction = "proceed"
		} else {
			v.NextAction = "regenerate"
		}
	}
	if !v.Approved {
		v.InstructionsForNextStep = nil
	}
	if next := v.InstructionsForNextStep; next != nil && next.TargetCompleteness > 100 {
		next.TargetCompleteness = 100
	}
}
