package tutor

import (
	"context"
	"fmt"
	"strings"
)

// DefaultMaxAttempts bounds render+validate cycles for a single step.
const DefaultMaxAttempts = 3

// StepResult is one approved or best-effort rendered step.
type StepResult struct {
	Image      ImageObject
	Validation ExpertValidation
	Attempts   int
	Approved   bool
}

type attempt struct {
	image      ImageObject
	validation ExpertValidation
}

// RunStep drives up to maxAttempts render+validate cycles for one step.
//
// Correction text accumulates: user feedback (if any) is appended to the
// instruction before the first attempt, and each failed attempt's
// feedback_for_regeneration is appended before the next, so later attempts
// see every prior correction. The first approved attempt wins immediately.
// If none is approved, the highest-scoring attempt wins, earliest on ties.
//
// Remote failures are not retried here: any engine error aborts the loop
// and propagates unchanged. Only a low score drives another attempt.
func RunStep(ctx context.Context, eng Engine, ref ImageObject, prev *ImageObject, instr ExpertInstruction, userFeedback string, maxAttempts int) (StepResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if fb := strings.TrimSpace(userFeedback); fb != "" {
		instr.DrawingInstructions = appendCorrection(instr.DrawingInstructions, fb)
	}

	attempts := make([]attempt, 0, maxAttempts)
	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return StepResult{}, err
		}
		img, err := eng.RenderStep(ctx, ref, prev, instr)
		if err != nil {
			return StepResult{}, fmt.Errorf("render attempt %d: %w", n, err)
		}
		val, err := eng.ValidateStep(ctx, ref, img, prev, instr)
		if err != nil {
			return StepResult{}, fmt.Errorf("validate attempt %d: %w", n, err)
		}
		attempts = append(attempts, attempt{image: img, validation: val})

		if val.Approved {
			return StepResult{Image: img, Validation: val, Attempts: n, Approved: true}, nil
		}
		if n < maxAttempts {
			if fb := strings.TrimSpace(val.FeedbackForRegeneration); fb != "" {
				instr.DrawingInstructions = appendCorrection(instr.DrawingInstructions, fb)
			}
		}
	}

	// Best-effort fallback keeps the tutorial moving even when no attempt
	// clears the approval bar.
	best := 0
	for i := 1; i < len(attempts); i++ {
		if attempts[i].validation.Score > attempts[best].validation.Score {
			best = i
		}
	}
	res := StepResult{
		Image:      attempts[best].image,
		Validation: attempts[best].validation,
		Attempts:   maxAttempts,
	}

	if res.Validation.InstructionsForNextStep == nil && instr.StepNumber < instr.TotalSteps {
		next, err := ensureNextInstruction(ctx, eng, ref, res.Image, prev, instr)
		if err != nil {
			return StepResult{}, err
		}
		res.Validation.InstructionsForNextStep = next
	}
	return res, nil
}

// ensureNextInstruction re-runs validation once on the winning image to
// obtain next-step instructions; if the re-validation still yields none it
// synthesizes a minimal continuation so the session never stalls.
func ensureNextInstruction(ctx context.Context, eng Engine, ref, winner ImageObject, prev *ImageObject, instr ExpertInstruction) (*ExpertInstruction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	val, err := eng.ValidateStep(ctx, ref, winner, prev, instr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	} else if val.InstructionsForNextStep != nil {
		return val.InstructionsForNextStep, nil
	}
	return continuationInstruction(instr), nil
}

func continuationInstruction(cur ExpertInstruction) *ExpertInstruction {
	next := cur.StepNumber + 1
	target := 100
	if cur.TotalSteps > 0 && next < cur.TotalSteps {
		target = next * 100 / cur.TotalSteps
		if target <= cur.TargetCompleteness {
			target = cur.TargetCompleteness + 10
		}
		if target > 100 {
			target = 100
		}
	}
	return &ExpertInstruction{
		StepNumber:          next,
		TotalSteps:          cur.TotalSteps,
		TargetCompleteness:  target,
		WhatToDraw:          "Continue developing the drawing toward the reference image.",
		DrawingInstructions: "Add the next most important shapes and details, keeping everything already on the canvas unchanged.",
		Avoidance:           "Do not redraw or erase existing lines; do not add shading or color.",
	}
}

func appendCorrection(instructions, correction string) string {
	if strings.TrimSpace(instructions) == "" {
		return correction
	}
	return instructions + "\n\n" + correction
}
