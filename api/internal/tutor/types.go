package tutor

import "draw-coach/api/internal/util"

// ImageObject is an immutable base64-encoded raster image.
type ImageObject struct {
	Base64   string `json:"base64"`
	MimeType string `json:"mime_type"`
}

func (im ImageObject) IsZero() bool { return im.Base64 == "" }

// DataURL returns a directly renderable data: URI for the image.
func (im ImageObject) DataURL() string {
	return util.MakeDataURL(im.MimeType, im.Base64)
}

// Bytes decodes the image payload.
func (im ImageObject) Bytes() ([]byte, error) {
	b, _, err := util.DecodeBase64MaybeDataURL(im.Base64)
	return b, err
}

// ExpertInstruction is the plan for a single tutorial step. Step 1 comes
// from PlanFirstStep; every later step comes from the previous step's
// validation.
type ExpertInstruction struct {
	StepNumber          int    `json:"step_number"`
	TotalSteps          int    `json:"total_steps"`
	TargetCompleteness  int    `json:"target_completeness"` // 0..100
	WhatToDraw          string `json:"what_to_draw"`
	DrawingInstructions string `json:"drawing_instructions"`
	Avoidance           string `json:"avoidance"`
}

// ExpertValidation is the validator's judgment of one rendered attempt.
type ExpertValidation struct {
	Approved                bool               `json:"approved"`
	Score                   int                `json:"score"` // 0..100
	Issues                  []string           `json:"issues"`
	NextAction              string             `json:"next_action"` // "regenerate" | "proceed"
	FeedbackForRegeneration string             `json:"feedback_for_regeneration"`
	InstructionsForNextStep *ExpertInstruction `json:"instructions_for_next_step,omitempty"`
}

// Outcome is the tagged form of a validation: either move on (with the next
// step's instructions, nil on the final step) or regenerate with feedback.
type Outcome interface{ isOutcome() }

type Proceed struct {
	Next *ExpertInstruction
}

type Regenerate struct {
	Feedback string
}

func (Proceed) isOutcome()    {}
func (Regenerate) isOutcome() {}

func (v ExpertValidation) Outcome() Outcome {
	if v.Approved {
		return Proceed{Next: v.InstructionsForNextStep}
	}
	return Regenerate{Feedback: v.FeedbackForRegeneration}
}

// DrawingStep is one accepted unit of tutorial progress.
type DrawingStep struct {
	Step        int    `json:"step"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

// Region is a normalized bounding box in percentage coordinates.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
