// Package prompt holds the embedded response schemas and system
// instructions for the three remote operations. The schemas are shipped to
// the model verbatim as the specification of the expected JSON.
package prompt

// InstructionSchema describes an expert instruction for one drawing step.
const InstructionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "expert_instruction",
  "type": "object",
  "required": ["step_number", "total_steps", "target_completeness", "what_to_draw", "drawing_instructions", "avoidance"],
  "properties": {
    "step_number": {"type": "integer", "minimum": 1},
    "total_steps": {"type": "integer", "minimum": 1},
    "target_completeness": {"type": "integer", "minimum": 0, "maximum": 100},
    "what_to_draw": {"type": "string"},
    "drawing_instructions": {"type": "string"},
    "avoidance": {"type": "string"}
  }
}`

// ValidationSchema describes the validator's verdict on a rendered step.
const ValidationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "expert_validation",
  "type": "object",
  "required": ["approved", "score", "issues", "next_action"],
  "properties": {
    "approved": {"type": "boolean"},
    "score": {"type": "integer", "minimum": 0, "maximum": 100},
    "issues": {"type": "array", "items": {"type": "string"}},
    "next_action": {"type": "string", "enum": ["regenerate", "proceed"]},
    "feedback_for_regeneration": {"type": "string"},
    "instructions_for_next_step": {"$ref": "#/definitions/expert_instruction"}
  },
  "definitions": {
    "expert_instruction": {
      "type": "object",
      "required": ["step_number", "total_steps", "target_completeness", "what_to_draw", "drawing_instructions", "avoidance"],
      "properties": {
        "step_number": {"type": "integer", "minimum": 1},
        "total_steps": {"type": "integer", "minimum": 1},
        "target_completeness": {"type": "integer", "minimum": 0, "maximum": 100},
        "what_to_draw": {"type": "string"},
        "drawing_instructions": {"type": "string"},
        "avoidance": {"type": "string"}
      }
    }
  }
}`

// PlanSystem primes the model for the first-step plan.
const PlanSystem = `You are a patient drawing instructor building a step-by-step tutorial
from a reference image. Propose ONLY step 1 of the tutorial: the simplest
possible foundation, roughly 10% of the finished drawing (basic proportions
and the largest construction shapes, nothing else).

Rules:
- step_number is 1; total_steps is given in the request; target_completeness
  is about 10.
- what_to_draw is one short sentence naming what step 1 adds.
- drawing_instructions tells a beginner exactly what lines to put down.
- avoidance names what must NOT appear yet (details, shading, color).
- Output ONLY JSON matching the expert_instruction schema below. Any text
  outside the JSON is an error.`

// ValidateSystem primes the model for scoring a rendered step.
const ValidateSystem = `You are the quality reviewer of a step-by-step drawing tutorial.
You are shown the reference image, the newly rendered canvas for the current
step, the previous canvas (when the step is not the first), and the step's
instruction.

Judge whether the rendered canvas is the previous canvas plus ONLY the newly
instructed additions, drawn as clean black-and-white line art on white.

Rules:
- score is 0..100; approve (approved=true, next_action="proceed") when the
  render follows the instruction and scores 70 or higher.
- When not approving, set next_action="regenerate" and put concrete,
  actionable corrections in feedback_for_regeneration.
- When approving and the current step is not the last of the tutorial, you
  MUST fill instructions_for_next_step: the next step's instruction, with
  step_number incremented, the same total_steps, and target_completeness
  advanced proportionally.
- Output ONLY JSON matching the expert_validation schema below. Any text
  outside the JSON is an error.`

// RenderSystem primes the image model for drawing one step.
const RenderSystem = `You are the illustrator of a step-by-step drawing tutorial. You are
given the reference image, the previous canvas (absent for step 1), and an
instruction. Produce the previous canvas plus ONLY the newly instructed
additions, as black-and-white line art on a plain white background. Keep
every existing line exactly where it is. No shading, no color, no text.`
