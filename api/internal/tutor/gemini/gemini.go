package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"draw-coach/api/internal/tutor"
	"draw-coach/api/internal/tutor/prompt"
	"draw-coach/api/internal/util"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type Engine struct {
	APIKey     string
	Model      string // plan/validate model
	ImageModel string // render model
}

func New(apiKey, model, imageModel string) *Engine {
	return &Engine{
		APIKey:     strings.TrimSpace(apiKey),
		Model:      strings.TrimSpace(model),
		ImageModel: strings.TrimSpace(imageModel),
	}
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) SetModel(m string) {
	if s := strings.TrimSpace(m); s != "" {
		e.Model = s
	}
}

// --------------------------- PLAN ---------------------------

// PlanFirstStep returns JSON per the expert_instruction schema.
func (e *Engine) PlanFirstStep(ctx context.Context, ref tutor.ImageObject, totalSteps int) (tutor.ExpertInstruction, error) {
	if e.APIKey == "" {
		return tutor.ExpertInstruction{}, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return tutor.ExpertInstruction{}, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	if m == nil {
		return tutor.ExpertInstruction{}, fmt.Errorf("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{
			genai.Text(prompt.PlanSystem),
			genai.Text("\nexpert_instruction schema:\n" + prompt.InstructionSchema),
		},
	}

	blob, err := imageBlob(ref)
	if err != nil {
		return tutor.ExpertInstruction{}, fmt.Errorf("gemini plan: bad reference image: %w", err)
	}
	parts := []genai.Part{
		genai.Text(fmt.Sprintf("The tutorial has %d steps in total. Propose step 1 only. Answer strictly with JSON per the expert_instruction schema.", totalSteps)),
		blob,
	}

	txt, err := e.generateText(ctx, m, parts)
	if err != nil {
		return tutor.ExpertInstruction{}, err
	}

	var out tutor.ExpertInstruction
	if err := json.Unmarshal([]byte(txt), &out); err != nil {
		return tutor.ExpertInstruction{}, tutor.ProtocolErrorf("gemini plan: bad JSON: %v", err)
	}
	if strings.TrimSpace(out.WhatToDraw) == "" {
		return tutor.ExpertInstruction{}, tutor.ProtocolErrorf("gemini plan: missing what_to_draw")
	}
	out.StepNumber = 1
	out.TotalSteps = totalSteps
	return out, nil
}

// --------------------------- RENDER ---------------------------

// RenderStep asks the image model for the previous canvas plus only the
// newly instructed additions. Part order matters to the model: reference,
// then canvas, then instruction.
func (e *Engine) RenderStep(ctx context.Context, ref tutor.ImageObject, prev *tutor.ImageObject, instr tutor.ExpertInstruction) (tutor.ImageObject, error) {
	if e.APIKey == "" {
		return tutor.ImageObject{}, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return tutor.ImageObject{}, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.ImageModel)
	if m == nil {
		return tutor.ImageObject{}, fmt.Errorf("gemini: model is nil")
	}

	refBlob, err := imageBlob(ref)
	if err != nil {
		return tutor.ImageObject{}, fmt.Errorf("gemini render: bad reference image: %w", err)
	}
	parts := []genai.Part{
		genai.Text(prompt.RenderSystem),
		genai.Text("Reference image:"),
		refBlob,
	}
	if prev != nil {
		prevBlob, err := imageBlob(*prev)
		if err != nil {
			return tutor.ImageObject{}, fmt.Errorf("gemini render: bad previous canvas: %w", err)
		}
		parts = append(parts, genai.Text("Previous canvas:"), prevBlob)
	} else {
		parts = append(parts, genai.Text("There is no previous canvas; start from a blank white page."))
	}
	parts = append(parts, genai.Text(instructionText(instr)))

	var lastErr error
	for n := 1; n <= 3; n++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			if ctx.Err() != nil {
				return tutor.ImageObject{}, ctx.Err()
			}
			lastErr = err
			time.Sleep(time.Duration(n) * 300 * time.Millisecond)
			continue
		}
		data, mime := firstBlob(resp)
		if len(data) == 0 {
			return tutor.ImageObject{}, tutor.ProtocolErrorf("gemini render: no image in response")
		}
		return tutor.ImageObject{
			Base64:   base64.StdEncoding.EncodeToString(data),
			MimeType: util.PickMIME(mime, "", data),
		}, nil
	}
	return tutor.ImageObject{}, lastErr
}

// --------------------------- VALIDATE ---------------------------

// ValidateStep returns JSON per the expert_validation schema.
func (e *Engine) ValidateStep(ctx context.Context, ref, rendered tutor.ImageObject, prev *tutor.ImageObject, instr tutor.ExpertInstruction) (tutor.ExpertValidation, error) {
	if e.APIKey == "" {
		return tutor.ExpertValidation{}, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.APIKey))
	if err != nil {
		return tutor.ExpertValidation{}, err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	if m == nil {
		return tutor.ExpertValidation{}, fmt.Errorf("gemini: model is nil")
	}
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{
			genai.Text(prompt.ValidateSystem),
			genai.Text("\nexpert_validation schema:\n" + prompt.ValidationSchema),
		},
	}

	refBlob, err := imageBlob(ref)
	if err != nil {
		return tutor.ExpertValidation{}, fmt.Errorf("gemini validate: bad reference image: %w", err)
	}
	renderedBlob, err := imageBlob(rendered)
	if err != nil {
		return tutor.ExpertValidation{}, fmt.Errorf("gemini validate: bad rendered canvas: %w", err)
	}
	parts := []genai.Part{
		genai.Text("Reference image:"),
		refBlob,
		genai.Text("Rendered canvas for this step:"),
		renderedBlob,
	}
	if prev != nil {
		prevBlob, err := imageBlob(*prev)
		if err != nil {
			return tutor.ExpertValidation{}, fmt.Errorf("gemini validate: bad previous canvas: %w", err)
		}
		parts = append(parts, genai.Text("Previous canvas:"), prevBlob)
	}
	instrJSON, _ := json.Marshal(instr)
	parts = append(parts,
		genai.Text("Step instruction (JSON):\n"+string(instrJSON)),
		genai.Text("Answer strictly with JSON per the expert_validation schema."),
	)

	txt, err := e.generateText(ctx, m, parts)
	if err != nil {
		return tutor.ExpertValidation{}, err
	}

	var out tutor.ExpertValidation
	if err := json.Unmarshal([]byte(txt), &out); err != nil {
		return tutor.ExpertValidation{}, tutor.ProtocolErrorf("gemini validate: bad JSON: %v", err)
	}
	tutor.ApplyValidationPolicy(&out)
	return out, nil
}

// --------------------------- helpers ---------------------------

// generateText runs a structured-output call with retries for transient
// transport failures. A malformed body is not retried.
func (e *Engine) generateText(ctx context.Context, m *genai.GenerativeModel, parts []genai.Part) (string, error) {
	var lastErr error
	for n := 1; n <= 3; n++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			time.Sleep(time.Duration(n) * 300 * time.Millisecond)
			continue
		}
		txt := firstText(resp)
		if txt == "" {
			return "", tutor.ProtocolErrorf("gemini: empty response")
		}
		return util.StripCodeFences(strings.TrimSpace(txt)), nil
	}
	return "", lastErr
}

func instructionText(in tutor.ExpertInstruction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %d of %d, target completeness %d%%.\n", in.StepNumber, in.TotalSteps, in.TargetCompleteness)
	fmt.Fprintf(&b, "Draw: %s\n", in.WhatToDraw)
	fmt.Fprintf(&b, "Instructions: %s\n", in.DrawingInstructions)
	if strings.TrimSpace(in.Avoidance) != "" {
		fmt.Fprintf(&b, "Avoid: %s\n", in.Avoidance)
	}
	return b.String()
}

func imageBlob(im tutor.ImageObject) (*genai.Blob, error) {
	data, hint, err := util.DecodeBase64MaybeDataURL(im.Base64)
	if err != nil {
		return nil, err
	}
	return &genai.Blob{MIMEType: util.PickMIME(im.MimeType, hint, data), Data: data}, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func firstBlob(resp *genai.GenerateContentResponse) ([]byte, string) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			switch b := p.(type) {
			case genai.Blob:
				return b.Data, b.MIMEType
			case *genai.Blob:
				return b.Data, b.MIMEType
			}
		}
	}
	return nil, ""
}

func ptrFloat32(v float32) *float32 { return &v }
