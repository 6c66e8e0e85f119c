package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"draw-coach/api/internal/tutor"
	"draw-coach/api/internal/tutor/prompt"
	"draw-coach/api/internal/util"
)

type Engine struct {
	APIKey     string
	Model      string // plan/validate model
	ImageModel string // render model (images/edits)
	httpc      *http.Client
}

func New(key, model, imageModel string) *Engine {
	return &Engine{
		APIKey:     key,
		Model:      model,
		ImageModel: imageModel,
		httpc:      &http.Client{Timeout: 120 * time.Second},
	}
}

func (e *Engine) Name() string     { return "gpt" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) SetModel(m string) {
	if s := strings.TrimSpace(m); s != "" {
		e.Model = s
	}
}

func (e *Engine) PlanFirstStep(ctx context.Context, ref tutor.ImageObject, totalSteps int) (tutor.ExpertInstruction, error) {
	if e.APIKey == "" {
		return tutor.ExpertInstruction{}, fmt.Errorf("OPENAI_API_KEY is empty")
	}

	system := prompt.PlanSystem + "\n\nexpert_instruction schema:\n" + prompt.InstructionSchema
	user := fmt.Sprintf("The tutorial has %d steps in total. Propose step 1 only. Answer strictly with JSON per the expert_instruction schema.", totalSteps)

	content := []any{
		map[string]any{"type": "text", "text": user},
		imagePart(ref),
	}
	out, err := e.chatJSON(ctx, "plan", system, content)
	if err != nil {
		return tutor.ExpertInstruction{}, err
	}

	var in tutor.ExpertInstruction
	if err := json.Unmarshal([]byte(out), &in); err != nil {
		return tutor.ExpertInstruction{}, tutor.ProtocolErrorf("openai plan: bad JSON: %v", err)
	}
	if strings.TrimSpace(in.WhatToDraw) == "" {
		return tutor.ExpertInstruction{}, tutor.ProtocolErrorf("openai plan: missing what_to_draw")
	}
	in.StepNumber = 1
	in.TotalSteps = totalSteps
	return in, nil
}

// RenderStep goes through the images/edits endpoint: the reference (and the
// previous canvas when present) are attached as input images, the
// instruction becomes the edit prompt.
func (e *Engine) RenderStep(ctx context.Context, ref tutor.ImageObject, prev *tutor.ImageObject, instr tutor.ExpertInstruction) (tutor.ImageObject, error) {
	if e.APIKey == "" {
		return tutor.ImageObject{}, fmt.Errorf("OPENAI_API_KEY is empty")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("model", e.ImageModel)

	renderPrompt := prompt.RenderSystem + "\n\n" + instructionText(instr)
	if prev == nil {
		renderPrompt += "\nThere is no previous canvas; start from a blank white page."
	}
	_ = w.WriteField("prompt", renderPrompt)

	if err := attachImage(w, "image[]", "reference.jpg", ref); err != nil {
		return tutor.ImageObject{}, fmt.Errorf("openai render: bad reference image: %w", err)
	}
	if prev != nil {
		if err := attachImage(w, "image[]", "canvas.jpg", *prev); err != nil {
			return tutor.ImageObject{}, fmt.Errorf("openai render: bad previous canvas: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return tutor.ImageObject{}, err
	}

	req, _ := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/images/edits", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return tutor.ImageObject{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(resp.Body)
		return tutor.ImageObject{}, fmt.Errorf("openai render %d: %s", resp.StatusCode, strings.TrimSpace(string(x)))
	}

	var raw struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return tutor.ImageObject{}, tutor.ProtocolErrorf("openai render: bad JSON: %v", err)
	}
	if len(raw.Data) == 0 || strings.TrimSpace(raw.Data[0].B64JSON) == "" {
		return tutor.ImageObject{}, tutor.ProtocolErrorf("openai render: no image in response")
	}
	return tutor.ImageObject{Base64: raw.Data[0].B64JSON, MimeType: "image/png"}, nil
}

func (e *Engine) ValidateStep(ctx context.Context, ref, rendered tutor.ImageObject, prev *tutor.ImageObject, instr tutor.ExpertInstruction) (tutor.ExpertValidation, error) {
	if e.APIKey == "" {
		return tutor.ExpertValidation{}, fmt.Errorf("OPENAI_API_KEY is empty")
	}

	system := prompt.ValidateSystem + "\n\nexpert_validation schema:\n" + prompt.ValidationSchema

	instrJSON, _ := json.Marshal(instr)
	content := []any{
		map[string]any{"type": "text", "text": "Reference image:"},
		imagePart(ref),
		map[string]any{"type": "text", "text": "Rendered canvas for this step:"},
		imagePart(rendered),
	}
	if prev != nil {
		content = append(content,
			map[string]any{"type": "text", "text": "Previous canvas:"},
			imagePart(*prev),
		)
	}
	content = append(content, map[string]any{
		"type": "text",
		"text": "Step instruction (JSON):\n" + string(instrJSON) + "\nAnswer strictly with JSON per the expert_validation schema.",
	})

	out, err := e.chatJSON(ctx, "validate", system, content)
	if err != nil {
		return tutor.ExpertValidation{}, err
	}

	var v tutor.ExpertValidation
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		return tutor.ExpertValidation{}, tutor.ProtocolErrorf("openai validate: bad JSON: %v", err)
	}
	tutor.ApplyValidationPolicy(&v)
	return v, nil
}

// --------------------------- helpers ---------------------------

func (e *Engine) chatJSON(ctx context.Context, op, system string, userContent []any) (string, error) {
	body := map[string]any{
		"model": e.Model,
		"messages": []any{
			map[string]any{"role": "system", "content": system},
			map[string]any{"role": "user", "content": userContent},
		},
		"temperature":     0,
		"response_format": map[string]any{"type": "json_object"},
	}
	payload, _ := json.Marshal(body)

	req, _ := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/chat/completions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		x, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("openai %s %d: %s", op, resp.StatusCode, strings.TrimSpace(string(x)))
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", tutor.ProtocolErrorf("openai %s: bad JSON: %v", op, err)
	}
	if len(raw.Choices) == 0 {
		return "", tutor.ProtocolErrorf("openai %s: empty response", op)
	}
	return util.StripCodeFences(strings.TrimSpace(raw.Choices[0].Message.Content)), nil
}

func imagePart(im tutor.ImageObject) map[string]any {
	return map[string]any{
		"type":      "image_url",
		"image_url": map[string]any{"url": im.DataURL(), "detail": "high"},
	}
}

func attachImage(w *multipart.Writer, field, name string, im tutor.ImageObject) error {
	data, err := base64.StdEncoding.DecodeString(im.Base64)
	if err != nil {
		return err
	}
	fw, err := w.CreateFormFile(field, name)
	if err != nil {
		return err
	}
	_, err = fw.Write(data)
	return err
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
