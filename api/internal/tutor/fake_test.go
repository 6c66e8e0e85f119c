package tutor

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
)

// fakeEngine scripts validation outcomes per call; the last entry repeats.
type fakeEngine struct {
	mu sync.Mutex

	planInstr ExpertInstruction
	planErr   error

	renderErr   error
	validateErr error
	validations []ExpertValidation

	blockRender chan struct{} // when set, RenderStep waits for close or ctx

	planCalls     int
	renderCalls   int
	validateCalls int
	renderInstrs  []string // DrawingInstructions as seen by each render
}

func (f *fakeEngine) Name() string     { return "fake" }
func (f *fakeEngine) GetModel() string { return "fake-1" }

func (f *fakeEngine) PlanFirstStep(ctx context.Context, ref ImageObject, totalSteps int) (ExpertInstruction, error) {
	f.mu.Lock()
	f.planCalls++
	f.mu.Unlock()
	if f.planErr != nil {
		return ExpertInstruction{}, f.planErr
	}
	in := f.planInstr
	in.StepNumber = 1
	in.TotalSteps = totalSteps
	return in, nil
}

func (f *fakeEngine) RenderStep(ctx context.Context, ref ImageObject, prev *ImageObject, instr ExpertInstruction) (ImageObject, error) {
	if f.blockRender != nil {
		select {
		case <-ctx.Done():
			return ImageObject{}, ctx.Err()
		case <-f.blockRender:
		}
	}
	f.mu.Lock()
	f.renderCalls++
	n := f.renderCalls
	f.renderInstrs = append(f.renderInstrs, instr.DrawingInstructions)
	f.mu.Unlock()
	if f.renderErr != nil {
		return ImageObject{}, f.renderErr
	}
	return fakeImage(fmt.Sprintf("render-%d", n)), nil
}

func (f *fakeEngine) ValidateStep(ctx context.Context, ref, rendered ImageObject, prev *ImageObject, instr ExpertInstruction) (ExpertValidation, error) {
	f.mu.Lock()
	i := f.validateCalls
	f.validateCalls++
	f.mu.Unlock()
	if f.validateErr != nil {
		return ExpertValidation{}, f.validateErr
	}
	if len(f.validations) == 0 {
		return ExpertValidation{Approved: true, Score: 100}, nil
	}
	if i >= len(f.validations) {
		i = len(f.validations) - 1
	}
	return f.validations[i], nil
}

func (f *fakeEngine) snapshotCalls() (plan, render, validate int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.planCalls, f.renderCalls, f.validateCalls
}

func fakeImage(tag string) ImageObject {
	return ImageObject{
		Base64:   base64.StdEncoding.EncodeToString([]byte(tag)),
		MimeType: "image/jpeg",
	}
}
