package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Engine is the narrow contract to the remote multimodal model. All three
// operations are single request/response exchanges: idempotent from the
// caller's side, arbitrarily slow, cancellable through ctx. Callers must
// treat every call as fallible I/O.
type Engine interface {
	Name() string
	GetModel() string

	// PlanFirstStep proposes a deliberately minimal step 1 for the
	// reference image.
	PlanFirstStep(ctx context.Context, ref ImageObject, totalSteps int) (ExpertInstruction, error)

	// RenderStep returns the previous canvas plus only the newly
	// instructed additions, as black-and-white line art on white.
	// prev is nil only for step 1.
	RenderStep(ctx context.Context, ref ImageObject, prev *ImageObject, instr ExpertInstruction) (ImageObject, error)

	// ValidateStep scores the rendered canvas against the instruction and
	// the reference, proposing the following step's instructions when the
	// result is acceptable and more steps remain.
	ValidateStep(ctx context.Context, ref, rendered ImageObject, prev *ImageObject, instr ExpertInstruction) (ExpertValidation, error)
}

// Engines is the set of configured providers. A provider left nil is not
// configured.
type Engines struct {
	Gemini Engine
	OpenAI Engine
}

func (e Engines) ByName(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gemini":
		if e.Gemini == nil {
			return nil, errors.New("gemini engine is not configured")
		}
		return e.Gemini, nil
	case "gpt", "openai":
		if e.OpenAI == nil {
			return nil, errors.New("gpt engine is not configured")
		}
		return e.OpenAI, nil
	default:
		return nil, fmt.Errorf("unknown engine %q (gemini | gpt)", name)
	}
}

// Manager holds the default engine plus per-owner overrides (an owner is a
// session id or a chat id rendered as string).
type Manager struct {
	def Engine
	m   sync.Map // owner -> Engine
}

func NewManager(defaultEngine Engine) *Manager {
	return &Manager{def: defaultEngine}
}

func (m *Manager) Get(owner string) Engine {
	if v, ok := m.m.Load(owner); ok {
		return v.(Engine)
	}
	return m.def
}

func (m *Manager) Set(owner string, e Engine) {
	m.m.Store(owner, e)
}

func (m *Manager) Clear(owner string) {
	m.m.Delete(owner)
}

func (m *Manager) Default() Engine { return m.def }
