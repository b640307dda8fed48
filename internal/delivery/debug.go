package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/filipexyz/beacon/internal/event"
)

const detachedValidationTimeout = 10 * time.Second

// ValidationMessage is one diagnostic from the debug endpoint.
type ValidationMessage struct {
	FieldPath      string `json:"field_path,omitempty"`
	Description    string `json:"description"`
	ValidationCode string `json:"validation_code"`
}

// DebugResponse is the debug endpoint's reply.
type DebugResponse struct {
	ValidationMessages []ValidationMessage `json:"validationMessages"`
}

// Valid reports whether the collector found no problems.
func (r *DebugResponse) Valid() bool {
	return len(r.ValidationMessages) == 0
}

// ValidateEvent sends p to the debug endpoint and returns its
// diagnostics. Nothing is recorded by the collector.
func (s *Service) ValidateEvent(ctx context.Context, p *event.Payload) (*DebugResponse, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	resp, err := s.transport.Post(ctx, true, body)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var out DebugResponse
	if len(resp.Body) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode debug response: %w", err)
	}
	return &out, nil
}

// ValidateDetached runs ValidateEvent in the background. The result is
// only logged; failures and panics never reach the caller.
func (s *Service) ValidateDetached(p *event.Payload) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("debug validation panicked", "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(s.baseCtx, detachedValidationTimeout)
		defer cancel()

		resp, err := s.ValidateEvent(ctx, p)
		if err != nil {
			s.logger.Warn("debug validation failed", "event", p.Name(), "error", err)
			return
		}
		if resp.Valid() {
			s.logger.Debug("debug validation passed", "event", p.Name())
			return
		}
		for _, m := range resp.ValidationMessages {
			s.logger.Warn("debug validation message",
				"event", p.Name(),
				"field", m.FieldPath,
				"code", m.ValidationCode,
				"description", m.Description,
			)
		}
	}()
}
