package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/tbourn/chatflow-gateway/internal/domain"
)

// ParseFlowYAML decodes one or more "---" separated flow definitions.
// Unknown keys are rejected so typos in node payloads surface at import.
func ParseFlowYAML(data []byte) ([]FlowDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var defs []FlowDefinition
	for i := 0; ; i++ {
		var def FlowDefinition
		err := dec.Decode(&def)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: document %d: %v", ErrInvalidFlow, i, err)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no flow documents", ErrInvalidFlow)
	}
	return defs, nil
}

// ImportYAML validates every document before storing any of them.
func (s *FlowService) ImportYAML(ctx context.Context, userID string, data []byte) ([]*domain.Flow, error) {
	defs, err := ParseFlowYAML(data)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Flow, 0, len(defs))
	for _, def := range defs {
		f, err := s.Create(ctx, userID, def)
		if err != nil {
			return out, fmt.Errorf("import %q: %w", def.Name, err)
		}
		out = append(out, f)
	}
	return out, nil
}
