package llm

import (
	"context"
	"errors"
)

// StubClient is a fully offline Client for tests and for operation without
// a configured API key: it returns a fixed response, or a fixed error, per
// call index.
type StubClient struct {
	Responses []string
	Err       error
	calls     int
}

// Complete returns the next configured response in order, repeating the
// last one once exhausted. If Err is set, it is returned instead and the
// response list is not consulted.
func (s *StubClient) Complete(_ context.Context, _ string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Responses) == 0 {
		return "", errors.New("llm: stub client has no configured responses")
	}
	idx := s.calls
	if idx >= len(s.Responses) {
		idx = len(s.Responses) - 1
	}
	s.calls++
	return s.Responses[idx], nil
}

// Calls reports how many times Complete has been invoked.
func (s *StubClient) Calls() int { return s.calls }
