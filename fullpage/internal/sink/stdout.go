// CLAUDE:SUMMARY Writes capture events as JSON lines to an io.Writer (defaults to stdout).
package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// Stdout writes JSON lines. Image bytes are never written.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) SendProgress(_ context.Context, p shot.Progress) error {
	return s.write(TypeProgress, p)
}

func (s *Stdout) SendResult(_ context.Context, r *shot.Result) error {
	return s.write(TypeResult, r)
}

func (s *Stdout) SendError(_ context.Context, f shot.Failure) error {
	return s.write(TypeError, f)
}

func (s *Stdout) Close() error { return nil }

func (s *Stdout) write(typ string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(Envelope{Type: typ, Data: data})
}
