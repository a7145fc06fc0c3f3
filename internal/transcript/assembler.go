// Package transcript folds streaming deltas into a running transcript.
package transcript

import (
	"strings"
	"sync"

	"github.com/loqalabs/minutes-core/internal/stt"
)

// Assembler keeps the committed text separate from the single provisional
// segment the provider may still revise. Each final delta is appended to
// the committed text exactly once; interim deltas only ever replace the
// provisional segment. It is safe for concurrent use.
type Assembler struct {
	mu          sync.Mutex
	committed   strings.Builder
	provisional string
}

func New() *Assembler {
	return &Assembler{}
}

// Apply folds one delta into the transcript.
func (a *Assembler) Apply(d stt.Delta) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d.Final {
		if d.Text != "" {
			a.committed.WriteString(d.Text)
			a.committed.WriteByte(' ')
		}
		a.provisional = ""
		return
	}
	a.provisional = d.Text
}

// Text renders the live view: committed text followed by the provisional
// segment.
func (a *Assembler) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed.String() + a.provisional
}

// Committed returns only the stable part of the transcript.
func (a *Assembler) Committed() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed.String()
}

// Finish drops any provisional text and returns the trimmed committed
// transcript. The assembler keeps its committed text.
func (a *Assembler) Finish() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.provisional = ""
	return strings.TrimSpace(a.committed.String())
}

// Clear resets the transcript to empty.
func (a *Assembler) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.committed.Reset()
	a.provisional = ""
}
