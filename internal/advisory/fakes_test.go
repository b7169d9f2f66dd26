package advisory

import (
	"context"
	"sync"
)

// fakeModel streams canned chunks and records prompts.
type fakeModel struct {
	mu      sync.Mutex
	name    string
	replies [][]string
	sendErr error
	// streamErr, when set, is sent after the reply's chunks.
	streamErr error
	prompts   []string
}

func newFakeModel(replies ...string) *fakeModel {
	m := &fakeModel{name: "fake"}
	for _, r := range replies {
		m.replies = append(m.replies, []string{r})
	}
	return m
}

func (m *fakeModel) Name() string { return m.name }

func (m *fakeModel) Send(ctx context.Context, prompt string) (<-chan Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	var chunks []string
	if len(m.replies) > 0 {
		chunks = m.replies[0]
		m.replies = m.replies[1:]
	}
	out := make(chan Chunk, len(chunks)+1)
	for _, c := range chunks {
		out <- Chunk{Text: c}
	}
	if m.streamErr != nil {
		out <- Chunk{Err: m.streamErr}
	}
	close(out)
	return out, nil
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}
