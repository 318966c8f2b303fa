package testsupport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Reply is one scripted model response.
type Reply struct {
	Content string
	Err     error
	// Delay blocks the call until it elapses or the context ends.
	Delay time.Duration
}

// Call records one request made to a ScriptedCompleter.
type Call struct {
	System string
	User   string
}

// ScriptedCompleter answers Complete calls from per-prompt reply queues.
// A queue is selected by the longest registered prefix of the system prompt.
// The last reply of a queue repeats once the queue is drained.
type ScriptedCompleter struct {
	mu      sync.Mutex
	scripts map[string][]Reply
	calls   []Call
}

// NewScriptedCompleter returns an empty completer.
func NewScriptedCompleter() *ScriptedCompleter {
	return &ScriptedCompleter{scripts: make(map[string][]Reply)}
}

// On registers replies for system prompts starting with prefix.
func (s *ScriptedCompleter) On(prefix string, replies ...Reply) *ScriptedCompleter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[prefix] = append(s.scripts[prefix], replies...)
	return s
}

// Complete returns the next scripted reply for system.
func (s *ScriptedCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	reply, err := s.next(system, user)
	if err != nil {
		return "", err
	}
	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return reply.Content, reply.Err
}

func (s *ScriptedCompleter) next(system, user string) (Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{System: system, User: user})

	best := ""
	found := false
	for prefix := range s.scripts {
		if strings.HasPrefix(system, prefix) && (!found || len(prefix) > len(best)) {
			best = prefix
			found = true
		}
	}
	if !found {
		return Reply{}, fmt.Errorf("no scripted reply for system prompt %.40q", system)
	}
	queue := s.scripts[best]
	reply := queue[0]
	if len(queue) > 1 {
		s.scripts[best] = queue[1:]
	}
	return reply, nil
}

// Calls returns a copy of the recorded calls.
func (s *ScriptedCompleter) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsWithPrefix counts recorded calls whose system prompt starts with prefix.
func (s *ScriptedCompleter) CallsWithPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, call := range s.calls {
		if strings.HasPrefix(call.System, prefix) {
			count++
		}
	}
	return count
}
