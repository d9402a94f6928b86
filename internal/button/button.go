// Package button turns key presses into button edge events.
//
// Buttons are reported as bitmasks: state holds the current level of every
// button and changed marks the buttons whose level changed in this event.
package button

import (
	"fmt"
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"
)

// User is the mask of the user button.
const User uint32 = 1 << 0

// Handler receives button edges. It runs on the source goroutine and must
// not block.
type Handler func(state, changed uint32)

// Source delivers button edges to a handler.
type Source interface {
	// Start begins delivering edges to h. It returns once the source is live.
	Start(h Handler) error
	// Stop ends delivery. It is safe to call multiple times.
	Stop()
}

// Decode reports the level of the button at mask and whether it changed.
func Decode(state, changed, mask uint32) (pressed, hasChanged bool) {
	return state&mask != 0, changed&mask != 0
}

// HookSource maps one keyboard key to the user button using a global
// keyboard hook: key down is a press, key up a release.
type HookSource struct {
	key string

	mu      sync.Mutex
	state   uint32
	started bool
	done    chan struct{}
	once    sync.Once
}

var _ Source = (*HookSource)(nil)

// NewHookSource creates a source for key (a gohook key name such as "space").
func NewHookSource(key string) *HookSource {
	return &HookSource{key: key, done: make(chan struct{})}
}

func (s *HookSource) Start(h Handler) error {
	if h == nil {
		return fmt.Errorf("button: nil handler")
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("button: source already started")
	}
	s.started = true
	s.mu.Unlock()

	hook.Register(hook.KeyDown, []string{s.key}, func(e hook.Event) {
		s.edge(h, true)
	})
	hook.Register(hook.KeyUp, []string{s.key}, func(e hook.Event) {
		s.edge(h, false)
	})

	evChan := hook.Start()
	go func() {
		<-s.done
		hook.End()
	}()
	go func() {
		<-hook.Process(evChan)
		slog.Debug("[BTN] keyboard hook stopped")
	}()

	slog.Info("[BTN] listening", "key", s.key)
	return nil
}

// edge reports a level change; key auto-repeat produces no edge.
func (s *HookSource) edge(h Handler, pressed bool) {
	s.mu.Lock()
	prev := s.state
	if pressed {
		s.state |= User
	} else {
		s.state &^= User
	}
	state := s.state
	s.mu.Unlock()

	changed := prev ^ state
	if changed == 0 {
		return
	}
	h(state, changed)
}

func (s *HookSource) Stop() {
	s.once.Do(func() {
		close(s.done)
	})
}
