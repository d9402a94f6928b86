// Package led drives the status and user LEDs.
package led

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-vgo/robotgo"
)

// ID names an LED.
type ID int

const (
	RunStatus  ID = iota // heartbeat
	ConnStatus           // lit while a central is connected
	User                 // controlled by the peer over LBS
)

func (id ID) String() string {
	switch id {
	case RunStatus:
		return "run"
	case ConnStatus:
		return "conn"
	case User:
		return "user"
	}
	return fmt.Sprintf("ID(%d)", int(id))
}

// Bank is a set of LEDs.
type Bank interface {
	// Init turns every LED off.
	Init() error
	Set(id ID, on bool) error
}

// LogBank logs LED changes.
type LogBank struct {
	mu    sync.Mutex
	state map[ID]bool
}

var _ Bank = (*LogBank)(nil)

func NewLogBank() *LogBank {
	return &LogBank{state: make(map[ID]bool)}
}

func (b *LogBank) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.state)
	slog.Debug("[LED] initialized")
	return nil
}

func (b *LogBank) Set(id ID, on bool) error {
	b.mu.Lock()
	b.state[id] = on
	b.mu.Unlock()

	// The heartbeat would flood the info level.
	level := slog.LevelInfo
	if id == RunStatus {
		level = slog.LevelDebug
	}
	slog.Log(context.Background(), level, "[LED] set", "led", id, "on", on)
	return nil
}

// State reports the last value set for id.
func (b *LogBank) State(id ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state[id]
}

// KeyboardBank shows LEDs on the keyboard lock indicators (caps lock,
// num lock, scroll lock). The lock keys only toggle, so the bank tracks the
// state it has set and taps a key when the requested state differs.
// LEDs without a key are logged only.
type KeyboardBank struct {
	keys map[ID]string
	tap  func(key string) error

	mu    sync.Mutex
	state map[ID]bool
}

var _ Bank = (*KeyboardBank)(nil)

// NewKeyboardBank maps LEDs to robotgo key names, e.g. {User: "capslock"}.
func NewKeyboardBank(keys map[ID]string) *KeyboardBank {
	return &KeyboardBank{
		keys:  keys,
		tap:   func(key string) error { return robotgo.KeyTap(key) },
		state: make(map[ID]bool),
	}
}

// Init assumes every indicator starts off.
func (b *KeyboardBank) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.state)
	slog.Info("[LED] keyboard indicators", "keys", fmt.Sprint(b.keys))
	return nil
}

func (b *KeyboardBank) Set(id ID, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key, ok := b.keys[id]
	if !ok || key == "" {
		slog.Debug("[LED] set", "led", id, "on", on)
		b.state[id] = on
		return nil
	}
	if b.state[id] == on {
		return nil
	}
	if err := b.tap(key); err != nil {
		return fmt.Errorf("led: tap %s for %s: %w", key, id, err)
	}
	b.state[id] = on
	return nil
}
