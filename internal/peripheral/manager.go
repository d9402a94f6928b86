// Package peripheral wires the LED Button Service peripheral together: it
// owns the button state, drives the status LEDs, and connects the
// advertiser and the connection negotiator to the host stack.
package peripheral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/lbs-peripheral/internal/ble"
	"github.com/chaz8081/lbs-peripheral/internal/button"
	"github.com/chaz8081/lbs-peripheral/internal/led"
)

// DefaultHeartbeat is the run status LED blink interval.
const DefaultHeartbeat = time.Second

// Options configure a Manager.
type Options struct {
	Name        string // advertised complete local name
	Advertising ble.AdvParams
	Preferences ble.Preferences
	Heartbeat   time.Duration // zero means DefaultHeartbeat
	// Queue is the execution context shared with the stack. A new queue is
	// created when nil.
	Queue *ble.Queue
}

// Manager is the connectivity manager of the peripheral.
type Manager struct {
	opts   Options
	stack  ble.Stack
	leds   led.Bank
	button button.Source

	q          *ble.Queue
	advertiser *ble.Advertiser
	negotiator *ble.Negotiator

	pressed atomic.Bool
	started atomic.Bool

	mu       sync.Mutex
	notifier ble.ButtonNotifier
}

// New creates a Manager. Nothing touches the stack until Start.
func New(opts Options, stack ble.Stack, leds led.Bank, src button.Source) (*Manager, error) {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.Queue == nil {
		opts.Queue = ble.NewQueue()
	}

	m := &Manager{
		opts:   opts,
		stack:  stack,
		leds:   leds,
		button: src,
		q:      opts.Queue,
	}

	adv, err := ble.NewAdvertiser(m.q, stack, ble.LBSAdvertiserConfig(opts.Name, opts.Advertising))
	if err != nil {
		return nil, fmt.Errorf("peripheral: %w", err)
	}
	m.advertiser = adv
	m.negotiator = ble.NewNegotiator(stack, opts.Preferences, ble.Lifecycle{
		Connected:    m.onConnected,
		Disconnected: m.onDisconnected,
		Recycled:     m.onRecycled,
	})
	return m, nil
}

// Start initializes the LEDs, the button and the stack, then starts
// advertising. Any failure aborts start-up.
func (m *Manager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("peripheral: already started")
	}

	if err := m.leds.Init(); err != nil {
		return fmt.Errorf("peripheral: LED init: %w", err)
	}
	if err := m.button.Start(m.buttonChanged); err != nil {
		return fmt.Errorf("peripheral: button init: %w", err)
	}

	if err := m.startStack(); err != nil {
		m.button.Stop()
		return err
	}

	m.advertiser.Start()
	return nil
}

// startStack registers the callbacks, enables the stack and adds the LED
// Button Service.
func (m *Manager) startStack() error {
	if err := m.stack.RegisterConnCallbacks(m.negotiator); err != nil {
		return fmt.Errorf("peripheral: register connection callbacks: %w", err)
	}
	if m.opts.Preferences.Security > ble.SecurityNone {
		if err := m.stack.RegisterAuthCallbacks(m.negotiator); err != nil {
			return fmt.Errorf("peripheral: register auth callbacks: %w", err)
		}
	}

	if err := m.stack.Enable(); err != nil {
		return fmt.Errorf("peripheral: bluetooth init: %w", err)
	}
	slog.Info("[BLE] bluetooth initialized")

	notifier, err := m.stack.RegisterLBS(ble.LBSCallbacks{
		LEDWrite:   m.ledWritten,
		ButtonRead: m.ButtonPressed,
	})
	if err != nil {
		return fmt.Errorf("peripheral: LBS init: %w", err)
	}
	m.mu.Lock()
	m.notifier = notifier
	m.mu.Unlock()
	return nil
}

// Run executes queued work and blinks the run status LED until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.heartbeat(ctx)
	}()

	err := m.q.Run(ctx)
	wg.Wait()
	m.button.Stop()
	return err
}

// Sync waits until all work queued before the call has run.
func (m *Manager) Sync(ctx context.Context) error {
	return m.q.Sync(ctx)
}

func (m *Manager) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Heartbeat)
	defer ticker.Stop()

	on := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			on = !on
			if err := m.leds.Set(led.RunStatus, on); err != nil {
				slog.Debug("[LED] heartbeat", "err", err)
			}
		}
	}
}

// buttonChanged runs on the button source goroutine. It never calls the
// stack directly.
func (m *Manager) buttonChanged(state, changed uint32) {
	pressed, hasChanged := button.Decode(state, changed, button.User)
	if !hasChanged {
		return
	}
	m.pressed.Store(pressed)
	m.q.Post(func() { m.sendButtonState(pressed) })
}

func (m *Manager) sendButtonState(pressed bool) {
	m.mu.Lock()
	notifier := m.notifier
	m.mu.Unlock()
	if notifier == nil {
		slog.Debug("[LBS] button state before service registration", "pressed", pressed)
		return
	}
	if err := notifier.SendButtonState(pressed); err != nil {
		switch {
		case errors.Is(err, ble.ErrNotConnected), errors.Is(err, ble.ErrNotSubscribed):
			slog.Warn("[LBS] button state not sent", "pressed", pressed, "err", err)
		default:
			slog.Error("[LBS] couldn't send button state notification", "pressed", pressed, "err", err)
		}
		return
	}
	slog.Debug("[LBS] button state sent", "pressed", pressed)
}

func (m *Manager) ledWritten(on bool) {
	if err := m.leds.Set(led.User, on); err != nil {
		slog.Error("[LED] user LED", "err", err)
	}
}

func (m *Manager) onConnected(ble.Conn) {
	m.advertiser.ConnectionAccepted()
	if err := m.leds.Set(led.ConnStatus, true); err != nil {
		slog.Error("[LED] connection LED", "err", err)
	}
}

func (m *Manager) onDisconnected(ble.Conn, ble.HCIError) {
	if err := m.leds.Set(led.ConnStatus, false); err != nil {
		slog.Error("[LED] connection LED", "err", err)
	}
}

func (m *Manager) onRecycled() {
	m.advertiser.Start()
}

// ButtonPressed reports the last button level seen.
func (m *Manager) ButtonPressed() bool {
	return m.pressed.Load()
}

func (m *Manager) Advertiser() *ble.Advertiser { return m.advertiser }

func (m *Manager) Negotiator() *ble.Negotiator { return m.negotiator }

// Queue returns the work queue shared with the stack.
func (m *Manager) Queue() *ble.Queue { return m.q }
