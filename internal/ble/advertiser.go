package ble

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/lbs-peripheral/internal/ble/adv"
)

// AdvertisingState is the advertising controller state.
//
//	idle                  -> starting
//	starting              -> advertising | idle (stack refused)
//	advertising           -> stopped-for-connection
//	stopped-for-connection -> starting (after the connection is recycled)
type AdvertisingState int

const (
	AdvIdle AdvertisingState = iota
	AdvStarting
	AdvAdvertising
	AdvStoppedForConnection
)

func (s AdvertisingState) String() string {
	switch s {
	case AdvIdle:
		return "idle"
	case AdvStarting:
		return "starting"
	case AdvAdvertising:
		return "advertising"
	case AdvStoppedForConnection:
		return "stopped-for-connection"
	}
	return fmt.Sprintf("AdvertisingState(%d)", int(s))
}

// AdvertiserConfig holds the advertising set and its payloads.
type AdvertiserConfig struct {
	Params       AdvParams
	Data         []adv.Field // advertising payload
	ScanResponse []adv.Field
}

// LBSAdvertiserConfig returns connectable fast advertising with the flags and
// complete name in the advertising payload and the LBS service UUID in the
// scan response.
func LBSAdvertiserConfig(name string, params AdvParams) AdvertiserConfig {
	return AdvertiserConfig{
		Params: params,
		Data: []adv.Field{
			adv.Flags(adv.FlagGeneralDiscoverable | adv.FlagNoBREDR),
			adv.CompleteName(name),
		},
		ScanResponse: []adv.Field{
			adv.UUID128All(LBSServiceUUID),
		},
	}
}

// Advertiser starts advertising on the work queue so that Start can be
// called from any context, including stack callbacks.
type Advertiser struct {
	stack Stack
	cfg   AdvertiserConfig
	work  *Work

	mu    sync.Mutex
	state AdvertisingState
}

// NewAdvertiser validates the payloads and binds the advertising job to q.
func NewAdvertiser(q *Queue, stack Stack, cfg AdvertiserConfig) (*Advertiser, error) {
	if _, err := adv.Encode(cfg.Data); err != nil {
		return nil, fmt.Errorf("ble: advertising data: %w", err)
	}
	if _, err := adv.Encode(cfg.ScanResponse); err != nil {
		return nil, fmt.Errorf("ble: scan response: %w", err)
	}
	if cfg.Params.IntervalMin > cfg.Params.IntervalMax {
		return nil, fmt.Errorf("ble: advertising interval min 0x%x > max 0x%x", cfg.Params.IntervalMin, cfg.Params.IntervalMax)
	}
	a := &Advertiser{stack: stack, cfg: cfg}
	a.work = NewWork(q, a.run)
	return a, nil
}

// Start requests advertising. It never blocks; the stack call happens later
// on the work queue. Calls while starting or advertising are ignored.
func (a *Advertiser) Start() {
	a.mu.Lock()
	switch a.state {
	case AdvStarting, AdvAdvertising:
		a.mu.Unlock()
		return
	}
	a.state = AdvStarting
	a.mu.Unlock()

	a.work.Submit()
}

// ConnectionAccepted records that the stack stopped advertising because a
// central connected.
func (a *Advertiser) ConnectionAccepted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = AdvStoppedForConnection
}

// State returns the current advertising state.
func (a *Advertiser) State() AdvertisingState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Advertiser) run() {
	a.mu.Lock()
	if a.state != AdvStarting {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	err := a.stack.Advertise(a.cfg.Params, a.cfg.Data, a.cfg.ScanResponse)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		// No retry here; the next Start call tries again.
		a.state = AdvIdle
		slog.Error("[ADV] advertising failed to start", "err", err)
		return
	}
	if a.state == AdvStarting {
		a.state = AdvAdvertising
	}
	slog.Info("[ADV] advertising started",
		"identity", a.cfg.Params.UseIdentity,
		"interval_min", a.cfg.Params.IntervalMin,
		"interval_max", a.cfg.Params.IntervalMax)
}
