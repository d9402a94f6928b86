package ble

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/lbs-peripheral/internal/ble/adv"
)

// TinyGoStack implements Stack on tinygo-org/bluetooth (BlueZ on Linux,
// CoreBluetooth on macOS, SoftDevice on nRF boards). Every host callback is
// posted to the work queue, so EventSink and LBS callbacks run serialized
// with the advertising job.
//
// The OS stacks negotiate MTU, PHY, data length and security themselves;
// the corresponding requests return ErrUnsupported. Notification
// subscriptions are not visible, so SendButtonState never reports
// ErrNotSubscribed.
type TinyGoStack struct {
	adapter *bluetooth.Adapter
	q       *Queue
	adv     *bluetooth.Advertisement

	// mu protects events and conns.
	mu     sync.Mutex
	events EventSink
	conns  map[string]*tinygoConn // keyed by peer address

	buttonChar bluetooth.Characteristic
}

var (
	_ Stack          = (*TinyGoStack)(nil)
	_ ButtonNotifier = (*TinyGoStack)(nil)
)

// NewTinyGoStack creates a stack on the default adapter that delivers
// callbacks on q.
func NewTinyGoStack(q *Queue) *TinyGoStack {
	return &TinyGoStack{
		adapter: bluetooth.DefaultAdapter,
		q:       q,
		conns:   make(map[string]*tinygoConn),
	}
}

func (s *TinyGoStack) Enable() error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	s.adv = s.adapter.DefaultAdvertisement()

	s.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addr := device.Address.String()
		s.q.Post(func() { s.handleConnect(addr, connected) })
	})
	return nil
}

func (s *TinyGoStack) handleConnect(addr string, connected bool) {
	s.mu.Lock()
	events := s.events
	if connected {
		c := &tinygoConn{stack: s, addr: addr}
		s.conns[addr] = c
		s.mu.Unlock()

		// The host ends connectable advertising itself. Stopping the
		// advertisement here would also stop the BlueZ signal watch that
		// reports the disconnect.
		if events != nil {
			events.Connected(c, nil)
		}
		return
	}

	c, ok := s.conns[addr]
	delete(s.conns, addr)
	s.mu.Unlock()
	if !ok {
		slog.Warn("[BLE] disconnect for unknown peer", "peer", addr)
		return
	}

	c.markDisconnected()
	if events != nil {
		// The host stacks do not report the HCI reason.
		events.Disconnected(c, HCIRemoteUserTerminated)
	}
}

func (s *TinyGoStack) recycled() {
	s.q.Post(func() {
		s.mu.Lock()
		events := s.events
		s.mu.Unlock()
		if events != nil {
			events.Recycled()
		}
	})
}

func (s *TinyGoStack) RegisterConnCallbacks(sink EventSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events != nil {
		return fmt.Errorf("ble: connection callbacks already registered")
	}
	s.events = sink
	return nil
}

func (s *TinyGoStack) RegisterAuthCallbacks(sink AuthSink) error {
	// Pairing and passkey entry are owned by the OS agent.
	slog.Debug("[BLE] pairing callbacks are handled by the host OS")
	return nil
}

func (s *TinyGoStack) RegisterLBS(cb LBSCallbacks) (ButtonNotifier, error) {
	svcUUID, err := bluetooth.ParseUUID(LBSServiceUUID.String())
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}
	buttonUUID, err := bluetooth.ParseUUID(LBSButtonCharUUID.String())
	if err != nil {
		return nil, fmt.Errorf("ble: parse button UUID: %w", err)
	}
	ledUUID, err := bluetooth.ParseUUID(LBSLEDCharUUID.String())
	if err != nil {
		return nil, fmt.Errorf("ble: parse LED UUID: %w", err)
	}

	initial := EncodeBool(false)
	if cb.ButtonRead != nil {
		initial = EncodeBool(cb.ButtonRead())
	}

	err = s.adapter.AddService(&bluetooth.Service{
		UUID: svcUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &s.buttonChar,
				UUID:   buttonUUID,
				Value:  initial,
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
			},
			{
				UUID:  ledUUID,
				Flags: bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					on, err := DecodeBool(value)
					if offset != 0 || err != nil {
						slog.Error("[LBS] rejected LED write", "offset", offset, "len", len(value))
						return
					}
					s.q.Post(func() {
						if cb.LEDWrite != nil {
							cb.LEDWrite(on)
						}
					})
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ble: add LED Button Service: %w", err)
	}
	return s, nil
}

// SendButtonState updates the Button State value and notifies subscribers.
func (s *TinyGoStack) SendButtonState(pressed bool) error {
	s.mu.Lock()
	connected := len(s.conns) > 0
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	if _, err := s.buttonChar.Write(EncodeBool(pressed)); err != nil {
		return fmt.Errorf("ble: notify button state: %w", err)
	}
	return nil
}

func (s *TinyGoStack) Advertise(params AdvParams, ad, sd []adv.Field) error {
	if s.adv == nil {
		return fmt.Errorf("ble: advertise before Enable")
	}
	if !params.Connectable {
		return fmt.Errorf("ble: non-connectable advertising: %w", ErrUnsupported)
	}
	if !params.UseIdentity {
		mac, err := bluetooth.ParseMAC(params.Address)
		if err != nil {
			return fmt.Errorf("ble: static random address %q: %w", params.Address, err)
		}
		if err := setRandomAddress(s.adapter, mac); err != nil {
			return fmt.Errorf("ble: set static random address: %w", err)
		}
	}

	opts := bluetooth.AdvertisementOptions{
		Interval: bluetooth.NewDuration(time.Duration(params.IntervalMin) * 625 * time.Microsecond),
	}

	// tinygo builds the payload itself; take the name and services from ours.
	fields := append(append([]adv.Field{}, ad...), sd...)
	if f, ok := adv.Find(fields, adv.TypeNameComplete); ok {
		opts.LocalName = string(f.Data)
	}
	if f, ok := adv.Find(fields, adv.TypeUUID128All); ok {
		ids, err := f.UUIDs128()
		if err != nil {
			return fmt.Errorf("ble: advertised services: %w", err)
		}
		for _, id := range ids {
			u, err := bluetooth.ParseUUID(id.String())
			if err != nil {
				return fmt.Errorf("ble: parse advertised UUID: %w", err)
			}
			opts.ServiceUUIDs = append(opts.ServiceUUIDs, u)
		}
	}

	if err := s.adv.Configure(opts); err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	if err := s.adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertisement: %w", err)
	}
	return nil
}

func (s *TinyGoStack) SetSecurity(c Conn, level SecurityLevel) error {
	return fmt.Errorf("ble: set security %s: %w", level, ErrUnsupported)
}

func (s *TinyGoStack) RequestPHYUpdate(c Conn, pref PHYParams) error {
	return fmt.Errorf("ble: PHY update: %w", ErrUnsupported)
}

func (s *TinyGoStack) RequestDataLengthUpdate(c Conn, params DataLengthParams) error {
	return fmt.Errorf("ble: data length update: %w", ErrUnsupported)
}

func (s *TinyGoStack) ExchangeMTU(c Conn, done func(c Conn, err error)) error {
	return fmt.Errorf("ble: MTU exchange: %w", ErrUnsupported)
}

// tinygoConn is recycled once it is disconnected and its last reference
// is released.
type tinygoConn struct {
	stack *TinyGoStack
	addr  string

	mu           sync.Mutex
	refs         int
	disconnected bool
	recycled     bool
}

func (c *tinygoConn) Ref() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs++
}

func (c *tinygoConn) Unref() {
	c.mu.Lock()
	if c.refs == 0 {
		c.mu.Unlock()
		slog.Error("[BLE] unref of released connection", "peer", c.addr)
		return
	}
	c.refs--
	recycle := c.checkRecycle()
	c.mu.Unlock()
	if recycle {
		c.stack.recycled()
	}
}

func (c *tinygoConn) markDisconnected() {
	c.mu.Lock()
	c.disconnected = true
	recycle := c.checkRecycle()
	c.mu.Unlock()
	if recycle {
		c.stack.recycled()
	}
}

// checkRecycle reports whether the object just became reusable (caller holds mu).
func (c *tinygoConn) checkRecycle() bool {
	if c.recycled || !c.disconnected || c.refs > 0 {
		return false
	}
	c.recycled = true
	return true
}

func (c *tinygoConn) Address() string { return c.addr }

func (c *tinygoConn) Info() (ConnParams, error) {
	return ConnParams{}, fmt.Errorf("ble: connection info: %w", ErrUnsupported)
}

func (c *tinygoConn) MTU() uint16 { return DefaultMTU }
