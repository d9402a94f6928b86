// Package bletest provides an in-memory ble.Stack for tests.
package bletest

import (
	"fmt"
	"sync"

	"github.com/chaz8081/lbs-peripheral/internal/ble"
	"github.com/chaz8081/lbs-peripheral/internal/ble/adv"
)

// Op names a Stack method.
type Op string

const (
	OpEnable         Op = "enable"
	OpRegisterConn   Op = "register-conn"
	OpRegisterAuth   Op = "register-auth"
	OpRegisterLBS    Op = "register-lbs"
	OpAdvertise      Op = "advertise"
	OpSetSecurity    Op = "set-security"
	OpPHYUpdate      Op = "phy-update"
	OpDataLength     Op = "data-length"
	OpExchangeMTU    Op = "exchange-mtu"
	OpSendButton     Op = "send-button"
	OpConnectionInfo Op = "conn-info"
)

// Advert is one recorded Advertise call.
type Advert struct {
	Params ble.AdvParams
	AD, SD []adv.Field
}

// Stack records every request and lets the test drive the callbacks.
// Callbacks are delivered synchronously on the goroutine of the test helper
// that triggers them.
type Stack struct {
	mu sync.Mutex

	fail   map[Op]error
	calls  []Op
	events ble.EventSink
	auth   ble.AuthSink
	lbs    *ble.LBSCallbacks

	conns   []*Conn
	adverts []Advert

	security   []ble.SecurityLevel
	phy        []ble.PHYParams
	dataLength []ble.DataLengthParams
	mtuDone    map[*Conn]func(ble.Conn, error)

	unsubscribed  bool
	notifications []bool
}

var (
	_ ble.Stack          = (*Stack)(nil)
	_ ble.ButtonNotifier = (*Stack)(nil)
	_ ble.Conn           = (*Conn)(nil)
)

// New returns a Stack with no injected failures. A connected peer is
// subscribed to notifications until Unsubscribe is called.
func New() *Stack {
	return &Stack{
		fail:    make(map[Op]error),
		mtuDone: make(map[*Conn]func(ble.Conn, error)),
	}
}

// Fail makes every later call of op return err. A nil err clears it.
func (s *Stack) Fail(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// record notes the call and returns the injected error for op.
func (s *Stack) record(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op)
	return s.fail[op]
}

// Calls returns the stack methods called so far, in order.
func (s *Stack) Calls() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Op(nil), s.calls...)
}

// Count returns how many times op was called.
func (s *Stack) Count(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (s *Stack) Enable() error { return s.record(OpEnable) }

func (s *Stack) RegisterConnCallbacks(sink ble.EventSink) error {
	if err := s.record(OpRegisterConn); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = sink
	return nil
}

func (s *Stack) RegisterAuthCallbacks(sink ble.AuthSink) error {
	if err := s.record(OpRegisterAuth); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = sink
	return nil
}

func (s *Stack) RegisterLBS(cb ble.LBSCallbacks) (ble.ButtonNotifier, error) {
	if err := s.record(OpRegisterLBS); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lbs = &cb
	return s, nil
}

func (s *Stack) Advertise(params ble.AdvParams, ad, sd []adv.Field) error {
	if err := s.record(OpAdvertise); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adverts = append(s.adverts, Advert{Params: params, AD: ad, SD: sd})
	return nil
}

// Adverts returns the successful Advertise calls.
func (s *Stack) Adverts() []Advert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Advert(nil), s.adverts...)
}

func (s *Stack) SetSecurity(c ble.Conn, level ble.SecurityLevel) error {
	if err := s.record(OpSetSecurity); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.security = append(s.security, level)
	return nil
}

// SecurityRequests returns the levels passed to SetSecurity.
func (s *Stack) SecurityRequests() []ble.SecurityLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ble.SecurityLevel(nil), s.security...)
}

func (s *Stack) RequestPHYUpdate(c ble.Conn, pref ble.PHYParams) error {
	if err := s.record(OpPHYUpdate); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phy = append(s.phy, pref)
	return nil
}

// PHYRequests returns the preferences passed to RequestPHYUpdate.
func (s *Stack) PHYRequests() []ble.PHYParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ble.PHYParams(nil), s.phy...)
}

func (s *Stack) RequestDataLengthUpdate(c ble.Conn, params ble.DataLengthParams) error {
	if err := s.record(OpDataLength); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataLength = append(s.dataLength, params)
	return nil
}

// DataLengthRequests returns the parameters passed to RequestDataLengthUpdate.
func (s *Stack) DataLengthRequests() []ble.DataLengthParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ble.DataLengthParams(nil), s.dataLength...)
}

func (s *Stack) ExchangeMTU(c ble.Conn, done func(ble.Conn, error)) error {
	if err := s.record(OpExchangeMTU); err != nil {
		return err
	}
	fc, ok := c.(*Conn)
	if !ok {
		return fmt.Errorf("bletest: foreign connection %T", c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mtuDone[fc] = done
	return nil
}

// SendButtonState records the notification.
func (s *Stack) SendButtonState(pressed bool) error {
	if err := s.record(OpSendButton); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connectedLocked() {
		return ble.ErrNotConnected
	}
	if s.unsubscribed {
		return ble.ErrNotSubscribed
	}
	s.notifications = append(s.notifications, pressed)
	return nil
}

// Notifications returns the delivered Button State notifications.
func (s *Stack) Notifications() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.notifications...)
}

// Unsubscribe makes the peer stop accepting notifications.
func (s *Stack) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
}

func (s *Stack) connectedLocked() bool {
	for _, c := range s.conns {
		c.mu.Lock()
		live := !c.disconnected
		c.mu.Unlock()
		if live {
			return true
		}
	}
	return false
}

func (s *Stack) sink() ble.EventSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Connect simulates an incoming connection from addr.
func (s *Stack) Connect(addr string) *Conn {
	c := &Conn{
		stack:     s,
		addr:      addr,
		stackHeld: true,
		mtu:       ble.DefaultMTU,
		params:    ble.ConnParams{Interval: 24, Latency: 0, Timeout: 400},
	}
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	if sink := s.sink(); sink != nil {
		sink.Connected(c, nil)
	}
	return c
}

// ConnectFailed simulates a failed connection attempt.
func (s *Stack) ConnectFailed(reason ble.HCIError) {
	if sink := s.sink(); sink != nil {
		sink.Connected(&Conn{stack: s, addr: "00:00:00:00:00:00"}, reason)
	}
}

// Disconnect simulates the link going down. The stack keeps its own
// reference until Recycle, so Recycled never fires from here.
func (s *Stack) Disconnect(c *Conn, reason ble.HCIError) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()

	if sink := s.sink(); sink != nil {
		sink.Disconnected(c, reason)
	}
}

// Recycle drops the stack's own reference to a disconnected connection.
// Recycled fires once no application reference remains.
func (s *Stack) Recycle(c *Conn) {
	c.mu.Lock()
	c.stackHeld = false
	c.mu.Unlock()
	c.maybeRecycle()
}

// CompleteMTU finishes the pending MTU exchange for c. On success the
// connection MTU becomes mtu.
func (s *Stack) CompleteMTU(c *Conn, mtu uint16, err error) {
	s.mu.Lock()
	done := s.mtuDone[c]
	delete(s.mtuDone, c)
	s.mu.Unlock()
	if done == nil {
		return
	}
	if err == nil {
		c.mu.Lock()
		c.mtu = mtu
		c.mu.Unlock()
	}
	done(c, err)
}

// UpdatePHY simulates a PHY update event.
func (s *Stack) UpdatePHY(c *Conn, info ble.PHYInfo) {
	if sink := s.sink(); sink != nil {
		sink.PHYUpdated(c, info)
	}
}

// UpdateDataLength simulates a data length update event.
func (s *Stack) UpdateDataLength(c *Conn, info ble.DataLengthInfo) {
	if sink := s.sink(); sink != nil {
		sink.DataLengthUpdated(c, info)
	}
}

// UpdateParams simulates a connection parameter update.
func (s *Stack) UpdateParams(c *Conn, params ble.ConnParams) {
	c.mu.Lock()
	c.params = params
	c.mu.Unlock()
	if sink := s.sink(); sink != nil {
		sink.ParamUpdated(c, params)
	}
}

// ChangeSecurity simulates a security change event.
func (s *Stack) ChangeSecurity(c *Conn, level ble.SecurityLevel, err error) {
	if sink := s.sink(); sink != nil {
		sink.SecurityChanged(c, level, err)
	}
}

// DisplayPasskey simulates the stack asking to display a passkey.
func (s *Stack) DisplayPasskey(c *Conn, passkey uint32) {
	s.mu.Lock()
	auth := s.auth
	s.mu.Unlock()
	if auth != nil {
		auth.PasskeyDisplay(c, passkey)
	}
}

// WriteLED simulates a peer write to the LED characteristic. Invalid
// payloads are rejected before reaching the application.
func (s *Stack) WriteLED(payload []byte) error {
	s.mu.Lock()
	lbs := s.lbs
	s.mu.Unlock()
	if lbs == nil {
		return fmt.Errorf("bletest: LBS not registered")
	}
	on, err := ble.DecodeBool(payload)
	if err != nil {
		return err
	}
	if lbs.LEDWrite != nil {
		lbs.LEDWrite(on)
	}
	return nil
}

// ReadButton simulates a peer read of the Button State characteristic.
func (s *Stack) ReadButton() ([]byte, error) {
	s.mu.Lock()
	lbs := s.lbs
	s.mu.Unlock()
	if lbs == nil {
		return nil, fmt.Errorf("bletest: LBS not registered")
	}
	if lbs.ButtonRead == nil {
		return ble.EncodeBool(false), nil
	}
	return ble.EncodeBool(lbs.ButtonRead()), nil
}

// Conn is a reference-counted fake connection. Refs counts application
// references only; the stack's own reference is held until Recycle.
type Conn struct {
	stack *Stack
	addr  string

	mu           sync.Mutex
	refs         int
	unrefs       int
	stackHeld    bool
	disconnected bool
	recycled     bool
	mtu          uint16
	params       ble.ConnParams
}

func (c *Conn) Ref() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs++
}

// Unref releases a reference. Releasing more than were taken panics.
func (c *Conn) Unref() {
	c.mu.Lock()
	if c.refs == 0 {
		c.mu.Unlock()
		panic("bletest: unref without reference on " + c.addr)
	}
	c.refs--
	c.unrefs++
	c.mu.Unlock()
	c.maybeRecycle()
}

func (c *Conn) maybeRecycle() {
	c.mu.Lock()
	if c.recycled || !c.disconnected || c.stackHeld || c.refs > 0 {
		c.mu.Unlock()
		return
	}
	c.recycled = true
	c.mu.Unlock()

	if sink := c.stack.sink(); sink != nil {
		sink.Recycled()
	}
}

func (c *Conn) Address() string { return c.addr }

func (c *Conn) Info() (ble.ConnParams, error) {
	if err := c.stack.record(OpConnectionInfo); err != nil {
		return ble.ConnParams{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params, nil
}

func (c *Conn) MTU() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mtu
}

// Refs returns the number of references currently held.
func (c *Conn) Refs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}

// Unrefs returns how many times Unref was called.
func (c *Conn) Unrefs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unrefs
}

// Recycled reports whether the connection object was recycled.
func (c *Conn) Recycled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recycled
}
