package ble

import (
	"fmt"
	"log/slog"
	"sync"
)

// Outcome is the state of one negotiation procedure.
type Outcome int

const (
	OutcomeNone Outcome = iota // not requested
	OutcomePending
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result is the outcome of a negotiation procedure. Err is set when Failed.
type Result struct {
	Outcome Outcome
	Err     error
}

// Connection is a snapshot of the link state owned by the Negotiator.
type Connection struct {
	Address  string
	Active   bool
	Security SecurityLevel
	Params   ConnParams

	MTU        uint16
	PHY        PHYInfo
	DataLength DataLengthInfo

	MTUResult        Result
	PHYResult        Result
	DataLengthResult Result
}

// PayloadMTU is the largest notification payload at the current ATT MTU.
func (c Connection) PayloadMTU() int {
	return int(c.MTU) - ATTHeaderLen
}

type procedure int

const (
	procMTU procedure = iota
	procPHY
	procDataLength
)

func (c *Connection) result(p procedure) *Result {
	switch p {
	case procMTU:
		return &c.MTUResult
	case procPHY:
		return &c.PHYResult
	default:
		return &c.DataLengthResult
	}
}

// Preferences are the link parameters requested on every new connection.
type Preferences struct {
	Security   SecurityLevel // requested when above SecurityNone
	PHY        PHYParams
	DataLength DataLengthParams
}

// DefaultPreferences asks for 2M PHY and the maximum data length, without
// raising security.
func DefaultPreferences() Preferences {
	return Preferences{
		Security:   SecurityNone,
		PHY:        PHYParams{Tx: PHY2M, Rx: PHY2M},
		DataLength: DataLengthParams{TxMaxLen: DataLenMax, TxMaxTime: DataTimeMax},
	}
}

// Lifecycle hooks are called on the stack's callback context. Any may be nil.
type Lifecycle struct {
	Connected    func(c Conn)
	Disconnected func(c Conn, reason HCIError)
	Recycled     func()
}

// Negotiator owns the single live connection: it takes the reference on
// connect, issues the MTU, PHY and data length requests, records their
// outcomes, and releases the reference on disconnect.
type Negotiator struct {
	stack Stack
	prefs Preferences
	hooks Lifecycle

	// mu guards held and cur for readers outside the callback context.
	// It is never held across stack or hook calls.
	mu   sync.Mutex
	held Conn
	cur  *Connection
}

var (
	_ EventSink = (*Negotiator)(nil)
	_ AuthSink  = (*Negotiator)(nil)
)

// NewNegotiator creates a Negotiator. Register it with the stack via
// RegisterConnCallbacks (and RegisterAuthCallbacks for pairing).
func NewNegotiator(stack Stack, prefs Preferences, hooks Lifecycle) *Negotiator {
	return &Negotiator{stack: stack, prefs: prefs, hooks: hooks}
}

// Snapshot returns the current connection, or the last one after it
// disconnected. ok is false before the first connection.
func (n *Negotiator) Snapshot() (conn Connection, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cur == nil {
		return Connection{}, false
	}
	return *n.cur, true
}

// Held reports whether a connection reference is currently held.
func (n *Negotiator) Held() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.held != nil
}

func (n *Negotiator) Connected(c Conn, err error) {
	if err != nil {
		slog.Error("[BLE] connection failed", "err", err)
		return
	}

	n.mu.Lock()
	if n.held != nil {
		held := n.held
		n.mu.Unlock()
		// Single peripheral role: never replace the held reference.
		slog.Error("[BLE] connection while another is held, ignoring",
			"held", held.Address(), "peer", c.Address())
		return
	}
	c.Ref()
	n.held = c
	n.cur = &Connection{
		Address:  c.Address(),
		Active:   true,
		Security: SecurityNone,
		MTU:      DefaultMTU,
		PHY:      PHYInfo{Tx: PHY1M, Rx: PHY1M},
		DataLength: DataLengthInfo{
			TxMaxLen: DataLenDefault, TxMaxTime: DataTimeDefault,
			RxMaxLen: DataLenDefault, RxMaxTime: DataTimeDefault,
		},
		MTUResult:        Result{Outcome: OutcomePending},
		PHYResult:        Result{Outcome: OutcomePending},
		DataLengthResult: Result{Outcome: OutcomePending},
	}
	n.mu.Unlock()

	slog.Info("[BLE] connected", "peer", c.Address())
	if n.hooks.Connected != nil {
		n.hooks.Connected(c)
	}

	if params, err := c.Info(); err != nil {
		slog.Error("[BLE] reading connection info failed", "err", err)
	} else {
		n.update(c, func(cur *Connection) { cur.Params = params })
		slog.Info("[BLE] connection parameters",
			"interval_ms", params.IntervalMillis(),
			"latency", params.Latency,
			"timeout_ms", params.TimeoutMillis())
	}

	if n.prefs.Security > SecurityNone {
		if err := n.stack.SetSecurity(c, n.prefs.Security); err != nil {
			slog.Error("[BLE] security request failed", "level", n.prefs.Security, "err", err)
		}
	}

	if err := n.stack.RequestPHYUpdate(c, n.prefs.PHY); err != nil {
		slog.Error("[BLE] PHY update request failed", "err", err)
		n.settle(c, procPHY, err)
	}
	if err := n.stack.RequestDataLengthUpdate(c, n.prefs.DataLength); err != nil {
		slog.Error("[BLE] data length update request failed", "err", err)
		n.settle(c, procDataLength, err)
	}
	if err := n.stack.ExchangeMTU(c, n.mtuExchanged); err != nil {
		slog.Error("[BLE] MTU exchange request failed", "err", err)
		n.settle(c, procMTU, err)
	}
}

// update applies fn to the current connection if c is the held one.
func (n *Negotiator) update(c Conn, fn func(cur *Connection)) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.held == nil || c != n.held {
		return false
	}
	fn(n.cur)
	return true
}

// settle moves a pending procedure to Succeeded (err nil) or Failed.
func (n *Negotiator) settle(c Conn, p procedure, err error) {
	n.update(c, func(cur *Connection) {
		r := cur.result(p)
		if r.Outcome != OutcomePending {
			return
		}
		if err != nil {
			*r = Result{Outcome: OutcomeFailed, Err: err}
			return
		}
		*r = Result{Outcome: OutcomeSucceeded}
	})
}

func (n *Negotiator) mtuExchanged(c Conn, err error) {
	if err != nil {
		slog.Warn("[BLE] MTU exchange failed", "err", err)
		n.settle(c, procMTU, err)
		return
	}

	var mtu uint16
	var payload int
	ok := n.update(c, func(cur *Connection) {
		mtu = c.MTU()
		if mtu > cur.MTU {
			cur.MTU = mtu
		}
		payload = cur.PayloadMTU()
	})
	if !ok {
		slog.Debug("[BLE] MTU exchange completed for a released connection")
		return
	}
	n.settle(c, procMTU, nil)
	slog.Info("[BLE] MTU exchange successful", "mtu", mtu, "payload_mtu", payload)
}

func (n *Negotiator) Disconnected(c Conn, reason HCIError) {
	n.mu.Lock()
	if n.held == nil || c != n.held {
		n.mu.Unlock()
		slog.Warn("[BLE] disconnect for a connection that is not held", "peer", c.Address(), "reason", reason)
		return
	}
	held := n.held
	n.held = nil
	n.cur.Active = false
	for _, p := range []procedure{procMTU, procPHY, procDataLength} {
		if r := n.cur.result(p); r.Outcome == OutcomePending {
			*r = Result{Outcome: OutcomeFailed, Err: ErrAborted}
		}
	}
	n.mu.Unlock()

	slog.Info("[BLE] disconnected", "peer", held.Address(), "reason", reason)
	if n.hooks.Disconnected != nil {
		n.hooks.Disconnected(held, reason)
	}
	held.Unref()
}

// Recycled forwards to the lifecycle hook only while no connection is held;
// a recycled intruder must not restart advertising under a live link.
func (n *Negotiator) Recycled() {
	n.mu.Lock()
	held := n.held
	n.mu.Unlock()
	if held != nil {
		slog.Info("[BLE] connection object recycled while another is held", "held", held.Address())
		return
	}
	slog.Info("[BLE] connection object recycled")
	if n.hooks.Recycled != nil {
		n.hooks.Recycled()
	}
}

func (n *Negotiator) SecurityChanged(c Conn, level SecurityLevel, err error) {
	if err != nil {
		slog.Warn("[BLE] security failed", "peer", c.Address(), "level", level, "err", err)
		return
	}
	if !n.update(c, func(cur *Connection) { cur.Security = level }) {
		return
	}
	slog.Info("[BLE] security changed", "peer", c.Address(), "level", level)
}

func (n *Negotiator) ParamUpdated(c Conn, params ConnParams) {
	if !n.update(c, func(cur *Connection) { cur.Params = params }) {
		return
	}
	slog.Info("[BLE] connection parameters updated",
		"interval_ms", params.IntervalMillis(),
		"latency", params.Latency,
		"timeout_ms", params.TimeoutMillis())
}

func (n *Negotiator) PHYUpdated(c Conn, info PHYInfo) {
	if !n.update(c, func(cur *Connection) { cur.PHY = info }) {
		return
	}
	n.settle(c, procPHY, nil)
	slog.Info("[BLE] PHY updated", "tx", info.Tx, "rx", info.Rx)
}

func (n *Negotiator) DataLengthUpdated(c Conn, info DataLengthInfo) {
	if !n.update(c, func(cur *Connection) { cur.DataLength = info }) {
		return
	}
	n.settle(c, procDataLength, nil)
	slog.Info("[BLE] data length updated",
		"tx_len", info.TxMaxLen, "rx_len", info.RxMaxLen,
		"tx_time_us", info.TxMaxTime, "rx_time_us", info.RxMaxTime)
}

func (n *Negotiator) PasskeyDisplay(c Conn, passkey uint32) {
	slog.Info("[BLE] passkey", "peer", c.Address(), "passkey", fmt.Sprintf("%06d", passkey))
}

func (n *Negotiator) PairingCancelled(c Conn) {
	slog.Info("[BLE] pairing cancelled", "peer", c.Address())
}
