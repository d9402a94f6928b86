// Package ble implements the connectivity core of an LED Button Service
// peripheral: advertising control, the single-connection lifecycle, and
// negotiation of security, ATT MTU, PHY and data length on top of a host
// stack reached through the Stack interface.
package ble

import (
	"errors"
	"fmt"
	"time"

	"github.com/chaz8081/lbs-peripheral/internal/ble/adv"
)

var (
	// ErrNotConnected is returned when an operation needs a connection and none exists.
	ErrNotConnected = errors.New("ble: not connected")
	// ErrNotSubscribed is returned when the peer has not enabled notifications.
	ErrNotSubscribed = errors.New("ble: notifications not enabled by peer")
	// ErrAborted marks a negotiation that was pending when the link dropped.
	ErrAborted = errors.New("ble: procedure aborted by disconnect")
	// ErrUnsupported is returned by stacks that cannot perform a procedure.
	ErrUnsupported = errors.New("ble: not supported by host stack")
)

// HCIError is an HCI status or disconnect reason code. Zero is success and
// is never used as an error value.
type HCIError uint8

const (
	HCIUnknownConnID         HCIError = 0x02
	HCIAuthenticationFailure HCIError = 0x05
	HCIConnectionTimeout     HCIError = 0x08
	HCIInsufficientResources HCIError = 0x0d
	HCIRemoteUserTerminated  HCIError = 0x13
	HCIRemoteLowResources    HCIError = 0x14
	HCIRemotePowerOff        HCIError = 0x15
	HCILocalHostTerminated   HCIError = 0x16
	HCIUnspecified           HCIError = 0x1f
	HCILLResponseTimeout     HCIError = 0x22
	HCIUnacceptableParams    HCIError = 0x3b
	HCIAdvertisingTimeout    HCIError = 0x3c
	HCIMICFailure            HCIError = 0x3d
	HCIConnFailedToEstablish HCIError = 0x3e
)

var hciNames = map[HCIError]string{
	HCIUnknownConnID:         "unknown connection identifier",
	HCIAuthenticationFailure: "authentication failure",
	HCIConnectionTimeout:     "connection timeout",
	HCIInsufficientResources: "insufficient resources",
	HCIRemoteUserTerminated:  "remote user terminated connection",
	HCIRemoteLowResources:    "remote device terminated connection due to low resources",
	HCIRemotePowerOff:        "remote device terminated connection due to power off",
	HCILocalHostTerminated:   "connection terminated by local host",
	HCIUnspecified:           "unspecified error",
	HCILLResponseTimeout:     "LL response timeout",
	HCIUnacceptableParams:    "unacceptable connection parameters",
	HCIAdvertisingTimeout:    "advertising timeout",
	HCIMICFailure:            "connection terminated due to MIC failure",
	HCIConnFailedToEstablish: "connection failed to be established",
}

func (e HCIError) Error() string {
	if name, ok := hciNames[e]; ok {
		return fmt.Sprintf("hci 0x%02x: %s", uint8(e), name)
	}
	return fmt.Sprintf("hci 0x%02x", uint8(e))
}

// ATTError is an ATT protocol error code.
type ATTError uint8

const (
	ATTUnlikely            ATTError = 0x0e
	ATTInsufficientAuthn   ATTError = 0x05
	ATTRequestNotSupported ATTError = 0x06
	ATTInsufficientEncrypt ATTError = 0x0f
)

func (e ATTError) Error() string {
	return fmt.Sprintf("att 0x%02x", uint8(e))
}

// SecurityLevel mirrors the LE security mode 1 levels.
type SecurityLevel uint8

const (
	SecurityNone              SecurityLevel = 1 // no encryption
	SecurityEncrypted         SecurityLevel = 2 // unauthenticated pairing with encryption
	SecurityAuthenticated     SecurityLevel = 3 // authenticated pairing with encryption
	SecuritySecureConnections SecurityLevel = 4 // authenticated LE Secure Connections
)

func (l SecurityLevel) String() string {
	switch l {
	case SecurityNone:
		return "L1"
	case SecurityEncrypted:
		return "L2"
	case SecurityAuthenticated:
		return "L3"
	case SecuritySecureConnections:
		return "L4"
	}
	return fmt.Sprintf("L%d", uint8(l))
}

// PHY is an LE physical layer; values are usable as preference bitmasks.
type PHY uint8

const (
	PHY1M    PHY = 0x01
	PHY2M    PHY = 0x02
	PHYCoded PHY = 0x04
)

func (p PHY) String() string {
	switch p {
	case PHY1M:
		return "1M"
	case PHY2M:
		return "2M"
	case PHYCoded:
		return "Long Range"
	}
	return fmt.Sprintf("phy(0x%02x)", uint8(p))
}

// PHYParams are the preferred PHYs for an update request.
type PHYParams struct {
	Tx PHY
	Rx PHY
}

// PHYInfo is the PHY in use after an update.
type PHYInfo struct {
	Tx PHY
	Rx PHY
}

// ATT and link layer limits.
const (
	DefaultMTU      = 23 // ATT_MTU before any exchange
	ATTHeaderLen    = 3  // opcode + handle of a notification
	DataLenDefault  = 27
	DataLenMax      = 251
	DataTimeDefault = 328   // µs
	DataTimeMax     = 17040 // µs, coded PHY
)

// DataLengthParams are the preferred link layer TX limits.
type DataLengthParams struct {
	TxMaxLen  uint16
	TxMaxTime uint16
}

// DataLengthInfo are the link layer limits in use after an update.
type DataLengthInfo struct {
	TxMaxLen  uint16
	TxMaxTime uint16
	RxMaxLen  uint16
	RxMaxTime uint16
}

// ConnParams are LE connection parameters in controller units.
type ConnParams struct {
	Interval uint16 // 1.25 ms units
	Latency  uint16 // connection events
	Timeout  uint16 // 10 ms units
}

// IntervalMillis returns the connection interval in milliseconds.
func (p ConnParams) IntervalMillis() float64 { return float64(p.Interval) * 1.25 }

// TimeoutMillis returns the supervision timeout in milliseconds.
func (p ConnParams) TimeoutMillis() int { return int(p.Timeout) * 10 }

// Fast advertising interval windows, in 0.625 ms units.
const (
	AdvFastIntervalMin1 uint16 = 0x30 // 30 ms
	AdvFastIntervalMax1 uint16 = 0x60 // 60 ms
	AdvFastIntervalMin2 uint16 = 0xa0 // 100 ms
	AdvFastIntervalMax2 uint16 = 0xf0 // 150 ms
)

// AdvInterval converts a duration to 0.625 ms advertising interval units.
func AdvInterval(d time.Duration) uint16 {
	return uint16(d / (625 * time.Microsecond))
}

// AdvParams configure an advertising set.
type AdvParams struct {
	Connectable bool
	UseIdentity bool   // advertise with the identity address
	Address     string // static random address, used when UseIdentity is false
	IntervalMin uint16 // 0.625 ms units
	IntervalMax uint16
}

// Conn is a host stack connection object. The stack keeps it alive while a
// reference is held; Ref and Unref must be paired. Implementations must be
// comparable, since the core identifies connections with ==.
type Conn interface {
	Ref()
	Unref()
	// Address returns the peer address.
	Address() string
	// Info returns the current connection parameters.
	Info() (ConnParams, error)
	// MTU returns the current ATT MTU.
	MTU() uint16
}

// EventSink receives connection callbacks. The stack delivers all of them,
// together with GATT callbacks, on a single execution context.
type EventSink interface {
	// Connected reports a new connection; err is an HCIError on failure.
	Connected(c Conn, err error)
	Disconnected(c Conn, reason HCIError)
	// Recycled reports that a disconnected connection object can be reused.
	Recycled()
	SecurityChanged(c Conn, level SecurityLevel, err error)
	ParamUpdated(c Conn, params ConnParams)
	PHYUpdated(c Conn, info PHYInfo)
	DataLengthUpdated(c Conn, info DataLengthInfo)
}

// AuthSink receives pairing callbacks.
type AuthSink interface {
	PasskeyDisplay(c Conn, passkey uint32)
	PairingCancelled(c Conn)
}

// Stack is the host stack contract consumed by the core. Request methods
// return immediately; completion arrives through EventSink or the supplied
// callback.
type Stack interface {
	// Enable brings up the host stack.
	Enable() error
	RegisterConnCallbacks(sink EventSink) error
	RegisterAuthCallbacks(sink AuthSink) error
	// RegisterLBS adds the LED Button Service to the GATT database.
	RegisterLBS(cb LBSCallbacks) (ButtonNotifier, error)
	// Advertise starts advertising; the stack stops it on incoming connection.
	Advertise(params AdvParams, ad, sd []adv.Field) error
	SetSecurity(c Conn, level SecurityLevel) error
	RequestPHYUpdate(c Conn, pref PHYParams) error
	RequestDataLengthUpdate(c Conn, params DataLengthParams) error
	// ExchangeMTU starts an ATT MTU exchange; done receives nil or an ATTError.
	ExchangeMTU(c Conn, done func(c Conn, err error)) error
}
