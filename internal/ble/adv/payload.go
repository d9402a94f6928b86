// Package adv encodes and decodes BLE advertising and scan response payloads
// (AD structures: length, type, data).
package adv

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MaxPayloadLen is the maximum legacy advertising or scan response length.
const MaxPayloadLen = 31

// Type is an AD structure type.
type Type uint8

const (
	TypeFlags         Type = 0x01 // Flags
	TypeUUID16Some    Type = 0x02 // Incomplete List of 16-bit Service UUIDs
	TypeUUID16All     Type = 0x03 // Complete List of 16-bit Service UUIDs
	TypeUUID128Some   Type = 0x06 // Incomplete List of 128-bit Service UUIDs
	TypeUUID128All    Type = 0x07 // Complete List of 128-bit Service UUIDs
	TypeNameShortened Type = 0x08 // Shortened Local Name
	TypeNameComplete  Type = 0x09 // Complete Local Name
	TypeTxPower       Type = 0x0A // Tx Power Level
	TypeManufacturer  Type = 0xFF // Manufacturer Specific Data
)

// Advertising flags.
const (
	FlagLimitedDiscoverable byte = 0x01
	FlagGeneralDiscoverable byte = 0x02
	FlagNoBREDR             byte = 0x04 // BR/EDR Not Supported
)

// ErrTooLong is returned when fields do not fit in MaxPayloadLen bytes.
var ErrTooLong = errors.New("adv: payload exceeds 31 bytes")

// Field is a single AD structure.
type Field struct {
	Type Type
	Data []byte
}

// Flags returns a Flags field.
func Flags(flags byte) Field {
	return Field{Type: TypeFlags, Data: []byte{flags}}
}

// CompleteName returns a Complete Local Name field.
func CompleteName(name string) Field {
	return Field{Type: TypeNameComplete, Data: []byte(name)}
}

// UUID128All returns a Complete List of 128-bit Service UUIDs field.
// UUIDs are written little-endian, as they appear on air.
func UUID128All(ids ...uuid.UUID) Field {
	data := make([]byte, 0, 16*len(ids))
	for _, id := range ids {
		for i := 15; i >= 0; i-- {
			data = append(data, id[i])
		}
	}
	return Field{Type: TypeUUID128All, Data: data}
}

// UUIDs128 decodes the UUIDs carried by a 128-bit service UUID list field.
func (f Field) UUIDs128() ([]uuid.UUID, error) {
	if f.Type != TypeUUID128All && f.Type != TypeUUID128Some {
		return nil, fmt.Errorf("adv: field type 0x%02x is not a 128-bit UUID list", uint8(f.Type))
	}
	if len(f.Data)%16 != 0 {
		return nil, fmt.Errorf("adv: 128-bit UUID list length %d is not a multiple of 16", len(f.Data))
	}
	ids := make([]uuid.UUID, 0, len(f.Data)/16)
	for off := 0; off < len(f.Data); off += 16 {
		var id uuid.UUID
		for i := 0; i < 16; i++ {
			id[i] = f.Data[off+15-i]
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Encode serializes fields into a single payload.
func Encode(fields []Field) ([]byte, error) {
	var buf []byte
	for _, f := range fields {
		// length covers the type byte plus data
		if len(f.Data)+1 > 0xff {
			return nil, fmt.Errorf("adv: field 0x%02x data too long (%d bytes)", uint8(f.Type), len(f.Data))
		}
		buf = append(buf, byte(len(f.Data)+1), byte(f.Type))
		buf = append(buf, f.Data...)
	}
	if len(buf) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLong, len(buf))
	}
	return buf, nil
}

// Decode parses a payload into its fields. A zero length byte terminates
// the payload (the remainder is padding).
func Decode(data []byte) ([]Field, error) {
	var fields []Field
	for len(data) > 0 {
		length := int(data[0])
		if length == 0 {
			break
		}
		if len(data) < 1+length {
			return nil, fmt.Errorf("adv: field length %d exceeds remaining %d bytes", length, len(data)-1)
		}
		f := Field{Type: Type(data[1])}
		f.Data = make([]byte, length-1)
		copy(f.Data, data[2:1+length])
		fields = append(fields, f)
		data = data[1+length:]
	}
	return fields, nil
}

// Find returns the first field of type t.
func Find(fields []Field, t Type) (Field, bool) {
	for _, f := range fields {
		if f.Type == t {
			return f, true
		}
	}
	return Field{}, false
}
