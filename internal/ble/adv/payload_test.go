package adv

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestEncodeAdvertisingPayload(t *testing.T) {
	got, err := Encode([]Field{
		Flags(FlagGeneralDiscoverable | FlagNoBREDR),
		CompleteName("Nordic_LBS"),
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := append([]byte{0x02, 0x01, 0x06, 0x0b, 0x09}, "Nordic_LBS"...)
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = % x, want % x", got, want)
	}
}

func TestUUID128AllIsLittleEndian(t *testing.T) {
	id := uuid.MustParse("00001523-1212-efde-1523-785feabcd123")
	f := UUID128All(id)

	want := []byte{
		0x23, 0xd1, 0xbc, 0xea, 0x5f, 0x78, 0x23, 0x15,
		0xde, 0xef, 0x12, 0x12, 0x23, 0x15, 0x00, 0x00,
	}
	if f.Type != TypeUUID128All {
		t.Errorf("Type = 0x%02x, want 0x07", uint8(f.Type))
	}
	if !bytes.Equal(f.Data, want) {
		t.Errorf("Data = % x, want % x", f.Data, want)
	}

	ids, err := f.UUIDs128()
	if err != nil {
		t.Fatalf("UUIDs128() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("UUIDs128() = %v, want [%v]", ids, id)
	}
}

func TestEncodeTooLong(t *testing.T) {
	_, err := Encode([]Field{
		Flags(FlagGeneralDiscoverable | FlagNoBREDR),
		CompleteName(strings.Repeat("x", 27)), // 3 + 29 = 32 bytes
	})
	if !errors.Is(err, ErrTooLong) {
		t.Errorf("Encode() error = %v, want ErrTooLong", err)
	}
}

func TestEncodeFitsExactly(t *testing.T) {
	got, err := Encode([]Field{
		Flags(FlagGeneralDiscoverable | FlagNoBREDR),
		CompleteName(strings.Repeat("x", 26)),
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(got) != MaxPayloadLen {
		t.Errorf("len = %d, want %d", len(got), MaxPayloadLen)
	}
}

func TestDecode(t *testing.T) {
	data := []byte{0x02, 0x01, 0x06, 0x04, 0x09, 'L', 'B', 'S', 0x00, 0x00}
	fields, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(fields))
	}

	name, ok := Find(fields, TypeNameComplete)
	if !ok {
		t.Fatal("Find(TypeNameComplete) not found")
	}
	if string(name.Data) != "LBS" {
		t.Errorf("name = %q, want %q", name.Data, "LBS")
	}
	if _, ok := Find(fields, TypeManufacturer); ok {
		t.Error("Find(TypeManufacturer) should not be found")
	}
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{0x05, 0x09, 'a'})
	if err == nil {
		t.Error("Decode() should fail for truncated field")
	}
}

func TestUUIDs128WrongType(t *testing.T) {
	if _, err := CompleteName("x").UUIDs128(); err == nil {
		t.Error("UUIDs128() should fail for a name field")
	}
}
