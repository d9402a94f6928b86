package led

import (
	"errors"
	"testing"
)

func TestLogBank(t *testing.T) {
	b := NewLogBank()
	if err := b.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if err := b.Set(User, true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !b.State(User) {
		t.Error("State(User) = false after Set(true)")
	}
	if b.State(ConnStatus) {
		t.Error("State(ConnStatus) = true, want false")
	}

	if err := b.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if b.State(User) {
		t.Error("State(User) = true after Init")
	}
}

func newTestKeyboardBank(keys map[ID]string) (*KeyboardBank, *[]string) {
	var taps []string
	b := NewKeyboardBank(keys)
	b.tap = func(key string) error {
		taps = append(taps, key)
		return nil
	}
	return b, &taps
}

func TestKeyboardBankTapsOnChange(t *testing.T) {
	b, taps := newTestKeyboardBank(map[ID]string{User: "capslock"})
	if err := b.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	steps := []bool{true, true, false, false, true}
	for _, on := range steps {
		if err := b.Set(User, on); err != nil {
			t.Fatalf("Set(User, %v) error = %v", on, err)
		}
	}

	want := []string{"capslock", "capslock", "capslock"}
	if len(*taps) != len(want) {
		t.Errorf("taps = %v, want %v", *taps, want)
	}
}

func TestKeyboardBankUnmappedLED(t *testing.T) {
	b, taps := newTestKeyboardBank(map[ID]string{User: "capslock", ConnStatus: ""})

	if err := b.Set(RunStatus, true); err != nil {
		t.Fatalf("Set(RunStatus) error = %v", err)
	}
	if err := b.Set(ConnStatus, true); err != nil {
		t.Fatalf("Set(ConnStatus) error = %v", err)
	}
	if len(*taps) != 0 {
		t.Errorf("taps = %v, want none", *taps)
	}
}

func TestKeyboardBankTapError(t *testing.T) {
	b := NewKeyboardBank(map[ID]string{User: "capslock"})
	tapErr := errors.New("no display")
	b.tap = func(string) error { return tapErr }

	err := b.Set(User, true)
	if !errors.Is(err, tapErr) {
		t.Fatalf("Set() error = %v, want %v", err, tapErr)
	}

	// The state is unchanged, so the next Set tries again.
	calls := 0
	b.tap = func(string) error { calls++; return nil }
	if err := b.Set(User, true); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("tap called %d times, want 1", calls)
	}
}

func TestIDString(t *testing.T) {
	tests := map[ID]string{RunStatus: "run", ConnStatus: "conn", User: "user", ID(9): "ID(9)"}
	for id, want := range tests {
		if got := id.String(); got != want {
			t.Errorf("ID(%d).String() = %q, want %q", int(id), got, want)
		}
	}
}
