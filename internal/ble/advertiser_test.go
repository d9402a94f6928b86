package ble_test

import (
	"context"
	"errors"
	"testing"

	"github.com/chaz8081/lbs-peripheral/internal/ble"
	"github.com/chaz8081/lbs-peripheral/internal/ble/adv"
	"github.com/chaz8081/lbs-peripheral/internal/ble/bletest"
)

func fastParams() ble.AdvParams {
	return ble.AdvParams{
		Connectable: true,
		UseIdentity: true,
		IntervalMin: ble.AdvFastIntervalMin1,
		IntervalMax: ble.AdvFastIntervalMax1,
	}
}

// drain runs q until every job posted so far, and any they post, has run.
func drain(t *testing.T, q *ble.Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	for i := 0; i < 3; i++ {
		if err := q.Sync(context.Background()); err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
	}
	cancel()
	<-done
}

func newAdvertiser(t *testing.T, stack *bletest.Stack) (*ble.Advertiser, *ble.Queue) {
	t.Helper()
	q := ble.NewQueue()
	a, err := ble.NewAdvertiser(q, stack, ble.LBSAdvertiserConfig("Nordic_LBS", fastParams()))
	if err != nil {
		t.Fatalf("NewAdvertiser() error = %v", err)
	}
	return a, q
}

func TestAdvertiserStart(t *testing.T) {
	stack := bletest.New()
	a, q := newAdvertiser(t, stack)

	if got := a.State(); got != ble.AdvIdle {
		t.Fatalf("initial State() = %v, want idle", got)
	}
	a.Start()
	if got := a.State(); got != ble.AdvStarting {
		t.Errorf("State() after Start = %v, want starting", got)
	}
	if n := stack.Count(bletest.OpAdvertise); n != 0 {
		t.Errorf("Advertise called %d times before the queue ran, want 0", n)
	}

	drain(t, q)

	if got := a.State(); got != ble.AdvAdvertising {
		t.Errorf("State() = %v, want advertising", got)
	}
	adverts := stack.Adverts()
	if len(adverts) != 1 {
		t.Fatalf("Advertise called %d times, want 1", len(adverts))
	}
	got := adverts[0]
	if !got.Params.Connectable || !got.Params.UseIdentity {
		t.Errorf("Params = %+v, want connectable identity", got.Params)
	}
	if got.Params.IntervalMin != 0x30 || got.Params.IntervalMax != 0x60 {
		t.Errorf("interval = 0x%x..0x%x, want 0x30..0x60", got.Params.IntervalMin, got.Params.IntervalMax)
	}

	flags, ok := adv.Find(got.AD, adv.TypeFlags)
	if !ok || len(flags.Data) != 1 || flags.Data[0] != 0x06 {
		t.Errorf("flags field = %+v, want 0x06", flags)
	}
	name, ok := adv.Find(got.AD, adv.TypeNameComplete)
	if !ok || string(name.Data) != "Nordic_LBS" {
		t.Errorf("name field = %q, want Nordic_LBS", name.Data)
	}
	uuids, ok := adv.Find(got.SD, adv.TypeUUID128All)
	if !ok {
		t.Fatal("scan response has no 128-bit UUID list")
	}
	ids, err := uuids.UUIDs128()
	if err != nil || len(ids) != 1 || ids[0] != ble.LBSServiceUUID {
		t.Errorf("scan response UUIDs = %v (err %v), want [%s]", ids, err, ble.LBSServiceUUID)
	}
}

func TestAdvertiserStartCoalesces(t *testing.T) {
	stack := bletest.New()
	a, q := newAdvertiser(t, stack)

	a.Start()
	a.Start()
	a.Start()
	drain(t, q)

	if n := stack.Count(bletest.OpAdvertise); n != 1 {
		t.Errorf("Advertise called %d times, want 1", n)
	}

	// Already advertising: another Start does nothing.
	a.Start()
	drain(t, q)
	if n := stack.Count(bletest.OpAdvertise); n != 1 {
		t.Errorf("Advertise called %d times, want 1", n)
	}
}

func TestAdvertiserFailureNoRetry(t *testing.T) {
	stack := bletest.New()
	stack.Fail(bletest.OpAdvertise, ble.HCIInsufficientResources)
	a, q := newAdvertiser(t, stack)

	a.Start()
	drain(t, q)

	if got := a.State(); got != ble.AdvIdle {
		t.Errorf("State() = %v, want idle", got)
	}
	if n := stack.Count(bletest.OpAdvertise); n != 1 {
		t.Errorf("Advertise called %d times, want 1 (no retry)", n)
	}

	// A later Start tries again.
	stack.Fail(bletest.OpAdvertise, nil)
	a.Start()
	drain(t, q)
	if got := a.State(); got != ble.AdvAdvertising {
		t.Errorf("State() = %v, want advertising", got)
	}
}

func TestAdvertiserRestartAfterConnection(t *testing.T) {
	stack := bletest.New()
	a, q := newAdvertiser(t, stack)

	a.Start()
	drain(t, q)
	a.ConnectionAccepted()
	if got := a.State(); got != ble.AdvStoppedForConnection {
		t.Fatalf("State() = %v, want stopped-for-connection", got)
	}

	a.Start()
	drain(t, q)
	if got := a.State(); got != ble.AdvAdvertising {
		t.Errorf("State() = %v, want advertising", got)
	}
	if n := stack.Count(bletest.OpAdvertise); n != 2 {
		t.Errorf("Advertise called %d times, want 2", n)
	}
}

func TestNewAdvertiserValidation(t *testing.T) {
	q := ble.NewQueue()
	stack := bletest.New()

	long := ble.LBSAdvertiserConfig("a-device-name-that-is-far-too-long-to-fit", fastParams())
	if _, err := ble.NewAdvertiser(q, stack, long); !errors.Is(err, adv.ErrTooLong) {
		t.Errorf("NewAdvertiser(long name) error = %v, want ErrTooLong", err)
	}

	p := fastParams()
	p.IntervalMin, p.IntervalMax = p.IntervalMax, p.IntervalMin
	if _, err := ble.NewAdvertiser(q, stack, ble.LBSAdvertiserConfig("x", p)); err == nil {
		t.Error("NewAdvertiser(min > max) error = nil, want error")
	}
}
