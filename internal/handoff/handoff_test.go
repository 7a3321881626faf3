package handoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSubmitter struct {
	calls int
	errs  []error // error per call, nil entries succeed
	id    string
}

func (f *fakeSubmitter) Submit(ctx context.Context, p Payload) (string, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	return f.id, nil
}

func fastDispatcher(sub Submitter) *Dispatcher {
	d := NewDispatcher(sub)
	d.backoff = time.Millisecond
	return d
}

func TestDispatchSuccess(t *testing.T) {
	sub := &fakeSubmitter{id: "app-1"}
	id, err := fastDispatcher(sub).Dispatch(context.Background(), Payload{SessionID: "s1"})
	if err != nil || id != "app-1" {
		t.Fatalf("got (%q, %v)", id, err)
	}
	if sub.calls != 1 {
		t.Errorf("calls = %d, want 1", sub.calls)
	}
}

func TestDispatchRetriesOnce(t *testing.T) {
	sub := &fakeSubmitter{id: "app-2", errs: []error{errors.New("boom")}}
	id, err := fastDispatcher(sub).Dispatch(context.Background(), Payload{SessionID: "s1"})
	if err != nil || id != "app-2" {
		t.Fatalf("got (%q, %v)", id, err)
	}
	if sub.calls != 2 {
		t.Errorf("calls = %d, want 2", sub.calls)
	}
}

func TestDispatchFailsAfterSecondError(t *testing.T) {
	sub := &fakeSubmitter{errs: []error{errors.New("a"), errors.New("b")}}
	_, err := fastDispatcher(sub).Dispatch(context.Background(), Payload{SessionID: "s1"})
	if err == nil {
		t.Fatal("expected error after two failures")
	}
	if sub.calls != 2 {
		t.Errorf("calls = %d, want exactly 2 (one retry)", sub.calls)
	}
}

func TestDispatchHonorsContextDuringBackoff(t *testing.T) {
	sub := &fakeSubmitter{errs: []error{errors.New("boom")}}
	d := NewDispatcher(sub)
	d.backoff = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := d.Dispatch(ctx, Payload{SessionID: "s1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sub.calls != 1 {
		t.Errorf("calls = %d, want 1 (retry aborted)", sub.calls)
	}
}
