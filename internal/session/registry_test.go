package session

import "testing"

func TestRegistryAllocateIsMonotonic(t *testing.T) {
	r := newRegistry()
	idA, _ := r.allocate(RequestContext{WorkspaceID: "W", Method: "a"})
	idB, _ := r.allocate(RequestContext{WorkspaceID: "W", Method: "b"})
	if idA >= idB {
		t.Fatalf("expected idA < idB, got %d, %d", idA, idB)
	}
}

func TestRegistryDeliverRemovesBothMaps(t *testing.T) {
	r := newRegistry()
	id, ch := r.allocate(RequestContext{WorkspaceID: "W", Method: "m"})

	if !r.deliver(id, pendingResult{}) {
		t.Fatal("expected deliver to find the pending slot")
	}
	<-ch

	if _, ok := r.peekContext(id); ok {
		t.Fatal("expected request_context to be removed alongside pending")
	}
	if r.deliver(id, pendingResult{}) {
		t.Fatal("expected second deliver for the same id to be a no-op")
	}
}

func TestRegistrySweepResolvesAllPending(t *testing.T) {
	r := newRegistry()
	_, ch1 := r.allocate(RequestContext{WorkspaceID: "W1"})
	_, ch2 := r.allocate(RequestContext{WorkspaceID: "W2"})

	sentinel := errCanceled
	r.sweep(sentinel)

	res1 := <-ch1
	res2 := <-ch2
	if res1.err != sentinel || res2.err != sentinel {
		t.Fatal("expected both slots to resolve with the sweep error")
	}
}

var errCanceled = &testErr{"canceled"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
