package mark

import (
	"fmt"
	"sync"
	"testing"
)

func TestMarkReplacesPrior(t *testing.T) {
	tr := NewTracker()

	tr.Mark("alice@x", "e1")
	if !tr.IsMarked("alice@x", "e1") {
		t.Fatal("e1 not marked")
	}

	// Marking a new event supersedes the old one without an explicit clear.
	tr.Mark("alice@x", "e2")
	if tr.IsMarked("alice@x", "e1") {
		t.Error("e1 still marked after e2 superseded it")
	}
	if !tr.IsMarked("alice@x", "e2") {
		t.Error("e2 not marked")
	}
	if last, ok := tr.Last("alice@x"); !ok || last != "e2" {
		t.Errorf("Last() = %q/%v, want e2/true", last, ok)
	}
}

func TestClear(t *testing.T) {
	tr := NewTracker()
	tr.Mark("alice@x", "e1")
	tr.Clear("alice@x")

	if tr.IsMarked("alice@x", "e1") {
		t.Error("mark survived Clear")
	}
	if _, ok := tr.Last("alice@x"); ok {
		t.Error("Last() found a mark after Clear")
	}
}

func TestUsersAreIndependent(t *testing.T) {
	tr := NewTracker()
	tr.Mark("alice@x", "e1")
	tr.Mark("bob@x", "e1")
	tr.Clear("alice@x")

	if !tr.IsMarked("bob@x", "e1") {
		t.Error("clearing alice also cleared bob")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("user%d@x", n%5)
			tr.Mark(id, fmt.Sprintf("e%d", n))
			tr.IsMarked(id, "e1")
			tr.Clear(id)
		}(i)
	}
	wg.Wait()
}
