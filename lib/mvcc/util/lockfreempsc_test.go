package util

import (
	"sync"
	"testing"
	"time"
)

// TestMPSCOrderSingleProducer tests that one producer's items keep their order
func TestMPSCOrderSingleProducer(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	go func() {
		for i := 0; i < 1000; i++ {
			v := i
			q.Push(&v)
		}
		q.Close()
	}()

	expected := 0
	for v := range q.Recv() {
		if *v != expected {
			t.Fatalf("Expected %d, got %d", expected, *v)
		}
		expected++
	}
	if expected != 1000 {
		t.Errorf("Received %d items, expected 1000", expected)
	}
}

// TestMPSCMultipleProducers tests that no item is lost or duplicated
func TestMPSCMultipleProducers(t *testing.T) {
	const producers, perProducer = 8, 2000
	q := NewLockFreeMPSC[int]()

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := p*perProducer + i
				if !q.Push(&v) {
					t.Errorf("Push failed on open queue")
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		q.Close()
	}()

	seen := make(map[int]bool, producers*perProducer)
	for v := range q.Recv() {
		if seen[*v] {
			t.Fatalf("Item %d received twice", *v)
		}
		seen[*v] = true
	}
	if len(seen) != producers*perProducer {
		t.Errorf("Received %d items, expected %d", len(seen), producers*perProducer)
	}
}

// TestMPSCClose tests that a closed queue rejects pushes and closes Recv
func TestMPSCClose(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	v := 1

	if q.Push(nil) {
		t.Error("Push(nil) should be rejected")
	}

	q.Close()
	if q.Push(&v) {
		t.Error("Push after Close should be rejected")
	}

	select {
	case _, ok := <-q.Recv():
		if ok {
			t.Error("Recv should not deliver items after Close")
		}
	case <-time.After(time.Second):
		t.Error("Recv channel not closed after Close")
	}
}

// TestMPSCWakeup tests that the consumer is woken for items pushed after idling
func TestMPSCWakeup(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 50; i++ {
		time.Sleep(time.Millisecond)
		v := i
		q.Push(&v)

		select {
		case got := <-q.Recv():
			if *got != i {
				t.Fatalf("Expected %d, got %d", i, *got)
			}
		case <-time.After(time.Second):
			t.Fatalf("Item %d was not delivered", i)
		}
	}
}
