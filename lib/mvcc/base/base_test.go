package base

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	s := New[string, int](0)
	assert.Equal(t, DefaultCapacity, s.Capacity())
	assert.Zero(t, s.Generation())
	assert.Zero(t, s.Len())

	assert.Equal(t, 10, New[string, int](10).Capacity())
}

func TestInsertGet(t *testing.T) {
	s := New[string, int](2)

	s.Insert("a", 1)
	s.Insert("b", 2)
	v, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// "b" is the least recently used entry now
	s.Insert("c", 3)
	assert.False(t, s.Contains("b"))
	assert.True(t, s.Contains("a"))
	assert.Equal(t, 2, s.Len())
}

func TestUpdateCommit(t *testing.T) {
	s := New[string, int](8)
	s.Insert("keep", 1)
	s.Insert("replace", 2)
	s.Insert("evict", 3)

	u := s.Begin()
	u.Insert("replace", 20)
	u.Insert("new", 40)
	u.Remove("evict")
	u.Remove("absent")
	assert.Equal(t, 4, u.Len())

	// staged changes are invisible
	v, _ := s.Get("replace")
	assert.Equal(t, 2, v)
	assert.False(t, s.Contains("new"))

	pub := u.Commit()
	assert.Equal(t, Published{Generation: 1, Inserted: 2, Removed: 2, Retained: 2}, pub)
	assert.Equal(t, pub.Generation, s.Generation())

	for key, want := range map[string]int{"keep": 1, "replace": 20, "new": 40} {
		v, ok := s.Get(key)
		require.True(t, ok, key)
		assert.Equal(t, want, v, key)
	}
	assert.False(t, s.Contains("evict"))
	assert.Equal(t, 3, s.Len())

	assert.Panics(t, func() { u.Commit() })
}

func TestUpdateKeepsRecency(t *testing.T) {
	s := New[string, int](3)
	s.Insert("old", 1)
	s.Insert("young", 2)

	u := s.Begin()
	u.Insert("promoted", 3)
	u.Commit()

	// the oldest entry is evicted first after the flip
	s.Insert("next", 4)
	assert.False(t, s.Contains("old"))
	assert.True(t, s.Contains("young"))
	assert.True(t, s.Contains("promoted"))
}

func TestUpdateOverCapacity(t *testing.T) {
	s := New[int, int](4)
	s.Insert(-1, -1)

	u := s.Begin()
	for i := 0; i < 10; i++ {
		u.Insert(i, i)
	}
	pub := u.Commit()

	assert.Equal(t, 10, pub.Inserted)
	assert.Equal(t, s.Capacity(), pub.Retained)
	assert.Equal(t, s.Capacity(), s.Len())
	assert.False(t, s.Contains(-1))
}

func TestSingleUpdate(t *testing.T) {
	s := New[string, int](8)

	u := s.Begin()
	assert.Panics(t, func() { s.Begin() })

	u.Insert("x", 1)
	u.Abort()
	assert.False(t, s.Contains("x"))
	assert.Zero(t, s.Generation())

	// aborting releases the store for the next update
	next := s.Begin()
	next.Commit()
	assert.Equal(t, uint64(1), s.Generation())
}

func TestReadersSeeWholeGenerations(t *testing.T) {
	s := New[int, int](1024)
	for i := 0; i < 100; i++ {
		s.Insert(i, 0)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// every generation holds the same value for all keys
				gen := s.current.Load()
				first, _ := gen.cache.Peek(0)
				for i := 1; i < 100; i++ {
					v, _ := gen.cache.Peek(i)
					if v != first {
						t.Errorf("generation %d mixes values %d and %d", gen.id, first, v)
						return
					}
				}
			}
		}()
	}

	for g := 1; g <= 20; g++ {
		u := s.Begin()
		var staging sync.WaitGroup
		for i := 0; i < 100; i++ {
			staging.Add(1)
			go func() {
				defer staging.Done()
				u.Insert(i, g)
			}()
		}
		staging.Wait()
		u.Commit()
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, uint64(20), s.Generation())
}
