package testutil

import (
	"sync"
	"testing"
	"time"
)

func TestManualClock_Advance(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewManualClock(start)

	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}
	got := c.Advance(1500 * time.Millisecond)
	if want := start.Add(1500 * time.Millisecond); !got.Equal(want) || !c.Now().Equal(want) {
		t.Errorf("expected %v after advance, got %v", want, got)
	}

	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("expected clock reset to %v, got %v", start, c.Now())
	}
}

func TestManualClock_Concurrent(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Advance(time.Millisecond)
				_ = c.Now()
			}
		}()
	}
	wg.Wait()

	if got := c.Now().Sub(time.Unix(0, 0)); got != time.Second {
		t.Errorf("expected 1s elapsed, got %v", got)
	}
}
