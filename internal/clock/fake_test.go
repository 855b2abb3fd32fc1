package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)
	ch := c.After(time.Second)

	select {
	case <-ch:
		t.Fatalf("fired before Advance")
	default:
	}
	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatalf("fired before deadline")
	default:
	}
	c.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(time.Second)) {
			t.Fatalf("fire time: got %v", got)
		}
	default:
		t.Fatalf("did not fire at deadline")
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	var ran []string
	c.AfterFunc(2*time.Second, func() { ran = append(ran, "late") })
	c.AfterFunc(time.Second, func() { ran = append(ran, "early") })
	stop := c.AfterFunc(time.Second, func() { ran = append(ran, "stopped") })

	if !stop() {
		t.Fatalf("stop should report pending timer")
	}
	if c.Pending() != 2 {
		t.Fatalf("pending: got %d want 2", c.Pending())
	}
	c.Advance(3 * time.Second)
	if len(ran) != 2 || ran[0] != "early" || ran[1] != "late" {
		t.Fatalf("unexpected callbacks: %v", ran)
	}
	if stop() {
		t.Fatalf("second stop should report false")
	}
}

func TestFakeBlockUntil(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		<-c.After(time.Minute)
		close(done)
	}()
	c.BlockUntil(1)
	c.Advance(time.Minute)
	<-done
}
