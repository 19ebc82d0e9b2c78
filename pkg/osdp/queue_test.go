package osdp

import "testing"

func TestCommandQueueFIFOOrder(t *testing.T) {
	q := newCommandQueue(4)
	for i := 0; i < 3; i++ {
		if !q.push(Command{Kind: CmdOutput, Output: OutputCommand{OutputNo: byte(i)}}) {
			t.Fatalf("push %d failed unexpectedly", i)
		}
	}
	for i := 0; i < 3; i++ {
		cmd, ok := q.pop()
		if !ok {
			t.Fatalf("pop %d: queue empty unexpectedly", i)
		}
		if cmd.Output.OutputNo != byte(i) {
			t.Fatalf("pop %d: got OutputNo %d, want %d (FIFO order violated)", i, cmd.Output.OutputNo, i)
		}
	}
	if _, ok := q.pop(); ok {
		t.Fatalf("pop on empty queue returned ok=true")
	}
}

func TestCommandQueueBackpressure(t *testing.T) {
	q := newCommandQueue(2)
	if !q.push(Command{Kind: CmdOutput}) {
		t.Fatalf("first push should succeed")
	}
	if !q.push(Command{Kind: CmdOutput}) {
		t.Fatalf("second push should succeed")
	}
	if q.push(Command{Kind: CmdOutput}) {
		t.Fatalf("third push should fail: queue is at capacity")
	}
	if _, ok := q.pop(); !ok {
		t.Fatalf("pop should free a slot")
	}
	if !q.push(Command{Kind: CmdOutput}) {
		t.Fatalf("push after a pop should succeed again")
	}
}

func TestCommandQueueWrapsAroundRingBoundary(t *testing.T) {
	q := newCommandQueue(3)
	for i := 0; i < 10; i++ {
		if !q.push(Command{Kind: CmdBuzzer, Buzzer: BuzzerCommand{ToneCode: byte(i)}}) {
			t.Fatalf("push %d failed", i)
		}
		cmd, ok := q.pop()
		if !ok || cmd.Buzzer.ToneCode != byte(i) {
			t.Fatalf("iteration %d: wrap-around FIFO violated: got %+v ok=%v", i, cmd, ok)
		}
	}
	if q.len() != 0 {
		t.Fatalf("expected empty queue, len=%d", q.len())
	}
}
