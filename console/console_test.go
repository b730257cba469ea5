package console

import "testing"

func TestPushRXDropsWhenUnattached(t *testing.T) {
	c := New()
	c.PushRX("ok", false)
	if _, ok := c.PopTX(); ok {
		t.Fatalf("PopTX should be empty, nothing was pushed to tx")
	}
	ch := c.Attach()
	select {
	case m := <-ch.RX:
		t.Fatalf("line pushed before attach was delivered: %+v", m)
	default:
	}
}

func TestAttachThenPushIsReceivable(t *testing.T) {
	c := New()
	ch := c.Attach()
	c.PushRX("T:200.0 /210.0", false)
	select {
	case m := <-ch.RX:
		if m.Line != "T:200.0 /210.0" || m.IsEcho {
			t.Fatalf("m = %+v", m)
		}
	default:
		t.Fatalf("expected a buffered message")
	}
}

func TestAttachReplacesPreviousSubscriber(t *testing.T) {
	c := New()
	first := c.Attach()
	second := c.Attach()

	c.PushRX("ok", false)

	select {
	case _, open := <-first.RX:
		if open {
			t.Fatalf("first subscriber's channel should be closed, not delivering new traffic")
		}
	default:
		t.Fatalf("first subscriber's channel should be closed")
	}

	select {
	case m := <-second.RX:
		if m.Line != "ok" {
			t.Fatalf("m = %+v", m)
		}
	default:
		t.Fatalf("second subscriber should receive new traffic")
	}
}

func TestPopTXReturnsClientQueuedLine(t *testing.T) {
	c := New()
	ch := c.Attach()
	ch.TX <- Message{Line: "M105"}
	line, ok := c.PopTX()
	if !ok || line != "M105" {
		t.Fatalf("line=%q ok=%v", line, ok)
	}
}
