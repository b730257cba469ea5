// Package console gives one interactive subscriber a bounded, lossy view
// into the printer's raw line traffic: every line the printer reads or
// writes is mirrored onto a channel pair, and a subscriber may push lines
// of their own back onto the outbound stream. Only the control thread ever
// touches a Console's fields; the channels themselves are safe to hand to
// a separate reader/writer goroutine because Go channels already are.
package console

import "log"

// bufferSize bounds both channels: a subscriber that stops reading loses
// only the newest lines, never blocks the printer.
const bufferSize = 256

// Message is one line of console traffic. IsEcho marks a line the host
// itself sent (so a terminal can distinguish local echo from a genuine
// printer reply).
type Message struct {
	IsEcho bool
	Line   string
}

// ClientChannels is handed to a newly attached subscriber: RX carries
// lines from the printer to the client, TX carries lines the client wants
// sent to the printer.
type ClientChannels struct {
	RX <-chan Message
	TX chan<- Message
}

// Console is the printer-side end of the channel pair.
type Console struct {
	rx            chan Message
	tx            chan Message
	hasSubscriber bool
}

// New creates an unattached Console.
func New() *Console {
	return &Console{rx: make(chan Message, bufferSize), tx: make(chan Message, bufferSize)}
}

// PushRX mirrors one line of printer traffic to the current subscriber, if
// any. If the subscriber's buffer is full, the line is dropped rather than
// blocking the control thread.
func (c *Console) PushRX(line string, isEcho bool) {
	select {
	case c.rx <- Message{IsEcho: isEcho, Line: line}:
	default:
	}
}

// PopTX returns the next line a subscriber queued for the printer, if any.
// A subscriber that closed its TX end is marked unsubscribed.
func (c *Console) PopTX() (string, bool) {
	select {
	case m, ok := <-c.tx:
		if !ok {
			c.hasSubscriber = false
			c.tx = nil
			return "", false
		}
		return m.Line, true
	default:
		return "", false
	}
}

// Attach replaces any existing subscriber with a fresh channel pair. The
// previous subscriber's receive end is closed so it observes the
// disconnect instead of silently stalling.
func (c *Console) Attach() ClientChannels {
	if c.hasSubscriber {
		log.Printf("console: replacing existing subscriber")
		close(c.rx)
	}
	c.rx = make(chan Message, bufferSize)
	c.tx = make(chan Message, bufferSize)
	c.hasSubscriber = true
	return ClientChannels{RX: c.rx, TX: c.tx}
}
