package link

import (
	"errors"
	"testing"
	"time"
)

// fakePort is an in-memory stand-in for serial.Port: Read drains queued
// chunks (an empty chunk models a read timeout, matching go.bug.st/serial's
// behavior of returning (0, nil) rather than an error on timeout), Write
// records what was sent.
type fakePort struct {
	chunks  [][]byte
	written [][]byte
}

func (f *fakePort) Read(p []byte) (int, error) {
	if len(f.chunks) == 0 {
		return 0, nil
	}
	next := f.chunks[0]
	f.chunks = f.chunks[1:]
	n := copy(p, next)
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	f.written = append(f.written, cp)
	return len(p), nil
}

func (f *fakePort) Close() error { return nil }

func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (f *fakePort) ResetInputBuffer() error { return nil }

func TestReadLineAssemblesAcrossChunks(t *testing.T) {
	fp := &fakePort{chunks: [][]byte{[]byte("T:200"), []byte(".0 /210.0\n")}}
	l := newLink(fp, "/dev/fake", 115200)

	line, err := l.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "T:200.0 /210.0" {
		t.Fatalf("line = %q", line)
	}
}

func TestReadLineReportsTimeoutWithoutLosingPartialData(t *testing.T) {
	fp := &fakePort{chunks: [][]byte{[]byte("ok")}}
	l := newLink(fp, "/dev/fake", 115200)

	_, err := l.ReadLine()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	fp.chunks = [][]byte{[]byte("\n")}
	line, err := l.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "ok" {
		t.Fatalf("line = %q, want partial bytes preserved across timeout", line)
	}
}

func TestPurgeDrainsBufferedBytesWithoutBlocking(t *testing.T) {
	fp := &fakePort{chunks: [][]byte{[]byte("stale reply\n"), []byte("more stale bytes")}}
	l := newLink(fp, "/dev/fake", 115200)

	if err := l.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if len(l.buf) != 0 {
		t.Fatalf("buf = %q, want empty after purge", l.buf)
	}

	fp.chunks = [][]byte{[]byte("fresh\n")}
	line, err := l.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine after purge: %v", err)
	}
	if line != "fresh" {
		t.Fatalf("line = %q, want only the post-purge data", line)
	}
}

func TestWriteLineStripsTrailingWhitespace(t *testing.T) {
	fp := &fakePort{}
	l := newLink(fp, "/dev/fake", 115200)
	if err := l.WriteLine("G1 X10  \r\n"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if len(fp.written) != 1 || string(fp.written[0]) != "G1 X10\n" {
		t.Fatalf("written = %q", fp.written)
	}
}
