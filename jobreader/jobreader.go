// Package jobreader streams a gcode job file one command line at a time,
// stripping comments, supporting resend-by-line-number, and estimating
// remaining print time from ;TIME / ;TIME_ELAPSED comments embedded in the
// file by the slicer.
package jobreader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Timepoint pairs a physical line number with the slicer's own estimate of
// elapsed print time at that line.
type Timepoint struct {
	Line    uint32
	Elapsed time.Duration
}

// JobReader lazily streams one gcode file.
type JobReader struct {
	path string

	file   *os.File
	reader *bufio.Reader

	totalLines uint32

	curPhysicalLine uint32
	curCommandLine  uint32
	lastEmitted     string
	resendPending   bool

	timepoints []Timepoint
	activeIdx  int
}

// Open indexes path (counting lines and collecting ;TIME comments) and
// rewinds to the start for streaming.
func Open(path string) (*JobReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("jobreader: open %s: %w", path, err)
	}
	jr := &JobReader{path: path, file: f}
	if err := jr.index(); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("jobreader: rewind %s: %w", path, err)
	}
	jr.reader = bufio.NewReader(f)
	return jr, nil
}

// index runs a single pass counting physical lines and collecting
// ;TIME / ;TIME_ELAPSED comment timepoints, grounded on the slicer-comment
// scanning idiom used for job metadata elsewhere in this codebase's
// lineage: a single forward scan recognizing one comment shape per line.
// ;TIME_ELAPSED checkpoints become in-file timepoints; ;TIME only records
// the declared total, appended as the terminal timepoint at the last line.
func (jr *JobReader) index() error {
	scanner := bufio.NewScanner(jr.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var n uint32
	var declaredTotal time.Duration
	haveTotal := false

	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, ";") {
			continue
		}
		if d, ok := parseTimeComment(line, ";TIME_ELAPSED:"); ok {
			jr.timepoints = append(jr.timepoints, Timepoint{Line: n, Elapsed: d})
		} else if d, ok := parseTimeComment(line, ";TIME:"); ok {
			declaredTotal = d
			haveTotal = true
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("jobreader: indexing %s: %w", jr.path, err)
	}
	jr.totalLines = n

	sort.Slice(jr.timepoints, func(i, j int) bool { return jr.timepoints[i].Line < jr.timepoints[j].Line })

	if haveTotal && (len(jr.timepoints) == 0 || jr.timepoints[len(jr.timepoints)-1].Line != n) {
		jr.timepoints = append(jr.timepoints, Timepoint{Line: n, Elapsed: declaredTotal})
	}
	return nil
}

// parseTimeComment parses the seconds value of a slicer time comment with
// the given prefix.
func parseTimeComment(comment, prefix string) (time.Duration, bool) {
	if !strings.HasPrefix(comment, prefix) {
		return 0, false
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(comment[len(prefix):]), 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// Next returns the next non-blank, comment-stripped command line and its
// 1-based command-line number. An empty string with a nil error signals
// end of file.
func (jr *JobReader) Next() (uint32, string, error) {
	if jr.resendPending {
		jr.resendPending = false
		return jr.curCommandLine, jr.lastEmitted, nil
	}

	for {
		raw, err := jr.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return 0, "", fmt.Errorf("jobreader: reading %s: %w", jr.path, err)
		}
		if raw == "" && err == io.EOF {
			return jr.curCommandLine, "", nil
		}
		jr.curPhysicalLine++

		if semi := strings.IndexByte(raw, ';'); semi >= 0 {
			raw = raw[:semi]
		}
		trimmed := strings.TrimRight(raw, " \t\r\n")
		if trimmed == "" {
			if err == io.EOF {
				return jr.curCommandLine, "", nil
			}
			continue
		}

		jr.curCommandLine++
		jr.lastEmitted = trimmed
		return jr.curCommandLine, trimmed, nil
	}
}

// RequestResend rewinds the stream so the next Next() call re-emits the
// command line numbered target. If target is the line just emitted, the
// buffered copy is replayed without touching the file at all.
func (jr *JobReader) RequestResend(target uint32) error {
	if target == 0 {
		// "Resend from line 0" means start over.
		target = 1
	}
	if target == jr.curCommandLine {
		jr.resendPending = true
		return nil
	}

	if _, err := jr.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("jobreader: rewind %s for resend: %w", jr.path, err)
	}
	jr.reader = bufio.NewReader(jr.file)
	jr.curPhysicalLine = 0
	jr.curCommandLine = 0
	jr.resendPending = false

	for jr.curCommandLine < target-1 {
		if _, _, err := jr.Next(); err != nil {
			return err
		}
	}
	return nil
}

// Reset rewinds the stream to the beginning for a fresh start, reusing the
// timepoints collected on the original Open instead of re-indexing.
func (jr *JobReader) Reset() error {
	if _, err := jr.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("jobreader: reset %s: %w", jr.path, err)
	}
	jr.reader = bufio.NewReader(jr.file)
	jr.curPhysicalLine = 0
	jr.curCommandLine = 0
	jr.resendPending = false
	jr.activeIdx = 0
	return nil
}

// CurCommandLine reports the command-line number of the most recently
// emitted (or about-to-resend) line.
func (jr *JobReader) CurCommandLine() uint32 { return jr.curCommandLine }

// Progress reports (physical lines consumed, total physical lines).
func (jr *JobReader) Progress() (uint32, uint32) { return jr.curPhysicalLine, jr.totalLines }

// Duration reports the elapsed time of the last timepoint: the slicer's
// declared total when the file carried a ;TIME comment, otherwise the last
// ;TIME_ELAPSED checkpoint. ok is false when the file has no time metadata
// at all.
func (jr *JobReader) Duration() (d time.Duration, ok bool) {
	if len(jr.timepoints) == 0 {
		return 0, false
	}
	return jr.timepoints[len(jr.timepoints)-1].Elapsed, true
}

// Name is the job file's base name.
func (jr *JobReader) Name() string { return filepath.Base(jr.path) }

// Close releases the underlying file.
func (jr *JobReader) Close() error { return jr.file.Close() }

// Remaining estimates the time left in the print given the current
// command-line number and the wall-clock time elapsed so far, by linearly
// interpolating between the bracketing slicer timepoints and correcting
// for how far ahead of or behind that schedule the print actually is.
func (jr *JobReader) Remaining(currentCommandLine uint32, elapsedSoFar time.Duration) time.Duration {
	if len(jr.timepoints) == 0 {
		return 0
	}
	for jr.activeIdx < len(jr.timepoints) && currentCommandLine > jr.timepoints[jr.activeIdx].Line {
		jr.activeIdx++
	}
	if jr.activeIdx >= len(jr.timepoints) {
		return 0
	}

	var l1 uint32
	var t1 time.Duration
	if jr.activeIdx > 0 {
		l1 = jr.timepoints[jr.activeIdx-1].Line
		t1 = jr.timepoints[jr.activeIdx-1].Elapsed
	}
	l2 := jr.timepoints[jr.activeIdx].Line
	t2 := jr.timepoints[jr.activeIdx].Elapsed
	tLast := jr.timepoints[len(jr.timepoints)-1].Elapsed

	var expected time.Duration
	if l2 == l1 {
		expected = t2
	} else {
		slope := float64(t2-t1) / float64(l2-l1)
		expected = t2 - time.Duration(slope*float64(l2-currentCommandLine))
	}

	correction := elapsedSoFar - expected
	remaining := (tLast - expected) + correction
	if remaining < 0 {
		return 0
	}
	return remaining
}
