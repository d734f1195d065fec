package encoder

import (
	"regexp"
	"strconv"
)

// timeToken matches the elapsed-media-time marker ffmpeg prints on its
// stats lines, e.g. "time=00:01:23.45". Chunks arriving from the executor
// are not line-delimited, so the tracker keeps a carry buffer in case a
// token is split across two chunks.
var timeToken = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// carrySize must cover the longest possible token tail left dangling at
// the end of a chunk.
const carrySize = 24

// ProgressTracker extracts monotonically non-decreasing elapsed-time values
// from raw ffmpeg stderr chunks and hands each advance to the callback.
type ProgressTracker struct {
	onAdvance func(seconds float64)
	carry     string
	last      float64
	seen      bool
}

func NewProgressTracker(onAdvance func(seconds float64)) *ProgressTracker {
	return &ProgressTracker{onAdvance: onAdvance, last: -1}
}

// Consume scans one stderr chunk for time markers. Values that would move
// the cursor backwards are dropped, so the published sequence never
// decreases even if ffmpeg re-prints an earlier timestamp.
func (t *ProgressTracker) Consume(chunk string) {
	data := t.carry + chunk
	for _, m := range timeToken.FindAllStringSubmatch(data, -1) {
		secs, ok := parseClock(m[1], m[2], m[3])
		if !ok || secs <= t.last {
			continue
		}
		t.last = secs
		t.seen = true
		if t.onAdvance != nil {
			t.onAdvance(secs)
		}
	}
	if len(data) > carrySize {
		data = data[len(data)-carrySize:]
	}
	t.carry = data
}

// Last returns the most recent elapsed time observed, and whether any
// marker has been seen at all.
func (t *ProgressTracker) Last() (float64, bool) {
	return t.last, t.seen
}

func parseClock(hh, mm, ss string) (float64, bool) {
	hours, err1 := strconv.ParseFloat(hh, 64)
	minutes, err2 := strconv.ParseFloat(mm, 64)
	seconds, err3 := strconv.ParseFloat(ss, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return hours*3600 + minutes*60 + seconds, true
}
