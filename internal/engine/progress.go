package engine

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	durationPattern = regexp.MustCompile(`Duration:\s*(\d+:\d+:\d+(?:\.\d+)?)`)
	timePattern     = regexp.MustCompile(`time=\s*(\d+:\d+:\d+(?:\.\d+)?)`)
)

// progressTracker derives a completion ratio from ffmpeg's stderr. The
// total duration comes from the explicit output duration when one was
// requested, otherwise from the first input Duration header seen.
type progressTracker struct {
	total time.Duration
	fixed bool
	last  float64
}

func newProgressTracker(args []string) *progressTracker {
	if d, ok := requestedDuration(args); ok {
		return &progressTracker{total: d, fixed: true}
	}

	return &progressTracker{}
}

// observe inspects a single line of output, returning the new ratio
// and true if the line advanced the known progress.
func (t *progressTracker) observe(line string) (float64, bool) {
	if !t.fixed {
		if m := durationPattern.FindStringSubmatch(line); m != nil {
			if d, ok := parseClock(m[1]); ok && d > 0 {
				t.total = d
				t.fixed = true
			}
			return 0, false
		}
	}

	m := timePattern.FindStringSubmatch(line)
	if m == nil || t.total <= 0 {
		return 0, false
	}

	elapsed, ok := parseClock(m[1])
	if !ok {
		return 0, false
	}

	ratio := clampRatio(float64(elapsed) / float64(t.total))
	if ratio <= t.last {
		return 0, false
	}

	t.last = ratio
	return ratio, true
}

func clampRatio(r float64) float64 {
	if r < 0 {
		return 0
	} else if r > 1 {
		return 1
	}

	return r
}

// requestedDuration finds the value of a '-t' argument, which may be given
// in seconds or in ffmpeg's clock notation.
func requestedDuration(args []string) (time.Duration, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] != "-t" {
			continue
		}

		if d, ok := parseClock(args[i+1]); ok {
			return d, true
		}
		if secs, err := strconv.ParseFloat(args[i+1], 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second)), true
		}
	}

	return 0, false
}

// parseClock parses an 'HH:MM:SS(.ff)' timestamp.
func parseClock(clock string) (time.Duration, bool) {
	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, false
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}

	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	return total + time.Duration(seconds*float64(time.Second)), true
}

// parseSeconds converts a decimal number of seconds, as reported by ffprobe.
func parseSeconds(value string) (time.Duration, bool) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || secs < 0 {
		return 0, false
	}

	return time.Duration(secs * float64(time.Second)), true
}

// scanLinesWithCR is a bufio.SplitFunc which splits on either '\r' or '\n'.
// ffmpeg rewrites its status line using carriage returns, which the default
// line scanner would buffer until the process exits.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			advance = i + 1
			for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
				advance++
			}
			return advance, data[0:i], nil
		}
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

// lineTail retains the most recent N lines written to it.
type lineTail struct {
	size  int
	lines []string
}

func newLineTail(size int) *lineTail {
	return &lineTail{size: size, lines: make([]string, 0, size)}
}

func (t *lineTail) push(line string) {
	if t.size <= 0 {
		return
	}
	if len(t.lines) == t.size {
		copy(t.lines, t.lines[1:])
		t.lines[len(t.lines)-1] = line
		return
	}

	t.lines = append(t.lines, line)
}

func (t *lineTail) snapshot() []string {
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}
