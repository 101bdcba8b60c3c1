package timer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SubmitScriptsGlob locates the per-block stdout files of a Parsl run, relative to the
// run directory.
const SubmitScriptsGlob = "parsl/000/submit_scripts/*.stdout"

var linePattern = regexp.MustCompile(
	`^\[timer\]\s+\[([^\]]*)\]\s+in\s+\[([^\]]+)\]\s+seconds\.\s+start:\s+\[([^\]]+)\],\s+end:\s+\[([^\]]+)\]`)

// ParseLine parses one timer line. ok is false for anything that is not a well formed
// timer line.
func ParseLine(line string) (s Stats, ok bool) {
	m := linePattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Stats{}, false
	}
	var nums [3]float64
	for i, raw := range m[2:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Stats{}, false
		}
		nums[i] = v
	}
	return Stats{
		Tags:    strings.Fields(m[1]),
		Elapsed: nums[0],
		Start:   nums[1],
		End:     nums[2],
	}, true
}

// ParseLogs returns every timer event in the file at path, in file order. Lines that
// do not start with the timer prefix, or are malformed, are ignored.
func ParseLogs(path string) ([]Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	var out []Stats
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(strings.TrimSpace(line), Prefix) {
			continue
		}
		if s, ok := ParseLine(line); ok {
			out = append(out, s)
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return out, nil
}

// ParseRun collects the timer events of every submit-script stdout file under runPath.
// Files are visited in sorted order. A run without such files yields no events.
func ParseRun(runPath string) ([]Stats, error) {
	files, err := filepath.Glob(filepath.Join(runPath, filepath.FromSlash(SubmitScriptsGlob)))
	if err != nil {
		return nil, fmt.Errorf("glob submit scripts: %w", err)
	}
	sort.Strings(files)

	out := []Stats{}
	for _, file := range files {
		stats, err := ParseLogs(file)
		if err != nil {
			return nil, err
		}
		out = append(out, stats...)
	}
	return out, nil
}
