package inference

import (
	"context"
	"strings"
)

// Model turns a batch of page images into text.
type Model interface {
	// Inference returns one prediction per page, in page order. With earlyStopping the
	// model cuts a prediction short once it starts repeating itself.
	Inference(ctx context.Context, pages []Page, earlyStopping bool) (*Output, error)
}

// Output is the model's answer for one batch.
type Output struct {
	Predictions []string
}

// ParserName tags every record written to parsed_results.jsonl.
const ParserName = "nougat"

// minRepeats is how many identical trailing lines count as a generation loop.
const minRepeats = 4

// trimRepetition drops a run of identical trailing lines, keeping its first occurrence.
func trimRepetition(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) < minRepeats {
		return text
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return text
	}
	run := 1
	for i := len(lines) - 2; i >= 0 && strings.TrimSpace(lines[i]) == last; i-- {
		run++
	}
	if run < minRepeats {
		return text
	}
	return strings.Join(lines[:len(lines)-run+1], "\n")
}
