package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// TraceEvent wraps a StepResult for JSONL trace output with extra metadata.
type TraceEvent struct {
	Type      string      `json:"type"` // step_result
	Timestamp time.Time   `json:"timestamp"`
	RunID     string      `json:"run_id"`
	Result    *StepResult `json:"result"`
}

// TraceWriter writes StepResult events to a JSONL trace stream.
type TraceWriter struct {
	file   *os.File // nil when writing to an arbitrary stream
	writer *bufio.Writer
	enc    *json.Encoder
}

// NewTraceWriter creates a trace writer that appends to the given file.
func NewTraceWriter(path string) (*TraceWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &TraceWriter{file: f, writer: w, enc: json.NewEncoder(w)}, nil
}

// NewTraceWriterTo creates a trace writer over an arbitrary stream.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	bw := bufio.NewWriter(w)
	return &TraceWriter{writer: bw, enc: json.NewEncoder(bw)}
}

// Write appends a StepResult as a JSONL event and flushes at the step
// boundary.
func (tw *TraceWriter) Write(result *StepResult) error {
	event := TraceEvent{
		Type:      "step_result",
		Timestamp: time.Now(),
		RunID:     result.RunID,
		Result:    result,
	}
	if err := tw.enc.Encode(event); err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush trace: %w", err)
	}
	if tw.file != nil {
		if err := tw.file.Sync(); err != nil {
			return fmt.Errorf("sync trace: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the underlying file, if any.
func (tw *TraceWriter) Close() error {
	if err := tw.writer.Flush(); err != nil {
		return err
	}
	if tw.file != nil {
		return tw.file.Close()
	}
	return nil
}
