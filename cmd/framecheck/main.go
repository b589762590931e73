// Command framecheck prints quick, human-readable statistics about captured
// WebSocket frame logs. Each input file holds one frame per line; "-" reads
// standard input. For every file it counts frames per message type and
// highlights frames without a type and frames that are not valid envelopes.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/wricardo/sessionsocket/realtime/envelope"
)

const maxExamples = 5

// FrameReport summarises one capture.
type FrameReport struct {
	Total     int
	ByType    map[string]int
	Untyped   int
	Malformed []MalformedFrame
}

// MalformedFrame is a line that did not decode as an envelope.
type MalformedFrame struct {
	Line   int
	Reason string
}

func main() {
	paths := os.Args[1:]
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: %s FILE... (use - for stdin)\n", os.Args[0])
		os.Exit(2)
	}

	failed := false
	for _, path := range paths {
		fmt.Printf("\n=== Analyzing %s ===\n", path)
		report, err := analyzePath(path)
		if err != nil {
			fmt.Printf("Error reading file: %v\n", err)
			failed = true
			continue
		}
		printReport(os.Stdout, report)
		if len(report.Malformed) > 0 {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func analyzePath(path string) (*FrameReport, error) {
	if path == "-" {
		return analyzeFrames(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return analyzeFrames(f)
}

// analyzeFrames reads one frame per line. Blank lines are skipped.
func analyzeFrames(r io.Reader) (*FrameReport, error) {
	report := &FrameReport{ByType: make(map[string]int)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		frame := strings.TrimSpace(scanner.Text())
		if frame == "" {
			continue
		}
		report.Total++

		env, err := envelope.Decode([]byte(frame))
		if err != nil {
			reason := err.Error()
			var decodeErr *envelope.DecodeError
			if errors.As(err, &decodeErr) && decodeErr.Err != nil {
				reason = decodeErr.Err.Error()
			}
			report.Malformed = append(report.Malformed, MalformedFrame{Line: line, Reason: reason})
			continue
		}
		if env.Type == "" {
			report.Untyped++
			continue
		}
		report.ByType[env.Type]++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return report, nil
}

func printReport(w io.Writer, report *FrameReport) {
	fmt.Fprintf(w, "Frames: %d\n", report.Total)

	types := make([]string, 0, len(report.ByType))
	for t := range report.ByType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if report.ByType[types[i]] != report.ByType[types[j]] {
			return report.ByType[types[i]] > report.ByType[types[j]]
		}
		return types[i] < types[j]
	})
	for _, t := range types {
		fmt.Fprintf(w, "  %-24s %d\n", t, report.ByType[t])
	}

	if report.Untyped > 0 {
		fmt.Fprintf(w, "WARNING: %d frames have no type and reach no listener\n", report.Untyped)
	}

	if len(report.Malformed) > 0 {
		fmt.Fprintf(w, "CRITICAL: %d frames are not valid envelopes\n", len(report.Malformed))
		for i, m := range report.Malformed {
			if i == maxExamples {
				fmt.Fprintf(w, "   ... and %d more\n", len(report.Malformed)-maxExamples)
				break
			}
			fmt.Fprintf(w, "   line %d: %s\n", m.Line, m.Reason)
		}
	} else {
		fmt.Fprintf(w, "All frames are valid envelopes\n")
	}
}
