// Package simcheck runs a single simulation and inspects its console
// output for the completion marker and, under valgrind, memory and file
// descriptor errors.
package simcheck

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// CompletionMarker is printed by the simulator when it finishes normally.
const CompletionMarker = "Simulation complete"

// libstdc++ reserves an emergency exception pool of this size that is never
// freed; valgrind always reports it as still reachable.
const libstdcxxPool = "72,704 bytes"

// Kind classifies a finding.
type Kind string

const (
	KindIncomplete     Kind = `no "Simulation complete" message`
	KindOpenFD         Kind = "open file descriptor"
	KindDefinitelyLost Kind = "definitely lost memory"
	KindIndirectlyLost Kind = "indirectly lost memory"
	KindStillReachable Kind = "still reachable memory"
	KindUninitialised  Kind = "depends on uninitialised value"
)

// Finding is one problem found in the output. Line is 1-based, 0 for
// findings about the output as a whole.
type Finding struct {
	Kind Kind
	Line int
}

func (f Finding) String() string {
	if f.Line == 0 {
		return string(f.Kind)
	}
	return fmt.Sprintf("line %d: %s", f.Line, f.Kind)
}

// Result is the outcome of scanning one simulation's output.
type Result struct {
	Complete bool
	Findings []Finding
}

// Passed reports whether the scan found nothing wrong.
func (r *Result) Passed() bool {
	return len(r.Findings) == 0
}

var valgrindRules = []struct {
	match  string
	except string
	kind   Kind
}{
	{match: "blocks are definitely lost", kind: KindDefinitelyLost},
	{match: "blocks are indirectly lost", kind: KindIndirectlyLost},
	{match: "blocks are still reachable", except: libstdcxxPool, kind: KindStillReachable},
	{match: "depends on uninitialised value", kind: KindUninitialised},
}

// Scan reads simulator output. Valgrind rules apply only when valgrind is
// set. An open file descriptor is a finding unless the next line says it
// was inherited from the parent.
func Scan(r io.Reader, valgrind bool) (*Result, error) {
	res := &Result{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	openFD := 0
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()

		if openFD > 0 {
			if !strings.Contains(text, "inherited from parent") {
				res.Findings = append(res.Findings, Finding{Kind: KindOpenFD, Line: openFD})
			}
			openFD = 0
		}

		if strings.Contains(text, CompletionMarker) {
			res.Complete = true
		}
		if !valgrind {
			continue
		}
		if strings.Contains(text, "Open file descriptor") {
			openFD = line
		}
		for _, rule := range valgrindRules {
			if strings.Contains(text, rule.match) && (rule.except == "" || !strings.Contains(text, rule.except)) {
				res.Findings = append(res.Findings, Finding{Kind: rule.kind, Line: line})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading simulation output: %w", err)
	}
	if openFD > 0 {
		res.Findings = append(res.Findings, Finding{Kind: KindOpenFD, Line: openFD})
	}
	if !res.Complete {
		res.Findings = append(res.Findings, Finding{Kind: KindIncomplete})
	}
	return res, nil
}
