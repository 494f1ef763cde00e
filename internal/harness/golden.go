package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrace renders a trace one event per line, operations indented
// below their content event:
//
//	#0002 status  A - -> loading
//	#0004 content A source=user fields=world_state changed=character:npc1
//	        modify character npc1.hp subtract 10
func FormatTrace(trace []TraceEvent) string {
	var buf strings.Builder
	for _, ev := range trace {
		switch ev.Type {
		case EventStatus:
			from := ev.From
			if from == "" {
				from = "-"
			}
			fmt.Fprintf(&buf, "#%04d status  %s %s -> %s\n", ev.Seq, ev.BlockID, from, ev.Status)
		case EventContent:
			fmt.Fprintf(&buf, "#%04d content %s source=%s fields=%s", ev.Seq, ev.BlockID, ev.Source, strings.Join(ev.Fields, ","))
			if len(ev.Changed) > 0 {
				fmt.Fprintf(&buf, " changed=%s", strings.Join(ev.Changed, ","))
			}
			buf.WriteByte('\n')
			for _, op := range ev.Operations {
				fmt.Fprintf(&buf, "        %s\n", op)
			}
		}
	}
	return buf.String()
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(FormatTrace(result.RelativeTrace())))
}
