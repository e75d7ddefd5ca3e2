package inmem

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/runcontrolplane/rcp/eventlog"
)

// TestAppendSeqIsContiguousAndGapFree verifies spec §8's quantified
// invariant: for any two consecutive events in a run's log, e2.seq ==
// e1.seq+1, and LatestSeq always matches the last appended seq.
func TestAppendSeqIsContiguousAndGapFree(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("appended events carry contiguous, gap-free seq", prop.ForAll(
		func(toolNames []string) bool {
			s := New()
			ctx := context.Background()

			for i, name := range toolNames {
				stored, err := s.Append(ctx, eventlog.NewEvent("run-1", "executing", eventlog.SeverityInfo,
					eventlog.ToolCalledPayload{ToolName: name}))
				if err != nil {
					return false
				}
				if stored.Seq != int64(i) {
					return false
				}
			}

			seq, err := s.LatestSeq(ctx, "run-1")
			if err != nil {
				return false
			}
			return seq == int64(len(toolNames)-1)
		},
		gen.SliceOf(gen.OneConstOf("read_file", "write_file", "shell", "search")),
	))

	properties.Property("re-appending the same event id never advances seq", prop.ForAll(
		func(toolName string) bool {
			s := New()
			ctx := context.Background()

			ev := eventlog.NewEvent("run-1", "executing", eventlog.SeverityInfo,
				eventlog.ToolCalledPayload{ToolName: toolName})
			first, err := s.Append(ctx, ev)
			if err != nil {
				return false
			}
			second, err := s.Append(ctx, ev)
			if err != nil {
				return false
			}
			return first.Seq == second.Seq
		},
		gen.OneConstOf("read_file", "write_file", "shell", "search"),
	))

	properties.TestingRun(t)
}

// TestQueryReplayEqualsLogSuffix verifies spec §8's query replay law: for
// any k in [-1, last_seq], Query(after_seq=k) equals the suffix of the log
// after seq k.
func TestQueryReplayEqualsLogSuffix(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("query(after_seq=k) equals the log suffix after k", prop.ForAll(
		func(toolNames []string) bool {
			if len(toolNames) == 0 {
				return true
			}
			s := New()
			ctx := context.Background()
			for _, name := range toolNames {
				if _, err := s.Append(ctx, eventlog.NewEvent("run-1", "executing", eventlog.SeverityInfo,
					eventlog.ToolCalledPayload{ToolName: name})); err != nil {
					return false
				}
			}

			for k := int64(-1); k < int64(len(toolNames)); k++ {
				page, err := s.Query(ctx, "run-1", eventlog.QueryOptions{AfterSeq: k, Limit: len(toolNames) + 1})
				if err != nil {
					return false
				}
				want := int(int64(len(toolNames)) - (k + 1))
				if len(page.Events) != want {
					return false
				}
				for i, ev := range page.Events {
					if ev.Seq != k+1+int64(i) {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.OneConstOf("read_file", "write_file", "shell")),
	))

	properties.TestingRun(t)
}
