package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runcontrolplane/rcp/eventlog"
)

func TestStoreAppendAssignsContiguousSeq(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := eventlog.NewEvent("run-1", "planning", eventlog.SeverityInfo, eventlog.ToolCalledPayload{
			ToolName: "read_file",
		})
		stored, err := s.Append(ctx, ev)
		require.NoError(t, err)
		require.Equal(t, int64(i), stored.Seq)
	}

	seq, err := s.LatestSeq(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), seq)
}

func TestStoreLatestSeqEmptyRunIsMinusOne(t *testing.T) {
	t.Parallel()

	s := New()
	seq, err := s.LatestSeq(context.Background(), "never-seen")
	require.NoError(t, err)
	require.Equal(t, int64(-1), seq)
}

func TestStoreAppendIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	ev := eventlog.NewEvent("run-1", "planning", eventlog.SeverityInfo, eventlog.ToolCalledPayload{
		ToolName: "read_file",
	})
	first, err := s.Append(ctx, ev)
	require.NoError(t, err)

	second, err := s.Append(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, first.Seq, second.Seq)

	seq, err := s.LatestSeq(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), seq, "re-appending the same event id must not advance seq")
}

func TestStoreAppendRejectsConflictingReuse(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	ev := eventlog.NewEvent("run-1", "planning", eventlog.SeverityInfo, eventlog.ToolCalledPayload{
		ToolName: "read_file",
	})
	_, err := s.Append(ctx, ev)
	require.NoError(t, err)

	conflict := *ev
	conflict.Payload = eventlog.ToolCalledPayload{ToolName: "write_file"}
	_, err = s.Append(ctx, &conflict)
	require.ErrorIs(t, err, eventlog.ErrDuplicateEvent)
}

func TestStoreQueryPaginatesAndFilters(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	_, err := s.Append(ctx, eventlog.NewEvent("run-1", "planning", eventlog.SeverityInfo,
		eventlog.RunStartedPayload{WorkspaceID: "ws-1", TemplateID: "tpl-1"}))
	require.NoError(t, err)
	_, err = s.Append(ctx, eventlog.NewEvent("run-1", "executing", eventlog.SeverityInfo,
		eventlog.ToolCalledPayload{ToolName: "read_file"}))
	require.NoError(t, err)
	_, err = s.Append(ctx, eventlog.NewEvent("run-1", "executing", eventlog.SeverityInfo,
		eventlog.ToolCalledPayload{ToolName: "write_file"}))
	require.NoError(t, err)

	page1, err := s.Query(ctx, "run-1", eventlog.QueryOptions{AfterSeq: -1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1.Events, 2)
	require.True(t, page1.HasMore)
	require.Equal(t, "1", page1.Cursor)

	page2, err := s.Query(ctx, "run-1", eventlog.QueryOptions{Cursor: page1.Cursor})
	require.NoError(t, err)
	require.Len(t, page2.Events, 1)
	require.False(t, page2.HasMore)

	filtered, err := s.Query(ctx, "run-1", eventlog.QueryOptions{
		AfterSeq: -1,
		Types:    []eventlog.EventType{eventlog.TypeToolCalled},
	})
	require.NoError(t, err)
	require.Len(t, filtered.Events, 2)
}

func TestStoreStats(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	_, err := s.Append(ctx, eventlog.NewEvent("run-1", "planning", eventlog.SeverityInfo,
		eventlog.RunStartedPayload{WorkspaceID: "ws-1", TemplateID: "tpl-1"}))
	require.NoError(t, err)
	_, err = s.Append(ctx, eventlog.NewEvent("run-1", "executing", eventlog.SeverityInfo,
		eventlog.ToolCalledPayload{ToolName: "read_file"}))
	require.NoError(t, err)

	stats, err := s.Stats(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.EventCount)
	require.Equal(t, int64(1), stats.LatestSeq)
	require.Equal(t, int64(1), stats.ByType[eventlog.TypeRunStarted])
	require.Equal(t, int64(1), stats.ByType[eventlog.TypeToolCalled])
}

func TestStoreGetByIDNotFound(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	_, err := s.GetByID(ctx, "run-1", "missing")
	require.ErrorIs(t, err, eventlog.ErrRunNotFound)
}

func TestStoreAppendRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	ev := eventlog.NewEvent("run-1", "executing", eventlog.SeverityError, eventlog.ToolResultPayload{
		ToolName: "read_file",
		Success:  false,
	})
	_, err := s.Append(ctx, ev)
	require.ErrorIs(t, err, eventlog.ErrInvalidPayload)
}
