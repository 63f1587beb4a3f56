package stream_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	appendsvc "github.com/loomhq/loom/internal/domain/append"
	"github.com/loomhq/loom/internal/domain/contextbuild"
	"github.com/loomhq/loom/internal/domain/lease"
	"github.com/loomhq/loom/internal/domain/refs"
	"github.com/loomhq/loom/internal/domain/stream"
	"github.com/loomhq/loom/internal/llm"
	"github.com/loomhq/loom/internal/repository"
	"github.com/loomhq/loom/internal/repository/mocks"
)

type fakeCompletion struct {
	chunks []llm.Chunk
}

func (f *fakeCompletion) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func newTestService(t *testing.T, adapter llm.StreamingCompletion) (*stream.Service, *mocks.RefRepository, *mocks.LedgerRepository, *mocks.LeaseRepository, *mocks.ActivityRepository) {
	t.Helper()
	rr := new(mocks.RefRepository)
	lg := new(mocks.LedgerRepository)
	leaseRepo := new(mocks.LeaseRepository)
	ar := new(mocks.ActivityRepository)
	ar.On("Log", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	locks := lease.NewManager()
	appends := appendsvc.NewService(lg, ar, locks, time.Second, slog.Default())
	ctxBuilder := contextbuild.NewService(rr, lg, slog.Default())
	leases := lease.NewService(leaseRepo, slog.Default())

	registry := llm.NewRegistry()
	registry.Register(string(llm.ProviderOpenAIChat), adapter)

	svc := stream.NewService(rr, appends, ctxBuilder, leases, registry, stream.Defaults{}, slog.Default())
	return svc, rr, lg, leaseRepo, ar
}

func TestStartTurn_HappyPathAppendsBothTurnsAndForwardsChunks(t *testing.T) {
	adapter := &fakeCompletion{chunks: []llm.Chunk{
		{Type: llm.ChunkText, Content: "hello "},
		{Type: llm.ChunkText, Content: "world"},
		{Type: llm.ChunkMeta, ResponseID: "resp-1"},
	}}
	svc, rr, lg, leaseRepo, _ := newTestService(t, adapter)

	ref := &refs.Ref{ID: "r1", ProjectID: "p1", Provider: string(llm.ProviderOpenAIChat), Model: "gpt-4o-mini"}
	rr.On("Get", mock.Anything, "tenant-a", "r1").Return(ref, nil)
	leaseRepo.On("Acquire", mock.Anything, "tenant-a", mock.Anything).Return(nil)
	leaseRepo.On("Get", mock.Anything, "tenant-a", "p1", "r1").Return(&repository.Lease{SessionID: "sess-1"}, nil)
	leaseRepo.On("Release", mock.Anything, "tenant-a", "p1", "r1", "sess-1", false).Return(nil)
	lg.On("History", mock.Anything, "tenant-a", "r1", repository.HistoryOptions{Limit: 40, IncludeRawResponse: true}).Return([]refs.HistoryEntry{}, nil)
	lg.On("AppendNode", mock.Anything, "tenant-a", mock.MatchedBy(func(in repository.AppendNodeInput) bool {
		return in.Node.Role == refs.RoleUser
	})).Return(&repository.AppendNodeResult{CommitID: "c1", NodeID: "n1", Ordinal: 0}, nil)
	lg.On("AppendNode", mock.Anything, "tenant-a", mock.MatchedBy(func(in repository.AppendNodeInput) bool {
		return in.Node.Role == refs.RoleAssistant
	})).Return(&repository.AppendNodeResult{CommitID: "c2", NodeID: "n2", Ordinal: 1}, nil)

	events, err := svc.StartTurn(context.Background(), "tenant-a", stream.StartTurnRequest{
		ProjectID: "p1", RefID: "r1", UserID: "u1", SessionID: "sess-1", UserContent: "hi",
	})
	require.NoError(t, err)

	var chunkCount int
	var result *stream.TurnResult
	for ev := range events {
		switch ev.Type {
		case stream.EventChunk:
			chunkCount++
		case stream.EventDone:
			result = ev.Result
		case stream.EventFailed:
			t.Fatalf("unexpected failure: %v", ev.Err)
		}
	}
	require.Equal(t, 3, chunkCount)
	require.NotNil(t, result)
	require.Equal(t, "n1", result.UserNodeID)
	require.Equal(t, "n2", result.AssistantNodeID)
	require.False(t, result.Interrupted)
	require.NotNil(t, result.ResponseID)
	require.Equal(t, "resp-1", *result.ResponseID)
}

func TestStartTurn_ProviderErrorPersistsPartialAsInterrupted(t *testing.T) {
	adapter := &fakeCompletion{chunks: []llm.Chunk{
		{Type: llm.ChunkText, Content: "partial "},
		{Type: llm.ChunkError, Err: errors.New("upstream 500")},
	}}
	svc, rr, lg, leaseRepo, _ := newTestService(t, adapter)

	ref := &refs.Ref{ID: "r1", ProjectID: "p1", Provider: string(llm.ProviderOpenAIChat), Model: "gpt-4o-mini"}
	rr.On("Get", mock.Anything, "tenant-a", "r1").Return(ref, nil)
	leaseRepo.On("Acquire", mock.Anything, "tenant-a", mock.Anything).Return(nil)
	leaseRepo.On("Get", mock.Anything, "tenant-a", "p1", "r1").Return(&repository.Lease{SessionID: "sess-1"}, nil)
	leaseRepo.On("Release", mock.Anything, "tenant-a", "p1", "r1", "sess-1", false).Return(nil)
	lg.On("History", mock.Anything, "tenant-a", "r1", mock.Anything).Return([]refs.HistoryEntry{}, nil)
	lg.On("AppendNode", mock.Anything, "tenant-a", mock.MatchedBy(func(in repository.AppendNodeInput) bool {
		return in.Node.Role == refs.RoleUser
	})).Return(&repository.AppendNodeResult{CommitID: "c1", NodeID: "n1", Ordinal: 0}, nil)
	lg.On("AppendNode", mock.Anything, "tenant-a", mock.MatchedBy(func(in repository.AppendNodeInput) bool {
		return in.Node.Role == refs.RoleAssistant && in.Node.Interrupted && in.Node.Content == "partial "
	})).Return(&repository.AppendNodeResult{CommitID: "c2", NodeID: "n2", Ordinal: 1}, nil)

	events, err := svc.StartTurn(context.Background(), "tenant-a", stream.StartTurnRequest{
		ProjectID: "p1", RefID: "r1", UserID: "u1", SessionID: "sess-1", UserContent: "hi",
	})
	require.NoError(t, err)

	var failed *stream.TurnEvent
	for ev := range events {
		if ev.Type == stream.EventFailed {
			e := ev
			failed = &e
		}
	}
	require.NotNil(t, failed)
	require.ErrorContains(t, failed.Err, "upstream 500")
	require.NotNil(t, failed.Result)
	require.Equal(t, stream.StateFailed, failed.Result.State)
	require.True(t, failed.Result.Interrupted)
	require.Equal(t, "n2", failed.Result.AssistantNodeID)
	lg.AssertExpectations(t)
}

func TestStartTurn_PreemptionPersistsPartialAndReportsLeaseExpired(t *testing.T) {
	adapter := &fakeCompletion{chunks: []llm.Chunk{
		{Type: llm.ChunkText, Content: "slow reply"},
	}}
	svc, rr, lg, leaseRepo, _ := newTestService(t, adapter)

	ref := &refs.Ref{ID: "r1", ProjectID: "p1", Provider: string(llm.ProviderOpenAIChat), Model: "gpt-4o-mini"}
	rr.On("Get", mock.Anything, "tenant-a", "r1").Return(ref, nil)
	leaseRepo.On("Acquire", mock.Anything, "tenant-a", mock.Anything).Return(nil)
	// By stream end, another session holds a live lease.
	leaseRepo.On("Get", mock.Anything, "tenant-a", "p1", "r1").Return(&repository.Lease{
		SessionID: "usurper", ExpiresAt: time.Now().Add(time.Minute),
	}, nil)
	leaseRepo.On("Release", mock.Anything, "tenant-a", "p1", "r1", "sess-1", false).Return(nil)
	lg.On("History", mock.Anything, "tenant-a", "r1", mock.Anything).Return([]refs.HistoryEntry{}, nil)
	lg.On("AppendNode", mock.Anything, "tenant-a", mock.MatchedBy(func(in repository.AppendNodeInput) bool {
		return in.Node.Role == refs.RoleUser
	})).Return(&repository.AppendNodeResult{CommitID: "c1", NodeID: "n1", Ordinal: 0}, nil)
	lg.On("AppendNode", mock.Anything, "tenant-a", mock.MatchedBy(func(in repository.AppendNodeInput) bool {
		return in.Node.Role == refs.RoleAssistant && in.Node.Interrupted
	})).Return(&repository.AppendNodeResult{CommitID: "c2", NodeID: "n2", Ordinal: 1}, nil)

	events, err := svc.StartTurn(context.Background(), "tenant-a", stream.StartTurnRequest{
		ProjectID: "p1", RefID: "r1", UserID: "u1", SessionID: "sess-1", UserContent: "hi",
	})
	require.NoError(t, err)

	var failed *stream.TurnEvent
	for ev := range events {
		if ev.Type == stream.EventFailed {
			e := ev
			failed = &e
		}
	}
	require.NotNil(t, failed)
	require.ErrorIs(t, failed.Err, stream.ErrLeaseExpired)
	require.Equal(t, stream.StateAborted, failed.Result.State)
	require.Equal(t, "n2", failed.Result.AssistantNodeID)
	// The usurper owns previous_response_id now; we must not touch it.
	rr.AssertNotCalled(t, "SetProviderBinding", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartTurn_AbortBeforeFirstChunkPersistsEmptyInterruptedNode(t *testing.T) {
	blocked := make(chan llm.Chunk)
	adapter := &blockingCompletion{out: blocked}
	svc, rr, lg, leaseRepo, _ := newTestService(t, adapter)

	ref := &refs.Ref{ID: "r1", ProjectID: "p1", Provider: string(llm.ProviderOpenAIChat), Model: "gpt-4o-mini"}
	rr.On("Get", mock.Anything, "tenant-a", "r1").Return(ref, nil)
	leaseRepo.On("Acquire", mock.Anything, "tenant-a", mock.Anything).Return(nil)
	leaseRepo.On("Get", mock.Anything, "tenant-a", "p1", "r1").Return(&repository.Lease{SessionID: "sess-1"}, nil)
	leaseRepo.On("Release", mock.Anything, "tenant-a", "p1", "r1", "sess-1", false).Return(nil)
	lg.On("History", mock.Anything, "tenant-a", "r1", mock.Anything).Return([]refs.HistoryEntry{}, nil)
	lg.On("AppendNode", mock.Anything, "tenant-a", mock.MatchedBy(func(in repository.AppendNodeInput) bool {
		return in.Node.Role == refs.RoleUser
	})).Return(&repository.AppendNodeResult{CommitID: "c1", NodeID: "n1", Ordinal: 0}, nil)
	appended := make(chan struct{})
	lg.On("AppendNode", mock.Anything, "tenant-a", mock.MatchedBy(func(in repository.AppendNodeInput) bool {
		return in.Node.Role == refs.RoleAssistant && in.Node.Interrupted && in.Node.Content == ""
	})).Run(func(mock.Arguments) { close(appended) }).
		Return(&repository.AppendNodeResult{CommitID: "c2", NodeID: "n2", Ordinal: 1}, nil)

	events, err := svc.StartTurn(context.Background(), "tenant-a", stream.StartTurnRequest{
		ProjectID: "p1", RefID: "r1", UserID: "u1", SessionID: "sess-1", UserContent: "hi",
	})
	require.NoError(t, err)

	require.NoError(t, svc.AbortTurn("p1", "r1"))

	var done *stream.TurnResult
	for ev := range events {
		if ev.Type == stream.EventDone {
			done = ev.Result
		}
	}
	select {
	case <-appended:
	case <-time.After(time.Second):
		t.Fatal("assistant node was never persisted after abort")
	}
	require.NotNil(t, done)
	require.True(t, done.Interrupted)
	require.Equal(t, stream.StateAborted, done.State)
}

type blockingCompletion struct {
	out chan llm.Chunk
}

func (b *blockingCompletion) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return b.out, nil
}

func TestStartTurn_BusyLeaseReturnsRefBusy(t *testing.T) {
	svc, rr, _, leaseRepo, _ := newTestService(t, &fakeCompletion{})
	ref := &refs.Ref{ID: "r1", ProjectID: "p1", Provider: string(llm.ProviderOpenAIChat)}
	rr.On("Get", mock.Anything, "tenant-a", "r1").Return(ref, nil)
	leaseRepo.On("Acquire", mock.Anything, "tenant-a", mock.Anything).Return(repository.ErrConflict)
	leaseRepo.On("Get", mock.Anything, "tenant-a", "p1", "r1").Return(&repository.Lease{SessionID: "other-session", ExpiresAt: time.Now().Add(time.Minute)}, nil)

	_, err := svc.StartTurn(context.Background(), "tenant-a", stream.StartTurnRequest{
		ProjectID: "p1", RefID: "r1", UserID: "u1", SessionID: "sess-1", UserContent: "hi",
		LeaseWaitBound: 50 * time.Millisecond,
	})
	require.ErrorIs(t, err, stream.ErrRefBusy)
}
