package devtask

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/swarmd/internal/statestore"
)

type fakeStarter struct {
	mu     sync.Mutex
	ids    []string
	inputs []TaskInput
	err    error
}

func (s *fakeStarter) StartRun(_ context.Context, workflowID string, input TaskInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.ids = append(s.ids, workflowID)
	s.inputs = append(s.inputs, input)
	return fmt.Sprintf("run-%d", len(s.ids)), nil
}

func newFixActivities(store statestore.Store, starter RunStarter) *Activities {
	return NewActivities(ActivityDeps{Store: store, Starter: starter})
}

func TestCheckFixLoopDepthThreshold(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore(nil)
	acts := newFixActivities(store, &fakeStarter{})

	check, err := acts.CheckFixLoop(ctx, CheckFixLoopInput{OriginalTaskID: "tsk-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), check.Depth, "absent chain reads as depth zero")
	assert.False(t, check.IsLoop)

	_, err = store.IncrWithTTL(ctx, statestore.FixChainKey("tsk-1"), statestore.FixChainTTL)
	require.NoError(t, err)
	check, err = acts.CheckFixLoop(ctx, CheckFixLoopInput{OriginalTaskID: "tsk-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), check.Depth)
	assert.False(t, check.IsLoop, "one prior fix is still below the loop threshold")

	_, err = store.IncrWithTTL(ctx, statestore.FixChainKey("tsk-1"), statestore.FixChainTTL)
	require.NoError(t, err)
	check, err = acts.CheckFixLoop(ctx, CheckFixLoopInput{OriginalTaskID: "tsk-1"})
	require.NoError(t, err)
	assert.True(t, check.IsLoop)
}

func TestCheckFixLoopIsReadOnly(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore(nil)
	acts := newFixActivities(store, &fakeStarter{})

	for i := 0; i < 5; i++ {
		_, err := acts.CheckFixLoop(ctx, CheckFixLoopInput{OriginalTaskID: "tsk-1"})
		require.NoError(t, err)
	}
	depth, _, err := store.GetInt(ctx, statestore.FixChainKey("tsk-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth, "loop checks must not advance the chain")
}

func TestCreateFixTaskIncrementsChainAndSpawns(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore(nil)
	starter := &fakeStarter{}
	acts := newFixActivities(store, starter)

	spawn, err := acts.CreateFixTask(ctx, CreateFixTaskInput{
		OriginalTaskID: "tsk-9",
		Title:          "Add retry budget",
		Error:          "verify: smoke test timed out",
		CommitSHA:      "def456",
		TargetBranch:   "main",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), spawn.Depth)
	assert.Equal(t, "run-1", spawn.RunID)

	require.Len(t, starter.inputs, 1)
	assert.Equal(t, "task-tsk-9-fix-1", starter.ids[0])
	in := starter.inputs[0]
	assert.Equal(t, "tsk-9-fix-1", in.Task.ID)
	assert.Equal(t, "Fix: Add retry budget", in.Task.Title)
	assert.Contains(t, in.Task.Context, "smoke test timed out")
	assert.Contains(t, in.Task.Context, "def456")
	assert.True(t, in.SkipApproval)
	assert.True(t, in.IsFixAttempt)
	assert.Equal(t, "tsk-9", in.OriginalTaskID)

	depth, _, err := store.GetInt(ctx, statestore.FixChainKey("tsk-9"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestCreateFixTaskConcurrentFailuresClaimDistinctDepths(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore(nil)
	starter := &fakeStarter{}
	acts := newFixActivities(store, starter)

	const n = 8
	depths := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			spawn, err := acts.CreateFixTask(ctx, CreateFixTaskInput{
				OriginalTaskID: "tsk-9",
				Title:          "t",
				Error:          "e",
			})
			if err == nil {
				depths <- spawn.Depth
			}
		}()
	}
	wg.Wait()
	close(depths)

	seen := map[int64]bool{}
	for d := range depths {
		require.False(t, seen[d], "depth %d claimed twice", d)
		seen[d] = true
	}
	assert.Len(t, seen, n)
}

func TestCreateFixTaskSpawnFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore(nil)
	acts := newFixActivities(store, &fakeStarter{err: errors.New("namespace unavailable")})

	_, err := acts.CreateFixTask(ctx, CreateFixTaskInput{OriginalTaskID: "tsk-9", Title: "t", Error: "e"})
	require.Error(t, err)

	// The depth was claimed before the spawn failed; the gap is accepted.
	depth, _, gerr := store.GetInt(ctx, statestore.FixChainKey("tsk-9"))
	require.NoError(t, gerr)
	assert.Equal(t, int64(1), depth)
}

func TestFixWorkflowIDShape(t *testing.T) {
	assert.Equal(t, "task-tsk-9", WorkflowID("tsk-9"))
	assert.Equal(t, "task-tsk-9-fix-2", FixWorkflowID("tsk-9", 2))
}
