package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/gamelink/internal/core/domain"
	"github.com/vietddude/gamelink/internal/indexing/chainstate"
)

// fakeSource serves an in-memory main chain indexed by height.
type fakeSource struct {
	mu     gosync.Mutex
	blocks []domain.Block
}

func chainBlocks(parent string, startHeight uint64, prefix string, count int) []domain.Block {
	out := make([]domain.Block, count)
	for i := range out {
		hash := fmt.Sprintf("%s%d", prefix, int(startHeight)+i)
		out[i] = domain.Block{
			Hash:   hash,
			Parent: parent,
			Height: startHeight + uint64(i),
		}
		parent = hash
	}
	return out
}

func newFakeSource(height int) *fakeSource {
	return &fakeSource{blocks: chainBlocks("", 0, "a", height+1)}
}

// reorg replaces everything from forkHeight on with a fresh branch.
func (s *fakeSource) reorg(forkHeight uint64, prefix string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent := ""
	if forkHeight > 0 {
		parent = s.blocks[forkHeight-1].Hash
	}
	s.blocks = append(s.blocks[:forkHeight],
		chainBlocks(parent, forkHeight, prefix, count)...)
}

func (s *fakeSource) extend(prefix string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.blocks[len(s.blocks)-1]
	s.blocks = append(s.blocks,
		chainBlocks(last.Hash, last.Height+1, prefix, count)...)
}

func (s *fakeSource) GetTipHeight(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.blocks) - 1), nil
}

func (s *fakeSource) GetBlockRange(
	ctx context.Context,
	start, count uint64,
) ([]domain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if start >= uint64(len(s.blocks)) {
		return nil, nil
	}
	end := start + count
	if end > uint64(len(s.blocks)) {
		end = uint64(len(s.blocks))
	}
	return append([]domain.Block(nil), s.blocks[start:end]...), nil
}

type updateRecorder struct {
	mu       gosync.Mutex
	updates  []string
	attaches [][]domain.Block
}

func (r *updateRecorder) TipUpdatedFrom(oldTip string, attaches []domain.Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, oldTip)
	r.attaches = append(r.attaches, append([]domain.Block(nil), attaches...))
}

func (r *updateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *updateRecorder) lastAttachHashes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.attaches) == 0 {
		return nil
	}
	last := r.attaches[len(r.attaches)-1]
	hashes := make([]string, len(last))
	for i, blk := range last {
		hashes[i] = blk.Hash
	}
	return hashes
}

func newTestFollower(source BlockSource, pruningDepth uint64) (
	*Follower, *chainstate.Chainstate, *updateRecorder,
) {
	state := chainstate.New()
	var mu gosync.Mutex
	rec := &updateRecorder{}
	f := New(source, state, &mu, rec, pruningDepth, time.Second)
	return f, state, rec
}

// syncUntilIdle runs update steps until the follower reports being caught
// up, with a bound so broken logic fails the test instead of hanging it.
func syncUntilIdle(t *testing.T, f *Follower) {
	t.Helper()
	for i := 0; i < 100; i++ {
		more, err := f.updateStep(context.Background())
		require.NoError(t, err)
		if !more {
			return
		}
	}
	t.Fatal("follower did not catch up")
}

func tipHash(t *testing.T, state *chainstate.Chainstate) string {
	t.Helper()
	height := state.TipHeight()
	require.GreaterOrEqual(t, height, int64(0))
	hash, err := state.HashForHeight(uint64(height))
	require.NoError(t, err)
	return hash
}

func TestBootstrapAndCatchUp(t *testing.T) {
	source := newFakeSource(19)
	f, state, rec := newTestFollower(source, 5)

	syncUntilIdle(t, f)

	assert.Equal(t, int64(19), state.TipHeight())
	assert.Equal(t, "a19", tipHash(t, state))
	// The bootstrap block sits pruningDepth below the base tip.
	_, err := state.HashForHeight(14)
	assert.NoError(t, err)
	assert.Greater(t, rec.count(), 0)
	assert.Equal(t, "", rec.updates[0])
}

func TestFollowsNewBlocks(t *testing.T) {
	source := newFakeSource(10)
	f, state, rec := newTestFollower(source, 5)
	syncUntilIdle(t, f)
	before := rec.count()

	source.extend("a", 4)
	syncUntilIdle(t, f)

	assert.Equal(t, int64(14), state.TipHeight())
	assert.Equal(t, "a14", tipHash(t, state))
	assert.Greater(t, rec.count(), before)
}

func TestFollowsReorg(t *testing.T) {
	source := newFakeSource(20)
	f, state, _ := newTestFollower(source, 10)
	syncUntilIdle(t, f)
	require.Equal(t, "a20", tipHash(t, state))

	source.reorg(18, "b", 5)
	syncUntilIdle(t, f)

	assert.Equal(t, int64(22), state.TipHeight())
	assert.Equal(t, "b22", tipHash(t, state))

	// The displaced branch is still known for detach computation.
	branch, err := state.ForkBranch("a20")
	require.NoError(t, err)
	assert.Len(t, branch, 3)
}

func TestReorgBackToKnownBranch(t *testing.T) {
	source := newFakeSource(12)
	f, state, rec := newTestFollower(source, 100)
	syncUntilIdle(t, f)
	require.Equal(t, "a12", tipHash(t, state))

	source.reorg(11, "b", 3)
	syncUntilIdle(t, f)
	require.Equal(t, "b13", tipHash(t, state))

	// Flip back onto the original branch, now one block longer. Only a13
	// is fetched; the stored a11 and a12 get reactivated and must show up
	// in the attach list nevertheless.
	source.reorg(11, "a", 3)
	syncUntilIdle(t, f)

	assert.Equal(t, "a13", tipHash(t, state))
	assert.Equal(t, []string{"a11", "a12", "a13"}, rec.lastAttachHashes())
}

func TestIdleStepsDoNotNotify(t *testing.T) {
	source := newFakeSource(10)
	f, _, rec := newTestFollower(source, 5)
	syncUntilIdle(t, f)
	before := rec.count()

	syncUntilIdle(t, f)
	syncUntilIdle(t, f)
	assert.Equal(t, before, rec.count())
}

func TestDeepReorgWalkBack(t *testing.T) {
	// The walk-back range doubles per step, so even a fork point hundreds
	// of blocks down is located well within syncUntilIdle's step bound.
	source := newFakeSource(400)
	f, state, _ := newTestFollower(source, 500)
	syncUntilIdle(t, f)
	require.Equal(t, "a400", tipHash(t, state))

	source.reorg(2, "b", 450)
	syncUntilIdle(t, f)

	assert.Equal(t, int64(451), state.TipHeight())
	assert.Equal(t, "b451", tipHash(t, state))
}

func TestReorgBeyondPruningDepth(t *testing.T) {
	source := newFakeSource(50)
	f, state, _ := newTestFollower(source, 10)
	syncUntilIdle(t, f)

	state.Prune(45)
	source.reorg(30, "b", 30)

	var lastErr error
	for i := 0; i < 100; i++ {
		_, err := f.updateStep(context.Background())
		if err != nil {
			lastErr = err
			break
		}
	}
	assert.ErrorIs(t, lastErr, ErrReorgBeyondPruning)
}
