package control

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/gamelink/internal/core/domain"
	"github.com/vietddude/gamelink/internal/infra/chain"
)

func TestGetBlockchainInfo(t *testing.T) {
	chain := chainBlocks("a", 6)
	c, _ := newTestController(t, nil)
	require.NoError(t, c.state.SetChain("main"))
	seedChain(t, c, chain)

	info, err := c.GetBlockchainInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "main", info.Chain)
	assert.Equal(t, int64(5), info.Blocks)
	assert.Equal(t, "a5", info.BestBlockHash)
}

func TestGetBlockchainInfoEmpty(t *testing.T) {
	c, _ := newTestController(t, nil)

	info, err := c.GetBlockchainInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(-1), info.Blocks)
	assert.Empty(t, info.BestBlockHash)
}

func TestGetBlockHash(t *testing.T) {
	chain := chainBlocks("a", 11)
	c, _ := newTestController(t, nil)
	seedChain(t, c, chain)
	c.state.Prune(4)

	hash, err := c.GetBlockHash(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "a7", hash)

	_, err = c.GetBlockHash(context.Background(), 2)
	assert.ErrorIs(t, err, domain.ErrBlockPruned)

	_, err = c.GetBlockHash(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrBlockNotFound)
}

func TestGetBlockHeader(t *testing.T) {
	chain := chainBlocks("a", 6)
	c, _ := newTestController(t, nil)
	seedChain(t, c, chain)

	header, err := c.GetBlockHeader(context.Background(), "a3")
	require.NoError(t, err)
	assert.Equal(t, BlockHeader{Hash: "a3", Height: 3}, header)

	_, err = c.GetBlockHeader(context.Background(), "bogus")
	assert.ErrorIs(t, err, domain.ErrBlockNotFound)
}

func TestTrackedGamesRoundTrip(t *testing.T) {
	c, _ := newTestController(t, nil)

	c.TrackGame("chess")
	c.TrackGame("tictactoe")
	c.UntrackGame("chess")

	assert.Equal(t, []string{"tictactoe"}, c.TrackedGames())
}

// unreachableAdapter fails the first query Run makes against the node.
type unreachableAdapter struct{}

func (a *unreachableAdapter) Start(ctx context.Context) error { return nil }
func (a *unreachableAdapter) SetCallbacks(cb chain.Callbacks) {}

func (a *unreachableAdapter) GetTipHeight(ctx context.Context) (uint64, error) {
	return 0, nil
}

func (a *unreachableAdapter) GetBlockRange(
	ctx context.Context,
	start, count uint64,
) ([]domain.Block, error) {
	return nil, nil
}

func (a *unreachableAdapter) GetChain(ctx context.Context) (string, error) {
	return "", errors.New("node unreachable")
}

func (a *unreachableAdapter) GetVersion(ctx context.Context) (uint64, error) {
	return 0, nil
}

func (a *unreachableAdapter) GetMempool(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (a *unreachableAdapter) VerifyMessage(
	ctx context.Context,
	msg, signature, addr string,
) (domain.Verification, error) {
	return domain.Verification{}, nil
}

func (a *unreachableAdapter) EnablePending(ctx context.Context) error { return nil }
func (a *unreachableAdapter) Close() error                            { return nil }

func TestRunClosesPublisherOnStartupFailure(t *testing.T) {
	c, pub := newTestController(t, nil)
	c.adapter = &unreachableAdapter{}

	err := c.Run(context.Background())
	assert.Error(t, err)
	assert.True(t, pub.closed)
}

func TestHealthStatus(t *testing.T) {
	chain := chainBlocks("a", 3)
	c, _ := newTestController(t, nil)
	require.NoError(t, c.state.SetChain("main"))

	status := c.Health(context.Background())
	assert.False(t, status.Healthy)

	seedChain(t, c, chain)

	status = c.Health(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "main", status.Chain)
	assert.Equal(t, int64(2), status.TipHeight)
	assert.Equal(t, "a2", status.TipHash)
}
