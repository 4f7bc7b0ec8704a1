// Package control wires the chain adapter, follower, block cache and
// notification publisher together and owns the shared chainstate. It is
// the backend behind the JSON-RPC surface.
package control

import (
	"context"
	"fmt"
	gosync "sync"

	logger "log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/gamelink/internal/core/config"
	"github.com/vietddude/gamelink/internal/core/domain"
	"github.com/vietddude/gamelink/internal/indexing/blockcache"
	"github.com/vietddude/gamelink/internal/indexing/chainstate"
	"github.com/vietddude/gamelink/internal/indexing/health"
	"github.com/vietddude/gamelink/internal/indexing/pending"
	chainsync "github.com/vietddude/gamelink/internal/indexing/sync"
	"github.com/vietddude/gamelink/internal/indexing/zmqpub"
	"github.com/vietddude/gamelink/internal/infra/chain"
	"github.com/vietddude/gamelink/internal/infra/chain/core"
	"github.com/vietddude/gamelink/internal/infra/chain/eth"
	"github.com/vietddude/gamelink/internal/infra/rpc"
	"github.com/vietddude/gamelink/internal/infra/storage"
	"github.com/vietddude/gamelink/internal/infra/storage/memory"
	"github.com/vietddude/gamelink/internal/infra/storage/postgres"
	redisstore "github.com/vietddude/gamelink/internal/infra/storage/redis"
)

// Publisher is the notification transport; satisfied by the ZMQ
// publisher and by test doubles.
type Publisher interface {
	Run(ctx context.Context)
	Close() error
	TrackGame(gameID string)
	UntrackGame(gameID string)
	TrackedGames() []string
	SendBlockAttach(blk domain.Block, reqtoken string)
	SendBlockDetach(blk domain.Block, reqtoken string)
	SendPendingMoves(moves []domain.Move)
}

// Controller is the main application struct managing the connector
// lifecycle. All chainstate access goes through its mutex.
type Controller struct {
	cfg *config.AppConfig
	log logger.Logger

	adapter chain.Adapter
	state   *chainstate.Chainstate
	mu      gosync.Mutex

	source   *blockcache.CachingSource
	follower *chainsync.Follower
	pub      Publisher
	pending  *pending.Manager

	store storage.BlockStore

	health *health.Server

	// cancel is installed by Run; Stop may race it.
	cancelMu gosync.Mutex
	cancel   context.CancelFunc
}

// adapterCallbacks fans base-chain notifications out to the follower and
// the pending manager.
type adapterCallbacks struct {
	c *Controller
}

func (a *adapterCallbacks) TipChanged(tip string) {
	a.c.follower.TipChanged(tip)
	a.c.pending.TipChanged(tip)
}

func (a *adapterCallbacks) PendingMoves(moves []domain.Move) {
	a.c.pending.PendingMoves(moves)
}

// NewController creates a controller with all dependencies initialized.
func NewController(cfg *config.AppConfig) (*Controller, error) {
	c := &Controller{
		cfg:   cfg,
		log:   *logger.Default(),
		state: chainstate.New(),
	}

	// 1. Base-chain adapter
	switch cfg.Chain.Kind {
	case domain.ChainKindCore:
		client := rpc.NewClient("core", cfg.Chain.RPCURL, rpc.V1, cfg.Chain.RPCTimeout)
		c.adapter = core.NewCoreAdapter(client)
	case domain.ChainKindEth:
		client := rpc.NewClient("eth", cfg.Chain.RPCURL, rpc.V2, cfg.Chain.RPCTimeout)
		c.adapter = eth.NewEthAdapter(
			client,
			cfg.Chain.AccountsContract,
			cfg.Chain.WatchedContracts,
			cfg.Chain.Network,
		)
	default:
		return nil, fmt.Errorf("unsupported chain kind %q", cfg.Chain.Kind)
	}

	// 2. Block cache
	store, err := newBlockStore(cfg)
	if err != nil {
		return nil, err
	}
	c.store = store
	c.source = blockcache.New(c.adapter, store, cfg.Cache.MinDepth)

	// 3. Notification publisher
	pub, err := zmqpub.New(cfg.ZMQ.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to bind publisher: %w", err)
	}
	c.pub = pub
	for _, game := range cfg.Games {
		pub.TrackGame(game)
	}

	c.pending = pending.NewManager(pub)

	// 4. Follower, pushing updates back through the controller
	c.follower = chainsync.New(
		c.source,
		c.state,
		&c.mu,
		c,
		cfg.Sync.PruningDepth,
		cfg.Sync.ResyncInterval,
	)

	c.adapter.SetCallbacks(&adapterCallbacks{c: c})

	if cfg.Server.HealthPort > 0 {
		c.health = health.NewServer(c, cfg.Server.HealthPort)
	}

	return c, nil
}

func newBlockStore(cfg *config.AppConfig) (storage.BlockStore, error) {
	switch cfg.Cache.Backend {
	case "none":
		return nil, nil
	case "memory":
		return memory.NewMemoryStore(cfg.Cache.Retain), nil
	case "redis":
		store, err := redisstore.NewStore(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis cache: %w", err)
		}
		return store, nil
	case "postgres":
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate("migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		return postgres.NewStore(db), nil
	default:
		return nil, fmt.Errorf("invalid cache backend %q", cfg.Cache.Backend)
	}
}

// Run starts all components and blocks until ctx is cancelled, Stop is
// called or the follower hits an unrecoverable reorg.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()

	chainName, err := c.adapter.GetChain(ctx)
	if err != nil {
		c.closeResources()
		return fmt.Errorf("failed to query chain: %w", err)
	}
	c.mu.Lock()
	err = c.state.SetChain(chainName)
	c.mu.Unlock()
	if err != nil {
		c.closeResources()
		return err
	}
	c.log.Info("Connected to base chain", "chain", chainName)

	if err := c.adapter.Start(ctx); err != nil {
		c.closeResources()
		return fmt.Errorf("failed to start chain adapter: %w", err)
	}

	if c.cfg.Chain.Pending {
		if err := c.adapter.EnablePending(ctx); err != nil {
			c.log.Warn("Pending moves unavailable", "error", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.pub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return c.follower.Run(ctx)
	})
	if c.health != nil {
		g.Go(func() error {
			go func() {
				<-ctx.Done()
				c.health.Stop(context.Background())
			}()
			if err := c.health.Start(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("health server failed: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	c.closeResources()
	return err
}

// closeResources releases the adapter, publisher and block store. Called
// on every exit path of Run, including failures before the components
// were started.
func (c *Controller) closeResources() {
	if cerr := c.adapter.Close(); cerr != nil {
		c.log.Warn("Failed to close chain adapter", "error", cerr)
	}
	if cerr := c.pub.Close(); cerr != nil {
		c.log.Warn("Failed to close publisher", "error", cerr)
	}
	if c.store != nil {
		if cerr := c.store.Close(); cerr != nil {
			c.log.Warn("Failed to close block store", "error", cerr)
		}
	}
}

// Stop terminates a running controller; safe from any goroutine,
// including RPC handlers.
func (c *Controller) Stop() {
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// BlockchainInfo is the getblockchaininfo result.
type BlockchainInfo struct {
	Chain         string `json:"chain"`
	Blocks        int64  `json:"blocks"`
	BestBlockHash string `json:"bestblockhash"`
}

// BlockHeader is the getblockheader result.
type BlockHeader struct {
	Hash   string `json:"hash"`
	Height uint64 `json:"height"`
}

// GetBlockchainInfo reports the chain name and current canonical tip.
func (c *Controller) GetBlockchainInfo(ctx context.Context) (BlockchainInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := BlockchainInfo{
		Chain:  c.state.Chain(),
		Blocks: c.state.TipHeight(),
	}
	if info.Blocks >= 0 {
		hash, err := c.state.HashForHeight(uint64(info.Blocks))
		if err != nil {
			return BlockchainInfo{}, err
		}
		info.BestBlockHash = hash
	}
	return info, nil
}

// GetBlockHash returns the canonical block hash at the given height.
// Heights below the retained window yield domain.ErrBlockPruned, heights
// beyond the tip domain.ErrBlockNotFound.
func (c *Controller) GetBlockHash(ctx context.Context, height uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.HashForHeight(height)
}

// GetBlockHeader resolves a block hash to its header. Only blocks in the
// retained window are known.
func (c *Controller) GetBlockHeader(ctx context.Context, hash string) (BlockHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	height, ok := c.state.HeightForHash(hash)
	if !ok {
		return BlockHeader{}, domain.ErrBlockNotFound
	}
	return BlockHeader{Hash: hash, Height: height}, nil
}

// TrackGame opts all subscribers into the given game's topics.
func (c *Controller) TrackGame(gameID string) {
	c.pub.TrackGame(gameID)
}

// UntrackGame removes a game from the tracked set.
func (c *Controller) UntrackGame(gameID string) {
	c.pub.UntrackGame(gameID)
}

// TrackedGames lists the currently tracked game ids.
func (c *Controller) TrackedGames() []string {
	return c.pub.TrackedGames()
}

// VerifyMessage delegates signature checks to the chain adapter.
func (c *Controller) VerifyMessage(
	ctx context.Context,
	msg, signature, addr string,
) (domain.Verification, error) {
	return c.adapter.VerifyMessage(ctx, msg, signature, addr)
}

// GetMempool lists tracked pending txids in observation order.
func (c *Controller) GetMempool(ctx context.Context) ([]string, error) {
	return c.adapter.GetMempool(ctx)
}

// GetVersion reports the connected node's version.
func (c *Controller) GetVersion(ctx context.Context) (uint64, error) {
	return c.adapter.GetVersion(ctx)
}

// ZMQAddress is the notification endpoint advertised to subscribers.
func (c *Controller) ZMQAddress() string {
	return c.cfg.ZMQ.Address
}

// Health implements health.Prober.
func (c *Controller) Health(ctx context.Context) health.Status {
	c.mu.Lock()
	status := health.Status{
		Chain:     c.state.Chain(),
		TipHeight: c.state.TipHeight(),
	}
	if status.TipHeight >= 0 {
		status.TipHash, _ = c.state.HashForHeight(uint64(status.TipHeight))
	}
	c.mu.Unlock()

	status.Healthy = status.TipHeight >= 0
	status.TrackedGames = c.pub.TrackedGames()
	return status
}
