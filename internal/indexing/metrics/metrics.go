package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksAttached tracks blocks attached to the local chain state
	BlocksAttached = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamelink_blocks_attached_total",
			Help: "Total number of blocks attached to the chain state",
		},
	)

	// BlocksDetached tracks blocks detached during reorgs
	BlocksDetached = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamelink_blocks_detached_total",
			Help: "Total number of blocks detached from the chain state",
		},
	)

	// ChainTipHeight tracks the height of the current canonical tip
	ChainTipHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gamelink_chain_tip_height",
			Help: "Height of the current canonical chain tip",
		},
	)

	// NotificationsSent tracks ZMQ notifications per topic prefix
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamelink_notifications_sent_total",
			Help: "Total number of ZMQ notifications sent",
		},
		[]string{"prefix"},
	)

	// PendingMovesSeen tracks pending moves received from the base chain
	PendingMovesSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamelink_pending_moves_total",
			Help: "Total number of pending moves observed in the mempool",
		},
	)

	// RPCCallsTotal tracks upstream RPC calls per client and method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamelink_rpc_calls_total",
			Help: "Total number of upstream RPC calls",
		},
		[]string{"client", "method"},
	)

	// RPCErrorsTotal tracks upstream RPC errors per client and method
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamelink_rpc_errors_total",
			Help: "Total number of upstream RPC errors",
		},
		[]string{"client", "method"},
	)

	// RPCLatency tracks upstream RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamelink_rpc_latency_seconds",
			Help:    "Upstream RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"client", "method"},
	)

	// BlockCacheHits tracks block ranges served from the block cache
	BlockCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamelink_block_cache_hits_total",
			Help: "Total number of block range requests served from the cache",
		},
	)

	// BlockCacheMisses tracks block ranges that had to go upstream
	BlockCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamelink_block_cache_misses_total",
			Help: "Total number of block range requests forwarded upstream",
		},
	)
)
