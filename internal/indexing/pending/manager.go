// Package pending gates mempool move notifications on chain agreement.
// A pending move only makes sense to a subscriber once the block attach
// for the tip it was observed on has gone out, so moves arriving while the
// local chain still trails the node are held back.
package pending

import (
	"sync"

	logger "log/slog"

	"github.com/vietddude/gamelink/internal/core/domain"
)

// Publisher is the notification sink for pending moves.
type Publisher interface {
	SendPendingMoves(moves []domain.Move)
}

type Manager struct {
	pub Publisher
	log logger.Logger

	mu sync.Mutex
	// mempoolTip is the node's best block as last announced; chainTip is
	// how far the local chainstate (and thus the attach stream) has got.
	mempoolTip string
	chainTip   string
	queue      [][]domain.Move
}

func NewManager(pub Publisher) *Manager {
	return &Manager{
		pub: pub,
		log: *logger.Default(),
	}
}

// PendingMoves forwards or queues the moves of one mempool transaction.
// Moves seen before the node announced any tip are dropped; their context
// is unknown.
func (m *Manager) PendingMoves(moves []domain.Move) {
	if len(moves) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.mempoolTip == "":
		m.log.Debug("Dropping pending moves before first tip announcement")
	case m.mempoolTip == m.chainTip:
		m.pub.SendPendingMoves(moves)
	default:
		m.queue = append(m.queue, moves)
	}
}

// TipChanged records a new node tip. Queued moves were relative to the
// previous tip and are discarded; the mempool feed re-announces anything
// still relevant.
func (m *Manager) TipChanged(tip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tip == m.mempoolTip {
		return
	}
	m.mempoolTip = tip
	m.queue = nil
}

// ChainstateTipChanged records that the local chain reached the given tip
// and flushes the queue when it matches the node's.
func (m *Manager) ChainstateTipChanged(tip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chainTip = tip
	if m.chainTip != m.mempoolTip {
		return
	}
	for _, moves := range m.queue {
		m.pub.SendPendingMoves(moves)
	}
	m.queue = nil
}
