package pending

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vietddude/gamelink/internal/core/domain"
)

type fakePublisher struct {
	sent [][]domain.Move
}

func (p *fakePublisher) SendPendingMoves(moves []domain.Move) {
	p.sent = append(p.sent, moves)
}

func mv(txid string) []domain.Move {
	return []domain.Move{{Txid: txid, Namespace: "p", Name: "alice"}}
}

func TestDropsBeforeFirstTip(t *testing.T) {
	pub := &fakePublisher{}
	m := NewManager(pub)

	m.PendingMoves(mv("tx1"))
	m.TipChanged("t1")
	m.ChainstateTipChanged("t1")
	assert.Empty(t, pub.sent)
}

func TestSendsWhenTipsMatch(t *testing.T) {
	pub := &fakePublisher{}
	m := NewManager(pub)

	m.TipChanged("t1")
	m.ChainstateTipChanged("t1")
	m.PendingMoves(mv("tx1"))
	assert.Len(t, pub.sent, 1)
}

func TestQueuesUntilChainCatchesUp(t *testing.T) {
	pub := &fakePublisher{}
	m := NewManager(pub)

	m.TipChanged("t2")
	m.ChainstateTipChanged("t1")
	m.PendingMoves(mv("tx1"))
	m.PendingMoves(mv("tx2"))
	assert.Empty(t, pub.sent)

	m.ChainstateTipChanged("t2")
	assert.Len(t, pub.sent, 2)
	assert.Equal(t, "tx1", pub.sent[0][0].Txid)

	// The queue is flushed only once.
	m.ChainstateTipChanged("t2")
	assert.Len(t, pub.sent, 2)
}

func TestNewTipClearsQueue(t *testing.T) {
	pub := &fakePublisher{}
	m := NewManager(pub)

	m.TipChanged("t2")
	m.ChainstateTipChanged("t1")
	m.PendingMoves(mv("tx1"))

	m.TipChanged("t3")
	m.ChainstateTipChanged("t3")
	assert.Empty(t, pub.sent)

	m.PendingMoves(mv("tx2"))
	assert.Len(t, pub.sent, 1)
	assert.Equal(t, "tx2", pub.sent[0][0].Txid)
}

func TestEmptyBatchIgnored(t *testing.T) {
	pub := &fakePublisher{}
	m := NewManager(pub)
	m.TipChanged("t1")
	m.ChainstateTipChanged("t1")
	m.PendingMoves(nil)
	assert.Empty(t, pub.sent)
}
