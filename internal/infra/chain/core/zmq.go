package core

import (
	"context"
	"encoding/hex"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	zmq "github.com/pebbe/zmq4"

	"github.com/vietddude/gamelink/internal/core/domain"
	"github.com/vietddude/gamelink/internal/indexing/metrics"
)

func newSubscriber(addr, topic string) (*zmq.Socket, error) {
	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, err
	}
	if err := sub.SetSubscribe(topic); err != nil {
		sub.Close()
		return nil, err
	}
	// Bounded receive so the loop can observe context cancellation.
	if err := sub.SetRcvtimeo(time.Second); err != nil {
		sub.Close()
		return nil, err
	}
	if err := sub.Connect(addr); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}

// listen runs a SUB loop on the given endpoint and invokes handle with the
// payload frame of each message matching topic.
func (a *CoreAdapter) listen(ctx context.Context, addr, topic string, handle func([]byte)) {
	sub, err := newSubscriber(addr, topic)
	if err != nil {
		a.log.Error("Failed to connect ZMQ subscriber",
			"address", addr, "topic", topic, "error", err)
		return
	}
	defer sub.Close()

	a.log.Info("Listening for node notifications", "address", addr, "topic", topic)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frames, err := sub.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			a.log.Warn("ZMQ receive failed", "topic", topic, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if len(frames) < 2 || string(frames[0]) != topic {
			a.log.Warn("Skipping malformed ZMQ message",
				"topic", topic, "parts", len(frames))
			continue
		}
		handle(frames[1])
	}
}

// listenHashBlock forwards new tip hashes to the registered callbacks. The
// node publishes hashes in internal byte order, the reverse of the RPC
// representation.
func (a *CoreAdapter) listenHashBlock(ctx context.Context, addr string) {
	a.listen(ctx, addr, "hashblock", func(payload []byte) {
		hash, err := chainhash.NewHash(payload)
		if err != nil {
			a.log.Warn("Invalid block hash notification", "error", err)
			return
		}
		if cb := a.callbacks(); cb != nil {
			cb.TipChanged(hash.String())
		}
	})
}

// listenRawTx decodes mempool transactions through the node and forwards
// any extracted moves.
func (a *CoreAdapter) listenRawTx(ctx context.Context, addr string) {
	a.listen(ctx, addr, "rawtx", func(payload []byte) {
		var tx rpcTx
		err := a.client.Call(ctx, "decoderawtransaction",
			[]any{hex.EncodeToString(payload)}, &tx)
		if err != nil {
			a.log.Warn("Failed to decode mempool transaction", "error", err)
			return
		}

		mv, ok := extractMove(tx)
		if !ok {
			return
		}
		metrics.PendingMovesSeen.Inc()
		if cb := a.callbacks(); cb != nil {
			cb.PendingMoves([]domain.Move{mv})
		}
	})
}
