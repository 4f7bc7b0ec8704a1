// Package zmqpub publishes block-attach, block-detach and pending-move
// notifications to Game State Processors over a ZMQ PUB socket.
//
// Each message has three frames: the topic string, the compact JSON body
// and a 4-byte little-endian sequence number. Sequence numbers are kept
// per exact topic string, are strictly increasing for the lifetime of the
// process and are only incremented after a successful send.
package zmqpub

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	zmq "github.com/pebbe/zmq4"

	"github.com/vietddude/gamelink/internal/core/domain"
	"github.com/vietddude/gamelink/internal/indexing/metrics"
)

const (
	prefixAttach  = "game-block-attach"
	prefixDetach  = "game-block-detach"
	prefixPending = "game-pending-move"

	// High-water mark on the PUB socket; slow subscribers drop messages
	// at the socket rather than blocking the daemon.
	sendHWM = 1000

	// queueSize bounds the internal queue decoupling the follower from
	// socket writes.
	queueSize = 4096
)

type message struct {
	topic   string
	prefix  string
	payload []byte
}

// Publisher owns the PUB socket and the per-topic sequence counters.
type Publisher struct {
	log *slog.Logger

	mu    sync.Mutex
	games map[string]struct{}

	queue chan message

	sock *zmq.Socket
	// seq is owned by the Run goroutine exclusively.
	seq map[string]uint32

	started chan struct{}
	done    chan struct{}
}

// New binds the publisher to the given ZMQ address.
func New(addr string) (*Publisher, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("create pub socket: %w", err)
	}
	if err := sock.SetSndhwm(sendHWM); err != nil {
		sock.Close()
		return nil, fmt.Errorf("set sndhwm: %w", err)
	}
	if err := sock.SetTcpKeepalive(1); err != nil {
		sock.Close()
		return nil, fmt.Errorf("set keepalive: %w", err)
	}
	if err := sock.Bind(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	slog.Info("Bound ZMQ publisher", "address", addr)

	return &Publisher{
		log:     slog.Default(),
		games:   make(map[string]struct{}),
		queue:   make(chan message, queueSize),
		sock:    sock,
		seq:     make(map[string]uint32),
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Run consumes the internal queue and performs all socket writes. It
// returns when ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	close(p.started)
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			if err := p.send(msg); err != nil {
				p.log.Error("Failed to send ZMQ notification",
					"topic", msg.topic, "error", err)
			}
		}
	}
}

func (p *Publisher) send(msg message) error {
	if _, err := p.sock.Send(msg.topic, zmq.SNDMORE); err != nil {
		return err
	}

	// Once the first frame is out, ZMQ guarantees atomic delivery of the
	// remaining parts.
	if _, err := p.sock.SendBytes(msg.payload, zmq.SNDMORE); err != nil {
		return err
	}
	seqBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(seqBytes, p.seq[msg.topic])
	if _, err := p.sock.SendBytes(seqBytes, 0); err != nil {
		return err
	}

	// Increment only after the whole message went out, so a failed send
	// keeps the previous number.
	p.seq[msg.topic]++
	metrics.NotificationsSent.WithLabelValues(msg.prefix).Inc()
	return nil
}

// Close shuts the socket down without lingering. If Run was started it
// must have returned before the socket can be closed underneath it.
func (p *Publisher) Close() error {
	select {
	case <-p.started:
		<-p.done
	default:
	}
	p.sock.SetLinger(0)
	return p.sock.Close()
}

// TrackGame starts sending notifications for the given game id.
func (p *Publisher) TrackGame(gameID string) {
	p.log.Info("Tracking game", "game", gameID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.games[gameID] = struct{}{}
}

// UntrackGame stops sending notifications for the given game id.
func (p *Publisher) UntrackGame(gameID string) {
	p.log.Info("Untracking game", "game", gameID)
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.games, gameID)
}

// TrackedGames returns the currently tracked game ids, sorted.
func (p *Publisher) TrackedGames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedKeys(p.games)
}

// SendBlockAttach publishes a block-attach notification for all tracked
// games.
func (p *Publisher) SendBlockAttach(blk domain.Block, reqtoken string) {
	p.log.Debug("Block attach", "hash", blk.Hash, "height", blk.Height)
	p.sendBlock(prefixAttach, blk, reqtoken)
}

// SendBlockDetach publishes a block-detach notification for all tracked
// games.
func (p *Publisher) SendBlockDetach(blk domain.Block, reqtoken string) {
	p.log.Debug("Block detach", "hash", blk.Hash, "height", blk.Height)
	p.sendBlock(prefixDetach, blk, reqtoken)
}

func (p *Publisher) sendBlock(prefix string, blk domain.Block, reqtoken string) {
	p.mu.Lock()
	msgs := buildBlockMessages(prefix, sortedKeys(p.games), blk, reqtoken)
	p.mu.Unlock()

	for _, m := range msgs {
		p.enqueue(m)
	}
}

// SendPendingMoves publishes the moves of one pending transaction to all
// tracked games they belong to. Games without any entries get no message.
func (p *Publisher) SendPendingMoves(moves []domain.Move) {
	p.mu.Lock()
	msgs := buildPendingMessages(sortedKeys(p.games), moves)
	p.mu.Unlock()

	for _, m := range msgs {
		p.enqueue(m)
	}
}

func (p *Publisher) enqueue(m message) {
	select {
	case p.queue <- m:
	case <-p.done:
		p.log.Warn("Publisher stopped, dropping notification", "topic", m.topic)
	}
}

// buildBlockMessages constructs the per-game notification bodies for one
// block. Every tracked game receives a message, with the moves and admin
// commands relevant for it (possibly empty arrays).
func buildBlockMessages(prefix string, games []string, blk domain.Block, reqtoken string) []message {
	blkJSON := make(map[string]any, len(blk.Metadata)+4)
	for k, v := range blk.Metadata {
		blkJSON[k] = v
	}
	blkJSON["hash"] = blk.Hash
	blkJSON["parent"] = blk.Parent
	blkJSON["height"] = blk.Height
	blkJSON["rngseed"] = blk.RngSeed

	perGameMoves := make(map[string][]any, len(games))
	perGameAdmin := make(map[string][]any, len(games))
	for _, g := range games {
		perGameMoves[g] = []any{}
		perGameAdmin[g] = []any{}
	}

	for _, mv := range blk.Moves {
		data := analyseMove(mv)

		for gameID, moveObj := range data.movesPerGame {
			if arr, tracked := perGameMoves[gameID]; tracked {
				perGameMoves[gameID] = append(arr, moveObj)
			}
		}
		if data.isAdmin {
			if arr, tracked := perGameAdmin[data.adminGame]; tracked {
				perGameAdmin[data.adminGame] = append(arr, data.adminCmd)
			}
		}
	}

	msgs := make([]message, 0, len(games))
	for _, g := range games {
		body := map[string]any{
			"block": blkJSON,
			"moves": perGameMoves[g],
			"admin": perGameAdmin[g],
		}
		if reqtoken != "" {
			body["reqtoken"] = reqtoken
		}

		payload, err := json.Marshal(body)
		if err != nil {
			slog.Error("Failed to marshal block notification", "error", err)
			continue
		}
		msgs = append(msgs, message{
			topic:   prefix + " json " + g,
			prefix:  prefix,
			payload: payload,
		})
	}
	return msgs
}

// buildPendingMessages constructs per-game pending notifications. The body
// is a bare array of move and admin-command objects.
func buildPendingMessages(games []string, moves []domain.Move) []message {
	tracked := make(map[string]struct{}, len(games))
	for _, g := range games {
		tracked[g] = struct{}{}
	}

	perGame := make(map[string][]any)
	for _, mv := range moves {
		data := analyseMove(mv)
		for gameID, moveObj := range data.movesPerGame {
			if _, ok := tracked[gameID]; ok {
				perGame[gameID] = append(perGame[gameID], moveObj)
			}
		}
		if data.isAdmin {
			if _, ok := tracked[data.adminGame]; ok {
				perGame[data.adminGame] = append(perGame[data.adminGame], data.adminCmd)
			}
		}
	}

	msgs := make([]message, 0, len(perGame))
	for _, g := range games {
		entries, ok := perGame[g]
		if !ok {
			continue
		}
		payload, err := json.Marshal(entries)
		if err != nil {
			slog.Error("Failed to marshal pending notification", "error", err)
			continue
		}
		msgs = append(msgs, message{
			topic:   prefixPending + " json " + g,
			prefix:  prefixPending,
			payload: payload,
		})
	}
	return msgs
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
