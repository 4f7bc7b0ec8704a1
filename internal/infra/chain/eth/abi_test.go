package eth

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type abiEncoder struct {
	head []byte
	tail []byte
	// number of head words, fixed up front so offsets come out right
	headWords int
}

func newABIEncoder(headWords int) *abiEncoder {
	return &abiEncoder{headWords: headWords}
}

func (e *abiEncoder) uint(v *big.Int) {
	word := make([]byte, wordSize)
	v.FillBytes(word)
	e.head = append(e.head, word...)
}

func (e *abiEncoder) address(addr string) {
	raw, _ := hex.DecodeString(strings.TrimPrefix(addr, "0x"))
	word := make([]byte, wordSize)
	copy(word[wordSize-len(raw):], raw)
	e.head = append(e.head, word...)
}

func (e *abiEncoder) str(s string) {
	offset := e.headWords*wordSize + len(e.tail)
	e.uint(big.NewInt(int64(offset)))

	length := make([]byte, wordSize)
	big.NewInt(int64(len(s))).FillBytes(length)
	e.tail = append(e.tail, length...)

	padded := (len(s) + wordSize - 1) / wordSize * wordSize
	data := make([]byte, padded)
	copy(data, s)
	e.tail = append(e.tail, data...)
}

func (e *abiEncoder) hex() string {
	return "0x" + hex.EncodeToString(append(e.head, e.tail...))
}

func encodeMoveEventData(
	ns, name, mv string,
	nonce uint64,
	mover string,
	amount *big.Int,
	receiver string,
) string {
	e := newABIEncoder(7)
	e.str(ns)
	e.str(name)
	e.str(mv)
	e.uint(new(big.Int).SetUint64(nonce))
	e.address(mover)
	e.uint(amount)
	e.address(receiver)
	return e.hex()
}

func TestDecodeMoveEvent(t *testing.T) {
	receiver := "0x00000000000000000000000000000000000000ab"
	data := encodeMoveEventData(
		"p", "alice", `{"g": {"chess": "e4"}}`,
		7,
		"0x0000000000000000000000000000000000000001",
		big.NewInt(250000000),
		receiver,
	)

	ev, err := decodeMoveEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "p", ev.Namespace)
	assert.Equal(t, "alice", ev.Name)
	assert.Equal(t, `{"g": {"chess": "e4"}}`, ev.Payload)
	assert.Equal(t, uint64(7), ev.Nonce)
	assert.Equal(t, big.NewInt(250000000), ev.Amount)
	assert.Equal(t, receiver, ev.Receiver)
}

func TestDecodeMoveEventTruncated(t *testing.T) {
	data := encodeMoveEventData("p", "alice", "{}", 1,
		"0x0000000000000000000000000000000000000001",
		big.NewInt(0),
		"0x0000000000000000000000000000000000000002",
	)
	_, err := decodeMoveEvent(data[:80])
	assert.Error(t, err)

	_, err = decodeMoveEvent("0xzz")
	assert.Error(t, err)
}

func TestDecodeMoveCalldata(t *testing.T) {
	e := newABIEncoder(6)
	e.str("p")
	e.str("bob")
	e.str(`{"g": {"go": [1]}}`)
	e.uint(big.NewInt(3))
	e.uint(big.NewInt(0))
	e.address("0x0000000000000000000000000000000000000000")

	input := "0x" + moveSelector + strings.TrimPrefix(e.hex(), "0x")
	ev, ok := decodeMoveCalldata(input)
	require.True(t, ok)
	assert.Equal(t, "p", ev.Namespace)
	assert.Equal(t, "bob", ev.Name)
	assert.Equal(t, uint64(3), ev.Nonce)
}

func TestDecodeMoveCalldataWrongSelector(t *testing.T) {
	_, ok := decodeMoveCalldata("0xdeadbeef")
	assert.False(t, ok)
	_, ok = decodeMoveCalldata("0x")
	assert.False(t, ok)
}

func TestMoveFromEvent(t *testing.T) {
	ev := moveEvent{
		Namespace: "p",
		Name:      "alice",
		Payload:   "{}",
		Nonce:     5,
		Amount:    big.NewInt(150000000),
		Receiver:  "0x00000000000000000000000000000000000000ab",
	}

	mv := moveFromEvent("tx1", ev)
	assert.Equal(t, "tx1", mv.Txid)
	out := mv.Metadata["out"].(map[string]any)
	assert.InDelta(t, 1.5, out[ev.Receiver], 1e-9)
	assert.NotEmpty(t, mv.Metadata["mvid"])

	// The nonce distinguishes otherwise identical moves.
	ev2 := ev
	ev2.Nonce = 6
	mv2 := moveFromEvent("tx1", ev2)
	assert.NotEqual(t, mv.Metadata["mvid"], mv2.Metadata["mvid"])
}
