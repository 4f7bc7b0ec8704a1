package eth

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Signatures of a move on the accounts contract: the event emitted for
// mined moves and the method invoked for direct calls.
const (
	moveEventSignature  = "Move(string,string,string,uint256,uint256,address,uint256,address)"
	moveMethodSignature = "move(string,string,string,uint256,uint256,address)"
)

var (
	moveEventTopic = "0x" + hex.EncodeToString(keccak([]byte(moveEventSignature)))
	moveSelector   = hex.EncodeToString(keccak([]byte(moveMethodSignature))[:4])
)

func keccak(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

const wordSize = 32

// moveEvent is the decoded payload of one Move emission: namespace, name
// and move string plus the nonce and an optional payment attached to the
// move.
type moveEvent struct {
	Namespace string
	Name      string
	Payload   string

	Nonce    uint64
	Amount   *big.Int
	Receiver string
}

// abiWords gives word-indexed access to hex-encoded ABI data.
type abiWords struct {
	data []byte
}

func newABIWords(hexData string) (abiWords, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(hexData, "0x"))
	if err != nil {
		return abiWords{}, fmt.Errorf("invalid ABI hex data: %w", err)
	}
	return abiWords{data: data}, nil
}

func (w abiWords) word(i int) ([]byte, error) {
	lo := i * wordSize
	if lo+wordSize > len(w.data) {
		return nil, fmt.Errorf("ABI data too short for word %d", i)
	}
	return w.data[lo : lo+wordSize], nil
}

func (w abiWords) uintWord(i int) (*big.Int, error) {
	word, err := w.word(i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(word), nil
}

func (w abiWords) addressWord(i int) (string, error) {
	word, err := w.word(i)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(word[wordSize-20:]), nil
}

// stringAt resolves a head word holding a byte offset to the dynamic
// string it points at.
func (w abiWords) stringAt(headWord int) (string, error) {
	offset, err := w.uintWord(headWord)
	if err != nil {
		return "", err
	}
	if !offset.IsInt64() {
		return "", fmt.Errorf("ABI string offset out of range")
	}
	pos := int(offset.Int64())
	if pos+wordSize > len(w.data) {
		return "", fmt.Errorf("ABI string offset %d out of bounds", pos)
	}

	length := new(big.Int).SetBytes(w.data[pos : pos+wordSize])
	if !length.IsInt64() {
		return "", fmt.Errorf("ABI string length out of range")
	}
	n := int(length.Int64())
	start := pos + wordSize
	if start+n > len(w.data) {
		return "", fmt.Errorf("ABI string of length %d out of bounds", n)
	}
	return string(w.data[start : start+n]), nil
}

// decodeMoveEvent decodes the data section of a Move event log. The head
// layout is ns, name, mv (offsets), nonce, mover, amount, receiver; the
// token id is an indexed topic and not part of the data.
func decodeMoveEvent(data string) (moveEvent, error) {
	w, err := newABIWords(data)
	if err != nil {
		return moveEvent{}, err
	}

	var ev moveEvent
	if ev.Namespace, err = w.stringAt(0); err != nil {
		return moveEvent{}, err
	}
	if ev.Name, err = w.stringAt(1); err != nil {
		return moveEvent{}, err
	}
	if ev.Payload, err = w.stringAt(2); err != nil {
		return moveEvent{}, err
	}

	nonce, err := w.uintWord(3)
	if err != nil {
		return moveEvent{}, err
	}
	ev.Nonce = nonce.Uint64()

	// Word 4 is the mover address, which the move model does not use.

	if ev.Amount, err = w.uintWord(5); err != nil {
		return moveEvent{}, err
	}
	if ev.Receiver, err = w.addressWord(6); err != nil {
		return moveEvent{}, err
	}
	return ev, nil
}

// decodeMoveCalldata decodes a direct call of the accounts contract's move
// method: ns, name, mv (offsets), nonce, amount, receiver. The nonce
// argument is the maximum acceptable nonce, not the final one.
func decodeMoveCalldata(input string) (moveEvent, bool) {
	raw := strings.TrimPrefix(input, "0x")
	if !strings.HasPrefix(raw, moveSelector) {
		return moveEvent{}, false
	}

	w, err := newABIWords(raw[len(moveSelector):])
	if err != nil {
		return moveEvent{}, false
	}

	var ev moveEvent
	if ev.Namespace, err = w.stringAt(0); err != nil {
		return moveEvent{}, false
	}
	if ev.Name, err = w.stringAt(1); err != nil {
		return moveEvent{}, false
	}
	if ev.Payload, err = w.stringAt(2); err != nil {
		return moveEvent{}, false
	}

	nonce, err := w.uintWord(3)
	if err != nil {
		return moveEvent{}, false
	}
	ev.Nonce = nonce.Uint64()

	if ev.Amount, err = w.uintWord(4); err != nil {
		return moveEvent{}, false
	}
	if ev.Receiver, err = w.addressWord(5); err != nil {
		return moveEvent{}, false
	}
	return ev, true
}
