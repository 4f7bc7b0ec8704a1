package zmqpub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/gamelink/internal/core/domain"
)

func TestAnalysePlayerMove(t *testing.T) {
	mv := domain.Move{
		Txid:      "tx1",
		Namespace: "p",
		Name:      "alice",
		Payload:   `{"g": {"chess": {"m": "e4"}, "go": [1, 2]}}`,
		Burns:     map[string]float64{"chess": 1.5},
		Metadata:  map[string]any{"out": map[string]any{"addr1": 10.0}},
	}

	data := analyseMove(mv)
	require.Len(t, data.movesPerGame, 2)
	assert.False(t, data.isAdmin)

	chess := data.movesPerGame["chess"]
	assert.Equal(t, "tx1", chess["txid"])
	assert.Equal(t, "alice", chess["name"])
	assert.Equal(t, map[string]any{"m": "e4"}, chess["move"])
	assert.Equal(t, 1.5, chess["burnt"])
	assert.Equal(t, map[string]any{"addr1": 10.0}, chess["out"])

	goGame := data.movesPerGame["go"]
	assert.Equal(t, 0.0, goGame["burnt"])
}

func TestAnalyseAdminCommand(t *testing.T) {
	mv := domain.Move{
		Txid:      "tx2",
		Namespace: "g",
		Name:      "chess",
		Payload:   `{"cmd": {"reset": true}}`,
	}

	data := analyseMove(mv)
	require.True(t, data.isAdmin)
	assert.Equal(t, "chess", data.adminGame)
	assert.Equal(t, "tx2", data.adminCmd["txid"])
	assert.Equal(t, map[string]any{"reset": true}, data.adminCmd["cmd"])
	assert.Empty(t, data.movesPerGame)
}

func TestAnalyseGameNameWithoutCmd(t *testing.T) {
	mv := domain.Move{
		Txid:      "tx3",
		Namespace: "g",
		Name:      "chess",
		Payload:   `{"something": "else"}`,
	}

	data := analyseMove(mv)
	assert.False(t, data.isAdmin)
	assert.Empty(t, data.movesPerGame)
}

func TestAnalyseReservedNamespace(t *testing.T) {
	mv := domain.Move{
		Txid:      "tx4",
		Namespace: "x",
		Name:      "whatever",
		Payload:   `{"g": {"chess": {}}}`,
	}

	data := analyseMove(mv)
	assert.False(t, data.isAdmin)
	assert.Empty(t, data.movesPerGame)
}

func TestAnalyseInvalidPayloads(t *testing.T) {
	for _, payload := range []string{
		``,
		`not json`,
		`42`,
		`[1, 2]`,
		`{"g": 5}`,
		`{"g": {"chess": {}}} trailing`,
		`{"g": {"a": 1}, "g": {"b": 2}}`,
		`{"g": {"chess": {"x": 1, "x": 2}}}`,
	} {
		mv := domain.Move{Txid: "tx", Namespace: "p", Name: "bob", Payload: payload}
		data := analyseMove(mv)
		assert.Empty(t, data.movesPerGame, "payload %q should be dropped", payload)
		assert.False(t, data.isAdmin)
	}
}

func TestParseMoveJSONDuplicateKeys(t *testing.T) {
	_, ok := parseMoveJSON(`{"a": 1, "b": {"c": 2, "c": 3}}`)
	assert.False(t, ok)

	val, ok := parseMoveJSON(`{"a": 1, "b": {"c": 2}}`)
	require.True(t, ok)
	assert.Contains(t, val, "a")
}
