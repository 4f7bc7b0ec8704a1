package domain

// Block represents a fully extracted block of the connected base chain,
// including all moves found in it. Immutable once constructed.
type Block struct {
	Hash    string
	Parent  string
	Height  uint64
	RngSeed string

	// Metadata holds chain-specific extras (timestamp, mediantime on the
	// UTXO chain) that are merged into the top-level "block" object of
	// notifications.
	Metadata map[string]any

	Moves []Move
}

// Move is a raw name operation or move event extracted from a transaction.
// Classification into per-game moves and admin commands happens at
// publication time, so that one Move can fan out to several games.
type Move struct {
	Txid      string
	Namespace string
	Name      string

	// Payload is the unparsed move value as found on chain. It is only
	// parsed (strictly) when building notifications.
	Payload string

	// Burns maps game id to the amount burnt for that game in this tx.
	Burns map[string]float64

	// Metadata is merged into the published move object (out map, and on
	// the UTXO chain btxid and inputs).
	Metadata map[string]any
}

// Verification is the result of a signed-message check.
type Verification struct {
	Valid   bool   `json:"valid"`
	Address string `json:"address,omitempty"`
}
