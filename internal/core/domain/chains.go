package domain

// ChainKind selects the base-chain connector variant at startup.
type ChainKind string

const (
	// ChainKindCore connects to a Xaya-Core-style UTXO node.
	ChainKindCore ChainKind = "core"
	// ChainKindEth connects to an account-based EVM node.
	ChainKindEth ChainKind = "eth"
)

// Valid reports whether k names a known connector variant.
func (k ChainKind) Valid() bool {
	return k == ChainKindCore || k == ChainKindEth
}
