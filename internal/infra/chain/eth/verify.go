package eth

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/vietddude/gamelink/internal/core/domain"
)

// Messages are wrapped in this template before signing, binding the
// signature to the chain it was made for.
const signatureTemplate = "Xaya signature for chain %d:\n\n%s"

// VerifyMessage recovers the signer of an EIP-191 personal-message
// signature over the chain-bound template. Signatures are 65 hex bytes
// r || s || v.
func (a *EthAdapter) VerifyMessage(
	ctx context.Context,
	msg, signature, addr string,
) (domain.Verification, error) {
	chainID, err := a.getChainID(ctx)
	if err != nil {
		return domain.Verification{}, err
	}
	wrapped := fmt.Sprintf(signatureTemplate, chainID, msg)
	personal := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(wrapped), wrapped)
	hash := keccak([]byte(personal))

	// Malformed signatures are not an error, they just fail to verify.
	sig, err := hex.DecodeString(stripHex(signature))
	if err != nil || len(sig) != 65 {
		return domain.Verification{}, nil
	}

	// RecoverCompact wants the recovery flag first, EVM signatures carry
	// it last.
	v := sig[64]
	if v < 27 {
		v += 27
	}
	compact := make([]byte, 65)
	compact[0] = v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return domain.Verification{}, nil
	}

	recovered := "0x" + hex.EncodeToString(keccak(pub.SerializeUncompressed()[1:])[12:])
	if addr == "" {
		return domain.Verification{Valid: true, Address: recovered}, nil
	}
	return domain.Verification{Valid: strings.EqualFold(addr, recovered)}, nil
}
