package core

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/vietddude/gamelink/internal/core/domain"
)

const messageMagic = "Xaya Signed Message:\n"

// P2PKH version bytes per network. Only legacy addresses can be recovered
// from a compact signature.
func addressVersion(network string) byte {
	switch network {
	case "main":
		return 28
	default:
		return 111
	}
}

// signedMessageHash is the double-SHA256 of the magic-prefixed message, as
// produced by the node's signmessage command.
func signedMessageHash(msg string) chainhash.Hash {
	var buf bytes.Buffer
	wire.WriteVarString(&buf, 0, messageMagic)
	wire.WriteVarString(&buf, 0, msg)
	return chainhash.DoubleHashH(buf.Bytes())
}

// VerifyMessage checks a compact signature made with signmessage. A
// signature that is not even valid base64 is an error; a well-formed but
// wrong signature simply yields Valid false.
func (a *CoreAdapter) VerifyMessage(
	ctx context.Context,
	msg, signature, addr string,
) (domain.Verification, error) {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return domain.Verification{}, fmt.Errorf("signature is not valid base64: %w", err)
	}

	hash := signedMessageHash(msg)
	pub, compressed, err := ecdsa.RecoverCompact(sig, hash[:])
	if err != nil {
		return domain.Verification{}, nil
	}

	var pubBytes []byte
	if compressed {
		pubBytes = pub.SerializeCompressed()
	} else {
		pubBytes = pub.SerializeUncompressed()
	}
	pkh := btcutil.Hash160(pubBytes)

	if addr == "" {
		network, err := a.GetChain(ctx)
		if err != nil {
			return domain.Verification{}, err
		}
		return domain.Verification{
			Valid:   true,
			Address: base58.CheckEncode(pkh, addressVersion(network)),
		}, nil
	}

	decoded, _, err := base58.CheckDecode(addr)
	if err != nil || len(decoded) != 20 {
		return domain.Verification{}, nil
	}
	return domain.Verification{Valid: bytes.Equal(decoded, pkh)}, nil
}
