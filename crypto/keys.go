// Package crypto implements the key handling and signature scheme mandated
// by the relay protocol: secp256k1 keypairs with 32-byte x-only public keys
// and BIP-340 Schnorr signatures over 32-byte event digests.
package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/paleoquota/paleoquota/types"
)

// GenKeypair produces a fresh cryptographically random keypair. Both halves
// are lowercase hex: the private key is 32 bytes, the public key the 32-byte
// x-only form.
func GenKeypair() (privKey, pubKey string, err error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate keypair: %w", err)
	}
	return hex.EncodeToString(priv.Serialize()),
		hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
		nil
}

// DerivePubKey computes the x-only public key for a hex private key. It is
// deterministic and pure.
func DerivePubKey(privKey string) (string, error) {
	priv, err := parsePrivKey(privKey)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())), nil
}

// SignEvent finalizes an event: it stamps the author pubkey derived from the
// private key, computes the canonical identifier and signs it. The event's
// ID and Sig fields are set on success and must not be mutated afterwards.
func SignEvent(ev *types.Event, privKey string) error {
	priv, err := parsePrivKey(privKey)
	if err != nil {
		return err
	}
	ev.Pubkey = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))

	id, err := ev.ComputeID()
	if err != nil {
		return err
	}
	digest, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("decode event id: %w", err)
	}

	sig, err := schnorr.Sign(priv, digest)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}

	ev.ID = id
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// VerifyEvent checks that the event's ID matches its canonical serialization
// and that Sig is a valid signature over the ID by Pubkey. A false result
// with a nil error means the event is well-formed but forged or corrupted.
func VerifyEvent(ev types.Event) (bool, error) {
	id, err := ev.ComputeID()
	if err != nil {
		return false, err
	}
	if id != ev.ID {
		return false, nil
	}

	pkBytes, err := hex.DecodeString(ev.Pubkey)
	if err != nil {
		return false, fmt.Errorf("decode pubkey: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return false, fmt.Errorf("parse pubkey: %w", err)
	}

	sigBytes, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("parse signature: %w", err)
	}

	digest, err := hex.DecodeString(id)
	if err != nil {
		return false, fmt.Errorf("decode event id: %w", err)
	}
	return sig.Verify(digest, pub), nil
}

func parsePrivKey(privKey string) (*btcec.PrivateKey, error) {
	b, err := hex.DecodeString(privKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv, nil
}
