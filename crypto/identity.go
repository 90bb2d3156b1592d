package crypto

import (
	"encoding/json"
	"fmt"
	"os"
)

// Identity is a signing keypair used to author events. By default a fresh,
// unlinkable identity is generated per submission; with persistence enabled
// one identity is kept across sessions in a key file.
type Identity struct {
	PrivKey string `json:"priv_key"`
	PubKey  string `json:"pub_key"`
}

// GenIdentity generates a fresh random identity.
func GenIdentity() (Identity, error) {
	priv, pub, err := GenKeypair()
	if err != nil {
		return Identity{}, err
	}
	return Identity{PrivKey: priv, PubKey: pub}, nil
}

// LoadIdentity reads an identity from a key file and checks that the stored
// public key matches the private key.
func LoadIdentity(path string) (Identity, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Identity{}, fmt.Errorf("read identity file: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(b, &id); err != nil {
		return Identity{}, fmt.Errorf("parse identity file %s: %w", path, err)
	}

	pub, err := DerivePubKey(id.PrivKey)
	if err != nil {
		return Identity{}, fmt.Errorf("identity file %s: %w", path, err)
	}
	if pub != id.PubKey {
		return Identity{}, fmt.Errorf("identity file %s: public key does not match private key", path)
	}
	return id, nil
}

// SaveIdentity writes the identity to a key file readable only by the owner.
func SaveIdentity(id Identity, path string) error {
	b, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}

// LoadOrGenIdentity loads the identity stored at path, generating and saving
// a fresh one when no file exists yet.
func LoadOrGenIdentity(path string) (Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadIdentity(path)
	}

	id, err := GenIdentity()
	if err != nil {
		return Identity{}, err
	}
	if err := SaveIdentity(id, path); err != nil {
		return Identity{}, err
	}
	return id, nil
}
