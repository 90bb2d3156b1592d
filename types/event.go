package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// KindTextNote is the event kind of a plain-text post. It is the only kind
// this client handles.
const KindTextNote = 1

// Timestamp is a Unix timestamp in seconds, serialized as a bare JSON
// integer per the relay wire protocol.
type Timestamp int64

// Now returns the current wall-clock time as a Timestamp.
func Now() Timestamp { return Timestamp(time.Now().Unix()) }

// Time converts the Timestamp into a time.Time.
func (t Timestamp) Time() time.Time { return time.Unix(int64(t), 0) }

// Tags is an ordered sequence of tag arrays. Text notes published by this
// client carry no tags, but inbound events may.
type Tags [][]string

// Event is the protocol's atomic signed message unit as defined by NIP-01.
// ID, Pubkey and Sig are lowercase hex. ID and Sig are immutable once
// computed; crypto.SignEvent is the only writer.
type Event struct {
	ID        string    `json:"id"`
	Pubkey    string    `json:"pubkey"`
	CreatedAt Timestamp `json:"created_at"`
	Kind      int       `json:"kind"`
	Tags      Tags      `json:"tags"`
	Content   string    `json:"content"`
	Sig       string    `json:"sig"`
}

// NewTextNote assembles an unsigned kind-1 event for the given author and
// creation time.
func NewTextNote(pubkey, content string, createdAt Timestamp) Event {
	return Event{
		Pubkey:    pubkey,
		CreatedAt: createdAt,
		Kind:      KindTextNote,
		Tags:      Tags{},
		Content:   content,
	}
}

// Serialize returns the canonical NIP-01 serialization of the event: the
// JSON array [0, pubkey, created_at, kind, tags, content] with no HTML
// escaping and no insignificant whitespace. The event identifier is derived
// from exactly these bytes.
func (ev Event) Serialize() ([]byte, error) {
	if !utf8.ValidString(ev.Content) {
		return nil, fmt.Errorf("serialize event: content is not valid UTF-8")
	}

	tags := ev.Tags
	if tags == nil {
		tags = Tags{}
	}

	b, err := marshalNoEscape([]interface{}{0, ev.Pubkey, ev.CreatedAt, ev.Kind, tags, ev.Content})
	if err != nil {
		return nil, fmt.Errorf("serialize event: %w", err)
	}
	return b, nil
}

// ComputeID derives the event's content-addressed identifier: the lowercase
// hex SHA-256 digest of the canonical serialization. It is deterministic,
// and any change to pubkey, created_at, kind, tags or content changes the
// result.
func (ev Event) ComputeID() (string, error) {
	b, err := ev.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ValidateBasic performs stateless shape checks on an inbound event. It does
// not verify the signature; see crypto.VerifyEvent.
func (ev Event) ValidateBasic() error {
	if ev.Kind != KindTextNote {
		return fmt.Errorf("unsupported event kind %d", ev.Kind)
	}
	if !isHex(ev.Pubkey, 64) {
		return fmt.Errorf("pubkey must be 64 hex characters, got %q", ev.Pubkey)
	}
	if !isHex(ev.ID, 64) {
		return fmt.Errorf("event id must be 64 hex characters, got %q", ev.ID)
	}
	if !isHex(ev.Sig, 128) {
		return fmt.Errorf("signature must be 128 hex characters, got %q", ev.Sig)
	}
	if strings.TrimSpace(ev.Content) == "" {
		return fmt.Errorf("event content is empty")
	}
	return nil
}

func isHex(s string, length int) bool {
	if len(s) != length {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// marshalNoEscape is json.Marshal without HTML escaping and without the
// trailing newline the Encoder appends. Canonical event hashing depends on
// '&', '<' and '>' staying unescaped.
func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
