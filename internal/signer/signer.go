package signer

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Envelope wraps a response payload with an offline-verifiable signature.
// Field names are part of the client protocol and must not change.
type Envelope struct {
	Data           any    `json:"data"`
	Signature      string `json:"signature"`
	Timestamp      int64  `json:"timestamp"`
	ProviderPubkey string `json:"provider_pubkey"`
	DataHash       string `json:"data_hash"`
}

// Signer holds one Ed25519 keypair and produces signed envelopes. The signed
// message is "<sha256-hex-of-canonical-payload>:<unix-timestamp>".
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// New creates a Signer from a hex-encoded 32-byte Ed25519 seed. An empty seed
// generates a fresh ephemeral keypair; signatures issued by an ephemeral key
// stay verifiable, but the active public key changes on restart.
func New(seedHex string) (*Signer, error) {
	if seedHex == "" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate keypair: %w", err)
		}
		return &Signer{priv: priv, pub: pub}, nil
	}

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode key seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// PublicKeyHex returns the active public key, hex-encoded.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}

// Canonicalize serializes payload deterministically: lexicographically sorted
// object keys, no insignificant whitespace, numbers preserved as written.
// Identical logical payloads always produce identical bytes regardless of
// field order.
func Canonicalize(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	// Round-trip through a generic value: encoding/json emits map keys in
	// sorted order, and json.Number keeps integers free of float drift.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns the hex SHA-256 of the canonical form of payload.
func Hash(payload any) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Sign wraps payload in a signed envelope stamped with the given unix time.
func (s *Signer) Sign(payload any, timestamp int64) (*Envelope, error) {
	hash, err := Hash(payload)
	if err != nil {
		return nil, err
	}
	message := fmt.Sprintf("%s:%d", hash, timestamp)
	sig := ed25519.Sign(s.priv, []byte(message))
	return &Envelope{
		Data:           payload,
		Signature:      hex.EncodeToString(sig),
		Timestamp:      timestamp,
		ProviderPubkey: s.PublicKeyHex(),
		DataHash:       hash,
	}, nil
}

// Verify checks an envelope's fields against payload: the payload must hash to
// dataHash and the signature must verify over "hash:timestamp" under pubkeyHex.
// Malformed input of any kind yields false, never an error.
func Verify(payload any, signatureHex, pubkeyHex, dataHash string, timestamp int64) bool {
	hash, err := Hash(payload)
	if err != nil || hash != dataHash {
		return false
	}
	pub, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	message := fmt.Sprintf("%s:%d", hash, timestamp)
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig)
}

// VerifyEnvelope checks a complete envelope against its own embedded fields.
func VerifyEnvelope(env *Envelope) bool {
	if env == nil {
		return false
	}
	return Verify(env.Data, env.Signature, env.ProviderPubkey, env.DataHash, env.Timestamp)
}
