package signer

import (
	"testing"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 2, "a": 1, "c": "x"})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"a":1,"b":2,"c":"x"}`
	if string(a) != want {
		t.Fatalf("canonical form = %s, want %s", a, want)
	}
}

func TestHashStableAcrossFieldOrder(t *testing.T) {
	h1, err := Hash(map[string]any{"wait": 15, "crossing": "San Ysidro"})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := Hash(map[string]any{"crossing": "San Ysidro", "wait": 15})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ across field order: %s vs %s", h1, h2)
	}
}

func TestSignAndVerify(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	payload := map[string]any{"crossing": "Otay Mesa", "wait_minutes": 42}

	env, err := s.Sign(payload, 1700000000)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if !Verify(payload, env.Signature, env.ProviderPubkey, env.DataHash, env.Timestamp) {
		t.Fatal("valid signature rejected")
	}
	if !VerifyEnvelope(env) {
		t.Fatal("valid envelope rejected")
	}

	// Mutated payload must fail.
	tampered := map[string]any{"crossing": "Otay Mesa", "wait_minutes": 43}
	if Verify(tampered, env.Signature, env.ProviderPubkey, env.DataHash, env.Timestamp) {
		t.Fatal("tampered payload accepted")
	}

	// Mutated timestamp must fail.
	if Verify(payload, env.Signature, env.ProviderPubkey, env.DataHash, env.Timestamp+1) {
		t.Fatal("mutated timestamp accepted")
	}

	// Wrong key must fail.
	other, err := New("")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	if Verify(payload, env.Signature, other.PublicKeyHex(), env.DataHash, env.Timestamp) {
		t.Fatal("wrong public key accepted")
	}
}

func TestVerifyMalformedInput(t *testing.T) {
	payload := map[string]any{"x": 1}
	hash, err := Hash(payload)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if Verify(payload, "not-hex", "also-not-hex", hash, 1) {
		t.Fatal("malformed input accepted")
	}
	if Verify(payload, "abcd", "abcd", hash, 1) {
		t.Fatal("short key material accepted")
	}
	if VerifyEnvelope(nil) {
		t.Fatal("nil envelope accepted")
	}
}

func TestDeterministicKeyFromSeed(t *testing.T) {
	seed := "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"
	s1, err := New(seed)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	s2, err := New(seed)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	if s1.PublicKeyHex() != s2.PublicKeyHex() {
		t.Fatal("same seed produced different public keys")
	}

	if _, err := New("zz"); err == nil {
		t.Fatal("expected error for non-hex seed")
	}
	if _, err := New("abcd"); err == nil {
		t.Fatal("expected error for short seed")
	}
}

func TestKeyManagerRotation(t *testing.T) {
	first, _ := New("")
	second, _ := New("")
	third, _ := New("")

	m := NewKeyManager(first, 1)
	if m.Active() != first {
		t.Fatal("initial active key wrong")
	}

	m.Rotate(second)
	keys := m.PublicKeys()
	if len(keys) != 2 || keys[0] != second.PublicKeyHex() || keys[1] != first.PublicKeyHex() {
		t.Fatalf("unexpected keys after first rotation: %v", keys)
	}

	// Oldest key is evicted past the bound.
	m.Rotate(third)
	keys = m.PublicKeys()
	if len(keys) != 2 || keys[0] != third.PublicKeyHex() || keys[1] != second.PublicKeyHex() {
		t.Fatalf("unexpected keys after second rotation: %v", keys)
	}
}
