package q3pcrypto

import (
	"bytes"
	"testing"
)

func TestAuthTagRoundTrip(t *testing.T) {
	a := NewAuthContext([]byte("shared key material"))
	msg := []byte("a q3p message body")
	tag := a.Tag(msg)

	ok, err := a.Verify(msg, tag)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected tag to verify")
	}
}

func TestAuthTagRejectsTamperedMessage(t *testing.T) {
	a := NewAuthContext([]byte("shared key material"))
	msg := []byte("a q3p message body")
	tag := a.Tag(msg)

	ok, err := a.Verify([]byte("a q3p message BODY"), tag)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected tampered message to fail verification")
	}
}

func TestEncContextXorRoundTrip(t *testing.T) {
	e := NewEncContext()
	pad := bytes.Repeat([]byte{0xAA}, 16)
	plain := []byte("secret payload!!")

	cipher, err := e.Encrypt(plain, pad)
	if err != nil {
		t.Fatal(err)
	}
	back, err := e.Decrypt(cipher, pad)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, plain) {
		t.Fatalf("round trip mismatch: got %q want %q", back, plain)
	}
}

func TestEncContextInsufficientPad(t *testing.T) {
	e := NewEncContext()
	if _, err := e.Encrypt([]byte("too long"), []byte{1, 2}); err == nil {
		t.Fatal("expected error on insufficient pad")
	}
}

func TestSeedFromInitialSecretSwapsOnSlave(t *testing.T) {
	secret := bytes.Repeat([]byte{0}, InitKeyBytes*4+16)
	for i := range secret {
		secret[i] = byte(i)
	}

	master, remMaster, err := SeedFromInitialSecret(secret, false)
	if err != nil {
		t.Fatal(err)
	}
	slave, remSlave, err := SeedFromInitialSecret(secret, true)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(remMaster, remSlave) {
		t.Fatal("remaining secret bytes should match regardless of role")
	}

	msg := []byte("handshake probe")
	tag := master.AuthOut.Tag(msg)
	ok, err := slave.AuthIn.Verify(msg, tag)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("master's auth-out must verify against slave's auth-in")
	}
}
