package protocol

import (
	"bytes"
	"testing"
)

const testKey = "0123456789abcdef"

func TestNewPayloadCipher_KeyLength(t *testing.T) {
	if _, err := newPayloadCipher(testKey); err != nil {
		t.Errorf("16-byte key rejected: %v", err)
	}
	if _, err := newPayloadCipher("short"); err == nil {
		t.Error("short key accepted")
	}
	if _, err := newPayloadCipher(testKey + "x"); err == nil {
		t.Error("long key accepted")
	}
}

func TestCipherRoundTrip(t *testing.T) {
	c, err := newPayloadCipher(testKey)
	if err != nil {
		t.Fatal(err)
	}

	tests := [][]byte{
		[]byte(`{"dps":{"1":true}}`),
		[]byte(""),
		[]byte("exactly sixteen!"), // block-aligned input still pads
		bytes.Repeat([]byte{0xab}, 100),
	}

	for _, plain := range tests {
		enc := c.encrypt(plain)
		if len(enc)%16 != 0 {
			t.Errorf("ciphertext length %d not block-aligned", len(enc))
		}
		got, err := c.decrypt(enc)
		if err != nil {
			t.Fatalf("decrypt error: %v", err)
		}
		if !bytes.Equal(got, plain) {
			t.Errorf("round trip: got %q, want %q", got, plain)
		}
	}
}

func TestDecrypt_Invalid(t *testing.T) {
	c, err := newPayloadCipher(testKey)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.decrypt([]byte("not a block multiple")); err == nil {
		t.Error("unaligned ciphertext accepted")
	}
	if _, err := c.decrypt(nil); err == nil {
		t.Error("empty ciphertext accepted")
	}
	// Garbage that happens to be block-aligned should fail padding checks
	// with overwhelming probability.
	if _, err := c.decrypt(bytes.Repeat([]byte{0x11}, 32)); err == nil {
		t.Log("garbage block decrypted to valid padding (unlikely but possible)")
	}
}

func TestPkcs7(t *testing.T) {
	tests := []struct {
		inLen  int
		padLen int
	}{
		{0, 16},
		{1, 15},
		{15, 1},
		{16, 16},
		{17, 15},
	}

	for _, tt := range tests {
		in := bytes.Repeat([]byte{0x5a}, tt.inLen)
		padded := pkcs7Pad(in, 16)
		if len(padded) != tt.inLen+tt.padLen {
			t.Errorf("pad(%d): length %d, want %d", tt.inLen, len(padded), tt.inLen+tt.padLen)
		}
		out, err := pkcs7Unpad(padded, 16)
		if err != nil {
			t.Fatalf("unpad(%d): %v", tt.inLen, err)
		}
		if !bytes.Equal(out, in) {
			t.Errorf("unpad(%d): round trip mismatch", tt.inLen)
		}
	}

	if _, err := pkcs7Unpad([]byte{0x00}, 16); err == nil {
		t.Error("zero padding byte accepted")
	}
	if _, err := pkcs7Unpad([]byte{0x01, 0x02}, 16); err == nil {
		t.Error("inconsistent padding accepted")
	}
}
