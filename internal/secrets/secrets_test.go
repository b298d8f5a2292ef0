package secrets

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	mgr := NewManager("test-encryption-key")

	cases := []struct {
		name      string
		plaintext string
	}{
		{"simple", "hello"},
		{"empty", ""},
		{"token-like", "gw_secret_4f9a2b1c"},
		{"unicode", "pässwörd ✓"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := mgr.Encrypt(tc.plaintext)
			if err != nil {
				t.Fatalf("Encrypt returned error: %v", err)
			}
			if enc == tc.plaintext && tc.plaintext != "" {
				t.Fatal("Encrypt returned plaintext unchanged")
			}
			dec, err := mgr.Decrypt(enc)
			if err != nil {
				t.Fatalf("Decrypt returned error: %v", err)
			}
			if dec != tc.plaintext {
				t.Errorf("Decrypt = %q, want %q", dec, tc.plaintext)
			}
		})
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	mgr := NewManager("key")
	a, err := mgr.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt (1) returned error: %v", err)
	}
	b, err := mgr.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt (2) returned error: %v", err)
	}
	if a == b {
		t.Error("two encryptions of the same input produced identical ciphertexts; nonce should be random")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	enc, err := NewManager("key-one").Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if _, err := NewManager("key-two").Decrypt(enc); err == nil {
		t.Error("Decrypt with wrong key returned nil error, want error")
	}
}

func TestDecryptGarbage(t *testing.T) {
	mgr := NewManager("key")
	for _, bad := range []string{"", "zz", "deadbeef"} {
		if _, err := mgr.Decrypt(bad); err == nil {
			t.Errorf("Decrypt(%q) returned nil error, want error", bad)
		}
	}
}
