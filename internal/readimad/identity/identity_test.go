package identity_test

import (
	"errors"
	"testing"

	"github.com/EmbeddedMhawar/Readimad/internal/readimad/identity"
)

func TestHash_KnownVectors(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"},
		{"hello", "0x1c8aff950685c2ed4bc3174f3472287b56d9517b9c948127319a09a7a36deac8"},
	}
	for _, tc := range cases {
		if got := identity.Hash(tc.in).Hex(); got != tc.want {
			t.Errorf("Hash(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestHash_Deterministic(t *testing.T) {
	for _, s := range []string{"SN-001", "SN-789-XYZ", "ünïcode-серийный", " padded "} {
		a := identity.Hash(s)
		b := identity.Hash(s)
		if a != b {
			t.Errorf("Hash(%q) not deterministic: %s vs %s", s, a, b)
		}
		if a.IsZero() {
			t.Errorf("Hash(%q) returned zero key", s)
		}
	}
}

func TestHash_NoNormalization(t *testing.T) {
	base := identity.Hash("SN-001")
	for _, variant := range []string{"sn-001", " SN-001", "SN-001 ", "SN-001\n"} {
		if identity.Hash(variant) == base {
			t.Errorf("Hash(%q) collided with Hash(\"SN-001\")", variant)
		}
	}
}

func TestHashAll_PreservesOrderAndDuplicates(t *testing.T) {
	keys := identity.HashAll([]string{"SN-001", "SN-002", "SN-001"})
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	if keys[0] != keys[2] {
		t.Error("duplicate serials should produce identical keys")
	}
	if keys[0] == keys[1] {
		t.Error("distinct serials should produce distinct keys")
	}
	if keys[1] != identity.Hash("SN-002") {
		t.Error("HashAll should match Hash element-wise")
	}
}

func TestParseKey_RoundTrip(t *testing.T) {
	k := identity.Hash("SN-001")

	got, err := identity.ParseKey(k.Hex())
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if got != k {
		t.Errorf("round trip mismatch: %s vs %s", got, k)
	}

	got, err = identity.ParseKey(k.Hex()[2:])
	if err != nil {
		t.Fatalf("ParseKey without prefix: %v", err)
	}
	if got != k {
		t.Error("ParseKey without prefix should decode the same key")
	}
}

func TestParseKey_Invalid(t *testing.T) {
	for _, s := range []string{"", "0x", "0x1234", "zz" + identity.Hash("x").Hex()[4:]} {
		if _, err := identity.ParseKey(s); !errors.Is(err, identity.ErrInvalidKey) {
			t.Errorf("ParseKey(%q): expected ErrInvalidKey, got %v", s, err)
		}
	}
}

func TestFromBytes(t *testing.T) {
	k := identity.Hash("SN-001")
	got, err := identity.FromBytes(k[:])
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if got != k {
		t.Error("FromBytes should copy the bytes unchanged")
	}
	if _, err := identity.FromBytes(k[:31]); !errors.Is(err, identity.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for short input, got %v", err)
	}
}
