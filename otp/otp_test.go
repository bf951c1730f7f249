package otp

import (
	"strings"
	"testing"
	"time"
)

func testTOTP() *TOTP {
	return &TOTP{Issuer: "fundlift", Digits: 6, Period: 30, Skew: 1}
}

// RFC 6238 appendix B vectors for the SHA-1 reference secret, truncated
// to 6 digits.
func TestVerifyRFC6238Vectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	tot := testTOTP()

	vectors := []struct {
		unix int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}

	for _, v := range vectors {
		at := time.Unix(v.unix, 0).UTC()
		if got := tot.CodeAt(secret, at); got != v.code {
			t.Fatalf("CodeAt(%d) = %s, want %s", v.unix, got, v.code)
		}
		ok, err := tot.Verify(secret, v.code, at)
		if err != nil || !ok {
			t.Fatalf("Verify(%d, %s) = %v, %v", v.unix, v.code, ok, err)
		}
	}
}

func TestVerifySkewWindow(t *testing.T) {
	secret := []byte("12345678901234567890")
	tot := testTOTP()
	now := time.Unix(1111111109, 0).UTC()

	prev := tot.CodeAt(secret, now.Add(-30*time.Second))
	next := tot.CodeAt(secret, now.Add(30*time.Second))
	far := tot.CodeAt(secret, now.Add(90*time.Second))

	if ok, _ := tot.Verify(secret, prev, now); !ok {
		t.Fatal("previous-step code should verify inside skew window")
	}
	if ok, _ := tot.Verify(secret, next, now); !ok {
		t.Fatal("next-step code should verify inside skew window")
	}
	if ok, _ := tot.Verify(secret, far, now); ok {
		t.Fatal("code three steps away must not verify")
	}
}

func TestVerifyRejectsMalformedCodes(t *testing.T) {
	secret := []byte("12345678901234567890")
	tot := testTOTP()
	now := time.Now()

	for _, code := range []string{"", "12345", "1234567", "abcdef", "12 456"} {
		ok, err := tot.Verify(secret, code, now)
		if err != nil {
			t.Fatalf("Verify(%q) error: %v", code, err)
		}
		if ok {
			t.Fatalf("Verify(%q) accepted malformed code", code)
		}
	}
}

func TestGenerateSecret(t *testing.T) {
	tot := testTOTP()
	raw, encoded, err := tot.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if len(raw) != 20 {
		t.Fatalf("secret length = %d, want 20", len(raw))
	}
	if encoded == "" || strings.Contains(encoded, "=") {
		t.Fatalf("expected unpadded base32 secret, got %q", encoded)
	}

	uri := tot.ProvisionURI(encoded, "alice@example.com")
	if !strings.HasPrefix(uri, "otpauth://totp/") || !strings.Contains(uri, "issuer=fundlift") {
		t.Fatalf("unexpected provisioning URI %q", uri)
	}
}

func TestNumericCode(t *testing.T) {
	code, err := NumericCode(6)
	if err != nil {
		t.Fatalf("NumericCode failed: %v", err)
	}
	if len(code) != 6 || !allDigits(code) {
		t.Fatalf("unexpected code %q", code)
	}

	if _, err := NumericCode(4); err == nil {
		t.Fatal("expected error for too few digits")
	}
}
