// Package otp implements the one-time codes used as second factors:
// RFC 6238 time-based codes for authenticator apps and random numeric
// codes dispatched by email.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const secretBytes = 20

// TOTP generates and verifies time-based one-time codes for a fixed
// issuer and parameter set.
type TOTP struct {
	Issuer string
	Digits int
	// Period is the step size in seconds.
	Period int
	// Skew is the number of adjacent steps accepted on either side of now.
	Skew int
}

// GenerateSecret returns a fresh TOTP seed and its base32 form. The raw
// form is what gets persisted; the base32 form is shown to the user once.
func (t *TOTP) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// URI encoded into enrollment QR codes.
func (t *TOTP) ProvisionURI(secretBase32, account string) string {
	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", t.Issuer)
	v.Set("period", strconv.Itoa(t.Period))
	v.Set("digits", strconv.Itoa(t.Digits))
	v.Set("algorithm", "SHA1")

	label := url.PathEscape(t.Issuer + ":" + account)
	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Verify reports whether code matches the secret at any step within the
// configured skew window around now. Comparison is constant-time.
func (t *TOTP) Verify(secret []byte, code string, now time.Time) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != t.Digits || !allDigits(trimmed) {
		return false, nil
	}
	if len(secret) == 0 {
		return false, errors.New("empty totp secret")
	}

	base := now.Unix() / int64(t.Period)
	for step := -t.Skew; step <= t.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		want := hotp(secret, counter, t.Digits)
		if subtle.ConstantTimeCompare([]byte(want), []byte(trimmed)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// CodeAt computes the code for an explicit time. Exposed for enrollment
// round-trips and tests.
func (t *TOTP) CodeAt(secret []byte, at time.Time) string {
	return hotp(secret, at.Unix()/int64(t.Period), t.Digits)
}

func hotp(secret []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}

// NumericCode returns a uniformly random code of the given digit count,
// used for email-dispatched challenges.
func NumericCode(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("numeric code digits must be between 6 and 10")
	}

	var b strings.Builder
	b.Grow(digits)
	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
