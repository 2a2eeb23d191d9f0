package mfa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTOTP_RFC6238Vector(t *testing.T) {
	// RFC 6238 Appendix B vector for SHA-1, truncated to six digits.
	// Secret is "12345678901234567890" in base32.
	const secret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

	code, err := totpCodeAt(secret, time.Unix(59, 0))
	require.NoError(t, err)
	assert.Equal(t, "287082", code)

	code, err = totpCodeAt(secret, time.Unix(1111111109, 0))
	require.NoError(t, err)
	assert.Equal(t, "081804", code)
}

func TestVerifyTOTPCode_AcceptsAdjacentWindows(t *testing.T) {
	secret, err := generateTOTPSecret()
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)

	for _, offset := range []time.Duration{-totpPeriod * time.Second, 0, totpPeriod * time.Second} {
		code, err := totpCodeAt(secret, now.Add(offset))
		require.NoError(t, err)
		assert.True(t, verifyTOTPCode(secret, code, now), "offset %s", offset)
	}
}

func TestVerifyTOTPCode_RejectsOutsideWindow(t *testing.T) {
	secret, err := generateTOTPSecret()
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)

	code, err := totpCodeAt(secret, now.Add(-3*totpPeriod*time.Second))
	require.NoError(t, err)
	assert.False(t, verifyTOTPCode(secret, code, now))
}

func TestVerifyTOTPCode_RejectsMalformed(t *testing.T) {
	secret, err := generateTOTPSecret()
	require.NoError(t, err)
	now := time.Now()

	for _, code := range []string{"", "12345", "1234567", "abcdef", "12 34 5"} {
		assert.False(t, verifyTOTPCode(secret, code, now), "code %q", code)
	}
}

func TestVerifyTOTPCode_NormalizesSpaces(t *testing.T) {
	secret, err := generateTOTPSecret()
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)

	code, err := totpCodeAt(secret, now)
	require.NoError(t, err)
	spaced := code[:3] + " " + code[3:]
	assert.True(t, verifyTOTPCode(secret, spaced, now))
}

func TestGenerateTOTPSecret(t *testing.T) {
	a, err := generateTOTPSecret()
	require.NoError(t, err)
	b, err := generateTOTPSecret()
	require.NoError(t, err)

	assert.Len(t, a, 32, "20 bytes encode to 32 base32 chars")
	assert.NotEqual(t, a, b)
}

func TestEnrollmentURI(t *testing.T) {
	uri := enrollmentURI("Aegis", "owner-1", "JBSWY3DPEHPK3PXP")
	assert.Contains(t, uri, "otpauth://totp/Aegis:owner-1?")
	assert.Contains(t, uri, "secret=JBSWY3DPEHPK3PXP")
	assert.Contains(t, uri, "issuer=Aegis")
	assert.Contains(t, uri, "digits=6")
	assert.Contains(t, uri, "period=30")
}
