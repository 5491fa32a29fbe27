package otp

import (
	"context"
	"log"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	rstore "github.com/demostore/storegate/internal/store/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPhone = "01700000001"

var (
	rdis   *miniredis.Miniredis
	rStore *rstore.Redis
	reCode = regexp.MustCompile(`^\d{6}$`)
)

func init() {
	rd, err := miniredis.Run()
	if err != nil {
		log.Println(err)
	}
	rdis = rd

	port, _ := strconv.Atoi(rd.Port())
	rStore = rstore.New(rstore.Conf{
		Host: rd.Host(),
		Port: port,
	})
}

func setup(t *testing.T) *Manager {
	rdis.FlushDB()
	t.Cleanup(func() {
		rdis.FlushDB()
	})
	return New(rStore, Config{})
}

func TestCreateFormat(t *testing.T) {
	m := setup(t)

	code, err := m.Create(context.Background(), testPhone)
	require.NoError(t, err, "Error creating OTP")
	assert.Regexp(t, reCode, code, "OTP is not a 6 digit code")
}

func TestVerifyRoundTrip(t *testing.T) {
	m := setup(t)
	ctx := context.Background()

	code, err := m.Create(ctx, testPhone)
	require.NoError(t, err, "Error creating OTP")

	ok, err := m.Verify(ctx, testPhone, code)
	assert.NoError(t, err, "Error verifying OTP")
	assert.True(t, ok, "Correct code failed verification")
}

func TestVerifySingleUse(t *testing.T) {
	m := setup(t)
	ctx := context.Background()

	code, err := m.Create(ctx, testPhone)
	require.NoError(t, err, "Error creating OTP")

	ok, err := m.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	require.True(t, ok, "Correct code failed verification")

	// The record was consumed; the same code must not verify again.
	ok, err = m.Verify(ctx, testPhone, code)
	assert.NoError(t, err)
	assert.False(t, ok, "Consumed OTP verified a second time")
}

func TestVerifyAbsent(t *testing.T) {
	m := setup(t)

	ok, err := m.Verify(context.Background(), testPhone, "123456")
	assert.NoError(t, err, "Absent OTP should not error")
	assert.False(t, ok, "Absent OTP verified")
}

func TestVerifyWrongCode(t *testing.T) {
	m := setup(t)
	ctx := context.Background()

	code, err := m.Create(ctx, testPhone)
	require.NoError(t, err)

	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}

	ok, err := m.Verify(ctx, testPhone, wrong)
	assert.NoError(t, err)
	assert.False(t, ok, "Wrong code verified")

	// The correct code still works while under the attempt cap.
	ok, err = m.Verify(ctx, testPhone, code)
	assert.NoError(t, err)
	assert.True(t, ok, "Correct code failed after a wrong attempt")
}

func TestVerifyLockout(t *testing.T) {
	m := setup(t)
	ctx := context.Background()

	code, err := m.Create(ctx, testPhone)
	require.NoError(t, err)

	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}

	for i := 0; i < 5; i++ {
		ok, err := m.Verify(ctx, testPhone, wrong)
		require.NoError(t, err)
		require.False(t, ok, "Wrong code verified")
	}

	// 6th attempt exceeds the cap: even the correct code fails and
	// the record is gone.
	ok, err := m.Verify(ctx, testPhone, code)
	assert.NoError(t, err)
	assert.False(t, ok, "Code verified past the attempt cap")

	ok, err = m.Verify(ctx, testPhone, code)
	assert.NoError(t, err)
	assert.False(t, ok, "Record survived lockout")

	// Lockout doesn't block fresh issuance.
	code2, err := m.Create(ctx, testPhone)
	require.NoError(t, err)
	ok, err = m.Verify(ctx, testPhone, code2)
	assert.NoError(t, err)
	assert.True(t, ok, "Fresh OTP after lockout failed verification")
}

// A new request overwrites the prior record: only the latest code
// verifies. This also means two concurrent legitimate requesters
// sharing a phone number invalidate each other's codes; that's a known
// limitation of the one-record-per-phone model, not a defect.
func TestIssueOverwritesPriorCode(t *testing.T) {
	m := setup(t)
	ctx := context.Background()

	first, err := m.Create(ctx, testPhone)
	require.NoError(t, err)

	second, err := m.Create(ctx, testPhone)
	require.NoError(t, err)

	if first != second {
		ok, err := m.Verify(ctx, testPhone, first)
		assert.NoError(t, err)
		assert.False(t, ok, "Overwritten code verified")
	}

	ok, err := m.Verify(ctx, testPhone, second)
	assert.NoError(t, err)
	assert.True(t, ok, "Latest code failed verification")
}

func TestRateLimit(t *testing.T) {
	m := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := m.CanRequest(ctx, testPhone)
		require.NoError(t, err)
		require.True(t, allowed, "Request %d denied under the cap", i+1)
		require.NoError(t, m.RecordRequest(ctx, testPhone))
	}

	allowed, remaining, err := m.CanRequest(ctx, testPhone)
	assert.NoError(t, err)
	assert.False(t, allowed, "4th request within the window allowed")
	assert.Greater(t, remaining, 0, "Denial came without a wait hint")
	assert.LessOrEqual(t, remaining, 60, "Wait hint exceeds the window")
}

func TestRateLimitWindowExpiry(t *testing.T) {
	m := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.RecordRequest(ctx, testPhone))
	}

	allowed, _, err := m.CanRequest(ctx, testPhone)
	require.NoError(t, err)
	require.False(t, allowed, "Request allowed at the cap")

	// Advance the clock past the window. The decision is made on the
	// stored timestamp, so the store TTL needn't have fired.
	m.now = func() time.Time { return time.Now().Add(61 * time.Minute) }

	allowed, _, err = m.CanRequest(ctx, testPhone)
	assert.NoError(t, err)
	assert.True(t, allowed, "Request denied after the window elapsed")
}

func TestResetTokenSingleUse(t *testing.T) {
	m := setup(t)
	ctx := context.Background()

	token, err := m.CreateResetToken(ctx, testPhone)
	require.NoError(t, err, "Error creating reset token")
	require.NotEmpty(t, token, "Empty reset token")

	phone, err := m.ValidateResetToken(ctx, token)
	assert.NoError(t, err, "Error validating reset token")
	assert.Equal(t, testPhone, phone, "Token resolved to the wrong phone")

	// Spent on read.
	_, err = m.ValidateResetToken(ctx, token)
	assert.Error(t, err, "Token validated a second time")
}

func TestFullResetScenario(t *testing.T) {
	m := setup(t)
	ctx := context.Background()

	code, err := m.Create(ctx, testPhone)
	require.NoError(t, err)
	require.Regexp(t, reCode, code)

	ok, err := m.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	require.True(t, ok)

	token, err := m.CreateResetToken(ctx, testPhone)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	phone, err := m.ValidateResetToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, testPhone, phone)

	_, err = m.ValidateResetToken(ctx, token)
	assert.Error(t, err, "Spent token resolved again")
}

func TestClear(t *testing.T) {
	m := setup(t)
	ctx := context.Background()

	code, err := m.Create(ctx, testPhone)
	require.NoError(t, err)
	require.NoError(t, m.RecordRequest(ctx, testPhone))

	require.NoError(t, m.Clear(ctx, testPhone))

	ok, err := m.Verify(ctx, testPhone, code)
	assert.NoError(t, err)
	assert.False(t, ok, "OTP survived Clear")

	allowed, _, err := m.CanRequest(ctx, testPhone)
	assert.NoError(t, err)
	assert.True(t, allowed, "Rate counter survived Clear")
}
