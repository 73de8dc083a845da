package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryableClassifiesTimeoutsAndConnectionErrors(t *testing.T) {
	assert.True(t, IsRetryable(&TimeoutError{Op: "x", Timeout: "1s", Cause: errors.New("boom")}))
	assert.True(t, IsRetryable(&ConnectionError{Mode: "local", Cause: errors.New("refused")}))
	assert.True(t, IsRetryable(ErrPoolExhausted))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("schema mismatch")))
}

func TestIsRetryableDetectsSQLiteBusy(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("database is locked")))
	assert.True(t, IsRetryable(errors.New("SQLITE_BUSY: database table is locked")))
}

func TestDatabaseErrorUnwraps(t *testing.T) {
	cause := errors.New("underlying")
	dbErr := NewDatabaseError("op", SeverityHigh, "detail", cause)
	assert.ErrorIs(t, dbErr, cause)
}

func TestConnectionErrorIsDetectable(t *testing.T) {
	err := &ConnectionError{Mode: "remote", Cause: errors.New("dial failed")}
	assert.True(t, IsConnectionError(err))
	assert.False(t, IsTimeout(err))
}
