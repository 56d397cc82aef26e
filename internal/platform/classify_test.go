package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError_TwoIPs(t *testing.T) {
	err := ClassifyError(errors.New("rpc error: the session was used under two different IP addresses simultaneously"))
	var revoked *SessionRevokedError
	require.ErrorAs(t, err, &revoked)
	assert.Contains(t, revoked.Reason, "two different IP")
}

func TestClassifyError_DuplicateAuthKey(t *testing.T) {
	err := ClassifyError(errors.New("rpc error code 401: AUTH_KEY_DUPLICATED"))
	var revoked *SessionRevokedError
	require.ErrorAs(t, err, &revoked)
}

func TestClassifyError_OtherPassesThrough(t *testing.T) {
	original := errors.New("connection reset by peer")
	err := ClassifyError(original)
	assert.Same(t, original, err)
}

func TestClassifyError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyError(nil))
}
