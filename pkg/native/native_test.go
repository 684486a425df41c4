package native

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSucceededUsesPerCallTable(t *testing.T) {
	assert.True(t, Succeeded(CallSendMessage, 0))
	assert.False(t, Succeeded(CallSendMessage, 1))

	assert.True(t, Succeeded(CallSendImage, 1))
	assert.False(t, Succeeded(CallSendImage, 0))
	assert.True(t, Succeeded(CallSendVideo, 1))
	assert.True(t, Succeeded(CallSendDocument, 1))
	assert.True(t, Succeeded(CallSendAudio, 1), "audio follows the other uploads")
	assert.False(t, Succeeded(CallSendAudio, 0))

	assert.True(t, Succeeded(CallSetGroupName, 0))
	assert.True(t, Succeeded(CallGetGroupInfo, 0))

	assert.False(t, Succeeded(CallSendMessage, StatusInvalidHandle))
	assert.False(t, Succeeded(Call("nope"), 0), "calls without an entry never succeed")
}

func TestSuccessStatusCoversEveryStatusCall(t *testing.T) {
	calls := []Call{
		CallConnect, CallDisconnect, CallSendMessage, CallSendImage, CallSendVideo,
		CallSendAudio, CallSendDocument, CallSetGroupName, CallSetGroupTopic,
		CallSetGroupAnnounce, CallSetGroupLocked, CallJoinGroupWithInviteLink,
		CallGetGroupInviteLink, CallGetGroupInfo,
	}
	for _, c := range calls {
		_, ok := SuccessStatus(c)
		assert.True(t, ok, "missing success entry for %s", c)
	}
}

func TestProvisioningErrorWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := AsProvisioningError("/data", cause)

	var perr *ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "/data", perr.StorageRoot)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "/data")

	again := AsProvisioningError("/other", err)
	assert.Same(t, err, again, "already wrapped errors are returned as is")

	assert.NoError(t, AsProvisioningError("/data", nil))
	assert.False(t, Handle(0).Valid())
	assert.True(t, Handle(7).Valid())
}
