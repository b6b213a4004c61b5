package credentials

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckTokenFormat(t *testing.T) {
	good := signedToken(t, epoch, epoch.Add(time.Hour))
	require.NoError(t, CheckTokenFormat(good))

	for _, bad := range []string{"", "t1", "a.b", "a..c", "a.b.c.d", "a.b!.c"} {
		assert.ErrorIs(t, CheckTokenFormat(bad), ErrMalformedToken, bad)
	}
}

func TestInspectToken_ReadsClaims(t *testing.T) {
	info, err := InspectToken(signedToken(t, epoch, epoch.Add(3*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, "u1", info.Subject)
	assert.True(t, info.IssuedAt.Equal(epoch))
	assert.True(t, info.ExpiresAt.Equal(epoch.Add(3*time.Minute)))
}

func TestInspectToken_NonJSONSegments(t *testing.T) {
	_, err := InspectToken("YWJj.ZGVm.Z2hp")
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestSubjectPermissions(t *testing.T) {
	admin := Subject{Username: "root", Permissions: []string{"*"}}
	assert.True(t, admin.IsAdministrator())
	assert.True(t, admin.HasPermission("vm:delete"))

	ops := Subject{Username: "ops", Permissions: []string{"cluster_admin", "vm:read"}}
	assert.True(t, ops.IsAdministrator())
	assert.True(t, ops.HasPermission("vm:read"))
	assert.False(t, ops.HasPermission("vm:delete"))

	viewer := Subject{Username: "v", Role: "user", Permissions: []string{"vm:read"}}
	assert.False(t, viewer.IsAdministrator())
}
