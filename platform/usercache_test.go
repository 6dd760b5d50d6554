package platform

import (
	"errors"
	"os/user"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserCache_ResolvesAndCaches(t *testing.T) {
	c, err := NewUserCache(8)
	require.NoError(t, err)

	calls := 0
	c.lookup = func(uid string) (*user.User, error) {
		calls++
		if uid == "501" {
			return &user.User{Uid: uid, Username: "alice"}, nil
		}
		return nil, errors.New("unknown user")
	}

	assert.Equal(t, "alice", c.Username(501))
	assert.Equal(t, "alice", c.Username(501))
	assert.Equal(t, "4242", c.Username(4242))
	assert.Equal(t, "4242", c.Username(4242))
	assert.Equal(t, 2, calls)
}

func TestNewUserCache_InvalidSize(t *testing.T) {
	_, err := NewUserCache(0)
	assert.Error(t, err)
}
