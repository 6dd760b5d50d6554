package platform

import (
	"os/user"
	"strconv"

	lru "github.com/hashicorp/golang-lru"
)

// UserCache resolves uids to login names, remembering recent answers.
type UserCache struct {
	cache  *lru.Cache
	lookup func(uid string) (*user.User, error)
}

// NewUserCache creates a cache holding up to size entries.
func NewUserCache(size int) (*UserCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &UserCache{cache: cache, lookup: user.LookupId}, nil
}

// Username returns the login name for uid, or the decimal uid when the
// account cannot be resolved. Failed lookups are cached too.
func (c *UserCache) Username(uid uint32) string {
	if v, ok := c.cache.Get(uid); ok {
		return v.(string)
	}

	id := strconv.FormatUint(uint64(uid), 10)
	name := id
	if u, err := c.lookup(id); err == nil && u.Username != "" {
		name = u.Username
	}
	c.cache.Add(uid, name)
	return name
}
