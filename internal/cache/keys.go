package cache

import "fmt"

const (
	insertBufferKey = "buffer:insert"
	deleteBufferKey = "buffer:delete"
	usersKey        = "users"
)

// FeedKey hash projection of a single feed.
func FeedKey(uuid string) string { return fmt.Sprintf("feed:%s", uuid) }

// UserFeedKey inbound timeline of a user (posts from followees).
func UserFeedKey(userID string) string { return fmt.Sprintf("user:%s:feed", userID) }

// UserProfileKey outbound timeline of a user (own posts).
func UserProfileKey(userID string) string { return fmt.Sprintf("user:%s:profile", userID) }

// UsersKey sorted set of all registered user ids (broadcast directory).
func UsersKey() string { return usersKey }
