package auth

import (
	"fmt"
	"strconv"
	"strings"

	svcErr "github.com/oggyb/studymatch/internal/errors"
)

// PresenceChannelPrefix names a user's presence channel: presence-user-<id>.
const PresenceChannelPrefix = "presence-user-"

func PresenceChannel(userID uint64) string {
	return PresenceChannelPrefix + strconv.FormatUint(userID, 10)
}

// ParsePresenceChannel returns the user id a presence channel belongs to.
func ParsePresenceChannel(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(name, PresenceChannelPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	return id, err == nil && id != 0
}

// ChannelAuthorizer admits any signed-in user to any presence channel. The
// member identity is always taken from the token.
type ChannelAuthorizer struct {
	tokens *Tokens
}

func NewChannelAuthorizer(tokens *Tokens) *ChannelAuthorizer {
	return &ChannelAuthorizer{tokens: tokens}
}

func (a *ChannelAuthorizer) Authorize(channel, token string) (uint64, error) {
	if _, ok := ParsePresenceChannel(channel); !ok {
		return 0, fmt.Errorf("%w: unknown channel %q", svcErr.ErrUnauthenticated, channel)
	}
	return a.tokens.Verify(token)
}
