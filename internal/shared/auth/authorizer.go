package auth

import (
	"strings"

	"toporia/internal/modules/realtime/domain"
)

// ConnectionMetadata shapes the claims into connection metadata: the user id
// plus the channel grants the authorizer checks later.
func (c *Claims) ConnectionMetadata() map[string]any {
	meta := map[string]any{domain.MetadataUserID: c.UserID}
	if len(c.Channels) > 0 {
		meta[domain.MetadataChannels] = append([]string(nil), c.Channels...)
	}
	return meta
}

// ChannelAuthorizer builds the predicate installed on private and presence
// channels: the connection's grants must name the channel exactly or cover
// it with a trailing-* wildcard. Unauthenticated connections are refused.
func ChannelAuthorizer(channel string) domain.Authorizer {
	return func(conn *domain.Connection) bool {
		if !conn.IsAuthenticated() {
			return false
		}
		raw, ok := conn.Metadata(domain.MetadataChannels)
		if !ok {
			return false
		}
		grants, ok := raw.([]string)
		if !ok {
			return false
		}
		return channelAllowed(grants, channel)
	}
}

func channelAllowed(grants []string, channel string) bool {
	for _, grant := range grants {
		grant = strings.TrimSpace(grant)
		if grant == "" {
			continue
		}
		if grant == channel {
			return true
		}
		if strings.HasSuffix(grant, "*") && strings.HasPrefix(channel, strings.TrimSuffix(grant, "*")) {
			return true
		}
	}
	return false
}
