package auth

import (
	"net/http/httptest"
	"testing"

	"toporia/internal/modules/realtime/domain"
)

func grantedConnection(t *testing.T, userID string, grants []string) *domain.Connection {
	t.Helper()
	conn := domain.NewConnection(nil)
	claims := &Claims{UserID: userID, Channels: grants}
	for key, value := range claims.ConnectionMetadata() {
		conn.SetMetadata(key, value)
	}
	return conn
}

func TestChannelAuthorizerExactGrant(t *testing.T) {
	conn := grantedConnection(t, "u1", []string{"private-orders"})
	if !ChannelAuthorizer("private-orders")(conn) {
		t.Fatal("exact grant should authorize")
	}
	if ChannelAuthorizer("private-billing")(conn) {
		t.Fatal("ungranted channel should be refused")
	}
}

func TestChannelAuthorizerWildcard(t *testing.T) {
	conn := grantedConnection(t, "u1", []string{"presence-room-*"})
	if !ChannelAuthorizer("presence-room-7")(conn) {
		t.Fatal("wildcard grant should cover matching channels")
	}
	if ChannelAuthorizer("presence-lobby")(conn) {
		t.Fatal("wildcard grant should not cover other prefixes")
	}
}

func TestChannelAuthorizerRefusesUnauthenticated(t *testing.T) {
	conn := domain.NewConnection(nil)
	if ChannelAuthorizer("private-orders")(conn) {
		t.Fatal("unauthenticated connection should be refused")
	}
}

func TestChannelAuthorizerRefusesWithoutGrants(t *testing.T) {
	conn := domain.NewConnection(nil)
	conn.SetMetadata(domain.MetadataUserID, "u1")
	if ChannelAuthorizer("private-orders")(conn) {
		t.Fatal("authenticated connection without grants should be refused")
	}
}

func TestConnectionMetadataShape(t *testing.T) {
	claims := &Claims{UserID: "u1", Channels: []string{"chat.*"}}
	meta := claims.ConnectionMetadata()
	if meta[domain.MetadataUserID] != "u1" {
		t.Fatalf("user id metadata = %v", meta[domain.MetadataUserID])
	}
	grants, ok := meta[domain.MetadataChannels].([]string)
	if !ok || len(grants) != 1 || grants[0] != "chat.*" {
		t.Fatalf("channel metadata = %v", meta[domain.MetadataChannels])
	}
}

func TestExtractTokenSources(t *testing.T) {
	withHeader := httptest.NewRequest("GET", "/ws", nil)
	withHeader.Header.Set("Authorization", "Bearer header-token")
	if got := ExtractToken(withHeader, ""); got != "header-token" {
		t.Fatalf("token = %q, want header-token", got)
	}

	lowercase := httptest.NewRequest("GET", "/ws", nil)
	lowercase.Header.Set("Authorization", "bearer lower-token")
	if got := ExtractToken(lowercase, ""); got != "lower-token" {
		t.Fatalf("token = %q, want lower-token", got)
	}

	fromQuery := httptest.NewRequest("GET", "/ws?token=query-token", nil)
	if got := ExtractToken(fromQuery, ""); got != "query-token" {
		t.Fatalf("token = %q, want query-token", got)
	}

	empty := httptest.NewRequest("GET", "/ws", nil)
	if got := ExtractToken(empty, ""); got != "" {
		t.Fatalf("token = %q, want empty", got)
	}
}
