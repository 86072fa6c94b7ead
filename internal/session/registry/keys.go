package registry

import (
	"fmt"
	"strings"
)

// Key layout in the session store. Everything is namespaced by prefix so a single
// store can hold sessions, token indexes, and the per-user enumeration sets.
//
//	sso:{user_id}                            -> SSOSession (JSON)
//	sso_token:{sha256(token)}                -> user_id
//	session:{user_id}:{client_id}:{device_id} -> AppSession (JSON)
//	client_sessions:{user_id}:{client_id}    -> set of device_id
//	user_sessions:{user_id}                  -> set of "client_id:device_id"
//	refresh:{sha256(token)}                  -> session key
func ssoKey(userID string) string {
	return "sso:" + userID
}

func ssoTokenKey(tokenHash string) string {
	return "sso_token:" + tokenHash
}

func sessionKey(userID, clientID, deviceID string) string {
	return fmt.Sprintf("session:%s:%s:%s", userID, clientID, deviceID)
}

func clientSessionsKey(userID, clientID string) string {
	return fmt.Sprintf("client_sessions:%s:%s", userID, clientID)
}

func userSessionsKey(userID string) string {
	return "user_sessions:" + userID
}

func refreshKey(tokenHash string) string {
	return "refresh:" + tokenHash
}

// sessionPair encodes a (client, device) membership entry for the per-user set.
// Client identifiers must not contain a colon; device identifiers may.
func sessionPair(clientID, deviceID string) string {
	return clientID + ":" + deviceID
}

func splitSessionPair(pair string) (clientID, deviceID string, ok bool) {
	clientID, deviceID, ok = strings.Cut(pair, ":")
	return clientID, deviceID, ok
}
