// Package registry maintains the global sso sessions, the per-app sessions, and the
// refresh-token rotation state on top of the session store.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"sso-broker/internal/kvstore"
	"sso-broker/internal/security"
	"sso-broker/internal/session/domain"
)

// Config carries the session lifetimes. AppSessionTTL bounds both the app session
// record and its refresh token; each successful rotation restarts it.
type Config struct {
	SSOSessionTTL     time.Duration
	AppSessionTTL     time.Duration
	MaxActiveSessions int
}

// Registry implements the session lifecycle on a kvstore.Store. It holds no state of
// its own, so concurrent use is safe as long as the store is.
type Registry struct {
	store kvstore.Store
	cfg   Config
	nowF  func() time.Time
}

// New returns a Registry over the given store.
func New(store kvstore.Store, cfg Config) *Registry {
	return &Registry{
		store: store,
		cfg:   cfg,
		nowF:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateAppSessionParams carries the identity snapshot and device context for a new
// app session. Role is captured at creation and travels with the session.
type CreateAppSessionParams struct {
	UserID    string
	Role      string
	ClientID  string
	Device    domain.DeviceContext
	IPAddress string
	FCMToken  string
}

// CreateSSOSession creates the global session for userID and returns the opaque sso
// token. Any prior sso session for the user is superseded: its token index is removed
// so the old token stops resolving immediately.
func (r *Registry) CreateSSOSession(ctx context.Context, userID, role, ipAddress string) (string, error) {
	if prev, err := r.getSSOSession(ctx, userID); err == nil {
		if err := r.store.Delete(ctx, ssoTokenKey(prev.TokenHash)); err != nil {
			return "", err
		}
	} else if !errors.Is(err, kvstore.ErrKeyNotFound) {
		return "", err
	}

	token := uuid.NewString()
	now := r.nowF()
	sess := domain.SSOSession{
		UserID:    userID,
		Role:      role,
		TokenHash: security.HashToken(token),
		IPAddress: ipAddress,
		CreatedAt: now,
		ExpiresAt: now.Add(r.cfg.SSOSessionTTL),
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("marshal sso session: %w", err)
	}
	if err := r.store.Put(ctx, ssoKey(userID), raw, r.cfg.SSOSessionTTL); err != nil {
		return "", err
	}
	if err := r.store.Put(ctx, ssoTokenKey(sess.TokenHash), []byte(userID), r.cfg.SSOSessionTTL); err != nil {
		return "", err
	}
	return token, nil
}

// ResolveSSOSession returns the sso session the token belongs to, or
// ErrSSOSessionInvalid when the token is unknown, expired, or superseded by a newer
// login. Resolution never extends the session's lifetime.
func (r *Registry) ResolveSSOSession(ctx context.Context, token string) (*domain.SSOSession, error) {
	hash := security.HashToken(token)
	userID, err := r.store.Get(ctx, ssoTokenKey(hash))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, ErrSSOSessionInvalid
	}
	if err != nil {
		return nil, err
	}
	sess, err := r.getSSOSession(ctx, string(userID))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, ErrSSOSessionInvalid
	}
	if err != nil {
		return nil, err
	}
	if !security.TokenHashEqual(token, sess.TokenHash) {
		return nil, ErrSSOSessionInvalid
	}
	return sess, nil
}

// CreateAppSession creates or replaces the app session for the (user, client, device)
// triple and returns it with a fresh refresh token. Replacing an existing triple
// immediately invalidates its previous refresh token. When the client already holds
// MaxActiveSessions devices, the oldest session is evicted to make room.
func (r *Registry) CreateAppSession(ctx context.Context, p CreateAppSessionParams) (*domain.AppSession, string, error) {
	if p.Device.DeviceID == "" {
		p.Device.DeviceID = uuid.NewString()
	}
	if err := r.evictForCapacity(ctx, p.UserID, p.ClientID, p.Device.DeviceID); err != nil {
		return nil, "", err
	}
	// Replacing an existing triple retires its refresh token as plain-invalid, not as
	// reuse: a stale client retrying after re-login is not a theft signal.
	skey := sessionKey(p.UserID, p.ClientID, p.Device.DeviceID)
	if prev, err := r.GetAppSession(ctx, p.UserID, p.ClientID, p.Device.DeviceID); err == nil {
		if err := r.store.Delete(ctx, refreshKey(prev.CurrentRefreshTokenID)); err != nil {
			return nil, "", err
		}
	} else if !errors.Is(err, ErrSessionNotFound) {
		return nil, "", err
	}

	token, tokenID, err := security.NewRefreshToken()
	if err != nil {
		return nil, "", err
	}
	now := r.nowF()
	sess := domain.AppSession{
		UserID:                p.UserID,
		ClientID:              p.ClientID,
		Role:                  p.Role,
		Device:                p.Device,
		IPAddress:             p.IPAddress,
		FCMToken:              p.FCMToken,
		CurrentRefreshTokenID: tokenID,
		CreatedAt:             now,
		LastActivityAt:        now,
		ExpiresAt:             now.Add(r.cfg.AppSessionTTL),
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, "", fmt.Errorf("marshal app session: %w", err)
	}
	if err := r.store.Put(ctx, skey, raw, r.cfg.AppSessionTTL); err != nil {
		return nil, "", err
	}
	if err := r.store.AddToSet(ctx, clientSessionsKey(p.UserID, p.ClientID), p.Device.DeviceID, r.cfg.AppSessionTTL); err != nil {
		return nil, "", err
	}
	if err := r.store.AddToSet(ctx, userSessionsKey(p.UserID), sessionPair(p.ClientID, p.Device.DeviceID), r.cfg.AppSessionTTL); err != nil {
		return nil, "", err
	}
	if err := r.store.Put(ctx, refreshKey(tokenID), []byte(skey), r.cfg.AppSessionTTL); err != nil {
		return nil, "", err
	}
	return &sess, token, nil
}

// RotateRefreshToken exchanges a refresh token for a new one on the same app session.
// The rotation is a compare-and-replace on the session record keyed by the old token
// id, so of two concurrent rotations with the same token exactly one wins.
//
// Presenting a superseded token returns ErrRefreshTokenReused and revokes the app
// session outright: the token was already spent once, so either the legitimate client
// or whoever replayed the token now holds state that cannot be trusted.
func (r *Registry) RotateRefreshToken(ctx context.Context, refreshToken, deviceID string) (*domain.AppSession, string, error) {
	hash := security.HashToken(refreshToken)
	skeyRaw, err := r.store.Get(ctx, refreshKey(hash))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, "", ErrRefreshTokenInvalid
	}
	if err != nil {
		return nil, "", err
	}
	skey := string(skeyRaw)

	raw, err := r.store.Get(ctx, skey)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, "", ErrRefreshTokenInvalid
	}
	if err != nil {
		return nil, "", err
	}
	var sess domain.AppSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, "", fmt.Errorf("unmarshal app session: %w", err)
	}
	if deviceID != "" && sess.Device.DeviceID != deviceID {
		return nil, "", ErrRefreshTokenInvalid
	}
	if sess.CurrentRefreshTokenID != hash {
		// The token was already rotated away. Whoever presented it holds stolen or
		// stale credentials, so the whole session is burned.
		if err := r.revokeAppSession(ctx, &sess); err != nil {
			return nil, "", err
		}
		return nil, "", ErrRefreshTokenReused
	}

	newToken, newTokenID, err := security.NewRefreshToken()
	if err != nil {
		return nil, "", err
	}
	now := r.nowF()
	updated := sess
	updated.CurrentRefreshTokenID = newTokenID
	updated.LastActivityAt = now
	updated.ExpiresAt = now.Add(r.cfg.AppSessionTTL)
	updatedRaw, err := json.Marshal(updated)
	if err != nil {
		return nil, "", fmt.Errorf("marshal app session: %w", err)
	}
	ok, err := r.store.CompareAndReplace(ctx, skey, raw, updatedRaw, r.cfg.AppSessionTTL)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		// A concurrent rotation consumed the token first.
		return nil, "", ErrRefreshTokenReused
	}
	// The old refresh index is left to age out on its own TTL: a later presentation of
	// the old token must resolve to the session and be recognized as reuse, not fall
	// through to "unknown token".
	if err := r.store.Put(ctx, refreshKey(newTokenID), []byte(skey), r.cfg.AppSessionTTL); err != nil {
		return nil, "", err
	}
	return &updated, newToken, nil
}

// GetAppSession returns the app session for the triple, or ErrSessionNotFound.
func (r *Registry) GetAppSession(ctx context.Context, userID, clientID, deviceID string) (*domain.AppSession, error) {
	raw, err := r.store.Get(ctx, sessionKey(userID, clientID, deviceID))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess domain.AppSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal app session: %w", err)
	}
	return &sess, nil
}

// UpdateFCMToken sets the push token on an existing app session. The update is a
// compare-and-replace retried a few times so it cannot clobber a concurrent rotation.
func (r *Registry) UpdateFCMToken(ctx context.Context, userID, clientID, deviceID, fcmToken string) error {
	skey := sessionKey(userID, clientID, deviceID)
	for range 3 {
		raw, err := r.store.Get(ctx, skey)
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var sess domain.AppSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return fmt.Errorf("unmarshal app session: %w", err)
		}
		sess.FCMToken = fcmToken
		sess.LastActivityAt = r.nowF()
		updatedRaw, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("marshal app session: %w", err)
		}
		ok, err := r.store.CompareAndReplace(ctx, skey, raw, updatedRaw, r.cfg.AppSessionTTL)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrSessionNotFound
}

// ListSessions enumerates the user's live app sessions grouped by client_id, newest
// first within each client. Index entries whose session record has expired are pruned
// as they are encountered.
func (r *Registry) ListSessions(ctx context.Context, userID string) (map[string][]domain.SessionInfo, error) {
	pairs, err := r.store.SetMembers(ctx, userSessionsKey(userID))
	if err != nil {
		return nil, err
	}
	out := make(map[string][]domain.SessionInfo)
	for _, pair := range pairs {
		clientID, deviceID, ok := splitSessionPair(pair)
		if !ok {
			continue
		}
		sess, err := r.GetAppSession(ctx, userID, clientID, deviceID)
		if errors.Is(err, ErrSessionNotFound) {
			if err := r.removeFromIndexes(ctx, userID, clientID, deviceID); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		out[clientID] = append(out[clientID], domain.SessionInfo{
			ClientID:       sess.ClientID,
			DeviceID:       sess.Device.DeviceID,
			Device:         sess.Device,
			IPAddress:      sess.IPAddress,
			CreatedAt:      sess.CreatedAt,
			LastActivityAt: sess.LastActivityAt,
		})
	}
	for _, infos := range out {
		sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.After(infos[j].CreatedAt) })
	}
	return out, nil
}

// Revoke tears down sessions at one of three granularities and is idempotent:
//
//   - clientID and deviceID set: that one app session
//   - clientID set, deviceID empty: every device session for that client
//   - both empty: every app session plus the sso session
//
// Revoking app sessions never touches the sso session except in the global case.
func (r *Registry) Revoke(ctx context.Context, userID, clientID, deviceID string) error {
	switch {
	case clientID != "" && deviceID != "":
		return r.revokeTriple(ctx, userID, clientID, deviceID)
	case clientID != "":
		devices, err := r.store.SetMembers(ctx, clientSessionsKey(userID, clientID))
		if err != nil {
			return err
		}
		for _, d := range devices {
			if err := r.revokeTriple(ctx, userID, clientID, d); err != nil {
				return err
			}
		}
		return nil
	default:
		pairs, err := r.store.SetMembers(ctx, userSessionsKey(userID))
		if err != nil {
			return err
		}
		for _, pair := range pairs {
			c, d, ok := splitSessionPair(pair)
			if !ok {
				continue
			}
			if err := r.revokeTriple(ctx, userID, c, d); err != nil {
				return err
			}
		}
		return r.deleteSSOSession(ctx, userID)
	}
}

func (r *Registry) getSSOSession(ctx context.Context, userID string) (*domain.SSOSession, error) {
	raw, err := r.store.Get(ctx, ssoKey(userID))
	if err != nil {
		return nil, err
	}
	var sess domain.SSOSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal sso session: %w", err)
	}
	return &sess, nil
}

func (r *Registry) deleteSSOSession(ctx context.Context, userID string) error {
	sess, err := r.getSSOSession(ctx, userID)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, ssoTokenKey(sess.TokenHash)); err != nil {
		return err
	}
	return r.store.Delete(ctx, ssoKey(userID))
}

// evictForCapacity drops the oldest device session for (user, client) when adding
// deviceID would exceed MaxActiveSessions. Re-login from a known device never evicts.
func (r *Registry) evictForCapacity(ctx context.Context, userID, clientID, deviceID string) error {
	if r.cfg.MaxActiveSessions <= 0 {
		return nil
	}
	devices, err := r.store.SetMembers(ctx, clientSessionsKey(userID, clientID))
	if err != nil {
		return err
	}
	for _, d := range devices {
		if d == deviceID {
			return nil
		}
	}
	for len(devices) >= r.cfg.MaxActiveSessions {
		oldest := ""
		var oldestAt time.Time
		for _, d := range devices {
			sess, err := r.GetAppSession(ctx, userID, clientID, d)
			if errors.Is(err, ErrSessionNotFound) {
				oldest = d
				break
			}
			if err != nil {
				return err
			}
			if oldest == "" || sess.CreatedAt.Before(oldestAt) {
				oldest = d
				oldestAt = sess.CreatedAt
			}
		}
		if oldest == "" {
			return nil
		}
		if err := r.revokeTriple(ctx, userID, clientID, oldest); err != nil {
			return err
		}
		kept := devices[:0]
		for _, d := range devices {
			if d != oldest {
				kept = append(kept, d)
			}
		}
		devices = kept
	}
	return nil
}

func (r *Registry) revokeTriple(ctx context.Context, userID, clientID, deviceID string) error {
	if err := r.store.Delete(ctx, sessionKey(userID, clientID, deviceID)); err != nil {
		return err
	}
	return r.removeFromIndexes(ctx, userID, clientID, deviceID)
}

func (r *Registry) revokeAppSession(ctx context.Context, sess *domain.AppSession) error {
	return r.revokeTriple(ctx, sess.UserID, sess.ClientID, sess.Device.DeviceID)
}

func (r *Registry) removeFromIndexes(ctx context.Context, userID, clientID, deviceID string) error {
	if err := r.store.RemoveFromSet(ctx, clientSessionsKey(userID, clientID), deviceID); err != nil {
		return err
	}
	return r.store.RemoveFromSet(ctx, userSessionsKey(userID), sessionPair(clientID, deviceID))
}
