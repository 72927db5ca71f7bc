package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/store"
	"github.com/ibimina/authx/pkg/cryptox"
	"github.com/ibimina/authx/pkg/tokenx"
)

const (
	// DefaultSessionTTL bounds the post-MFA session token.
	DefaultSessionTTL = 12 * time.Hour

	// DefaultTrustedTTL bounds the remember-this-device token.
	DefaultTrustedTTL = 30 * 24 * time.Hour
)

// ErrDeviceNotTrusted reports a trusted-device token that does not resolve
// to a stored device with a matching fingerprint.
var ErrDeviceNotTrusted = errors.New("device not trusted")

// DeviceMeta is what the HTTP layer knows about the requesting client.
type DeviceMeta struct {
	UserAgent string
	IP        string
}

// Session is the result of a successful verification. TrustedToken and
// DeviceID are set only when the caller opted into device trust.
type Session struct {
	Token        string
	TrustedToken string
	DeviceID     string
}

type SessionService struct {
	Codec   *tokenx.Codec
	Devices store.TrustedDevices

	// TrustedCodec signs trusted-device tokens. Defaults to Codec, so the
	// two token classes can rotate keys independently when configured.
	TrustedCodec *tokenx.Codec

	SessionTTL time.Duration
	TrustedTTL time.Duration
}

func (s *SessionService) trustedCodec() *tokenx.Codec {
	if s.TrustedCodec != nil {
		return s.TrustedCodec
	}
	return s.Codec
}

func (s *SessionService) sessionTTL() time.Duration {
	if s.SessionTTL > 0 {
		return s.SessionTTL
	}
	return DefaultSessionTTL
}

func (s *SessionService) trustedTTL() time.Duration {
	if s.TrustedTTL > 0 {
		return s.TrustedTTL
	}
	return DefaultTrustedTTL
}

// IssueSession mints the session token and, when remember is set, persists
// a trusted device bound to the client fingerprint and mints its token.
func (s *SessionService) IssueSession(ctx context.Context, userID string, amr []string, remember bool, meta DeviceMeta) (Session, error) {
	token, err := tokenx.Sign(s.Codec, tokenx.PurposeSession, domain.SessionPayload{
		UserID: userID,
		AMR:    amr,
	}, s.sessionTTL())
	if err != nil {
		return Session{}, fmt.Errorf("failed to sign session token: %w", err)
	}

	session := Session{Token: token}
	if !remember {
		return session, nil
	}

	deviceID := uuid.NewString()
	uaHash := hashUserAgent(meta.UserAgent)
	prefix := ipPrefix(meta.IP)

	if err := s.Devices.Create(ctx, domain.TrustedDevice{
		UserID:          userID,
		DeviceID:        deviceID,
		FingerprintHash: deviceFingerprint(userID, uaHash, prefix),
		UAHash:          uaHash,
		IPPrefix:        prefix,
	}); err != nil {
		return Session{}, fmt.Errorf("failed to persist trusted device: %w", err)
	}

	trusted, err := tokenx.Sign(s.trustedCodec(), tokenx.PurposeTrustedDevice, domain.TrustedDevicePayload{
		UserID:   userID,
		DeviceID: deviceID,
	}, s.trustedTTL())
	if err != nil {
		return Session{}, fmt.Errorf("failed to sign trusted device token: %w", err)
	}

	session.TrustedToken = trusted
	session.DeviceID = deviceID
	return session, nil
}

// VerifyTrustedDevice resolves a trusted-device token to its stored device
// and checks the client fingerprint still matches. A stolen token replayed
// from a different network or client reads as not trusted.
func (s *SessionService) VerifyTrustedDevice(ctx context.Context, token string, meta DeviceMeta) (domain.TrustedDevice, error) {
	payload, err := tokenx.Verify[domain.TrustedDevicePayload](s.trustedCodec(), tokenx.PurposeTrustedDevice, token)
	if err != nil {
		return domain.TrustedDevice{}, ErrDeviceNotTrusted
	}

	device, err := s.Devices.Get(ctx, payload.UserID, payload.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.TrustedDevice{}, ErrDeviceNotTrusted
	}
	if err != nil {
		return domain.TrustedDevice{}, err
	}

	fingerprint := deviceFingerprint(payload.UserID, hashUserAgent(meta.UserAgent), ipPrefix(meta.IP))
	if fingerprint != device.FingerprintHash {
		return domain.TrustedDevice{}, ErrDeviceNotTrusted
	}

	if err := s.Devices.TouchLastUsed(ctx, device.UserID, device.DeviceID, time.Now().UTC()); err != nil {
		return domain.TrustedDevice{}, err
	}
	return device, nil
}

func (s *SessionService) ListDevices(ctx context.Context, userID string) ([]domain.TrustedDevice, error) {
	return s.Devices.ListByUser(ctx, userID)
}

func (s *SessionService) RevokeDevice(ctx context.Context, userID, deviceID string) error {
	return s.Devices.Delete(ctx, userID, deviceID)
}

func (s *SessionService) RevokeAllDevices(ctx context.Context, userID string) error {
	return s.Devices.DeleteAllForUser(ctx, userID)
}

// deviceFingerprint binds a device row to the client that registered it.
// Raw user agents and addresses never reach storage.
func deviceFingerprint(userID, uaHash, ipPrefix string) string {
	return cryptox.FingerprintToken(userID + "|" + uaHash + "|" + ipPrefix)
}

func hashUserAgent(ua string) string {
	return cryptox.FingerprintToken(ua)
}

// ipPrefix truncates the client address to a network prefix so DHCP churn
// within the same network does not invalidate the fingerprint: /24 for
// IPv4, the first four hextets for IPv6.
func ipPrefix(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return ""
	}

	if v4 := parsed.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return masked.String() + "/24"
	}

	masked := parsed.Mask(net.CIDRMask(64, 128))
	return masked.String() + "/64"
}
