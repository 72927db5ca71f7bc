package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/factor"
	"github.com/ibimina/authx/internal/authx/ratelimit"
	"github.com/ibimina/authx/internal/authx/replay"
	"github.com/ibimina/authx/internal/authx/store"
	"github.com/ibimina/authx/pkg/cryptox"
	"github.com/ibimina/authx/pkg/tokenx"
)

const (
	backupCodeCount = 10

	// pendingEnrollmentTTL bounds the window between enroll/start and
	// enroll/confirm.
	pendingEnrollmentTTL = 10 * time.Minute

	secretPreviewChars = 4
)

var (
	ErrMFAAlreadyEnabled = errors.New("MFA already enabled for this user")
	ErrMFANotEnabled     = errors.New("MFA not enabled for this user")

	// ErrInvalidPendingToken covers every pending-token failure: expired,
	// tampered, wrong purpose, wrong user. Fail closed, no distinction.
	ErrInvalidPendingToken = errors.New("invalid or expired enrollment token")

	// ErrInvalidOrExpired is the single generic verification failure the
	// client ever sees. Sub-reasons live in the audit trail only.
	ErrInvalidOrExpired = errors.New("invalid or expired code")

	// ErrMethodNotAllowed reports a disable attempt with a factor other
	// than totp or backup.
	ErrMethodNotAllowed = errors.New("disable requires a totp or backup code")
)

// Rate limit policies per challenge operation. The per-user limit is the
// tight one; the per-IP limit catches spraying across users.
var (
	userFactorPolicy = ratelimit.Policy{MaxHits: 5, Window: 5 * time.Minute}
	ipPolicy         = ratelimit.Policy{MaxHits: 10, Window: 5 * time.Minute}
)

// RateLimitedError carries the window reset time so the HTTP layer can
// answer 429 with a retryAt hint.
type RateLimitedError struct {
	Scope   string
	RetryAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (%s), retry after %s", e.Scope, e.RetryAt.Format(time.RFC3339))
}

// VerifyResult is returned by VerifyChallenge on success.
type VerifyResult struct {
	Factor     domain.FactorKind
	UsedBackup bool
	Session    Session
}

// MFAService orchestrates enrollment, challenges, and disablement across
// the factor providers.
type MFAService struct {
	Store     store.Store
	Providers map[domain.FactorKind]factor.Provider
	Limiter   *ratelimit.Limiter
	Replay    replay.Guard
	Sessions  *SessionService
	Audit     *AuditRecorder
	Codec     *tokenx.Codec
	Issuer    string
	Logger    *slog.Logger

	// WhatsAppConfigured mirrors whether the whatsapp transport was wired
	// at startup. The factor is always declared; this only drives the
	// availability flag in the channels summary.
	WhatsAppConfigured bool
}

// StartEnrollment generates a fresh TOTP secret. The secret leaves the
// server only inside the otpauth URI and, sealed, inside the pending
// token; no server-side row is written until confirmation.
func (s *MFAService) StartEnrollment(ctx context.Context, userID, email string) (domain.EnrollmentStart, error) {
	state, err := s.getState(ctx, userID)
	if err != nil {
		return domain.EnrollmentStart{}, err
	}
	if state.Enabled {
		return domain.EnrollmentStart{}, ErrMFAAlreadyEnabled
	}

	account := email
	if account == "" {
		account = userID
	}
	secret, otpauthURI, err := factor.GenerateTOTPKey(s.Issuer, account)
	if err != nil {
		return domain.EnrollmentStart{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	sealed, err := cryptox.EncryptSensitiveString(secret)
	if err != nil {
		return domain.EnrollmentStart{}, fmt.Errorf("failed to seal TOTP secret: %w", err)
	}

	pendingToken, err := tokenx.Sign(s.Codec, tokenx.PurposePendingEnrollment, domain.PendingEnrollmentPayload{
		UserID:    userID,
		SecretEnc: sealed,
	}, pendingEnrollmentTTL)
	if err != nil {
		return domain.EnrollmentStart{}, fmt.Errorf("failed to sign pending token: %w", err)
	}

	s.Audit.Record(ctx, domain.AuditEnrollmentStarted, userID, nil)

	return domain.EnrollmentStart{
		OtpauthURI:    otpauthURI,
		SecretPreview: previewSecret(secret),
		PendingToken:  pendingToken,
	}, nil
}

// ConfirmEnrollment proves possession of the authenticator with two
// distinct consecutive codes, then enables MFA and returns the one-time
// backup codes in plaintext. The plaintext is never stored.
func (s *MFAService) ConfirmEnrollment(ctx context.Context, userID, pendingToken, code1, code2 string) ([]string, error) {
	payload, err := tokenx.Verify[domain.PendingEnrollmentPayload](s.Codec, tokenx.PurposePendingEnrollment, pendingToken)
	if err != nil || payload.UserID != userID {
		return nil, ErrInvalidPendingToken
	}

	state, err := s.getState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if state.Enabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, err := cryptox.DecryptSensitiveString(payload.SecretEnc)
	if err != nil {
		return nil, ErrInvalidPendingToken
	}

	// Two distinct codes rule out a replayed screenshot of a single code.
	if code1 == code2 {
		return nil, ErrInvalidOrExpired
	}
	now := time.Now()
	step1, ok := factor.VerifyTOTPCode(secret, code1, now)
	if !ok {
		return nil, ErrInvalidOrExpired
	}
	step2, ok := factor.VerifyTOTPCode(secret, code2, now)
	if !ok || step2 == step1 {
		return nil, ErrInvalidOrExpired
	}

	backupCodes := make([]string, backupCodeCount)
	backupHashes := make([]string, backupCodeCount)
	for i := range backupCodeCount {
		code, err := cryptox.GenerateBackupCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		hash, err := cryptox.HashOneTimeCode(code)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		backupCodes[i] = code
		backupHashes[i] = hash
	}

	enabledAt := time.Now().UTC()
	lastStep := max(step1, step2)
	state.Enabled = true
	state.EnabledAt = &enabledAt
	state.SecretEnc = payload.SecretEnc
	state.BackupHashes = backupHashes
	state.Methods = []domain.FactorKind{domain.FactorTOTP, domain.FactorBackup}
	state.FailedCount = 0
	state.LastVerifiedStep = lastStep

	if err := s.Store.MFAStates().Upsert(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist MFA state: %w", err)
	}

	s.Audit.Record(ctx, domain.AuditEnrolled, userID, map[string]any{"methods": "totp backup"})

	return backupCodes, nil
}

// InitiateChallenge dispatches to the factor's provider after both rate
// limits pass.
func (s *MFAService) InitiateChallenge(ctx context.Context, userID, email string, kind domain.FactorKind, ip string) (domain.ChallengeDescriptor, error) {
	state, err := s.getState(ctx, userID)
	if err != nil {
		return domain.ChallengeDescriptor{}, err
	}
	if !state.Enabled {
		return domain.ChallengeDescriptor{}, ErrMFANotEnabled
	}

	if limited := s.checkLimits(ctx, userID, kind, ip); limited != nil {
		return domain.ChallengeDescriptor{}, limited
	}

	provider, ok := s.Providers[kind]
	if !ok {
		return domain.ChallengeDescriptor{}, domain.ErrUnknownFactor
	}

	return provider.Issue(ctx, factor.Subject{UserID: userID, Email: email, State: state})
}

// VerifyChallenge verifies the client's answer and, on success, issues the
// session. Every failure path collapses to ErrInvalidOrExpired; the
// sub-reason is recorded in the audit trail only.
func (s *MFAService) VerifyChallenge(ctx context.Context, userID, email string, kind domain.FactorKind, resp factor.Response, trustDevice bool, meta DeviceMeta) (VerifyResult, error) {
	state, err := s.getState(ctx, userID)
	if err != nil {
		return VerifyResult{}, err
	}
	if !state.Enabled {
		return VerifyResult{}, ErrMFANotEnabled
	}

	if limited := s.checkLimits(ctx, userID, kind, meta.IP); limited != nil {
		return VerifyResult{}, limited
	}

	provider, ok := s.Providers[kind]
	if !ok {
		return VerifyResult{}, domain.ErrUnknownFactor
	}

	outcome, err := provider.Verify(ctx, factor.Subject{UserID: userID, Email: email, State: state}, resp)
	if err != nil {
		return VerifyResult{}, err
	}

	// An accepted TOTP step must strictly advance the persisted cursor and
	// pass the first-use guard; a valid code replayed within the drift
	// window reads as invalid.
	if outcome.OK && kind == domain.FactorTOTP {
		if outcome.MatchedStep <= state.LastVerifiedStep || !s.Replay.FirstUse(userID, outcome.MatchedStep) {
			outcome = domain.Invalid("replayed_step")
		}
	}

	if !outcome.OK {
		if err := s.Store.MFAStates().IncrementFailedCount(ctx, userID); err != nil {
			s.Logger.Error("failed to increment MFA failure counter", "error", err)
		}
		action := domain.AuditFailed
		if kind == domain.FactorPasskey {
			action = domain.AuditPasskeyFailed
		}
		s.Audit.Record(ctx, action, userID, map[string]any{"factor": kind.String(), "reason": outcome.Reason})
		return VerifyResult{}, ErrInvalidOrExpired
	}

	// Write only the fields this path owns. A full-row upsert here would
	// overwrite a concurrent backup redemption or disable with the state
	// read before the provider ran.
	step := int64(-1)
	if kind == domain.FactorTOTP {
		step = outcome.MatchedStep
	}
	err = s.Store.MFAStates().RecordVerifySuccess(ctx, userID, time.Now().UTC(), state.WithMethod(kind), step)
	if errors.Is(err, store.ErrConflict) {
		// MFA was disabled while this verification was in flight.
		return VerifyResult{}, ErrInvalidOrExpired
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to persist MFA state: %w", err)
	}

	session, err := s.Sessions.IssueSession(ctx, userID, []string{kind.String()}, trustDevice, meta)
	if err != nil {
		return VerifyResult{}, err
	}

	action := domain.AuditSuccess
	switch {
	case outcome.UsedBackup:
		action = domain.AuditBackupSuccess
	case kind == domain.FactorPasskey:
		action = domain.AuditPasskeySuccess
	}
	s.Audit.Record(ctx, action, userID, map[string]any{"factor": kind.String()})
	if session.DeviceID != "" {
		s.Audit.Record(ctx, domain.AuditDeviceTrusted, userID, map[string]any{"device_id": session.DeviceID})
	}

	return VerifyResult{Factor: kind, UsedBackup: outcome.UsedBackup, Session: session}, nil
}

// Disable turns MFA off after a fresh totp or backup verification. The
// state row is reset, never deleted; trusted devices and passkeys go with it.
func (s *MFAService) Disable(ctx context.Context, userID, code string, method domain.FactorKind) error {
	if method != domain.FactorTOTP && method != domain.FactorBackup {
		return ErrMethodNotAllowed
	}

	state, err := s.getState(ctx, userID)
	if err != nil {
		return err
	}
	if !state.Enabled {
		return ErrMFANotEnabled
	}

	provider, ok := s.Providers[method]
	if !ok {
		return domain.ErrUnknownFactor
	}

	outcome, err := provider.Verify(ctx, factor.Subject{UserID: userID, State: state}, factor.Response{Code: code})
	if err != nil {
		return err
	}
	if outcome.OK && method == domain.FactorTOTP {
		if outcome.MatchedStep <= state.LastVerifiedStep || !s.Replay.FirstUse(userID, outcome.MatchedStep) {
			outcome = domain.Invalid("replayed_step")
		}
	}
	if !outcome.OK {
		s.Audit.Record(ctx, domain.AuditDisableFailed, userID, map[string]any{"method": method.String(), "reason": outcome.Reason})
		return ErrInvalidOrExpired
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.MFAStates().Reset(ctx, userID); err != nil {
			return fmt.Errorf("failed to reset MFA state: %w", err)
		}
		if err := tx.TrustedDevices().DeleteAllForUser(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete trusted devices: %w", err)
		}
		if err := tx.PasskeyCredentials().DeleteAllForUser(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete passkey credentials: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.Audit.Record(ctx, domain.AuditDisabled, userID, map[string]any{"method": method.String()})
	return nil
}

// Channels returns the read-only enrollment summary. Every factor in the
// closed set appears; unavailability is flagged, never omitted.
func (s *MFAService) Channels(ctx context.Context, userID string) (domain.ChannelsSummary, error) {
	state, err := s.getState(ctx, userID)
	if err != nil {
		return domain.ChannelsSummary{}, err
	}

	passkeys, err := s.Store.PasskeyCredentials().ListByUser(ctx, userID)
	if err != nil {
		return domain.ChannelsSummary{}, err
	}

	enrolled := map[domain.FactorKind]bool{
		domain.FactorTOTP:     state.Enabled && state.SecretEnc != "",
		domain.FactorEmail:    state.Enabled && state.HasMethod(domain.FactorEmail),
		domain.FactorWhatsApp: state.Enabled && state.WhatsAppMSISDN != "",
		domain.FactorBackup:   state.Enabled && len(state.BackupHashes) > 0,
		domain.FactorPasskey:  len(passkeys) > 0,
	}

	var preferred domain.FactorKind
	for _, k := range []domain.FactorKind{domain.FactorTOTP, domain.FactorPasskey, domain.FactorWhatsApp, domain.FactorEmail, domain.FactorBackup} {
		if enrolled[k] {
			preferred = k
			break
		}
	}

	return domain.ChannelsSummary{
		Preferred:         preferred,
		Enrolled:          enrolled,
		WhatsAppAvailable: s.WhatsAppConfigured,
		BackupRemaining:   len(state.BackupHashes),
	}, nil
}

// getState loads the user's MFA state, mapping absence to the zero state
// so callers branch on Enabled instead of ErrNotFound.
func (s *MFAService) getState(ctx context.Context, userID string) (domain.UserMFAState, error) {
	state, err := s.Store.MFAStates().Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.UserMFAState{UserID: userID, LastVerifiedStep: -1}, nil
	}
	if err != nil {
		return domain.UserMFAState{}, fmt.Errorf("failed to load MFA state: %w", err)
	}
	return state, nil
}

// checkLimits applies the tight per-user-per-factor limit, then the looser
// per-IP limit. Both hits register on every attempt.
func (s *MFAService) checkLimits(ctx context.Context, userID string, kind domain.FactorKind, ip string) *RateLimitedError {
	userDecision := s.Limiter.Apply(ctx, "mfa:user:"+userID+":"+kind.String(), userFactorPolicy)
	if !userDecision.OK {
		s.Audit.Record(ctx, domain.AuditRateLimited, userID, map[string]any{"scope": "user_factor", "factor": kind.String()})
		return &RateLimitedError{Scope: "user_factor", RetryAt: userDecision.RetryAt}
	}

	if ip != "" {
		ipDecision := s.Limiter.Apply(ctx, "mfa:ip:"+ip, ipPolicy)
		if !ipDecision.OK {
			s.Audit.Record(ctx, domain.AuditRateLimited, userID, map[string]any{"scope": "ip"})
			return &RateLimitedError{Scope: "ip", RetryAt: ipDecision.RetryAt}
		}
	}
	return nil
}

func previewSecret(secret string) string {
	if len(secret) <= secretPreviewChars {
		return secret
	}
	return secret[:secretPreviewChars] + strings.Repeat("*", len(secret)-secretPreviewChars)
}
