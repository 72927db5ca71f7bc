package factor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/store"
	"github.com/ibimina/authx/pkg/slogx"
	"github.com/ibimina/authx/pkg/tokenx"
)

// ceremonyTTL bounds how long a begun WebAuthn ceremony stays redeemable.
const ceremonyTTL = 5 * time.Minute

// waUser adapts a user and their stored credentials to webauthn.User.
type waUser struct {
	id          string
	name        string
	credentials []webauthn.Credential
}

func (u *waUser) WebAuthnID() []byte                         { return []byte(u.id) }
func (u *waUser) WebAuthnName() string                       { return u.name }
func (u *waUser) WebAuthnDisplayName() string                { return u.name }
func (u *waUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

type PasskeyProvider struct {
	wa    *webauthn.WebAuthn
	creds store.PasskeyCredentials
	codec *tokenx.Codec
}

// NewPasskey returns the WebAuthn passkey provider. codec signs the state
// token that binds finish calls to their begin call.
func NewPasskey(wa *webauthn.WebAuthn, creds store.PasskeyCredentials, codec *tokenx.Codec) *PasskeyProvider {
	return &PasskeyProvider{wa: wa, creds: creds, codec: codec}
}

func (*PasskeyProvider) Kind() domain.FactorKind { return domain.FactorPasskey }

func (p *PasskeyProvider) loadUser(ctx context.Context, userID, email string) (*waUser, []domain.PasskeyCredential, error) {
	stored, err := p.creds.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	creds := make([]webauthn.Credential, 0, len(stored))
	for _, c := range stored {
		var cred webauthn.Credential
		if err := json.Unmarshal(c.Credential, &cred); err != nil {
			slogx.FromContext(ctx).Warn("skipping undecodable passkey credential", "credential_id", c.ID)
			continue
		}
		creds = append(creds, cred)
	}

	name := email
	if name == "" {
		name = userID
	}
	return &waUser{id: userID, name: name, credentials: creds}, stored, nil
}

// Issue begins an authentication ceremony: assertion options for the
// client plus a signed state token carrying the session data.
func (p *PasskeyProvider) Issue(ctx context.Context, sub Subject) (domain.ChallengeDescriptor, error) {
	if p.wa == nil {
		return domain.ChallengeDescriptor{}, ErrChannelUnavailable
	}

	user, _, err := p.loadUser(ctx, sub.UserID, sub.Email)
	if err != nil {
		return domain.ChallengeDescriptor{}, err
	}
	if len(user.credentials) == 0 {
		return domain.ChallengeDescriptor{}, ErrNotEnrolled
	}

	assertion, session, err := p.wa.BeginLogin(user)
	if err != nil {
		return domain.ChallengeDescriptor{}, err
	}

	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return domain.ChallengeDescriptor{}, err
	}
	stateToken, err := tokenx.Sign(p.codec, tokenx.PurposePasskeyCeremony, domain.PasskeyStatePayload{
		UserID:  sub.UserID,
		Session: sessionJSON,
	}, ceremonyTTL)
	if err != nil {
		return domain.ChallengeDescriptor{}, err
	}

	return domain.ChallengeDescriptor{
		Channel:    domain.FactorPasskey,
		Options:    assertion,
		StateToken: stateToken,
	}, nil
}

// Verify completes the authentication ceremony bound to the state token
// and persists the validated credential's updated sign count.
func (p *PasskeyProvider) Verify(ctx context.Context, sub Subject, resp Response) (domain.VerifyOutcome, error) {
	if p.wa == nil {
		return domain.Invalid("channel_unavailable"), nil
	}

	state, err := tokenx.Verify[domain.PasskeyStatePayload](p.codec, tokenx.PurposePasskeyCeremony, resp.StateToken)
	if err != nil || state.UserID != sub.UserID {
		return domain.Invalid("invalid_state_token"), nil
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(state.Session, &session); err != nil {
		return domain.Invalid("invalid_state_token"), nil
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(resp.Assertion)
	if err != nil {
		return domain.Invalid("malformed_assertion"), nil
	}

	user, stored, err := p.loadUser(ctx, sub.UserID, sub.Email)
	if err != nil {
		return domain.VerifyOutcome{}, err
	}
	if len(user.credentials) == 0 {
		return domain.Invalid("not_enrolled"), nil
	}

	validated, err := p.wa.ValidateLogin(user, session, parsed)
	if err != nil {
		return domain.Invalid("assertion_rejected"), nil
	}

	if validated.Authenticator.CloneWarning {
		slogx.FromContext(ctx).Warn("possible cloned authenticator detected",
			"user_id", sub.UserID,
			"credential_id", base64.RawURLEncoding.EncodeToString(validated.ID),
		)
	}

	// Persist the bumped sign count.
	credID := base64.RawURLEncoding.EncodeToString(validated.ID)
	for _, c := range stored {
		if c.ID != credID {
			continue
		}
		blob, err := json.Marshal(validated)
		if err != nil {
			break
		}
		c.Credential = blob
		if err := p.creds.Update(ctx, c); err != nil {
			return domain.VerifyOutcome{}, err
		}
		break
	}

	return domain.Valid(), nil
}

// BeginEnrollment starts a registration ceremony for a new passkey.
func (p *PasskeyProvider) BeginEnrollment(ctx context.Context, sub Subject) (*protocol.CredentialCreation, string, error) {
	if p.wa == nil {
		return nil, "", ErrChannelUnavailable
	}

	user, _, err := p.loadUser(ctx, sub.UserID, sub.Email)
	if err != nil {
		return nil, "", err
	}

	creation, session, err := p.wa.BeginRegistration(user)
	if err != nil {
		return nil, "", err
	}

	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, "", err
	}
	stateToken, err := tokenx.Sign(p.codec, tokenx.PurposePasskeyCeremony, domain.PasskeyStatePayload{
		UserID:  sub.UserID,
		Session: sessionJSON,
	}, ceremonyTTL)
	if err != nil {
		return nil, "", err
	}

	return creation, stateToken, nil
}

// FinishEnrollment completes registration and stores the new credential.
func (p *PasskeyProvider) FinishEnrollment(ctx context.Context, sub Subject, stateToken string, attestation []byte, name string) error {
	if p.wa == nil {
		return ErrChannelUnavailable
	}

	state, err := tokenx.Verify[domain.PasskeyStatePayload](p.codec, tokenx.PurposePasskeyCeremony, stateToken)
	if err != nil {
		return err
	}
	if state.UserID != sub.UserID {
		return tokenx.ErrWrongPurpose
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(state.Session, &session); err != nil {
		return err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(attestation)
	if err != nil {
		return err
	}

	user, _, err := p.loadUser(ctx, sub.UserID, sub.Email)
	if err != nil {
		return err
	}

	credential, err := p.wa.CreateCredential(user, session, parsed)
	if err != nil {
		return err
	}

	blob, err := json.Marshal(credential)
	if err != nil {
		return err
	}

	return p.creds.Create(ctx, domain.PasskeyCredential{
		ID:         base64.RawURLEncoding.EncodeToString(credential.ID),
		UserID:     sub.UserID,
		Name:       name,
		Credential: blob,
	})
}
