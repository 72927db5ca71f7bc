package factor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/store"
	"github.com/ibimina/authx/pkg/cryptox"
	"github.com/ibimina/authx/pkg/idx"
)

// WhatsAppSender delivers a one-time code to a WhatsApp number.
type WhatsAppSender interface {
	SendCode(ctx context.Context, msisdn, code string) error
}

// TwilioWhatsAppSender sends through Twilio's Messages REST endpoint.
type TwilioWhatsAppSender struct {
	AccountSID string
	AuthToken  string
	From       string // E.164 sender number

	// Client defaults to a 10s-timeout http.Client.
	Client *http.Client
}

func (s *TwilioWhatsAppSender) httpClient() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (s *TwilioWhatsAppSender) SendCode(ctx context.Context, msisdn, code string) error {
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", s.AccountSID)

	form := url.Values{}
	form.Set("From", "whatsapp:"+s.From)
	form.Set("To", "whatsapp:"+msisdn)
	form.Set("Body", fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(OTPCodeTTL.Minutes())))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.AccountSID, s.AuthToken)

	res, err := s.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("whatsapp send: unexpected status %d", res.StatusCode)
	}
	return nil
}

type whatsappProvider struct {
	sender WhatsAppSender
	codes  store.OTPCodes
}

// NewWhatsApp returns the WhatsApp OTP provider. A nil sender marks the
// channel administratively unavailable; the factor stays declared.
func NewWhatsApp(sender WhatsAppSender, codes store.OTPCodes) Provider {
	return &whatsappProvider{sender: sender, codes: codes}
}

func (*whatsappProvider) Kind() domain.FactorKind { return domain.FactorWhatsApp }

func (p *whatsappProvider) Issue(ctx context.Context, sub Subject) (domain.ChallengeDescriptor, error) {
	if p.sender == nil {
		return domain.ChallengeDescriptor{}, ErrChannelUnavailable
	}
	if sub.State.WhatsAppMSISDN == "" {
		return domain.ChallengeDescriptor{}, ErrNotEnrolled
	}

	code, err := cryptox.GenerateNumericCode(0)
	if err != nil {
		return domain.ChallengeDescriptor{}, err
	}
	hash, err := cryptox.HashOneTimeCode(code)
	if err != nil {
		return domain.ChallengeDescriptor{}, err
	}

	expiresAt := time.Now().UTC().Add(OTPCodeTTL)
	if err := p.codes.Create(ctx, domain.OTPCode{
		ID:        idx.New().String(),
		UserID:    sub.UserID,
		Channel:   domain.FactorWhatsApp,
		CodeHash:  hash,
		ExpiresAt: expiresAt,
	}); err != nil {
		return domain.ChallengeDescriptor{}, err
	}

	if err := p.sender.SendCode(ctx, sub.State.WhatsAppMSISDN, code); err != nil {
		return domain.ChallengeDescriptor{}, err
	}

	return domain.ChallengeDescriptor{Channel: domain.FactorWhatsApp, ExpiresAt: &expiresAt}, nil
}

func (p *whatsappProvider) Verify(ctx context.Context, sub Subject, resp Response) (domain.VerifyOutcome, error) {
	if p.sender == nil {
		return domain.Invalid("channel_unavailable"), nil
	}
	return verifyDeliveredCode(ctx, p.codes, sub.UserID, domain.FactorWhatsApp, resp.Code)
}
