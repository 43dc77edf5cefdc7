// ABOUTME: Passkey ceremony orchestration: begin/complete for both flows
// ABOUTME: Glues challenges, credentials, assertion verification, and tokens

package authn

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/passkey-auth/internal/challenge"
	"github.com/2389/passkey-auth/internal/credential"
	"github.com/2389/passkey-auth/internal/fido"
	"github.com/2389/passkey-auth/internal/monitor"
	"github.com/2389/passkey-auth/internal/store"
)

var (
	// ErrValidation is returned when a required field is empty.
	ErrValidation = errors.New("missing required field")

	// ErrNotFound covers both an unknown username and a known user with no
	// usable credentials, so responses don't reveal which accounts exist.
	ErrNotFound = errors.New("no usable credentials")

	// ErrForbidden is returned for suspended accounts.
	ErrForbidden = errors.New("account suspended")

	// ErrVerificationFailed covers every assertion-stage failure: unknown
	// credential, bad challenge, malformed response, bad signature, or a
	// sign-count regression. Deliberately uniform.
	ErrVerificationFailed = errors.New("verification failed")
)

// UserDirectory is the account lookup surface the orchestrator needs.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
}

// TokenIssuer mints the session token handed out after a successful
// ceremony.
type TokenIssuer interface {
	Issue(userID string) (token string, expiresAt time.Time, err error)
}

// Observer receives the outcome of every completed authentication attempt.
type Observer interface {
	RecordAttempt(ctx context.Context, a monitor.Attempt)
}

// Config carries the relying-party identity and policy switches.
type Config struct {
	// RPID is the relying-party identifier; when set, assertion responses
	// must carry its SHA-256 hash.
	RPID string
	// Origin, when set, must match the clientDataJSON origin exactly.
	Origin string
	// AllowSignCountRegression downgrades the clone-detection rejection to
	// accept-and-log. Off by default.
	AllowSignCountRegression bool
}

// Service orchestrates the two WebAuthn ceremonies. Begin* issues a
// challenge and the client-side options; Complete* consumes the challenge,
// verifies the authenticator response, and commits the result.
type Service struct {
	users       UserDirectory
	credentials *credential.Service
	challenges  *challenge.Manager
	tokens      TokenIssuer
	observer    Observer
	cfg         Config
	logger      *slog.Logger
}

// NewService creates the orchestrator. observer may be nil.
func NewService(users UserDirectory, credentials *credential.Service, challenges *challenge.Manager, tokens TokenIssuer, observer Observer, cfg Config) *Service {
	return &Service{
		users:       users,
		credentials: credentials,
		challenges:  challenges,
		tokens:      tokens,
		observer:    observer,
		cfg:         cfg,
		logger:      slog.Default().With("component", "authn"),
	}
}

// CredentialDescriptor names one credential the client may use, with
// transport hints for the browser's picker.
type CredentialDescriptor struct {
	Type       string   `json:"type"`
	ID         string   `json:"id"`
	Transports []string `json:"transports,omitempty"`
}

// AssertionOptions is the begin_authentication response.
type AssertionOptions struct {
	Challenge        string                 `json:"challenge"`
	RPID             string                 `json:"rpId,omitempty"`
	Timeout          int64                  `json:"timeout"`
	AllowCredentials []CredentialDescriptor `json:"allowCredentials"`
	UserVerification string                 `json:"userVerification"`
}

// BeginAuthentication issues an authentication challenge for a username.
// Unknown users and users with zero active credentials fail identically.
// The challenge is stored unbound so an observed credential ID can't be
// correlated back to an account via the challenge record.
func (s *Service) BeginAuthentication(ctx context.Context, username string) (*AssertionOptions, error) {
	if username == "" {
		return nil, ErrValidation
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user.Suspended {
		return nil, ErrForbidden
	}

	creds, err := s.credentials.ListForUser(ctx, user.ID, true)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, ErrNotFound
	}

	value, err := s.challenges.Generate()
	if err != nil {
		return nil, err
	}
	if err := s.challenges.Store(ctx, value, "", challenge.TypeAuthentication); err != nil {
		return nil, err
	}

	allowed := make([]CredentialDescriptor, 0, len(creds))
	for _, c := range creds {
		allowed = append(allowed, CredentialDescriptor{
			Type:       "public-key",
			ID:         c.CredentialID,
			Transports: credential.Project(c).Transports,
		})
	}

	return &AssertionOptions{
		Challenge:        value,
		RPID:             s.cfg.RPID,
		Timeout:          challenge.DefaultTTL.Milliseconds(),
		AllowCredentials: allowed,
		UserVerification: "preferred",
	}, nil
}

// AssertionParams is the complete_authentication request: the raw fields of
// the authenticator's assertion response.
type AssertionParams struct {
	CredentialID      string
	AuthenticatorData []byte
	ClientDataJSON    []byte
	Signature         []byte
	RemoteAddr        string
}

// Result is a minted session.
type Result struct {
	UserID    string
	Username  string
	Token     string
	ExpiresAt time.Time
}

// CompleteAuthentication verifies an assertion end to end: credential
// lookup, client-data checks, one-time challenge consumption, signature
// verification, sign-count policy, usage update, and token mint.
func (s *Service) CompleteAuthentication(ctx context.Context, p AssertionParams) (*Result, error) {
	start := time.Now()
	res, err := s.completeAuthentication(ctx, p)
	if s.observer != nil {
		a := monitor.Attempt{
			CredentialID: p.CredentialID,
			RemoteAddr:   p.RemoteAddr,
			Success:      err == nil,
			Duration:     time.Since(start),
			Err:          err,
		}
		if res != nil {
			a.UserID = res.UserID
		}
		s.observer.RecordAttempt(ctx, a)
	}
	return res, err
}

func (s *Service) completeAuthentication(ctx context.Context, p AssertionParams) (*Result, error) {
	if p.CredentialID == "" || len(p.AuthenticatorData) == 0 || len(p.ClientDataJSON) == 0 || len(p.Signature) == 0 {
		return nil, ErrValidation
	}

	cred, err := s.credentials.GetByID(ctx, p.CredentialID)
	if errors.Is(err, credential.ErrNotFound) {
		return nil, ErrVerificationFailed
	}
	if err != nil {
		return nil, fmt.Errorf("looking up credential: %w", err)
	}

	user, err := s.users.GetUser(ctx, cred.UserID)
	if err != nil {
		return nil, fmt.Errorf("looking up credential owner: %w", err)
	}
	if user.Suspended {
		return nil, ErrForbidden
	}

	cd, err := fido.ParseClientData(p.ClientDataJSON)
	if err != nil || cd.Type != fido.CeremonyGet {
		return nil, ErrVerificationFailed
	}
	if s.cfg.Origin != "" && cd.Origin != s.cfg.Origin {
		return nil, ErrVerificationFailed
	}

	// Consuming the challenge before the signature check keeps even a
	// failed assertion from being retried with the same challenge.
	if _, err := s.challenges.Validate(ctx, cd.Challenge, user.ID, challenge.TypeAuthentication); err != nil {
		return nil, ErrVerificationFailed
	}

	ad, err := fido.ParseAuthenticatorData(p.AuthenticatorData)
	if err != nil || !ad.UserPresent() {
		return nil, ErrVerificationFailed
	}
	if s.cfg.RPID != "" {
		want := sha256.Sum256([]byte(s.cfg.RPID))
		if ad.RPIDHash != want {
			return nil, ErrVerificationFailed
		}
	}

	if !fido.VerifyAssertion(p.AuthenticatorData, p.ClientDataJSON, p.Signature, cred.PublicKey) {
		return nil, ErrVerificationFailed
	}

	if err := s.checkSignCount(cred, ad.SignCount); err != nil {
		return nil, err
	}

	if err := s.credentials.UpdateUsage(ctx, cred.CredentialID, ad.SignCount); err != nil {
		return nil, fmt.Errorf("recording credential usage: %w", err)
	}

	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing session token: %w", err)
	}

	s.logger.Info("authentication completed", "user_id", user.ID, "credential_id", cred.CredentialID)
	return &Result{
		UserID:    user.ID,
		Username:  user.Username,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// checkSignCount applies clone detection. A counter that fails to advance
// past a nonzero stored value means a second authenticator holds the same
// key; authenticators that never implement a counter report zero on both
// sides and pass.
func (s *Service) checkSignCount(cred *store.CredentialRecord, reported uint32) error {
	if cred.SignCount == 0 && reported == 0 {
		return nil
	}
	if reported > cred.SignCount {
		return nil
	}
	if s.cfg.AllowSignCountRegression {
		s.logger.Warn("sign count regression accepted by policy",
			"credential_id", cred.CredentialID,
			"stored", cred.SignCount,
			"reported", reported,
		)
		return nil
	}
	s.logger.Warn("sign count regression rejected, possible cloned authenticator",
		"credential_id", cred.CredentialID,
		"stored", cred.SignCount,
		"reported", reported,
	)
	return ErrVerificationFailed
}

// CreationOptions is the begin_registration response.
type CreationOptions struct {
	Challenge          string                 `json:"challenge"`
	RPID               string                 `json:"rpId,omitempty"`
	Timeout            int64                  `json:"timeout"`
	UserID             string                 `json:"userId"`
	Username           string                 `json:"username"`
	DisplayName        string                 `json:"displayName"`
	PubKeyCredParams   []int64                `json:"pubKeyCredParams"`
	ExcludeCredentials []CredentialDescriptor `json:"excludeCredentials,omitempty"`
}

// BeginRegistration issues a registration challenge bound to an existing
// user. Already-registered credential IDs are returned for exclusion so the
// browser won't re-enroll the same authenticator.
func (s *Service) BeginRegistration(ctx context.Context, userID string) (*CreationOptions, error) {
	if userID == "" {
		return nil, ErrValidation
	}

	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user.Suspended {
		return nil, ErrForbidden
	}

	value, err := s.challenges.Generate()
	if err != nil {
		return nil, err
	}
	if err := s.challenges.Store(ctx, value, user.ID, challenge.TypeRegistration); err != nil {
		return nil, err
	}

	existing, err := s.credentials.ListForUser(ctx, user.ID, true)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	exclude := make([]CredentialDescriptor, 0, len(existing))
	for _, c := range existing {
		exclude = append(exclude, CredentialDescriptor{Type: "public-key", ID: c.CredentialID})
	}

	return &CreationOptions{
		Challenge:          value,
		RPID:               s.cfg.RPID,
		Timeout:            challenge.DefaultTTL.Milliseconds(),
		UserID:             user.ID,
		Username:           user.Username,
		DisplayName:        user.DisplayName,
		PubKeyCredParams:   []int64{int64(fido.AlgES256), int64(fido.AlgRS256)},
		ExcludeCredentials: exclude,
	}, nil
}

// RegistrationParams is the complete_registration request.
type RegistrationParams struct {
	UserID            string
	AttestationObject []byte
	ClientDataJSON    []byte
	DeviceName        string
	AuthenticatorType string
	Transports        []string
}

// CompleteRegistration validates the bound challenge, extracts the new
// credential from the attestation object, and stores it.
func (s *Service) CompleteRegistration(ctx context.Context, p RegistrationParams) (*credential.Projection, error) {
	if p.UserID == "" || len(p.AttestationObject) == 0 || len(p.ClientDataJSON) == 0 {
		return nil, ErrValidation
	}

	user, err := s.users.GetUser(ctx, p.UserID)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if user.Suspended {
		return nil, ErrForbidden
	}

	cd, err := fido.ParseClientData(p.ClientDataJSON)
	if err != nil || cd.Type != fido.CeremonyCreate {
		return nil, ErrVerificationFailed
	}
	if s.cfg.Origin != "" && cd.Origin != s.cfg.Origin {
		return nil, ErrVerificationFailed
	}

	if _, err := s.challenges.Validate(ctx, cd.Challenge, user.ID, challenge.TypeRegistration); err != nil {
		return nil, ErrVerificationFailed
	}

	ad, err := fido.ParseAttestation(p.AttestationObject)
	if err != nil || !ad.UserPresent() {
		return nil, ErrVerificationFailed
	}
	if s.cfg.RPID != "" {
		want := sha256.Sum256([]byte(s.cfg.RPID))
		if ad.RPIDHash != want {
			return nil, ErrVerificationFailed
		}
	}

	// Reject unsupported algorithms now rather than at first login.
	if _, err := fido.ParsePublicKey(ad.PublicKey); err != nil {
		return nil, ErrVerificationFailed
	}

	rec, err := s.credentials.Store(ctx, credential.Params{
		UserID:            user.ID,
		CredentialID:      fido.Base64URLEncode(ad.CredentialID),
		PublicKey:         ad.PublicKey,
		DeviceName:        p.DeviceName,
		AuthenticatorType: p.AuthenticatorType,
		Transports:        p.Transports,
		AAGUID:            fido.FormatAAGUID(ad.AAGUID),
	})
	if err != nil {
		return nil, fmt.Errorf("storing credential: %w", err)
	}

	s.logger.Info("credential registered", "user_id", user.ID, "credential_id", rec.CredentialID)
	proj := credential.Project(rec)
	return &proj, nil
}
