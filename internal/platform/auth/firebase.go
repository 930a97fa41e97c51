package auth

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/sqaleshop/api/internal/platform/config"
)

// ErrTokenRevoked signals a token issued before the staff member's sessions were revoked.
var ErrTokenRevoked = errors.New("auth: firebase id token revoked")

// idTokenClient is the subset of *firebaseauth.Client the staff verifier calls.
type idTokenClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// StaffVerifier checks staff ID tokens against the Firebase project that owns the
// dashboard accounts and folds SDK errors into this package's sentinels.
type StaffVerifier struct {
	client       idTokenClient
	checkRevoked bool
}

// NewFirebaseVerifier builds a StaffVerifier from the Admin SDK.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*StaffVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}
	return newStaffVerifier(client, cfg.CheckRevoked), nil
}

func newStaffVerifier(client idTokenClient, checkRevoked bool) *StaffVerifier {
	return &StaffVerifier{client: client, checkRevoked: checkRevoked}
}

// VerifyIDToken validates idToken. The caller bounds ctx; see WithVerificationTimeout.
func (v *StaffVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, ErrTokenInvalid
	}
	var (
		token *firebaseauth.Token
		err   error
	)
	if v.checkRevoked {
		token, err = v.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	} else {
		token, err = v.client.VerifyIDToken(ctx, idToken)
	}
	if err != nil {
		return nil, classifyFirebaseError(err)
	}
	return token, nil
}

func classifyFirebaseError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case firebaseauth.IsIDTokenExpired(err):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case firebaseauth.IsIDTokenRevoked(err), firebaseauth.IsUserDisabled(err):
		return fmt.Errorf("%w: %v", ErrTokenRevoked, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}
