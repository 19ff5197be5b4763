package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// TokenSource yields a bearer token from the identity collaborator.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always returns the same token.
type StaticToken string

// Token returns the token, failing when it is empty.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("no token configured")
	}
	return string(s), nil
}

// Authorizer decorates an outgoing collaborator request. body is the exact
// payload that will be sent (nil for none).
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request, body []byte) error
}

// NoAuth leaves requests untouched.
type NoAuth struct{}

// Authorize does nothing.
func (NoAuth) Authorize(context.Context, *http.Request, []byte) error { return nil }

// BearerAuthorizer sets "Authorization: Bearer <token>".
type BearerAuthorizer struct {
	Source TokenSource
}

// Authorize fetches a token and attaches it.
func (b BearerAuthorizer) Authorize(ctx context.Context, req *http.Request, _ []byte) error {
	tok, err := b.Source.Token(ctx)
	if err != nil {
		return err
	}
	if tok == "" {
		return fmt.Errorf("empty token")
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

// SigV4Authorizer signs requests for an AWS API Gateway ("execute-api").
type SigV4Authorizer struct {
	Credentials aws.CredentialsProvider
	Region      string
	Service     string

	signer *v4.Signer
	now    func() time.Time
}

// NewSigV4Authorizer builds a signer over static credentials.
func NewSigV4Authorizer(accessKeyID, secretAccessKey, region, service string) *SigV4Authorizer {
	if service == "" {
		service = "execute-api"
	}
	return &SigV4Authorizer{
		Credentials: credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		Region:      region,
		Service:     service,
		signer:      v4.NewSigner(),
		now:         time.Now,
	}
}

// Authorize signs req in place.
func (s *SigV4Authorizer) Authorize(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := s.Credentials.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve credentials: %w", err)
	}
	sum := sha256.Sum256(body)
	return s.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), s.Service, s.Region, s.now())
}
