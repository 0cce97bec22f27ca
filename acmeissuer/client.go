// acmeissuer/client.go

package acmeissuer

import (
	"context"

	"golang.org/x/crypto/acme"
)

// acmeAPI is the slice of the ACME client the issuer uses. Tests substitute
// a fake; production wraps *acme.Client through clientAdapter.
type acmeAPI interface {
	Register(ctx context.Context, acct *acme.Account, prompt func(tosURL string) bool) (*acme.Account, error)
	GetReg(ctx context.Context, url string) (*acme.Account, error)
	AuthorizeOrder(ctx context.Context, ids []acme.AuthzID) (*acme.Order, error)
	GetAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
	DNS01ChallengeRecord(token string) (string, error)
	Accept(ctx context.Context, chal *acme.Challenge) (*acme.Challenge, error)
	WaitAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
	CreateOrderCert(ctx context.Context, finalizeURL string, csr []byte, bundle bool) ([][]byte, string, error)
}

type clientAdapter struct {
	client *acme.Client
}

func (a *clientAdapter) Register(ctx context.Context, acct *acme.Account, prompt func(string) bool) (*acme.Account, error) {
	return a.client.Register(ctx, acct, prompt)
}

func (a *clientAdapter) GetReg(ctx context.Context, url string) (*acme.Account, error) {
	return a.client.GetReg(ctx, url)
}

func (a *clientAdapter) AuthorizeOrder(ctx context.Context, ids []acme.AuthzID) (*acme.Order, error) {
	return a.client.AuthorizeOrder(ctx, ids)
}

func (a *clientAdapter) GetAuthorization(ctx context.Context, url string) (*acme.Authorization, error) {
	return a.client.GetAuthorization(ctx, url)
}

func (a *clientAdapter) DNS01ChallengeRecord(token string) (string, error) {
	return a.client.DNS01ChallengeRecord(token)
}

func (a *clientAdapter) Accept(ctx context.Context, chal *acme.Challenge) (*acme.Challenge, error) {
	return a.client.Accept(ctx, chal)
}

func (a *clientAdapter) WaitAuthorization(ctx context.Context, url string) (*acme.Authorization, error) {
	return a.client.WaitAuthorization(ctx, url)
}

func (a *clientAdapter) CreateOrderCert(ctx context.Context, finalizeURL string, csr []byte, bundle bool) ([][]byte, string, error) {
	return a.client.CreateOrderCert(ctx, finalizeURL, csr, bundle)
}
