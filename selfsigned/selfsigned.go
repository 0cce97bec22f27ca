// selfsigned/selfsigned.go

// Package selfsigned generates fallback certificate material: a locally
// signed pair that keeps a TLS endpoint functional when public issuance is
// unavailable. The lifecycle manager always classifies its output as
// self-signed and keeps trying to upgrade it to a public certificate.
package selfsigned

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/hearthd/certward/material"
)

// DefaultValidity keeps the fallback pair from re-triggering generation on
// every run while never being mistaken for publicly trusted material.
const DefaultValidity = 365 * 24 * time.Hour

// Organization appears in the subject of generated certificates so they are
// recognizable in diagnostics.
const Organization = "certward fallback"

// Issuer generates self-signed pairs. The zero value uses DefaultValidity.
type Issuer struct {
	// Validity overrides the certificate lifetime when positive.
	Validity time.Duration

	// now is the clock, swappable in tests.
	now func() time.Time
}

// New returns an Issuer with the default validity window.
func New() *Issuer {
	return &Issuer{Validity: DefaultValidity, now: time.Now}
}

// Generate synthesizes a self-signed certificate and private key covering
// the set's primary domain and every SAN. The only failure modes are
// entropy or marshaling errors, which do not occur in practice.
func (i *Issuer) Generate(ds material.DomainSet) (material.Material, error) {
	validity := i.Validity
	if validity <= 0 {
		validity = DefaultValidity
	}
	now := time.Now
	if i.now != nil {
		now = i.now
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return material.Material{}, fmt.Errorf("selfsigned: generate key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return material.Material{}, fmt.Errorf("selfsigned: generate serial: %w", err)
	}

	notBefore := now().Add(-time.Hour)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{Organization},
			CommonName:   ds.Primary(),
		},
		DNSNames:              ds.Names(),
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return material.Material{}, fmt.Errorf("selfsigned: create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return material.Material{}, fmt.Errorf("selfsigned: marshal key: %w", err)
	}

	return material.Material{
		FullChain:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		PrivateKey: pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}, nil
}

// randomSerial draws a random 128-bit serial. X.509 serials must be unique
// positive integers per issuer; this much entropy needs no state.
func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}
