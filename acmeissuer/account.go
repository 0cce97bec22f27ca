// acmeissuer/account.go

package acmeissuer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
)

const (
	accountKeyFile  = "account.key"
	accountMetaFile = "account.json"
)

// accountMeta records the registration so reruns reuse the same account
// instead of registering again on every invocation.
type accountMeta struct {
	URI   string `json:"uri"`
	Email string `json:"email"`
}

// ensureClient lazily builds the ACME client and makes sure the account is
// registered with the CA, persisting key and registration URI under the
// account directory.
func (i *Issuer) ensureClient(ctx context.Context) (acmeAPI, error) {
	i.clientMu.Lock()
	defer i.clientMu.Unlock()

	if i.client != nil {
		return i.client, nil
	}

	key, err := i.loadOrCreateAccountKey()
	if err != nil {
		return nil, err
	}

	client := i.newClient(key, i.cfg.DirectoryURL)
	if err := i.ensureRegistration(ctx, client); err != nil {
		return nil, err
	}

	i.client = client
	return client, nil
}

func (i *Issuer) ensureRegistration(ctx context.Context, client acmeAPI) error {
	metaPath := filepath.Join(i.cfg.AccountDir, accountMetaFile)

	if data, err := os.ReadFile(metaPath); err == nil {
		var meta accountMeta
		if err := json.Unmarshal(data, &meta); err == nil && meta.URI != "" {
			if _, err := client.GetReg(ctx, meta.URI); err == nil {
				return nil
			}
			i.logger.Warn("stored ACME account no longer valid, re-registering",
				zap.String("uri", meta.URI))
		}
	}

	acct, err := client.Register(ctx, &acme.Account{Contact: []string{"mailto:" + i.cfg.Email}}, acme.AcceptTOS)
	if err != nil {
		if !errors.Is(err, acme.ErrAccountAlreadyExists) {
			return i.classify("register account", err)
		}
		acct, err = client.GetReg(ctx, "")
		if err != nil {
			return i.classify("fetch existing account", err)
		}
	}

	meta := accountMeta{URI: acct.URI, Email: i.cfg.Email}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("acmeissuer: marshal account metadata: %w", err)
	}
	if err := writeFileAtomic(metaPath, data, 0o600); err != nil {
		return fmt.Errorf("acmeissuer: persist account metadata: %w", err)
	}

	i.logger.Info("ACME account ready", zap.String("uri", acct.URI))
	return nil
}

// loadOrCreateAccountKey reads the persisted EC account key, generating and
// saving a fresh one on first use.
func (i *Issuer) loadOrCreateAccountKey() (*ecdsa.PrivateKey, error) {
	keyPath := filepath.Join(i.cfg.AccountDir, accountKeyFile)

	if data, err := os.ReadFile(keyPath); err == nil {
		block, _ := pem.Decode(data)
		if block == nil || block.Type != "EC PRIVATE KEY" {
			return nil, fmt.Errorf("acmeissuer: account key %s is not an EC private key", keyPath)
		}
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("acmeissuer: parse account key: %w", err)
		}
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("acmeissuer: read account key: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("acmeissuer: generate account key: %w", err)
	}

	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("acmeissuer: marshal account key: %w", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	if err := os.MkdirAll(i.cfg.AccountDir, 0o700); err != nil {
		return nil, fmt.Errorf("acmeissuer: create account directory: %w", err)
	}
	if err := writeFileAtomic(keyPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("acmeissuer: persist account key: %w", err)
	}

	i.logger.Info("generated new ACME account key", zap.String("path", keyPath))
	return key, nil
}

// writeFileAtomic writes via a temp file and rename so a crash never leaves
// a truncated account key or registration file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
