// install/install.go

// Package install places freshly issued material into the store and the
// proxy's runtime location, and proves that the installed copies are what
// was intended. Existing material is replaced only after the candidate
// validates, and installed files are read back and validated again before
// the installation counts as done.
package install

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hearthd/certward/material"
	"github.com/hearthd/certward/store"
)

// ErrInstall reports that material could not be written to, or verified
// at, its destination. When returned from the pre-write validation the
// previous material is still in place; partial writes surface through the
// read-back check.
var ErrInstall = errors.New("install: installation failed")

// Target is the runtime location the proxy reads its material from. The
// zero value means no runtime copy is made and the store alone is updated.
type Target struct {
	// CertPath receives the full chain PEM, world readable.
	CertPath string

	// KeyPath receives the private key PEM, owner readable only.
	KeyPath string
}

func (t Target) configured() bool { return t.CertPath != "" || t.KeyPath != "" }

func (t Target) validate() error {
	if t.CertPath == "" || t.KeyPath == "" {
		return fmt.Errorf("%w: runtime target needs both certificate and key paths", ErrInstall)
	}
	return nil
}

// Installer writes validated material into a store and a runtime target.
type Installer struct {
	store     *store.Store
	target    Target
	validator *material.Validator
	logger    *zap.Logger
	now       func() time.Time
}

// New builds an Installer. A nil validator gets the default public CA set.
func New(st *store.Store, target Target, validator *material.Validator, logger *zap.Logger) *Installer {
	if validator == nil {
		validator = material.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Installer{store: st, target: target, validator: validator, logger: logger, now: time.Now}
}

// Install validates the candidate material, writes it to the store entry
// for the domain set and to the runtime target, then re-validates the
// copies read back from disk. Material that fails pre-write validation
// never touches either destination.
func (i *Installer) Install(ds material.DomainSet, m material.Material, src material.Source) error {
	res, err := i.validator.Validate(m)
	if err != nil {
		return fmt.Errorf("%w: candidate material rejected: %v", ErrInstall, err)
	}
	if err := i.validator.CheckExpiry(res); err != nil {
		return fmt.Errorf("%w: candidate material rejected: %v", ErrInstall, err)
	}
	if !ds.CoveredByNames(res.DNSNames) {
		return fmt.Errorf("%w: candidate certificate does not cover %s", ErrInstall, ds)
	}

	if err := i.store.Save(ds, m, src, i.now()); err != nil {
		return fmt.Errorf("%w: write to store: %v", ErrInstall, err)
	}

	installed, meta, err := i.store.Load(ds)
	if err != nil {
		return fmt.Errorf("%w: read back installed material: %v", ErrInstall, err)
	}
	if meta.Source != src {
		return fmt.Errorf("%w: installed metadata records source %q, expected %q", ErrInstall, meta.Source, src)
	}
	verified, err := i.validator.Validate(installed)
	if err != nil {
		return fmt.Errorf("%w: installed material failed verification: %v", ErrInstall, err)
	}
	if !ds.CoveredByNames(verified.DNSNames) {
		return fmt.Errorf("%w: installed certificate does not cover %s", ErrInstall, ds)
	}

	if i.target.configured() {
		if err := i.installRuntime(ds, m); err != nil {
			return err
		}
	}

	i.logger.Info("material installed",
		zap.String("entry", ds.Primary()),
		zap.String("source", string(src)),
		zap.Time("not_after", verified.NotAfter))
	return nil
}

// installRuntime mirrors the material to the proxy's runtime paths. The key
// is written first so the certificate never points at a stale key, each
// file atomically via temp file and rename. The cert and key replace as a
// unit: any failure after the first rename rolls the pair back, so a
// failed install never leaves the old certificate next to the new key.
func (i *Installer) installRuntime(ds material.DomainSet, m material.Material) error {
	if err := i.target.validate(); err != nil {
		return err
	}

	prevKey := snapshotFile(i.target.KeyPath)
	prevCert := snapshotFile(i.target.CertPath)
	rollback := func() {
		prevCert.restore(i.target.CertPath, 0o644, i.logger)
		prevKey.restore(i.target.KeyPath, 0o600, i.logger)
	}

	if err := writeFileAtomic(i.target.KeyPath, m.PrivateKey, 0o600); err != nil {
		return fmt.Errorf("%w: write runtime key: %v", ErrInstall, err)
	}
	if err := writeFileAtomic(i.target.CertPath, m.FullChain, 0o644); err != nil {
		rollback()
		return fmt.Errorf("%w: write runtime certificate: %v", ErrInstall, err)
	}

	cert, err := os.ReadFile(i.target.CertPath)
	if err != nil {
		rollback()
		return fmt.Errorf("%w: read back runtime certificate: %v", ErrInstall, err)
	}
	key, err := os.ReadFile(i.target.KeyPath)
	if err != nil {
		rollback()
		return fmt.Errorf("%w: read back runtime key: %v", ErrInstall, err)
	}
	verified, err := i.validator.Validate(material.Material{FullChain: cert, PrivateKey: key})
	if err != nil {
		rollback()
		return fmt.Errorf("%w: runtime copy failed verification: %v", ErrInstall, err)
	}
	if !ds.CoveredByNames(verified.DNSNames) {
		rollback()
		return fmt.Errorf("%w: runtime copy does not cover %s", ErrInstall, ds)
	}
	return nil
}

// prevFile is a snapshot of one runtime file taken before it is replaced.
type prevFile struct {
	data   []byte
	exists bool
}

func snapshotFile(path string) prevFile {
	data, err := os.ReadFile(path)
	return prevFile{data: data, exists: err == nil}
}

// restore puts the snapshot back. A path that did not exist before is
// removed again. Restore failures are logged, not returned: the install
// already failed and the caller's error carries the cause.
func (p prevFile) restore(path string, perm os.FileMode, logger *zap.Logger) {
	if p.exists {
		if err := writeFileAtomic(path, p.data, perm); err != nil {
			logger.Error("could not restore previous runtime file",
				zap.String("path", path), zap.Error(err))
		}
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Error("could not remove partially installed runtime file",
			zap.String("path", path), zap.Error(err))
	}
}

// RuntimeInSync reports whether the runtime copy matches the given
// material byte for byte. An unconfigured target always counts as in
// sync; unreadable runtime files count as out of sync.
func (i *Installer) RuntimeInSync(m material.Material) bool {
	if !i.target.configured() {
		return true
	}
	cert, err := os.ReadFile(i.target.CertPath)
	if err != nil {
		return false
	}
	key, err := os.ReadFile(i.target.KeyPath)
	if err != nil {
		return false
	}
	return bytes.Equal(cert, m.FullChain) && bytes.Equal(key, m.PrivateKey)
}

// SyncRuntime re-derives the runtime copy from the store entry when the
// two differ. The store is the source of truth; the runtime location is
// never read back into it. Reports whether anything was rewritten. An
// absent store entry or unconfigured target is a no-op.
func (i *Installer) SyncRuntime(ds material.DomainSet) (bool, error) {
	if !i.target.configured() {
		return false, nil
	}
	m, _, err := i.store.Load(ds)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: load store entry: %v", ErrInstall, err)
	}
	if i.RuntimeInSync(m) {
		return false, nil
	}

	i.logger.Warn("runtime material differs from store, rewriting from store",
		zap.String("entry", ds.Primary()))
	if err := i.installRuntime(ds, m); err != nil {
		return false, err
	}
	return true, nil
}

// writeFileAtomic writes via temp file and rename in the destination
// directory so readers never observe a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
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
