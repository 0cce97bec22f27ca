// store/store.go

// Package store is the durable home of certificate material. It owns the
// on-disk layout and all reads and writes of store entries; everything else
// treats its contents as opaque Material plus metadata.
//
// Layout, per domain set:
//
//	<root>/live/<primary>/fullchain.pem   leaf first, then intermediates
//	<root>/live/<primary>/privkey.pem     private key only
//	<root>/live/<primary>/cert.pem        leaf only
//	<root>/live/<primary>/chain.pem       intermediates only (may be absent)
//	<root>/live/<primary>/meta.json       entry metadata
//
// A legacy flat layout (fullchain.pem / privkey.pem directly under the
// root) is still recognized on read when the hierarchical entry is absent.
package store

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hearthd/certward/material"
)

// Well-known file names inside an entry directory.
const (
	FullChainFile = "fullchain.pem"
	PrivKeyFile   = "privkey.pem"
	CertFile      = "cert.pem"
	ChainFile     = "chain.pem"
	metaFile      = "meta.json"

	liveDirName = "live"
)

// ErrNotFound reports that a domain set has no store entry.
var ErrNotFound = errors.New("store: entry not found")

// Meta is the persisted metadata of a store entry.
type Meta struct {
	Source      material.Source `json:"source"`
	InstalledAt time.Time       `json:"installed_at"`
}

// Store is a filesystem-backed material store rooted at one directory.
type Store struct {
	root string
}

// New returns a Store rooted at dir. The directory is created lazily on the
// first write.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// EntryDir returns the hierarchical directory for a domain set.
func (s *Store) EntryDir(ds material.DomainSet) string {
	return filepath.Join(s.root, liveDirName, ds.Primary())
}

// Load reads the material and metadata for a domain set. When the
// hierarchical entry is absent it falls back to the legacy flat layout, for
// which metadata is synthesized (source unknown to be resolved by
// validation, installed-at from the certificate file's mtime).
func (s *Store) Load(ds material.DomainSet) (material.Material, Meta, error) {
	if err := safeEntryName(ds.Primary()); err != nil {
		return material.Material{}, Meta{}, err
	}
	dir := s.EntryDir(ds)
	m, err := readMaterial(dir)
	if err == nil {
		meta, metaErr := s.readMeta(dir)
		if metaErr != nil {
			// Entry predates metadata or the file was lost; treat as ACME
			// so validation alone decides what happens next.
			meta = Meta{Source: material.SourceACME}
		}
		return m, meta, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return material.Material{}, Meta{}, fmt.Errorf("store: read entry for %s: %w", ds.Primary(), err)
	}

	// Legacy flat layout.
	m, legacyErr := readMaterial(s.root)
	if legacyErr == nil {
		meta := Meta{Source: material.SourceACME}
		if fi, statErr := os.Stat(filepath.Join(s.root, FullChainFile)); statErr == nil {
			meta.InstalledAt = fi.ModTime()
		}
		return m, meta, nil
	}
	if errors.Is(legacyErr, os.ErrNotExist) {
		return material.Material{}, Meta{}, fmt.Errorf("%w: %s", ErrNotFound, ds.Primary())
	}
	return material.Material{}, Meta{}, fmt.Errorf("store: read legacy entry for %s: %w", ds.Primary(), legacyErr)
}

// Save persists new material for a domain set, superseding any previous
// entry. Each file is written to a temporary path and renamed into place,
// so an interrupted run never leaves a mixed pair behind: the key goes
// first, the full chain last, and readers pair fullchain.pem with whatever
// privkey.pem is current only after validation anyway.
func (s *Store) Save(ds material.DomainSet, m material.Material, src material.Source, now time.Time) error {
	if len(m.FullChain) == 0 || len(m.PrivateKey) == 0 {
		return errors.New("store: refusing to save incomplete material")
	}
	if err := safeEntryName(ds.Primary()); err != nil {
		return err
	}

	dir := s.EntryDir(ds)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: create entry dir: %w", err)
	}

	leaf, chain := splitChain(m.FullChain)
	if m.Chain != nil {
		chain = m.Chain
	}

	if err := writeFileAtomic(filepath.Join(dir, PrivKeyFile), m.PrivateKey, 0o600); err != nil {
		return fmt.Errorf("store: write private key: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, CertFile), leaf, 0o644); err != nil {
		return fmt.Errorf("store: write leaf certificate: %w", err)
	}
	if len(chain) > 0 {
		if err := writeFileAtomic(filepath.Join(dir, ChainFile), chain, 0o644); err != nil {
			return fmt.Errorf("store: write chain: %w", err)
		}
	} else {
		// A renewed entry may go from chained to chainless (self-signed
		// fallback); a stale chain file must not outlive the material.
		if err := os.Remove(filepath.Join(dir, ChainFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("store: remove stale chain: %w", err)
		}
	}
	if err := writeFileAtomic(filepath.Join(dir, FullChainFile), m.FullChain, 0o644); err != nil {
		return fmt.Errorf("store: write full chain: %w", err)
	}

	meta := Meta{Source: src, InstalledAt: now}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, metaFile), data, 0o600); err != nil {
		return fmt.Errorf("store: write metadata: %w", err)
	}

	return nil
}

// Exists reports whether a domain set has any entry, hierarchical or legacy.
func (s *Store) Exists(ds material.DomainSet) bool {
	if _, err := os.Stat(filepath.Join(s.EntryDir(ds), FullChainFile)); err == nil {
		return true
	}
	_, err := os.Stat(filepath.Join(s.root, FullChainFile))
	return err == nil
}

// AccountDir returns the directory holding ACME account state. Kept inside
// the store so one backup covers everything the manager owns.
func (s *Store) AccountDir() string {
	return filepath.Join(s.root, "accounts")
}

func (s *Store) readMeta(dir string) (Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("store: decode metadata: %w", err)
	}
	return meta, nil
}

// readMaterial loads fullchain + key (+ optional chain) from one directory.
// Missing fullchain or key surfaces as os.ErrNotExist.
func readMaterial(dir string) (material.Material, error) {
	fullChain, err := os.ReadFile(filepath.Join(dir, FullChainFile))
	if err != nil {
		return material.Material{}, err
	}
	key, err := os.ReadFile(filepath.Join(dir, PrivKeyFile))
	if err != nil {
		return material.Material{}, err
	}
	m := material.Material{FullChain: fullChain, PrivateKey: key}
	if chain, err := os.ReadFile(filepath.Join(dir, ChainFile)); err == nil {
		m.Chain = chain
	}
	return m, nil
}

// splitChain separates a leaf-first PEM bundle into the leaf block and the
// remaining intermediates. Undecodable input comes back unchanged as the
// leaf; validation rejects it downstream.
func splitChain(fullChain []byte) (leaf, chain []byte) {
	block, rest := pem.Decode(fullChain)
	if block == nil {
		return fullChain, nil
	}
	leaf = pem.EncodeToMemory(block)
	if len(bytes.TrimSpace(rest)) > 0 {
		chain = append([]byte(nil), rest...)
		chain = bytes.TrimLeft(chain, "\n")
	}
	return leaf, chain
}

// writeFileAtomic writes to a temporary file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// safeEntryName guards against a configured domain escaping the store root.
// Domains are validated upstream; this is the last line.
func safeEntryName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("store: unsafe entry name %q", name)
	}
	return nil
}
