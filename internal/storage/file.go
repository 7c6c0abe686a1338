package storage

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/blockadesystems/certforge/internal/model"
)

// On-disk layout: one directory per domain under the certs root, plus a
// reserved one for the account keypair.
const (
	accountDirName = "_account"
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"
	csrFile        = "last.csr"
	certFile       = "cert.pem"
	chainFile      = "chain.pem"
	fullchainFile  = "fullchain.pem"
)

// FileStorage lays artifacts out on the local filesystem. Private keys are
// written 0600, everything else 0644, and every write goes through a file
// lock plus a temp-file-then-rename step so a crash cannot leave a partial
// artifact behind.
type FileStorage struct {
	dir string
	log *zap.Logger
}

// Ensure FileStorage implements Storage (compile-time check).
var _ Storage = (*FileStorage)(nil)

// NewFileStorage creates the certs root if needed and returns the store.
// A nil logger is replaced with a no-op logger.
func NewFileStorage(dir string, log *zap.Logger) (*FileStorage, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: creating certificate directory %s: %w", dir, err)
	}
	return &FileStorage{dir: dir, log: log}, nil
}

func (s *FileStorage) SaveAccountKey(ctx context.Context, key *rsa.PrivateKey) error {
	return s.saveKeyPair(filepath.Join(s.dir, accountDirName), key)
}

func (s *FileStorage) GetAccountKey(ctx context.Context) (*rsa.PrivateKey, error) {
	return s.loadKey(filepath.Join(s.dir, accountDirName, privateKeyFile))
}

func (s *FileStorage) SaveDomainKey(ctx context.Context, domain string, key *rsa.PrivateKey) error {
	dir, err := s.domainDir(domain)
	if err != nil {
		return err
	}
	return s.saveKeyPair(dir, key)
}

func (s *FileStorage) GetDomainKey(ctx context.Context, domain string) (*rsa.PrivateKey, error) {
	dir, err := s.domainDir(domain)
	if err != nil {
		return nil, err
	}
	return s.loadKey(filepath.Join(dir, privateKeyFile))
}

func (s *FileStorage) SaveCSR(ctx context.Context, domain string, der []byte) error {
	dir, err := s.domainDir(domain)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("storage: creating domain directory %s: %w", dir, err)
	}
	return atomicWrite(filepath.Join(dir, csrFile), EncodeCertificateRequest(der), 0644)
}

func (s *FileStorage) GetCSR(ctx context.Context, domain string) ([]byte, error) {
	dir, err := s.domainDir(domain)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, csrFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: reading certificate request for %s: %w", domain, err)
	}
	return ParseCertificateRequest(data)
}

func (s *FileStorage) SaveArtifacts(ctx context.Context, domain string, artifacts *model.Artifacts) error {
	dir, err := s.domainDir(domain)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("storage: creating domain directory %s: %w", dir, err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{certFile, artifacts.CertPEM},
		{chainFile, artifacts.ChainPEM},
		{fullchainFile, artifacts.FullchainPEM},
	}
	for _, f := range files {
		if err := atomicWrite(filepath.Join(dir, f.name), f.data, 0644); err != nil {
			return err
		}
	}

	s.log.Info("certificate artifacts written",
		zap.String("domain", domain), zap.String("dir", dir))
	return nil
}

func (s *FileStorage) GetCertificate(ctx context.Context, domain string) (*x509.Certificate, error) {
	dir, err := s.domainDir(domain)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, certFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: reading certificate for %s: %w", domain, err)
	}
	return ParseCertificate(data)
}

// saveKeyPair persists the private and public halves of a keypair under
// dir, the private key readable by the owner only.
func (s *FileStorage) saveKeyPair(dir string, key *rsa.PrivateKey) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("storage: creating key directory %s: %w", dir, err)
	}

	publicPEM, err := EncodePublicKey(&key.PublicKey)
	if err != nil {
		return err
	}
	if err := atomicWrite(filepath.Join(dir, privateKeyFile), EncodePrivateKey(key), 0600); err != nil {
		return err
	}
	if err := atomicWrite(filepath.Join(dir, publicKeyFile), publicPEM, 0644); err != nil {
		return err
	}

	s.log.Debug("keypair written", zap.String("dir", dir))
	return nil
}

// loadKey reads a private key file, returning nil when it does not exist.
func (s *FileStorage) loadKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: reading key %s: %w", path, err)
	}
	return ParsePrivateKey(data)
}

// domainDir maps a domain onto its artifact directory. The domain must be
// a plain name, not a path.
func (s *FileStorage) domainDir(domain string) (string, error) {
	if domain == "" || domain == "." || domain == ".." || domain != filepath.Base(domain) {
		return "", fmt.Errorf("storage: invalid domain name %q", domain)
	}
	return filepath.Join(s.dir, domain), nil
}

// atomicWrite takes a file lock, writes to a temporary sibling, and renames
// it over the target.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("storage: acquiring lock for %s: %w", path, err)
	}
	defer lock.Unlock()

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("storage: writing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storage: replacing %s: %w", path, err)
	}
	return nil
}
