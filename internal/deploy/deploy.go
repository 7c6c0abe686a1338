// Package deploy pushes issued certificate material to a remote host over
// SFTP once a run completes, so web servers that terminate TLS elsewhere
// pick up the new files without a manual copy step.
package deploy

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Config describes one deployment target.
type Config struct {
	Host      string
	Port      int
	User      string
	Password  string // password auth when set
	KeyFile   string // private key auth when set, takes precedence
	RemoteDir string
}

// Deployer uploads artifact files to the configured target.
type Deployer struct {
	cfg Config
	log *zap.Logger

	// connect is swapped out in tests.
	connect func() (sftpSession, error)
}

// New validates the target description and returns a Deployer.
func New(cfg Config, log *zap.Logger) (*Deployer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Host == "" || cfg.User == "" {
		return nil, fmt.Errorf("deploy: host and user are required")
	}
	if cfg.Password == "" && cfg.KeyFile == "" {
		return nil, fmt.Errorf("deploy: password or key file is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "."
	}

	d := &Deployer{cfg: cfg, log: log}
	d.connect = d.dial
	return d, nil
}

// Deploy uploads the given files (name to content) into the remote
// directory. Private keys land with mode 0600, everything else 0644.
func (d *Deployer) Deploy(files map[string][]byte) error {
	session, err := d.connect()
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.MkdirAll(d.cfg.RemoteDir); err != nil {
		return fmt.Errorf("deploy: failed to create remote directory %s: %w", d.cfg.RemoteDir, err)
	}

	// Stable upload order keeps logs and failures reproducible.
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		remotePath := path.Join(d.cfg.RemoteDir, name)
		if err := upload(session, remotePath, files[name], fileMode(name)); err != nil {
			return err
		}
		d.log.Debug("uploaded file", zap.String("path", remotePath))
	}

	d.log.Info("artifacts deployed",
		zap.String("host", d.cfg.Host),
		zap.String("remote_dir", d.cfg.RemoteDir),
		zap.Int("files", len(files)))
	return nil
}

func upload(session sftpSession, remotePath string, data []byte, mode os.FileMode) error {
	f, err := session.Create(remotePath)
	if err != nil {
		return fmt.Errorf("deploy: failed to create remote file %s: %w", remotePath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("deploy: failed to write remote file %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("deploy: failed to close remote file %s: %w", remotePath, err)
	}
	if err := session.Chmod(remotePath, mode); err != nil {
		return fmt.Errorf("deploy: failed to chmod remote file %s: %w", remotePath, err)
	}
	return nil
}

// fileMode keeps private keys owner-readable only.
func fileMode(name string) os.FileMode {
	if name == "private.pem" {
		return 0600
	}
	return 0644
}

func (d *Deployer) dial() (sftpSession, error) {
	auth, err := d.authMethods()
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            d.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	addr := fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)
	conn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("deploy: failed to dial %s: %w", addr, err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("deploy: failed to open sftp session: %w", err)
	}

	return &realSession{client: client, conn: conn}, nil
}

func (d *Deployer) authMethods() ([]ssh.AuthMethod, error) {
	if d.cfg.KeyFile != "" {
		keyBytes, err := os.ReadFile(d.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("deploy: failed to read key file %s: %w", d.cfg.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("deploy: failed to parse key file %s: %w", d.cfg.KeyFile, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(d.cfg.Password)}, nil
}

type sftpSession interface {
	Create(path string) (sftpFile, error)
	MkdirAll(path string) error
	Chmod(path string, mode os.FileMode) error
	Close() error
}

type sftpFile interface {
	io.Writer
	io.Closer
}

type realSession struct {
	client *sftp.Client
	conn   *ssh.Client
}

func (s *realSession) Create(path string) (sftpFile, error) {
	return s.client.Create(path)
}

func (s *realSession) MkdirAll(path string) error {
	return s.client.MkdirAll(path)
}

func (s *realSession) Chmod(path string, mode os.FileMode) error {
	return s.client.Chmod(path, mode)
}

func (s *realSession) Close() error {
	err := s.client.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
