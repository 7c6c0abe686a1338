// Package challenge publishes and serves HTTP-01 proof material: a webroot
// publisher that writes key authorizations where an existing webserver can
// serve them, a self-check verifier that fetches the proof the way the CA
// will, and a small standalone responder for hosts without a webserver.
package challenge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/blockadesystems/certforge/internal/acme"
)

// wellKnownPath is the URL prefix the CA fetches challenge responses from.
const wellKnownPath = "/.well-known/acme-challenge/"

// tokenDir maps a webroot onto the on-disk challenge directory.
func tokenDir(webroot string) string {
	return filepath.Join(webroot, ".well-known", "acme-challenge")
}

// WebrootPublisher writes key authorizations under a webroot that is
// served over plain HTTP for the domains being validated.
type WebrootPublisher struct {
	webroot string
	log     *zap.Logger
}

// Ensure WebrootPublisher implements acme.Publisher (compile-time check).
var _ acme.Publisher = (*WebrootPublisher)(nil)

// NewWebrootPublisher builds a publisher rooted at webroot. A nil logger
// is replaced with a no-op logger.
func NewWebrootPublisher(webroot string, log *zap.Logger) *WebrootPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebrootPublisher{webroot: webroot, log: log}
}

// Publish writes the key authorization world-readable under the webroot
// and returns a release function that removes the token file again.
// Removal failures are logged, not surfaced.
func (p *WebrootPublisher) Publish(ctx context.Context, token, keyAuthorization string) (func(), error) {
	if token == "" || token != filepath.Base(token) {
		return nil, fmt.Errorf("%w: unusable challenge token %q", acme.ErrProtocol, token)
	}

	dir := tokenDir(p.webroot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating challenge directory %s: %w", acme.ErrConfiguration, dir, err)
	}

	path := filepath.Join(dir, token)
	if err := os.WriteFile(path, []byte(keyAuthorization), 0644); err != nil {
		return nil, fmt.Errorf("%w: writing challenge token %s: %w", acme.ErrConfiguration, path, err)
	}
	p.log.Debug("challenge token published", zap.String("path", path))

	release := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.log.Warn("could not remove challenge token",
				zap.String("path", path), zap.Error(err))
			return
		}
		p.log.Debug("challenge token removed", zap.String("path", path))
	}
	return release, nil
}
