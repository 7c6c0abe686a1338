package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blockadesystems/certforge/internal/acme"
	"github.com/blockadesystems/certforge/internal/archive"
	"github.com/blockadesystems/certforge/internal/challenge"
	"github.com/blockadesystems/certforge/internal/config"
	"github.com/blockadesystems/certforge/internal/deploy"
	"github.com/blockadesystems/certforge/internal/model"
	"github.com/blockadesystems/certforge/internal/retry"
	"github.com/blockadesystems/certforge/internal/storage"
)

var logger *zap.Logger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	logger = l.With(zap.String("package", "main"))
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("certforge starting...",
		zap.String("ca_url", cfg.CAURL),
		zap.Strings("domains", cfg.Domains),
		zap.String("certs_dir", cfg.CertsDir))

	if len(cfg.Domains) == 0 {
		logger.Fatal("no domains configured, set CERTFORGE_DOMAINS")
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.NewStorage(cfg.StorageType, cfg.CertsDir, logger.With(zap.String("package", "storage")))
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err), zap.String("storage_type", cfg.StorageType))
		os.Exit(1)
	}
	logger.Info("storage initialized", zap.String("certs_dir", cfg.CertsDir))

	ctx := context.Background()

	// Renewal gate: skip the run while the current certificate is still
	// comfortably valid.
	if cfg.RenewWithinDays > 0 {
		cert, err := store.GetCertificate(ctx, cfg.Domains[0])
		if err != nil {
			logger.Warn("could not read existing certificate, issuing anyway", zap.Error(err))
		} else if cert != nil && !acme.NeedsRenewal(cert, time.Duration(cfg.RenewWithinDays)*24*time.Hour) {
			logger.Info("certificate still valid beyond the renewal window, nothing to do",
				zap.String("domain", cfg.Domains[0]),
				zap.Time("not_after", cert.NotAfter))
			return
		}
	}

	// Start the standalone challenge responder when configured. Webroot
	// setups where another server already fronts the domain don't need it.
	if cfg.ResponderAddr != "" {
		responder := challenge.NewResponder(cfg.ResponderAddr, cfg.Webroot, logger.With(zap.String("package", "challenge")))
		go func() {
			if err := responder.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("challenge responder stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := responder.Shutdown(shutdownCtx); err != nil {
				logger.Warn("failed to shut down challenge responder", zap.Error(err))
			}
		}()
	}

	// Initialize the ACME client
	transport, err := acme.NewHTTPTransport(cfg.CAURL, nil, logger.With(zap.String("package", "transport")))
	if err != nil {
		logger.Fatal("failed to initialize transport", zap.Error(err), zap.String("ca_url", cfg.CAURL))
		os.Exit(1)
	}

	challengeLog := logger.With(zap.String("package", "challenge"))
	client, err := acme.New(
		acme.Config{
			ChallengeType: cfg.ChallengeType,
			LicenseURL:    cfg.LicenseURL,
			CountryCode:   cfg.CountryCode,
			StateName:     cfg.StateName,
			Contacts:      cfg.Contacts,
			ReuseCSR:      cfg.ReuseCSR,
		},
		transport,
		store,
		challenge.NewWebrootPublisher(cfg.Webroot, challengeLog),
		challenge.NewHTTPVerifier(nil, challengeLog),
		acme.WithLogger(logger.With(zap.String("package", "acme"))),
		acme.WithRetryPolicy(retry.Policy{
			Interval:    time.Duration(cfg.PollIntervalSeconds) * time.Second,
			MaxAttempts: cfg.PollMaxAttempts,
			Multiplier:  1.0,
		}),
	)
	if err != nil {
		logger.Fatal("failed to initialize ACME client", zap.Error(err))
		os.Exit(1)
	}

	record, err := client.Obtain(ctx, cfg.Domains)
	if err != nil {
		logger.Fatal("issuance failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("issuance complete",
		zap.String("run_id", record.ID),
		zap.String("primary_domain", record.PrimaryDomain),
		zap.String("certificate_url", record.CertificateURL))

	// Record the run when an archive is configured. The certificate is
	// already on disk, so archive trouble doesn't fail the run.
	if cfg.ArchiveDSN != "" {
		arc, err := archive.NewArchive("postgres", cfg.ArchiveDSN, logger.With(zap.String("package", "archive")))
		if err != nil {
			logger.Error("failed to initialize issuance archive", zap.Error(err))
		} else {
			defer arc.Close()
			if err := arc.RecordIssuance(ctx, record); err != nil {
				logger.Error("failed to record issuance", zap.Error(err))
			}
		}
	}

	// Push the artifacts to the deployment target when configured. Same
	// policy as the archive: log and carry on.
	if cfg.DeployHost != "" {
		if err := deployArtifacts(ctx, cfg, store, record); err != nil {
			logger.Error("deployment failed", zap.Error(err))
		}
	}
}

// deployArtifacts uploads the issued material plus the domain private key
// to the configured SFTP target.
func deployArtifacts(ctx context.Context, cfg *config.Config, store storage.Storage, record *model.IssuanceRecord) error {
	deployer, err := deploy.New(deploy.Config{
		Host:      cfg.DeployHost,
		Port:      cfg.DeployPort,
		User:      cfg.DeployUser,
		Password:  cfg.DeployPassword,
		KeyFile:   cfg.DeployKeyFile,
		RemoteDir: cfg.DeployRemoteDir,
	}, logger.With(zap.String("package", "deploy")))
	if err != nil {
		return err
	}

	files := map[string][]byte{
		"cert.pem":      []byte(record.CertPEM),
		"fullchain.pem": []byte(record.FullchainPEM),
	}
	if record.ChainPEM != "" {
		files["chain.pem"] = []byte(record.ChainPEM)
	}

	key, err := store.GetDomainKey(ctx, record.PrimaryDomain)
	if err != nil {
		return err
	}
	if key != nil {
		files["private.pem"] = storage.EncodePrivateKey(key)
	}

	return deployer.Deploy(files)
}
