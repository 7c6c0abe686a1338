package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	CAURL               string   // ACME CA base URL
	Staging             bool     // Use the staging CA base URL instead of production
	Domains             []string // Domains to issue for, first one is primary
	CertsDir            string   // Directory to store keys, CSRs and certificates
	Webroot             string   // Document root the challenge files are published under
	StorageType         string   // Storage type: "file"
	ChallengeType       string   // ACME challenge type: "http-01"
	LicenseURL          string   // Subscriber agreement URL sent with registration
	Contacts            []string // Registration contact URIs (e.g. mailto:ops@example.com)
	CountryCode         string   // Country code for the CSR subject
	StateName           string   // State or province for the CSR subject
	ReuseCSR            bool     // Reuse the stored CSR instead of building a new one
	PollIntervalSeconds int      // Seconds between authorization/certificate polls
	PollMaxAttempts     int      // Poll attempt budget, zero or negative means unbounded
	RenewWithinDays     int      // Renew when the certificate expires within this many days, zero issues unconditionally
	ResponderAddr       string   // Listen address for the standalone challenge responder, empty disables it
	ArchiveDSN          string   // PostgreSQL DSN for the issuance archive, empty disables it
	DeployHost          string   // SFTP deployment host, empty disables deployment
	DeployPort          int      // SFTP deployment port
	DeployUser          string   // SFTP deployment user
	DeployPassword      string   // SFTP deployment password
	DeployKeyFile       string   // SFTP deployment private key file, takes precedence over password
	DeployRemoteDir     string   // Remote directory the artifacts land in
}

const (
	defaultCAURL               = "https://acme-v01.api.letsencrypt.org"
	stagingCAURL               = "https://acme-staging.api.letsencrypt.org"
	defaultCertsDir            = "./certs"
	defaultWebroot             = "/var/www/html"
	defaultStorageType         = "file"
	defaultChallengeType       = "http-01"
	defaultLicenseURL          = "https://letsencrypt.org/documents/LE-SA-v1.2-November-15-2017.pdf"
	defaultCountryCode         = "US"
	defaultStateName           = "NC"
	defaultPollIntervalSeconds = 1
	defaultPollMaxAttempts     = 60
	defaultRenewWithinDays     = 30
	defaultDeployPort          = 22
)

// LoadConfig loads the client configuration from environment variables or defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		CAURL:               getEnv("CERTFORGE_CA_URL", defaultCAURL),
		Staging:             getEnvAsBool("CERTFORGE_CA_STAGING", false),
		Domains:             getEnvAsSlice("CERTFORGE_DOMAINS", nil),
		CertsDir:            getEnv("CERTFORGE_CERTS_DIR", defaultCertsDir),
		Webroot:             getEnv("CERTFORGE_WEBROOT", defaultWebroot),
		StorageType:         getEnv("CERTFORGE_STORAGE_TYPE", defaultStorageType),
		ChallengeType:       getEnv("CERTFORGE_CHALLENGE_TYPE", defaultChallengeType),
		LicenseURL:          getEnv("CERTFORGE_LICENSE_URL", defaultLicenseURL),
		Contacts:            getEnvAsSlice("CERTFORGE_CONTACTS", nil),
		CountryCode:         getEnv("CERTFORGE_COUNTRY", defaultCountryCode),
		StateName:           getEnv("CERTFORGE_STATE", defaultStateName),
		ReuseCSR:            getEnvAsBool("CERTFORGE_REUSE_CSR", false),
		PollIntervalSeconds: getEnvAsInt("CERTFORGE_POLL_INTERVAL_SECONDS", defaultPollIntervalSeconds),
		PollMaxAttempts:     getEnvAsInt("CERTFORGE_POLL_MAX_ATTEMPTS", defaultPollMaxAttempts),
		RenewWithinDays:     getEnvAsInt("CERTFORGE_RENEW_WITHIN_DAYS", defaultRenewWithinDays),
		ResponderAddr:       getEnv("CERTFORGE_RESPONDER_ADDR", ""),
		ArchiveDSN:          getEnv("CERTFORGE_ARCHIVE_DSN", ""),
		DeployHost:          getEnv("CERTFORGE_DEPLOY_HOST", ""),
		DeployPort:          getEnvAsInt("CERTFORGE_DEPLOY_PORT", defaultDeployPort),
		DeployUser:          getEnv("CERTFORGE_DEPLOY_USER", ""),
		DeployPassword:      getEnv("CERTFORGE_DEPLOY_PASSWORD", ""),
		DeployKeyFile:       getEnv("CERTFORGE_DEPLOY_KEY_FILE", ""),
		DeployRemoteDir:     getEnv("CERTFORGE_DEPLOY_REMOTE_DIR", ""),
	}
	// The staging shorthand only kicks in when no explicit URL was given.
	if cfg.Staging && cfg.CAURL == defaultCAURL {
		cfg.CAURL = stagingCAURL
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer value for %s (%s), using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid boolean value for %s (%s), using default: %t", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
