package config

import (
	"os"
	"time"
)

// Archiver configures the audit-chain archiver.
type Archiver struct {
	AuditDatabaseURL string

	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
	Prefix    string

	// Region limits a run to one chain; empty archives every region.
	Region   string
	RunOnce  bool
	Interval time.Duration
}

// LoadArchiver reads the archiver configuration from the environment.
func LoadArchiver() Archiver {
	return Archiver{
		AuditDatabaseURL: auditDSN(),
		Endpoint:         EnvOr("ARCHIVE_S3_ENDPOINT", "localhost:9000"),
		AccessKey:        EnvOr("ARCHIVE_S3_ACCESS_KEY", "minioadmin"),
		SecretKey:        EnvOr("ARCHIVE_S3_SECRET_KEY", "minioadmin"),
		Secure:           EnvOrBool("ARCHIVE_S3_SECURE", false),
		Bucket:           EnvOr("ARCHIVE_S3_BUCKET", "adgateway-audit"),
		Prefix:           EnvOr("ARCHIVE_PREFIX", "directory-audit"),
		Region:           os.Getenv("ARCHIVER_REGION"),
		RunOnce:          EnvOrBool("ARCHIVER_RUN_ONCE", true),
		Interval:         EnvOrDuration("ARCHIVER_INTERVAL", 5*time.Minute),
	}
}
