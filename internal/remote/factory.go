package remote

import (
	"context"
	"fmt"
	"os"

	"budgetsync/internal/budget"
	"budgetsync/internal/config"
)

// Environment variables holding static S3 credentials.
const (
	EnvS3AccessKeyID     = "BUDGETSYNC_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "BUDGETSYNC_S3_SECRET_ACCESS_KEY"
)

// DefaultTokenEnv is read for the access token when remote.token_env is unset.
const DefaultTokenEnv = "BUDGETSYNC_TOKEN"

// NewRemoteFromConfig creates a Remote based on the configuration type.
// sealer is only used by the filesystem and s3 remotes, and only when
// cfg.Encrypt is set.
func NewRemoteFromConfig(ctx context.Context, cfg config.RemoteConfig, userID string, sealer Sealer, clock budget.Clock, logger budget.Logger) (budget.Remote, error) {
	if !SealsDocuments(cfg) {
		sealer = nil
	} else if sealer == nil {
		return nil, fmt.Errorf("remote.encrypt is set but no encryption keys are available")
	}

	var (
		r   budget.Remote
		err error
	)
	switch cfg.Type {
	case "http":
		r, err = NewHTTPRemote(cfg.BaseURL, EnvOrFileToken(TokenEnv(cfg), cfg.TokenPath), cfg.Timeout.Duration, clock, logger)
	case "filesystem":
		r, err = NewFileSystemRemote(cfg.FSRoot, userID, clock, sealer)
	case "s3":
		opts := S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     os.Getenv(EnvS3AccessKeyID),
			SecretAccessKey: os.Getenv(EnvS3SecretAccessKey),
		}
		client, cerr := NewS3Client(ctx, opts)
		if cerr != nil {
			return nil, cerr
		}
		r, err = NewS3Remote(client, opts, userID, clock, sealer)
	case "memory":
		r = NewMemoryRemote()
	default:
		return nil, fmt.Errorf("unknown remote type: %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// TokenEnv returns the environment variable that carries the access token.
func TokenEnv(cfg config.RemoteConfig) string {
	if cfg.TokenEnv != "" {
		return cfg.TokenEnv
	}
	return DefaultTokenEnv
}

// SealsDocuments reports whether cfg stores documents encrypted at rest.
func SealsDocuments(cfg config.RemoteConfig) bool {
	return cfg.Encrypt && (cfg.Type == "filesystem" || cfg.Type == "s3")
}
