package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Enabled reports whether a Firebase project is configured.
func (c FirebaseConfig) Enabled() bool {
	return c.ProjectID != ""
}

// NewFirebaseApp builds a Firebase app from a service-account JSON blob or a
// credentials file. With neither set it relies on the emulator or ambient
// application default credentials.
func NewFirebaseApp(ctx context.Context, cfg FirebaseConfig) (*firebase.App, error) {
	if !cfg.Enabled() {
		return nil, errors.New("config: FIREBASE_PROJECT_ID not set")
	}

	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	} else if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("config: credentials %q not readable: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     cfg.ProjectID,
		DatabaseURL:   cfg.DatabaseURL,
		StorageBucket: cfg.StorageBucket,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: firebase init: %w", err)
	}
	return app, nil
}
