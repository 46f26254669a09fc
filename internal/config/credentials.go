package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"killswitch/internal/account"
)

type credentialsFile struct {
	Accounts map[string]account.Credentials `yaml:"accounts"`
}

// LoadCredentials reads the secrets file. It is read once at startup and
// never hot-reloaded: rotating broker secrets requires a session refresh
// anyway.
func LoadCredentials(path string) (map[string]account.Credentials, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file failed (%s): %w", path, err)
	}
	var file credentialsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing credentials file failed: %w", err)
	}
	if len(file.Accounts) == 0 {
		return nil, fmt.Errorf("credentials file has no accounts")
	}
	for id, creds := range file.Accounts {
		if err := creds.Validate(); err != nil {
			return nil, fmt.Errorf("credentials for account %q: %w", id, err)
		}
	}
	return file.Accounts, nil
}
