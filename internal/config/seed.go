package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedAccount is one account in a seed file.
type SeedAccount struct {
	ID             int64  `yaml:"id"`
	Owner          string `yaml:"owner"`
	ScreenName     string `yaml:"screen_name"`
	AccessToken    string `yaml:"access_token"`
	RefreshToken   string `yaml:"refresh_token"`
	Active         *bool  `yaml:"active"`
	RetentionHours *int   `yaml:"retention_hours"`
}

// Seed is a batch of accounts to link, as read by `sweepctl accounts import`.
//
//	accounts:
//	  - id: 123456
//	    owner: alice
//	    screen_name: alice_posts
//	    access_token: ...
//	    active: true
//	    retention_hours: 24
type Seed struct {
	Accounts []SeedAccount `yaml:"accounts"`
}

// LoadSeed reads and validates a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML. Unknown keys are rejected.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}

	seen := make(map[int64]bool, len(seed.Accounts))
	for i, a := range seed.Accounts {
		switch {
		case a.ID <= 0:
			return nil, fmt.Errorf("account %d: id must be positive", i)
		case seen[a.ID]:
			return nil, fmt.Errorf("account %d: duplicate id %d", i, a.ID)
		case a.AccessToken == "":
			return nil, fmt.Errorf("account %d: access_token is required", i)
		case a.RetentionHours != nil && *a.RetentionHours <= 0:
			return nil, fmt.Errorf("account %d: retention_hours must be positive", i)
		}
		seen[a.ID] = true
	}
	return &seed, nil
}
