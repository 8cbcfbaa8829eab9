// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailtriage/go-mail-triage/domain"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// Remote store: set either the Gmail pair or the Imap block.
	GmailCredentials string
	GmailToken       string

	ImapHost          string
	ImapUser          string
	ImapPassword      string
	ImapArchiveFolder string

	// Scorer backend: remote HTTP scorer when ScorerURL is set, otherwise the
	// built-in keyword scorer.
	ScorerURL   string
	ScorerToken string

	ContactsDatabase string

	DryRun bool

	MaxBatchIDs         int
	SubBatchSize        int
	MaxConcurrency      int
	ConfidenceThreshold float64
	RateLimitTokens     int
	RateLimitWindow     string

	Rules []domain.ClassificationRule `toml:"rule"`

	Loglevel *string
}

func ReadConfig(filename string) (*Config, error) {
	config := &Config{
		ImapArchiveFolder:   "Archive",
		MaxBatchIDs:         50,
		SubBatchSize:        10,
		MaxConcurrency:      8,
		ConfidenceThreshold: 0.7,
		RateLimitTokens:     25,
		RateLimitWindow:     "1s",
	}

	_, err := toml.DecodeFile(filename, config)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	err = config.validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Window returns the parsed rate-limit refill window.
func (c *Config) Window() time.Duration {
	d, err := time.ParseDuration(c.RateLimitWindow)
	if err != nil {
		return time.Second
	}
	return d
}

func (c *Config) validate() error {
	gmailSet := len(strings.TrimSpace(c.GmailCredentials)) > 0
	imapSet := len(strings.TrimSpace(c.ImapHost)) > 0
	if gmailSet && imapSet {
		return fmt.Errorf("GmailCredentials and ImapHost cannot be set at the same time")
	}
	if !gmailSet && !imapSet {
		return fmt.Errorf("set either GmailCredentials or ImapHost to use either store")
	}

	if gmailSet {
		if err := validateNonEmptyStringField(c.GmailToken, "GmailToken must be set if GmailCredentials is set, point it to the oauth token file"); err != nil {
			return err
		}
	}

	if imapSet {
		if err := validateNonEmptyStringField(c.ImapUser, "ImapUser must not be empty, set to username on the imap server"); err != nil {
			return err
		}
		if err := validateNonEmptyStringField(c.ImapPassword, "ImapPassword must not be empty, set to password of ImapUser on the imap server"); err != nil {
			return err
		}
	}

	if c.MaxBatchIDs <= 0 {
		return fmt.Errorf("MaxBatchIDs must be positive, got %d", c.MaxBatchIDs)
	}
	if c.SubBatchSize <= 0 {
		return fmt.Errorf("SubBatchSize must be positive, got %d", c.SubBatchSize)
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("MaxConcurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("ConfidenceThreshold must be in [0,1], got %f", c.ConfidenceThreshold)
	}
	if c.RateLimitTokens <= 0 {
		return fmt.Errorf("RateLimitTokens must be positive, got %d", c.RateLimitTokens)
	}
	if _, err := time.ParseDuration(c.RateLimitWindow); err != nil {
		return fmt.Errorf("RateLimitWindow is not a valid duration: %w", err)
	}

	for _, r := range c.Rules {
		if err := validateNonEmptyStringField(r.Name, "every rule needs a non-empty name"); err != nil {
			return err
		}
		if len(r.Actions) == 0 {
			return fmt.Errorf("rule %q declares no actions", r.Name)
		}
	}

	return nil
}

func validateNonEmptyStringField(field string, err string) error {
	if len(strings.TrimSpace(field)) == 0 {
		return errors.New(err)
	}

	return nil
}
