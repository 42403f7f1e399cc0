package auditexport

import (
	"fmt"
	"strings"

	"github.com/animus-labs/casework/internal/platform/env"
)

const (
	FormatNone   = "none"
	FormatNDJSON = "ndjson"
)

// Config selects how appended audit entries are mirrored outside the
// database.
type Config struct {
	Format string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Format: strings.ToLower(strings.TrimSpace(env.String("CASEWORK_AUDIT_EXPORT", FormatNone))),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "", FormatNone, FormatNDJSON:
		return nil
	default:
		return fmt.Errorf("unsupported audit export format: %s", c.Format)
	}
}
