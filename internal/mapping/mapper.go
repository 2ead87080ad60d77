// Package mapping normalizes caller-supplied model names to backend-specific
// identifiers. Two tables exist, one per backend family; unknown names pass
// through unchanged. The mapper never fails.
package mapping

import (
	"strings"

	"github.com/chebizarro/crosstalk/internal/config"
)

// Kind reports whether a lookup resolved through the alias table.
type Kind string

const (
	// AliasResolved means the table produced the canonical identifier.
	AliasResolved Kind = "alias-resolved"
	// Passthrough means the caller's string was returned unchanged.
	Passthrough Kind = "passthrough"
)

// Mapper resolves model aliases for one configured backend. Tables are built
// once at startup and read-only afterwards.
type Mapper struct {
	backend config.BackendKind
	table   map[string]string
}

// New builds the alias table for the configured backend family. For the
// Databricks family outputs are serving-endpoint identifiers; for the
// OpenRouter family they are provider-prefixed model strings. The
// "openrouter/" style prefix decision is made here, exactly once.
func New(cfg *config.Config) *Mapper {
	m := &Mapper{backend: cfg.Backend, table: make(map[string]string)}

	var big, small string
	switch cfg.Backend {
	case config.BackendAzureDatabricks:
		big = cfg.Databricks.BigEndpoint
		small = cfg.Databricks.SmallEndpoint
	default:
		big = cfg.BigModel
		small = cfg.SmallModel
	}

	// Short names.
	m.table["big"] = big
	m.table["small"] = small
	m.table["sonnet"] = big
	m.table["opus"] = big
	m.table["haiku"] = small

	// Fully qualified and dated variants agentic clients send.
	for _, alias := range []string{
		"claude-sonnet-4", "claude-sonnet-4-5",
		"claude-sonnet-4-20250514", "claude-sonnet-4-5-20250929",
		"claude-3-7-sonnet", "claude-3-7-sonnet-20250219",
		"claude-3-5-sonnet", "claude-3-5-sonnet-20241022",
		"claude-opus-4", "claude-opus-4-20250514",
		"claude-opus-4-1", "claude-opus-4-1-20250805",
	} {
		m.table[alias] = big
	}
	for _, alias := range []string{
		"claude-3-5-haiku", "claude-3-5-haiku-20241022",
		"claude-haiku-4-5", "claude-haiku-4-5-20251001",
		"claude-3-haiku", "claude-3-haiku-20240307",
	} {
		m.table[alias] = small
	}

	return m
}

// Resolve maps alias to the backend-specific identifier. Unknown aliases are
// returned verbatim with Kind Passthrough.
func (m *Mapper) Resolve(alias string) (string, Kind) {
	if model, ok := m.table[strings.ToLower(strings.TrimSpace(alias))]; ok {
		return model, AliasResolved
	}
	return alias, Passthrough
}

// Backend reports which backend family the mapper serves.
func (m *Mapper) Backend() config.BackendKind { return m.backend }
