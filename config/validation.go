package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for field %q: %s", e.Field, e.Message)
}

// Validator collects validation failures across chained checks.
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		errors: []ValidationError{},
	}
}

func (v *Validator) fail(field, format string, args ...any) *Validator {
	v.errors = append(v.errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	return v
}

// RequireNonEmpty validates that a string field is not blank
func (v *Validator) RequireNonEmpty(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		return v.fail(field, "value cannot be empty")
	}
	return v
}

// RequirePositive validates that an integer field is greater than 0
func (v *Validator) RequirePositive(field string, value int) *Validator {
	if value <= 0 {
		return v.fail(field, "value must be positive, got %d", value)
	}
	return v
}

// RequireNonNegative validates that an integer field is not below 0
func (v *Validator) RequireNonNegative(field string, value int) *Validator {
	if value < 0 {
		return v.fail(field, "value must not be negative, got %d", value)
	}
	return v
}

// ValidateRange validates that an integer field is within a range [min, max]
func (v *Validator) ValidateRange(field string, value, min, max int) *Validator {
	if value < min || value > max {
		return v.fail(field, "value must be between %d and %d, got %d", min, max, value)
	}
	return v
}

// ValidateFloatRange validates that a float field is within a range [min, max]
func (v *Validator) ValidateFloatRange(field string, value, min, max float64) *Validator {
	if value < min || value > max {
		return v.fail(field, "value must be between %.2f and %.2f, got %.2f", min, max, value)
	}
	return v
}

// ValidateDBNumber validates that a database number is valid (0-15 for Redis)
func (v *Validator) ValidateDBNumber(field string, db int) *Validator {
	return v.ValidateRange(field, db, 0, 15)
}

// ValidateOneOf validates that a string value is one of the allowed options
func (v *Validator) ValidateOneOf(field string, value string, allowed ...string) *Validator {
	for _, a := range allowed {
		if a == value {
			return v
		}
	}
	return v.fail(field, "value must be one of %v, got %q", allowed, value)
}

// HasErrors returns true if there are any validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Error returns a combined error message or nil if no errors
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}

	var b strings.Builder
	b.WriteString("configuration validation failed:\n")
	for _, e := range v.errors {
		fmt.Fprintf(&b, "  - %s: %s\n", e.Field, e.Message)
	}
	return errors.New(b.String())
}

// Errors returns all validation errors
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	v := NewValidator()

	r := c.Retrieval
	v.RequirePositive("retrieval.top_k", r.TopK)
	v.RequireNonNegative("retrieval.history_turns", r.HistoryTurns)
	v.RequireNonNegative("retrieval.variants", r.Variants)
	v.RequireNonNegative("retrieval.min_unique_docs", r.MinUniqueDocs)
	v.RequirePositive("retrieval.backfill_min_k", r.BackfillMinK)
	v.RequirePositive("retrieval.fanout_workers", r.FanoutWorkers)
	v.RequireNonNegative("retrieval.max_context_tokens", r.MaxContextTokens)
	v.RequireNonNegative("retrieval.guidance.variants", r.Guidance.Variants)
	v.RequirePositive("retrieval.guidance.k", r.Guidance.K)
	v.RequirePositive("retrieval.guidance.max_each", r.Guidance.MaxEach)

	seen := make(map[string]bool, len(c.Domain.Companies))
	for i, co := range c.Domain.Companies {
		field := fmt.Sprintf("domain.companies[%d]", i)
		v.RequireNonEmpty(field+".code", co.Code)
		v.RequireNonEmpty(field+".name", co.Name)
		if seen[co.Code] {
			v.fail(field+".code", "duplicate company code %q", co.Code)
		}
		seen[co.Code] = true
	}
	for i, b := range c.Domain.Sentiments {
		v.RequireNonEmpty(fmt.Sprintf("domain.sentiments[%d].label", i), b.Label)
	}

	v.ValidateOneOf("llm.provider", c.LLM.Provider, ProviderOpenAI, ProviderClaude, ProviderGemini, ProviderGroq, ProviderCohere)
	v.RequireNonEmpty("llm.model", c.LLM.Model)
	v.ValidateFloatRange("llm.temperature", c.LLM.Temperature, 0.0, 2.0)
	v.ValidateFloatRange("llm.rewrite_temperature", c.LLM.RewriteTemperature, 0.0, 2.0)
	v.RequirePositive("llm.max_tokens", c.LLM.MaxTokens)

	v.ValidateOneOf("store.backend", c.Store.Backend, BackendInMemory, BackendPGVector, BackendMongo)
	switch c.Store.Backend {
	case BackendPGVector:
		v.RequireNonEmpty("store.postgres.dsn", c.Store.Postgres.DSN)
		v.RequireNonEmpty("store.postgres.table", c.Store.Postgres.Table)
		v.ValidateRange("embedding.dimension", c.Embedding.Dimension, 1, 65535)
	case BackendMongo:
		v.RequireNonEmpty("store.mongo.uri", c.Store.Mongo.URI)
		v.RequireNonEmpty("store.mongo.database", c.Store.Mongo.Database)
		v.RequireNonEmpty("store.mongo.collection", c.Store.Mongo.Collection)
		v.RequireNonEmpty("store.mongo.index", c.Store.Mongo.Index)
	}
	v.RequireNonEmpty("embedding.model", c.Embedding.Model)

	if c.Redis.Addr != "" {
		v.ValidateDBNumber("redis.db", c.Redis.DB)
		v.RequireNonEmpty("redis.prefix", c.Redis.Prefix)
	}

	if c.Server.RateLimit < 0 {
		v.fail("server.rate_limit", "value must not be negative, got %.2f", c.Server.RateLimit)
	}
	v.RequireNonNegative("server.burst", c.Server.Burst)

	return v.Error()
}
