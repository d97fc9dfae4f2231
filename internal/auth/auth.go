// Package auth verifies upload credentials against a configured key set
// and records every decision as a security event.
package auth

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/snarg/sq-engine/internal/audit"
	"github.com/snarg/sq-engine/internal/database"
)

// ErrorKind classifies why a request was denied.
type ErrorKind string

const (
	KindMissingCredentials ErrorKind = "missing_credentials"
	KindInvalidKey         ErrorKind = "invalid_key"
	KindIPForbidden        ErrorKind = "ip_forbidden"
	KindSystemForbidden    ErrorKind = "system_forbidden"
)

// Error is a denial with a client-facing message.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

// KeyDescriptor is one entry in the API keys file. Empty allowed_ips or
// allowed_systems means unrestricted for that dimension.
type KeyDescriptor struct {
	Key            string   `yaml:"key"`
	Description    string   `yaml:"description"`
	AllowedIPs     []string `yaml:"allowed_ips"`
	AllowedSystems []string `yaml:"allowed_systems"`
}

type keysFile struct {
	Keys []KeyDescriptor `yaml:"keys"`
}

// LoadKeysFile parses the YAML key set at path.
func LoadKeysFile(path string) ([]KeyDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}
	var f keysFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}
	return f.Keys, nil
}

// Request carries the credentials and provenance of one upload attempt.
type Request struct {
	APIKey    string
	SystemID  string
	SourceIP  string
	UserAgent string
}

// Result is a successful authentication. APIKeyID identifies which key
// matched for provenance; nil when authentication is disabled.
type Result struct {
	APIKeyID *string
}

// Authenticator checks upload credentials. The key set is swappable at
// runtime so a file watcher can hot-reload it.
type Authenticator struct {
	mu        sync.RWMutex
	legacyKey string
	keys      []KeyDescriptor

	events *audit.Logger
	log    zerolog.Logger
}

// New builds an Authenticator. Either legacyKey or keys may be empty;
// with both empty, authentication is disabled and every request passes.
func New(legacyKey string, keys []KeyDescriptor, events *audit.Logger, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		legacyKey: legacyKey,
		keys:      keys,
		events:    events,
		log:       log,
	}
}

// Enabled reports whether any credentials are configured.
func (a *Authenticator) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.legacyKey != "" || len(a.keys) > 0
}

// ReplaceKeys swaps in a new key set. The legacy key is unaffected.
func (a *Authenticator) ReplaceKeys(keys []KeyDescriptor) {
	a.mu.Lock()
	a.keys = keys
	a.mu.Unlock()
	a.log.Info().Int("keys", len(keys)).Msg("api key set replaced")
}

// Authenticate validates one upload attempt, emitting exactly one
// security event describing the outcome. On denial the returned error is
// an *Error whose Message is safe to show the client.
func (a *Authenticator) Authenticate(ctx context.Context, req Request) (*Result, error) {
	if !a.Enabled() {
		return &Result{}, nil
	}

	a.mu.RLock()
	legacyKey := a.legacyKey
	keys := a.keys
	a.mu.RUnlock()

	// Legacy-only deployments compare the key directly; a missing
	// system ID is caught by the required-field check downstream.
	if len(keys) == 0 {
		if req.APIKey != legacyKey {
			a.events.Emit(ctx, &database.SecurityEvent{
				EventType:    audit.EventInvalidAPIKey,
				SourceIP:     req.SourceIP,
				SourceSystem: req.SystemID,
				APIKeyUsed:   audit.TruncateKey(req.APIKey),
				UserAgent:    req.UserAgent,
				Description:  fmt.Sprintf("Invalid API key attempted by system %s", req.SystemID),
			})
			return nil, &Error{Kind: KindInvalidKey, Message: "Invalid API key"}
		}
		return a.legacyResult(ctx, req), nil
	}

	if req.APIKey == "" || req.SystemID == "" {
		return nil, &Error{Kind: KindMissingCredentials, Message: "Missing API key or system ID"}
	}

	if legacyKey != "" && req.APIKey == legacyKey {
		return a.legacyResult(ctx, req), nil
	}

	for _, kd := range keys {
		if kd.Key != req.APIKey {
			continue
		}

		if len(kd.AllowedIPs) > 0 && !contains(kd.AllowedIPs, req.SourceIP) {
			a.events.Emit(ctx, &database.SecurityEvent{
				EventType:    audit.EventAPIKeyIPViolation,
				SourceIP:     req.SourceIP,
				SourceSystem: req.SystemID,
				APIKeyUsed:   audit.TruncateKey(req.APIKey),
				UserAgent:    req.UserAgent,
				Description:  fmt.Sprintf("API key used from unauthorized IP %s", req.SourceIP),
				Metadata: map[string]any{
					"allowed_ips": kd.AllowedIPs,
					"actual_ip":   req.SourceIP,
				},
			})
			return nil, &Error{
				Kind:    KindIPForbidden,
				Message: fmt.Sprintf("API key not authorized for IP %s", req.SourceIP),
			}
		}

		if len(kd.AllowedSystems) > 0 && !contains(kd.AllowedSystems, req.SystemID) {
			a.events.Emit(ctx, &database.SecurityEvent{
				EventType:    audit.EventAPIKeySystemViolation,
				SourceIP:     req.SourceIP,
				SourceSystem: req.SystemID,
				APIKeyUsed:   audit.TruncateKey(req.APIKey),
				UserAgent:    req.UserAgent,
				Description:  fmt.Sprintf("API key used by unauthorized system %s", req.SystemID),
				Metadata: map[string]any{
					"allowed_systems": kd.AllowedSystems,
					"actual_system":   req.SystemID,
				},
			})
			return nil, &Error{
				Kind:    KindSystemForbidden,
				Message: fmt.Sprintf("API key not authorized for system %s", req.SystemID),
			}
		}

		a.events.Emit(ctx, &database.SecurityEvent{
			EventType:    audit.EventAPIKeyUsed,
			SourceIP:     req.SourceIP,
			SourceSystem: req.SystemID,
			APIKeyUsed:   audit.TruncateKey(req.APIKey),
			UserAgent:    req.UserAgent,
			Description:  fmt.Sprintf("Valid API key used by system %s", req.SystemID),
			Metadata: map[string]any{
				"key_description": kd.Description,
			},
		})
		id := keyID(kd.Key)
		return &Result{APIKeyID: &id}, nil
	}

	a.events.Emit(ctx, &database.SecurityEvent{
		EventType:    audit.EventInvalidAPIKey,
		SourceIP:     req.SourceIP,
		SourceSystem: req.SystemID,
		APIKeyUsed:   audit.TruncateKey(req.APIKey),
		UserAgent:    req.UserAgent,
		Description:  fmt.Sprintf("Invalid API key attempted by system %s", req.SystemID),
	})
	return nil, &Error{Kind: KindInvalidKey, Message: "Invalid API key"}
}

func (a *Authenticator) legacyResult(ctx context.Context, req Request) *Result {
	a.events.Emit(ctx, &database.SecurityEvent{
		EventType:    audit.EventAPIKeyUsed,
		SourceIP:     req.SourceIP,
		SourceSystem: req.SystemID,
		APIKeyUsed:   audit.TruncateKey(req.APIKey),
		UserAgent:    req.UserAgent,
		Description:  fmt.Sprintf("Legacy API key used by system %s", req.SystemID),
	})
	id := "legacy"
	return &Result{APIKeyID: &id}
}

// keyID derives a stable identifier for provenance without storing the
// full key.
func keyID(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
