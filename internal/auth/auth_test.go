package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/sq-engine/internal/audit"
)

func newTestAuth(t *testing.T, legacyKey string, keys []KeyDescriptor) (*Authenticator, *audit.MemorySink) {
	t.Helper()
	sink := audit.NewMemorySink(100)
	events := audit.NewLogger(sink, zerolog.Nop())
	return New(legacyKey, keys, events, zerolog.Nop()), sink
}

func TestAuthenticateDisabled(t *testing.T) {
	a, sink := newTestAuth(t, "", nil)

	if a.Enabled() {
		t.Error("Enabled() = true with no keys configured")
	}
	result, err := a.Authenticate(context.Background(), Request{SystemID: "100"})
	if err != nil {
		t.Fatalf("Authenticate() = %v, want nil", err)
	}
	if result.APIKeyID != nil {
		t.Errorf("APIKeyID = %q, want nil", *result.APIKeyID)
	}
	if got := len(sink.Events()); got != 0 {
		t.Errorf("got %d events, want 0 when auth is disabled", got)
	}
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	// The missing-credentials error only exists for key-descriptor
	// configs; legacy-only configs compare the key directly.
	a, _ := newTestAuth(t, "", []KeyDescriptor{{Key: "some-key"}})

	tests := []struct {
		name string
		req  Request
	}{
		{"no_key", Request{SystemID: "100"}},
		{"no_system", Request{APIKey: "some-key"}},
		{"neither", Request{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), tt.req)
			var authErr *Error
			if !errors.As(err, &authErr) {
				t.Fatalf("Authenticate() = %v, want *Error", err)
			}
			if authErr.Kind != KindMissingCredentials {
				t.Errorf("Kind = %q, want %q", authErr.Kind, KindMissingCredentials)
			}
			if authErr.Message != "Missing API key or system ID" {
				t.Errorf("Message = %q", authErr.Message)
			}
		})
	}
}

func TestAuthenticateLegacyOnlyPrecedence(t *testing.T) {
	t.Run("wrong_or_missing_key_is_invalid", func(t *testing.T) {
		a, sink := newTestAuth(t, "secret", nil)
		for _, key := range []string{"", "wrong"} {
			_, err := a.Authenticate(context.Background(), Request{APIKey: key, SystemID: "100"})
			var authErr *Error
			if !errors.As(err, &authErr) || authErr.Kind != KindInvalidKey {
				t.Fatalf("Authenticate(key=%q) = %v, want invalid key", key, err)
			}
			if authErr.Message != "Invalid API key" {
				t.Errorf("Message = %q", authErr.Message)
			}
		}
		events := sink.Events()
		if len(events) != 2 || events[0].EventType != audit.EventInvalidAPIKey {
			t.Errorf("events = %+v, want two invalid_api_key", events)
		}
	})

	t.Run("valid_key_without_system_passes", func(t *testing.T) {
		// The handler's required-field check reports the missing
		// system; auth itself only judges the key.
		a, _ := newTestAuth(t, "secret", nil)
		result, err := a.Authenticate(context.Background(), Request{APIKey: "secret"})
		if err != nil {
			t.Fatalf("Authenticate() = %v, want nil", err)
		}
		if result.APIKeyID == nil || *result.APIKeyID != "legacy" {
			t.Errorf("APIKeyID = %v, want legacy", result.APIKeyID)
		}
	})
}

func TestAuthenticateLegacyKey(t *testing.T) {
	a, sink := newTestAuth(t, "legacy-secret-key", nil)

	result, err := a.Authenticate(context.Background(), Request{
		APIKey:   "legacy-secret-key",
		SystemID: "100",
		SourceIP: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Authenticate() = %v, want nil", err)
	}
	if result.APIKeyID == nil || *result.APIKeyID != "legacy" {
		t.Errorf("APIKeyID = %v, want legacy", result.APIKeyID)
	}

	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].EventType != audit.EventAPIKeyUsed {
		t.Errorf("EventType = %q, want %q", events[0].EventType, audit.EventAPIKeyUsed)
	}
	if events[0].APIKeyUsed != "legacy-s..." {
		t.Errorf("APIKeyUsed = %q, want truncated key", events[0].APIKeyUsed)
	}
}

func TestAuthenticateEnhancedKeys(t *testing.T) {
	keys := []KeyDescriptor{
		{
			Key:         "open-key-12345",
			Description: "unrestricted uploader",
		},
		{
			Key:            "locked-key-999",
			Description:    "north site",
			AllowedIPs:     []string{"10.0.0.1", "10.0.0.2"},
			AllowedSystems: []string{"100", "200"},
		},
	}

	t.Run("unrestricted_key_passes", func(t *testing.T) {
		a, sink := newTestAuth(t, "", keys)
		result, err := a.Authenticate(context.Background(), Request{
			APIKey: "open-key-12345", SystemID: "999", SourceIP: "192.0.2.7",
		})
		if err != nil {
			t.Fatalf("Authenticate() = %v, want nil", err)
		}
		if result.APIKeyID == nil || *result.APIKeyID != "open-key" {
			t.Errorf("APIKeyID = %v, want open-key", result.APIKeyID)
		}
		events := sink.Events()
		if len(events) != 1 || events[0].EventType != audit.EventAPIKeyUsed {
			t.Errorf("events = %+v, want one api_key_used", events)
		}
	})

	t.Run("allowed_ip_and_system", func(t *testing.T) {
		a, _ := newTestAuth(t, "", keys)
		_, err := a.Authenticate(context.Background(), Request{
			APIKey: "locked-key-999", SystemID: "200", SourceIP: "10.0.0.2",
		})
		if err != nil {
			t.Errorf("Authenticate() = %v, want nil", err)
		}
	})

	t.Run("ip_violation", func(t *testing.T) {
		a, sink := newTestAuth(t, "", keys)
		_, err := a.Authenticate(context.Background(), Request{
			APIKey: "locked-key-999", SystemID: "100", SourceIP: "192.0.2.66",
		})
		var authErr *Error
		if !errors.As(err, &authErr) || authErr.Kind != KindIPForbidden {
			t.Fatalf("Authenticate() = %v, want IP violation", err)
		}
		if authErr.Message != "API key not authorized for IP 192.0.2.66" {
			t.Errorf("Message = %q", authErr.Message)
		}
		events := sink.Events()
		if len(events) != 1 || events[0].EventType != audit.EventAPIKeyIPViolation {
			t.Errorf("events = %+v, want one api_key_ip_violation", events)
		}
		if events[0].Severity != audit.SeverityHigh {
			t.Errorf("Severity = %q, want high", events[0].Severity)
		}
	})

	t.Run("system_violation", func(t *testing.T) {
		a, sink := newTestAuth(t, "", keys)
		_, err := a.Authenticate(context.Background(), Request{
			APIKey: "locked-key-999", SystemID: "300", SourceIP: "10.0.0.1",
		})
		var authErr *Error
		if !errors.As(err, &authErr) || authErr.Kind != KindSystemForbidden {
			t.Fatalf("Authenticate() = %v, want system violation", err)
		}
		if authErr.Message != "API key not authorized for system 300" {
			t.Errorf("Message = %q", authErr.Message)
		}
		events := sink.Events()
		if len(events) != 1 || events[0].EventType != audit.EventAPIKeySystemViolation {
			t.Errorf("events = %+v, want one api_key_system_violation", events)
		}
	})

	t.Run("unknown_key", func(t *testing.T) {
		a, sink := newTestAuth(t, "", keys)
		_, err := a.Authenticate(context.Background(), Request{
			APIKey: "wrong", SystemID: "100", SourceIP: "10.0.0.1",
		})
		var authErr *Error
		if !errors.As(err, &authErr) || authErr.Kind != KindInvalidKey {
			t.Fatalf("Authenticate() = %v, want invalid key", err)
		}
		if authErr.Message != "Invalid API key" {
			t.Errorf("Message = %q", authErr.Message)
		}
		events := sink.Events()
		if len(events) != 1 || events[0].EventType != audit.EventInvalidAPIKey {
			t.Errorf("events = %+v, want one invalid_api_key", events)
		}
	})
}

func TestReplaceKeys(t *testing.T) {
	a, _ := newTestAuth(t, "", []KeyDescriptor{{Key: "old-key"}})

	if _, err := a.Authenticate(context.Background(), Request{APIKey: "old-key", SystemID: "100"}); err != nil {
		t.Fatalf("old key rejected before swap: %v", err)
	}

	a.ReplaceKeys([]KeyDescriptor{{Key: "new-key"}})

	if _, err := a.Authenticate(context.Background(), Request{APIKey: "old-key", SystemID: "100"}); err == nil {
		t.Error("old key accepted after swap")
	}
	if _, err := a.Authenticate(context.Background(), Request{APIKey: "new-key", SystemID: "100"}); err != nil {
		t.Errorf("new key rejected after swap: %v", err)
	}
}

func TestLoadKeysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	content := `keys:
  - key: abc123
    description: test uploader
    allowed_ips:
      - 10.0.0.1
    allowed_systems:
      - "100"
  - key: def456
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	keys, err := LoadKeysFile(path)
	if err != nil {
		t.Fatalf("LoadKeysFile() = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	if keys[0].Key != "abc123" || keys[0].Description != "test uploader" {
		t.Errorf("keys[0] = %+v", keys[0])
	}
	if len(keys[0].AllowedIPs) != 1 || keys[0].AllowedIPs[0] != "10.0.0.1" {
		t.Errorf("AllowedIPs = %v", keys[0].AllowedIPs)
	}
	if len(keys[0].AllowedSystems) != 1 || keys[0].AllowedSystems[0] != "100" {
		t.Errorf("AllowedSystems = %v", keys[0].AllowedSystems)
	}
	if keys[1].Key != "def456" {
		t.Errorf("keys[1].Key = %q", keys[1].Key)
	}

	if _, err := LoadKeysFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadKeysFile() on missing file = nil, want error")
	}
}
