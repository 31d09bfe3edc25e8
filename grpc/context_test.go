package grpc

import (
	"context"
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.MetadataKeyAuthorization != DefaultMetadataKeyAuthorization {
		t.Errorf("expected MetadataKeyAuthorization %q, got %q", DefaultMetadataKeyAuthorization, config.MetadataKeyAuthorization)
	}
}

func TestEnsureDefaults(t *testing.T) {
	config := &Config{}
	config.EnsureDefaults()
	if config.MetadataKeyAuthorization != DefaultMetadataKeyAuthorization {
		t.Errorf("expected MetadataKeyAuthorization %q, got %q", DefaultMetadataKeyAuthorization, config.MetadataKeyAuthorization)
	}

	config = &Config{MetadataKeyAuthorization: "x-token"}
	config.EnsureDefaults()
	if config.MetadataKeyAuthorization != "x-token" {
		t.Errorf("custom key was overwritten: %q", config.MetadataKeyAuthorization)
	}
}

func TestAuthorizationFromOutgoingContext_NoMetadata(t *testing.T) {
	if got := AuthorizationFromOutgoingContext(context.Background(), nil); got != "" {
		t.Errorf("expected empty authorization, got %q", got)
	}
}

func TestAuthorizationToOutgoingContext(t *testing.T) {
	ctx := AuthorizationToOutgoingContext(context.Background(), "Bearer abc")

	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("expected outgoing metadata")
	}
	if values := md.Get(DefaultMetadataKeyAuthorization); len(values) != 1 || values[0] != "Bearer abc" {
		t.Errorf("unexpected metadata values %v", values)
	}
	if got := AuthorizationFromOutgoingContext(ctx, nil); got != "Bearer abc" {
		t.Errorf("expected %q, got %q", "Bearer abc", got)
	}
}

func TestAuthorizationFromOutgoingContext_LastValueWins(t *testing.T) {
	ctx := AuthorizationToOutgoingContext(context.Background(), "Bearer old")
	ctx = AuthorizationToOutgoingContext(ctx, "Bearer new")

	if got := AuthorizationFromOutgoingContext(ctx, nil); got != "Bearer new" {
		t.Errorf("expected %q, got %q", "Bearer new", got)
	}
}

func TestAuthorizationWithCustomKey(t *testing.T) {
	config := &Config{MetadataKeyAuthorization: "x-token"}
	ctx := AuthorizationToOutgoingContextWithKey(context.Background(), "Bearer abc", "x-token")

	if got := AuthorizationFromOutgoingContext(ctx, config); got != "Bearer abc" {
		t.Errorf("expected %q, got %q", "Bearer abc", got)
	}
	if got := AuthorizationFromOutgoingContext(ctx, nil); got != "" {
		t.Errorf("default key should not see custom key, got %q", got)
	}
}
