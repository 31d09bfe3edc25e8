// Package grpc attaches tokenlife credentials to outgoing gRPC calls and
// recovers once from an Unauthenticated response, mirroring client.Transport.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// DefaultMetadataKeyAuthorization is the default gRPC metadata key for the bearer token
const DefaultMetadataKeyAuthorization = "authorization"

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKeyAuthorization is the gRPC metadata key for the bearer token.
	// Defaults to "authorization".
	MetadataKeyAuthorization string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
}

// AuthorizationToOutgoingContext adds the authorization value to outgoing gRPC context metadata.
func AuthorizationToOutgoingContext(ctx context.Context, value string) context.Context {
	return AuthorizationToOutgoingContextWithKey(ctx, value, DefaultMetadataKeyAuthorization)
}

// AuthorizationToOutgoingContextWithKey adds the authorization value with a custom key.
func AuthorizationToOutgoingContextWithKey(ctx context.Context, value string, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, key, value)
}

// AuthorizationFromOutgoingContext returns the last authorization value set on
// the outgoing metadata, or "" if none.
func AuthorizationFromOutgoingContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeyAuthorization); len(values) > 0 {
		return values[len(values)-1]
	}
	return ""
}
