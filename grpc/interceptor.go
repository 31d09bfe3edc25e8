package grpc

import (
	"context"

	tl "github.com/panyam/tokenlife"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryClientInterceptor returns a gRPC unary client interceptor that attaches
// the manager's bearer token. On codes.Unauthenticated it renews through the
// manager and retries the call once.
func UnaryClientInterceptor(m *tl.Manager, config *Config) grpc.UnaryClientInterceptor {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		gen := m.Generation()
		header, ok := m.AuthHeader()
		err := invoker(withAuth(ctx, config, header, ok), method, req, reply, cc, opts...)

		retryHeader, retry := renewed(ctx, m, gen, err)
		if !retry {
			return err
		}
		return invoker(withAuth(ctx, config, retryHeader, true), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor that attaches
// the manager's bearer token. Only stream creation is retried; errors surfacing
// later on an open stream are returned to the caller.
func StreamClientInterceptor(m *tl.Manager, config *Config) grpc.StreamClientInterceptor {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		gen := m.Generation()
		header, ok := m.AuthHeader()
		stream, err := streamer(withAuth(ctx, config, header, ok), desc, cc, method, opts...)

		retryHeader, retry := renewed(ctx, m, gen, err)
		if !retry {
			return stream, err
		}
		return streamer(withAuth(ctx, config, retryHeader, true), desc, cc, method, opts...)
	}
}

// renewed decides whether a failed call should be retried and with which header
func renewed(ctx context.Context, m *tl.Manager, gen uint64, err error) (string, bool) {
	if status.Code(err) != codes.Unauthenticated || m.Credentials().IsZero() {
		return "", false
	}
	if !m.RefreshIfStale(ctx, gen) {
		return "", false
	}
	return m.AuthHeader()
}

func withAuth(ctx context.Context, config *Config, header string, ok bool) context.Context {
	if !ok {
		return ctx
	}
	return AuthorizationToOutgoingContextWithKey(ctx, header, config.MetadataKeyAuthorization)
}

// TokenCredentials implements credentials.PerRPCCredentials from a Manager.
// An expired access token is renewed before the call.
type TokenCredentials struct {
	manager    *tl.Manager
	key        string
	requireTLS bool
}

// NewPerRPCCredentials creates per-RPC credentials for m
func NewPerRPCCredentials(m *tl.Manager, requireTLS bool) *TokenCredentials {
	return &TokenCredentials{manager: m, key: DefaultMetadataKeyAuthorization, requireTLS: requireTLS}
}

// GetRequestMetadata implements credentials.PerRPCCredentials
func (c *TokenCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	header, ok := c.manager.AuthHeader()
	if !ok {
		if c.manager.Credentials().IsZero() || !c.manager.Refresh(ctx) {
			return nil, status.Error(codes.Unauthenticated, "no valid session")
		}
		if header, ok = c.manager.AuthHeader(); !ok {
			return nil, status.Error(codes.Unauthenticated, "no valid session")
		}
	}
	return map[string]string{c.key: header}, nil
}

// RequireTransportSecurity implements credentials.PerRPCCredentials
func (c *TokenCredentials) RequireTransportSecurity() bool {
	return c.requireTLS
}
