package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pulsewatch/pulsewatch/server/internal/config"
)

// ModeAPIKey enables key checking.
const ModeAPIKey = "apikey"

// QueryParam is the HTTP query parameter accepted when the header is absent.
const QueryParam = "api_key"

// Guard checks API keys.
type Guard struct {
	enabled bool
	header  string
	key     []byte
}

// New builds a Guard from cfg. The header name is lowercased so it matches
// gRPC metadata keys.
func New(cfg config.AuthConfig) *Guard {
	key := cfg.Key()
	return &Guard{
		enabled: cfg.Mode == ModeAPIKey && key != "",
		header:  strings.ToLower(cfg.EffectiveHeader()),
		key:     []byte(key),
	}
}

// Enabled reports whether requests must present a key.
func (g *Guard) Enabled() bool { return g.enabled }

func (g *Guard) valid(presented string) bool {
	return presented != "" && subtle.ConstantTimeCompare([]byte(presented), g.key) == 1
}

// authorize checks the key carried in the incoming gRPC metadata.
func (g *Guard) authorize(ctx context.Context, method string) error {
	if !g.enabled {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(g.header)
	if len(vals) == 0 || !g.valid(vals[0]) {
		slog.Debug("auth: grpc call rejected", "method", method)
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}

// UnaryInterceptor returns a grpc.UnaryServerInterceptor that rejects calls
// without the key with codes.Unauthenticated.
func (g *Guard) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if err := g.authorize(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor is the streaming counterpart of UnaryInterceptor, so
// Health/Watch needs the key too.
func (g *Guard) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := g.authorize(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// ServerOptions returns both interceptors as grpc.NewServer options.
func (g *Guard) ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.UnaryInterceptor(g.UnaryInterceptor()),
		grpc.StreamInterceptor(g.StreamInterceptor()),
	}
}

// Middleware wraps next so requests without the key get 401.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	if !g.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(g.header)
		if presented == "" {
			presented = r.URL.Query().Get(QueryParam)
		}
		if !g.valid(presented) {
			slog.Debug("auth: http request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"}) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}
