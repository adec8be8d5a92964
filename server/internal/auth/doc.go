// Package auth guards the gRPC and HTTP surfaces of pulsewatch-server with a
// shared API key.
//
// New(cfg) builds a Guard from the server auth configuration. The key is
// read from the environment variable named by key_env. When mode is not
// "apikey" or the key is empty the guard lets everything through, which is
// the usual setup for local development.
//
// UnaryInterceptor reads the key from gRPC metadata; Middleware reads it from
// the configured HTTP header, falling back to the api_key query parameter
// because browser WebSocket clients cannot set headers.
package auth
