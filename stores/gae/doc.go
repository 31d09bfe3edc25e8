//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of the
// tokenlife TokenStore. It suits clients running on Google Cloud Platform
// (workers, schedulers) that need their session to survive restarts.
//
// # Datastore Kinds
//
// The package uses one Datastore kind:
//   - SessionTokens: one entity per session holding the access token,
//     refresh token and serialized user profile
//
// # Namespacing
//
// Stores support Datastore namespaces for multi-tenant applications:
//
//	store := gae.NewTokenStore(client, "tenant-123", "worker-1")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.NewTokenStore(client, "", "default")
package gae
