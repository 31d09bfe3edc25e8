//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based TokenStore.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and suits clients that already keep local state in a relational database.
//
// # Database Schema
//
// The package auto-migrates one table:
//   - session_tokens: one row per namespace holding the access token,
//     refresh token and serialized user profile
//
// Keeping the three entries in one row makes Save and Clear single-statement
// operations, so readers never observe half a session.
//
// # Usage
//
//	db, _ := gorm.Open(sqlite.Open("client.db"), &gorm.Config{})
//	_ = gormstore.AutoMigrate(db)
//	store := gormstore.NewTokenStore(db, "myapp")
package gorm
