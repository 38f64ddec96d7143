// Package client contains the transport side of the sharekeeper CLI.
//
// # Overview
//
// The package provides:
//  1. The Client interface: one method per server route, exchanging the
//     shapes of package api.
//  2. HTTPClient, its net/http implementation. Once a session is set every
//     request is signed with the session key; requests are never retried.
//  3. Local persistence bootstrap (InitDatabase, RunMigrations) for the
//     session cache, applying embedded goose migrations to SQLite.
//
// # Error Handling
//
// Server errors arrive as *api.Error, which unwraps to the matching common
// sentinel, so callers test them with errors.Is (common.ErrAuthFailed,
// common.ErrWrongParty, ...). Transport failures wrap ErrUnavailable.
package client
