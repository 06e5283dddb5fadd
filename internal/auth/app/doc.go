// Package app composes and runs the auth process boundary.
//
// It opens the SQLite store, assembles the auth service, and hosts the HTTP
// API so identity decisions are made from one source of truth.
package app
