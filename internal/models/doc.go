// Package models defines the core domain models for the pocketledger tracker.
//
// # Identity
//
// Every row on the device belongs to exactly one owner, the active Identity.
// A first launch creates an anonymous Guest identity; signing in replaces it
// with an Authenticated identity and the guest's rows are re-keyed to it.
//
// # Ledger entities
//
//   - Currency: ISO-4217 reference row, seeded per identity
//   - Category: user-orderable income/expense bucket, optionally nested
//   - Account: wallet or bank account, also user-orderable
//   - Budget: spending limit for a category over a period
//   - Transaction: money movement on an account
//   - Attachment / TransactionAttachment: receipts linked to transactions
//   - Preference: small per-identity settings
//
// Relationships are expressed with ID strings, never pointers. Amounts are
// decimal strings on disk and decimal.Decimal in memory.
package models
