// Package logger provides a slog factory and billing-domain attribute
// helpers, so services log the same identifiers under the same keys
// everywhere.
package logger
