// Package domain defines core data models and interfaces shared across the app.
// It contains plain types (keys, records, bundles), the error kinds every
// layer reports, and the contracts (interfaces) between components.
package domain
