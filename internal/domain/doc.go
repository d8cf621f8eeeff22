// Package domain holds the core model types and interfaces shared across
// the engine, dispatcher, and transport adapters.
package domain
