// Package types defines the cached entity model, the entity type enumeration,
// the store and remote capability interfaces, and the standard errors for the
// idcache local entity cache.
// See docs/ARCHITECTURE.md § Data Model, § External Interfaces.
package types
