// Package session houses concrete implementations of core.SessionStore.
// The interface itself (and the ChatSession struct) live in the core package
// to centralize domain contracts. Keeping only implementations here prevents
// higher level packages (engine, httpapi) from depending on concrete storage.
//
// Two backends are provided: InMemoryStore for tests and ephemeral use, and
// SQLiteStore for durable session history. Additional backends can be added
// without changing any calling code, only the wiring layer decides which
// implementation to instantiate.
package session
