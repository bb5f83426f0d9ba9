// Package entity holds the identity of an IDEAM entity.
//
// An entity is a device or application registered with the middleware. Its
// Identity carries the entity ID and the owner API key used for
// registration, the base URL of the middleware, and the entity API key the
// middleware issues on registration. All operations other than registration
// need the entity API key; RequireEntityKey fails fast with an
// AUTH_NOT_READY error when it is missing, so no request is ever sent
// without credentials.
//
// KeySet tracks the device keys an entity has bound to. The subscribe
// endpoint takes no key list: the server remembers bindings, so the set is
// bookkeeping for the caller and for persistence.
package entity
