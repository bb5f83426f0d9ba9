// Package persistence stores the credentials an entity acquires at runtime.
//
// The entity API key is issued once, at registration, and cannot be
// recovered from the middleware afterwards. CredentialStore keeps it, along
// with the base URL and the keys bound for subscription, in a JSON file so
// a restarted client resumes with the same identity.
package persistence
