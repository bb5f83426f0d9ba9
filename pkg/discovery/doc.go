// Package discovery implements mDNS/DNS-SD discovery of IDEAM middleware
// gateways on the local network.
//
// A gateway (or a LAN proxy in front of one) advertises the _ideam._tcp
// service type in the "local" domain. Instance names are free-form and
// user-facing. TXT records describe how to reach the HTTP API:
//
//	path  API path prefix (default "/")
//	tls   "1" for https, "0" for plain http (default "1")
//	ver   API version string (optional)
//	name  display name (optional)
//
// Browsing aggregates entries by instance name, merging addresses reported
// on different interfaces into a single Gateway. Gateway.BaseURL yields a
// value suitable for entity.Identity.SetBaseURL.
package discovery
