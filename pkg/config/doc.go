// Package config loads client settings from a YAML file.
//
// A minimal file names the entity and its owner key:
//
//	entity_id: sensor-01
//	owner_api_key: 6d1f...
//
// Durations use Go syntax ("30s", "1m"). Fields left out keep the values
// from Default. Command-line flags are applied on top by the caller.
package config
