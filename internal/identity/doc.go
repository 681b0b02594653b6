// Package identity derives stable identifiers: RFC 8785 canonical JSON,
// domain-separated SHA-256 fingerprints for duplicate detection, and
// UUIDv7 record ids.
package identity
