// Package canon provides the canonical value model used for content
// addressing.
//
// Values are restricted to strings, 64-bit integers, booleans, arrays and
// objects. Floats and null are not representable, so every Value has exactly
// one canonical JSON encoding (RFC 8785): object keys ordered by UTF-16 code
// units, strings NFC-normalized, no HTML escaping.
//
// Hashes are computed with domain separation:
//
//	SHA256(domain || 0x00 || canonical-bytes)
//
// Domains carry a version suffix ("zkfold/message/v1") so the algorithm can
// be migrated without ambiguity.
package canon
