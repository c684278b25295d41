// Package password provides salted, iterated password hashing for stored
// chat credentials.
//
// Hashes are PBKDF2-HMAC-SHA256 with a per-record random salt. Verification
// recomputes the hash with the stored salt and iteration count and compares
// in constant time, so records created under an older iteration count keep
// verifying after the default is raised.
package password
