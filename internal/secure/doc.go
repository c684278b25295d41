// Package secure implements the symmetric confidentiality layer applied to
// every post-handshake chat frame.
//
// A frame key is derived from a secret shared out-of-band between the server
// and its clients: PBKDF2-HMAC-SHA256 stretches the secret with a
// configurable salt and iteration count, and HKDF-SHA256 expands the result
// into a key bound to the frame format. Frames are sealed with
// XChaCha20-Poly1305 under a fresh random nonce, so sealing the same
// plaintext twice yields different tokens.
//
// Token layout
//
//	version (1 byte) | nonce (24 bytes) | ciphertext | tag (16 bytes)
//
// The version byte is authenticated as associated data. Any truncated,
// modified, or foreign token fails to open with ErrIntegrity.
package secure
