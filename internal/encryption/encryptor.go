// Package encryption protects mirror snapshot exports at rest. The mirror
// itself is a derived read replica; exports of it still carry user content
// and leave the machine, so they are encrypted.
package encryption

import "io"

// Encryptor manages a key pair and encrypts snapshot streams.
type Encryptor interface {
	// Setup generates a new key pair, protecting the private key with the
	// given passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w using the
	// public key. No passphrase is needed to encrypt.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key with the passphrase and returns a
	// context that can decrypt snapshot streams.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether the key pair exists.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key.
type DecryptionContext interface {
	// Decrypt reads ciphertext from r and writes plaintext to w.
	Decrypt(r io.Reader, w io.Writer) error
}
