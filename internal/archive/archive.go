// Package archive exports scan history as encrypted JSON-lines objects and
// stores them in a configurable target.
package archive

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Store.Get for a missing key.
var ErrNotFound = errors.New("archive object not found")

// Store holds opaque archive objects by key.
type Store interface {
	Name() string
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string, w io.Writer) error
	// List returns every key under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	ValidateSetup(ctx context.Context) error
}

// Encryptor seals archives with a public key. Unlock needs the passphrase
// that protects the private key.
type Encryptor interface {
	Setup(passphrase string) error
	Encrypt(r io.Reader, w io.Writer) error
	Unlock(passphrase string) (DecryptionContext, error)
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
