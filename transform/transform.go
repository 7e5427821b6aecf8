// Package transform applies optional compression and encryption to serialized
// values before they cross into a tier, and reverses them on the way out.
//
// Order is fixed: compress, then encrypt (write path); decrypt, then
// decompress (read path). Compression only fires once the payload reaches the
// configured threshold; small values are stored as-is. Both transforms are
// configured per namespace; the flags recording what was actually applied
// travel with each entry (internal/wire), so reads stay correct across
// configuration changes.
//
// Corrupt or truncated payloads are rejected with *Error rather than
// returning garbage; the engine evicts the offending entry and reports a miss.
package transform

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/unkn0wn-root/tiercache/internal/wire"
)

// Error reports a payload that could not be reversed (truncated ciphertext,
// failed authentication, corrupt compressed block). It is a cache-integrity
// failure, never user input.
type Error struct {
	Stage string // "decrypt" or "decompress"
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transform: %s failed: %v", e.Stage, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Pipeline holds the per-namespace transform configuration. The zero value is
// a pass-through. Construct with New so key material is validated eagerly.
type Pipeline struct {
	threshold int
	aead      cipher.AEAD
}

type Config struct {
	// CompressThreshold enables s2 compression for payloads of at least this
	// many bytes. 0 disables compression.
	CompressThreshold int

	// EncryptionKey enables ChaCha20-Poly1305 when set. Must be exactly
	// chacha20poly1305.KeySize (32) bytes.
	EncryptionKey []byte
}

// New validates the configuration and builds the pipeline. An invalid key is
// a startup failure, never deferred to first use.
func New(cfg Config) (*Pipeline, error) {
	if cfg.CompressThreshold < 0 {
		return nil, fmt.Errorf("transform: negative compress threshold %d", cfg.CompressThreshold)
	}
	p := &Pipeline{threshold: cfg.CompressThreshold}
	if cfg.EncryptionKey != nil {
		if len(cfg.EncryptionKey) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("transform: encryption key must be %d bytes, got %d",
				chacha20poly1305.KeySize, len(cfg.EncryptionKey))
		}
		aead, err := chacha20poly1305.New(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("transform: %w", err)
		}
		p.aead = aead
	}
	return p, nil
}

// Passthrough reports whether the pipeline never touches payloads.
func (p *Pipeline) Passthrough() bool { return p.threshold == 0 && p.aead == nil }

// Apply runs the write-path transforms and reports which ones fired.
func (p *Pipeline) Apply(b []byte) ([]byte, wire.Flags, error) {
	var flags wire.Flags

	if p.threshold > 0 && len(b) >= p.threshold {
		b = s2.Encode(nil, b)
		flags |= wire.FlagCompressed
	}

	if p.aead != nil {
		nonce := make([]byte, p.aead.NonceSize(), p.aead.NonceSize()+len(b)+p.aead.Overhead())
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return nil, 0, fmt.Errorf("transform: nonce: %w", err)
		}
		b = p.aead.Seal(nonce, nonce, b, nil)
		flags |= wire.FlagEncrypted
	}

	return b, flags, nil
}

// Reverse undoes the transforms recorded in flags. An entry encrypted under a
// namespace that no longer has a key (or the wrong key) fails here and gets
// evicted upstream.
func (p *Pipeline) Reverse(b []byte, flags wire.Flags) ([]byte, error) {
	if flags.Encrypted() {
		if p.aead == nil {
			return nil, &Error{Stage: "decrypt", Cause: fmt.Errorf("entry encrypted but namespace has no key")}
		}
		ns := p.aead.NonceSize()
		if len(b) < ns {
			return nil, &Error{Stage: "decrypt", Cause: fmt.Errorf("ciphertext shorter than nonce")}
		}
		plain, err := p.aead.Open(nil, b[:ns], b[ns:], nil)
		if err != nil {
			return nil, &Error{Stage: "decrypt", Cause: err}
		}
		b = plain
	}

	if flags.Compressed() {
		out, err := s2.Decode(nil, b)
		if err != nil {
			return nil, &Error{Stage: "decompress", Cause: err}
		}
		b = out
	}

	return b, nil
}
