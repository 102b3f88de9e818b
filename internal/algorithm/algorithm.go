package algorithm

import (
	"fmt"
	"strings"
)

// Kind identifies a supported proof-of-work algorithm.
type Kind uint8

const (
	RandomX Kind = iota
	CryptoNightV7
	CryptoNightR
)

// String returns the canonical configuration name of the algorithm.
func (k Kind) String() string {
	switch k {
	case RandomX:
		return "randomx"
	case CryptoNightV7:
		return "cryptonight-v7"
	case CryptoNightR:
		return "cryptonight-r"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Deprecated reports whether the algorithm is kept only for legacy chains.
func (k Kind) Deprecated() bool {
	return k == CryptoNightV7 || k == CryptoNightR
}

// ParseKind parses an algorithm name as it appears in configuration files
// and CLI flags. Short aliases from other miners are accepted.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "randomx", "rx":
		return RandomX, nil
	case "cryptonight-v7", "cnv7":
		return CryptoNightV7, nil
	case "cryptonight-r", "cnr":
		return CryptoNightR, nil
	default:
		return 0, fmt.Errorf("unknown algorithm: %q", s)
	}
}

// Mode selects the context memory profile.
type Mode uint8

const (
	// FastMode trades memory for throughput (full dataset).
	FastMode Mode = iota
	// LightMode keeps the dataset small at a hashrate cost.
	LightMode
)

func (m Mode) String() string {
	if m == LightMode {
		return "light"
	}
	return "fast"
}

// Context is the shared, read-only state an algorithm needs before it can
// hash. Building one can take seconds and allocate gigabytes; the result is
// immutable and safe to share across every worker bound to the same seed.
type Context interface {
	Kind() Kind
	Seed() []byte
	// MemoryUsage returns the bytes held by the shared context.
	MemoryUsage() uint64
	// NewEngine allocates per-worker scratch bound to this context. Cheap.
	NewEngine() Engine
}

// Engine computes digests using private mutable scratch memory. An Engine
// must never be shared between goroutines.
type Engine interface {
	// Hash computes the 32-byte digest of blob with nonce appended
	// little-endian. The result depends only on the bound context's seed,
	// the blob and the nonce.
	Hash(blob []byte, nonce uint64) [32]byte
}

// ContextInitError reports a failure to build a shared algorithm context,
// typically an invalid seed or insufficient free memory.
type ContextInitError struct {
	Kind Kind
	Err  error
}

func (e *ContextInitError) Error() string {
	return fmt.Sprintf("%s context init failed: %v", e.Kind, e.Err)
}

func (e *ContextInitError) Unwrap() error { return e.Err }

// NewContext builds the shared context for the given algorithm and seed.
func NewContext(kind Kind, seed []byte, mode Mode) (Context, error) {
	switch kind {
	case RandomX:
		return newRandomXContext(seed, mode)
	case CryptoNightV7:
		return newCryptoNightContext(seed, cnVariantV7)
	case CryptoNightR:
		return newCryptoNightContext(seed, cnVariantR)
	default:
		return nil, &ContextInitError{Kind: kind, Err: fmt.Errorf("unsupported algorithm id %d", kind)}
	}
}

// VerifyTarget reports whether digest, interpreted as a little-endian
// 256-bit unsigned integer, is numerically below target. This comparison,
// not the raw digest bytes, decides share validity.
func VerifyTarget(digest, target [32]byte) bool {
	for i := 31; i >= 0; i-- {
		if digest[i] != target[i] {
			return digest[i] < target[i]
		}
	}
	return false
}
