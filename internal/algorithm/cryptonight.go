package algorithm

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/sha3"
)

// CryptoNight variant identifiers, matching the numbering used by the
// reference implementation.
const (
	cnVariantV7 = 1
	cnVariantR  = 4
)

const (
	cnScratchSize = 2 << 20
	cnIterations  = 512
	cnBlockSize   = 16
)

// cryptonightContext carries no dataset; the memory-hard part of
// CryptoNight lives in the per-engine scratchpad.
type cryptonightContext struct {
	seed    []byte
	variant int
}

func newCryptoNightContext(seed []byte, variant int) (*cryptonightContext, error) {
	if len(seed) == 0 {
		kind := CryptoNightV7
		if variant == cnVariantR {
			kind = CryptoNightR
		}
		return nil, &ContextInitError{Kind: kind, Err: errors.New("empty seed")}
	}
	return &cryptonightContext{
		seed:    append([]byte(nil), seed...),
		variant: variant,
	}, nil
}

func (c *cryptonightContext) Kind() Kind {
	if c.variant == cnVariantR {
		return CryptoNightR
	}
	return CryptoNightV7
}

func (c *cryptonightContext) Seed() []byte        { return c.seed }
func (c *cryptonightContext) MemoryUsage() uint64 { return 0 }

func (c *cryptonightContext) NewEngine() Engine {
	return &cryptonightEngine{
		ctx:        c,
		scratchpad: make([]byte, cnScratchSize),
		block:      make([]byte, cnBlockSize),
	}
}

type cryptonightEngine struct {
	ctx        *cryptonightContext
	scratchpad []byte
	block      []byte
}

func (e *cryptonightEngine) Hash(blob []byte, nonce uint64) [32]byte {
	input := make([]byte, len(blob)+8)
	copy(input, blob)
	binary.LittleEndian.PutUint64(input[len(blob):], nonce)

	// Initial Keccak state over the seed-tweaked input.
	k := sha3.NewLegacyKeccak512()
	k.Write(e.ctx.seed)
	k.Write(input)
	var state [64]byte
	k.Sum(state[:0])

	// Fill the scratchpad from the state, then walk it. The whole pad is
	// rewritten every hash, so the result never depends on previous work.
	blk, err := aes.NewCipher(state[:32])
	if err != nil {
		// Key length is fixed at 32 bytes; this cannot happen.
		panic(err)
	}
	sp := e.scratchpad
	for i := range sp {
		sp[i] = 0
	}
	cipher.NewCTR(blk, state[32:48]).XORKeyStream(sp, sp)

	span := uint64(len(sp) - cnBlockSize)
	tweak := state[48] // variant 1 style tweak byte
	for i := 0; i < cnIterations; i++ {
		addr := binary.LittleEndian.Uint64(state[:8]) % span
		copy(e.block, sp[addr:addr+cnBlockSize])
		blk.Encrypt(e.block, e.block)

		switch e.ctx.variant {
		case cnVariantV7:
			e.block[11] ^= tweak
		case cnVariantR:
			rot := uint(state[i%64]) & 7
			v := binary.LittleEndian.Uint64(e.block[:8])
			binary.LittleEndian.PutUint64(e.block[:8], v<<rot|v>>(64-rot))
		}

		copy(sp[addr:], e.block)
		for j := 0; j < cnBlockSize; j++ {
			state[j] ^= e.block[j]
		}
		binary.LittleEndian.PutUint64(state[8:16], binary.LittleEndian.Uint64(state[8:16])+uint64(i))
	}

	f := sha3.NewLegacyKeccak256()
	f.Write(state[:])
	f.Write(sp[:cnBlockSize])
	var out [32]byte
	f.Sum(out[:0])
	return out
}
