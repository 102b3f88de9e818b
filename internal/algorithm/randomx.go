package algorithm

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pbnjay/memory"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
)

// Dataset sizes follow the reference RandomX memory profile: the full
// dataset for mining, the small one when memory is tight.
const (
	rxFastDatasetSize  = 2080 << 20
	rxLightDatasetSize = 256 << 20

	rxScratchSize = 2 << 20
	rxDatasetLine = 64
	rxMixRounds   = 64
)

// argon2id parameters for deriving the dataset key from the seed. The
// memory-hard derivation makes the dataset expensive to regenerate.
const (
	rxArgonTime    = 3
	rxArgonMemory  = 8 << 10 // KiB
	rxArgonThreads = 2
)

type randomxContext struct {
	seed    []byte
	mode    Mode
	dataset []byte
}

func newRandomXContext(seed []byte, mode Mode) (*randomxContext, error) {
	size := uint64(rxFastDatasetSize)
	if mode == LightMode {
		size = rxLightDatasetSize
	}
	return newRandomXContextSized(seed, mode, size)
}

// newRandomXContextSized exists so tests can build a context without
// touching gigabytes of memory.
func newRandomXContextSized(seed []byte, mode Mode, size uint64) (*randomxContext, error) {
	if len(seed) == 0 {
		return nil, &ContextInitError{Kind: RandomX, Err: errors.New("empty seed")}
	}
	if size < rxDatasetLine*2 {
		return nil, &ContextInitError{Kind: RandomX, Err: fmt.Errorf("dataset size %d too small", size)}
	}
	if free := memory.FreeMemory(); free > 0 && free < size+rxScratchSize {
		return nil, &ContextInitError{
			Kind: RandomX,
			Err:  fmt.Errorf("insufficient memory: need %d bytes, %d free", size+rxScratchSize, free),
		}
	}

	key := argon2.IDKey(seed, []byte("kagami/randomx/v1"), rxArgonTime, rxArgonMemory, rxArgonThreads, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &ContextInitError{Kind: RandomX, Err: err}
	}

	// Expand the derived key over the whole dataset. This is the slow,
	// one-off part of an algorithm or seed switch.
	dataset := make([]byte, size)
	iv := make([]byte, aes.BlockSize)
	cipher.NewCTR(block, iv).XORKeyStream(dataset, dataset)

	return &randomxContext{
		seed:    append([]byte(nil), seed...),
		mode:    mode,
		dataset: dataset,
	}, nil
}

func (c *randomxContext) Kind() Kind          { return RandomX }
func (c *randomxContext) Seed() []byte        { return c.seed }
func (c *randomxContext) MemoryUsage() uint64 { return uint64(len(c.dataset)) }

func (c *randomxContext) NewEngine() Engine {
	return &randomxEngine{
		ctx:        c,
		scratchpad: make([]byte, rxScratchSize),
	}
}

// randomxEngine holds the per-worker scratchpad. The dataset is read-only
// and shared; everything written during a hash lands in the scratchpad.
type randomxEngine struct {
	ctx        *randomxContext
	scratchpad []byte
}

func (e *randomxEngine) Hash(blob []byte, nonce uint64) [32]byte {
	input := make([]byte, len(blob)+8)
	copy(input, blob)
	binary.LittleEndian.PutUint64(input[len(blob):], nonce)

	state := blake2b.Sum512(input)
	ds := e.ctx.dataset
	sp := e.scratchpad
	dsSpan := uint64(len(ds) - rxDatasetLine)
	spSpan := uint64(len(sp) - rxDatasetLine)

	h, _ := blake2b.New512(nil)
	for r := 0; r < rxMixRounds; r++ {
		dsOff := binary.LittleEndian.Uint64(state[(r%7)*8:]) % dsSpan
		spOff := binary.LittleEndian.Uint64(state[56:]) % spSpan
		line := ds[dsOff : dsOff+rxDatasetLine]
		work := sp[spOff : spOff+rxDatasetLine]
		for i := 0; i < rxDatasetLine; i++ {
			work[i] = line[i] ^ state[i]
		}
		h.Reset()
		h.Write(state[:])
		h.Write(work)
		h.Sum(state[:0])
	}

	return blake2b.Sum256(state[:])
}
