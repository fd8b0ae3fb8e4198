package bitgrind

import (
	"crypto/rand"
	"strconv"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// Strategy selects how candidate nonces are produced.
type Strategy string

const (
	// StrategySequential interleaves the numeric nonce space across workers
	// so that coverage is disjoint and deterministic.
	StrategySequential Strategy = "sequential"

	// StrategyRandom draws high-entropy base58 tokens. Not restartable.
	StrategyRandom Strategy = "random"

	// StrategyRandomNumeric draws random digit strings, for ledger services
	// that require a compact textual nonce.
	StrategyRandomNumeric Strategy = "numeric"
)

// ParseStrategy converts a flag value into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySequential, StrategyRandom, StrategyRandomNumeric:
		return Strategy(s), nil
	}
	return "", errors.Errorf("unknown nonce strategy %q", s)
}

// NonceGenerator produces candidate nonce tokens for a single worker.
// Next returns the token together with a monotonically increasing local
// sequence number. Implementations are swappable without changing Worker
// or Coordinator logic.
type NonceGenerator interface {
	Next() (token string, seq uint64, err error)
	Strategy() Strategy
}

// NewNonceGenerator builds a generator for the given strategy. workerID and
// workerCount partition the space for the sequential strategy and are
// ignored by the random ones.
func NewNonceGenerator(strategy Strategy, workerID, workerCount int) (NonceGenerator, error) {
	switch strategy {
	case StrategySequential:
		return NewSequentialGenerator(workerID, workerCount, 0)
	case StrategyRandom:
		return &randomGenerator{}, nil
	case StrategyRandomNumeric:
		return &randomNumericGenerator{}, nil
	}
	return nil, errors.Errorf("unknown nonce strategy %q", strategy)
}

// sequentialGenerator yields workerID + iteration*workerCount in decimal.
// Workers never test the same candidate twice, and a worker can resume from
// any iteration.
type sequentialGenerator struct {
	next   uint64
	stride uint64
	seq    uint64
}

// NewSequentialGenerator creates a sequential generator resuming at the
// given iteration.
func NewSequentialGenerator(workerID, workerCount int, startIteration uint64) (NonceGenerator, error) {
	if workerID < 0 || workerCount < 1 || workerID >= workerCount {
		return nil, errors.Errorf("invalid worker slot %d/%d", workerID, workerCount)
	}
	stride := uint64(workerCount)
	return &sequentialGenerator{
		next:   uint64(workerID) + startIteration*stride,
		stride: stride,
		seq:    startIteration,
	}, nil
}

func (g *sequentialGenerator) Next() (string, uint64, error) {
	token := strconv.FormatUint(g.next, 10)
	seq := g.seq
	g.next += g.stride
	g.seq++
	return token, seq, nil
}

func (g *sequentialGenerator) Strategy() Strategy { return StrategySequential }

// randomTokenBytes gives 64 bits of entropy per token; collisions are
// negligible at any realistic hash rate.
const randomTokenBytes = 8

type randomGenerator struct {
	seq uint64
}

func (g *randomGenerator) Next() (string, uint64, error) {
	var buf [randomTokenBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", 0, errors.Wrap(err, "reading random nonce bytes")
	}
	seq := g.seq
	g.seq++
	return base58.Encode(buf[:]), seq, nil
}

func (g *randomGenerator) Strategy() Strategy { return StrategyRandom }

// randomNumericDigits keeps the token compact while leaving ~60 bits of
// entropy.
const randomNumericDigits = 18

type randomNumericGenerator struct {
	seq uint64
}

func (g *randomNumericGenerator) Next() (string, uint64, error) {
	var buf [randomNumericDigits]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", 0, errors.Wrap(err, "reading random nonce bytes")
	}
	digits := make([]byte, randomNumericDigits)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	seq := g.seq
	g.seq++
	return string(digits), seq, nil
}

func (g *randomNumericGenerator) Strategy() Strategy { return StrategyRandomNumeric }
