package bitgrind

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceScan finds the first sequential nonce whose digest reaches the
// target, hashing independently of the Hasher under test.
func referenceScan(prev, identity string, target int) (nonce, hash string) {
	for i := 0; ; i++ {
		candidate := strconv.Itoa(i)
		sum := sha256.Sum256([]byte(prev + identity + candidate))
		if LeadingZeroBits(sum[:]) >= target {
			return candidate, hex.EncodeToString(sum[:])
		}
	}
}

func TestWorkerFindsFirstQualifyingNonce(t *testing.T) {
	t.Parallel()

	prev := strings.Repeat("0", 64)
	const target = 8
	wantNonce, wantHash := referenceScan(prev, "alice", target)

	events := make(chan Event, 1024)
	gen, err := NewSequentialGenerator(0, 1, 0)
	require.NoError(t, err)

	worker := NewWorker(0, "alice", target, gen, HashPointer{PreviousHash: prev},
		events, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	deadline := time.After(30 * time.Second)
	lastBest := 0
	for {
		select {
		case ev := <-events:
			switch ev.Kind {
			case EventUpdate:
				// Local bests below the ceiling arrive in strictly
				// increasing difficulty order.
				assert.Greater(t, ev.Difficulty, lastBest)
				assert.Less(t, ev.Difficulty, target)
				lastBest = ev.Difficulty
			case EventFound:
				assert.Equal(t, wantNonce, ev.Nonce)
				assert.Equal(t, wantHash, ev.Hash)
				assert.GreaterOrEqual(t, ev.Difficulty, target)
				assert.Equal(t, uint64(0), ev.Epoch)
				return
			}
		case <-deadline:
			t.Fatal("worker did not reach the target difficulty")
		}
	}
}

func TestWorkerPointerChangeResetsState(t *testing.T) {
	t.Parallel()

	first := HashPointer{PreviousHash: strings.Repeat("0", 64), Difficulty: 3}
	gen, err := NewSequentialGenerator(0, 1, 0)
	require.NoError(t, err)
	worker := NewWorker(0, "alice", 64, gen, first, make(chan Event, 1), time.Hour, zerolog.Nop())

	next := HashPointer{PreviousHash: strings.Repeat("b", 64), Nonce: "9", Difficulty: 5}
	worker.applyPointer(PointerChange{Epoch: 1, Pointer: next})
	assert.Equal(t, uint64(1), worker.epoch)
	assert.Equal(t, next, worker.pointer)
	assert.Equal(t, 5, worker.best)

	// A redelivery of the same epoch is a no-op.
	worker.best = 20
	worker.applyPointer(PointerChange{Epoch: 1, Pointer: first})
	assert.Equal(t, next, worker.pointer)
	assert.Equal(t, 20, worker.best)
}

func TestWorkerTagsEventsWithEpoch(t *testing.T) {
	t.Parallel()

	events := make(chan Event, 4096)
	gen, err := NewNonceGenerator(StrategyRandom, 0, 1)
	require.NoError(t, err)

	worker := NewWorker(0, "alice", HashBits, gen,
		HashPointer{PreviousHash: strings.Repeat("0", 64)},
		events, time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	worker.deliverPointer(PointerChange{
		Epoch:   1,
		Pointer: HashPointer{PreviousHash: strings.Repeat("c", 64)},
	})

	// Per-worker ordering: once the first epoch-1 event arrives, nothing
	// tagged with epoch 0 may follow.
	deadline := time.After(30 * time.Second)
	sawNewEpoch := false
	for i := 0; i < 200; i++ {
		select {
		case ev := <-events:
			if ev.Epoch == 1 {
				sawNewEpoch = true
			} else if sawNewEpoch {
				t.Fatalf("epoch 0 event of kind %s arrived after an epoch 1 event", ev.Kind)
			}
		case <-deadline:
			require.True(t, sawNewEpoch, "worker never moved to the new epoch")
			return
		}
	}
	assert.True(t, sawNewEpoch)
}

type failingGenerator struct{}

func (failingGenerator) Next() (string, uint64, error) {
	return "", 0, errors.New("entropy source exhausted")
}

func (failingGenerator) Strategy() Strategy { return StrategyRandom }

func TestWorkerReportsFatalError(t *testing.T) {
	t.Parallel()

	events := make(chan Event, 16)
	worker := NewWorker(3, "alice", 64, failingGenerator{},
		HashPointer{PreviousHash: strings.Repeat("0", 64)},
		events, time.Hour, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		worker.Run(context.Background())
		close(done)
	}()

	select {
	case ev := <-events:
		assert.Equal(t, EventError, ev.Kind)
		assert.Equal(t, 3, ev.WorkerID)
		assert.Error(t, ev.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("no error event received")
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker kept running after a fatal error")
	}
}

func TestWorkerSuspendsAfterFound(t *testing.T) {
	t.Parallel()

	prev := strings.Repeat("0", 64)
	events := make(chan Event, 1024)
	gen, err := NewSequentialGenerator(0, 1, 0)
	require.NoError(t, err)

	// Target 1 is found almost immediately.
	worker := NewWorker(0, "alice", 1, gen, HashPointer{PreviousHash: prev},
		events, time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	var found Event
	deadline := time.After(30 * time.Second)
	for found.Kind != EventFound {
		select {
		case found = <-events:
		case <-deadline:
			t.Fatal("worker never reported a find")
		}
	}

	// Suspended: no further events while the coordinator deliberates.
	select {
	case ev := <-events:
		t.Fatalf("worker emitted %s while suspended", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}

	// A pointer change resumes scanning in the new epoch.
	worker.deliverPointer(PointerChange{
		Epoch:   1,
		Pointer: HashPointer{PreviousHash: strings.Repeat("d", 64), Difficulty: 0},
	})
	select {
	case ev := <-events:
		assert.Equal(t, uint64(1), ev.Epoch)
	case <-time.After(30 * time.Second):
		t.Fatal("worker did not resume after the pointer change")
	}
}
