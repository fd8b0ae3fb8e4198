package bitgrind

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// signalCheckInterval is how many hashes a worker runs between polls of its
// control channels. Staleness after a pointer change is bounded to this
// many candidates.
const signalCheckInterval = 256

// Worker scans an unbounded nonce space against the current epoch pointer.
// It owns one nonce generator and its local best; the coordinator only
// observes it through events.
type Worker struct {
	id               int
	identity         string
	target           int
	gen              NonceGenerator
	events           chan<- Event
	pointerCh        chan PointerChange
	progressInterval time.Duration
	log              zerolog.Logger

	epoch   uint64
	pointer HashPointer
	best    int
}

// NewWorker creates a worker scanning from the given pointer in epoch 0.
func NewWorker(id int, identity string, target int, gen NonceGenerator,
	pointer HashPointer, events chan<- Event, progressInterval time.Duration,
	logger zerolog.Logger) *Worker {

	return &Worker{
		id:               id,
		identity:         identity,
		target:           target,
		gen:              gen,
		events:           events,
		pointerCh:        make(chan PointerChange, 1),
		progressInterval: progressInterval,
		log:              logger.With().Int("worker", id).Logger(),
		pointer:          pointer,
		best:             pointer.Difficulty,
	}
}

// deliverPointer hands a pointer change to the worker without ever blocking
// the caller. The channel holds a single element and the latest change
// wins.
func (w *Worker) deliverPointer(pc PointerChange) {
	for {
		select {
		case w.pointerCh <- pc:
			return
		default:
			select {
			case <-w.pointerCh:
			default:
			}
		}
	}
}

// Run scans until ctx is cancelled. Fatal local errors are reported as an
// Error event rather than returned; only the coordinator decides when the
// pool stops.
func (w *Worker) Run(ctx context.Context) {
	w.log.Debug().
		Uint64("epoch", w.epoch).
		Int("difficulty", w.pointer.Difficulty).
		Str("strategy", string(w.gen.Strategy())).
		Msg("scanning")

	var pending uint64
	lastReport := time.Now()

	for {
		select {
		case <-ctx.Done():
			w.flushProgress(pending)
			return
		case pc := <-w.pointerCh:
			w.applyPointer(pc)
		default:
		}

		for i := 0; i < signalCheckInterval; i++ {
			nonce, _, err := w.gen.Next()
			if err != nil {
				w.send(ctx, Event{Kind: EventError, WorkerID: w.id, Epoch: w.epoch, Err: err})
				return
			}

			hash, difficulty := Score(w.pointer.PreviousHash, w.identity, nonce)
			pending++
			if difficulty <= w.best {
				continue
			}
			w.best = difficulty

			ev := Event{
				WorkerID:   w.id,
				Epoch:      w.epoch,
				Nonce:      nonce,
				Hash:       hash,
				Difficulty: difficulty,
			}
			if difficulty >= w.target {
				// The ceiling is reached, but a concurrently-found higher
				// result from another worker may still win. Report and
				// suspend until the coordinator decides.
				ev.Kind = EventFound
				if !w.send(ctx, ev) {
					w.flushProgress(pending)
					return
				}
				if !w.awaitInstruction(ctx) {
					w.flushProgress(pending)
					return
				}
				break
			}
			ev.Kind = EventUpdate
			if !w.send(ctx, ev) {
				w.flushProgress(pending)
				return
			}
		}

		if pending > 0 && time.Since(lastReport) >= w.progressInterval {
			if !w.send(ctx, Event{Kind: EventProgress, WorkerID: w.id, Epoch: w.epoch, Count: pending}) {
				return
			}
			pending = 0
			lastReport = time.Now()
		}
	}
}

// send delivers an event unless the pool is shutting down.
func (w *Worker) send(ctx context.Context, ev Event) bool {
	select {
	case w.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// flushProgress reports any unreported candidate count on the way out, if
// the coordinator is still listening.
func (w *Worker) flushProgress(pending uint64) {
	if pending == 0 {
		return
	}
	select {
	case w.events <- Event{Kind: EventProgress, WorkerID: w.id, Epoch: w.epoch, Count: pending}:
	default:
	}
}

// awaitInstruction parks the worker after a Found until the coordinator
// either advances the epoch or shuts the pool down.
func (w *Worker) awaitInstruction(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case pc := <-w.pointerCh:
		w.applyPointer(pc)
		return true
	}
}

// applyPointer moves the worker into a new search epoch: the local best
// resets to the new pointer's difficulty and any in-flight candidate is
// abandoned. The generator keeps its position.
func (w *Worker) applyPointer(pc PointerChange) {
	if pc.Epoch == w.epoch {
		return
	}
	w.epoch = pc.Epoch
	w.pointer = pc.Pointer
	w.best = pc.Pointer.Difficulty
	w.log.Debug().
		Uint64("epoch", w.epoch).
		Int("difficulty", w.best).
		Msg("pointer changed")
}
