package bitgrind

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrAllWorkersFailed is returned by Run when every worker in the pool has
// reported a fatal error.
var ErrAllWorkersFailed = errors.New("all workers failed")

// proposal tracks a block through the chain-extension state machine.
type proposal struct {
	block *Block
	epoch uint64
}

type submitOutcome struct {
	prop   *proposal
	status SubmitStatus
	reason string
	err    error
}

// Coordinator owns the worker pool, the single authoritative pointer and
// the chain-extension state machine. All coordination happens through the
// worker event channel and per-worker pointer broadcasts; workers share no
// mutable state.
type Coordinator struct {
	cfg       *Config
	ledger    *Ledger
	submitter Submitter
	metrics   *Metrics
	log       zerolog.Logger
	sessionID string

	events  chan Event
	workers []*Worker
	dead    map[int]bool

	epoch   uint64
	pointer HashPointer

	inflight *proposal
	pending  *proposal

	hashes       uint64
	windowHashes uint64
	accepted     int64
	start        time.Time
	elapsed      time.Duration
}

// NewCoordinator builds the pool. The pointer is the chain tip to extend,
// either resumed from the ledger or constructed from an explicit starting
// hash.
func NewCoordinator(cfg *Config, pointer HashPointer, ledger *Ledger,
	submitter Submitter, metrics *Metrics, logger zerolog.Logger) (*Coordinator, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, errors.New("coordinator requires a ledger")
	}
	if submitter == nil {
		return nil, errors.New("coordinator requires a submitter")
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	sessionID := uuid.NewString()
	logger = logger.With().Str("session", sessionID).Logger()

	c := &Coordinator{
		cfg:       cfg,
		ledger:    ledger,
		submitter: submitter,
		metrics:   metrics,
		log:       logger,
		sessionID: sessionID,
		events:    make(chan Event, cfg.EventBuffer),
		dead:      make(map[int]bool),
		pointer:   pointer,
	}

	for i := 0; i < cfg.Workers; i++ {
		gen, err := NewNonceGenerator(cfg.Strategy, i, cfg.Workers)
		if err != nil {
			return nil, err
		}
		c.workers = append(c.workers, NewWorker(i, cfg.Identity, cfg.TargetDifficulty,
			gen, pointer, c.events, cfg.ProgressInterval, logger))
	}
	return c, nil
}

// SessionID returns the id carried by the result artifact and all session
// logs.
func (c *Coordinator) SessionID() string { return c.sessionID }

// Stats snapshots the session throughput counters. Safe to call once Run
// has returned.
func (c *Coordinator) Stats() Stats {
	elapsed := c.elapsed
	if elapsed == 0 && !c.start.IsZero() {
		elapsed = time.Since(c.start)
	}
	return Stats{HashesTried: c.hashes, BlocksAccepted: c.accepted, Elapsed: elapsed}
}

// Run drives the search until the difficulty ceiling is reached or ctx is
// cancelled. On success it returns the final result record; a cancelled
// context returns ctx's error. All workers are joined before Run returns,
// so the ledger is never left mid-write.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	c.start = time.Now()
	defer func() { c.elapsed = time.Since(c.start) }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range c.workers {
		w := w
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	c.log.Info().
		Int("workers", len(c.workers)).
		Int("target", c.cfg.TargetDifficulty).
		Str("previous", c.pointer.PreviousHash).
		Int("difficulty", c.pointer.Difficulty).
		Msg("search started")

	submitCh := make(chan submitOutcome, 1)
	rate := time.NewTicker(c.cfg.HashRateInterval)
	defer rate.Stop()

	var (
		result *Result
		runErr error
	)

loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case ev := <-c.events:
			res, err := c.handleEvent(ctx, ev, submitCh)
			if err != nil {
				runErr = err
				break loop
			}
			if res != nil {
				result = res
				break loop
			}
		case out := <-submitCh:
			if err := c.handleSubmitOutcome(ctx, out, submitCh); err != nil {
				runErr = err
				break loop
			}
		case <-rate.C:
			c.logHashRate()
		}
	}

	cancel()
	c.drainAndJoin(g)
	return result, runErr
}

// drainAndJoin keeps consuming worker events while the pool winds down so
// no worker blocks on a final send.
func (c *Coordinator) drainAndJoin(g *errgroup.Group) {
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	for {
		select {
		case ev := <-c.events:
			if ev.Kind == EventProgress {
				c.hashes += ev.Count
			}
		case <-done:
			return
		}
	}
}

func (c *Coordinator) handleEvent(ctx context.Context, ev Event, submitCh chan submitOutcome) (*Result, error) {
	if c.dead[ev.WorkerID] && ev.Kind != EventError {
		return nil, nil
	}
	switch ev.Kind {
	case EventProgress:
		c.addProgress(ev.Count)
		return nil, nil
	case EventError:
		return nil, c.handleWorkerError(ev)
	case EventUpdate:
		return c.handleUpdate(ctx, ev, submitCh)
	case EventFound:
		if !c.qualifies(ev) {
			c.markStale(ev)
			return nil, nil
		}
		return c.finalize(ctx, ev, submitCh)
	}
	return nil, nil
}

func (c *Coordinator) addProgress(n uint64) {
	c.hashes += n
	c.windowHashes += n
	c.metrics.HashesTried.Add(float64(n))
}

// handleWorkerError degrades the pool rather than the process: the failed
// worker's future messages are ignored. Losing every worker is fatal.
func (c *Coordinator) handleWorkerError(ev Event) error {
	c.dead[ev.WorkerID] = true
	c.metrics.WorkerFailures.Inc()
	c.log.Error().
		Err(ev.Err).
		Int("worker", ev.WorkerID).
		Msg("worker failed, excluding it from the pool")
	if len(c.dead) == len(c.workers) {
		return ErrAllWorkersFailed
	}
	return nil
}

// qualifies reports whether a result can advance the chain: produced in the
// current epoch and strictly above the pointer's difficulty.
func (c *Coordinator) qualifies(ev Event) bool {
	return ev.Epoch == c.epoch && ev.Difficulty > c.pointer.Difficulty
}

func (c *Coordinator) markStale(ev Event) {
	c.metrics.StaleEvents.Inc()
	c.log.Debug().
		Uint64("epoch", ev.Epoch).
		Uint64("current_epoch", c.epoch).
		Int("worker", ev.WorkerID).
		Int("difficulty", ev.Difficulty).
		Str("kind", ev.Kind.String()).
		Msg("discarding stale result")
}

// handleUpdate runs a qualifying update through the chain-extension state
// machine. Events already queued behind it are drained first so that
// near-simultaneous results from different workers resolve to the highest
// difficulty; ties go to first arrival.
func (c *Coordinator) handleUpdate(ctx context.Context, ev Event, submitCh chan submitOutcome) (*Result, error) {
	if !c.qualifies(ev) {
		c.markStale(ev)
		return nil, nil
	}
	best := ev

drain:
	for {
		select {
		case next := <-c.events:
			if c.dead[next.WorkerID] && next.Kind != EventError {
				continue
			}
			switch next.Kind {
			case EventProgress:
				c.addProgress(next.Count)
			case EventError:
				if err := c.handleWorkerError(next); err != nil {
					return nil, err
				}
			case EventUpdate:
				if !c.qualifies(next) {
					c.markStale(next)
					continue
				}
				if next.Difficulty > best.Difficulty {
					best = next
				}
			case EventFound:
				if c.qualifies(next) {
					return c.finalize(ctx, next, submitCh)
				}
				c.markStale(next)
			}
		default:
			break drain
		}
	}

	c.propose(ctx, &proposal{block: c.blockFrom(best), epoch: best.Epoch}, submitCh)
	return nil, nil
}

// propose moves a block to Proposed and starts the submission in its own
// goroutine, so workers keep scanning the old epoch during the network
// round-trip. A same-epoch proposal arriving while one is in flight is held
// as pending, keeping only the best such candidate, so a rejection of the
// in-flight block falls back to the strongest result seen meanwhile.
func (c *Coordinator) propose(ctx context.Context, prop *proposal, submitCh chan submitOutcome) {
	if c.inflight != nil {
		if prop.epoch == c.inflight.epoch &&
			(c.pending == nil || prop.block.Difficulty > c.pending.block.Difficulty) {
			c.pending = prop
		}
		return
	}
	c.inflight = prop
	c.log.Info().
		Uint64("epoch", prop.epoch).
		Int("difficulty", prop.block.Difficulty).
		Str("hash", prop.block.Hash).
		Str("nonce", prop.block.Nonce).
		Msg("submitting proposed block")

	go func() {
		status, reason, err := c.submitter.Submit(ctx, prop.block)
		submitCh <- submitOutcome{prop: prop, status: status, reason: reason, err: err}
	}()
}

func (c *Coordinator) handleSubmitOutcome(ctx context.Context, out submitOutcome, submitCh chan submitOutcome) error {
	if c.inflight == nil || out.prop != c.inflight {
		return nil
	}
	c.inflight = nil
	prop := out.prop

	switch {
	case out.err != nil:
		c.metrics.SubmitErrors.Inc()
		c.log.Warn().
			Err(out.err).
			Int("difficulty", prop.block.Difficulty).
			Msg("submission transport failure, continuing in current epoch")
	case out.status == SubmitAccepted:
		if err := c.ledger.Append(prop.block); err != nil {
			return errors.Wrap(err, "appending accepted block to chain file")
		}
		c.advanceEpoch(prop.block)
	default:
		c.metrics.BlocksRejected.Inc()
		c.log.Warn().
			Str("reason", out.reason).
			Int("difficulty", prop.block.Difficulty).
			Msg("proposal rejected, continuing in current epoch")
	}

	// A rejected or failed proposal is never retried. A held better
	// proposal goes next unless the epoch has advanced past it.
	if c.pending != nil {
		next := c.pending
		c.pending = nil
		if next.epoch == c.epoch {
			c.propose(ctx, next, submitCh)
		}
	}
	return nil
}

// advanceEpoch folds an accepted block into a new pointer and rebroadcasts
// it. Anything workers already sent for the old epoch is dropped later by
// the epoch tag.
func (c *Coordinator) advanceEpoch(b *Block) {
	c.pointer = HashPointer{PreviousHash: b.Hash, Nonce: b.Nonce, Difficulty: b.Difficulty}
	c.epoch++
	c.accepted++
	c.metrics.BlocksAccepted.Inc()
	c.metrics.Epoch.Set(float64(c.epoch))

	pc := PointerChange{Epoch: c.epoch, Pointer: c.pointer}
	for _, w := range c.workers {
		w.deliverPointer(pc)
	}

	c.log.Info().
		Uint64("epoch", c.epoch).
		Int("difficulty", b.Difficulty).
		Str("hash", b.Hash).
		Int64("blocks", c.accepted).
		Msg("block accepted, chain extended")
}

// finalize ends the session on a result at or above the ceiling. Any
// in-flight submission settles first: an acceptance there must reach the
// chain file before anything else happens, and the epoch advance it causes
// stales this result, in which case the search continues. The final block
// is still offered to the ledger service so the chain record includes it,
// but no further epoch transitions follow.
func (c *Coordinator) finalize(ctx context.Context, ev Event, submitCh chan submitOutcome) (*Result, error) {
	for c.inflight != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case out := <-submitCh:
			if err := c.handleSubmitOutcome(ctx, out, submitCh); err != nil {
				return nil, err
			}
		}
	}
	if !c.qualifies(ev) {
		c.markStale(ev)
		return nil, nil
	}

	c.log.Info().
		Int("worker", ev.WorkerID).
		Int("difficulty", ev.Difficulty).
		Str("hash", ev.Hash).
		Msg("difficulty ceiling reached")

	block := c.blockFrom(ev)
	status, reason, err := c.submitter.Submit(ctx, block)
	switch {
	case err != nil:
		c.metrics.SubmitErrors.Inc()
		c.log.Warn().Err(err).Msg("final submission transport failure, result recorded locally only")
	case status == SubmitAccepted:
		if err := c.ledger.Append(block); err != nil {
			return nil, errors.Wrap(err, "appending final block to chain file")
		}
		c.accepted++
		c.metrics.BlocksAccepted.Inc()
	default:
		c.metrics.BlocksRejected.Inc()
		c.log.Warn().Str("reason", reason).Msg("final proposal rejected, result recorded locally only")
	}

	return &Result{
		SessionID:      c.sessionID,
		Hash:           ev.Hash,
		Nonce:          ev.Nonce,
		Difficulty:     ev.Difficulty,
		Blocks:         c.accepted,
		HashesTried:    c.hashes,
		ElapsedSeconds: time.Since(c.start).Seconds(),
	}, nil
}

// blockFrom builds a proposal block for a current-epoch result.
func (c *Coordinator) blockFrom(ev Event) *Block {
	return &Block{
		Previous:   c.pointer.PreviousHash,
		Identity:   c.cfg.Identity,
		Nonce:      ev.Nonce,
		Hash:       ev.Hash,
		Difficulty: ev.Difficulty,
	}
}

// logHashRate consumes the accounting window and reports the pool rate.
func (c *Coordinator) logHashRate() {
	rate := float64(c.windowHashes) / c.cfg.HashRateInterval.Seconds()
	c.windowHashes = 0
	c.metrics.HashRate.Set(rate)
	c.log.Info().
		Float64("khash_per_sec", rate/1000.0).
		Uint64("hashes", c.hashes).
		Int64("blocks", c.accepted).
		Msg("hash rate")
}
