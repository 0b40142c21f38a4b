package session

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/aggregate"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/respond"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/usage"
)

// Turn is one responding period of a Session.
type Turn struct {
	ID string

	session  *Session
	ctx      context.Context
	cancel   context.CancelFunc
	kind     string
	from     int
	blocking bool
	began    time.Time

	started atomic.Bool
	once    sync.Once
	done    chan struct{}

	mu          sync.Mutex
	producerErr error
	err         error
}

func newTurn(s *Session, parent context.Context, kind string, from int, blocking bool) *Turn {
	ctx := usage.WithSession(parent, s.id)
	if s.tracker != nil {
		ctx = usage.NewContext(ctx, s.tracker)
	}
	ctx, cancel := context.WithCancel(ctx)

	return &Turn{
		ID:       uuid.NewString(),
		session:  s,
		ctx:      ctx,
		cancel:   cancel,
		kind:     kind,
		from:     from,
		blocking: blocking,
		began:    time.Now(),
		done:     make(chan struct{}),
	}
}

// Chunks returns the turn's chunk stream with start/end frames. It can be
// consumed once; the session returns to Idle when iteration ends for any
// reason.
func (t *Turn) Chunks() iter.Seq[types.Chunk] {
	return func(yield func(types.Chunk) bool) {
		if !t.started.CompareAndSwap(false, true) {
			return
		}
		defer t.finish()

		opts := aggregate.Options{
			AutoRun:   t.session.cfg.Interpreter.AutoRun,
			Truncator: t.session.truncator(),
		}
		for c := range aggregate.Aggregate(t.ctx, t.produce(), t.session.store, opts) {
			if !yield(c) {
				return
			}
		}
	}
}

// produce is the merged producer, repeated in loop mode until the
// assistant answers with a loop breaker.
func (t *Turn) produce() iter.Seq[types.Chunk] {
	s := t.session
	return func(yield func(types.Chunk) bool) {
		ic := s.cfg.Interpreter
		rounds := ic.MaxIterations
		if rounds <= 0 {
			rounds = respond.DefaultMaxIterations
		}

		for round := 1; ; round++ {
			for c := range respond.Respond(t.ctx, s.respondConfig(t)) {
				if !yield(c) {
					return
				}
			}
			if t.ctx.Err() != nil || t.failed() || !ic.Loop {
				return
			}
			if last, ok := s.store.LastOf(types.RoleAssistant, types.TypeMessage); ok && s.isLoopBreaker(last.Content) {
				logging.SessionDebug("turn %s: loop breaker after %d rounds", t.ID, round)
				return
			}
			if round >= rounds {
				logging.SessionWarn("turn %s: loop stopped after %d rounds", t.ID, round)
				return
			}
			if !yield(types.Chunk{Role: types.RoleUser, Type: types.TypeMessage, Content: ic.LoopMessage}) {
				return
			}
		}
	}
}

// Stop cancels the turn. A turn whose chunks were never pulled finishes
// immediately.
func (t *Turn) Stop() {
	t.cancel()
	if t.started.CompareAndSwap(false, true) {
		t.finish()
	}
}

// Done is closed when the turn has finished.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn finishes or ctx is done.
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the turn's failure once finished: a *ProducerError, the
// context error after cancellation, or nil.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Messages returns the messages added by the turn so far.
func (t *Turn) Messages() []types.Message {
	return t.session.store.Since(t.from)
}

func (t *Turn) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.producerErr == nil {
		t.producerErr = err
	}
}

func (t *Turn) failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.producerErr != nil
}

func (t *Turn) finish() {
	t.once.Do(func() {
		t.mu.Lock()
		switch {
		case t.producerErr != nil:
			t.err = &ProducerError{Err: t.producerErr}
		case t.ctx.Err() != nil:
			t.err = t.ctx.Err()
		}
		err := t.err
		t.mu.Unlock()
		t.cancel()

		s := t.session
		elapsed := time.Since(t.began)
		bg := context.WithoutCancel(t.ctx)

		if s.tracker != nil {
			if terr := s.tracker.Track(bg, usage.ActionTurn, elapsed); terr != nil {
				logging.UsageWarn("track turn: %v", terr)
			}
		}
		var pe *ProducerError
		if errors.As(err, &pe) {
			s.reportFailure(bg, t.kind, pe.Err)
		}
		if t.blocking {
			s.saveHistory()
		}

		s.release(t)
		close(t.done)
		logging.Session("turn %s finished in %s: err=%v", t.ID, elapsed, err)
	})
}
