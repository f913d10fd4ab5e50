package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jakopako/livemon/internal/challenge"
	"github.com/jakopako/livemon/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	healthy   = snapshot.Snapshot{HasVideo: true}
	unhealthy = snapshot.Snapshot{}
	ended     = snapshot.Snapshot{IsLiveEnded: true}
	pageError = snapshot.Snapshot{HasPageError: true}
	captcha   = snapshot.Snapshot{HasCaptcha: true, HasVideo: true}
	both      = snapshot.Snapshot{HasPageError: true, HasCaptcha: true}
)

// sequence plays back snapshots; the last one repeats.
type sequence struct {
	snaps []snapshot.Snapshot
	taken int
	err   error
}

func (s *sequence) Take(ctx context.Context) (*snapshot.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	i := min(s.taken, len(s.snaps)-1)
	s.taken++
	snap := s.snaps[i]
	return &snap, nil
}

type refresher struct {
	calls int
	err   error
}

func (r *refresher) Refresh(ctx context.Context) error {
	r.calls++
	return r.err
}

// resolver returns its results in order; the last one repeats.
type resolver struct {
	results  []error
	calls    int
	timeouts []time.Duration
}

func (r *resolver) Resolve(ctx context.Context, timeout time.Duration) error {
	r.timeouts = append(r.timeouts, timeout)
	i := min(r.calls, len(r.results)-1)
	r.calls++
	return r.results[i]
}

type recorder struct {
	snaps []*snapshot.Snapshot
}

func (r *recorder) Record(s *snapshot.Snapshot) {
	r.snaps = append(r.snaps, s)
}

type harness struct {
	seq    *sequence
	ref    *refresher
	res    *resolver
	rec    *recorder
	sleeps []time.Duration
	trans  []Transition
	policy *Policy
}

func newHarness(snaps ...snapshot.Snapshot) *harness {
	h := &harness{
		seq: &sequence{snaps: snaps},
		ref: &refresher{},
		res: &resolver{results: []error{challenge.ErrTimeout}},
		rec: &recorder{},
	}
	h.policy = New(DefaultConfig(), h.seq, h.ref, h.res, h.rec,
		WithSleep(func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		}),
		OnTransition(func(t Transition) { h.trans = append(h.trans, t) }),
	)
	return h
}

func TestCycleOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		snaps    []snapshot.Snapshot
		outcome  Outcome
		recorded int
		state    State
	}{
		{"healthy", []snapshot.Snapshot{healthy}, OutcomeHealthy, 1, StateRecording},
		{"unhealthy", []snapshot.Snapshot{unhealthy}, OutcomeUnhealthy, 1, StateStopped},
		{"ended", []snapshot.Snapshot{ended}, OutcomeEnded, 1, StateStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.snaps...)
			res, err := h.policy.Cycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Len(t, h.rec.snaps, tt.recorded)
			assert.Equal(t, tt.state, h.policy.State())
			assert.Equal(t, tt.outcome == OutcomeHealthy, res.Continue())
			assert.NoError(t, res.Err())
			assert.Zero(t, h.ref.calls)
		})
	}
}

func TestCyclePageErrorExhausted(t *testing.T) {
	h := newHarness(pageError, pageError, pageError, pageError)

	res, err := h.policy.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomePageErrorExhausted, res.Outcome)
	assert.ErrorIs(t, res.Err(), ErrPageErrorExhausted)
	assert.False(t, res.Continue())
	assert.Equal(t, 3, h.ref.calls)
	assert.Equal(t, 4, h.seq.taken)
	assert.Equal(t, 3, res.Retries)
	assert.Empty(t, h.rec.snaps, "page error snapshots must not be recorded")
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, h.sleeps)
	assert.Equal(t, StateStopped, h.policy.State())
}

func TestCyclePageErrorRecovers(t *testing.T) {
	h := newHarness(pageError, pageError, healthy)

	res, err := h.policy.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeHealthy, res.Outcome)
	assert.Equal(t, 2, h.ref.calls)
	require.Len(t, h.rec.snaps, 1)
	assert.True(t, h.rec.snaps[0].IsHealthy())
	assert.Equal(t, 0, h.policy.Retries())
}

func TestCycleRetryCounterResets(t *testing.T) {
	// two error streaks of three separated by a healthy page never exhaust the budget
	h := newHarness(pageError, pageError, pageError, healthy)
	_, err := h.policy.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, h.policy.Retries())

	h.seq.snaps = []snapshot.Snapshot{pageError, pageError, pageError, healthy}
	h.seq.taken = 0
	res, err := h.policy.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHealthy, res.Outcome)
	assert.Equal(t, 6, h.ref.calls)
}

func TestCycleCounterResetsOnNonErrorSnapshot(t *testing.T) {
	// a challenge in between also resets the counter
	h := newHarness(pageError, pageError, pageError, captcha, pageError, pageError, pageError, healthy)
	h.res.results = []error{nil}

	res, err := h.policy.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHealthy, res.Outcome)
	assert.Equal(t, 6, h.ref.calls)
	assert.Equal(t, 1, h.res.calls)
}

func TestCycleChallengeUnresolved(t *testing.T) {
	h := newHarness(captcha)

	res, err := h.policy.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeChallengeUnresolved, res.Outcome)
	assert.ErrorIs(t, res.Err(), challenge.ErrTimeout)
	assert.Equal(t, 1, h.res.calls)
	assert.Equal(t, []time.Duration{5 * time.Minute}, h.res.timeouts)
	assert.Empty(t, h.rec.snaps)
	assert.Zero(t, h.ref.calls)
}

func TestCycleChallengeResolved(t *testing.T) {
	h := newHarness(captcha, healthy)
	h.res.results = []error{nil}

	res, err := h.policy.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeHealthy, res.Outcome)
	assert.Equal(t, 1, h.res.calls)
	require.Len(t, h.rec.snaps, 1)
	assert.False(t, h.rec.snaps[0].HasCaptcha)
	assert.Equal(t, []time.Duration{3 * time.Second}, h.sleeps)
}

func TestCyclePageErrorOutranksChallenge(t *testing.T) {
	h := newHarness(both, both, both, both)

	res, err := h.policy.Cycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomePageErrorExhausted, res.Outcome)
	assert.Equal(t, 3, h.ref.calls)
	assert.Zero(t, h.res.calls)
}

func TestCycleFaults(t *testing.T) {
	t.Run("snapshot", func(t *testing.T) {
		h := newHarness(healthy)
		h.seq.err = errors.New("inspection failed")
		_, err := h.policy.Cycle(context.Background())
		assert.ErrorIs(t, err, h.seq.err)
		assert.Empty(t, h.rec.snaps)
	})
	t.Run("refresh", func(t *testing.T) {
		h := newHarness(pageError)
		h.ref.err = errors.New("reload failed")
		_, err := h.policy.Cycle(context.Background())
		assert.ErrorIs(t, err, h.ref.err)
	})
	t.Run("resolver", func(t *testing.T) {
		h := newHarness(captcha)
		want := errors.New("screenshot failed")
		h.res.results = []error{want}
		_, err := h.policy.Cycle(context.Background())
		assert.ErrorIs(t, err, want)
	})
	t.Run("cancelled during settle", func(t *testing.T) {
		h := newHarness(pageError)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := h.policy.Cycle(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, h.ref.calls)
	})
}

func TestCycleTransitions(t *testing.T) {
	h := newHarness(pageError, healthy)
	_, err := h.policy.Cycle(context.Background())
	require.NoError(t, err)

	var got []State
	for _, tr := range h.trans {
		got = append(got, tr.To)
	}
	assert.Equal(t, []State{StateRefreshing, StateInspecting, StateRecording}, got)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Minute), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}
