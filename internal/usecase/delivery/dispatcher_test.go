package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mission-recommender/internal/domain"
	"mission-recommender/internal/infra/cache"
)

type stubRecs struct {
	mu         sync.Mutex
	recs       map[int64]*domain.Recommendation
	recipients map[int64][]domain.Member
	attempts   map[int64][]domain.DeliveryAttempt
}

func newStubRecs(recs ...domain.Recommendation) *stubRecs {
	s := &stubRecs{
		recs:       make(map[int64]*domain.Recommendation),
		recipients: make(map[int64][]domain.Member),
		attempts:   make(map[int64][]domain.DeliveryAttempt),
	}
	for i := range recs {
		rec := recs[i]
		s.recs[rec.ID] = &rec
	}
	return s
}

func (s *stubRecs) FindScheduled(context.Context, domain.GroupRef, time.Time) (domain.Recommendation, error) {
	return domain.Recommendation{}, domain.ErrNotFound
}

func (s *stubRecs) CreateRecommendation(context.Context, domain.RecommendationDraft) (domain.Recommendation, error) {
	return domain.Recommendation{}, errors.New("not implemented")
}

func (s *stubRecs) GetRecommendation(_ context.Context, id int64) (domain.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return domain.Recommendation{}, domain.ErrNotFound
	}
	return *rec, nil
}

func (s *stubRecs) ListGroupRecommendations(context.Context, domain.GroupRef, int) ([]domain.Recommendation, error) {
	return nil, nil
}

func (s *stubRecs) ListByState(_ context.Context, state domain.DeliveryState) ([]domain.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Recommendation
	for _, rec := range s.recs {
		if rec.State == state {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *stubRecs) ListRecipients(_ context.Context, id int64) ([]domain.Member, error) {
	return s.recipients[id], nil
}

func (s *stubRecs) TransitionState(_ context.Context, id int64, from, to domain.DeliveryState, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok || rec.State != from {
		return domain.ErrInvalidTransition
	}
	if to == domain.StateSent {
		return rec.MarkSent(at)
	}
	return rec.MarkFailed(reason)
}

func (s *stubRecs) RecordDeliveryAttempts(_ context.Context, id int64, attempts []domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[id] = append(s.attempts[id], attempts...)
	return nil
}

// stubNotifier падает для адресов из failures заданное число раз; -1 означает всегда.
type stubNotifier struct {
	mu       sync.Mutex
	failures map[string]int
	sent     []domain.Notification
}

func (n *stubNotifier) Send(_ context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if left, ok := n.failures[msg.To]; ok && left != 0 {
		if left > 0 {
			n.failures[msg.To] = left - 1
		}
		return errors.New("smtp 550")
	}
	n.sent = append(n.sent, msg)
	return nil
}

type busyLocker struct{}

func (busyLocker) Once(context.Context, string, time.Duration, func() error) (bool, error) {
	return false, nil
}

var deliveryNow = time.Date(2026, 10, 17, 7, 0, 0, 0, time.UTC)

func pendingRec(id int64) domain.Recommendation {
	return domain.Recommendation{
		ID:         id,
		Group:      domain.GroupRef{ID: 7, Kind: domain.GroupKindTeam},
		Kind:       domain.GenerationScheduled,
		MissionDay: time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC),
		State:      domain.StatePending,
		Problems:   []domain.ProblemRef{{ID: 1000, Title: "A+B", Level: 1}},
	}
}

func newTestDispatcher(recs *stubRecs, notifier domain.Notifier, locker domain.Locker, ratio float64) *Dispatcher {
	return NewDispatcher(recs, notifier, locker, zerolog.Nop(), Options{
		Workers:         2,
		MaxAttempts:     3,
		MinSuccessRatio: ratio,
		Now:             func() time.Time { return deliveryNow },
		NewBackOff:      func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})
}

func twoRecipients() []domain.Member {
	return []domain.Member{
		{UserID: 1, Handle: "alice", Email: "alice@example.com"},
		{UserID: 2, Handle: "bob", Email: "bob@example.com"},
	}
}

func TestDispatchAllDelivered(t *testing.T) {
	recs := newStubRecs(pendingRec(1))
	recs.recipients[1] = twoRecipients()
	notifier := &stubNotifier{}
	d := newTestDispatcher(recs, notifier, cache.NewLocal(), 0)

	summary, err := d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Total: 1, Succeeded: 1}, summary)

	rec, _ := recs.GetRecommendation(context.Background(), 1)
	assert.Equal(t, domain.StateSent, rec.State)
	require.NotNil(t, rec.SentAt)
	assert.True(t, rec.SentAt.Equal(deliveryNow))
	assert.Len(t, notifier.sent, 2)
	assert.Len(t, recs.attempts[1], 2)
}

func TestDispatchPartialFailureStillSent(t *testing.T) {
	recs := newStubRecs(pendingRec(1))
	recs.recipients[1] = twoRecipients()
	notifier := &stubNotifier{failures: map[string]int{"bob@example.com": -1}}
	d := newTestDispatcher(recs, notifier, cache.NewLocal(), 0)

	summary, err := d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	rec, _ := recs.GetRecommendation(context.Background(), 1)
	assert.Equal(t, domain.StateSent, rec.State)

	var bob domain.DeliveryAttempt
	for _, a := range recs.attempts[1] {
		if a.UserID == 2 {
			bob = a
		}
	}
	assert.False(t, bob.Success)
	assert.Equal(t, 3, bob.Attempts)
	assert.Contains(t, bob.Reason, "smtp 550")
}

func TestDispatchRatioThresholdFails(t *testing.T) {
	recs := newStubRecs(pendingRec(1))
	recs.recipients[1] = twoRecipients()
	notifier := &stubNotifier{failures: map[string]int{"bob@example.com": -1}}
	d := newTestDispatcher(recs, notifier, cache.NewLocal(), 1)

	summary, err := d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	rec, _ := recs.GetRecommendation(context.Background(), 1)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Nil(t, rec.SentAt)
	assert.Contains(t, rec.FailureReason, "доставлено 1 из 2")
}

func TestDispatchAllRecipientsFail(t *testing.T) {
	recs := newStubRecs(pendingRec(1))
	recs.recipients[1] = twoRecipients()
	notifier := &stubNotifier{failures: map[string]int{"alice@example.com": -1, "bob@example.com": -1}}
	d := newTestDispatcher(recs, notifier, cache.NewLocal(), 0)

	summary, err := d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Total: 1, Failed: 1}, summary)

	rec, _ := recs.GetRecommendation(context.Background(), 1)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Contains(t, rec.FailureReason, "доставлено 0 из 2")
}

func TestDispatchRetriesTransientErrors(t *testing.T) {
	recs := newStubRecs(pendingRec(1))
	recs.recipients[1] = twoRecipients()[:1]
	notifier := &stubNotifier{failures: map[string]int{"alice@example.com": 2}}
	d := newTestDispatcher(recs, notifier, cache.NewLocal(), 0)

	_, err := d.DispatchPending(context.Background())
	require.NoError(t, err)

	require.Len(t, recs.attempts[1], 1)
	assert.True(t, recs.attempts[1][0].Success)
	assert.Equal(t, 3, recs.attempts[1][0].Attempts)
}

func TestDispatchNoRecipients(t *testing.T) {
	recs := newStubRecs(pendingRec(1))
	d := newTestDispatcher(recs, &stubNotifier{}, cache.NewLocal(), 0)

	summary, err := d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	rec, _ := recs.GetRecommendation(context.Background(), 1)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Equal(t, "no recipients", rec.FailureReason)
}

func TestDispatchMissingEmailIsNotRetried(t *testing.T) {
	recs := newStubRecs(pendingRec(1))
	recs.recipients[1] = []domain.Member{{UserID: 3, Handle: "ghost"}}
	notifier := &stubNotifier{}
	d := newTestDispatcher(recs, notifier, cache.NewLocal(), 0)

	_, err := d.DispatchPending(context.Background())
	require.NoError(t, err)
	require.Len(t, recs.attempts[1], 1)
	assert.Zero(t, recs.attempts[1][0].Attempts)
	assert.Empty(t, notifier.sent)
}

func TestDispatchSkipsLockedRecommendation(t *testing.T) {
	recs := newStubRecs(pendingRec(1))
	recs.recipients[1] = twoRecipients()
	notifier := &stubNotifier{}
	d := newTestDispatcher(recs, notifier, busyLocker{}, 0)

	summary, err := d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Total: 1, Skipped: 1}, summary)
	assert.Empty(t, notifier.sent)
}

func TestDispatchSecondRunFindsNothing(t *testing.T) {
	recs := newStubRecs(pendingRec(1), pendingRec(2))
	recs.recipients[1] = twoRecipients()
	recs.recipients[2] = twoRecipients()
	d := newTestDispatcher(recs, &stubNotifier{}, cache.NewLocal(), 0)

	first, err := d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Succeeded)

	second, err := d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Total)
}

type captureAlerter struct{ texts []string }

func (c *captureAlerter) Alert(_ context.Context, text string) error {
	c.texts = append(c.texts, text)
	return nil
}

func TestRunDeliveryBatchAlertsOnFailures(t *testing.T) {
	recs := newStubRecs(pendingRec(1))
	alerter := &captureAlerter{}
	d := NewDispatcher(recs, &stubNotifier{}, cache.NewLocal(), zerolog.Nop(), Options{Alerter: alerter})

	summary, err := d.RunDeliveryBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, alerter.texts, 1)
	assert.Contains(t, alerter.texts[0], "ошибок 1")
}

// rendezvousNotifier пропускает письмо подборки, только когда началась отправка всех подборок из started.
type rendezvousNotifier struct {
	started map[int64]chan struct{}
	once    map[int64]*sync.Once
	wait    time.Duration
}

func newRendezvousNotifier(ids ...int64) *rendezvousNotifier {
	n := &rendezvousNotifier{
		started: make(map[int64]chan struct{}),
		once:    make(map[int64]*sync.Once),
		wait:    2 * time.Second,
	}
	for _, id := range ids {
		n.started[id] = make(chan struct{})
		n.once[id] = new(sync.Once)
	}
	return n
}

func (n *rendezvousNotifier) Send(ctx context.Context, msg domain.Notification) error {
	n.once[msg.RecommendationID].Do(func() { close(n.started[msg.RecommendationID]) })
	timeout := time.After(n.wait)
	for id, ch := range n.started {
		if id == msg.RecommendationID {
			continue
		}
		select {
		case <-ch:
		case <-timeout:
			return errors.New("подборка ждала другую")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func TestDispatchRecommendationsInParallel(t *testing.T) {
	recs := newStubRecs(pendingRec(1), pendingRec(2))
	recs.recipients[1] = []domain.Member{{UserID: 1, Handle: "alice", Email: "alice@example.com"}}
	recs.recipients[2] = []domain.Member{{UserID: 2, Handle: "bob", Email: "bob@example.com"}}
	d := NewDispatcher(recs, newRendezvousNotifier(1, 2), cache.NewLocal(), zerolog.Nop(), Options{
		Workers:     2,
		MaxAttempts: 1,
		Now:         func() time.Time { return deliveryNow },
		NewBackOff:  func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	})

	summary, err := d.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Total: 2, Succeeded: 2}, summary)
	for _, id := range []int64{1, 2} {
		rec, _ := recs.GetRecommendation(context.Background(), id)
		assert.Equal(t, domain.StateSent, rec.State, "подборка %d", id)
	}
}

func TestDispatchCancelledContextSkipsRemaining(t *testing.T) {
	recs := newStubRecs(pendingRec(1), pendingRec(2))
	recs.recipients[1] = twoRecipients()
	recs.recipients[2] = twoRecipients()
	notifier := &stubNotifier{}
	d := newTestDispatcher(recs, notifier, cache.NewLocal(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := d.DispatchPending(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, DispatchSummary{Total: 2, Skipped: 2}, summary)
	assert.Empty(t, notifier.sent)
}

func TestDeliverRecommendationSendsImmediately(t *testing.T) {
	manual := pendingRec(5)
	manual.Kind = domain.GenerationManual
	recs := newStubRecs(manual, pendingRec(6))
	recs.recipients[5] = twoRecipients()
	recs.recipients[6] = twoRecipients()
	notifier := &stubNotifier{}
	d := newTestDispatcher(recs, notifier, cache.NewLocal(), 0)

	rec, err := d.DeliverRecommendation(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSent, rec.State)
	assert.Len(t, notifier.sent, 2)

	other, _ := recs.GetRecommendation(context.Background(), 6)
	assert.Equal(t, domain.StatePending, other.State)
}

func TestDeliverRecommendationLeavesTerminalAlone(t *testing.T) {
	done := pendingRec(5)
	done.State = domain.StateFailed
	recs := newStubRecs(done)
	recs.recipients[5] = twoRecipients()
	notifier := &stubNotifier{}
	d := newTestDispatcher(recs, notifier, cache.NewLocal(), 0)

	rec, err := d.DeliverRecommendation(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, rec.State)
	assert.Empty(t, notifier.sent)
}

func TestDeliverRecommendationHeldByAnotherInstance(t *testing.T) {
	recs := newStubRecs(pendingRec(5))
	recs.recipients[5] = twoRecipients()
	d := newTestDispatcher(recs, &stubNotifier{}, busyLocker{}, 0)

	rec, err := d.DeliverRecommendation(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, rec.State)
}

func TestDeliverRecommendationUnknown(t *testing.T) {
	d := newTestDispatcher(newStubRecs(), &stubNotifier{}, cache.NewLocal(), 0)
	_, err := d.DeliverRecommendation(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
