package lifecycle_test

import (
	"context"
	"sync"
	"testing"

	"github.com/opsgrove/incident-ledger/internal/audit"
	"github.com/opsgrove/incident-ledger/internal/domain"
	"github.com/opsgrove/incident-ledger/internal/lifecycle"
	"github.com/opsgrove/incident-ledger/internal/lifecycle/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDispatcher captures dispatch calls without side effects.
type recordingDispatcher struct {
	mu      sync.Mutex
	created []string
	changed []string
}

func (d *recordingDispatcher) IncidentCreated(_ context.Context, inc *domain.Incident) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = append(d.created, inc.ID)
}

func (d *recordingDispatcher) StatusChanged(_ context.Context, inc *domain.Incident, _, _ domain.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changed = append(d.changed, inc.ID)
}

type engineFixture struct {
	store      *memstore.Store
	engine     *lifecycle.Engine
	hasher     *audit.Hasher
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T, opts lifecycle.Options) *engineFixture {
	t.Helper()
	hasher, err := audit.NewHasher("test-secret")
	require.NoError(t, err)

	store := memstore.New()
	dispatcher := &recordingDispatcher{}
	engine := lifecycle.NewEngine(store, lifecycle.NewValidator(lifecycle.DefaultGraph()), hasher, dispatcher, opts)
	return &engineFixture{store: store, engine: engine, hasher: hasher, dispatcher: dispatcher}
}

func createInput(severity domain.Severity) lifecycle.CreateIncidentInput {
	return lifecycle.CreateIncidentInput{
		Title:       "Checkout errors",
		Description: "5xx on /checkout",
		Severity:    severity,
		ReporterID:  "user-reporter",
		TeamID:      "team-payments",
	}
}

func TestCreateIncidentHappyPath(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, createInput(domain.SeveritySev3))
	require.NoError(t, err)

	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, domain.StatusNew, inc.Status)
	require.NotNil(t, inc.AuditHash)
	assert.NoError(t, f.hasher.Verify(inc))

	// Exactly one opening STATUS_CHANGE event.
	events, err := f.engine.Recorder().List(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.TimelineStatusChange, events[0].Type)
	assert.Nil(t, events[0].FromStatus)
	require.NotNil(t, events[0].ToStatus)
	assert.Equal(t, domain.StatusNew, *events[0].ToStatus)
	assert.Equal(t, "user-reporter", events[0].ActorID)

	// Reporter is subscribed immediately after creation.
	subs, err := f.engine.Subscriptions().ListSubscribers(ctx, inc.ID)
	require.NoError(t, err)
	assert.Contains(t, subs, "user-reporter")
}

func TestCreateIncidentSubscribesAssignee(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	assignee := "user-assignee"
	input := createInput(domain.SeveritySev4)
	input.AssigneeID = &assignee

	inc, err := f.engine.CreateIncident(ctx, input)
	require.NoError(t, err)

	subs, err := f.engine.Subscriptions().ListSubscribers(ctx, inc.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-reporter", "user-assignee"}, subs)
}

func TestCreateIncidentRejectsInvalidSeverity(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})

	input := createInput(domain.Severity("SEV0"))
	_, err := f.engine.CreateIncident(context.Background(), input)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidSeverity)
}

func TestCreateIncidentRequiresTitle(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})

	input := createInput(domain.SeveritySev3)
	input.Title = ""
	_, err := f.engine.CreateIncident(context.Background(), input)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidInput)
	assert.ErrorContains(t, err, "title is required")
}

func TestCreateIncidentDispatchesBySeverity(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	_, err := f.engine.CreateIncident(ctx, createInput(domain.SeveritySev1))
	require.NoError(t, err)
	assert.Len(t, f.dispatcher.created, 1)

	_, err = f.engine.CreateIncident(ctx, createInput(domain.SeveritySev4))
	require.NoError(t, err)
	// The dispatcher is always invoked; the severity policy inside it
	// decides whether any channel fires.
	assert.Len(t, f.dispatcher.created, 2)
}

func TestTransitionAlongEveryEdge(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	path := []domain.Status{
		domain.StatusTriaged,
		domain.StatusMitigated,
		domain.StatusResolved,
		domain.StatusTriaged, // regression re-open
		domain.StatusMitigated,
		domain.StatusResolved,
		domain.StatusClosed,
	}

	inc, err := f.engine.CreateIncident(ctx, createInput(domain.SeveritySev3))
	require.NoError(t, err)

	current := domain.StatusNew
	for _, next := range path {
		inc, err = f.engine.TransitionStatus(ctx, inc.ID, next, "step", "user-operator")
		require.NoError(t, err, "%s -> %s", current, next)
		assert.Equal(t, next, inc.Status)
		current = next
	}

	// One creation event plus one per transition, in order.
	events, err := f.engine.Recorder().List(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, events, len(path)+1)
	for i, next := range path {
		ev := events[i+1]
		assert.Equal(t, domain.TimelineStatusChange, ev.Type)
		require.NotNil(t, ev.ToStatus)
		assert.Equal(t, next, *ev.ToStatus)
	}

	assert.NoError(t, f.hasher.Verify(inc))
}

func TestTransitionRejectsNonEdge(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, createInput(domain.SeveritySev3))
	require.NoError(t, err)

	_, err = f.engine.TransitionStatus(ctx, inc.ID, domain.StatusClosed, "skip the line", "user-operator")
	require.Error(t, err)
	assert.True(t, lifecycle.IsInvalidTransition(err))

	// Status unchanged, no event appended.
	got, err := f.engine.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, got.Status)

	events, err := f.engine.Recorder().List(ctx, inc.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestTransitionRejectsEmptyMessage(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, createInput(domain.SeveritySev3))
	require.NoError(t, err)

	_, err = f.engine.TransitionStatus(ctx, inc.ID, domain.StatusTriaged, "", "user-operator")
	assert.ErrorIs(t, err, lifecycle.ErrEmptyMessage)

	events, err := f.engine.Recorder().List(ctx, inc.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestTransitionSetsAndClearsResolvedAt(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, createInput(domain.SeveritySev3))
	require.NoError(t, err)

	for _, next := range []domain.Status{domain.StatusTriaged, domain.StatusMitigated, domain.StatusResolved} {
		inc, err = f.engine.TransitionStatus(ctx, inc.ID, next, "step", "op")
		require.NoError(t, err)
	}
	require.NotNil(t, inc.ResolvedAt)

	inc, err = f.engine.TransitionStatus(ctx, inc.ID, domain.StatusTriaged, "regression", "op")
	require.NoError(t, err)
	assert.Nil(t, inc.ResolvedAt)
	assert.NoError(t, f.hasher.Verify(inc))
}

func TestTransitionNotFound(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	_, err := f.engine.TransitionStatus(context.Background(), "missing", domain.StatusTriaged, "msg", "op")
	assert.ErrorIs(t, err, lifecycle.ErrIncidentNotFound)
}

func TestTransitionDispatchPolicyFlag(t *testing.T) {
	ctx := context.Background()

	quiet := newFixture(t, lifecycle.Options{})
	inc, err := quiet.engine.CreateIncident(ctx, createInput(domain.SeveritySev2))
	require.NoError(t, err)
	_, err = quiet.engine.TransitionStatus(ctx, inc.ID, domain.StatusTriaged, "triage complete", "op")
	require.NoError(t, err)
	assert.Empty(t, quiet.dispatcher.changed)

	loud := newFixture(t, lifecycle.Options{NotifyOnTransition: true})
	inc, err = loud.engine.CreateIncident(ctx, createInput(domain.SeveritySev2))
	require.NoError(t, err)
	_, err = loud.engine.TransitionStatus(ctx, inc.ID, domain.StatusTriaged, "triage complete", "op")
	require.NoError(t, err)
	assert.Len(t, loud.dispatcher.changed, 1)
}

func TestUpdateIncidentAppendsFieldUpdateAndResigns(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, createInput(domain.SeveritySev3))
	require.NoError(t, err)
	originalHash := *inc.AuditHash

	newTitle := "Checkout errors (payments)"
	sev := domain.SeveritySev2
	updated, err := f.engine.UpdateIncident(ctx, inc.ID, lifecycle.UpdateIncidentInput{
		Title:    &newTitle,
		Severity: &sev,
	}, "user-operator")
	require.NoError(t, err)

	assert.Equal(t, newTitle, updated.Title)
	assert.Equal(t, sev, updated.Severity)
	assert.NotEqual(t, originalHash, *updated.AuditHash)
	assert.NoError(t, f.hasher.Verify(updated))

	events, err := f.engine.Recorder().List(ctx, inc.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.TimelineFieldUpdate, events[1].Type)
	assert.Contains(t, events[1].Message, "title")
	assert.Contains(t, events[1].Message, "severity")
}

func TestUpdateIncidentSubscribesNewAssignee(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, createInput(domain.SeveritySev3))
	require.NoError(t, err)

	assignee := "user-assignee"
	_, err = f.engine.UpdateIncident(ctx, inc.ID, lifecycle.UpdateIncidentInput{AssigneeID: &assignee}, "op")
	require.NoError(t, err)

	subs, err := f.engine.Subscriptions().ListSubscribers(ctx, inc.ID)
	require.NoError(t, err)
	assert.Contains(t, subs, "user-assignee")
}

func TestUpdateIncidentNoChangesIsNoOp(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, createInput(domain.SeveritySev3))
	require.NoError(t, err)

	got, err := f.engine.UpdateIncident(ctx, inc.ID, lifecycle.UpdateIncidentInput{}, "op")
	require.NoError(t, err)
	assert.Equal(t, *inc.AuditHash, *got.AuditHash)

	events, err := f.engine.Recorder().List(ctx, inc.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, createInput(domain.SeveritySev3))
	require.NoError(t, err)

	subs := f.engine.Subscriptions()
	require.NoError(t, subs.Subscribe(ctx, "user-watcher", inc.ID))
	require.NoError(t, subs.Subscribe(ctx, "user-watcher", inc.ID))

	users, err := subs.ListSubscribers(ctx, inc.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-reporter", "user-watcher"}, users)

	require.NoError(t, subs.Unsubscribe(ctx, "user-watcher", inc.ID))
	require.NoError(t, subs.Unsubscribe(ctx, "user-watcher", inc.ID)) // still fine

	users, err = subs.ListSubscribers(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-reporter"}, users)
}

func TestAddComment(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, createInput(domain.SeveritySev3))
	require.NoError(t, err)
	hashBefore := *inc.AuditHash

	ev, err := f.engine.AddComment(ctx, inc.ID, "mitigation in progress", "user-operator")
	require.NoError(t, err)
	assert.Equal(t, domain.TimelineComment, ev.Type)

	_, err = f.engine.AddComment(ctx, inc.ID, "", "user-operator")
	assert.ErrorIs(t, err, lifecycle.ErrEmptyMessage)

	_, err = f.engine.AddComment(ctx, "missing", "hello", "user-operator")
	assert.ErrorIs(t, err, lifecycle.ErrIncidentNotFound)

	// Comments do not touch canonical fields or the digest.
	got, err := f.engine.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, hashBefore, *got.AuditHash)
	assert.NoError(t, f.hasher.Verify(got))
}

func TestOutOfBandMutationIsDetected(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	inc, err := f.engine.CreateIncident(ctx, createInput(domain.SeveritySev3))
	require.NoError(t, err)

	// Write that bypasses the engine: title changes, stored hash stays.
	require.True(t, f.store.Tamper(inc.ID, func(i *domain.Incident) {
		i.Title = "nothing happened here"
	}))

	got, err := f.engine.GetIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.hasher.Verify(got), audit.ErrTampered)
}

func TestConcurrentMutationsOnDistinctIncidents(t *testing.T) {
	f := newFixture(t, lifecycle.Options{})
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	for i := range ids {
		inc, err := f.engine.CreateIncident(ctx, createInput(domain.SeveritySev4))
		require.NoError(t, err)
		ids[i] = inc.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.engine.TransitionStatus(ctx, id, domain.StatusTriaged, "triage", "op")
		}(i, id)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "incident %d", i)
		got, err := f.engine.GetIncident(ctx, ids[i])
		require.NoError(t, err)
		assert.Equal(t, domain.StatusTriaged, got.Status)
		assert.NoError(t, f.hasher.Verify(got))
	}
}
