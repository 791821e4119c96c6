package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pixelbot/internal/backend"
	"pixelbot/internal/domain"
	"pixelbot/internal/queue"
)

type fakeGenRepo struct {
	mu   sync.Mutex
	gens map[int64]*domain.Generation
	next int64
}

func newFakeGenRepo() *fakeGenRepo {
	return &fakeGenRepo{gens: make(map[int64]*domain.Generation), next: 1}
}

func (f *fakeGenRepo) add(gen domain.Generation) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	gen.ID = f.next
	f.next++
	f.gens[gen.ID] = &gen
	return gen.ID
}

func (f *fakeGenRepo) Create(_ context.Context, gen *domain.Generation) (int64, error) {
	return f.add(*gen), nil
}

// The fakes refuse writes on a dead context the way the pgx-backed
// repositories do, so settlement paths cannot lean on an already
// cancelled worker context.
func (f *fakeGenRepo) MarkSubmitted(ctx context.Context, id int64, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.gens[id]; ok && g.Status == domain.StatusQueued {
		now := time.Now()
		g.Status = domain.StatusSubmitted
		g.JobHandle = handle
		g.SubmittedAt = &now
	}
	return nil
}

func (f *fakeGenRepo) MarkPolling(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.gens[id]; ok && g.Status == domain.StatusSubmitted {
		g.Status = domain.StatusPolling
	}
	return nil
}

func (f *fakeGenRepo) Finish(ctx context.Context, id int64, status domain.GenerationStatus, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.gens[id]; ok && g.CompletedAt == nil {
		now := time.Now()
		g.Status = status
		g.CompletedAt = &now
		g.ErrorMessage = errMsg
	}
	return nil
}

func (f *fakeGenRepo) MarkRefunded(ctx context.Context, id int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gens[id]
	if !ok || g.RefundedAt != nil {
		return false, nil
	}
	now := time.Now()
	g.RefundedAt = &now
	return true, nil
}

func (f *fakeGenRepo) GetByID(_ context.Context, id int64) (*domain.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gens[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *g
	return &copied, nil
}

func (f *fakeGenRepo) ListUnsettled(_ context.Context) ([]domain.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Generation
	for _, g := range f.gens {
		if !g.Status.Terminal() {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (f *fakeGenRepo) CountByStatus(_ context.Context) (map[domain.GenerationStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[domain.GenerationStatus]int)
	for _, g := range f.gens {
		out[g.Status]++
	}
	return out, nil
}

func (f *fakeGenRepo) get(t *testing.T, id int64) domain.Generation {
	t.Helper()
	g, err := f.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get generation %d: %v", id, err)
	}
	return *g
}

// fakeBackend scripts submit and a sequence of poll results per handle.
type fakeBackend struct {
	mu        sync.Mutex
	submitErr error
	polls     []backend.PollResult
	pollErrs  []error
	pollCount int
	submitted []string
}

func (f *fakeBackend) Submit(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, prompt)
	return fmt.Sprintf("handle-%d", len(f.submitted)), nil
}

func (f *fakeBackend) Poll(_ context.Context, _ string) (backend.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.pollCount
	f.pollCount++
	if i < len(f.pollErrs) && f.pollErrs[i] != nil {
		return backend.PollResult{}, f.pollErrs[i]
	}
	if i < len(f.polls) {
		return f.polls[i], nil
	}
	if len(f.polls) == 0 {
		return backend.PollResult{State: backend.StatePending}, nil
	}
	return f.polls[len(f.polls)-1], nil
}

type sentText struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu     sync.Mutex
	texts  []sentText
	photos []sentText
	images [][]byte
}

func (f *fakeNotifier) SendMessage(ctx context.Context, chatID int64, text, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentText{chatID, text})
	return nil
}

func (f *fakeNotifier) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, sentText{chatID, caption})
	f.images = append(f.images, photo)
	return nil
}

func (f *fakeNotifier) photoCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.photos)
}

type fakeSettler struct {
	mu        sync.Mutex
	gens      *fakeGenRepo
	refunds   []int64
	generated []int64
}

// Refund mirrors ledger.Refund's contract: claim the refund slot on the
// generation row first, and restore the balance only as the claim winner.
func (f *fakeSettler) Refund(ctx context.Context, _ int64, generationID int64, _ domain.DebitKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	claimed, err := f.gens.MarkRefunded(ctx, generationID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, generationID)
	return nil
}

func (f *fakeSettler) NoteGenerated(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, userID)
	return nil
}

func (f *fakeSettler) refundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}

type harness struct {
	dispatcher *Dispatcher
	queue      *queue.Queue
	gate       *queue.Gate
	gens       *fakeGenRepo
	backend    *fakeBackend
	notifier   *fakeNotifier
	settler    *fakeSettler
}

func newHarness(be *fakeBackend, workers int) *harness {
	q := queue.New(10)
	gate := queue.NewGate()
	gens := newFakeGenRepo()
	notifier := &fakeNotifier{}
	settler := &fakeSettler{gens: gens}
	d := New(Config{
		Queue:        q,
		Gate:         gate,
		Backend:      be,
		Notifier:     notifier,
		Generations:  gens,
		Ledger:       settler,
		Logger:       zerolog.Nop(),
		Workers:      workers,
		PollInterval: time.Millisecond,
		MaxPollTime:  50 * time.Millisecond,
	})
	return &harness{dispatcher: d, queue: q, gate: gate, gens: gens, backend: be, notifier: notifier, settler: settler}
}

// admit mimics the webhook's admission: row insert, gate, enqueue.
func (h *harness) admit(t *testing.T, userID int64, prompt string) int64 {
	t.Helper()
	id := h.gens.add(domain.Generation{UserID: userID, Prompt: prompt, Status: domain.StatusQueued, DebitKind: domain.DebitFree})
	if !h.gate.Acquire(userID) {
		t.Fatalf("gate refused user %d", userID)
	}
	if err := h.queue.TryEnqueue(queue.Item{GenerationID: id, UserID: userID, Prompt: prompt, DebitKind: domain.DebitFree}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return id
}

func (h *harness) runUntilSettled(t *testing.T, ids ...int64) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.dispatcher.Start(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for {
		// The gate is released only after notifications go out, so waiting
		// for it means settlement finished, not just the status write.
		settled := h.gate.Active() == 0
		for _, id := range ids {
			if !h.gens.get(t, id).Status.Terminal() {
				settled = false
			}
		}
		if settled {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("jobs not settled in time")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	h.dispatcher.Wait()
}

func TestDispatcherCompletesJob(t *testing.T) {
	image := []byte{1, 2, 3}
	be := &fakeBackend{polls: []backend.PollResult{
		{State: backend.StatePending},
		{State: backend.StateCompleted, Image: image},
	}}
	h := newHarness(be, 1)

	id := h.admit(t, 42, "a fox")
	h.runUntilSettled(t, id)

	gen := h.gens.get(t, id)
	if gen.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", gen.Status)
	}
	if gen.CompletedAt == nil || gen.SubmittedAt == nil || gen.JobHandle == "" {
		t.Fatalf("missing timestamps or handle: %+v", gen)
	}
	if h.settler.refundCount() != 0 {
		t.Fatalf("completed job was refunded")
	}
	if h.notifier.photoCount() != 1 || string(h.notifier.images[0]) != string(image) {
		t.Fatalf("photo not delivered")
	}
	if len(h.settler.generated) != 1 || h.settler.generated[0] != 42 {
		t.Fatalf("total_generated not counted: %v", h.settler.generated)
	}
	if h.gate.Active() != 0 {
		t.Fatalf("gate not released")
	}
}

func TestDispatcherSubmitFailureSkipsPolling(t *testing.T) {
	be := &fakeBackend{submitErr: fmt.Errorf("%w: http 503", domain.ErrBackendUnavailable)}
	h := newHarness(be, 1)

	id := h.admit(t, 7, "a fox")
	h.runUntilSettled(t, id)

	gen := h.gens.get(t, id)
	if gen.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", gen.Status)
	}
	if gen.ErrorMessage == "" {
		t.Fatalf("error message not recorded")
	}
	if gen.JobHandle != "" {
		t.Fatalf("handle set despite submit failure")
	}
	if gen.CompletedAt == nil {
		t.Fatalf("completed_at not set on terminal state")
	}
	if h.settler.refundCount() != 1 {
		t.Fatalf("refunds = %d, want 1", h.settler.refundCount())
	}
	if be.pollCount != 0 {
		t.Fatalf("polling happened after submit failure")
	}
}

func TestDispatcherBackendFailureRefunds(t *testing.T) {
	be := &fakeBackend{polls: []backend.PollResult{
		{State: backend.StateFailed, Reason: "CUDA out of memory"},
	}}
	h := newHarness(be, 1)

	id := h.admit(t, 7, "a fox")
	h.runUntilSettled(t, id)

	gen := h.gens.get(t, id)
	if gen.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", gen.Status)
	}
	if !strings.Contains(gen.ErrorMessage, domain.ErrBackendFailure.Error()) ||
		!strings.Contains(gen.ErrorMessage, "CUDA out of memory") {
		t.Fatalf("unexpected error message: %s", gen.ErrorMessage)
	}
	if h.settler.refundCount() != 1 {
		t.Fatalf("refunds = %d, want 1", h.settler.refundCount())
	}
}

func TestDispatcherTimesOutAfterBudget(t *testing.T) {
	// Backend never answers terminally.
	be := &fakeBackend{}
	h := newHarness(be, 1)

	id := h.admit(t, 7, "a fox")
	h.runUntilSettled(t, id)

	gen := h.gens.get(t, id)
	if gen.Status != domain.StatusTimedOut {
		t.Fatalf("status = %s, want timed_out", gen.Status)
	}
	if !strings.Contains(gen.ErrorMessage, domain.ErrTimedOut.Error()) {
		t.Fatalf("timeout reason not recorded: %q", gen.ErrorMessage)
	}
	if h.settler.refundCount() != 1 {
		t.Fatalf("refunds = %d, want 1", h.settler.refundCount())
	}
}

func TestDispatcherTimeoutIsStableAgainstLateSuccess(t *testing.T) {
	be := &fakeBackend{}
	h := newHarness(be, 1)

	id := h.admit(t, 7, "a fox")
	h.runUntilSettled(t, id)

	if got := h.gens.get(t, id).Status; got != domain.StatusTimedOut {
		t.Fatalf("status = %s, want timed_out", got)
	}

	// A success surfacing after the local timeout must not rewrite the
	// terminal record or claw back the refund.
	_ = h.gens.Finish(context.Background(), id, domain.StatusCompleted, "")
	gen := h.gens.get(t, id)
	if gen.Status != domain.StatusTimedOut {
		t.Fatalf("terminal state regressed to %s", gen.Status)
	}
	if gen.RefundedAt == nil {
		t.Fatalf("refund marker lost")
	}
	if h.notifier.photoCount() != 0 {
		t.Fatalf("photo delivered after timeout")
	}
}

func TestDispatcherPollTransportErrorKeepsPolling(t *testing.T) {
	be := &fakeBackend{
		pollErrs: []error{fmt.Errorf("%w: connection refused", domain.ErrBackendUnavailable)},
		polls: []backend.PollResult{
			{}, // consumed by the scripted error above
			{State: backend.StateCompleted, Image: []byte{9}},
		},
	}
	h := newHarness(be, 1)

	id := h.admit(t, 7, "a fox")
	h.runUntilSettled(t, id)

	if got := h.gens.get(t, id).Status; got != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
}

func TestDispatcherSingleWorkerPreservesAdmissionOrder(t *testing.T) {
	be := &fakeBackend{polls: []backend.PollResult{{State: backend.StateCompleted, Image: []byte{1}}}}
	h := newHarness(be, 1)

	var ids []int64
	for i, prompt := range []string{"first", "second", "third"} {
		ids = append(ids, h.admit(t, int64(100+i), prompt))
	}
	h.runUntilSettled(t, ids...)

	be.mu.Lock()
	defer be.mu.Unlock()
	want := []string{"first", "second", "third"}
	for i, prompt := range want {
		if be.submitted[i] != prompt {
			t.Fatalf("dispatch order %v, want %v", be.submitted, want)
		}
	}
}

func TestDispatcherReconcile(t *testing.T) {
	be := &fakeBackend{polls: []backend.PollResult{{State: backend.StateCompleted, Image: []byte{5}}}}
	h := newHarness(be, 1)

	now := time.Now()
	withHandle := h.gens.add(domain.Generation{UserID: 1, Prompt: "resumable", Status: domain.StatusPolling, JobHandle: "handle-old", DebitKind: domain.DebitFree, SubmittedAt: &now})
	noHandle := h.gens.add(domain.Generation{UserID: 2, Prompt: "lost", Status: domain.StatusQueued, DebitKind: domain.DebitCredit})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.dispatcher.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	h.dispatcher.Wait()

	resumed := h.gens.get(t, withHandle)
	if resumed.Status != domain.StatusCompleted {
		t.Fatalf("resumed job status = %s, want completed", resumed.Status)
	}

	lost := h.gens.get(t, noHandle)
	if lost.Status != domain.StatusFailed {
		t.Fatalf("lost job status = %s, want failed", lost.Status)
	}
	if h.settler.refundCount() != 1 {
		t.Fatalf("refunds = %d, want 1 (the lost job)", h.settler.refundCount())
	}
	if lost.ErrorMessage == "" {
		t.Fatalf("reconciliation error message missing")
	}
}

func TestDispatcherShutdownSettlesInFlightJob(t *testing.T) {
	be := &fakeBackend{} // pending forever
	h := newHarness(be, 1)
	h.dispatcher.maxPollTime = 10 * time.Second

	id := h.admit(t, 7, "a fox")
	ctx, cancel := context.WithCancel(context.Background())
	h.dispatcher.Start(ctx)

	// Let the job get into its poll loop, then stop the dispatcher.
	deadline := time.Now().Add(2 * time.Second)
	for {
		be.mu.Lock()
		n := be.pollCount
		be.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("job never started polling")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	h.dispatcher.Wait()

	gen := h.gens.get(t, id)
	if !gen.Status.Terminal() {
		t.Fatalf("job left unsettled at shutdown: %s", gen.Status)
	}
	if !strings.Contains(gen.ErrorMessage, "shutdown") {
		t.Fatalf("shutdown reason not recorded: %q", gen.ErrorMessage)
	}
	if h.settler.refundCount() != 1 {
		t.Fatalf("refunds = %d, want 1", h.settler.refundCount())
	}
}

var _ domain.GenerationRepository = (*fakeGenRepo)(nil)
