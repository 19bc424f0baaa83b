package remrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remrun/remrun/backend"
	"github.com/remrun/remrun/results"
	"github.com/remrun/remrun/types"
)

// stubBackend is a scriptable in-memory backend. Results become visible to
// polls in the order of the reveal schedule, one batch per poll.
type stubBackend struct {
	mu sync.Mutex

	submitErr error
	submitted [][]backend.CaseRef
	nextRun   int

	// batches[runID] is consumed one entry per poll; once exhausted, every
	// poll returns the union of all batches.
	batches map[backend.RunID][][]types.CaseResult
	polled  map[backend.RunID]int
	pollErr error

	artifacts    map[string]string
	fetchErr     error
	fetchCalls   map[string]int
	fetchStarted chan string
	fetchRelease chan struct{}
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		batches:    make(map[backend.RunID][][]types.CaseResult),
		polled:     make(map[backend.RunID]int),
		artifacts:  make(map[string]string),
		fetchCalls: make(map[string]int),
	}
}

func (s *stubBackend) SubmitRun(_ context.Context, _ []string, cases []backend.CaseRef) (backend.RunID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.submitted = append(s.submitted, cases)
	s.nextRun++
	id := backend.RunID(fmt.Sprintf("run-%d", s.nextRun))
	if len(cases) > 0 {
		if scripted, ok := s.batches[backend.RunID(cases[0].Suite)]; ok {
			s.batches[id] = scripted
		}
	}
	return id, nil
}

func (s *stubBackend) PollResults(_ context.Context, id backend.RunID) ([]types.CaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollErr != nil {
		err := s.pollErr
		s.pollErr = nil
		return nil, err
	}

	batches := s.batches[id]
	upto := s.polled[id] + 1
	if upto > len(batches) {
		upto = len(batches)
	}
	s.polled[id] = upto

	var known []types.CaseResult
	for _, batch := range batches[:upto] {
		known = append(known, batch...)
	}
	return known, nil
}

func (s *stubBackend) FetchArtifact(_ context.Context, artifactID string) (string, error) {
	s.mu.Lock()
	s.fetchCalls[artifactID]++
	started := s.fetchStarted
	release := s.fetchRelease
	content, ok := s.artifacts[artifactID]
	err := s.fetchErr
	s.mu.Unlock()

	if started != nil {
		started <- artifactID
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return "", err
	}
	if !ok {
		content = "artifact " + artifactID
	}
	return content, nil
}

func (s *stubBackend) fetchCount(artifactID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls[artifactID]
}

// script registers the reveal schedule for the given suite. The schedule is
// attached to whatever run id its submission is assigned.
func (s *stubBackend) script(suite string, batches ...[]types.CaseResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[backend.RunID(suite)] = batches
}

type sinkRecorder struct {
	mu       sync.Mutex
	received map[string]string
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{received: make(map[string]string)}
}

func (r *sinkRecorder) sink(artifactID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received[artifactID] = content
}

func (r *sinkRecorder) get(artifactID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	content, ok := r.received[artifactID]
	return content, ok
}

func newTestOrchestrator(t *testing.T, stub *stubBackend, sink *sinkRecorder) *Orchestrator {
	t.Helper()
	cfg := OrchestratorConfig{
		Backend:        stub,
		Log:            log.New(),
		PollInterval:   2 * time.Millisecond,
		DebounceWindow: time.Millisecond,
	}
	if sink != nil {
		cfg.ArtifactSink = sink.sink
	}
	o, err := NewOrchestrator(cfg)
	require.NoError(t, err)
	return o
}

func passResult(suite, name string) types.CaseResult {
	return types.CaseResult{Suite: suite, Case: name, Outcome: types.OutcomePass}
}

func TestRequestRunMixedOutcomes(t *testing.T) {
	stub := newStubBackend()
	sink := newSinkRecorder()
	stub.artifacts["log123"] = "stack dump"
	stub.script("OrderTest", []types.CaseResult{
		passResult("OrderTest", "testCreate"),
		{
			Suite:      "OrderTest",
			Case:       "testCancel",
			Outcome:    types.OutcomeFail,
			Message:    "assertion failed",
			ArtifactID: "log123",
		},
	})

	o := newTestOrchestrator(t, stub, sink)
	result, err := o.RequestRun(context.Background(), RunRequest{
		Suite: "OrderTest",
		Cases: []string{"testCreate", "testCancel"},
	})
	require.NoError(t, err)

	assert.Equal(t, "OrderTest", result.Suite)
	assert.Equal(t, types.StatusFailed, result.Status)
	assert.Equal(t, results.Stats{Total: 2, Passed: 1, Failed: 1}, result.Stats)

	node, ok := o.Run("OrderTest")
	require.True(t, ok)
	assert.Equal(t, types.StatusFailed, node.Status)

	created := node.Case("testCreate")
	require.NotNil(t, created)
	assert.Equal(t, types.StatusSuccess, created.Status)
	assert.Empty(t, created.ErrorDetail)

	cancelled := node.Case("testCancel")
	require.NotNil(t, cancelled)
	assert.Equal(t, types.StatusFailed, cancelled.Status)
	assert.Contains(t, cancelled.ErrorDetail, "assertion failed")
	assert.Equal(t, "log123", cancelled.ArtifactID)

	content, ok := sink.get("log123")
	require.True(t, ok)
	assert.Equal(t, "stack dump", content)
	assert.Equal(t, 1, stub.fetchCount("log123"))
}

func TestRequestRunAllPass(t *testing.T) {
	stub := newStubBackend()
	stub.script("OrderTest", []types.CaseResult{
		passResult("OrderTest", "testCreate"),
		passResult("OrderTest", "testShip"),
	})

	o := newTestOrchestrator(t, stub, nil)
	result, err := o.RequestRun(context.Background(), RunRequest{
		Suite: "OrderTest",
		Cases: []string{"testCreate", "testShip"},
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusSuccess, result.Status)
	node, _ := o.Run("OrderTest")
	assert.Equal(t, types.StatusSuccess, node.Status)
}

func TestRequestRunIncrementalResults(t *testing.T) {
	stub := newStubBackend()
	stub.script("OrderTest",
		[]types.CaseResult{passResult("OrderTest", "testCreate")},
		[]types.CaseResult{passResult("OrderTest", "testShip")},
		[]types.CaseResult{passResult("OrderTest", "testCancel")},
	)

	o := newTestOrchestrator(t, stub, nil)
	result, err := o.RequestRun(context.Background(), RunRequest{
		Suite: "OrderTest",
		Cases: []string{"testCreate", "testShip", "testCancel"},
	})
	require.NoError(t, err)
	assert.Equal(t, results.Stats{Total: 3, Passed: 3}, result.Stats)
	assert.Equal(t, types.StatusSuccess, result.Status)
}

func TestRequestRunSubmissionFailure(t *testing.T) {
	stub := newStubBackend()
	stub.submitErr = backend.NewSubmissionError(errors.New("backend down"))

	o := newTestOrchestrator(t, stub, nil)
	_, err := o.RequestRun(context.Background(), RunRequest{
		Suite: "OrderTest",
		Cases: []string{"testCreate"},
	})
	require.Error(t, err)
	assert.True(t, backend.IsSubmissionError(err))

	node, ok := o.Run("OrderTest")
	require.True(t, ok)
	assert.Equal(t, types.StatusFailed, node.Status)
	assert.Contains(t, node.ErrorDetail, "backend down")
	child := node.Case("testCreate")
	require.NotNil(t, child)
	assert.Equal(t, types.StatusFailed, child.Status)
}

func TestRequestRunMissingResult(t *testing.T) {
	stub := newStubBackend()
	stub.script("OrderTest", []types.CaseResult{
		passResult("OrderTest", "testCreate"),
	})

	o := newTestOrchestrator(t, stub, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := o.RequestRun(ctx, RunRequest{
		Suite: "OrderTest",
		Cases: []string{"testCreate", "testVanished"},
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusFailed, result.Status)
	assert.Equal(t, results.Stats{Total: 2, Passed: 1, Failed: 1}, result.Stats)

	node, _ := o.Run("OrderTest")
	vanished := node.Case("testVanished")
	require.NotNil(t, vanished)
	assert.Equal(t, types.StatusFailed, vanished.Status)
	assert.Contains(t, vanished.ErrorDetail, "no result reported")
	assert.Equal(t, types.StatusFailed, node.Status)
}

func TestRequestRunPollFailureIsTransient(t *testing.T) {
	stub := newStubBackend()
	stub.pollErr = backend.NewPollError(errors.New("temporarily busy"))
	stub.script("OrderTest", []types.CaseResult{
		passResult("OrderTest", "testCreate"),
	})

	o := newTestOrchestrator(t, stub, nil)
	result, err := o.RequestRun(context.Background(), RunRequest{
		Suite: "OrderTest",
		Cases: []string{"testCreate"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, result.Status)
}

func TestRequestRunSharedArtifactFetchedOnce(t *testing.T) {
	stub := newStubBackend()
	sink := newSinkRecorder()
	stub.fetchStarted = make(chan string, 1)
	stub.fetchRelease = make(chan struct{})
	stub.script("OrderTest", []types.CaseResult{
		{Suite: "OrderTest", Case: "testCreate", Outcome: types.OutcomeFail, ArtifactID: "log123"},
		{Suite: "OrderTest", Case: "testCancel", Outcome: types.OutcomeFail, ArtifactID: "log123"},
	})

	o := newTestOrchestrator(t, stub, sink)

	// Hold the download open until the second case has been applied, so the
	// dedup decision is made while the fetch is genuinely in flight.
	go func() {
		<-stub.fetchStarted
		for {
			if node, ok := o.Run("OrderTest"); ok {
				if c := node.Case("testCancel"); c != nil && c.Status.Terminal() {
					break
				}
			}
			time.Sleep(time.Millisecond)
		}
		close(stub.fetchRelease)
	}()

	result, err := o.RequestRun(context.Background(), RunRequest{
		Suite: "OrderTest",
		Cases: []string{"testCreate", "testCancel"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, result.Status)

	// One download serves both cases; both nodes still carry the reference.
	assert.Equal(t, 1, stub.fetchCount("log123"))
	node, _ := o.Run("OrderTest")
	assert.Equal(t, "log123", node.Case("testCreate").ArtifactID)
	assert.Equal(t, "log123", node.Case("testCancel").ArtifactID)
	assert.Equal(t, types.StatusFailed, node.Case("testCreate").Status)
	assert.Equal(t, types.StatusFailed, node.Case("testCancel").Status)
}

func TestRequestRunFetchFailureDoesNotChangeOutcome(t *testing.T) {
	stub := newStubBackend()
	sink := newSinkRecorder()
	stub.fetchErr = backend.NewFetchError("log123", errors.New("gone"))
	stub.script("OrderTest", []types.CaseResult{
		{Suite: "OrderTest", Case: "testCreate", Outcome: types.OutcomePass, ArtifactID: "log123"},
	})

	o := newTestOrchestrator(t, stub, sink)
	result, err := o.RequestRun(context.Background(), RunRequest{
		Suite: "OrderTest",
		Cases: []string{"testCreate"},
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusSuccess, result.Status)
	node, _ := o.Run("OrderTest")
	assert.Equal(t, types.StatusSuccess, node.Case("testCreate").Status)
	_, delivered := sink.get("log123")
	assert.False(t, delivered)
}

func TestRequestRunValidation(t *testing.T) {
	o := newTestOrchestrator(t, newStubBackend(), nil)

	_, err := o.RequestRun(context.Background(), RunRequest{Cases: []string{"a"}})
	assert.Error(t, err)

	_, err = o.RequestRun(context.Background(), RunRequest{Suite: "OrderTest"})
	assert.Error(t, err)
}

func TestRequestRunReplacesPreviousTree(t *testing.T) {
	stub := newStubBackend()
	stub.script("OrderTest", []types.CaseResult{
		passResult("OrderTest", "testCreate"),
	})

	o := newTestOrchestrator(t, stub, nil)
	_, err := o.RequestRun(context.Background(), RunRequest{
		Suite: "OrderTest",
		Cases: []string{"testCreate"},
	})
	require.NoError(t, err)

	stub.script("OrderTest", []types.CaseResult{
		passResult("OrderTest", "testShip"),
	})
	_, err = o.RequestRun(context.Background(), RunRequest{
		Suite: "OrderTest",
		Cases: []string{"testShip"},
	})
	require.NoError(t, err)

	node, ok := o.Run("OrderTest")
	require.True(t, ok)
	require.Len(t, node.Children, 1)
	assert.Equal(t, "testShip", node.Children[0].Name)
	assert.Len(t, o.Runs(), 1)
}

func TestRequestRunsBatch(t *testing.T) {
	stub := newStubBackend()
	stub.script("OrderTest", []types.CaseResult{
		passResult("OrderTest", "testCreate"),
	})
	stub.script("PaymentTest", []types.CaseResult{
		{Suite: "PaymentTest", Case: "testRefund", Outcome: types.OutcomeFail, Message: "declined"},
	})

	o := newTestOrchestrator(t, stub, nil)
	out, err := o.RequestRuns(context.Background(), []RunRequest{
		{Suite: "OrderTest", Cases: []string{"testCreate"}},
		{Suite: "PaymentTest", Cases: []string{"testRefund"}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, types.StatusSuccess, out[0].Status)
	assert.Equal(t, types.StatusFailed, out[1].Status)

	summary := results.Combine(derefResults(out))
	assert.Equal(t, types.StatusFailed, summary.Status)
	assert.Equal(t, 2, summary.Stats.Total)
}

func TestRequestRunsSubmissionFailureSynthesizesResult(t *testing.T) {
	stub := newStubBackend()
	stub.submitErr = backend.NewSubmissionError(errors.New("quota exceeded"))

	o := newTestOrchestrator(t, stub, nil)
	out, err := o.RequestRuns(context.Background(), []RunRequest{
		{Suite: "PaymentTest", Cases: []string{"testRefund", "testCharge"}},
	})
	require.Error(t, err)
	assert.True(t, backend.IsSubmissionError(err))
	require.Len(t, out, 1)
	assert.Equal(t, types.StatusFailed, out[0].Status)
	assert.Equal(t, results.Stats{Total: 2, Failed: 2}, out[0].Stats)
}

func TestClearRunsNotifies(t *testing.T) {
	stub := newStubBackend()
	stub.script("OrderTest", []types.CaseResult{
		passResult("OrderTest", "testCreate"),
	})

	o := newTestOrchestrator(t, stub, nil)
	_, err := o.RequestRun(context.Background(), RunRequest{
		Suite: "OrderTest",
		Cases: []string{"testCreate"},
	})
	require.NoError(t, err)
	require.Len(t, o.Runs(), 1)

	// Drain whatever the run itself left pending before counting.
	o.Flush()

	var mu sync.Mutex
	notified := 0
	o.OnChanged(func() {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	o.ClearRuns()
	o.Flush()

	assert.Empty(t, o.Runs())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, notified)
}

func TestOnChangedCoalescesBursts(t *testing.T) {
	stub := newStubBackend()
	stub.script("OrderTest", []types.CaseResult{
		passResult("OrderTest", "testCreate"),
		passResult("OrderTest", "testShip"),
		passResult("OrderTest", "testCancel"),
	})

	o := newTestOrchestrator(t, stub, nil)

	var mu sync.Mutex
	notified := 0
	o.OnChanged(func() {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	_, err := o.RequestRun(context.Background(), RunRequest{
		Suite: "OrderTest",
		Cases: []string{"testCreate", "testShip", "testCancel"},
	})
	require.NoError(t, err)
	o.Flush()

	// Every transition notifies, yet fewer events than transitions arrive.
	mu.Lock()
	count := notified
	mu.Unlock()
	assert.Greater(t, count, 0)
	assert.Less(t, count, 7)
}

func TestNewOrchestratorRequiresBackend(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorConfig{Log: log.New()})
	assert.Error(t, err)
}

func derefResults(in []*results.RunResult) []results.RunResult {
	out := make([]results.RunResult, 0, len(in))
	for _, r := range in {
		out = append(out, *r)
	}
	return out
}
