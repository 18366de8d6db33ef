package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/agm/internal/errors"
)

// mockConsumer implements EventConsumer for testing
type mockConsumer struct {
	name           string
	processedCount atomic.Int32
	errorOnProcess bool
	panicOnProcess bool
	mu             sync.Mutex
	events         []Event
}

func (m *mockConsumer) Name() string { return m.name }

func (m *mockConsumer) ProcessEvent(event Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	m.processedCount.Add(1)

	if m.panicOnProcess {
		panic("consumer blew up")
	}
	if m.errorOnProcess {
		return fmt.Errorf("mock error")
	}
	return nil
}

func (m *mockConsumer) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func waitForProcessed(t *testing.T, consumer *mockConsumer, expected int32) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			require.Failf(t, "timeout waiting for events", "expected %d events, got %d", expected, consumer.processedCount.Load())
			return
		case <-ticker.C:
			if consumer.processedCount.Load() >= expected {
				return
			}
		}
	}
}

func newTestBus(t *testing.T, bufferSize, workers int) *EventBus {
	t.Helper()
	eb := New(&Config{BufferSize: bufferSize, Workers: workers, Enabled: true})
	t.Cleanup(func() { _ = eb.Shutdown(time.Second) })
	return eb
}

func stateEvent(id uint32) *StateEvent {
	return NewStateEvent("session", EntitySession, id, id, "start", "prepared", "started")
}

func TestPublishWithoutConsumers(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, 10, 1)
	assert.False(t, eb.TryPublish(stateEvent(1)), "no consumers, nothing running")
	assert.False(t, eb.HasConsumers())
}

func TestPublishDeliversToAllConsumers(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, 100, 2)
	first := &mockConsumer{name: "first"}
	second := &mockConsumer{name: "second"}
	require.NoError(t, eb.RegisterConsumer(first))
	require.NoError(t, eb.RegisterConsumer(second))

	for i := range 10 {
		require.True(t, eb.TryPublish(stateEvent(uint32(i))))
	}

	waitForProcessed(t, first, 10)
	waitForProcessed(t, second, 10)

	stats := eb.GetStats()
	assert.Equal(t, uint64(10), stats.EventsReceived)
	assert.Equal(t, uint64(20), stats.EventsProcessed)
}

func TestDuplicateConsumerRejected(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, 10, 1)
	require.NoError(t, eb.RegisterConsumer(&mockConsumer{name: "dup"}))
	assert.Error(t, eb.RegisterConsumer(&mockConsumer{name: "dup"}))
}

func TestConsumerErrorsAndPanicsAreCounted(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, 10, 1)
	failing := &mockConsumer{name: "failing", errorOnProcess: true}
	panicking := &mockConsumer{name: "panicking", panicOnProcess: true}
	require.NoError(t, eb.RegisterConsumer(failing))
	require.NoError(t, eb.RegisterConsumer(panicking))

	require.True(t, eb.TryPublish(stateEvent(1)))
	waitForProcessed(t, panicking, 1)

	require.Eventually(t, func() bool {
		return eb.GetStats().ConsumerErrors == 2
	}, time.Second, 5*time.Millisecond)
}

// blockingConsumer holds the single worker so the buffer can fill up
type blockingConsumer struct {
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (b *blockingConsumer) Name() string { return "blocking" }

func (b *blockingConsumer) ProcessEvent(Event) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil
}

func TestFullBufferDropsEvents(t *testing.T) {
	t.Parallel()

	eb := newTestBus(t, 1, 1)
	blocker := &blockingConsumer{release: make(chan struct{}), entered: make(chan struct{})}
	require.NoError(t, eb.RegisterConsumer(blocker))

	require.True(t, eb.TryPublish(stateEvent(1)))
	<-blocker.entered

	require.True(t, eb.TryPublish(stateEvent(2)), "fills the one slot")
	assert.False(t, eb.TryPublish(stateEvent(3)), "buffer full")
	assert.Equal(t, uint64(1), eb.GetStats().EventsDropped)

	close(blocker.release)
}

func TestShutdownDrainsQueue(t *testing.T) {
	t.Parallel()

	eb := New(&Config{BufferSize: 100, Workers: 1, Enabled: true})
	consumer := &mockConsumer{name: "drain"}
	require.NoError(t, eb.RegisterConsumer(consumer))

	for i := range 20 {
		require.True(t, eb.TryPublish(stateEvent(uint32(i))))
	}
	require.NoError(t, eb.Shutdown(time.Second))

	assert.Equal(t, int32(20), consumer.processedCount.Load())
	assert.False(t, eb.TryPublish(stateEvent(99)), "closed bus rejects events")
	assert.Error(t, eb.RegisterConsumer(&mockConsumer{name: "late"}))
}

type recordingReporter struct {
	mu       sync.Mutex
	reported []*errors.EnhancedError
}

func (r *recordingReporter) ReportError(ee *errors.EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, ee)
}

func (r *recordingReporter) IsEnabled() bool { return true }

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reported)
}

// Not parallel: installs the package-level errors publisher.
func TestErrorsIntegration(t *testing.T) {
	eb := New(&Config{BufferSize: 10, Workers: 1, Enabled: true})
	reporter := &recordingReporter{}
	require.NoError(t, eb.RegisterConsumer(NewTelemetryConsumer(reporter)))

	InitializeErrorsIntegration(eb)
	t.Cleanup(func() {
		errors.SetEventPublisher(nil)
		_ = eb.Shutdown(time.Second)
	})

	_ = errors.New(errors.NewStd("graph exploded")).
		Component("session").
		Category(errors.CategoryGraph).
		Build()

	require.Eventually(t, func() bool { return reporter.count() == 1 }, time.Second, 5*time.Millisecond)

	adapter := NewEventPublisherAdapter(eb)
	assert.False(t, adapter.TryPublish("not an event"))
}

func TestGlobalInitialize(t *testing.T) {
	ResetForTesting()
	t.Cleanup(ResetForTesting)

	_, err := Initialize(&Config{Enabled: false})
	require.ErrorIs(t, err, ErrEventBusDisabled)
	assert.Nil(t, GetEventBus())

	eb, err := Initialize(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eb.Shutdown(time.Second) })

	again, err := Initialize(nil)
	require.NoError(t, err)
	assert.Same(t, eb, again)
	assert.Same(t, eb, GetEventBus())
}
