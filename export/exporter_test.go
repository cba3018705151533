package export

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maxpert/slotkeeper/db"
	"github.com/maxpert/slotkeeper/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	key     string
	record  Record
}

type memorySink struct {
	mu       sync.Mutex
	messages []published
	failures int
	closed   bool
}

func (m *memorySink) Publish(_ context.Context, subject, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("broker unavailable")
	}
	var r Record
	if err := json.Unmarshal(value, &r); err != nil {
		return err
	}
	m.messages = append(m.messages, published{subject: subject, key: key, record: r})
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memorySink) received() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.messages...)
}

func membershipEvent(typ db.MembershipEventType, member string) notify.Event {
	return notify.Event{Kind: notify.KindMembership, Membership: &db.MembershipEvent{Type: typ, Member: member}}
}

func notificationEvent(artifact, typ string) notify.Event {
	return notify.Event{Kind: notify.KindNotification, Notification: &db.ClusterNotification{
		OriginatedNodeID: "n2",
		Artifact:         artifact,
		Type:             typ,
		Payload:          `{"queue":"orders"}`,
	}}
}

func openTestExporter(t *testing.T) *Exporter {
	t.Helper()
	e, err := Open(Options{
		Path:   filepath.Join(t.TempDir(), "export_log"),
		NodeID: "n1",
		Clock:  func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
	require.NoError(t, err)
	return e
}

func TestRecordFromEvent(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)

	r, err := RecordFromEvent(membershipEvent(db.MemberRemoved, "n3"), "n1", at)
	require.NoError(t, err)
	assert.Equal(t, "membership", r.Kind)
	assert.Equal(t, "MEMBER_REMOVED", r.Type)
	assert.Equal(t, ArtifactMembership, r.Artifact)
	assert.Equal(t, "n3", r.Member)
	assert.Equal(t, "n1", r.Origin)
	assert.Equal(t, at.UnixMilli(), r.Timestamp)
	assert.Equal(t, "slotkeeper.membership.member_removed", r.Subject("slotkeeper"))
	assert.Equal(t, "n3", r.Key())

	r, err = RecordFromEvent(notificationEvent("queue", "deleted"), "n1", at)
	require.NoError(t, err)
	assert.Equal(t, "n2", r.Origin)
	assert.Equal(t, "queue.deleted", r.Subject(""))
	assert.Equal(t, "queue", r.Key())

	_, err = RecordFromEvent(notify.Event{Kind: notify.KindMembership}, "n1", at)
	assert.Error(t, err)
}

func TestWorkerDeliversInOrderAndSkipsFiltered(t *testing.T) {
	e := openTestExporter(t)
	defer e.Stop()

	ctx := context.Background()
	require.NoError(t, e.Export(ctx, membershipEvent(db.MemberAdded, "n2")))
	require.NoError(t, e.Export(ctx, notificationEvent("queue", "deleted")))
	require.NoError(t, e.Export(ctx, membershipEvent(db.MemberRemoved, "n2")))

	filter, err := NewFilter([]string{"MEMBER_*"}, nil)
	require.NoError(t, err)
	sink := &memorySink{}
	w, err := newWorker(e.Log(), WorkerConfig{Name: "members", Sink: sink, Filter: filter, TopicPrefix: "sk"})
	require.NoError(t, err)

	n, err := w.drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(3), w.Cursor())

	got := sink.received()
	require.Len(t, got, 2)
	assert.Equal(t, "sk.membership.member_added", got[0].subject)
	assert.Equal(t, "sk.membership.member_removed", got[1].subject)
	assert.Equal(t, "n2", got[1].key)

	c, err := e.Log().Cursor("members")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), c)
}

func TestWorkerRetriesUntilSinkRecovers(t *testing.T) {
	e := openTestExporter(t)
	defer e.Stop()

	ctx := context.Background()
	require.NoError(t, e.Export(ctx, notificationEvent("queue", "created")))

	sink := &memorySink{failures: 2}
	w, err := newWorker(e.Log(), WorkerConfig{Name: "flaky", Sink: sink, RetryInitial: time.Millisecond, RetryMax: 2 * time.Millisecond})
	require.NoError(t, err)

	n, err := w.drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, sink.received(), 1)
}

func TestWorkerStopsRetryingOnCancel(t *testing.T) {
	e := openTestExporter(t)
	defer e.Stop()

	require.NoError(t, e.Export(context.Background(), notificationEvent("queue", "created")))

	sink := &memorySink{failures: 1 << 30}
	w, err := newWorker(e.Log(), WorkerConfig{Name: "down", Sink: sink, RetryInitial: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	n, err := w.drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, n)
	assert.Zero(t, w.Cursor())
}

func TestExporterRunsSinks(t *testing.T) {
	e := openTestExporter(t)

	sink := &memorySink{}
	require.NoError(t, e.AddSink(WorkerConfig{Name: "all", Sink: sink, PollInterval: 5 * time.Millisecond}))
	assert.Error(t, e.AddSink(WorkerConfig{Name: "all", Sink: &memorySink{}}))

	e.Start()
	ctx := context.Background()
	require.NoError(t, e.Export(ctx, membershipEvent(db.CoordinatorChanged, "n1")))
	require.NoError(t, e.Export(ctx, notificationEvent("binding", "created")))

	require.Eventually(t, func() bool { return len(sink.received()) == 2 }, 5*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		st := e.Sinks()
		return len(st) == 1 && st[0].Cursor == 2 && st[0].Lag == 0
	}, 5*time.Second, 5*time.Millisecond)

	e.Stop()
	assert.True(t, sink.closed)
}

func TestExporterImplementsRelayExporter(t *testing.T) {
	var _ notify.Exporter = (*Exporter)(nil)
}
