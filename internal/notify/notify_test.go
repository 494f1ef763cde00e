package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/loom/internal/block"
	"github.com/roach88/loom/internal/world"
)

type failing struct{}

func (failing) StatusChanged(context.Context, StatusEvent) error   { return errors.New("boom") }
func (failing) ContentChanged(context.Context, ContentEvent) error { return errors.New("bang") }

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	ctx := context.Background()
	var a, b Recorder
	m := Multi{&a, failing{}, &b}

	err := m.StatusChanged(ctx, StatusEvent{Seq: 1, BlockID: "x", Status: block.StatusIdle})
	assert.ErrorContains(t, err, "boom")
	err = m.ContentChanged(ctx, ContentEvent{Seq: 2, BlockID: "x"})
	assert.ErrorContains(t, err, "bang")

	assert.Len(t, a.Statuses(), 1)
	assert.Len(t, b.Statuses(), 1)
	assert.Len(t, a.Contents(), 1)
	assert.Len(t, b.Contents(), 1)
}

func TestRecorderFiltersAndResets(t *testing.T) {
	ctx := context.Background()
	var r Recorder
	require.NoError(t, r.StatusChanged(ctx, StatusEvent{BlockID: "a", Status: block.StatusLoading}))
	require.NoError(t, r.StatusChanged(ctx, StatusEvent{BlockID: "b", Status: block.StatusLoading}))
	require.NoError(t, r.StatusChanged(ctx, StatusEvent{BlockID: "a", Status: block.StatusIdle}))

	got := r.StatusesFor("a")
	require.Len(t, got, 2)
	assert.Equal(t, block.StatusIdle, got[1].Status)

	r.Reset()
	assert.Empty(t, r.Statuses())
}

func TestAsyncDeliversInOrder(t *testing.T) {
	var rec Recorder
	a := NewAsync(&rec, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.Run(context.Background())
	}()

	ctx := context.Background()
	for i := int64(1); i <= 50; i++ {
		require.NoError(t, a.StatusChanged(ctx, StatusEvent{Seq: i, BlockID: "b"}))
		require.NoError(t, a.ContentChanged(ctx, ContentEvent{Seq: i, BlockID: "b"}))
	}
	a.Stop()
	wg.Wait()

	statuses := rec.Statuses()
	require.Len(t, statuses, 50)
	for i, ev := range statuses {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	assert.Len(t, rec.Contents(), 50)

	// After Stop events are dropped, not delivered.
	require.NoError(t, a.StatusChanged(ctx, StatusEvent{Seq: 99}))
	assert.Len(t, rec.Statuses(), 50)
}

func TestAsyncStopsOnContextCancel(t *testing.T) {
	a := NewAsync(Nop{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAsyncLogsDeliveryFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	a := NewAsync(failing{}, logger)
	go func() { _ = a.Run(context.Background()) }()

	require.NoError(t, a.StatusChanged(context.Background(), StatusEvent{Seq: 7, BlockID: "b"}))
	a.Stop()
	assert.Contains(t, buf.String(), "status notification failed")
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	ctx := context.Background()

	require.NoError(t, l.StatusChanged(ctx, StatusEvent{Seq: 3, BlockID: "b1", From: block.StatusLoading, Status: block.StatusConflict}))
	require.NoError(t, l.ContentChanged(ctx, ContentEvent{
		Seq: 4, BlockID: "b1", Source: SourceUser,
		Changed: []world.Ref{{Type: world.Character, ID: "npc1"}},
	}))

	out := buf.String()
	assert.Contains(t, out, "status=conflict")
	assert.Contains(t, out, "character:npc1")
	assert.Contains(t, out, "source=user")
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSSubjects(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATS(pub, "")
	ctx := context.Background()

	require.NoError(t, n.StatusChanged(ctx, StatusEvent{Seq: 1, BlockID: "blk_1", Status: block.StatusLoading}))
	require.NoError(t, n.ContentChanged(ctx, ContentEvent{Seq: 2, BlockID: "blk_1", Fields: []string{FieldGameState}}))

	assert.Equal(t, []string{"loom.block.blk_1.status", "loom.block.blk_1.content"}, pub.subjects)

	var ev StatusEvent
	require.NoError(t, json.Unmarshal(pub.payloads[0], &ev))
	assert.Equal(t, block.StatusLoading, ev.Status)
}

func TestNATSEmbeddedRoundTrip(t *testing.T) {
	srv, err := NewEmbeddedServer(WithPort(-1))
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(srv.Shutdown)

	conn, err := Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	msgs := make(chan *nats.Msg, 4)
	sub, err := conn.ChanSubscribe("game.block.*.status", msgs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, conn.Flush())

	n := NewNATS(conn, "game")
	require.NoError(t, n.StatusChanged(context.Background(), StatusEvent{Seq: 5, BlockID: "b9", Status: block.StatusIdle}))
	require.NoError(t, conn.Flush())

	select {
	case msg := <-msgs:
		assert.Equal(t, "game.block.b9.status", msg.Subject)
		var ev StatusEvent
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, int64(5), ev.Seq)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
