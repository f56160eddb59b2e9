package sync

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	gosync "sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	clientapi "github.com/iudanet/ledgersync/internal/client/api"
	"github.com/iudanet/ledgersync/internal/client/storage"
	"github.com/iudanet/ledgersync/internal/client/storage/boltdb"
	"github.com/iudanet/ledgersync/internal/client/storage/sqlite"
	"github.com/iudanet/ledgersync/internal/codec"
	"github.com/iudanet/ledgersync/internal/crdt"
	"github.com/iudanet/ledgersync/internal/crypto"
	"github.com/iudanet/ledgersync/pkg/api"
)

const (
	testFileID  = "file-1"
	testGroupID = "group-1"
)

var testEpoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryRelay хранит сообщения группы в памяти и отвечает так же,
// как relay-сервер: новые сообщения выбираются до добавления входящих
type memoryRelay struct {
	mu       gosync.Mutex
	groupID  string
	messages map[string]api.MessageEnvelope
	merkle   crdt.Trie
	calls    int

	// err возвращается вместо ответа
	err error
	// beforeRespond вызывается после обработки запроса
	beforeRespond func(round int, resp *api.SyncResponse)
}

func newMemoryRelay() *memoryRelay {
	return &memoryRelay{
		groupID:  testGroupID,
		messages: make(map[string]api.MessageEnvelope),
		merkle:   crdt.EmptyTrie(),
	}
}

func (r *memoryRelay) PostBinary(_ context.Context, path string, body []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if path != SyncPath {
		return nil, &clientapi.PostError{Reason: api.ReasonInvalidRequest, Status: 400}
	}

	var req api.SyncRequest
	if err := req.Unmarshal(body); err != nil {
		return nil, err
	}
	if req.GroupID != r.groupID {
		return nil, &clientapi.PostError{Reason: api.ReasonFileHasReset, Status: 400}
	}

	keys := make([]string, 0, len(r.messages))
	for ts := range r.messages {
		if ts > req.Since {
			keys = append(keys, ts)
		}
	}
	sort.Strings(keys)

	resp := api.SyncResponse{}
	for _, ts := range keys {
		resp.Messages = append(resp.Messages, r.messages[ts])
	}

	for _, env := range req.Messages {
		if _, ok := r.messages[env.Timestamp]; ok {
			continue
		}
		ts, err := crdt.ParseTimestamp(env.Timestamp)
		if err != nil {
			return nil, err
		}
		r.messages[env.Timestamp] = env
		r.merkle = crdt.Insert(r.merkle, ts)
	}
	r.merkle = crdt.Prune(r.merkle, crdt.DefaultPruneKeep)

	merkle, err := json.Marshal(r.merkle)
	if err != nil {
		return nil, err
	}
	resp.Merkle = string(merkle)

	if r.beforeRespond != nil {
		r.beforeRespond(r.calls, &resp)
	}
	return resp.Marshal(), nil
}

func (r *memoryRelay) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *memoryRelay) Hash() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.merkle.Hash
}

type testClient struct {
	engine *Engine
	store  *sqlite.Storage
	prefs  *boltdb.Storage
	dir    string
}

func newTestClient(t *testing.T, transport Transport, wall clockwork.Clock, opts ...Option) *testClient {
	t.Helper()

	dir := t.TempDir()
	ctx := context.Background()

	store, err := sqlite.New(ctx, filepath.Join(dir, "db.sqlite"))
	require.NoError(t, err)
	prefs, err := boltdb.New(ctx, filepath.Join(dir, "metadata.db"))
	require.NoError(t, err)

	require.NoError(t, prefs.SaveCheckpoint(ctx, &storage.Checkpoint{
		FileID:  testFileID,
		GroupID: testGroupID,
	}))

	c := &testClient{store: store, prefs: prefs, dir: dir}
	c.engine = c.open(t, transport, wall, opts...)

	t.Cleanup(func() {
		c.engine.Close()
		_ = store.Close()
		_ = prefs.Close()
	})
	return c
}

func (c *testClient) open(t *testing.T, transport Transport, wall clockwork.Clock, opts ...Option) *Engine {
	t.Helper()

	opts = append([]Option{WithWallClock(wall)}, opts...)
	e, err := NewEngine(context.Background(), c.store, c.prefs, transport,
		codec.New(crypto.NewKeyring()), testLogger(), opts...)
	require.NoError(t, err)
	return e
}

// eventRecorder собирает события движка
type eventRecorder struct {
	mu     gosync.Mutex
	events []Event
}

func recordEvents(e *Engine) *eventRecorder {
	r := &eventRecorder{}
	e.Subscribe(func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	})
	return r
}

func (r *eventRecorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		types = append(types, ev.Type)
	}
	return types
}

func (r *eventRecorder) Last(typ EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return Event{}, false
}
