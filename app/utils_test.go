package app

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/harvest/db"
	"go.hackfix.me/harvest/models"
)

var timeNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

type testApp struct {
	*App
	db             *db.DB
	stdout, stderr *safeBuffer
	env            *mockEnv
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	// A unique name per app, to avoid clashing of in-memory SQLite DBs.
	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	// Not using just :memory: to avoid 'no such table' issue.
	// See https://github.com/mattn/go-sqlite3#faq
	d, err := db.Open(t.Context(),
		fmt.Sprintf("file:harvest-%x?mode=memory&cache=shared", rndName), timeNowFn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	stdout, stderr := newSafeBuffer(), newSafeBuffer()
	env := &mockEnv{env: map[string]string{}}
	opts := []Option{
		WithTimeNow(timeNowFn),
		WithEnv(env),
		WithDB(d),
		WithContext(t.Context()),
		WithFDs(&bytes.Buffer{}, stdout, stderr),
		WithFS(memoryfs.New()),
		WithLogger(false, false),
	}
	app, err := New("harvest", "/config.json", "/data", opts...)
	require.NoError(t, err)

	return &testApp{App: app, db: d, stdout: stdout, stderr: stderr, env: env}
}

// Run runs the app with args, and returns what it wrote to stdout.
func (ta *testApp) Run(args ...string) (string, error) {
	ta.stdout.Reset()
	ta.stderr.Reset()
	err := ta.App.Run(args)

	return ta.stdout.String(), err
}

type mockEnv struct {
	mx  sync.RWMutex
	env map[string]string
}

var _ models.Environment = (*mockEnv)(nil)

func (me *mockEnv) Get(key string) string {
	me.mx.RLock()
	defer me.mx.RUnlock()
	return me.env[key]
}

func (me *mockEnv) Set(key, val string) error {
	me.mx.Lock()
	defer me.mx.Unlock()
	me.env[key] = val
	return nil
}

// safeBuffer is a thread-safe buffer.
type safeBuffer struct {
	mx  sync.RWMutex
	buf *bytes.Buffer
}

func newSafeBuffer() *safeBuffer {
	return &safeBuffer{buf: &bytes.Buffer{}}
}

func (b *safeBuffer) Write(p []byte) (n int, err error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Reset() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.buf.Reset()
}

func (b *safeBuffer) String() string {
	b.mx.RLock()
	defer b.mx.RUnlock()
	return b.buf.String()
}
