package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clientapi "github.com/iudanet/ledgersync/internal/client/api"
	"github.com/iudanet/ledgersync/internal/client/iocli"
	"github.com/iudanet/ledgersync/internal/client/storage"
	"github.com/iudanet/ledgersync/internal/client/storage/boltdb"
	"github.com/iudanet/ledgersync/internal/config"
	"github.com/iudanet/ledgersync/internal/crypto"
	"github.com/iudanet/ledgersync/internal/server"
	"github.com/iudanet/ledgersync/pkg/api"
)

const testPassword = "correct-horse-battery"

// testRelay поднимает relay-сервер в процессе теста
func testRelay(t *testing.T) string {
	t.Helper()

	cfg := config.DefaultRelay()
	cfg.DBPath = filepath.Join(t.TempDir(), "relay.db")
	cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.ShutdownTimeout = time.Second

	srv, err := server.New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), "test")
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})

	// ошибки 4xx не повторяются, 5xx в тестах не ждем
	t.Setenv(config.EnvPrefix+"_RETRY_MAX", "0")
	t.Setenv(PasswordEnv, testPassword)
	return ts.URL
}

// device каталог данных одного клиента
type device struct {
	t       *testing.T
	dataDir string
	url     string
}

func newDevice(t *testing.T, url string) *device {
	return &device{t: t, dataDir: t.TempDir(), url: url}
}

// runInput выполняет команду с заданным вводом пользователя
func (d *device) runInput(input string, args ...string) (string, error) {
	d.t.Helper()

	var out bytes.Buffer
	term := iocli.NewStream(strings.NewReader(input), &out)

	args = append(args, "--data-dir", d.dataDir, "--log-level", "error")
	if d.url != "" {
		args = append(args, "--server-url", d.url)
	}
	err := Execute(context.Background(), term, BuildInfo{Version: "test"}, args)
	return out.String(), err
}

func (d *device) run(args ...string) (string, error) {
	d.t.Helper()
	return d.runInput("", args...)
}

func (d *device) mustRun(args ...string) string {
	d.t.Helper()
	out, err := d.run(args...)
	require.NoError(d.t, err, out)
	return out
}

// checkpoint читает привязку каталога к файлу
func (d *device) checkpoint() *storage.Checkpoint {
	d.t.Helper()

	prefs, err := boltdb.New(context.Background(), filepath.Join(d.dataDir, prefsFile))
	require.NoError(d.t, err)
	defer func() {
		_ = prefs.Close()
	}()

	cp, err := prefs.GetCheckpoint(context.Background())
	require.NoError(d.t, err)
	return cp
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return lines[len(lines)-1]
}

func TestVersion(t *testing.T) {
	// неверные настройки не мешают команде version
	t.Setenv(config.EnvPrefix+"_SERVER_URL", "not a url")

	var out bytes.Buffer
	err := Execute(context.Background(), iocli.NewStream(strings.NewReader(""), &out),
		BuildInfo{Version: "1.2.3", BuildDate: "today", GitCommit: "abc"}, []string{"version"})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Version:    1.2.3")
	assert.Contains(t, out.String(), "Git Commit: abc")
}

func TestInvalidConfig(t *testing.T) {
	d := newDevice(t, "ftp://relay")

	_, err := d.run("status")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestConfigInit(t *testing.T) {
	d := newDevice(t, "http://relay.example:5006")

	out := d.mustRun("config", "init")
	path := config.ClientConfigPath(d.dataDir)
	assert.Contains(t, out, path)

	// повторная запись только с --force
	_, err := d.run("config", "init")
	assert.Error(t, err)
	d.mustRun("config", "init", "--force")

	cfg, err := config.LoadClient(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://relay.example:5006", cfg.ServerURL)
	assert.Equal(t, d.dataDir, cfg.DataDir)

	// файл из каталога данных подхватывается без --config
	d.url = ""
	out = d.mustRun("status")
	assert.Contains(t, out, "Not logged in")
}

func TestStatus_Empty(t *testing.T) {
	d := newDevice(t, "http://localhost:1")

	out := d.mustRun("status")
	assert.Contains(t, out, "Not logged in")
	assert.Contains(t, out, ErrNoFile.Error())
}

func TestLocalEditsWithoutServer(t *testing.T) {
	// сервер недоступен, но правки сохраняются локально
	d := newDevice(t, "http://localhost:1")

	out := d.mustRun("set", "accounts", "acc-1", "name=Wallet", "sort_order=N:2")
	assert.Contains(t, out, "Saved locally")

	out = d.mustRun("get", "accounts", "acc-1", "missing")
	assert.Contains(t, out, `name = "Wallet"`)
	assert.Contains(t, out, "sort_order = 2")
	assert.Contains(t, out, "missing: not found")

	_, err := d.run("set", "unknown_table", "x", "a=b")
	assert.Error(t, err)

	_, err = d.run("set", "accounts", "acc-1", "no-equals-sign")
	assert.Error(t, err)

	_, err = d.run("sync")
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestTwoDevices(t *testing.T) {
	url := testRelay(t)
	laptop := newDevice(t, url)
	phone := newDevice(t, url)

	// правка до привязки к файлу уходит на сервер при создании файла
	laptop.mustRun("set", "accounts", "acc-1", "name=Checking", "--no-sync")

	out := laptop.mustRun("register", "alice")
	assert.Contains(t, out, "Registered alice")
	assert.Contains(t, out, "Logged in")

	out = laptop.mustRun("file", "create", "Household")
	assert.Contains(t, out, `Created file "Household"`)
	fileID := laptop.checkpoint().FileID

	out = laptop.mustRun("add", "payees", "name=Grocery")
	payeeID := lastLine(out)
	assert.Contains(t, out, "Saved and synced")

	out = phone.mustRun("login", "alice")
	assert.Contains(t, out, "Logged in as alice")

	out = phone.mustRun("file", "list")
	assert.Contains(t, out, fileID)
	assert.Contains(t, out, "Household")

	phone.mustRun("file", "use", fileID)
	assert.Equal(t, laptop.checkpoint().GroupID, phone.checkpoint().GroupID)
	assert.NotEqual(t, laptop.checkpoint().NodeID, phone.checkpoint().NodeID)

	out = phone.mustRun("get", "accounts", "acc-1")
	assert.Contains(t, out, `name = "Checking"`)
	out = phone.mustRun("get", "payees", payeeID)
	assert.Contains(t, out, `name = "Grocery"`)

	// привязанный каталог нельзя привязать повторно
	_, err := phone.run("file", "use", fileID)
	assert.Error(t, err)

	phone.mustRun("set", "accounts", "acc-1", "name=Savings")

	out = laptop.mustRun("sync")
	assert.Contains(t, out, "received 1 change(s)")
	assert.Contains(t, out, "updated accounts")

	out = laptop.mustRun("get", "accounts", "acc-1")
	assert.Contains(t, out, `name = "Savings"`)

	out = laptop.mustRun("repair")
	assert.Contains(t, out, "consistent")

	out = laptop.mustRun("status")
	assert.Contains(t, out, "Username: alice")
	assert.Contains(t, out, "File:        "+fileID)
	assert.Contains(t, out, "Encryption:  off")
	assert.NotContains(t, out, "Last synced: never")

	// сброс на одном устройстве отключает остальные
	out = laptop.mustRun("reset")
	assert.Contains(t, out, "Sync history reset")

	_, err = phone.run("sync")
	require.Error(t, err)
	assert.True(t, clientapi.IsPostReason(err, api.ReasonFileHasReset))
	assert.Contains(t, err.Error(), "file use "+fileID)

	laptop.mustRun("logout")
	_, err = laptop.run("sync")
	assert.Contains(t, err.Error(), "ledgersync login")
}

func TestSyncModeOffline(t *testing.T) {
	url := testRelay(t)
	laptop := newDevice(t, url)
	phone := newDevice(t, url)

	laptop.mustRun("register", "carol")
	laptop.mustRun("file", "create", "Trip")
	fileID := laptop.checkpoint().FileID

	// офлайн правка пишется в журнал, но на сервер не уходит
	out := laptop.mustRun("set", "notes", "n1", "note=N:19", "--sync-mode", "offline")
	assert.Contains(t, out, "Saved locally")
	assert.Contains(t, out, "sync-mode offline")

	out = laptop.mustRun("sync", "--sync-mode", "offline")
	assert.Contains(t, out, "Sync mode is offline")

	out = laptop.mustRun("status", "--sync-mode", "offline")
	assert.Contains(t, out, "Sync mode:   offline")

	phone.mustRun("login", "carol")
	phone.mustRun("file", "use", fileID)
	out = phone.mustRun("get", "notes", "n1")
	assert.Contains(t, out, "n1: not found")

	// после возврата в enabled накопленная история уходит на сервер
	out = laptop.mustRun("sync")
	assert.Contains(t, out, "Synced")

	phone.mustRun("sync")
	out = phone.mustRun("get", "notes", "n1")
	assert.Contains(t, out, "note = 19")

	_, err := laptop.run("status", "--sync-mode", "import")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestEncryptedFile(t *testing.T) {
	url := testRelay(t)
	laptop := newDevice(t, url)
	phone := newDevice(t, url)

	laptop.mustRun("register", "bob")
	laptop.mustRun("file", "create", "Private")
	laptop.mustRun("set", "notes", "note-1", "note=secret plans")

	t.Setenv(KeyPasswordEnv, "file-key-password")
	out := laptop.mustRun("key", "create")
	assert.Contains(t, out, "Created key")
	assert.Contains(t, out, "Uploaded encrypted file")

	cp := laptop.checkpoint()
	require.NotEmpty(t, cp.KeyID)

	out = laptop.mustRun("status")
	assert.Contains(t, out, "(unlocked)")

	phone.mustRun("login", "bob")
	out = phone.mustRun("file", "use", cp.FileID)
	assert.Contains(t, out, "key unlock")

	out = phone.mustRun("get", "notes", "note-1")
	assert.Contains(t, out, "not found")

	_, err := phone.run("sync")
	assert.ErrorIs(t, err, ErrKeyLocked)

	t.Setenv(KeyPasswordEnv, "wrong-password")
	_, err = phone.run("key", "unlock")
	assert.ErrorIs(t, err, crypto.ErrWrongPassphrase)

	t.Setenv(KeyPasswordEnv, "file-key-password")
	out = phone.mustRun("key", "unlock")
	assert.Contains(t, out, "Key unlocked")

	out = phone.mustRun("get", "notes", "note-1")
	assert.Contains(t, out, `note = "secret plans"`)

	// ключ сохранен: следующий запуск синхронизируется без пароля
	t.Setenv(KeyPasswordEnv, "")
	phone.mustRun("set", "notes", "note-1", "note=shared plans")
	laptop.mustRun("sync")
	out = laptop.mustRun("get", "notes", "note-1")
	assert.Contains(t, out, `note = "shared plans"`)
}

func TestRegisterInteractive(t *testing.T) {
	url := testRelay(t)
	t.Setenv(PasswordEnv, "")
	d := newDevice(t, url)

	out, err := d.runInput("carol\n"+testPassword+"\n"+testPassword+"\n", "register")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Username: ")
	assert.Contains(t, out, "Repeat password: ")
	assert.Contains(t, out, "Registered carol")

	_, err = d.runInput("dave\n"+testPassword+"\nsomething-else\n", "register")
	assert.ErrorContains(t, err, "do not match")
}

func TestRejectedSessionTurnsReadOnly(t *testing.T) {
	url := testRelay(t)
	d := newDevice(t, url)

	d.mustRun("register", "erin")
	d.mustRun("file", "create", "Shared")

	// токен, который сервер не примет
	prefs, err := boltdb.New(context.Background(), filepath.Join(d.dataDir, prefsFile))
	require.NoError(t, err)
	session, err := prefs.GetAuth(context.Background())
	require.NoError(t, err)
	session.AccessToken = "forged"
	require.NoError(t, prefs.SaveAuth(context.Background(), session))
	require.NoError(t, prefs.Close())

	_, err = d.run("sync")
	require.Error(t, err)
	assert.True(t, clientapi.IsPostReason(err, api.ReasonUnauthorized))

	out := d.mustRun("status")
	assert.Contains(t, out, "log in again")

	d.mustRun("login", "erin")
	out = d.mustRun("status")
	assert.NotContains(t, out, "log in again")
	d.mustRun("sync")
}
