package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosstalk-ai/crosstalk/internal/extchat"
	"github.com/crosstalk-ai/crosstalk/internal/project"
	"github.com/crosstalk-ai/crosstalk/internal/provider"
	"github.com/crosstalk-ai/crosstalk/internal/storage"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

type stubPTY struct {
	mu   sync.Mutex
	done chan struct{}
}

func (p *stubPTY) Read(b []byte) (int, error) {
	<-p.done
	return 0, errors.New("closed")
}

func (p *stubPTY) Write(b []byte) (int, error) { return len(b), nil }
func (p *stubPTY) PID() int                    { return 4242 }

func (p *stubPTY) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	return nil
}

type stubController struct {
	mu     sync.Mutex
	spawns int
}

func (c *stubController) SpawnPTY(ctx context.Context, command string, args []string, env []string, workDir string) (extchat.PTYProcess, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spawns++
	return &stubPTY{done: make(chan struct{})}, nil
}

func (c *stubController) SpawnWindow(ctx context.Context, command string, args []string, env []string, workDir string) (int, error) {
	return 5001, nil
}

func (c *stubController) Kill(pid int) error { return nil }

func newTestClient(t *testing.T, poolSize int) (*Client, *stubController, string) {
	t.Helper()

	projectRoot := t.TempDir()
	projects, err := project.NewRegistry(projectRoot)
	require.NoError(t, err)

	cfg := &types.Config{
		MaxTurns: 5,
		PoolSize: poolSize,
		Terminal: map[string]types.TerminalConfig{
			"demo": {Command: "agent", Args: []string{"--quiet"}},
		},
	}
	repo := storage.NewSessions(storage.New(t.TempDir()))
	ctrl := &stubController{}

	return New(cfg, repo, provider.NewRegistry(), projects, ctrl), ctrl, projectRoot
}

func TestCreateSessionOutsideProjectIsFatal(t *testing.T) {
	c, _, _ := newTestClient(t, 2)

	_, err := c.CreateSession(context.Background(), CreateOptions{
		Surface: types.SurfaceSubprocess,
		Model:   "demo",
		WorkDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, ErrOutsideProject)

	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions, "a rejected create must not persist anything")
}

func TestCreateAndSendWebSession(t *testing.T) {
	c, _, _ := newTestClient(t, 2)
	ctx := context.Background()

	record, err := c.CreateSession(ctx, CreateOptions{
		Surface: types.SurfaceWeb,
		Model:   "claude-web",
		URL:     "https://example.com/chat",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, record.State)

	res, err := c.SendMessage(ctx, record.ID, "hello")
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)

	stored, err := c.GetSession(ctx, record.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 1)
	assert.Equal(t, 1, stored.Metadata.Turns().CurrentTurn)
}

func TestPoolCapacityEnforcedAcrossCreates(t *testing.T) {
	c, _, _ := newTestClient(t, 2)
	ctx := context.Background()

	ids := []string{}
	for i := 0; i < 3; i++ {
		record, err := c.CreateSession(ctx, CreateOptions{Surface: types.SurfaceWeb, Model: "claude-web"})
		require.NoError(t, err)
		ids = append(ids, record.ID)
	}

	assert.Equal(t, 2, c.ResidentCount())

	// Evicted sessions are still persisted and loadable.
	for _, id := range ids {
		record, err := c.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, record.ID)
	}

	// Sending to an evicted session rehydrates it through the pool.
	res, err := c.SendMessage(ctx, ids[0], "back again")
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, 2, c.ResidentCount())
}

func TestSubprocessSendSpawnsOnce(t *testing.T) {
	c, ctrl, root := newTestClient(t, 2)
	ctx := context.Background()

	record, err := c.CreateSession(ctx, CreateOptions{
		Surface: types.SurfaceSubprocess,
		Model:   "demo",
		WorkDir: root,
	})
	require.NoError(t, err)

	_, err = c.SendMessage(ctx, record.ID, "first")
	require.NoError(t, err)
	_, err = c.SendMessage(ctx, record.ID, "second")
	require.NoError(t, err)

	assert.Equal(t, 1, ctrl.spawns)

	stored, err := c.GetSession(ctx, record.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2)
	assert.Equal(t, 2, stored.Metadata.Turns().CurrentTurn)
}

func TestTerminateReleasesSession(t *testing.T) {
	c, _, _ := newTestClient(t, 2)
	ctx := context.Background()

	record, err := c.CreateSession(ctx, CreateOptions{Surface: types.SurfaceWeb, Model: "claude-web"})
	require.NoError(t, err)
	require.Equal(t, 1, c.ResidentCount())

	require.NoError(t, c.Terminate(ctx, record.ID))
	assert.Zero(t, c.ResidentCount())

	stored, err := c.GetSession(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateTerminated, stored.State)
}

func TestDeleteSessionRemovesRecord(t *testing.T) {
	c, _, _ := newTestClient(t, 2)
	ctx := context.Background()

	record, err := c.CreateSession(ctx, CreateOptions{Surface: types.SurfaceWeb, Model: "claude-web"})
	require.NoError(t, err)

	require.NoError(t, c.DeleteSession(ctx, record.ID))
	assert.Zero(t, c.ResidentCount())

	_, err = c.GetSession(ctx, record.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTaskDirProvisioning(t *testing.T) {
	c, _, root := newTestClient(t, 2)
	ctx := context.Background()

	record, err := c.CreateSession(ctx, CreateOptions{
		Surface: types.SurfaceSubprocess,
		Model:   "demo",
		WorkDir: root,
		TaskID:  "task-7",
	})
	require.NoError(t, err)

	meta := record.Metadata.(*types.SubprocessMetadata)
	assert.Contains(t, meta.WorkDir, "task-7")
}
