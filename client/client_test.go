package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"gitent/internal/api"
	"gitent/internal/config"
	"gitent/internal/engine"
	gerrors "gitent/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) *Client {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.InMemory = true
	e := engine.New(cfg, nil)
	t.Cleanup(func() { e.Close() })

	srv := httptest.NewServer(api.NewHandler(e, nil).Routes())
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func TestClientRoundTrip(t *testing.T) {
	c := setupServer(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	_, err := c.Status(ctx, engine.StatusRequest{})
	assert.Equal(t, gerrors.ErrorTypeNoSession, gerrors.TypeOf(err))

	started, err := c.Init(ctx, engine.InitRequest{Path: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, started.Started)

	tr, err := c.Track(ctx, engine.TrackRequest{Path: "a.txt", ChangeType: "create", Content: []byte("one\n")})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tr.Seq)

	_, err = c.Track(ctx, engine.TrackRequest{Path: "a.txt", ChangeType: "rename"})
	var e *gerrors.Error
	require.True(t, gerrors.As(err, &e))
	assert.Equal(t, gerrors.ErrorTypeMissingOldPath, e.Type)
	assert.Equal(t, gerrors.CodeFor(gerrors.ErrorTypeMissingOldPath), e.Code)

	cr, err := c.Commit(ctx, engine.CommitRequest{Message: "first"})
	require.NoError(t, err)

	st, err := c.Status(ctx, engine.StatusRequest{SessionID: started.SessionID})
	require.NoError(t, err)
	require.NotNil(t, st.Head)
	assert.Equal(t, cr.CommitID, *st.Head)

	_, err = c.Track(ctx, engine.TrackRequest{Path: "a.txt", ChangeType: "modify", Content: []byte("two\n")})
	require.NoError(t, err)
	_, err = c.Commit(ctx, engine.CommitRequest{Message: "second"})
	require.NoError(t, err)

	log, err := c.Log(ctx, engine.LogRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, log.Showing)

	d, err := c.Diff(ctx, engine.DiffRequest{From: cr.CommitID, To: "head", Format: "structured"})
	require.NoError(t, err)
	require.Len(t, d.Files, 1)
	assert.Equal(t, []string{"two"}, d.Files[0].Hunks[0].Added)

	rb, err := c.Rollback(ctx, engine.RollbackRequest{CommitID: cr.CommitID})
	require.NoError(t, err)
	assert.False(t, rb.Executed)
	require.Len(t, rb.ChangeSet.Ops, 1)
	assert.Equal(t, "a.txt", rb.ChangeSet.Ops[0].Path)
}

func TestClientProtocolError(t *testing.T) {
	c := setupServer(t)
	err := c.Call(context.Background(), "tools/destroy", nil, nil)
	var rpcErr *api.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, api.CodeMethodNotFound, rpcErr.Code)
}
