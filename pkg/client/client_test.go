package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/faultbridge/pkg/api"
	"github.com/cuemby/faultbridge/pkg/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type operator struct {
	restarted []string
}

func (o *operator) Status() []supervisor.ClusterStatus {
	return []supervisor.ClusterStatus{{Name: "east", Mode: supervisor.ModeStream, State: "running", Breaker: "closed"}}
}

func (o *operator) check(name string) error {
	if name != "east" {
		return &supervisor.ClusterNotFoundError{Name: name}
	}
	return nil
}

func (o *operator) StartCluster(name string) error { return o.check(name) }
func (o *operator) StopCluster(name string) error  { return o.check(name) }
func (o *operator) RestartCluster(name string) error {
	if err := o.check(name); err != nil {
		return err
	}
	o.restarted = append(o.restarted, name)
	return nil
}

func newTestClient(t *testing.T) (*Client, *operator) {
	t.Helper()
	op := &operator{}
	srv := httptest.NewServer(api.NewServer(op, nil).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL), op
}

func TestListAndGet(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	views, err := c.ListClusters(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "east", views[0].Name)
	assert.Equal(t, "running", views[0].State)

	view, err := c.GetCluster(ctx, "east")
	require.NoError(t, err)
	assert.Equal(t, supervisor.ModeStream, view.Mode)

	_, err = c.GetCluster(ctx, "west")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActions(t *testing.T) {
	c, op := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.RestartCluster(ctx, "east"))
	assert.Equal(t, []string{"east"}, op.restarted)
	require.NoError(t, c.StartCluster(ctx, "east"))
	require.NoError(t, c.StopCluster(ctx, "east"))

	assert.ErrorIs(t, c.StopCluster(ctx, "west"), ErrNotFound)
}

func TestNewClientAddress(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:9480", NewClient("127.0.0.1:9480").baseURL)
	assert.Equal(t, "https://ops.example.net", NewClient("https://ops.example.net/").baseURL)
}
