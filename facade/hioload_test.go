package facade_test

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/facade"
	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/transport/tcp"
)

func TestHioloadNetLifecycle(t *testing.T) {
	promReg := prometheus.NewRegistry()
	h, err := facade.New(facade.WithMetrics(promReg))
	require.NoError(t, err)
	require.NoError(t, h.Start())
	require.NoError(t, h.Start())

	executed := make(chan struct{})
	require.NoError(t, h.Submit(func() { close(executed) }))
	select {
	case <-executed:
	case <-time.After(time.Second):
		t.Fatal("executor failed to run task")
	}

	l, err := h.Listen("127.0.0.1", 0, 0)
	require.NoError(t, err)
	accepted := make(chan tcp.AcceptResult, 2)
	l.Accept(api.NoTimeout, func(r tcp.AcceptResult) { accepted <- r })

	port := l.LocalAddr().(*net.TCPAddr).Port
	res := <-tcp.ConnectAsync(h.NewTCP(), "127.0.0.1", port, 2)
	require.Equal(t, api.StatusOK, res.Status, "%v", res.Err)
	select {
	case a := <-accepted:
		require.Equal(t, api.StatusOK, a.Status)
		_ = a.Conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}
	_ = res.Conn.Close()

	assert.Equal(t, float64(1), testutil.ToFloat64(h.Metrics().Accepted))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.Metrics().Connects.WithLabelValues("ok")))
	assert.Contains(t, h.Probes().Names(), "reactor.watches")

	require.NoError(t, h.Shutdown())
	require.NoError(t, h.Stop())
	assert.True(t, h.Registry().Closed())
	assert.ErrorIs(t, h.Start(), api.ErrRegistryClosed)
	assert.ErrorIs(t, h.Submit(func() {}), api.ErrRegistryClosed)

	end := <-accepted
	assert.Equal(t, api.StatusClosed, end.Status)
}

func TestHioloadNetUsableBeforeStart(t *testing.T) {
	h, err := facade.New()
	require.NoError(t, err)
	defer h.Stop()

	executed := make(chan struct{})
	require.NoError(t, h.Submit(func() { close(executed) }))
	select {
	case <-executed:
	case <-time.After(time.Second):
		t.Fatal("executor idle before Start")
	}
	assert.Nil(t, h.Metrics())
	assert.Nil(t, h.Gatherer())
}

func TestHioloadNetPrivateMetricsRegistry(t *testing.T) {
	a, err := facade.New(facade.WithMetrics(nil))
	require.NoError(t, err)
	defer a.Stop()
	b, err := facade.New(facade.WithMetrics(nil))
	require.NoError(t, err)
	defer b.Stop()

	require.NotNil(t, a.Gatherer())
	require.NotNil(t, b.Gatherer())
	a.Metrics().Accepted.Inc()
	n, err := testutil.GatherAndCount(a.Gatherer(), "hioload_channel_accepted_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, float64(0), testutil.ToFloat64(b.Metrics().Accepted))
}

func TestHioloadNetBadEnv(t *testing.T) {
	t.Setenv("HIOLOAD_POLL_WORKERS", "many")
	_, err := facade.New(facade.WithEnvConfig())
	assert.Error(t, err)
}

func TestModuleLifecycle(t *testing.T) {
	var (
		h   *facade.HioloadNet
		reg *reactor.Registry
	)
	app := fxtest.New(t,
		facade.Module(),
		fx.Populate(&h, &reg),
	)
	app.RequireStart()
	require.NotNil(t, h)
	assert.Same(t, h.Registry(), reg)
	assert.False(t, reg.Closed())

	app.RequireStop()
	assert.True(t, reg.Closed())
}
