package metrics

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

var testChannel = types.ChannelID{Proc: types.ProcRef{ID: uuid.New(), Version: 1}, Code: "elev"}

func TestRateMeter_Window(t *testing.T) {
	clk := clock.NewMock()
	r := NewRateMeter(clk)

	r.Add(600)
	assert.Equal(t, int64(600), r.Window())
	assert.InDelta(t, 10.0, r.Rate(), 0.001)

	clk.Add(30 * time.Second)
	r.Add(600)
	assert.Equal(t, int64(1200), r.Window())

	clk.Add(31 * time.Second)
	assert.Equal(t, int64(600), r.Window(), "超过 60 秒的桶应被淘汰")

	clk.Add(2 * time.Minute)
	assert.Equal(t, int64(0), r.Window())
}

func TestTransferCounter(t *testing.T) {
	c := NewTransferCounter(clock.NewMock())

	c.LogDownloaded("peer-a", testChannel, 100)
	c.LogDownloaded("peer-b", testChannel, 50)
	c.LogUploaded("peer-a", testChannel, 7)

	assert.Equal(t, int64(150), c.Totals().Downloaded)
	assert.Equal(t, int64(7), c.Totals().Uploaded)
	assert.Equal(t, int64(100), c.ForPeer("peer-a").Downloaded)
	assert.Equal(t, int64(150), c.ForChannel(testChannel).Downloaded)
	assert.Equal(t, Stats{}, c.ForPeer("unknown"))
	assert.Len(t, c.ByPeer(), 2)
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg, "test", clock.NewMock())
	require.NoError(t, err)

	c.BatchSent(BatchSearch, 3)
	c.BatchSent(BatchSearch, 1)
	c.BatchTimedOut(BatchDownload)
	c.KeyFinished(testChannel, true, time.Second)
	c.KeyFinished(testChannel, false, time.Second)
	c.Downloaded("p", testChannel, 10)
	c.RequestRejected("certificate")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.batches.WithLabelValues("search")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.timeouts.WithLabelValues("download")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.keys.WithLabelValues("failed")))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.bytes.WithLabelValues("in")))
	assert.Equal(t, int64(10), c.Transfer().Totals().Downloaded)

	_, err = NewCollector(reg, "test", nil)
	assert.Error(t, err, "重复注册应失败")
}

func TestModule_Disabled(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Metrics.Enabled = false

	var r Recorder
	app := fxtest.New(t, Module, fx.Supply(cfg), fx.Populate(&r))
	defer app.RequireStart().RequireStop()

	assert.IsType(t, Nop{}, r)
}

func TestModule_Enabled(t *testing.T) {
	var r Recorder
	app := fxtest.New(t, Module, fx.Populate(&r))
	defer app.RequireStart().RequireStop()

	_, ok := r.(*Collector)
	assert.True(t, ok)
}
