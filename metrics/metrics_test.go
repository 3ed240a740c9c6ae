package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2pdir/registry"
)

func TestNilTrackerIsNoop(t *testing.T) {
	var tr *Tracker
	assert.NotPanics(t, func() {
		tr.RecordRequest("REGISTER", 0, 0.1)
		tr.ConnectionOpened()
		tr.ConnectionClosed()
		tr.RecordAbandoned()
		tr.RecordAuditFailure()
		tr.RecordAuditDropped()
		tr.WatchRegistry(registry.New(registry.DefaultLimits))
	})
}

func TestRecordRequest(t *testing.T) {
	tr := New(prometheus.NewRegistry())

	tr.RecordRequest("REGISTER", 0, 0.01)
	tr.RecordRequest("REGISTER", 0, 0.01)
	tr.RecordRequest("REGISTER", 1, 0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(tr.RequestsTotal.WithLabelValues("REGISTER", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.RequestsTotal.WithLabelValues("REGISTER", "1")))
}

func TestConnectionGauges(t *testing.T) {
	tr := New(prometheus.NewRegistry())

	tr.ConnectionOpened()
	tr.ConnectionOpened()
	tr.ConnectionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(tr.ConnectionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(tr.ConnectionsTotal))
}

func TestWatchRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	tr := New(reg)
	r := registry.New(registry.DefaultLimits)
	tr.WatchRegistry(r)

	require.NoError(t, r.InsertUser("alice"))
	require.NoError(t, r.InsertUser("bob"))
	require.NoError(t, r.Connect("alice", "10.0.0.1", 5000))
	require.NoError(t, r.Publish("alice", "a.txt", "x"))

	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetGauge() != nil {
				got[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, got["p2pdir_registry_users"])
	assert.Equal(t, 1.0, got["p2pdir_registry_connected_users"])
	assert.Equal(t, 1.0, got["p2pdir_registry_files"])
}

func TestCodeLabel(t *testing.T) {
	assert.Equal(t, "0", codeLabel(0))
	assert.Equal(t, "4", codeLabel(4))
	assert.Equal(t, "other", codeLabel(-1))
}
