package otgw

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorGathers(t *testing.T) {
	g, _, bo, _ := testGateway(Proxy, nil)
	bo.queue(BuildResponse(ReadAck, IDTBoiler, 45*256))
	g.transact(BuildRequest(ReadData, IDTBoiler, 0))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector("otgw", g)))

	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["otgw_reading"])
	assert.True(t, names["otgw_reading_age_seconds"])
	assert.True(t, names["otgw_fallback_active"])
	assert.True(t, names["otgw_port_frames_sent_total"])

	count := testutil.CollectAndCount(NewCollector("otgw", g), "otgw_reading")
	assert.Equal(t, 1, count)
}

func TestCollectorCounterValues(t *testing.T) {
	g, _, bo, _ := testGateway(Proxy, nil)
	bo.queueErr(TimeoutErrorF("no response"))
	g.transact(BuildRequest(ReadData, IDTBoiler, 0))

	c := NewCollector("otgw", g)
	expected := `
# HELP otgw_port_timeouts_total Awaits that expired without a frame
# TYPE otgw_port_timeouts_total counter
otgw_port_timeouts_total{side="boiler"} 1
otgw_port_timeouts_total{side="thermostat"} 0
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "otgw_port_timeouts_total"))
}
