package otgw

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

/*
This file contains the Prometheus collector over the gateway snapshots. The
collector only reads snapshot copies; registration and serving are left to
the caller.
*/

type portCounter struct {
	desc   *prometheus.Desc
	supply func(Stats) float64
}

// Collector exposes gateway telemetry and Port counters as Prometheus
// metrics. Create one with NewCollector and register it with any registry.
type Collector struct {
	gw Gateway

	reading    *prometheus.Desc
	readingAge *prometheus.Desc
	fallback   *prometheus.Desc
	counters   []portCounter
}

// NewCollector builds a Collector for the gateway with the given metric
// prefix (for example "otgw").
func NewCollector(prefix string, gw Gateway) *Collector {
	c := &Collector{
		gw: gw,
		reading: prometheus.NewDesc(prefix+"_reading",
			"Latest telemetry value per OpenTherm data-id", []string{"id", "name"}, nil),
		readingAge: prometheus.NewDesc(prefix+"_reading_age_seconds",
			"Age of the latest telemetry value per data-id", []string{"id", "name"}, nil),
		fallback: prometheus.NewDesc(prefix+"_fallback_active",
			"Whether the mediator is forcing passthrough behaviour", nil, nil),
	}
	counter := func(name, help string, supply func(Stats) float64) portCounter {
		return portCounter{
			desc:   prometheus.NewDesc(prefix+"_port_"+name, help, []string{"side"}, nil),
			supply: supply,
		}
	}
	c.counters = []portCounter{
		counter("frames_sent_total", "Frames emitted on this side", func(s Stats) float64 { return float64(s.Sent) }),
		counter("frames_received_total", "Valid frames received on this side", func(s Stats) float64 { return float64(s.Received) }),
		counter("parse_errors_total", "Receptions that failed decoding or validation", func(s Stats) float64 { return float64(s.ParseErrors) }),
		counter("timeouts_total", "Awaits that expired without a frame", func(s Stats) float64 { return float64(s.Timeouts) }),
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.reading
	descs <- c.readingAge
	descs <- c.fallback
	for _, pc := range c.counters {
		descs <- pc.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	tele := c.gw.Telemetry()
	for id, r := range tele.Readings {
		labels := []string{strconv.Itoa(int(id)), metricName(id)}
		metrics <- prometheus.MustNewConstMetric(c.reading, prometheus.GaugeValue, r.Value, labels...)
		metrics <- prometheus.MustNewConstMetric(c.readingAge, prometheus.GaugeValue, r.Age.Seconds(), labels...)
	}

	status := c.gw.Status()
	fb := 0.0
	if status.FallbackActive {
		fb = 1.0
	}
	metrics <- prometheus.MustNewConstMetric(c.fallback, prometheus.GaugeValue, fb)

	for _, pc := range c.counters {
		metrics <- prometheus.MustNewConstMetric(pc.desc, prometheus.CounterValue, pc.supply(status.Thermostat), "thermostat")
		metrics <- prometheus.MustNewConstMetric(pc.desc, prometheus.CounterValue, pc.supply(status.Boiler), "boiler")
	}
}

func metricName(id DataID) string {
	return strings.ToLower(id.String())
}
