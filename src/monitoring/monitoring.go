// Package monitoring exposes Prometheus gauges for the node core's peer
// table, path table, and joined networks, polled on an interval in the
// same background-goroutine style as the teacher's monitoring.go.
package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zerotier/node-core/src/core"
)

const pollInterval = 5 * time.Second

type Monitoring struct {
	node *core.Node
	log  core.Logger
	done chan struct{}
	once sync.Once

	peerCount    prometheus.Gauge
	pathCount    prometheus.Gauge
	networkCount prometheus.Gauge
	peerLatency  *prometheus.GaugeVec
}

// New registers the node core's gauges with reg and starts the polling
// goroutine. Passing prometheus.DefaultRegisterer matches the teacher's
// default of wiring straight into whatever the host already exposes.
func New(n *core.Node, log core.Logger, reg prometheus.Registerer) (*Monitoring, error) {
	m := &Monitoring{
		node: n,
		log:  log,
		done: make(chan struct{}),
		peerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zerotier_node", Name: "peers", Help: "Number of peers in the peer table.",
		}),
		pathCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zerotier_node", Name: "paths", Help: "Number of tracked paths across all peers.",
		}),
		networkCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zerotier_node", Name: "networks", Help: "Number of joined virtual networks.",
		}),
		peerLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zerotier_node", Name: "peer_latency_ms", Help: "Smoothed RTT of each peer's best path.",
		}, []string{"address"}),
	}
	for _, c := range []prometheus.Collector{m.peerCount, m.pathCount, m.networkCount, m.peerLatency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	go m.run()
	return m, nil
}

func (m *Monitoring) run() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.poll(now.UnixMilli())
		}
	}
}

func (m *Monitoring) poll(nowMs int64) {
	peers := m.node.Peers()
	m.peerCount.Set(float64(len(peers)))

	paths := 0
	m.peerLatency.Reset()
	for _, p := range peers {
		paths += len(p.Paths())
		m.peerLatency.WithLabelValues(p.Address.String()).Set(p.LatencyMs(nowMs))
	}
	m.pathCount.Set(float64(paths))
	m.networkCount.Set(float64(len(m.node.Networks())))
}

func (m *Monitoring) Stop() error {
	if m == nil {
		return nil
	}
	m.once.Do(func() { close(m.done) })
	return nil
}
