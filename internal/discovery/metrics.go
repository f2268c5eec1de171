package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tessera_discovery_adverts_total",
		Help: "Ingested tip adverts by result",
	}, []string{"result"})

	peersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tessera_discovery_peers",
		Help: "Peers currently known to the discovery graph",
	})

	tipsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tessera_discovery_tips",
		Help: "Peer tip records currently held",
	})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tessera_discovery_evictions_total",
		Help: "Entries evicted to enforce a cap, by cap",
	}, []string{"cap"})

	prunedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tessera_discovery_pruned_total",
		Help: "Entries removed by TTL pruning, by kind",
	}, []string{"kind"})

	datagramsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tessera_gossip_datagrams_total",
		Help: "Gossip datagrams by direction and outcome",
	}, []string{"direction", "outcome"})
)
