package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(leadsScoredTotal, leadsPromotedTotal) }

var leadsScoredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_leads_scored_total",
		Help: "Leads scored by resulting tier.",
	},
	[]string{"tier"},
)

var leadsPromotedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_leads_promoted_total",
		Help: "Leads promoted into the sales pipeline by tier.",
	},
	[]string{"tier"},
)

func IncLeadScored(tier string) {
	leadsScoredTotal.WithLabelValues(norm(tier)).Inc()
}

func IncLeadPromoted(tier string) {
	leadsPromotedTotal.WithLabelValues(norm(tier)).Inc()
}
