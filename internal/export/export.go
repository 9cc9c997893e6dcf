// Package export publishes result documents to a Prometheus pushgateway.
package export

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/signalnine/sirun/internal/result"
	"github.com/signalnine/sirun/internal/summary"
)

const (
	job          = "sirun"
	unnamed      = "default"
	pushDeadline = 10 * time.Second
)

// Pusher sends one group per (name, variant) to a pushgateway.
type Pusher struct {
	URL    string
	Client *http.Client
}

func NewPusher(url string) *Pusher {
	return &Pusher{URL: url, Client: &http.Client{Timeout: pushDeadline}}
}

// Push replaces the group of doc with the statistics of its iterations.
func (p *Pusher) Push(ctx context.Context, doc *result.Document) error {
	reg := prometheus.NewRegistry()
	stats := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sirun_metric",
		Help: "Statistic of a metric over the iterations of one run",
	}, []string{"metric", "stat"})
	iterations := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sirun_iterations",
		Help: "Iterations in the run",
	})
	reg.MustRegister(stats, iterations)

	iterations.Set(float64(len(doc.Iterations)))
	samples := map[string][]float64{}
	for _, it := range doc.Iterations {
		for k, v := range it {
			samples[k] = append(samples[k], v)
		}
	}
	if doc.Instructions != nil {
		samples["instructions"] = append(samples["instructions"], *doc.Instructions)
	}
	names := make([]string, 0, len(samples))
	for k := range samples {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, metric := range names {
		st := summary.Compute(samples[metric])
		stats.WithLabelValues(metric, "mean").Set(st.Mean)
		stats.WithLabelValues(metric, "stddev").Set(st.StdDev)
		stats.WithLabelValues(metric, "min").Set(st.Min)
		stats.WithLabelValues(metric, "max").Set(st.Max)
	}

	pusher := push.New(p.URL, job).
		Client(p.Client).
		Gatherer(reg).
		Grouping("name", orDefault(doc.Name)).
		Grouping("variant", orDefault(doc.Variant))
	if doc.Version != "" {
		pusher = pusher.Grouping("version", doc.Version)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return errors.Wrapf(err, "pushing results to %s", p.URL)
	}
	grip.Debug(message.Fields{
		"message": "pushed results",
		"url":     p.URL,
		"name":    doc.Name,
		"variant": doc.Variant,
		"metrics": len(names),
	})
	return nil
}

func orDefault(s string) string {
	if s == "" {
		return unnamed
	}
	return s
}
