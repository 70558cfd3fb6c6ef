package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"lessonsync/pkg/types"
)

// StatsSource exposes the registry's diagnostic counters
type StatsSource interface {
	Stats() types.Stats
}

// StatsCollector exports registry Stats as gauges, read at scrape time
type StatsCollector struct {
	source         StatsSource
	activeSessions *prometheus.Desc
	studentsInRoom *prometheus.Desc
	onlineStudents *prometheus.Desc
	subscriptions  *prometheus.Desc
}

// NewStatsCollector creates a collector over the source
func NewStatsCollector(namespace string, source StatsSource) *StatsCollector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &StatsCollector{
		source: source,
		activeSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_sessions"),
			"Number of active lesson sessions", nil, nil),
		studentsInRoom: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "students_in_lessons"),
			"Number of student memberships across all lesson sessions", nil, nil),
		onlineStudents: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "online_students"),
			"Number of students with an open connection", nil, nil),
		subscriptions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "subscriptions"),
			"Number of student follow subscriptions", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessions
	ch <- c.studentsInRoom
	ch <- c.onlineStudents
	ch <- c.subscriptions
}

// Collect implements prometheus.Collector
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, float64(stats.ActiveSessions))
	ch <- prometheus.MustNewConstMetric(c.studentsInRoom, prometheus.GaugeValue, float64(stats.TotalStudentsInLessons))
	ch <- prometheus.MustNewConstMetric(c.onlineStudents, prometheus.GaugeValue, float64(stats.OnlineStudents))
	ch <- prometheus.MustNewConstMetric(c.subscriptions, prometheus.GaugeValue, float64(stats.Subscriptions))
}
