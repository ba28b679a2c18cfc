package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector contains all metrics for the case triage service
type Collector struct {
	// Triage metrics
	TriageAssessmentsTotal prometheus.Counter
	TriageFailuresTotal    prometheus.Counter
	SeverityScoreHistogram prometheus.Histogram
	ComplaintsRoutedTotal  prometheus.Counter
	RoutingRedirectsTotal  prometheus.Counter
	VulnerableReportsTotal prometheus.Counter
	TriageDuration         prometheus.Histogram

	// Duplicate detection metrics
	DuplicateScansTotal      prometheus.Counter
	DuplicateCandidates      prometheus.Histogram
	SimilarityScoreHistogram prometheus.Histogram
	ScanDuration             prometheus.Histogram
	ScanCacheHitsTotal       prometheus.Counter

	// Link graph metrics
	LinksCreatedTotal     *prometheus.CounterVec
	LinksDeletedTotal     prometheus.Counter
	DuplicatesClosedTotal prometheus.Counter

	// Notification metrics
	NotificationsSentTotal    prometheus.Counter
	NotificationsDroppedTotal prometheus.Counter

	// Escalation metrics
	EscalationSweepsTotal prometheus.Counter
	EscalationsTotal      prometheus.Counter

	// Error metrics
	DatabaseErrors prometheus.Counter
	KafkaErrors    prometheus.Counter
	Neo4jErrors    prometheus.Counter
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		TriageAssessmentsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_assessments_total",
			Help: "The total number of triage assessments performed",
		}),
		TriageFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_assessment_failures_total",
			Help: "The total number of failed triage assessments",
		}),
		SeverityScoreHistogram: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "case_triage_severity_score",
			Help:    "Distribution of computed severity scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		ComplaintsRoutedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_complaints_routed_total",
			Help: "The total number of complaints routed to a department",
		}),
		RoutingRedirectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_routing_redirects_total",
			Help: "The total number of load-balancing redirects away from the default department",
		}),
		VulnerableReportsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_vulnerable_reports_total",
			Help: "The total number of assessments with a vulnerable reporter",
		}),
		TriageDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "case_triage_assessment_duration_seconds",
			Help:    "Time spent assessing a complaint",
			Buckets: prometheus.DefBuckets,
		}),
		DuplicateScansTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_duplicate_scans_total",
			Help: "The total number of duplicate detection scans",
		}),
		DuplicateCandidates: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "case_triage_duplicate_candidates",
			Help:    "Number of candidates surfaced per duplicate scan",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		SimilarityScoreHistogram: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "case_triage_similarity_score",
			Help:    "Distribution of pairwise similarity scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		ScanDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "case_triage_duplicate_scan_duration_seconds",
			Help:    "Time spent scanning for duplicates",
			Buckets: prometheus.DefBuckets,
		}),
		ScanCacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_duplicate_scan_cache_hits_total",
			Help: "The total number of duplicate scans served from cache",
		}),
		LinksCreatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "case_triage_links_created_total",
			Help: "The total number of complaint links created",
		}, []string{"link_type"}),
		LinksDeletedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_links_deleted_total",
			Help: "The total number of complaint links deleted",
		}),
		DuplicatesClosedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_duplicates_closed_total",
			Help: "The total number of complaints closed as duplicates",
		}),
		NotificationsSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_notifications_sent_total",
			Help: "The total number of notifications recorded",
		}),
		NotificationsDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_notifications_dropped_total",
			Help: "The total number of notifications dropped by rate limiting",
		}),
		EscalationSweepsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_escalation_sweeps_total",
			Help: "The total number of overdue-complaint sweeps executed",
		}),
		EscalationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_escalations_total",
			Help: "The total number of complaints auto-escalated to High priority",
		}),
		DatabaseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_database_errors_total",
			Help: "The total number of database errors",
		}),
		KafkaErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_kafka_errors_total",
			Help: "The total number of Kafka errors",
		}),
		Neo4jErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "case_triage_neo4j_errors_total",
			Help: "The total number of Neo4j errors",
		}),
	}
}

// RecordAssessment records a completed triage assessment
func (c *Collector) RecordAssessment(severityScore int, vulnerable, routed bool, duration time.Duration) {
	c.TriageAssessmentsTotal.Inc()
	c.SeverityScoreHistogram.Observe(float64(severityScore))
	c.TriageDuration.Observe(duration.Seconds())

	if vulnerable {
		c.VulnerableReportsTotal.Inc()
	}
	if routed {
		c.ComplaintsRoutedTotal.Inc()
	}
}

// RecordAssessmentFailure records a failed triage assessment
func (c *Collector) RecordAssessmentFailure() {
	c.TriageFailuresTotal.Inc()
}

// RecordRoutingRedirect records a load-balancing redirect
func (c *Collector) RecordRoutingRedirect() {
	c.RoutingRedirectsTotal.Inc()
}

// RecordDuplicateScan records a completed duplicate detection scan
func (c *Collector) RecordDuplicateScan(candidates int, duration time.Duration) {
	c.DuplicateScansTotal.Inc()
	c.DuplicateCandidates.Observe(float64(candidates))
	c.ScanDuration.Observe(duration.Seconds())
}

// RecordSimilarityScore records one pairwise similarity computation
func (c *Collector) RecordSimilarityScore(score float64) {
	c.SimilarityScoreHistogram.Observe(score)
}

// RecordScanCacheHit records a duplicate scan served from cache
func (c *Collector) RecordScanCacheHit() {
	c.ScanCacheHitsTotal.Inc()
}

// RecordLinkCreated records a created complaint link
func (c *Collector) RecordLinkCreated(linkType string) {
	c.LinksCreatedTotal.WithLabelValues(linkType).Inc()
}

// RecordLinkDeleted records a deleted complaint link
func (c *Collector) RecordLinkDeleted() {
	c.LinksDeletedTotal.Inc()
}

// RecordDuplicateClosed records a complaint closed as a duplicate
func (c *Collector) RecordDuplicateClosed() {
	c.DuplicatesClosedTotal.Inc()
}

// RecordNotification records a notification outcome
func (c *Collector) RecordNotification(sent bool) {
	if sent {
		c.NotificationsSentTotal.Inc()
	} else {
		c.NotificationsDroppedTotal.Inc()
	}
}

// RecordEscalationSweep records an escalation sweep and its escalation count
func (c *Collector) RecordEscalationSweep(escalated int) {
	c.EscalationSweepsTotal.Inc()
	c.EscalationsTotal.Add(float64(escalated))
}

// RecordDatabaseError records a database error
func (c *Collector) RecordDatabaseError() {
	c.DatabaseErrors.Inc()
}

// RecordKafkaError records a Kafka error
func (c *Collector) RecordKafkaError() {
	c.KafkaErrors.Inc()
}

// RecordNeo4jError records a Neo4j error
func (c *Collector) RecordNeo4jError() {
	c.Neo4jErrors.Inc()
}
