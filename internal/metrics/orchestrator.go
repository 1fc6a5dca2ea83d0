package metrics

import "time"

// OrchestratorMetrics are the metrics of the display engine and router.
type OrchestratorMetrics struct {
	registry *Registry

	TransactionsTotal        *Counter
	TransactionFailuresTotal *Counter
	SoftFailuresTotal        *Counter
	LegacyNotificationsTotal *Counter
	FavoriteTogglesTotal     *Counter
	DroppedEventsTotal       *Counter

	SubscriptionsActive *Gauge
	UptimeSeconds       *Gauge

	TransactionDuration *Histogram

	started time.Time
}

// NewOrchestratorMetrics registers the orchestrator metrics in registry. A
// nil registry gets a private one.
func NewOrchestratorMetrics(registry *Registry) *OrchestratorMetrics {
	if registry == nil {
		registry = NewRegistry("duodisplayd")
	}
	return &OrchestratorMetrics{
		registry: registry,

		TransactionsTotal: registry.Counter("transactions_total",
			"Display state transactions attempted"),
		TransactionFailuresTotal: registry.Counter("transaction_failures_total",
			"Display state transactions aborted by a hard failure"),
		SoftFailuresTotal: registry.Counter("soft_failures_total",
			"Non-fatal failures logged during transactions"),
		LegacyNotificationsTotal: registry.Counter("legacy_notifications_total",
			"Rotations announced to the legacy rotation endpoint"),
		FavoriteTogglesTotal: registry.Counter("favorite_toggles_total",
			"Single-screen favorite panel toggles"),
		DroppedEventsTotal: registry.Counter("dropped_events_total",
			"Sensor events dropped because their source was unsubscribed"),

		SubscriptionsActive: registry.Gauge("subscriptions_active",
			"Event sources currently subscribed"),
		UptimeSeconds: registry.Gauge("uptime_seconds",
			"Seconds since the daemon started"),

		TransactionDuration: registry.Histogram("transaction_duration_seconds",
			"Duration of display state transactions including the settle delay", nil),

		started: time.Now(),
	}
}

// Registry returns the registry the metrics live in.
func (m *OrchestratorMetrics) Registry() *Registry {
	return m.registry
}

// UpdateUptime refreshes UptimeSeconds.
func (m *OrchestratorMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(m.started).Seconds()))
}
