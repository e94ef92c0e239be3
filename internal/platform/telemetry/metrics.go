package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the domain counters. A nil *Metrics is valid and records
// nothing, so services can be built without a provider.
type Metrics struct {
	TokensIssued      prometheus.Counter
	QueueTransitions  *prometheus.CounterVec
	DispenseOutcomes  *prometheus.CounterVec
	UnitsDispensed    prometheus.Counter
	StockIntakes      prometheus.Counter
	PrescriptionsMade prometheus.Counter
	TxRetries         prometheus.Counter
	LoginAttempts     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "queue",
			Name:      "tokens_issued_total",
			Help:      "Queue tokens handed out.",
		}),
		QueueTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "queue",
			Name:      "entry_transitions_total",
			Help:      "Queue entry status transitions by target status.",
		}, []string{"to"}),
		DispenseOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "inventory",
			Name:      "dispense_requests_total",
			Help:      "Dispense requests by outcome.",
		}, []string{"outcome"}),
		UnitsDispensed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "inventory",
			Name:      "units_dispensed_total",
			Help:      "Units removed from batches by dispensing.",
		}),
		StockIntakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "inventory",
			Name:      "stock_intakes_total",
			Help:      "Batches recorded as received.",
		}),
		PrescriptionsMade: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "clinical",
			Name:      "prescriptions_issued_total",
			Help:      "Total prescriptions issued.",
		}),
		TxRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "db",
			Name:      "tx_retries_total",
			Help:      "Transactions retried after serialization failure or deadlock.",
		}),
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.TokensIssued, m.QueueTransitions, m.DispenseOutcomes, m.UnitsDispensed,
		m.StockIntakes, m.PrescriptionsMade, m.TxRetries, m.LoginAttempts,
	)
	return m
}

func (m *Metrics) TokenIssued() {
	if m != nil {
		m.TokensIssued.Inc()
	}
}

func (m *Metrics) EntryTransition(to string) {
	if m != nil {
		m.QueueTransitions.WithLabelValues(to).Inc()
	}
}

// Dispensed records a dispense attempt. outcome is "ok" or the error code.
func (m *Metrics) Dispensed(outcome string, units int) {
	if m == nil {
		return
	}
	m.DispenseOutcomes.WithLabelValues(outcome).Inc()
	if units > 0 {
		m.UnitsDispensed.Add(float64(units))
	}
}

func (m *Metrics) StockReceived() {
	if m != nil {
		m.StockIntakes.Inc()
	}
}

func (m *Metrics) Prescribed() {
	if m != nil {
		m.PrescriptionsMade.Inc()
	}
}

// TxRetried matches the db retry hook signature.
func (m *Metrics) TxRetried() {
	if m != nil {
		m.TxRetries.Inc()
	}
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.LoginAttempts.WithLabelValues(result).Inc()
	}
}
