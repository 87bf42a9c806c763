package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts credit ledger outcomes by operation type.
type LedgerMetrics struct {
	deducts      *prometheus.CounterVec
	refunds      *prometheus.CounterVec
	grants       *prometheus.CounterVec
	insufficient *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	deducts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_deducts_total",
		Help: "Successful credit deductions.",
	}, []string{"operation"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_refunds_total",
		Help: "Credit refunds after failed downstream actions.",
	}, []string{"operation"})
	grants := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_grants_total",
		Help: "Unconditional credit grants (plan changes, renewals).",
	}, []string{"reason"})
	insufficient := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_insufficient_total",
		Help: "Deductions rejected for insufficient balance.",
	}, []string{"operation"})
	reg.MustRegister(deducts, refunds, grants, insufficient)
	return &LedgerMetrics{
		deducts:      deducts,
		refunds:      refunds,
		grants:       grants,
		insufficient: insufficient,
	}
}

// IncDeduct increments the deduct counter for the operation.
func (m *LedgerMetrics) IncDeduct(operation string) {
	if m == nil || m.deducts == nil {
		return
	}
	m.deducts.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncRefund increments the refund counter for the operation.
func (m *LedgerMetrics) IncRefund(operation string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncGrant increments the grant counter for the reason tag.
func (m *LedgerMetrics) IncGrant(reason string) {
	if m == nil || m.grants == nil {
		return
	}
	m.grants.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncInsufficient increments the rejected-deduction counter.
func (m *LedgerMetrics) IncInsufficient(operation string) {
	if m == nil || m.insufficient == nil {
		return
	}
	m.insufficient.WithLabelValues(normalizeLabel(operation)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
