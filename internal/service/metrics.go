package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeguard_ledger_operations_total",
		Help: "Ledger operations by outcome code",
	}, []string{"op", "outcome"})

	releasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeguard_split_releases_total",
		Help: "Released escrow splits by release method",
	}, []string{"method"})

	releasedAmount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradeguard_released_gross_total",
		Help: "Gross minor units released from escrow",
	})

	refundedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeguard_refunded_amount_total",
		Help: "Minor units refunded to buyers",
	}, []string{"kind"})

	withdrawalsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeguard_withdrawals_dispatched_total",
		Help: "Withdrawal submissions to the payment gateway",
	}, []string{"outcome"})
)
