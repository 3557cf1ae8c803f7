package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики ядра позиций
// ============================================================

// ============ Операции ============

// OperationsTotal - количество операций по типу и результату
var OperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "leverage",
		Subsystem: "engine",
		Name:      "operations_total",
		Help:      "Total number of engine operations",
	},
	[]string{"op", "result"},
)

// OperationDuration - длительность операции от извлечения из очереди до коммита
var OperationDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "leverage",
		Subsystem: "engine",
		Name:      "operation_duration_ms",
		Help:      "Engine operation duration in milliseconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500},
	},
	[]string{"op"},
)

// OpQueueDepth - глубина очереди операций
var OpQueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "leverage",
		Subsystem: "engine",
		Name:      "op_queue_depth",
		Help:      "Number of operations waiting in the serial log",
	},
)

// ============ Позиции ============

// ActivePositions - количество открытых позиций
var ActivePositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "leverage",
		Subsystem: "engine",
		Name:      "active_positions",
		Help:      "Number of active positions in the ledger",
	},
)

// LiquidationsTotal - количество ликвидаций
var LiquidationsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "leverage",
		Subsystem: "engine",
		Name:      "liquidations_total",
		Help:      "Total number of executed liquidations",
	},
)

// RebalancesTotal - количество ребалансировок
var RebalancesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "leverage",
		Subsystem: "engine",
		Name:      "rebalances_total",
		Help:      "Total number of executed rebalances",
	},
)

// StopLossTotal - количество срабатываний stop-loss
var StopLossTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "leverage",
		Subsystem: "engine",
		Name:      "stop_loss_total",
		Help:      "Total number of triggered stop losses",
	},
)

// BadDebtTotal - количество событий безнадёжного долга
var BadDebtTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "leverage",
		Subsystem: "engine",
		Name:      "bad_debt_total",
		Help:      "Total number of recorded bad debt events",
	},
)

// ============ Сканеры ============

// ScannerCandidates - количество кандидатов последнего скана
var ScannerCandidates = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "leverage",
		Subsystem: "scanner",
		Name:      "candidates",
		Help:      "Number of candidate positions found by the last scan",
	},
	[]string{"scanner"},
)

// ScannerRuns - количество сканов по результату
var ScannerRuns = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "leverage",
		Subsystem: "scanner",
		Name:      "runs_total",
		Help:      "Total number of scanner passes",
	},
	[]string{"scanner", "result"},
)
