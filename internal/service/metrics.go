package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 考勤业务指标
var (
	checkTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humio_attendance_checks_total",
			Help: "扫码打卡请求数，按动作与结果分类",
		},
		[]string{"action", "outcome"},
	)

	scanLogFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "humio_attendance_scan_log_failures_total",
		Help: "扫码日志写入失败次数（不影响打卡结果）",
	})

	sweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humio_sweeper_runs_total",
			Help: "对账任务运行次数",
		},
		[]string{"result"},
	)

	sweepRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "humio_sweeper_rows_total",
			Help: "对账任务处理的记录数，按步骤分类",
		},
		[]string{"step"},
	)

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "humio_sweeper_run_duration_seconds",
		Help:    "单次对账任务耗时",
		Buckets: prometheus.DefBuckets,
	})

	employeeCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "humio_employee_cache_hits_total",
		Help: "user→employee 缓存命中次数",
	})

	employeeCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "humio_employee_cache_misses_total",
		Help: "user→employee 缓存未命中次数",
	})
)

// sweep 步骤标签
const (
	stepAutoCheckout = "auto_checkout"
	stepFlagged      = "flagged_for_review"
	stepAbsent       = "absent"
	stepStaleClose   = "stale_close"
	stepFailed       = "failed"
)
