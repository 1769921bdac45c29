// Package metrics holds Prometheus instruments that are used across the
// gateway.  All collectors are registered with the global registry, so
// importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActiveTenants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_tenants",
			Help: "Number of tenant connections currently held open.",
		})

	TenantLoadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_load_total",
			Help: "Cumulative number of tenant connections successfully opened.",
		})

	TenantLoadErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_load_errors_total",
			Help: "Cumulative number of failed tenant connection attempts.",
		})

	TenantEvictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_evict_total",
			Help: "Cumulative number of tenant connections retired.",
		})

	TenantCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_coalesced_total",
			Help: "Acquires that shared an in-flight connection attempt.",
		})

	TenantCooldownTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenant_cooldown_total",
			Help: "Acquires rejected inside a failure cool-down window.",
		})

	DirectoryLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_lookups_total",
			Help: "Hostname lookups by outcome (hit, load, miss, negative, reserved, error).",
		}, []string{"outcome"})

	IdentityLinksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_links_total",
			Help: "Provider logins by outcome (existing, created, conflict, disabled).",
		}, []string{"outcome"})

	AuthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_token_rejected_total",
			Help: "Bearer tokens present but rejected (treated as anonymous).",
		})

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(
		ActiveTenants,
		TenantLoadTotal,
		TenantLoadErrorsTotal,
		TenantEvictTotal,
		TenantCoalescedTotal,
		TenantCooldownTotal,
		DirectoryLookupsTotal,
		IdentityLinksTotal,
		AuthFailuresTotal,
		RequestDuration,
	)
}
