package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fortress_activations_total",
		Help: "Activation attempts by outcome.",
	}, []string{"outcome"})

	layerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fortress_layer_failures_total",
		Help: "Restriction layer or teardown step failures.",
	}, []string{"phase", "layer"})

	clearsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fortress_clears_total",
		Help: "Clear runs by outcome and whether authority was held.",
	}, []string{"outcome", "authority"})

	activationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fortress_activation_duration_seconds",
		Help:    "Wall time of activation attempts that reached the layer sequence.",
		Buckets: prometheus.DefBuckets,
	})

	expiryTeardownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fortress_expiry_teardowns_total",
		Help: "Clears started by the expiry watcher.",
	})
)
