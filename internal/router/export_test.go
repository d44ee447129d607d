package router

import "github.com/prometheus/client_golang/prometheus"

func CommandsCounter(r *Router) *prometheus.CounterVec { return r.metrics.commands }

func CommitsCounter(r *Router) *prometheus.CounterVec { return r.metrics.commits }
