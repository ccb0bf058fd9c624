package main

import (
	"log"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/config"
)

// logConfigWarnings flags deployments that run but lose work or visibility.
func logConfigWarnings(cfg *config.Config) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Println("automationd: WARNING [P0]: STORE_DRIVER=memory; pending executions are lost on restart")
	}
	if cfg.StoreDriver != config.StoreDriverMemory && !cfg.ReconcileEnabled {
		log.Println("automationd: WARNING [P0]: RECONCILE_ENABLED=false; executions interrupted by a crash stay pending forever")
	}
	if !cfg.MetricsEnabled {
		log.Println("automationd: WARNING [P1]: METRICS_ENABLED=false; retries and failures are only visible in logs")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Println("automationd: INFO: CIRCUIT_BREAKER_THRESHOLD=0; failing webhooks are retried without a circuit breaker")
	}
	if cfg.MaxConcurrent == 1 {
		log.Println("automationd: INFO: MAX_CONCURRENT=1; executions run one at a time")
	}
}
