package degradation

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/cahoots-org/contex/internal/embedding"
)

// PostgresProbe checks reachability of a Postgres-backed component with a
// cheap round trip. Dependency names which component this instance
// represents (e.g. "event_log" vs "vector_index") so two probes sharing
// one *sqlx.DB can still carry distinct Impact via ImpactLevel. When
// ImpactLevel is unset, Impact is StateUnavailable whatever Dependency
// says, since the event log is load-bearing for every write; a probe for
// a component that only degrades query quality (the vector index) sets
// ImpactLevel to StateDegraded explicitly.
type PostgresProbe struct {
	DB         *sqlx.DB
	Dependency string
	ImpactLevel State
}

func (p *PostgresProbe) Name() string {
	if p.Dependency != "" {
		return p.Dependency
	}
	return "postgres"
}

func (p *PostgresProbe) Probe(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

func (p *PostgresProbe) Impact() State {
	if p.ImpactLevel != StateNormal {
		return p.ImpactLevel
	}
	return StateUnavailable
}

// RedisProbe checks the pub/sub broker's reachability. Redis backs live
// dispatch, not durability, so its default impact is DEGRADED: delivery
// defers to the outbox rather than the system refusing writes outright.
type RedisProbe struct {
	Client      *redis.Client
	ImpactLevel State
}

func (p *RedisProbe) Name() string { return "redis" }

func (p *RedisProbe) Probe(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}

func (p *RedisProbe) Impact() State {
	if p.ImpactLevel != StateNormal {
		return p.ImpactLevel
	}
	return StateDegraded
}

// EmbeddingProbe checks that the embedding model still answers, using a
// fixed canary string so the probe cost is independent of traffic.
type EmbeddingProbe struct {
	Model       embedding.Model
	ImpactLevel State
}

func (p *EmbeddingProbe) Name() string { return "embedding_model" }

func (p *EmbeddingProbe) Probe(ctx context.Context) error {
	_, err := p.Model.Encode(ctx, "__degradation_probe_canary__")
	return err
}

func (p *EmbeddingProbe) Impact() State {
	if p.ImpactLevel != StateNormal {
		return p.ImpactLevel
	}
	return StateDegraded
}

// ResourceProbe flags host CPU or memory pressure as unhealthy, feeding
// the controller even when every external dependency is otherwise fine.
type ResourceProbe struct {
	MaxCPUPercent float64
	MaxMemPercent float64
	ImpactLevel   State
}

func (p *ResourceProbe) Name() string { return "host_resources" }

func (p *ResourceProbe) Impact() State {
	if p.ImpactLevel != StateNormal {
		return p.ImpactLevel
	}
	return StateDegraded
}

func (p *ResourceProbe) Probe(ctx context.Context) error {
	maxCPU := p.MaxCPUPercent
	if maxCPU <= 0 {
		maxCPU = 90
	}
	maxMem := p.MaxMemPercent
	if maxMem <= 0 {
		maxMem = 90
	}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return err
	}
	if len(percents) > 0 && percents[0] > maxCPU {
		return fmt.Errorf("cpu usage %.1f%% exceeds threshold %.1f%%", percents[0], maxCPU)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}
	if vm.UsedPercent > maxMem {
		return fmt.Errorf("memory usage %.1f%% exceeds threshold %.1f%%", vm.UsedPercent, maxMem)
	}
	return nil
}
