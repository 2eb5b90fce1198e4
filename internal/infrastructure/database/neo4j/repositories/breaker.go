package repositories

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/sony/gobreaker"

	domain "github.com/turtacn/molcore/internal/domain/molecule"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
)

// GraphRepository is the full set of graph operations the breaker guards.
type GraphRepository interface {
	domain.GraphStore
	DeleteGraph(ctx context.Context, recordID string) error
	Summary(ctx context.Context, recordID string) (*domain.GraphSummary, error)
}

var _ GraphRepository = (*MoleculeGraphRepo)(nil)

type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// The breaker opens once MinRequests calls have been seen in the
	// current interval and at least FailureRatio of them failed.
	FailureRatio float64
	MinRequests  uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "neo4j",
		MaxRequests:  3,
		Interval:     30 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.6,
		MinRequests:  5,
	}
}

// BreakerGraphRepo fails fast with CodeUnavailable while Neo4j is tripping,
// so a dead graph database does not stall every ingest job on driver
// timeouts. Caller errors (bad input, missing graph) never count as
// failures.
type BreakerGraphRepo struct {
	next GraphRepository
	cb   *gobreaker.CircuitBreaker
}

var _ GraphRepository = (*BreakerGraphRepo)(nil)

func NewBreakerGraphRepo(next GraphRepository, cfg BreakerConfig, log logging.Logger) *BreakerGraphRepo {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &BreakerGraphRepo{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				if c.Requests < cfg.MinRequests {
					return false
				}
				return float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("graph store breaker changed state",
					logging.String("breaker", name),
					logging.String("from", from.String()),
					logging.String("to", to.String()))
			},
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				return errors.IsClientError(errors.GetCode(err))
			},
		}),
	}
}

// State reports the breaker state: "closed", "half-open" or "open".
func (b *BreakerGraphRepo) State() string {
	return b.cb.State().String()
}

func (b *BreakerGraphRepo) SaveGraph(ctx context.Context, recordID string, mol *domain.Molecule) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.SaveGraph(ctx, recordID, mol)
	})
	return breakerError(err)
}

func (b *BreakerGraphRepo) DeleteGraph(ctx context.Context, recordID string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.DeleteGraph(ctx, recordID)
	})
	return breakerError(err)
}

func (b *BreakerGraphRepo) Summary(ctx context.Context, recordID string) (*domain.GraphSummary, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Summary(ctx, recordID)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*domain.GraphSummary), nil
}

func breakerError(err error) error {
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Wrap(err, errors.CodeUnavailable, "graph store unavailable")
	}
	return err
}
