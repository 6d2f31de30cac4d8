package chainsearch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/keyproof/keyproofd/pkg/log"
	"github.com/keyproof/keyproofd/pkg/sign"
)

const (
	// defaultProbeTimeout bounds one query against one endpoint.
	defaultProbeTimeout = 10 * time.Second

	// defaultBackoffBase is the first exponential backoff interval after a
	// retryable endpoint failure.
	defaultBackoffBase = 500 * time.Millisecond
)

// AttemptStatus classifies the outcome of one endpoint probe.
type AttemptStatus string

const (
	StatusSuccess     AttemptStatus = "success"
	StatusNotFound    AttemptStatus = "not_found"
	StatusTimeout     AttemptStatus = "timeout"
	StatusRateLimited AttemptStatus = "rate_limited"
	StatusError       AttemptStatus = "error"
	// StatusRejected marks a probe that produced candidates, all of which the
	// caller's acceptance check refused.
	StatusRejected AttemptStatus = "rejected"
)

// SearchAttempt is the per-endpoint outcome record of one probe. It is used
// for orchestration decisions and diagnostics only, never persisted by this
// package.
type SearchAttempt struct {
	Endpoint string        `json:"endpoint"`
	ChainID  uint64        `json:"chain_id"`
	Status   AttemptStatus `json:"status"`
	Latency  time.Duration `json:"latency"`
	Error    string        `json:"error,omitempty"`
}

// AcceptFunc decides whether a structurally valid candidate satisfies the
// caller; returning false sends the search on to the next candidate.
type AcceptFunc func(SignedTransaction) bool

// Endpoint pairs a source with its orchestration policy.
type Endpoint struct {
	Source TransactionSource
	// Priority orders tiers; lower values are probed first.
	Priority int
	// Timeout bounds a single probe. Zero means defaultProbeTimeout.
	Timeout time.Duration
	// MaxRetries is how many times a timed-out or rate-limited probe is
	// reissued before the endpoint is given up on.
	MaxRetries int
	// ScanDepth caps how many recent transactions the source inspects.
	ScanDepth int
}

// Orchestrator walks endpoints in strict priority order and returns the first
// usable signed transaction. Chains are never queried out of configured
// priority order: a tier is started only once every earlier tier is
// exhausted, even when a later tier would respond faster.
type Orchestrator struct {
	tiers       [][]Endpoint
	fanOut      int
	backoffBase time.Duration
	onAttempt   func(SearchAttempt)
	logger      log.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFanOut sets the maximum number of concurrent probes within one tier.
// The default of 1 keeps probing sequential to limit cost and rate-limit
// exposure.
func WithFanOut(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.fanOut = n
		}
	}
}

// WithBackoffBase overrides the initial exponential backoff interval.
func WithBackoffBase(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.backoffBase = d
		}
	}
}

// WithAttemptObserver registers a callback invoked for every endpoint probe
// outcome, for metrics and live diagnostics.
func WithAttemptObserver(fn func(SearchAttempt)) Option {
	return func(o *Orchestrator) { o.onAttempt = fn }
}

// NewOrchestrator groups the endpoints into priority tiers. A nil logger is
// replaced with a noop one.
func NewOrchestrator(endpoints []Endpoint, logger log.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	o := &Orchestrator{
		tiers:       groupByPriority(endpoints),
		fanOut:      1,
		backoffBase: defaultBackoffBase,
		logger:      logger.WithName("chainsearch"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Search returns the first candidate, in priority order, that passes codec
// validation and the accept check. A nil accept means the first structurally
// valid signature wins. The returned attempts cover every probe issued,
// including on error.
func (o *Orchestrator) Search(ctx context.Context, addr sign.Address, accept AcceptFunc) (*SignedTransaction, []SearchAttempt, error) {
	collector := &attemptCollector{notify: o.onAttempt}

	for _, tier := range o.tiers {
		if ctx.Err() != nil {
			return nil, collector.all(), ErrSearchTimedOut
		}
		if stx := o.searchTier(ctx, tier, addr, accept, collector); stx != nil {
			return stx, collector.all(), nil
		}
	}

	if ctx.Err() != nil {
		return nil, collector.all(), ErrSearchTimedOut
	}
	return nil, collector.all(), ErrNoSignedTransactionFound
}

// searchTier probes the tier's endpoints, sequentially by default or with
// bounded fan-out. The first hit cancels every other in-flight probe in the
// tier.
func (o *Orchestrator) searchTier(ctx context.Context, tier []Endpoint, addr sign.Address, accept AcceptFunc, collector *attemptCollector) *SignedTransaction {
	if o.fanOut <= 1 || len(tier) == 1 {
		for _, ep := range tier {
			if ctx.Err() != nil {
				return nil
			}
			if stx := o.probeEndpoint(ctx, ep, addr, accept, collector); stx != nil {
				return stx
			}
		}
		return nil
	}

	tierCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan *SignedTransaction, len(tier))
	g, probeCtx := errgroup.WithContext(tierCtx)
	g.SetLimit(o.fanOut)
	for _, ep := range tier {
		g.Go(func() error {
			if stx := o.probeEndpoint(probeCtx, ep, addr, accept, collector); stx != nil {
				results <- stx
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait() // probes never return errors, misses are recorded as attempts
	close(results)

	return <-results
}

// probeEndpoint issues one bounded query, retrying timeouts and rate limits
// with exponential backoff up to the endpoint's budget. Any other failure is
// an immediate miss for this endpoint.
func (o *Orchestrator) probeEndpoint(ctx context.Context, ep Endpoint, addr sign.Address, accept AcceptFunc, collector *attemptCollector) *SignedTransaction {
	logger := o.logger.
		WithKV("endpoint", ep.Source.Endpoint()).
		WithKV("chain", ep.Source.ChainID())

	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	var found *SignedTransaction
	backoff := retry.WithMaxRetries(uint64(ep.MaxRetries), retry.NewExponential(o.backoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		candidates, err := ep.Source.FindSignedTransactions(probeCtx, addr, ep.ScanDepth)
		latency := time.Since(start)

		if err != nil {
			switch {
			case errors.Is(err, ErrNoTransaction):
				collector.record(ep, StatusNotFound, latency, nil)
				return nil
			case errors.Is(err, ErrRateLimited):
				collector.record(ep, StatusRateLimited, latency, err)
				return retry.RetryableError(err)
			case ctx.Err() != nil:
				// Deadline expiry is an attempt worth recording; a probe
				// cancelled because a sibling already won is not.
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					collector.record(ep, StatusTimeout, latency, err)
				}
				return ctx.Err()
			case errors.Is(err, context.DeadlineExceeded):
				collector.record(ep, StatusTimeout, latency, err)
				return retry.RetryableError(err)
			default:
				logger.Warn("unusable endpoint response, treating as miss", "error", err)
				collector.record(ep, StatusError, latency, err)
				return nil
			}
		}

		rejected := false
		for _, cand := range candidates {
			sig, err := sign.NewSignature(cand.R, cand.S, cand.V)
			if err != nil {
				logger.Debug("discarding structurally invalid extraction", "tx", cand.TxHash, "error", err)
				continue
			}
			stx := SignedTransaction{
				TxHash:      cand.TxHash,
				ChainID:     ep.Source.ChainID(),
				BlockNumber: cand.BlockNumber,
				Digest:      cand.Digest,
				Signature:   sig,
				Value:       cand.Value,
			}
			if accept == nil || accept(stx) {
				found = &stx
				collector.record(ep, StatusSuccess, latency, nil)
				return nil
			}
			rejected = true
		}

		if rejected {
			collector.record(ep, StatusRejected, latency, nil)
		} else {
			collector.record(ep, StatusNotFound, latency, nil)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		logger.Debug("endpoint retry budget exhausted", "error", err)
	}

	return found
}

func groupByPriority(endpoints []Endpoint) [][]Endpoint {
	byPriority := make(map[int][]Endpoint)
	var priorities []int
	for _, ep := range endpoints {
		if _, seen := byPriority[ep.Priority]; !seen {
			priorities = append(priorities, ep.Priority)
		}
		byPriority[ep.Priority] = append(byPriority[ep.Priority], ep)
	}
	// Insertion sort keeps the common two-or-three-tier case cheap.
	for i := 1; i < len(priorities); i++ {
		for j := i; j > 0 && priorities[j] < priorities[j-1]; j-- {
			priorities[j], priorities[j-1] = priorities[j-1], priorities[j]
		}
	}

	tiers := make([][]Endpoint, 0, len(priorities))
	for _, p := range priorities {
		tiers = append(tiers, byPriority[p])
	}
	return tiers
}

// attemptCollector accumulates probe outcomes; safe for concurrent use by
// fan-out probes within a tier.
type attemptCollector struct {
	mu       sync.Mutex
	attempts []SearchAttempt
	notify   func(SearchAttempt)
}

func (c *attemptCollector) record(ep Endpoint, status AttemptStatus, latency time.Duration, err error) {
	attempt := SearchAttempt{
		Endpoint: ep.Source.Endpoint(),
		ChainID:  ep.Source.ChainID(),
		Status:   status,
		Latency:  latency,
	}
	if err != nil {
		attempt.Error = err.Error()
	}

	c.mu.Lock()
	c.attempts = append(c.attempts, attempt)
	c.mu.Unlock()

	if c.notify != nil {
		c.notify(attempt)
	}
}

func (c *attemptCollector) all() []SearchAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SearchAttempt(nil), c.attempts...)
}
