package usecases

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/slices"

	"github.com/aetherpay/aetherpay-backend/internal/core/ports"
	"github.com/aetherpay/aetherpay-backend/internal/entities"
)

// ConsensusParams are the tunables of the price-consensus subsystem. They are
// adjustable at runtime through the administrative surface.
type ConsensusParams struct {
	RequiredSubmissions int
	Window              time.Duration
	MaxDeviationBps     int64
	AgreementBps        int64
	MinUpdateInterval   time.Duration
	MinConfidence       float64
	MaxStaleness        time.Duration
	ReputationStart     int64
	ReputationCap       int64
	AgreeStep           int64
	DisagreeStep        int64
	SuspendBelow        int64
}

// OracleConsensus collects rate submissions from registered reporting nodes
// and aggregates them into trusted rates. It exclusively owns node reputation.
//
// Aggregation is a fold over the set of submissions in the rolling window,
// keyed by node (latest submission per node wins), so arrival order and
// concurrent submission do not affect the outcome.
type OracleConsensus struct {
	logger *slog.Logger
	admin  string
	now    func() time.Time

	mu      sync.Mutex
	params  ConsensusParams
	nodes   map[string]*entities.OracleNode
	windows map[string]map[string]entities.PriceSubmission // pair -> node -> latest
	trusted map[string]*entities.TrustedRate
}

func NewOracleConsensus(logger *slog.Logger, admin string, params ConsensusParams) *OracleConsensus {
	return &OracleConsensus{
		logger:  logger,
		admin:   admin,
		now:     time.Now,
		params:  params,
		nodes:   make(map[string]*entities.OracleNode),
		windows: make(map[string]map[string]entities.PriceSubmission),
		trusted: make(map[string]*entities.TrustedRate),
	}
}

// AddNode registers an active reporting node with zero history. Admin-only.
func (oc *OracleConsensus) AddNode(caller, address string) error {
	if caller != oc.admin {
		return entities.ErrUnauthorized
	}

	oc.mu.Lock()
	defer oc.mu.Unlock()

	if n, ok := oc.nodes[address]; ok {
		// Re-adding a suspended node reactivates it without wiping history.
		n.Active = true
		n.Reputation = oc.params.ReputationStart
		oc.logger.Info("oracle node reactivated", "node", address)
		return nil
	}

	oc.nodes[address] = &entities.OracleNode{
		Address:    address,
		Active:     true,
		Reputation: oc.params.ReputationStart,
	}
	oc.logger.Info("oracle node added", "node", address)
	return nil
}

// RemoveNode deactivates a node. Admin-only.
func (oc *OracleConsensus) RemoveNode(caller, address string) error {
	if caller != oc.admin {
		return entities.ErrUnauthorized
	}

	oc.mu.Lock()
	defer oc.mu.Unlock()

	n, ok := oc.nodes[address]
	if !ok {
		return fmt.Errorf("%w: %s", entities.ErrNodeNotFound, address)
	}
	n.Active = false
	oc.logger.Info("oracle node removed", "node", address)
	return nil
}

// SetParams replaces the consensus parameters. Admin-only.
func (oc *OracleConsensus) SetParams(caller string, params ConsensusParams) error {
	if caller != oc.admin {
		return entities.ErrUnauthorized
	}
	if params.RequiredSubmissions < 1 || params.Window <= 0 {
		return fmt.Errorf("%w: bad consensus params", entities.ErrInvalidAmount)
	}

	oc.mu.Lock()
	defer oc.mu.Unlock()

	oc.params = params
	oc.logger.Info("consensus params updated",
		"required_submissions", params.RequiredSubmissions,
		"window", params.Window.String(),
		"max_deviation_bps", params.MaxDeviationBps)
	return nil
}

// SubmitRate accepts a rate submission from an active node into the rolling
// consensus window, then attempts aggregation. A submission that deviates too
// far from the current trusted rate, or arrives before the node's minimum
// update interval has elapsed, is rejected outright.
func (oc *OracleConsensus) SubmitRate(node, pair string, rate decimal.Decimal, at time.Time) error {
	if at.IsZero() {
		at = oc.now()
	}
	if !rate.IsPositive() {
		return fmt.Errorf("%w: rate %s", entities.ErrInvalidAmount, rate)
	}

	oc.mu.Lock()
	defer oc.mu.Unlock()

	n, ok := oc.nodes[node]
	if !ok {
		return fmt.Errorf("%w: %s", entities.ErrNodeNotFound, node)
	}
	if !n.Active {
		return fmt.Errorf("%w: %s", entities.ErrNodeInactive, node)
	}
	if !n.LastSubmitAt.IsZero() && at.Sub(n.LastSubmitAt) < oc.params.MinUpdateInterval {
		return fmt.Errorf("%w: node %s", entities.ErrTooFrequent, node)
	}

	if current, ok := oc.trusted[pair]; ok {
		if bpsDistance(rate, current.Rate) > oc.params.MaxDeviationBps {
			return fmt.Errorf("%w: %s vs trusted %s", entities.ErrRateDeviationTooLarge, rate, current.Rate)
		}
	}

	n.LastSubmitAt = at
	n.TotalSubmissions++

	window, ok := oc.windows[pair]
	if !ok {
		window = make(map[string]entities.PriceSubmission)
		oc.windows[pair] = window
	}
	window[node] = entities.PriceSubmission{Node: node, Pair: pair, Rate: rate, At: at}

	oc.aggregate(pair, at)
	return nil
}

// aggregate runs the consensus fold for one pair. Caller holds the lock.
func (oc *OracleConsensus) aggregate(pair string, at time.Time) {
	window := oc.windows[pair]

	// Drop submissions that fell out of the rolling window or whose node
	// was deactivated since submitting.
	for addr, sub := range window {
		n, ok := oc.nodes[addr]
		if !ok || !n.Active || at.Sub(sub.At) > oc.params.Window {
			delete(window, addr)
		}
	}

	if len(window) < oc.params.RequiredSubmissions {
		return
	}

	subs := make([]entities.PriceSubmission, 0, len(window))
	for _, sub := range window {
		subs = append(subs, sub)
	}

	pivot := medianRate(subs)
	var agreeing, disagreeing []entities.PriceSubmission
	for _, sub := range subs {
		if bpsDistance(sub.Rate, pivot) <= oc.params.AgreementBps {
			agreeing = append(agreeing, sub)
		} else {
			disagreeing = append(disagreeing, sub)
		}
	}

	if len(agreeing) < oc.params.RequiredSubmissions {
		// No quorum yet; the window keeps accumulating until it expires and
		// the previous trusted rate stays in force.
		return
	}

	// Confidence is the reputation-weighted share of agreeing submitters,
	// measured before this round's reputation updates.
	var agreeWeight, totalWeight int64
	for _, sub := range subs {
		rep := oc.nodes[sub.Node].Reputation
		totalWeight += rep
	}
	for _, sub := range agreeing {
		agreeWeight += oc.nodes[sub.Node].Reputation
	}
	confidence := 0.0
	if totalWeight > 0 {
		confidence = float64(agreeWeight) / float64(totalWeight)
	}

	newRate := medianRate(agreeing)
	oc.trusted[pair] = &entities.TrustedRate{
		Pair:       pair,
		Rate:       newRate,
		Confidence: confidence,
		UpdatedAt:  at,
	}

	for _, sub := range agreeing {
		n := oc.nodes[sub.Node]
		n.SuccessfulSubmissions++
		n.Reputation = min(n.Reputation+oc.params.AgreeStep, oc.params.ReputationCap)
	}
	for _, sub := range disagreeing {
		n := oc.nodes[sub.Node]
		n.Reputation = max(n.Reputation-oc.params.DisagreeStep, 0)
		if n.Reputation < oc.params.SuspendBelow {
			n.Active = false
			oc.logger.Warn("oracle node suspended, reputation below threshold",
				"node", n.Address, "reputation", n.Reputation)
		}
	}

	// Submissions are consumed by the round.
	delete(oc.windows, pair)

	oc.logger.Info("trusted rate updated",
		"pair", pair,
		"rate", newRate.String(),
		"confidence", confidence,
		"agreeing", len(agreeing),
		"disagreeing", len(disagreeing))
}

// GetRate returns the current trusted rate for a pair, enforcing staleness
// and confidence thresholds on behalf of the caller.
func (oc *OracleConsensus) GetRate(pair string) (*entities.TrustedRate, error) {
	oc.mu.Lock()
	defer oc.mu.Unlock()

	tr, ok := oc.trusted[pair]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrRateUnavailable, pair)
	}
	if age := oc.now().Sub(tr.UpdatedAt); age > oc.params.MaxStaleness {
		return nil, fmt.Errorf("%w: %s age %s", entities.ErrRateStale, pair, age)
	}
	if tr.Confidence < oc.params.MinConfidence {
		return nil, fmt.Errorf("%w: %s confidence %.2f", entities.ErrConfidenceTooLow, pair, tr.Confidence)
	}

	cp := *tr
	return &cp, nil
}

func (oc *OracleConsensus) GetNode(address string) (*entities.OracleNode, error) {
	oc.mu.Lock()
	defer oc.mu.Unlock()

	n, ok := oc.nodes[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entities.ErrNodeNotFound, address)
	}
	cp := *n
	return &cp, nil
}

// ActiveNodes lists active node addresses, sorted for stable output.
func (oc *OracleConsensus) ActiveNodes() []string {
	oc.mu.Lock()
	defer oc.mu.Unlock()

	var result []string
	for addr, n := range oc.nodes {
		if n.Active {
			result = append(result, addr)
		}
	}
	sort.Strings(result)
	return result
}

var _ ports.RateSource = (*OracleConsensus)(nil)

func medianRate(subs []entities.PriceSubmission) decimal.Decimal {
	rates := make([]decimal.Decimal, len(subs))
	for i, sub := range subs {
		rates[i] = sub.Rate
	}
	slices.SortFunc(rates, func(a, b decimal.Decimal) bool { return a.LessThan(b) })

	mid := len(rates) / 2
	if len(rates)%2 == 1 {
		return rates[mid]
	}
	return rates[mid-1].Add(rates[mid]).Div(decimal.NewFromInt(2))
}

// bpsDistance returns |a-b|/b in basis points, rounded up.
func bpsDistance(a, b decimal.Decimal) int64 {
	if b.IsZero() {
		return int64(ports.BpsDenominator)
	}
	return a.Sub(b).Abs().
		Mul(decimal.NewFromInt(ports.BpsDenominator)).
		Div(b.Abs()).
		Ceil().
		IntPart()
}
