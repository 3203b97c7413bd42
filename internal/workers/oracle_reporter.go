package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aetherpay/aetherpay-backend/internal/handlers"
)

// sanityBoundBps rejects a fetched price that moved more than 20% against the
// previous fetch; a jump that size is treated as a bad upstream read rather
// than a market move.
const sanityBoundBps = 2000

// OracleReporter is the built-in reporting node: it polls external price
// endpoints and submits the fetched rates into the consensus window under its
// configured node identity. External nodes report through the HTTP surface;
// this worker only exists so a single-binary deployment still produces rates.
type OracleReporter struct {
	logger *slog.Logger
	oracle handlers.OracleService
	client *http.Client

	node     string
	interval time.Duration
	sources  map[string]string // pair -> price endpoint URL

	lastFetched map[string]decimal.Decimal
}

func NewOracleReporter(
	logger *slog.Logger,
	oracle handlers.OracleService,
	node string,
	interval time.Duration,
	sources map[string]string,
) *OracleReporter {
	return &OracleReporter{
		logger:      logger,
		oracle:      oracle,
		client:      &http.Client{Timeout: 10 * time.Second},
		node:        node,
		interval:    interval,
		sources:     sources,
		lastFetched: make(map[string]decimal.Decimal),
	}
}

// Start polls all configured sources until the context ends.
func (or *OracleReporter) Start(ctx context.Context) {
	or.logger.Info("starting oracle reporter worker",
		"node", or.node, "interval", or.interval.String(), "pairs", len(or.sources))

	ticker := time.NewTicker(or.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			or.logger.Info("oracle reporter worker stopped")
			return
		case <-ticker.C:
			for pair, url := range or.sources {
				or.report(ctx, pair, url)
			}
		}
	}
}

func (or *OracleReporter) report(ctx context.Context, pair, url string) {
	rate, err := or.fetchPrice(ctx, url)
	if err != nil {
		or.logger.Error("price fetch failed", "pair", pair, "url", url, "error", err)
		return
	}

	if last, ok := or.lastFetched[pair]; ok && outsideSanityBound(rate, last) {
		or.logger.Warn("fetched price outside sanity bound, skipping",
			"pair", pair, "rate", rate.String(), "last", last.String())
		return
	}
	or.lastFetched[pair] = rate

	if err = or.oracle.SubmitRate(or.node, pair, rate, time.Time{}); err != nil {
		or.logger.Warn("rate submission rejected", "pair", pair, "rate", rate.String(), "error", err)
		return
	}
	or.logger.Debug("rate submitted", "pair", pair, "rate", rate.String())
}

func (or *OracleReporter) fetchPrice(ctx context.Context, url string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := or.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price endpoint returned %s", resp.Status)
	}

	var payload struct {
		Price string `json:"price"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}

	rate, err := decimal.NewFromString(strings.TrimSpace(payload.Price))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", payload.Price, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s", rate)
	}
	return rate, nil
}

func outsideSanityBound(rate, last decimal.Decimal) bool {
	if last.IsZero() {
		return false
	}
	deviation := rate.Sub(last).Abs().
		Mul(decimal.NewFromInt(10000)).
		Div(last)
	return deviation.GreaterThan(decimal.NewFromInt(sanityBoundBps))
}
