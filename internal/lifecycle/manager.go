package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/quangdv/optionsbot/internal/alerting"
	"github.com/quangdv/optionsbot/internal/exec"
	"github.com/quangdv/optionsbot/internal/gateway"
	"github.com/quangdv/optionsbot/internal/metrics"
	"github.com/quangdv/optionsbot/internal/persistence"
	"github.com/quangdv/optionsbot/internal/types"
)

// BlockQuoter executes a structure as a single block through an RFQ venue.
// The negotiation protocol lives behind this boundary.
type BlockQuoter interface {
	ExecuteBlock(ctx context.Context, legs []types.Leg) (runID string, cost decimal.Decimal, err error)
}

// Config tunes execution routing and the smart engine defaults.
type Config struct {
	// RFQMinNotional routes structures at or above this notional to the
	// block quoter, when one is configured.
	RFQMinNotional decimal.Decimal

	// SmartMinNotional routes structures at or above this notional through
	// chunked smart execution; smaller structures go out as one chunk.
	SmartMinNotional decimal.Decimal

	// Exec is the smart engine configuration applied to routed structures.
	Exec exec.Config
}

// DefaultConfig returns the standard routing thresholds.
func DefaultConfig() Config {
	return Config{
		RFQMinNotional:   decimal.NewFromInt(50000),
		SmartMinNotional: decimal.NewFromInt(10000),
		Exec:             exec.DefaultConfig(),
	}
}

// Manager owns the set of live trades. Repository, alerter and block quoter
// are optional; a nil value disables that concern.
type Manager struct {
	gw       gateway.Gateway
	executor *exec.Executor
	rfq      BlockQuoter
	repo     persistence.Repository
	alerter  alerting.Alerter
	logger   *slog.Logger
	rec      *metrics.Recorder
	cfg      Config

	mu     sync.Mutex
	trades map[string]*Trade
}

// NewManager creates a trade lifecycle manager.
func NewManager(gw gateway.Gateway, executor *exec.Executor, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		gw:       gw,
		executor: executor,
		logger:   logger,
		rec:      metrics.NewRecorder(),
		cfg:      cfg,
		trades:   make(map[string]*Trade),
	}
}

// WithBlockQuoter enables RFQ routing for large structures.
func (m *Manager) WithBlockQuoter(rfq BlockQuoter) *Manager {
	m.rfq = rfq
	return m
}

// WithRepository enables trade persistence.
func (m *Manager) WithRepository(repo persistence.Repository) *Manager {
	m.repo = repo
	return m
}

// WithAlerter enables lifecycle event alerts.
func (m *Manager) WithAlerter(alerter alerting.Alerter) *Manager {
	m.alerter = alerter
	return m
}

// Create registers a new trade in the pending-open state.
func (m *Manager) Create(label string, legs []types.Leg, exits []ExitCondition) (*Trade, error) {
	if len(legs) == 0 {
		return nil, types.ErrNoLegs
	}
	for _, leg := range legs {
		if err := leg.Validate(); err != nil {
			return nil, err
		}
	}

	trade := &Trade{
		ID:        uuid.New().String()[:8],
		Label:     label,
		State:     StatePendingOpen,
		OpenLegs:  legs,
		Exits:     exits,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.trades[trade.ID] = trade
	m.mu.Unlock()

	m.logger.Info("trade created", "trade_id", trade.ID, "label", label, "legs", len(legs))
	return trade, nil
}

// Open executes the trade's opening structure. The route is chosen by
// notional: block quote for the largest structures, chunked smart execution
// in the middle, a single-chunk run below the smart threshold.
func (m *Manager) Open(ctx context.Context, tradeID string) error {
	trade, err := m.trade(tradeID)
	if err != nil {
		return err
	}
	if err := trade.Transition(StateOpening); err != nil {
		return err
	}

	runID, cost, err := m.route(ctx, trade, trade.OpenLegs)
	if err != nil {
		m.fail(ctx, trade, fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("open trade %s: %w", trade.ID, err)
	}

	trade.OpenRunID = runID
	trade.OpenCost = cost
	trade.OpenedAt = time.Now()
	if err := trade.Transition(StateOpen); err != nil {
		return err
	}
	m.persist(ctx, trade)
	m.alert(ctx, alerting.EventTradeOpened, fmt.Sprintf("trade %s opened", trade.ID),
		"label", trade.Label, "cost", cost.StringFixed(4), "run_id", runID)
	m.logger.Info("trade opened", "trade_id", trade.ID, "run_id", runID, "cost", cost)
	return nil
}

// Tick evaluates exit conditions for every open trade and closes the ones
// whose conditions fire. Per-trade errors are logged, not propagated; one
// stuck trade must not stall the loop.
func (m *Manager) Tick(ctx context.Context) {
	for _, trade := range m.openTrades() {
		snap, err := m.snapshot(ctx, trade)
		if err != nil {
			m.logger.Warn("snapshot failed", "trade_id", trade.ID, "err", err)
			continue
		}
		for _, exit := range trade.Exits {
			if !exit.Check(snap) {
				continue
			}
			m.logger.Info("exit condition met",
				"trade_id", trade.ID,
				"condition", exit.Name,
				"pnl", snap.StructurePnL,
			)
			if err := m.Close(ctx, trade.ID, exit.Name); err != nil {
				m.logger.Error("close failed", "trade_id", trade.ID, "err", err)
			}
			break
		}
	}
}

// Close unwinds an open trade through the same routing as the open.
func (m *Manager) Close(ctx context.Context, tradeID, reason string) error {
	trade, err := m.trade(tradeID)
	if err != nil {
		return err
	}
	if err := trade.Transition(StatePendingClose); err != nil {
		return err
	}
	trade.ExitReason = reason
	if err := trade.Transition(StateClosing); err != nil {
		return err
	}

	runID, cost, err := m.route(ctx, trade, trade.CloseLegs())
	if err != nil {
		m.fail(ctx, trade, fmt.Sprintf("close failed: %v", err))
		return fmt.Errorf("close trade %s: %w", trade.ID, err)
	}

	trade.CloseRunID = runID
	trade.CloseCost = cost
	trade.ClosedAt = time.Now()
	if err := trade.Transition(StateClosed); err != nil {
		return err
	}
	m.rec.RecordTrade(string(StateClosed))
	m.persist(ctx, trade)
	m.alert(ctx, alerting.EventTradeClosed, fmt.Sprintf("trade %s closed (%s)", trade.ID, reason),
		"label", trade.Label, "realized_pl", trade.RealizedPL().StringFixed(4))
	m.logger.Info("trade closed",
		"trade_id", trade.ID,
		"reason", reason,
		"realized_pl", trade.RealizedPL(),
	)
	return nil
}

// ForceClose closes an open trade regardless of its exit conditions.
func (m *Manager) ForceClose(ctx context.Context, tradeID string) error {
	return m.Close(ctx, tradeID, "manual")
}

// Cancel abandons a trade that has not started opening.
func (m *Manager) Cancel(ctx context.Context, tradeID string) error {
	trade, err := m.trade(tradeID)
	if err != nil {
		return err
	}
	if trade.State != StatePendingOpen {
		return fmt.Errorf("%w: trade %s is %s, only pending trades can be cancelled",
			types.ErrInvalidTransition, trade.ID, trade.State)
	}
	trade.ExitReason = "cancelled"
	if err := trade.Transition(StateFailed); err != nil {
		return err
	}
	m.persist(ctx, trade)
	m.logger.Info("trade cancelled", "trade_id", trade.ID)
	return nil
}

// Trade returns a trade by id.
func (m *Manager) Trade(tradeID string) (*Trade, error) {
	return m.trade(tradeID)
}

// Trades returns all known trades.
func (m *Manager) Trades() []*Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Trade, 0, len(m.trades))
	for _, t := range m.trades {
		out = append(out, t)
	}
	return out
}

// route picks the execution path by structure notional and runs it.
func (m *Manager) route(ctx context.Context, trade *Trade, legs []types.Leg) (string, decimal.Decimal, error) {
	notional := m.notional(ctx, legs)

	if m.rfq != nil && notional.GreaterThanOrEqual(m.cfg.RFQMinNotional) {
		m.logger.Info("routing to block quote",
			"trade_id", trade.ID,
			"notional", notional.StringFixed(0),
		)
		return m.rfq.ExecuteBlock(ctx, legs)
	}

	cfg := m.cfg.Exec
	if notional.LessThan(m.cfg.SmartMinNotional) {
		// Small structures are not worth slicing.
		cfg.ChunkCount = 1
	}
	m.logger.Info("routing to smart execution",
		"trade_id", trade.ID,
		"notional", notional.StringFixed(0),
		"chunks", cfg.ChunkCount,
	)

	legs = m.executor.CaptureStartingPositions(ctx, legs)
	started := time.Now()
	res, err := m.executor.Execute(ctx, legs, cfg)
	if res != nil {
		m.persistExecution(ctx, res, started)
	}
	if err != nil {
		if errors.Is(err, types.ErrRunAborted) {
			m.alert(ctx, alerting.EventRunAborted,
				fmt.Sprintf("run for trade %s aborted", trade.ID), "err", err.Error())
		}
		return "", decimal.Zero, err
	}
	if !res.Success {
		m.alert(ctx, alerting.EventPartialFill,
			fmt.Sprintf("run %s for trade %s ended partially filled", res.RunID, trade.ID),
			"summary", res.Summary())
		return res.RunID, res.TotalCost, fmt.Errorf("execution run %s incomplete: %s", res.RunID, res.Summary())
	}
	return res.RunID, res.TotalCost, nil
}

// notional values the structure at Σ qty × mark, falling back to the
// midpoint when the venue publishes no mark. Legs with no market data are
// valued at zero.
func (m *Manager) notional(ctx context.Context, legs []types.Leg) decimal.Decimal {
	total := decimal.Zero
	for _, leg := range legs {
		book, err := m.gw.GetOrderbook(ctx, leg.Instrument)
		if err != nil {
			m.logger.Warn("no market data for notional", "instrument", leg.Instrument, "err", err)
			continue
		}
		price := book.Mark
		if !book.HasMark() {
			price = book.Mid()
		}
		total = total.Add(leg.Qty.Mul(price))
	}
	return total
}

// snapshot collects the trade's current unrealized PnL from venue positions.
func (m *Manager) snapshot(ctx context.Context, trade *Trade) (Snapshot, error) {
	positions, err := m.gw.GetPositions(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get positions: %w", err)
	}

	wanted := make(map[string]bool)
	for _, instrument := range trade.Instruments() {
		wanted[instrument] = true
	}
	pnl := decimal.Zero
	for _, pos := range positions {
		if wanted[pos.Instrument] {
			pnl = pnl.Add(pos.UnrealizedPnL)
		}
	}

	return Snapshot{
		Time:         time.Now(),
		StructurePnL: pnl,
		OpenCost:     trade.OpenCost,
		OpenedAt:     trade.OpenedAt,
	}, nil
}

func (m *Manager) openTrades() []*Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Trade
	for _, t := range m.trades {
		if t.State == StateOpen {
			out = append(out, t)
		}
	}
	return out
}

func (m *Manager) trade(tradeID string) (*Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trade, ok := m.trades[tradeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrTradeNotFound, tradeID)
	}
	return trade, nil
}

func (m *Manager) fail(ctx context.Context, trade *Trade, reason string) {
	trade.ExitReason = reason
	if err := trade.Transition(StateFailed); err != nil {
		m.logger.Error("fail transition rejected", "trade_id", trade.ID, "err", err)
	}
	m.rec.RecordTrade(string(StateFailed))
	m.persist(ctx, trade)
	m.alert(ctx, alerting.EventTradeFailed, fmt.Sprintf("trade %s failed", trade.ID),
		"label", trade.Label, "reason", reason)
}

// persistExecution records a finished execution run, if a repository is
// configured.
func (m *Manager) persistExecution(ctx context.Context, res *exec.Result, started time.Time) {
	if m.repo == nil {
		return
	}
	record := persistence.ExecutionRecord{
		RunID:           res.RunID,
		StartedAt:       started,
		Success:         res.Success,
		Aborted:         res.Aborted,
		ChunksPlanned:   res.ChunksPlanned,
		ChunksCompleted: res.ChunksCompleted,
		FallbackCount:   res.FallbackCount,
		TotalCost:       res.TotalCost,
		ExecutionTime:   res.ExecutionTime,
	}
	for _, leg := range res.Legs {
		record.Legs = append(record.Legs, persistence.LegFillRecord{
			Instrument: leg.Instrument,
			Side:       leg.Side,
			TargetQty:  leg.TargetQty,
			FilledQty:  leg.FilledQty,
			AvgPrice:   leg.AvgPrice,
		})
	}
	if err := m.repo.SaveExecution(ctx, record); err != nil {
		m.logger.Error("persist execution failed", "run_id", res.RunID, "err", err)
	}
}

// persist writes the trade to the repository, if one is configured.
// Persistence failures are logged; the in-memory state stays authoritative.
func (m *Manager) persist(ctx context.Context, trade *Trade) {
	if m.repo == nil {
		return
	}
	record := persistence.TradeRecord{
		TradeID:    trade.ID,
		Label:      trade.Label,
		State:      string(trade.State),
		OpenedAt:   trade.OpenedAt,
		ClosedAt:   trade.ClosedAt,
		OpenCost:   trade.OpenCost,
		CloseCost:  trade.CloseCost,
		RealizedPL: trade.RealizedPL(),
		ExitReason: trade.ExitReason,
		OpenRunID:  trade.OpenRunID,
		CloseRunID: trade.CloseRunID,
	}
	if err := m.repo.SaveTrade(ctx, record); err != nil {
		m.logger.Error("persist trade failed", "trade_id", trade.ID, "err", err)
	}
}

func (m *Manager) alert(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if m.alerter == nil {
		return
	}
	if err := m.alerter.Alert(ctx, alerting.EventSeverity(event), message, fields...); err != nil {
		m.logger.Warn("alert failed", "event", string(event), "err", err)
	}
}
