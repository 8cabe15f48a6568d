// File: pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jsj9346/makenaide-sub002/dataprovider"
	cg "github.com/jsj9346/makenaide-sub002/dataprovider/coingecko"
	"github.com/jsj9346/makenaide-sub002/notification/discord"
	"github.com/jsj9346/makenaide-sub002/pkg/broker"
	upbitBroker "github.com/jsj9346/makenaide-sub002/pkg/broker/upbit"
	"github.com/jsj9346/makenaide-sub002/pkg/executor"
	"github.com/jsj9346/makenaide-sub002/pkg/kelly"
	"github.com/jsj9346/makenaide-sub002/pkg/reconciler"
	"github.com/jsj9346/makenaide-sub002/strategy"
	"github.com/jsj9346/makenaide-sub002/utilities"
	"github.com/jsj9346/makenaide-sub002/web"
)

// TradingSession owns the live-trading loop and all per-session state. One
// session per process; tickers are processed sequentially.
type TradingSession struct {
	broker        broker.Broker
	logger        *utilities.Logger
	config        *utilities.AppConfig
	discordClient *discord.Client
	store         *dataprovider.SQLiteStore
	exec          *executor.OrderExecutor
	reconciler    *reconciler.PortfolioReconciler
	trailing      *strategy.TrailingStopEngine
	sellEngine    *strategy.SellDecisionEngine
	sizer         *strategy.PositionSizer
	pyramids      *strategy.PyramidingManager
	kellyCalc     *kelly.Calculator
	barsProvider  dataprovider.BarsProvider
	blacklist     map[string]bool
	metrics       *web.Metrics
	sessionStart  time.Time

	stateMutex              sync.RWMutex
	openPositions           map[string]*utilities.Position
	consecutiveFailures     int
	isCircuitBreakerTripped bool
}

var (
	fngMutex   sync.RWMutex
	currentFNG dataprovider.FearGreedIndex
)

func startFNGUpdater(ctx context.Context, fearGreedProvider dataprovider.FearGreedProvider, logger *utilities.Logger, updateInterval time.Duration) {
	if fearGreedProvider == nil {
		logger.LogWarn("F&G Updater: No FearGreed provider configured.")
		fngMutex.Lock()
		currentFNG = dataprovider.FearGreedIndex{Value: 50, Level: "Neutral", Timestamp: time.Now().Unix()}
		fngMutex.Unlock()
		return
	}
	fetchFNG := func() {
		fngData, err := fearGreedProvider.GetFearGreedIndex(ctx)
		if err != nil {
			logger.LogError("F&G Updater: Failed to fetch: %v", err)
			return
		}
		fngMutex.Lock()
		currentFNG = fngData
		fngMutex.Unlock()
		logger.LogInfo("F&G Updater: Updated Index: Value=%d, Level=%s", fngData.Value, fngData.Level)
	}
	go fetchFNG()
	ticker := time.NewTicker(updateInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fetchFNG()
			}
		}
	}()
}

func getCurrentFNG() dataprovider.FearGreedIndex {
	fngMutex.RLock()
	defer fngMutex.RUnlock()
	return currentFNG
}

// Run wires the session together and drives the trading loop until the
// context is cancelled.
func Run(ctx context.Context, cfg *utilities.AppConfig, logger *utilities.Logger) error {
	if cfg.Upbit.AccessKey == "" || cfg.Upbit.SecretKey == "" {
		return errors.New("pre-flight check failed: upbit access_key and secret_key are required")
	}

	discordClient := discord.NewClient(cfg.Discord.WebhookURL)
	mode := "LIVE"
	if cfg.Trading.DryRun {
		mode = "DRY RUN"
	}
	discordClient.SendMessage(fmt.Sprintf("✅ **Makenaide v%s Starting Up (%s)**", cfg.Version, mode))
	defer discordClient.SendMessage("🛑 **Makenaide Shutting Down**")

	logger.LogInfo("AppRun: Starting pre-flight checks...")

	store, err := dataprovider.NewSQLiteStore(cfg.DB)
	if err != nil {
		return fmt.Errorf("pre-flight check failed: sqlite store init failed: %w", err)
	}
	defer store.Close()
	go store.StartScheduledCleanup(24*time.Hour, "coingecko")

	blacklist, err := dataprovider.LoadBlacklist(cfg.Trading.BlacklistPath)
	if err != nil {
		return fmt.Errorf("pre-flight check failed: could not load blacklist: %w", err)
	}
	logger.LogInfo("Pre-Flight: Loaded %d blacklisted ticker(s).", len(blacklist))

	sharedHTTPClient := &http.Client{Timeout: 15 * time.Second}

	logger.LogInfo("Pre-Flight: Initializing and verifying broker (Upbit)...")
	adapter, err := upbitBroker.NewAdapter(cfg, sharedHTTPClient, logger)
	if err != nil {
		return fmt.Errorf("pre-flight check failed: could not initialize Upbit adapter: %w", err)
	}

	// The only fatal runtime condition: credentials that cannot query the
	// account. Everything past this point degrades per-ticker instead.
	initialEquity, err := adapter.GetAccountValue(ctx, cfg.Trading.QuoteCurrency)
	if err != nil {
		return fmt.Errorf("pre-flight check failed: could not get account value from broker. Check API keys and permissions: %w", err)
	}
	logger.LogInfo("Pre-Flight: Broker verification passed. Initial portfolio value: %.0f %s", initialEquity, cfg.Trading.QuoteCurrency)

	var barsProvider dataprovider.BarsProvider
	if cfg.Coingecko != nil && cfg.Coingecko.APIKey != "" {
		cgClient, cgErr := cg.NewClient(cfg.Coingecko, logger, sharedHTTPClient, store)
		if cgErr != nil {
			logger.LogWarn("Pre-Flight: CoinGecko init failed, secondary candle source disabled: %v", cgErr)
		} else {
			barsProvider = cgClient
			logger.LogInfo("Pre-Flight: CoinGecko secondary candle source ready.")
		}
	}

	var fearGreedProvider dataprovider.FearGreedProvider
	if cfg.FearGreed != nil && cfg.FearGreed.BaseURL != "" {
		fgClient, _ := dataprovider.NewFearGreedClient(cfg.FearGreed, logger, sharedHTTPClient)
		fearGreedProvider = fgClient
	}
	fngInterval := 4 * time.Hour
	if cfg.FearGreed != nil && cfg.FearGreed.RefreshIntervalHours > 0 {
		fngInterval = time.Duration(cfg.FearGreed.RefreshIntervalHours) * time.Hour
	}
	startFNGUpdater(ctx, fearGreedProvider, logger, fngInterval)

	riskLevel, err := kelly.ParseRiskLevel(cfg.Sizing.RiskLevel)
	if err != nil {
		logger.LogWarn("AppRun: %v, falling back to moderate", err)
	}

	retryPolicy := executor.DefaultRetryPolicy()
	if cfg.Orders.MaxRetries > 0 {
		retryPolicy.MaxAttempts = cfg.Orders.MaxRetries
	}
	if cfg.Orders.RetryInitialDelaySec > 0 {
		retryPolicy.InitialDelay = time.Duration(cfg.Orders.RetryInitialDelaySec) * time.Second
	}
	if cfg.Orders.RetryBackoffFactor > 0 {
		retryPolicy.BackoffFactor = cfg.Orders.RetryBackoffFactor
	}

	session := &TradingSession{
		broker:        adapter,
		logger:        logger,
		config:        cfg,
		discordClient: discordClient,
		store:         store,
		exec:          executor.NewOrderExecutor(adapter, store, cfg.Orders, cfg.Trading, retryPolicy, logger),
		reconciler:    reconciler.NewPortfolioReconciler(adapter, store, cfg.Sync, cfg.Trading, blacklist, logger),
		sizer:         strategy.NewPositionSizer(cfg.Sizing, cfg.Trading.MinOrderKRW, logger),
		pyramids:      strategy.NewPyramidingManager(cfg.Pyramiding, logger),
		kellyCalc:     kelly.NewCalculator(riskLevel, cfg.Sizing.MaxPositionPercent, logger),
		barsProvider:  barsProvider,
		blacklist:     blacklist,
		sessionStart:  time.Now(),
		openPositions: make(map[string]*utilities.Position),
	}
	session.trailing = strategy.NewTrailingStopEngine(cfg.Stops, logger, session.resolveATR)
	session.sellEngine = strategy.NewSellDecisionEngine(cfg.Trading, session.trailing, logger)

	defer func() {
		stats := session.exec.Stats()
		logger.LogInfo("AppRun: Session finished. attempted=%d full=%d partial=%d partial_cancelled=%d failed=%d cancelled=%d notional=%.0f fees=%.2f success=%.1f%%",
			stats.Attempted, stats.FullFilled, stats.PartialFilled, stats.PartialCancelled,
			stats.Failed, stats.Cancelled, stats.TotalNotionalKRW, stats.TotalFeesKRW, stats.SuccessRate())
		discordClient.NotifySessionSummary(stats, time.Since(session.sessionStart))
	}()

	if cfg.Web.Enabled {
		session.metrics = web.NewMetrics()
		web.StartWebServer(ctx, session, cfg.Web.ListenAddr)
	}

	logger.LogInfo("Reconciliation: Verifying consistency between the ledger and exchange balances...")
	if result, rerr := session.reconciler.Run(ctx); rerr != nil {
		logger.LogError("Reconciliation: initial pass failed: %v", rerr)
	} else {
		session.reportInterventions(result)
	}

	loopInterval := time.Duration(cfg.Trading.LoopIntervalSec) * time.Second
	if loopInterval <= 0 {
		loopInterval = 5 * time.Minute
	}
	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	logger.LogInfo("AppRun: Pre-flight checks complete. Starting main trading loop every %s.", loopInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			session.processTradingCycle(ctx)
		}
	}
}

// processTradingCycle runs one full pass: reconcile, refresh positions,
// evaluate exits, evaluate pyramids, then act on queued buy candidates.
func (s *TradingSession) processTradingCycle(ctx context.Context) {
	s.stateMutex.RLock()
	tripped := s.isCircuitBreakerTripped
	s.stateMutex.RUnlock()
	if tripped {
		s.logger.LogWarn("Cycle: circuit breaker is tripped, skipping trading cycle.")
		return
	}

	if result, err := s.reconciler.Run(ctx); err != nil {
		s.logger.LogError("Cycle: reconciliation failed, continuing with last known ledger state: %v", err)
	} else {
		s.reportInterventions(result)
	}

	if err := s.refreshPositions(ctx); err != nil {
		s.logger.LogError("Cycle: could not refresh positions, skipping cycle: %v", err)
		return
	}

	s.managePositions(ctx)
	s.evaluatePyramids(ctx)
	s.processBuyCandidates(ctx)
	s.publishMetrics()
}

// refreshPositions rebuilds the open-position view from exchange balances.
// Positions exist exactly when the exchange reports a non-dust balance.
func (s *TradingSession) refreshPositions(ctx context.Context) error {
	balances, err := s.broker.GetBalances(ctx)
	if err != nil {
		return err
	}

	quote := s.config.Trading.QuoteCurrency
	if quote == "" {
		quote = "KRW"
	}

	positions := make(map[string]*utilities.Position)
	for _, bal := range balances {
		if bal.Currency == quote || bal.Total <= 0 {
			continue
		}
		ticker := quote + "-" + strings.ToUpper(bal.Currency)
		if s.blacklist[ticker] {
			continue
		}

		td, terr := s.broker.GetTicker(ctx, ticker)
		if terr != nil {
			s.logger.LogWarn("Positions: no ticker data for %s, carrying stale view: %v", ticker, terr)
			continue
		}
		value := bal.Total * td.LastPrice
		if value < s.config.Trading.DustThresholdKRW {
			continue
		}

		pos := &utilities.Position{
			Ticker:       ticker,
			Quantity:     bal.Total,
			AvgBuyPrice:  bal.AvgBuyPrice,
			CurrentPrice: td.LastPrice,
			MarketValue:  value,
			PyramidLevel: s.pyramids.Level(ticker),
		}
		if bal.AvgBuyPrice > 0 {
			pos.UnrealizedPnL = (td.LastPrice - bal.AvgBuyPrice) * bal.Total
			pos.UnrealizedPnLPercent = (td.LastPrice - bal.AvgBuyPrice) / bal.AvgBuyPrice * 100.0
		}
		if entry, ok, berr := s.store.FirstBuyTimestamp(ticker); berr == nil && ok {
			pos.EntryTimestamp = entry
			pos.HoldDays = int(time.Since(entry).Hours() / 24)
		}
		positions[ticker] = pos
	}

	s.stateMutex.Lock()
	s.openPositions = positions
	s.stateMutex.Unlock()

	// Drop risk state for anything that fully exited outside this process.
	for _, ticker := range s.trailing.ArmedTickers() {
		if _, held := positions[ticker]; !held {
			s.trailing.Forget(ticker)
			s.pyramids.Forget(ticker)
		}
	}

	s.logger.LogDebug("Positions: tracking %d open position(s).", len(positions))
	return nil
}

// managePositions runs the exit rules over every open position and executes
// the resulting sells.
func (s *TradingSession) managePositions(ctx context.Context) {
	for ticker, pos := range s.snapshotPositions() {
		snap, err := s.store.TechnicalSnapshot(ticker)
		if err != nil {
			s.logger.LogWarn("Manage %s: snapshot lookup failed, price rules only: %v", ticker, err)
		}
		if snap == nil {
			snap = s.computeSnapshot(ctx, ticker)
		}

		advisorSignal, aerr := s.store.LatestAdvisorSignal(ticker)
		if aerr != nil {
			s.logger.LogWarn("Manage %s: advisor signal lookup failed: %v", ticker, aerr)
		}

		decision := s.sellEngine.Decide(ctx, *pos, snap, advisorSignal)
		if !decision.ShouldSell {
			s.logger.LogDebug("Manage %s: %s", ticker, decision.Reason)
			continue
		}

		s.logger.LogInfo("Manage %s: exit triggered by %s: %s", ticker, decision.Rule, decision.Reason)
		res, err := s.exec.Sell(ctx, ticker, pos.Quantity, decision.Reason)
		if err != nil {
			s.logger.LogError("Manage %s: sell failed: %v", ticker, err)
			s.recordFailure()
			continue
		}
		s.discordClient.NotifyTradeResult(res)
		if res.Succeeded() {
			s.recordSuccess()
			s.trailing.Forget(ticker)
			s.pyramids.Forget(ticker)
			s.stateMutex.Lock()
			delete(s.openPositions, ticker)
			s.stateMutex.Unlock()
		} else if res.Status == executor.StatusFailed {
			s.recordFailure()
		}
		s.orderSpacing(ctx)
	}
}

// evaluatePyramids checks each open position for a qualified scale-in.
func (s *TradingSession) evaluatePyramids(ctx context.Context) {
	if !s.config.Pyramiding.Enabled {
		return
	}

	for ticker, pos := range s.snapshotPositions() {
		snap, err := s.store.TechnicalSnapshot(ticker)
		if err != nil || snap == nil {
			continue
		}

		ok, reason := s.pyramids.ShouldPyramid(ticker, pos.CurrentPrice, snap)
		if !ok {
			s.logger.LogDebug("Pyramid %s: %s", ticker, reason)
			continue
		}

		// At most one buy per ticker per day, entry included.
		if n, cerr := s.store.BuyCountSince(ticker, time.Now().Add(-24*time.Hour)); cerr != nil {
			s.logger.LogWarn("Pyramid %s: buy-count lookup failed, skipping add: %v", ticker, cerr)
			continue
		} else if n > 0 {
			s.logger.LogDebug("Pyramid %s: already bought within the last 24h", ticker)
			continue
		}

		equity, eerr := s.broker.GetAccountValue(ctx, s.config.Trading.QuoteCurrency)
		if eerr != nil {
			s.logger.LogError("Pyramid %s: could not value account: %v", ticker, eerr)
			continue
		}
		amount := equity * s.pyramids.NextSizePercent(ticker) / 100.0
		if amount < s.config.Trading.MinOrderKRW {
			s.logger.LogDebug("Pyramid %s: next level notional %.0f below exchange minimum", ticker, amount)
			continue
		}
		if ceiling := equity * s.sizer.MaxPositionPercent() / 100.0; pos.MarketValue+amount > ceiling {
			s.logger.LogDebug("Pyramid %s: add would push allocation past the %.1f%% single-position ceiling",
				ticker, s.sizer.MaxPositionPercent())
			continue
		}

		s.logger.LogInfo("Pyramid %s: %s, adding %.0f KRW", ticker, reason, amount)
		res, err := s.exec.Buy(ctx, ticker, amount, true, reason)
		if err != nil {
			s.logger.LogError("Pyramid %s: buy failed: %v", ticker, err)
			s.recordFailure()
			continue
		}
		s.discordClient.NotifyTradeResult(res)
		if res.Succeeded() {
			s.recordSuccess()
			s.pyramids.Advance(ticker, res.AvgPrice)
		} else if res.Status == executor.StatusFailed {
			s.recordFailure()
		}
		s.orderSpacing(ctx)
	}
}

// processBuyCandidates drains the screener queue into new entries, subject
// to the position cap and the sizing chain.
func (s *TradingSession) processBuyCandidates(ctx context.Context) {
	maxPositions := s.config.Trading.MaxPositions
	if maxPositions <= 0 {
		maxPositions = 8
	}

	candidates, err := s.store.PendingBuyCandidates()
	if err != nil {
		s.logger.LogError("Candidates: queue read failed: %v", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	for _, cand := range candidates {
		s.stateMutex.RLock()
		openCount := len(s.openPositions)
		_, alreadyHeld := s.openPositions[cand.Ticker]
		s.stateMutex.RUnlock()

		if openCount >= maxPositions {
			s.logger.LogInfo("Candidates: position cap (%d) reached, leaving %d candidate(s) queued.", maxPositions, len(candidates))
			return
		}
		if alreadyHeld || s.blacklist[cand.Ticker] {
			s.store.MarkCandidateConsumed(cand.ID)
			continue
		}

		kellyPct := cand.KellyPercent
		if kellyPct <= 0 {
			kellyPct = s.kellyCalc.TechnicalPosition(kelly.PatternType(cand.Pattern), cand.QualityScore)
			kellyPct = s.kellyCalc.AdvisorAdjustment(kellyPct, cand.AdvisorSignal, cand.AdvisorConfidence)
		}

		equity, eerr := s.broker.GetAccountValue(ctx, s.config.Trading.QuoteCurrency)
		if eerr != nil {
			s.logger.LogError("Candidates %s: could not value account: %v", cand.Ticker, eerr)
			return
		}

		fng := getCurrentFNG()
		amount := s.sizer.Size(cand.Ticker, kellyPct, fng.SentimentMultiplier(), equity)
		if amount <= 0 {
			s.logger.LogInfo("Candidates %s: sized to zero, dropping candidate.", cand.Ticker)
			s.store.MarkCandidateConsumed(cand.ID)
			continue
		}

		reason := fmt.Sprintf("entry: pattern=%s kelly=%.2f%% sentiment=%d", cand.Pattern, kellyPct, fng.Value)
		res, err := s.exec.Buy(ctx, cand.Ticker, amount, false, reason)
		if err != nil {
			s.logger.LogError("Candidates %s: buy failed: %v", cand.Ticker, err)
			s.recordFailure()
			continue
		}
		s.discordClient.NotifyTradeResult(res)
		s.store.MarkCandidateConsumed(cand.ID)

		if res.Succeeded() {
			s.recordSuccess()
			s.trailing.Update(ctx, cand.Ticker, res.AvgPrice)
			s.pyramids.Register(cand.Ticker, res.AvgPrice)
			s.stateMutex.Lock()
			s.openPositions[cand.Ticker] = &utilities.Position{
				Ticker:       cand.Ticker,
				Quantity:     res.FilledQuantity,
				AvgBuyPrice:  res.AvgPrice,
				CurrentPrice: res.AvgPrice,
				MarketValue:  res.FilledAmountKRW,
			}
			s.stateMutex.Unlock()
		} else if res.Status == executor.StatusFailed {
			s.recordFailure()
		}
		s.orderSpacing(ctx)
	}
}

// resolveATR is the fallback chain behind the trailing stop: the analysis
// snapshot first, then candles from the exchange, then the secondary candle
// provider. Returning zero lets the engine fall back to its percent default.
func (s *TradingSession) resolveATR(ctx context.Context, ticker string, currentPrice float64) float64 {
	period := s.config.Stops.ATRPeriod
	if period <= 0 {
		period = 14
	}

	if snap, err := s.store.TechnicalSnapshot(ticker); err == nil && snap != nil && snap.ATR > 0 {
		return snap.ATR
	}

	bars, err := s.broker.GetLastNOHLCVBars(ctx, ticker, "1d", period+1)
	if err == nil && len(bars) > period {
		if atr, aerr := strategy.CalculateATR(bars, period); aerr == nil && atr > 0 {
			return atr
		}
	}

	if s.barsProvider != nil {
		base := strings.TrimPrefix(ticker, s.config.Trading.QuoteCurrency+"-")
		coinID, cerr := s.barsProvider.GetCoinID(ctx, base)
		if cerr == nil {
			cgBars, berr := s.barsProvider.GetOHLCVBars(ctx, coinID, s.config.Trading.QuoteCurrency, period+1)
			if berr == nil && len(cgBars) > period {
				if atr, aerr := strategy.CalculateATR(cgBars, period); aerr == nil && atr > 0 {
					return atr
				}
			}
		}
	}

	s.logger.LogDebug("ATR %s: no source could serve a value, engine default applies.", ticker)
	return 0
}

// computeSnapshot derives the indicator set from exchange candles when the
// analysis table has no row for the ticker. Stage and MA200 trend need more
// history than a session fetches, so those stay zero and the stage-gated
// rules simply do not fire.
func (s *TradingSession) computeSnapshot(ctx context.Context, ticker string) *dataprovider.TechnicalSnapshot {
	ind := s.config.Indicators
	stPeriod := ind.SupertrendPeriod
	if stPeriod <= 0 {
		stPeriod = 10
	}
	stMult := ind.SupertrendMultiplier
	if stMult <= 0 {
		stMult = 3.0
	}
	macdFast, macdSlow, macdSignal := ind.MACDFastPeriod, ind.MACDSlowPeriod, ind.MACDSignalPeriod
	if macdFast <= 0 || macdSlow <= 0 || macdSignal <= 0 {
		macdFast, macdSlow, macdSignal = 12, 26, 9
	}
	volPeriod := ind.VolumeLookbackPeriod
	if volPeriod <= 0 {
		volPeriod = 20
	}
	atrPeriod := ind.ATRPeriod
	if atrPeriod <= 0 {
		atrPeriod = 14
	}

	need := macdSlow + macdSignal
	if volPeriod+1 > need {
		need = volPeriod + 1
	}
	bars, err := s.broker.GetLastNOHLCVBars(ctx, ticker, "1d", need)
	if err != nil || len(bars) < atrPeriod+1 {
		s.logger.LogDebug("Snapshot %s: not enough candle history to compute indicators.", ticker)
		return nil
	}

	snap := &dataprovider.TechnicalSnapshot{
		Ticker:           ticker,
		MACDHistogram:    strategy.CalculateMACDHistogram(bars, macdFast, macdSlow, macdSignal),
		SupportLevel:     strategy.FindSupportLevel(bars, 3),
		VolumeSurgeRatio: strategy.VolumeSurgeRatio(bars, volPeriod),
		UpdatedAt:        time.Now(),
	}
	if atr, aerr := strategy.CalculateATR(bars, atrPeriod); aerr == nil {
		snap.ATR = atr
	}
	if line, _, serr := strategy.CalculateSupertrend(bars, stPeriod, stMult); serr == nil {
		snap.Supertrend = line
	}
	return snap
}

func (s *TradingSession) reportInterventions(result reconciler.SyncResult) {
	for _, m := range result.Synced {
		s.discordClient.NotifyIntervention(m, true)
	}
	for _, m := range result.Unresolved {
		s.discordClient.NotifyIntervention(m, false)
	}
}

func (s *TradingSession) snapshotPositions() map[string]*utilities.Position {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	out := make(map[string]*utilities.Position, len(s.openPositions))
	for k, v := range s.openPositions {
		cp := *v
		out[k] = &cp
	}
	return out
}

func (s *TradingSession) recordSuccess() {
	s.stateMutex.Lock()
	s.consecutiveFailures = 0
	s.stateMutex.Unlock()
}

func (s *TradingSession) recordFailure() {
	limit := s.config.Trading.MaxConsecutiveFailures
	if limit <= 0 {
		limit = 5
	}

	s.stateMutex.Lock()
	s.consecutiveFailures++
	failures := s.consecutiveFailures
	trip := failures >= limit && !s.isCircuitBreakerTripped
	if trip {
		s.isCircuitBreakerTripped = true
	}
	s.stateMutex.Unlock()

	if trip {
		s.logger.LogError("Circuit breaker TRIPPED after %d consecutive order failures. Trading halted.", failures)
		s.discordClient.SendMessage(fmt.Sprintf("🚨 **Circuit breaker tripped after %d consecutive failures. Trading halted until restart.**", failures))
	}
}

// orderSpacing enforces the mandatory delay between successive orders.
func (s *TradingSession) orderSpacing(ctx context.Context) {
	spacing := s.config.Trading.OrderSpacingSec
	if spacing <= 0 {
		spacing = 1
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(spacing) * time.Second):
	}
}

func (s *TradingSession) publishMetrics() {
	if s.metrics == nil {
		return
	}
	s.stateMutex.RLock()
	open := len(s.openPositions)
	tripped := s.isCircuitBreakerTripped
	s.stateMutex.RUnlock()
	s.metrics.Publish(s.exec.Stats(), open, tripped)
}

// --- web.StatusController ---

// StatusSnapshot assembles the JSON status served by the web package.
func (s *TradingSession) StatusSnapshot() web.StatusData {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()

	positions := make(map[string]utilities.Position, len(s.openPositions))
	totalPnL := 0.0
	for k, v := range s.openPositions {
		positions[k] = *v
		totalPnL += v.UnrealizedPnL
	}

	return web.StatusData{
		Version:               s.config.Version,
		DryRun:                s.config.Trading.DryRun,
		CircuitBreakerTripped: s.isCircuitBreakerTripped,
		OpenPositions:         positions,
		TotalUnrealizedPnL:    totalPnL,
		QuoteCurrency:         s.config.Trading.QuoteCurrency,
		Stats:                 s.exec.Stats(),
		SessionStart:          s.sessionStart,
	}
}

func (s *TradingSession) Logger() *utilities.Logger {
	return s.logger
}
