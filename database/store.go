package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	models "liqwatch/database/models_pkg"
	"liqwatch/market"
)

// Store is the single repository every pipeline stage persists through,
// grounded on the teacher's monolithic database.TradeRepository (the one
// actually wired into app.New/app.Start — see DESIGN.md for why the
// teacher's narrower per-domain subpackages were folded away instead).
type Store struct {
	db *gorm.DB
}

// NewStore wraps db's GORM connection.
func NewStore(db *Database) *Store {
	return &Store{db: db.DB()}
}

// SaveSignal persists a newly accepted TradingSignal and writes back its
// generated ID.
func (s *Store) SaveSignal(sig *market.TradingSignal) error {
	row := models.SignalRow{
		Fingerprint:  sig.Fingerprint,
		Symbol:       sig.Symbol,
		Tier:         string(sig.Tier),
		Direction:    string(sig.Direction),
		Confidence:   sig.Confidence,
		Priority:     string(sig.Priority),
		SourceTypes:  joinTypes(sig.SourceTypes),
		TriggerPrice: sig.TriggerPrice.String(),
		Entry:        sig.Entry.String(),
		Stop:         sig.Stop.String(),
		Target:       sig.Target.String(),
		GeneratedAt:  sig.GeneratedAt,
		ContextAdj:   sig.ContextAdj,
		Reason:       sig.Reason,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return WrapDBError("SaveSignal", err)
	}
	sig.ID = row.ID
	return nil
}

// GetSignalsByIDs bulk-fetches signals keyed by ID, avoiding the N+1 query
// pattern the teacher's signal_tracker.go explicitly guards against.
func (s *Store) GetSignalsByIDs(ids []int64) (map[int64]market.TradingSignal, error) {
	if len(ids) == 0 {
		return map[int64]market.TradingSignal{}, nil
	}
	var rows []models.SignalRow
	if err := s.db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, WrapDBError("GetSignalsByIDs", err)
	}
	out := make(map[int64]market.TradingSignal, len(rows))
	for _, r := range rows {
		out[r.ID] = signalFromRow(r)
	}
	return out, nil
}

// SaveOutcome persists a newly opened SignalOutcome, implementing
// outcome.Store.
func (s *Store) SaveOutcome(o *market.SignalOutcome) error {
	row := outcomeToRow(*o)
	if err := s.db.Create(&row).Error; err != nil {
		return WrapDBError("SaveOutcome", err)
	}
	o.ID = row.ID
	return nil
}

// OpenOutcomes returns every outcome still in the OPEN state, implementing
// outcome.Store.
func (s *Store) OpenOutcomes() ([]market.SignalOutcome, error) {
	var rows []models.OutcomeRow
	if err := s.db.Where("status = ?", string(market.OutcomeOpen)).Find(&rows).Error; err != nil {
		return nil, WrapDBError("OpenOutcomes", err)
	}
	out := make([]market.SignalOutcome, 0, len(rows))
	for _, r := range rows {
		out = append(out, outcomeFromRow(r))
	}
	return out, nil
}

// UpdateOutcome persists a resolved outcome's final state, implementing
// outcome.Store.
func (s *Store) UpdateOutcome(o *market.SignalOutcome) error {
	row := outcomeToRow(*o)
	if err := s.db.Save(&row).Error; err != nil {
		return WrapDBError("UpdateOutcome", err)
	}
	return nil
}

// SaveContextSnapshot persists one polled OI/funding reading into the two
// logical context tables (spec §6 "context_oi"/"context_funding").
func (s *Store) SaveContextSnapshot(snap market.ContextSnapshot) error {
	oi := models.ContextOIRow{Symbol: snap.Symbol, OpenInterest: snap.OpenInterest.String(), PolledAt: snap.PolledAt}
	if err := s.db.Create(&oi).Error; err != nil {
		return WrapDBError("SaveContextSnapshot(oi)", err)
	}
	funding := models.ContextFundingRow{Symbol: snap.Symbol, FundingRate: snap.FundingRate.String(), PolledAt: snap.PolledAt}
	if err := s.db.Create(&funding).Error; err != nil {
		return WrapDBError("SaveContextSnapshot(funding)", err)
	}
	return nil
}

// PruneContext deletes context_oi/context_funding rows older than 7 days
// (spec §6's auto-prune retention).
func (s *Store) PruneContext(now time.Time) error {
	cutoff := now.Add(-7 * 24 * time.Hour)
	if err := s.db.Where("polled_at < ?", cutoff).Delete(&models.ContextOIRow{}).Error; err != nil {
		return WrapDBError("PruneContext(oi)", err)
	}
	if err := s.db.Where("polled_at < ?", cutoff).Delete(&models.ContextFundingRow{}).Error; err != nil {
		return WrapDBError("PruneContext(funding)", err)
	}
	return nil
}

// SaveDiagnostic records an analyzer's reasoning for a signal (SPEC_FULL.md
// §12 supplemented feature).
func (s *Store) SaveDiagnostic(signalID int64, detectorType string, rawScore float64, evidence map[string]interface{}) error {
	payload, err := json.Marshal(evidence)
	if err != nil {
		return fmt.Errorf("marshal diagnostic evidence: %w", err)
	}
	row := models.DetectedSignalDiagnostic{
		SignalID: signalID, DetectorType: detectorType, RawScore: rawScore,
		Evidence: string(payload), CreatedAt: time.Now(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return WrapDBError("SaveDiagnostic", err)
	}
	return nil
}

// SaveDeliveryLog records one messaging-sink delivery attempt.
func (s *Store) SaveDeliveryLog(log models.MessagingDeliveryLog) error {
	if err := s.db.Create(&log).Error; err != nil {
		return WrapDBError("SaveDeliveryLog", err)
	}
	return nil
}

// RecentSignals returns the most recent signals, newest first, for the
// dashboard's history view.
func (s *Store) RecentSignals(limit int) ([]market.TradingSignal, error) {
	var rows []models.SignalRow
	if err := s.db.Order("generated_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, WrapDBError("RecentSignals", err)
	}
	out := make([]market.TradingSignal, 0, len(rows))
	for _, r := range rows {
		out = append(out, signalFromRow(r))
	}
	return out, nil
}

func signalFromRow(r models.SignalRow) market.TradingSignal {
	price, _ := decimal.NewFromString(r.TriggerPrice)
	entry, _ := decimal.NewFromString(r.Entry)
	stop, _ := decimal.NewFromString(r.Stop)
	target, _ := decimal.NewFromString(r.Target)
	return market.TradingSignal{
		ID: r.ID, Fingerprint: r.Fingerprint, Symbol: r.Symbol,
		Tier: market.Tier(r.Tier), Direction: market.Side(r.Direction),
		Confidence: r.Confidence, Priority: market.Priority(r.Priority),
		SourceTypes: splitTypes(r.SourceTypes), TriggerPrice: price,
		Entry: entry, Stop: stop, Target: target,
		GeneratedAt: r.GeneratedAt, ContextAdj: r.ContextAdj, Reason: r.Reason,
	}
}

func outcomeToRow(o market.SignalOutcome) models.OutcomeRow {
	var exitTime *time.Time
	if !o.ExitTime.IsZero() {
		t := o.ExitTime
		exitTime = &t
	}
	return models.OutcomeRow{
		ID: o.ID, SignalID: o.SignalID, Producer: string(o.Producer),
		Symbol: o.Symbol, Direction: string(o.Direction),
		EntryPrice: o.EntryPrice.String(), EntryTime: o.EntryTime,
		TargetPrice: o.TargetPrice.String(), CheckAt: o.CheckAt,
		ExitPrice: o.ExitPrice.String(), ExitTime: exitTime,
		Progress: o.Progress, Status: string(o.Status),
	}
}

func outcomeFromRow(r models.OutcomeRow) market.SignalOutcome {
	entry, _ := decimal.NewFromString(r.EntryPrice)
	target, _ := decimal.NewFromString(r.TargetPrice)
	exit, _ := decimal.NewFromString(r.ExitPrice)
	var exitTime time.Time
	if r.ExitTime != nil {
		exitTime = *r.ExitTime
	}
	return market.SignalOutcome{
		ID: r.ID, SignalID: r.SignalID, Producer: market.CandidateType(r.Producer),
		Symbol: r.Symbol, Direction: market.Side(r.Direction),
		EntryPrice: entry, EntryTime: r.EntryTime, TargetPrice: target,
		CheckAt: r.CheckAt, ExitPrice: exit, ExitTime: exitTime,
		Progress: r.Progress, Status: market.OutcomeStatus(r.Status),
	}
}

func joinTypes(types []market.CandidateType) string {
	out := ""
	for i, t := range types {
		if i > 0 {
			out += ","
		}
		out += string(t)
	}
	return out
}

func splitTypes(joined string) []market.CandidateType {
	if joined == "" {
		return nil
	}
	var out []market.CandidateType
	start := 0
	for i := 0; i <= len(joined); i++ {
		if i == len(joined) || joined[i] == ',' {
			out = append(out, market.CandidateType(joined[start:i]))
			start = i + 1
		}
	}
	return out
}
