// Package models holds the gorm row types persisted by the database
// package, split out to avoid the import cycle that would otherwise arise
// from database re-exporting type aliases (mirrors the teacher's
// database/models_pkg split).
package models

import "time"

// SignalRow is the persisted form of a market.TradingSignal (spec §6
// "signals" table).
type SignalRow struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Fingerprint  string `gorm:"uniqueIndex;size:32"`
	Symbol       string `gorm:"index;size:32"`
	Tier         string `gorm:"size:4"`
	Direction    string `gorm:"size:8"`
	Confidence   float64
	Priority     string `gorm:"size:8"`
	SourceTypes  string // comma-joined CandidateType list
	TriggerPrice string // decimal stored as string to avoid float rounding
	Entry        string // zone-derived entry price, string-encoded (spec §4.3 step 8)
	Stop         string
	Target       string
	GeneratedAt  time.Time `gorm:"index"`
	ContextAdj   float64
	Reason       string
}

func (SignalRow) TableName() string { return "signals" }

// OutcomeRow is the persisted form of a market.SignalOutcome (spec §6
// "outcomes" table).
type OutcomeRow struct {
	ID          int64 `gorm:"primaryKey;autoIncrement"`
	SignalID    int64 `gorm:"index"`
	Producer    string
	Symbol      string `gorm:"index"`
	Direction   string
	EntryPrice  string
	EntryTime   time.Time
	TargetPrice string
	CheckAt     time.Time `gorm:"index"`
	ExitPrice   string
	ExitTime    *time.Time
	Progress    float64
	Status      string `gorm:"index;size:8"`
}

func (OutcomeRow) TableName() string { return "outcomes" }

// ContextOIRow is one polled open-interest reading (spec §6 "context_oi",
// auto-pruned after 7 days).
type ContextOIRow struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Symbol       string    `gorm:"index;size:32"`
	OpenInterest string
	PolledAt     time.Time `gorm:"index"`
}

func (ContextOIRow) TableName() string { return "context_oi" }

// ContextFundingRow is one polled funding-rate reading (spec §6
// "context_funding", auto-pruned after 7 days).
type ContextFundingRow struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Symbol      string    `gorm:"index;size:32"`
	FundingRate string
	PolledAt    time.Time `gorm:"index"`
}

func (ContextFundingRow) TableName() string { return "context_funding" }

// DetectedSignalDiagnostic records why a signal fired, for the dashboard
// (SPEC_FULL.md §12 supplemented feature, grounded on the teacher's
// DetectedPattern/MarketRegime auxiliary tables).
type DetectedSignalDiagnostic struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	SignalID     int64 `gorm:"index"`
	DetectorType string
	RawScore     float64
	Evidence     string // json-encoded
	CreatedAt    time.Time
}

func (DetectedSignalDiagnostic) TableName() string { return "detected_signal_diagnostics" }

// MessagingDeliveryLog records each messaging-sink attempt (SPEC_FULL.md
// §12, grounded on WhaleWebhookLog).
type MessagingDeliveryLog struct {
	ID             int64 `gorm:"primaryKey;autoIncrement"`
	SignalID       int64 `gorm:"index"`
	Endpoint       string
	Status         string `gorm:"size:16"`
	HTTPStatusCode int
	Attempt        int
	ErrorMessage   string
	TriggeredAt    time.Time
}

func (MessagingDeliveryLog) TableName() string { return "messaging_delivery_log" }
