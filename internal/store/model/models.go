package model

import (
	"time"

	"gorm.io/datatypes"
)

// TradeOutcomeModel 是一笔已结算持仓的审计记录（CANCELLED 也会落库，但不计入风控）。
type TradeOutcomeModel struct {
	ID             int64          `gorm:"column:id;primaryKey" json:"id"`
	PositionID     string         `gorm:"column:position_id;uniqueIndex" json:"position_id"`
	Symbol         string         `gorm:"column:symbol;index" json:"symbol"`
	Side           string         `gorm:"column:side" json:"side"`
	Profile        string         `gorm:"column:profile" json:"profile,omitempty"`
	EntryPrice     float64        `gorm:"column:entry_price" json:"entry_price"`
	ExitPrice      float64        `gorm:"column:exit_price" json:"exit_price"`
	Reason         string         `gorm:"column:reason;index" json:"reason"`
	IsWin          bool           `gorm:"column:is_win" json:"is_win"`
	ProfitUSD      float64        `gorm:"column:profit_usd" json:"profit_usd"`
	GrossProfitUSD float64        `gorm:"column:gross_profit_usd" json:"gross_profit_usd"`
	HoldMs         int64          `gorm:"column:hold_ms" json:"hold_ms"`
	MaxProfitPct   float64        `gorm:"column:max_profit_pct" json:"max_profit_pct"`
	MinProfitPct   float64        `gorm:"column:min_profit_pct" json:"min_profit_pct"`
	ExtendedHold   bool           `gorm:"column:extended_hold" json:"extended_hold"`
	PositionConfig datatypes.JSON `gorm:"column:position_config" json:"position_config,omitempty"`
	OpenedAt       time.Time      `gorm:"column:opened_at" json:"opened_at"`
	CreatedAt      time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

func (TradeOutcomeModel) TableName() string { return "trade_outcomes" }

// GovernorEventModel 记录风控状态切换。
type GovernorEventModel struct {
	ID        int64      `gorm:"column:id;primaryKey" json:"id"`
	Kind      string     `gorm:"column:kind;index" json:"kind"`
	Reason    string     `gorm:"column:reason" json:"reason,omitempty"`
	Until     *time.Time `gorm:"column:until" json:"until,omitempty"`
	CreatedAt time.Time  `gorm:"column:created_at;index" json:"created_at"`
}

func (GovernorEventModel) TableName() string { return "governor_events" }
