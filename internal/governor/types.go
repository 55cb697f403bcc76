package governor

import "time"

// Options 是会话风控阈值；零值字段回落到默认值。
type Options struct {
	WindowSize           int
	TripWindow           int
	MinHistory           int
	MaxConsecutiveLosses int
	HaltCooloff          time.Duration
	MinHitRate           float64
	CriticalHitRate      float64
	MinPause             time.Duration
	CriticalPause        time.Duration
	MaxConsecutiveErrors int
	ErrorPause           time.Duration
}

func DefaultOptions() Options {
	return Options{
		WindowSize:           50,
		TripWindow:           20,
		MinHistory:           10,
		MaxConsecutiveLosses: 3,
		HaltCooloff:          5 * time.Minute,
		MinHitRate:           50,
		CriticalHitRate:      40,
		MinPause:             30 * time.Second,
		CriticalPause:        90 * time.Second,
		MaxConsecutiveErrors: 3,
		ErrorPause:           60 * time.Second,
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.WindowSize <= 0 {
		o.WindowSize = def.WindowSize
	}
	if o.TripWindow <= 0 {
		o.TripWindow = def.TripWindow
	}
	if o.TripWindow > o.WindowSize {
		o.TripWindow = o.WindowSize
	}
	if o.MinHistory <= 0 {
		o.MinHistory = def.MinHistory
	}
	if o.MaxConsecutiveLosses <= 0 {
		o.MaxConsecutiveLosses = def.MaxConsecutiveLosses
	}
	if o.HaltCooloff <= 0 {
		o.HaltCooloff = def.HaltCooloff
	}
	if o.MinHitRate <= 0 {
		o.MinHitRate = def.MinHitRate
	}
	if o.CriticalHitRate <= 0 || o.CriticalHitRate > o.MinHitRate {
		o.CriticalHitRate = def.CriticalHitRate
		if o.CriticalHitRate > o.MinHitRate {
			o.CriticalHitRate = o.MinHitRate
		}
	}
	if o.MinPause <= 0 {
		o.MinPause = def.MinPause
	}
	if o.CriticalPause <= 0 {
		o.CriticalPause = def.CriticalPause
	}
	if o.MaxConsecutiveErrors <= 0 {
		o.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if o.ErrorPause <= 0 {
		o.ErrorPause = def.ErrorPause
	}
	return o
}

// Outcome 是滚动窗口中的一笔已结算交易。
type Outcome struct {
	IsWin bool
	PnL   float64
	At    time.Time
}

// HaltStatus 描述会话级熔断（HALTED）。
type HaltStatus struct {
	Halted bool      `json:"halted"`
	Reason string    `json:"reason,omitempty"`
	Until  time.Time `json:"until,omitempty"`
}

// Decision 是开仓前检查的结果；拒绝时 Reason 给人看，AnalysisRequired 给程序看。
type Decision struct {
	CanTrade         bool    `json:"can_trade"`
	Reason           string  `json:"reason"`
	CurrentHitRate   float64 `json:"current_hit_rate"`
	RequiredMinimum  float64 `json:"required_minimum"`
	IsPaused         bool    `json:"is_paused"`
	AnalysisRequired bool    `json:"analysis_required"`
}

type Stats struct {
	TotalTrades       int       `json:"total_trades"`
	Wins              int       `json:"wins"`
	Losses            int       `json:"losses"`
	HitRate           float64   `json:"hit_rate"`
	AvgWinPnL         float64   `json:"avg_win_pnl"`
	AvgLossPnL        float64   `json:"avg_loss_pnl"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	ConsecutiveWins   int       `json:"consecutive_wins"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	IsPaused          bool      `json:"is_paused"`
	PauseUntil        time.Time `json:"pause_until,omitempty"`
	SessionHalted     bool      `json:"session_halted"`
	HaltReason        string    `json:"halt_reason,omitempty"`
}

type EventKind string

const (
	EventHalted       EventKind = "halted"
	EventHaltExtended EventKind = "halt_extended"
	EventResumed      EventKind = "resumed"
	EventPaused       EventKind = "paused"
	EventReset        EventKind = "reset"
)

// Event 在状态切换后、释放锁之后投递给 Listener。
type Event struct {
	Kind   EventKind
	Reason string
	Until  time.Time
	At     time.Time
}

type Listener func(Event)
