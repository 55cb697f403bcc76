package exit

import "context"

// PriceSampler 返回标的最新价格；ok=false 表示暂无样本（不是错误）。
type PriceSampler interface {
	Sample() (price float64, ok bool)
}

// CancelProbe 在外部希望放弃监控时返回 true（例如机器人停止）。
type CancelProbe interface {
	Cancelled() bool
}

// OpportunityProbe 仅在延长持有到期的强制退出路径上被查询；返回 nil 表示没有替代机会。
type OpportunityProbe interface {
	FindAlternative(ctx context.Context) (*Opportunity, error)
}

// TickObserver 接收遥测快照，返回值不被消费。
type TickObserver interface {
	OnTick(TickSnapshot)
}

type SamplerFunc func() (float64, bool)

func (f SamplerFunc) Sample() (float64, bool) { return f() }

type CancelFunc func() bool

func (f CancelFunc) Cancelled() bool { return f() }

type OpportunityFunc func(ctx context.Context) (*Opportunity, error)

func (f OpportunityFunc) FindAlternative(ctx context.Context) (*Opportunity, error) { return f(ctx) }

type TickFunc func(TickSnapshot)

func (f TickFunc) OnTick(s TickSnapshot) { f(s) }

// Hooks 汇总一次监控所需的外部协作方；除 Sampler 外均可为空。
type Hooks struct {
	Sampler     PriceSampler
	Cancel      CancelProbe
	Opportunity OpportunityProbe
	OnTick      TickObserver
}
