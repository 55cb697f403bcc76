package exit

import (
	"context"
	"fmt"

	"scalpguard/internal/logger"
)

type probeReply struct {
	opp *Opportunity
	err error
}

// queryOpportunity 在超时内查询替代机会；任何失败（超时、错误、panic、熔断）都视为"没有机会"。
func (e *Engine) queryOpportunity(ctx context.Context, probe OpportunityProbe) *Opportunity {
	if probe == nil {
		return nil
	}
	if e.breaker != nil && !e.breaker.Allow() {
		logger.Debugf("exit: opportunity probe skipped, breaker open")
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, e.opts.ProbeTimeout)
	defer cancel()

	ch := make(chan probeReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- probeReply{err: fmt.Errorf("opportunity probe panic: %v", r)}
			}
		}()
		opp, err := probe.FindAlternative(pctx)
		ch <- probeReply{opp: opp, err: err}
	}()

	var reply probeReply
	select {
	case reply = <-ch:
	case <-pctx.Done():
		reply = probeReply{err: fmt.Errorf("opportunity probe: %w", pctx.Err())}
	}
	if reply.err != nil {
		logger.Warnf("exit: opportunity probe failed: %v", reply.err)
		if e.breaker != nil {
			e.breaker.RecordFailure()
		}
		return nil
	}
	if e.breaker != nil {
		e.breaker.RecordSuccess()
	}
	return reply.opp
}
