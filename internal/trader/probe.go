package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"scalpguard/internal/strategy/exit"
)

// HTTPOpportunityProbe 向外部扫描服务询问替代交易：
// GET {URL}?symbol=BTCUSDT&side=long&size_usd=1000，204 或空 body 表示没有机会。
type HTTPOpportunityProbe struct {
	URL    string
	Client *http.Client
}

func NewHTTPOpportunityProbe(rawURL string, timeout time.Duration) *HTTPOpportunityProbe {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPOpportunityProbe{URL: strings.TrimSpace(rawURL), Client: &http.Client{Timeout: timeout}}
}

// Factory 把探针绑定到具体持仓。
func (p *HTTPOpportunityProbe) Factory() ProbeFactory {
	return func(cfg exit.PositionConfig) exit.OpportunityProbe {
		return exit.OpportunityFunc(func(ctx context.Context) (*exit.Opportunity, error) {
			return p.Find(ctx, cfg)
		})
	}
}

func (p *HTTPOpportunityProbe) Find(ctx context.Context, cfg exit.PositionConfig) (*exit.Opportunity, error) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("opportunity url: %w", err)
	}
	q := u.Query()
	q.Set("symbol", cfg.Symbol)
	q.Set("side", cfg.Side.String())
	q.Set("size_usd", strconv.FormatFloat(cfg.PositionSizeUSD, 'f', -1, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("opportunity service status=%d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	var opp exit.Opportunity
	if err := json.Unmarshal(body, &opp); err != nil {
		return nil, fmt.Errorf("decode opportunity: %w", err)
	}
	if strings.TrimSpace(opp.Pair) == "" || strings.EqualFold(opp.Pair, cfg.Symbol) {
		return nil, nil
	}
	return &opp, nil
}
