package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"defi-aggregator/quote-router/internal/types"
	"defi-aggregator/quote-router/pkg/cache"

	"github.com/gorilla/schema"
	"github.com/sirupsen/logrus"
)

var portionQueryEncoder = schema.NewEncoder()

// FeePortionProvider 手续费分成查询
// 查询失败一律视为无分成
type FeePortionProvider interface {
	GetPortion(ctx context.Context, tokenInChainID uint64, tokenIn string, tokenOutChainID uint64, tokenOut string) types.Portion
}

// NoPortionProvider 不收取分成
type NoPortionProvider struct{}

func (NoPortionProvider) GetPortion(context.Context, uint64, string, uint64, string) types.Portion {
	return types.Portion{}
}

type portionQuery struct {
	TokenInChainID  uint64 `schema:"tokenInChainId"`
	TokenInAddress  string `schema:"tokenInAddress"`
	TokenOutChainID uint64 `schema:"tokenOutChainId"`
	TokenOutAddress string `schema:"tokenOutAddress"`
}

// portionResponse 分成服务响应
type portionResponse struct {
	HasPortion bool `json:"hasPortion"`
	Portion    *struct {
		Bips      uint64 `json:"bips"`
		Recipient string `json:"recipient"`
	} `json:"portion,omitempty"`
}

// HTTPFeePortionProvider 通过HTTP查询分成并缓存
type HTTPFeePortionProvider struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.CacheManager
	ttl        time.Duration
	logger     *logrus.Logger
}

// NewHTTPFeePortionProvider 创建分成查询
// cacheManager 可以为nil，此时每次都实际查询
func NewHTTPFeePortionProvider(baseURL string, timeout, ttl time.Duration, cacheManager cache.CacheManager, logger *logrus.Logger) *HTTPFeePortionProvider {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &HTTPFeePortionProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheManager,
		ttl:        ttl,
		logger:     logger,
	}
}

// GetPortion 查询分成
func (p *HTTPFeePortionProvider) GetPortion(ctx context.Context, tokenInChainID uint64, tokenIn string, tokenOutChainID uint64, tokenOut string) types.Portion {
	cacheKey := fmt.Sprintf("portion:%d:%s:%d:%s",
		tokenInChainID, types.NormalizeAddress(tokenIn), tokenOutChainID, types.NormalizeAddress(tokenOut))

	if p.cache != nil {
		var cached types.Portion
		found, err := p.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			p.logger.Debugf("分成缓存读取失败: %v", err)
		} else if found {
			return cached
		}
	}

	portion, err := p.fetch(ctx, portionQuery{
		TokenInChainID:  tokenInChainID,
		TokenInAddress:  tokenIn,
		TokenOutChainID: tokenOutChainID,
		TokenOutAddress: tokenOut,
	})
	if err != nil {
		p.logger.Warnf("⚠️ 分成查询失败，按无分成处理: %v", err)
		return types.Portion{}
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, cacheKey, portion, p.ttl); err != nil {
			p.logger.Debugf("分成缓存写入失败: %v", err)
		}
	}
	return portion
}

func (p *HTTPFeePortionProvider) fetch(ctx context.Context, query portionQuery) (types.Portion, error) {
	values := url.Values{}
	if err := portionQueryEncoder.Encode(query, values); err != nil {
		return types.Portion{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/portion?"+values.Encode(), nil)
	if err != nil {
		return types.Portion{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.Portion{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Portion{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return types.Portion{}, fmt.Errorf("分成服务返回状态 %d", resp.StatusCode)
	}

	var parsed portionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.Portion{}, fmt.Errorf("解析分成响应失败: %w", err)
	}
	if !parsed.HasPortion || parsed.Portion == nil {
		return types.Portion{}, nil
	}
	return types.Portion{
		HasPortion: true,
		Bips:       parsed.Portion.Bips,
		Recipient:  types.NormalizeAddress(parsed.Portion.Recipient),
	}, nil
}
