package types

import (
	"time"
)

// ========================================
// 配置类型
// ========================================

// Config 报价路由服务配置
type Config struct {
	Server     ServerConfig      `json:"server"`     // 服务器配置
	Redis      RedisConfig       `json:"redis"`      // Redis配置
	Backends   []BackendConfig   `json:"backends"`   // 报价后端配置
	Engine     EngineConfig      `json:"engine"`     // 解析引擎参数
	Lookups    LookupConfig      `json:"lookups"`    // 外部查询配置
	Cache      CacheConfig       `json:"cache"`      // 缓存配置
	Monitoring MonitoringConfig  `json:"monitoring"` // 监控配置
	RateLimit  RateLimitConfig   `json:"rate_limit"` // 限流配置
	Chains     map[uint64]string `json:"-"`          // 链ID -> RPC地址
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port        int    `json:"port"`        // 监听端口
	Environment string `json:"environment"` // 运行环境
	LogLevel    string `json:"log_level"`   // 日志级别
	Debug       bool   `json:"debug"`       // 调试模式
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string `json:"host"`      // Redis主机
	Port     int    `json:"port"`      // Redis端口
	Password string `json:"password"`  // Redis密码
	DB       int    `json:"db"`        // 数据库编号
	PoolSize int    `json:"pool_size"` // 连接池大小
}

// BackendConfig 报价后端配置
// 每个路由变体对应一个后端客户端
type BackendConfig struct {
	Name         string        `json:"name"`          // 后端名称
	DisplayName  string        `json:"display_name"`  // 显示名称
	RoutingTypes []RoutingType `json:"routing_types"` // 负责的路由变体
	BaseURL      string        `json:"base_url"`      // API基础URL
	APIKey       string        `json:"api_key"`       // API密钥
	Timeout      time.Duration `json:"timeout"`       // 单次调用超时
	IsActive     bool          `json:"is_active"`     // 是否启用
}

// EngineConfig 解析引擎参数
type EngineConfig struct {
	GasThresholdBps       uint64 `json:"gas_threshold_bps"`        // 合成报价的gas占比上限
	PriceImprovementBps   uint64 `json:"price_improvement_bps"`    // 合成报价起始价改善
	DefaultSlippageBps    uint64 `json:"default_slippage_bps"`     // 默认滑点
	RelayFeeEscalationBps uint64 `json:"relay_fee_escalation_bps"` // 中继手续费递增幅度
	ApprovalGasUnits      uint64 `json:"approval_gas_units"`       // 未授权时额外的授权gas
}

// LookupConfig 外部查询配置
type LookupConfig struct {
	FeePortionURL     string        `json:"fee_portion_url"`     // 分成服务地址
	FeePortionTimeout time.Duration `json:"fee_portion_timeout"` // 分成查询超时
	FeePortionTTL     time.Duration `json:"fee_portion_ttl"`     // 分成缓存时间
	AllowanceTimeout  time.Duration `json:"allowance_timeout"`   // 授权查询超时
	TokenCacheTTL     time.Duration `json:"token_cache_ttl"`     // 代币解析缓存时间
}

// CacheConfig 缓存配置
type CacheConfig struct {
	DefaultTTL time.Duration `json:"default_ttl"` // 默认TTL
	PrefixKey  string        `json:"prefix_key"`  // 缓存键前缀
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	MetricsEnabled  bool   `json:"metrics_enabled"`   // 是否启用指标
	MetricsPath     string `json:"metrics_path"`      // 指标路径
	HealthCheckPath string `json:"health_check_path"` // 健康检查路径
	LogRequests     bool   `json:"log_requests"`      // 是否记录请求开始
	SlowRequestMs   int    `json:"slow_request_ms"`   // 慢请求阈值(毫秒)
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled  bool          `json:"enabled"`  // 是否启用
	Requests int           `json:"requests"` // 窗口内允许的请求数
	Window   time.Duration `json:"window"`   // 时间窗口
}

// DefaultEngineConfig 默认引擎参数
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		GasThresholdBps:       1000,
		PriceImprovementBps:   10,
		DefaultSlippageBps:    50,
		RelayFeeEscalationBps: 2500,
		ApprovalGasUnits:      46000,
	}
}
