// Package config 报价路由服务配置管理
// 提供配置加载、验证、环境变量处理等功能
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"defi-aggregator/quote-router/internal/adapters"
	"defi-aggregator/quote-router/internal/types"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// 后端名称
const (
	BackendRoutingAPI = "routing-api"
	BackendRFQ        = "rfq"
)

// rpcURLPrefix 链RPC地址的环境变量前缀，例如 RPC_URL_1
const rpcURLPrefix = "RPC_URL_"

// Load 加载报价路由服务配置
// 从环境变量和.env文件加载配置，设置默认值
// 返回:
//   - *types.Config: 完整的服务配置
//   - error: 配置加载或验证错误
func Load() (*types.Config, error) {
	// 尝试加载.env文件
	if err := godotenv.Load(); err != nil {
		logrus.Info("未找到.env文件，使用环境变量配置")
	}

	config := &types.Config{
		Server: types.ServerConfig{
			Port:        getEnvAsInt("PORT", 0),  // 必填
			Environment: getEnv("APP_ENV", ""),   // 必填
			LogLevel:    getEnv("LOG_LEVEL", ""), // 必填
			Debug:       getEnvAsBool("DEBUG", false),
		},
		Redis: types.RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Backends: loadBackendConfigs(),
		Engine:   loadEngineConfig(),
		Lookups: types.LookupConfig{
			FeePortionURL:     getEnv("FEE_PORTION_API_URL", ""),
			FeePortionTimeout: getEnvAsDuration("FEE_PORTION_TIMEOUT", 500*time.Millisecond),
			FeePortionTTL:     getEnvAsDuration("FEE_PORTION_CACHE_TTL", 10*time.Minute),
			AllowanceTimeout:  getEnvAsDuration("ALLOWANCE_TIMEOUT", 500*time.Millisecond),
			TokenCacheTTL:     getEnvAsDuration("TOKEN_CACHE_TTL", 10*time.Minute),
		},
		Cache: types.CacheConfig{
			DefaultTTL: getEnvAsDuration("CACHE_DEFAULT_TTL", 10*time.Minute),
			PrefixKey:  getEnv("CACHE_PREFIX", "quote_router:"),
		},
		Monitoring: types.MonitoringConfig{
			MetricsEnabled:  getEnvAsBool("METRICS_ENABLED", true),
			MetricsPath:     getEnv("METRICS_PATH", "/metrics"),
			HealthCheckPath: getEnv("HEALTH_CHECK_PATH", "/health"),
			LogRequests:     getEnvAsBool("LOG_REQUESTS", false),
			SlowRequestMs:   getEnvAsInt("SLOW_REQUEST_MS", 2000),
		},
		RateLimit: types.RateLimitConfig{
			Enabled:  getEnvAsBool("RATE_LIMIT_ENABLED", true),
			Requests: getEnvAsInt("RATE_LIMIT_REQUESTS", 120),
			Window:   getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Chains: loadChainRPCs(),
	}

	// 验证配置
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return config, nil
}

// loadBackendConfigs 加载报价后端配置
// 未配置URL的后端视为停用
func loadBackendConfigs() []types.BackendConfig {
	timeout := getEnvAsDuration("BACKEND_TIMEOUT", adapters.DefaultTimeout)

	routingURL := getEnv("ROUTING_API_URL", "")
	rfqURL := getEnv("RFQ_API_URL", "")

	return []types.BackendConfig{
		{
			Name:         BackendRoutingAPI,
			DisplayName:  "Routing API",
			RoutingTypes: []types.RoutingType{types.RoutingClassic},
			BaseURL:      routingURL,
			APIKey:       getEnv("ROUTING_API_KEY", ""),
			Timeout:      getEnvAsDuration("ROUTING_API_TIMEOUT", timeout),
			IsActive:     routingURL != "",
		},
		{
			Name:         BackendRFQ,
			DisplayName:  "RFQ",
			RoutingTypes: []types.RoutingType{types.RoutingDutchV1, types.RoutingDutchV2},
			BaseURL:      rfqURL,
			APIKey:       getEnv("RFQ_API_KEY", ""),
			Timeout:      getEnvAsDuration("RFQ_API_TIMEOUT", timeout),
			IsActive:     rfqURL != "",
		},
	}
}

// loadEngineConfig 加载解析引擎参数
func loadEngineConfig() types.EngineConfig {
	defaults := types.DefaultEngineConfig()
	return types.EngineConfig{
		GasThresholdBps:       getEnvAsUint64("GAS_THRESHOLD_BPS", defaults.GasThresholdBps),
		PriceImprovementBps:   getEnvAsUint64("PRICE_IMPROVEMENT_BPS", defaults.PriceImprovementBps),
		DefaultSlippageBps:    getEnvPercentAsBps("DEFAULT_SLIPPAGE_PERCENT", defaults.DefaultSlippageBps),
		RelayFeeEscalationBps: getEnvAsUint64("RELAY_FEE_ESCALATION_BPS", defaults.RelayFeeEscalationBps),
		ApprovalGasUnits:      getEnvAsUint64("APPROVAL_GAS_UNITS", defaults.ApprovalGasUnits),
	}
}

// loadChainRPCs 扫描 RPC_URL_<chainId> 环境变量
func loadChainRPCs() map[uint64]string {
	chains := make(map[uint64]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, rpcURLPrefix) || value == "" {
			continue
		}
		chainID, err := strconv.ParseUint(strings.TrimPrefix(key, rpcURLPrefix), 10, 64)
		if err != nil {
			logrus.Warnf("忽略无法解析链ID的环境变量 %s", key)
			continue
		}
		chains[chainID] = value
	}
	return chains
}

// ChainIDs 已配置RPC的链，按ID排序
func ChainIDs(cfg *types.Config) []uint64 {
	ids := make([]uint64, 0, len(cfg.Chains))
	for id := range cfg.Chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// validateConfig 验证配置的有效性
func validateConfig(cfg *types.Config) error {
	// 验证必填的服务器配置
	if cfg.Server.Port == 0 {
		return fmt.Errorf("PORT环境变量是必填项")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("无效的端口号: %d", cfg.Server.Port)
	}
	if cfg.Server.Environment == "" {
		return fmt.Errorf("APP_ENV环境变量是必填项")
	}
	if cfg.Server.LogLevel == "" {
		return fmt.Errorf("LOG_LEVEL环境变量是必填项")
	}

	if err := validateBackends(cfg.Backends); err != nil {
		return err
	}

	// 验证引擎参数
	if cfg.Engine.GasThresholdBps == 0 || cfg.Engine.GasThresholdBps > types.BpsDenominator {
		return fmt.Errorf("GAS_THRESHOLD_BPS必须在1-%d之间", types.BpsDenominator)
	}
	if cfg.Engine.DefaultSlippageBps > types.BpsDenominator {
		return fmt.Errorf("默认滑点不能超过100%%")
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.Requests <= 0 || cfg.RateLimit.Window <= 0) {
		return fmt.Errorf("限流配置无效: requests=%d window=%v", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	return nil
}

// validateBackends 至少需要一个活跃后端，且每个路由变体最多由一个后端负责
func validateBackends(backends []types.BackendConfig) error {
	owners := make(map[types.RoutingType]string)
	active := 0
	for _, backend := range backends {
		if !backend.IsActive {
			continue
		}
		active++
		if backend.BaseURL == "" {
			return fmt.Errorf("后端 %s 缺少API地址", backend.Name)
		}
		for _, routingType := range backend.RoutingTypes {
			if owner, exists := owners[routingType]; exists {
				return fmt.Errorf("路由类型 %s 同时由 %s 与 %s 负责", routingType, owner, backend.Name)
			}
			owners[routingType] = backend.Name
		}
	}
	if active == 0 {
		return fmt.Errorf("至少需要一个活跃的报价后端(ROUTING_API_URL或RFQ_API_URL)")
	}
	return nil
}

// ========================================
// 环境变量辅助函数
// ========================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		logrus.Warnf("无法解析环境变量 %s 为整数，使用默认值 %d", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uintVal, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uintVal
		}
		logrus.Warnf("无法解析环境变量 %s 为非负整数，使用默认值 %d", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		logrus.Warnf("无法解析环境变量 %s 为布尔值，使用默认值 %t", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.Warnf("无法解析环境变量 %s 为时间间隔，使用默认值 %v", key, defaultValue)
	}
	return defaultValue
}

// getEnvPercentAsBps 百分比(例如"0.5")转换为基点
func getEnvPercentAsBps(key string, defaultBps uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		percent, err := decimal.NewFromString(value)
		if err == nil && !percent.IsNegative() {
			return uint64(percent.Mul(decimal.NewFromInt(100)).IntPart())
		}
		logrus.Warnf("无法解析环境变量 %s 为百分比，使用默认值 %dbps", key, defaultBps)
	}
	return defaultBps
}

// LoadConfigWithDatabase 加载配置并以数据库中的后端配置覆盖
// 数据库控制启用状态，环境变量提供敏感信息；数据库不可用时退回环境变量配置
func LoadConfigWithDatabase() (*types.Config, error) {
	config, err := Load()
	if err != nil {
		return nil, fmt.Errorf("加载基础配置失败: %w", err)
	}

	if getEnv("DB_HOST", "") == "" {
		logrus.Info("未配置DB_HOST，使用环境变量后端配置")
		return config, nil
	}

	dbURL := fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		getEnv("DB_USER", "admin"),
		getEnv("DB_PASSWORD", "password"),
		getEnv("DB_HOST", "localhost"),
		getEnvAsInt("DB_PORT", 5432),
		getEnv("DB_NAME", "defi_aggregator"),
		getEnv("DB_SSL_MODE", "disable"),
	)

	configManager, err := NewBackendConfigManager(dbURL, logrus.StandardLogger())
	if err != nil {
		logrus.Warnf("创建后端配置管理器失败: %v，使用环境变量配置", err)
		return config, nil
	}
	defer configManager.Close()

	backends, err := configManager.LoadActiveBackends()
	if err != nil {
		logrus.Warnf("从数据库加载后端配置失败: %v，使用环境变量配置", err)
		return config, nil
	}
	if err := validateBackends(backends); err != nil {
		logrus.Warnf("数据库后端配置无效: %v，使用环境变量配置", err)
		return config, nil
	}

	config.Backends = backends
	logrus.Infof("🎉 成功使用数据库后端配置，共 %d 个活跃后端", len(backends))

	return config, nil
}
