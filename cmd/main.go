// DeFi聚合器报价路由服务主程序
// 负责加载配置，初始化后端客户端、外部查询与缓存，并启动HTTP服务
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"defi-aggregator/quote-router/internal/adapters"
	"defi-aggregator/quote-router/internal/handlers"
	"defi-aggregator/quote-router/internal/metrics"
	"defi-aggregator/quote-router/internal/middleware"
	"defi-aggregator/quote-router/internal/providers"
	"defi-aggregator/quote-router/internal/resolvers"
	"defi-aggregator/quote-router/internal/services"
	"defi-aggregator/quote-router/internal/types"
	"defi-aggregator/quote-router/pkg/cache"
	"defi-aggregator/quote-router/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Application 报价路由应用程序
type Application struct {
	Config       *types.Config                       // 应用配置
	Cache        *cache.RedisCache                   // 缓存(可为nil)
	Allowance    *providers.OnChainAllowanceProvider // 链上授权查询(可为nil)
	Tokens       *providers.StaticTokenResolver      // 代币解析
	QuoteService *services.QuoteService              // 报价服务
	Handler      *handlers.RouterHandler             // HTTP处理器
	RateLimiter  *middleware.RateLimiter             // 限流
	Server       *http.Server                        // HTTP服务器
	Logger       *logrus.Logger                      // 日志记录器
}

// main 主函数
func main() {
	app, err := NewApplication()
	if err != nil {
		logrus.Fatalf("创建报价路由应用失败: %v", err)
	}

	if err := app.Run(); err != nil {
		logrus.Fatalf("运行报价路由应用失败: %v", err)
	}
}

// NewApplication 创建报价路由应用实例
func NewApplication() (*Application, error) {
	// 1. 加载配置(数据库后端配置可选)
	cfg, err := config.LoadConfigWithDatabase()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	// 2. 初始化日志记录器
	logger := initLogger(cfg)
	logger.Infof("启动DeFi聚合器报价路由服务 - 环境: %s", cfg.Server.Environment)

	app := &Application{Config: cfg, Logger: logger}

	// 3. 指标
	var m metrics.Metrics = metrics.Nop{}
	registry := prometheus.NewRegistry()
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.NewPrometheus(registry)
	}

	// 4. 初始化缓存，不可用时分成查询不缓存
	var cacheManager cache.CacheManager
	var pinger handlers.Pinger
	if cfg.Redis.Host != "" {
		logger.Info("初始化Redis缓存...")
		redisCache, err := cache.NewRedisCache(&cfg.Redis, cfg.Cache.PrefixKey, logger)
		if err != nil {
			logger.Warnf("⚠️ 缓存初始化失败，分成查询将不使用缓存: %v", err)
		} else {
			app.Cache = redisCache
			cacheManager = redisCache
			pinger = redisCache
		}
	}

	// 5. 外部查询
	var allowance providers.AllowanceProvider
	if len(cfg.Chains) > 0 {
		logger.Infof("连接链RPC: %v", config.ChainIDs(cfg))
		onChain, err := providers.NewOnChainAllowanceProvider(cfg.Chains, cfg.Lookups.AllowanceTimeout, logger)
		if err != nil {
			app.closeResources()
			return nil, fmt.Errorf("初始化授权查询失败: %w", err)
		}
		app.Allowance = onChain
		allowance = onChain
	} else {
		logger.Warn("未配置RPC_URL_<chainId>，不查询授权额度")
	}

	var portion providers.FeePortionProvider = providers.NoPortionProvider{}
	if cfg.Lookups.FeePortionURL != "" {
		portion = providers.NewHTTPFeePortionProvider(cfg.Lookups.FeePortionURL,
			cfg.Lookups.FeePortionTimeout, cfg.Lookups.FeePortionTTL, cacheManager, logger)
	}

	app.Tokens = providers.NewStaticTokenResolver(cfg.Lookups.TokenCacheTTL, logger)

	// 6. 初始化后端客户端
	clients, err := buildClients(cfg, m, logger)
	if err != nil {
		app.closeResources()
		return nil, err
	}

	// 7. 初始化报价服务
	logger.Info("初始化报价服务...")
	builder := resolvers.NewBuilder(cfg.Engine, allowance, portion, logger)
	app.QuoteService = services.NewQuoteService(clients, builder, m, logger)

	// 8. 初始化HTTP处理器
	app.Handler = handlers.NewRouterHandler(app.QuoteService, app.Tokens, pinger, logger)
	app.RateLimiter = middleware.NewRateLimiter(&cfg.RateLimit, logger)

	// 9. 设置Gin模式
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := setupRouter(cfg, app, registry, logger)

	app.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	return app, nil
}

// buildClients 根据后端配置创建客户端，路由变体 -> 客户端
func buildClients(cfg *types.Config, m metrics.Metrics, logger *logrus.Logger) (map[types.RoutingType]adapters.QuoteClient, error) {
	clients := make(map[types.RoutingType]adapters.QuoteClient)
	for i := range cfg.Backends {
		backend := &cfg.Backends[i]
		if !backend.IsActive {
			logger.Infof("后端 %s 未启用，跳过", backend.Name)
			continue
		}

		var client adapters.QuoteClient
		switch backend.Name {
		case config.BackendRoutingAPI:
			client = adapters.NewRoutingAPIAdapter(backend, logger, m)
		case config.BackendRFQ:
			client = adapters.NewRFQAdapter(backend, logger, m, cfg.Engine.DefaultSlippageBps)
		default:
			return nil, fmt.Errorf("未知的后端: %s", backend.Name)
		}

		for _, routingType := range client.RoutingTypes() {
			clients[routingType] = client
		}
		logger.Infof("✅ 后端 %s 已注册: %v", backend.Name, client.RoutingTypes())
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("没有可用的报价后端")
	}
	return clients, nil
}

// Run 启动应用程序
func (app *Application) Run() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		app.Logger.Infof("报价路由服务启动，监听端口: %s", app.Server.Addr)
		app.Logger.Info("API接口:")
		app.Logger.Info("  报价:     POST /api/v1/quote")
		app.Logger.Info("  请求计划: POST /api/v1/quote/requests")
		app.Logger.Infof("  健康检查: GET  %s", app.Config.Monitoring.HealthCheckPath)

		if err := app.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatalf("HTTP服务器启动失败: %v", err)
		}
	}()

	<-quit
	app.Logger.Info("接收到关闭信号，开始优雅关闭...")

	return app.Shutdown()
}

// Shutdown 优雅关闭应用程序
func (app *Application) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	app.Logger.Info("正在关闭HTTP服务器...")
	if err := app.Server.Shutdown(ctx); err != nil {
		app.Logger.Errorf("HTTP服务器关闭失败: %v", err)
		return err
	}

	app.closeResources()
	app.Logger.Info("报价路由服务已优雅关闭")
	return nil
}

// closeResources 释放缓存、RPC连接等资源
func (app *Application) closeResources() {
	if app.RateLimiter != nil {
		app.RateLimiter.Close()
	}
	if app.Tokens != nil {
		app.Tokens.Close()
	}
	if app.Allowance != nil {
		app.Allowance.Close()
	}
	if app.Cache != nil {
		app.Logger.Info("正在关闭缓存连接...")
		if err := app.Cache.Close(); err != nil {
			app.Logger.Errorf("缓存关闭失败: %v", err)
		}
	}
}

// initLogger 初始化日志记录器
func initLogger(cfg *types.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Server.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			ForceColors:     true,
		})
	}

	return logger
}

// setupRouter 设置HTTP路由器
func setupRouter(cfg *types.Config, app *Application, registry *prometheus.Registry, logger *logrus.Logger) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger, &cfg.Monitoring))
	router.Use(middleware.Security())
	router.Use(app.RateLimiter.RateLimit())

	app.Handler.RegisterRoutes(router, cfg.Monitoring.HealthCheckPath)

	if cfg.Monitoring.MetricsEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, types.APIResponse{
			Success: false,
			Error: &types.APIError{
				Code:    "NOT_FOUND",
				Message: "请求的资源不存在",
			},
			Timestamp: time.Now().Unix(),
			RequestID: c.GetString("request_id"),
		})
	})

	return router
}
