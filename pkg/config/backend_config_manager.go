// Package config 后端配置管理器
// 数据库提供后端基本信息与启用状态，环境变量提供敏感信息
package config

import (
	"fmt"
	"strings"
	"time"

	"defi-aggregator/quote-router/internal/types"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// BackendConfigManager 后端配置管理器
type BackendConfigManager struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// DatabaseBackend 数据库后端模型
type DatabaseBackend struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"column:name"`
	DisplayName  string `gorm:"column:display_name"`
	RoutingTypes string `gorm:"column:routing_types"` // 逗号分隔，例如 "DUTCH_V1,DUTCH_V2"
	APIURL       string `gorm:"column:api_url"`
	APIKey       string `gorm:"column:api_key"`   // 通常为空，从环境变量读取
	IsActive     bool   `gorm:"column:is_active"` // 控制后端是否启用
	Priority     int    `gorm:"column:priority"`
	TimeoutMS    int    `gorm:"column:timeout_ms"`
}

func (DatabaseBackend) TableName() string { return "backends" }

// NewBackendConfigManager 创建后端配置管理器
func NewBackendConfigManager(dbURL string, logger *logrus.Logger) (*BackendConfigManager, error) {
	db, err := gorm.Open(postgres.Open(dbURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	return NewBackendConfigManagerWithDB(db, logger), nil
}

// NewBackendConfigManagerWithDB 使用已有连接创建后端配置管理器
func NewBackendConfigManagerWithDB(db *gorm.DB, logger *logrus.Logger) *BackendConfigManager {
	return &BackendConfigManager{db: db, logger: logger}
}

// LoadActiveBackends 加载活跃的后端配置
func (mgr *BackendConfigManager) LoadActiveBackends() ([]types.BackendConfig, error) {
	mgr.logger.Info("🔄 从数据库加载活跃后端配置...")

	var rows []DatabaseBackend
	if err := mgr.db.Where("is_active = ?", true).Order("priority ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询活跃后端失败: %w", err)
	}

	mgr.logger.Infof("📋 数据库中找到 %d 个活跃后端", len(rows))

	var backends []types.BackendConfig
	for _, row := range rows {
		backend, err := toBackendConfig(row, loadEnvironmentConfig(row.Name))
		if err != nil {
			mgr.logger.Warnf("⚠️ 跳过后端 %s (ID=%d): %v", row.Name, row.ID, err)
			continue
		}
		backends = append(backends, backend)
		mgr.logger.Infof("✅ 后端配置完成: ID=%d, %s", row.ID, formatBackendSummary(backend))
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("没有找到可用的活跃后端")
	}
	return backends, nil
}

// EnvironmentConfig 环境变量中的后端敏感配置
type EnvironmentConfig struct {
	APIKey    string
	TimeoutMS int
}

// envPrefix 后端名称对应的环境变量前缀，例如 routing-api -> ROUTING_API
func envPrefix(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// loadEnvironmentConfig 从环境变量加载后端配置
func loadEnvironmentConfig(name string) EnvironmentConfig {
	prefix := envPrefix(name)
	return EnvironmentConfig{
		APIKey:    getEnv(prefix+"_API_KEY", ""),
		TimeoutMS: getEnvAsInt(prefix+"_TIMEOUT_MS", 0),
	}
}

// toBackendConfig 合并数据库记录与环境变量配置，环境变量优先
func toBackendConfig(row DatabaseBackend, env EnvironmentConfig) (types.BackendConfig, error) {
	routingTypes, err := parseRoutingTypes(row.RoutingTypes)
	if err != nil {
		return types.BackendConfig{}, err
	}
	if row.APIURL == "" {
		return types.BackendConfig{}, fmt.Errorf("缺少API地址")
	}

	apiKey := row.APIKey
	if env.APIKey != "" {
		apiKey = env.APIKey
	}
	timeoutMS := row.TimeoutMS
	if env.TimeoutMS > 0 {
		timeoutMS = env.TimeoutMS
	}

	return types.BackendConfig{
		Name:         row.Name,
		DisplayName:  row.DisplayName,
		RoutingTypes: routingTypes,
		BaseURL:      row.APIURL,
		APIKey:       apiKey,
		Timeout:      time.Duration(timeoutMS) * time.Millisecond,
		IsActive:     row.IsActive,
	}, nil
}

// parseRoutingTypes 解析逗号分隔的路由类型
func parseRoutingTypes(raw string) ([]types.RoutingType, error) {
	var routingTypes []types.RoutingType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		routingType, err := types.ParseRoutingType(part)
		if err != nil {
			return nil, err
		}
		routingTypes = append(routingTypes, routingType)
	}
	if len(routingTypes) == 0 {
		return nil, fmt.Errorf("没有配置路由类型")
	}
	return routingTypes, nil
}

// formatBackendSummary 格式化后端配置摘要
func formatBackendSummary(backend types.BackendConfig) string {
	apiKeyStatus := "未配置"
	if backend.APIKey != "" {
		apiKeyStatus = "已配置"
	}
	return fmt.Sprintf("%s(%s) | URL: %s | API Key: %s | 路由: %v | 超时: %v",
		backend.DisplayName, backend.Name, backend.BaseURL, apiKeyStatus, backend.RoutingTypes, backend.Timeout)
}

// Close 关闭数据库连接
func (mgr *BackendConfigManager) Close() error {
	if sqlDB, err := mgr.db.DB(); err == nil {
		return sqlDB.Close()
	}
	return nil
}
