package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	EventQueue EventQueueConfig `json:"event_queue"`
	LLM        LLMConfig        `json:"llm"`
	Worker     WorkerConfig     `json:"worker"`
	Web3       Web3Config       `json:"web3"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述会话存储后端的连接信息。
type StorageConfig struct {
	SessionStore SessionStoreConfig `json:"session_store"`
}

// SessionStoreConfig 支持内存与 MySQL 两种驱动。
type SessionStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// EventQueueConfig 配置钱包生命周期事件队列。
type EventQueueConfig struct {
	Driver   string         `json:"driver"`
	Workers  int            `json:"workers"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address       string `json:"address"`
	Password      string `json:"password"`
	DB            int    `json:"db"`
	Queue         string `json:"queue"`
	BlockWaitSecs int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `json:"provider"`
	OpenAI   OpenAIConfig `json:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用参数。密钥优先从环境变量
// 读取，避免落盘。
type OpenAIConfig struct {
	APIKey      string `json:"api_key"`
	APIKeyEnv   string `json:"api_key_env"`
	BaseURL     string `json:"base_url"`
	Model       string `json:"model"`
	TimeoutSecs int    `json:"timeout_seconds"`
}

// WorkerConfig 描述 ENS 执行服务的访问参数。
type WorkerConfig struct {
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key"`
	APIKeyEnv   string `json:"api_key_env"`
	TimeoutSecs int    `json:"timeout_seconds"`
}

// Web3Config 包含链上收据校验所需的链定义文件。
type Web3Config struct {
	ChainsFile string `json:"chains_file"`
	Verify     bool   `json:"verify"`
}

// LoggingConfig 控制日志级别与审计输出。
type LoggingConfig struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	AuditFile string `json:"audit_file"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.SessionStore.Driver == "" {
		c.Storage.SessionStore.Driver = "memory"
	}

	if c.EventQueue.Driver == "" {
		c.EventQueue.Driver = "memory"
	}
	if c.EventQueue.Workers <= 0 {
		c.EventQueue.Workers = 1
	}
	if c.EventQueue.Buffer <= 0 {
		c.EventQueue.Buffer = 64
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4.1"
	}
	if c.LLM.OpenAI.TimeoutSecs <= 0 {
		c.LLM.OpenAI.TimeoutSecs = 60
	}

	if c.Worker.APIKeyEnv == "" {
		c.Worker.APIKeyEnv = "WORKER_API_KEY"
	}
	if c.Worker.TimeoutSecs <= 0 {
		c.Worker.TimeoutSecs = 30
	}

	if c.Web3.ChainsFile != "" && !filepath.IsAbs(c.Web3.ChainsFile) {
		c.Web3.ChainsFile = filepath.Join(baseDir, c.Web3.ChainsFile)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// OpenAIKey 按环境变量优先的顺序解析 OpenAI 密钥。
func (c *Config) OpenAIKey() string {
	if key := os.Getenv(c.LLM.OpenAI.APIKeyEnv); key != "" {
		return key
	}
	return c.LLM.OpenAI.APIKey
}

// WorkerKey 按环境变量优先的顺序解析执行服务密钥。
func (c *Config) WorkerKey() string {
	if key := os.Getenv(c.Worker.APIKeyEnv); key != "" {
		return key
	}
	return c.Worker.APIKey
}

// OpenAITimeout 返回 OpenAI 调用超时。
func (c *Config) OpenAITimeout() time.Duration {
	return time.Duration(c.LLM.OpenAI.TimeoutSecs) * time.Second
}

// WorkerTimeout 返回执行服务调用超时。
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Worker.TimeoutSecs) * time.Second
}
