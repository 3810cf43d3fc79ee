package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ENS-Agent-Chain/internal/api"
	"ENS-Agent-Chain/internal/chat"
	"ENS-Agent-Chain/internal/config"
	"ENS-Agent-Chain/internal/event"
	"ENS-Agent-Chain/internal/llm"
	"ENS-Agent-Chain/internal/llm/openai"
	"ENS-Agent-Chain/internal/orchestrator"
	"ENS-Agent-Chain/internal/tools"
	"ENS-Agent-Chain/internal/web3"
	"ENS-Agent-Chain/internal/worker"
	"ENS-Agent-Chain/pkg/logger"
)

// main 是 ENS 会话守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("ensagentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("ENSAGENT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "ensagent.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditFile != "",
			Path:    cfg.Logging.AuditFile,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	// 初始化会话存储。
	var store chat.Store
	switch cfg.Storage.SessionStore.Driver {
	case "", "memory":
		store = chat.NewMemoryStore()
	case "mysql":
		mysqlStore, err := chat.NewMySQLStore(cfg.Storage.SessionStore.DSN)
		if err != nil {
			return err
		}
		store = mysqlStore
	default:
		return fmt.Errorf("未知的会话存储驱动: %s", cfg.Storage.SessionStore.Driver)
	}
	defer func() {
		if store != nil {
			_ = store.Close()
		}
	}()

	// 初始化事件队列。
	var queue event.Queue
	switch cfg.EventQueue.Driver {
	case "", "memory":
		queue = event.NewMemoryQueue(cfg.EventQueue.Buffer)
	case "redis":
		redisQueue, err := event.NewRedisQueue(event.RedisQueueConfig{
			Address:   cfg.EventQueue.Redis.Address,
			Password:  cfg.EventQueue.Redis.Password,
			DB:        cfg.EventQueue.Redis.DB,
			Queue:     cfg.EventQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.EventQueue.Redis.BlockWaitSecs) * time.Second,
		})
		if err != nil {
			return err
		}
		queue = redisQueue
	case "rabbitmq":
		rabbitQueue, err := event.NewRabbitMQQueue(event.RabbitMQConfig{
			URL:        cfg.EventQueue.RabbitMQ.URL,
			Queue:      cfg.EventQueue.RabbitMQ.Queue,
			Prefetch:   cfg.EventQueue.RabbitMQ.Prefetch,
			Durable:    cfg.EventQueue.RabbitMQ.Durable,
			AutoDelete: cfg.EventQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		queue = rabbitQueue
	default:
		return fmt.Errorf("未知的事件队列驱动: %s", cfg.EventQueue.Driver)
	}
	defer func() {
		if queue != nil {
			if err := queue.Close(); err != nil {
				log.Printf("关闭事件队列失败: %v", err)
			}
		}
	}()

	// 初始化执行服务客户端与工具注册表。
	workerClient, err := worker.NewClient(cfg.Worker.BaseURL, cfg.WorkerKey(),
		&http.Client{Timeout: cfg.WorkerTimeout()})
	if err != nil {
		return err
	}
	registry := tools.NewRegistry(workerClient)

	runner, err := createRunner(cfg, registry)
	if err != nil {
		return err
	}

	orchOpts := []orchestrator.Option{}
	var verifier *web3.Verifier
	if cfg.Web3.Verify {
		defs, err := web3.LoadChainDefinitions(cfg.Web3.ChainsFile)
		if err != nil {
			return err
		}
		verifier = web3.NewVerifier(defs)
		defer verifier.Close()
		orchOpts = append(orchOpts, orchestrator.WithReceiptVerifier(verifier))
	}

	orch := orchestrator.New(store, runner, orchOpts...)

	processor := orchestrator.NewProcessor(orch, queue,
		orchestrator.WithWorkerCount(cfg.EventQueue.Workers),
		orchestrator.WithProcessorLogger(logger.Named("processor")),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("事件处理器异常退出: %v", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, store, orch, queue)

	if err := server.Start(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func createRunner(cfg *config.Config, registry *tools.Registry) (llm.Runner, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := cfg.OpenAIKey()
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.OpenAITimeout(),
		}, registry)
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
