package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"roundup-core/internal/service"
	"roundup-core/internal/worker/tasks"
	"roundup-core/pkg/logger"
)

// Server 封装 Asynq Server (Worker)
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// syncAdapter 把 BankSyncService 适配成任务处理器需要的形状
type syncAdapter struct {
	svc *service.BankSyncService
}

func (a syncAdapter) SyncOnce(ctx context.Context, connectionID uint64, trigger string) error {
	result := a.svc.SyncConnection(ctx, connectionID, trigger)
	return result.Err
}

// NewServer 初始化 Worker Server
func NewServer(addr string, password string, db int, concurrency int, syncSvc *service.BankSyncService) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     addr,
			Password: password,
			DB:       db,
		},
		asynq.Config{
			// 并发数：同时处理多少个任务
			Concurrency: concurrency,
			// 队列优先级: sync 走 critical，通知走 low
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			Logger: logger.NewAsynqLogger(),
		},
	)

	mux := asynq.NewServeMux()

	// 注册任务处理器
	mux.Handle(tasks.TypeBankSync, tasks.NewBankSyncHandler(syncAdapter{svc: syncSvc}))
	mux.HandleFunc(tasks.TypeNotifyDonation, tasks.HandleDonationNotifyTask)
	mux.HandleFunc(tasks.TypeNotifyPayout, tasks.HandlePayoutNotifyTask)

	return &Server{
		server: srv,
		mux:    mux,
	}
}

// Run 启动 Worker (阻塞)
func (s *Server) Run() error {
	logger.Info("Worker Server starting...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动 (用于集成到 main.go)
func (s *Server) Start() {
	go func() {
		if err := s.server.Run(s.mux); err != nil {
			logger.Fatal("Worker Server failed", zap.Error(err))
		}
	}()
}

// Stop 停止 Worker
func (s *Server) Stop() {
	s.server.Stop()
	s.server.Shutdown()
}
