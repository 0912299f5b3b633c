package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"roundup-core/pkg/config"
	"roundup-core/pkg/database"
	"roundup-core/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// 三个调度任务的手动触发入口 (回填/排错)
// 退出码: 0 成功 (空周期也是成功)，1 有组件报 failed
var rootCmd = &cobra.Command{
	Use:   "roundup-cli",
	Short: "Roundup settlement engine admin CLI",
	Long:  "按需触发银行流水扫描、归集周期收口和结算周期收口",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// mustInit CLI 每个子命令共用的初始化
func mustInit() (*gorm.DB, *redis.Client) {
	config.Init()
	logger.Init(config.Global.App.Env)

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		config.Global.DB.Host,
		config.Global.DB.User,
		config.Global.DB.Password,
		config.Global.DB.Name,
		config.Global.DB.Port,
	)
	db, err := database.ConnectPostgres(dsn)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	rdb, err := database.ConnectRedis(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB)
	if err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}
	return db, rdb
}
