// @title EduFlex 测评服务 API
// @version 1.0
// @description EduFlex 在线学习平台的测试评分、知识掌握度与模块解锁服务。

// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"eduflex_backend/internal/app"
	"eduflex_backend/internal/config"
	"eduflex_backend/pkg/logger"
	"flag"
	"log"
)

func main() {
	// 命令行参数
	configDir := flag.String("config", "configs", "配置文件目录")
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	migrate := flag.Bool("migrate", false, "启动时强制执行数据库迁移（即使是 release 模式）")
	seed := flag.String("seed", "", "启动前导入的课程目录 YAML 文件")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 设置迁移标志
	cfg.ForceMigrate = *migrate || *migrateOnly || *seed != ""
	cfg.MigrateOnly = *migrateOnly
	cfg.SeedFile = *seed

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	// 迁移完成后直接退出
	if *migrateOnly {
		logger.Log.Info("数据库迁移完成，退出程序")
		return
	}

	application.Run()
}
