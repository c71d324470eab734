// 导入演示课程目录（用户、课程、模块、主题、测试）
//
// 已存在的同名课程会被跳过，可重复执行。
//
// 用法: go run scripts/seed_catalog.go [-config configs] [-file configs/catalog.example.yaml]

package main

import (
	"context"
	"eduflex_backend/internal/config"
	"eduflex_backend/internal/service"
	"eduflex_backend/pkg/database"
	"eduflex_backend/pkg/logger"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"
)

func main() {
	configDir := flag.String("config", "configs", "配置文件目录")
	file := flag.String("file", "configs/catalog.example.yaml", "课程目录 YAML 文件")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	catalog, err := service.LoadCatalogFile(*file)
	if err != nil {
		log.Fatalf("解析课程目录失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := service.NewCatalogSeeder(db).Seed(ctx, catalog); err != nil {
		logger.Log.Fatal("导入失败", zap.Error(err))
	}

	logger.Log.Info("课程目录导入完成",
		zap.String("file", *file),
		zap.Int("users", len(catalog.Users)),
		zap.Int("courses", len(catalog.Courses)),
	)
}
