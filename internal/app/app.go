package app

import (
	"context"
	"eduflex_backend/internal/config"
	"eduflex_backend/internal/controller"
	"eduflex_backend/internal/repository"
	"eduflex_backend/internal/service"
	"eduflex_backend/pkg/configwatcher"
	"eduflex_backend/pkg/database"
	"eduflex_backend/pkg/logger"
	"eduflex_backend/pkg/monitoring"
	"eduflex_backend/pkg/security"
	"eduflex_backend/pkg/tracing"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	Policy   *config.PolicyStore
	services *services

	tracer      *sdktrace.TracerProvider
	stopWatcher context.CancelFunc
}

type repositories struct {
	user      *repository.UserRepository
	course    *repository.CourseRepository
	test      *repository.TestRepository
	attempt   *repository.AttemptRepository
	knowledge *repository.KnowledgeRepository
}

type services struct {
	ledger      *service.KnowledgeLedger
	aggregation *service.AggregationService
	unlock      *service.UnlockService
	scoring     *service.ScoringService
	assessment  *service.AssessmentService
	enrollment  *service.EnrollmentService
}

type controllers struct {
	assessment *controller.AssessmentController
	knowledge  *controller.KnowledgeController
	course     *controller.CourseController
	result     *controller.ResultController
	health     *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:      repository.NewUserRepository(db),
		course:    repository.NewCourseRepository(db),
		test:      repository.NewTestRepository(db),
		attempt:   repository.NewAttemptRepository(db),
		knowledge: repository.NewKnowledgeRepository(db),
	}
}

func (a *App) initServices(repos *repositories, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}

	// rdb 为 nil 时缓存与锁退化为进程内实现
	cache := service.NewKnowledgeCache(rdb)
	locker := service.NewAttemptLocker(rdb)

	s.ledger = service.NewKnowledgeLedger(repos.knowledge, a.Policy)
	s.aggregation = service.NewAggregationService(repos.course, repos.test, repos.attempt, repos.knowledge, cache, a.Policy)
	s.unlock = service.NewUnlockService(repos.course, s.aggregation, a.Policy)
	s.scoring = service.NewScoringService(
		db,
		repos.test,
		repos.attempt,
		repos.course,
		s.ledger,
		s.aggregation,
		s.unlock,
		locker,
		a.Policy,
	)
	s.assessment = service.NewAssessmentService(repos.test, repos.attempt, repos.user, s.scoring, a.Policy)
	s.enrollment = service.NewEnrollmentService(repos.course, s.aggregation)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		assessment: controller.NewAssessmentController(s.scoring, s.assessment),
		knowledge:  controller.NewKnowledgeController(s.aggregation, s.ledger),
		course:     controller.NewCourseController(s.unlock, s.enrollment),
		result:     controller.NewResultController(s.assessment),
		health:     controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.RequestID())
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// New 使用已建立的连接组装应用，rdb 可为 nil
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *App {
	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Policy: config.NewPolicyStore(cfg.Policy),
	}

	repos := app.initRepositories(db)
	app.services = app.initServices(repos, db, rdb)
	controllers := app.initControllers(app.services, db, rdb)

	// 监控初始化
	monitoring.Init()

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Server.Mode != gin.ReleaseMode {
		router.Use(gin.Logger())
	}
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, repos, cfg)

	return app
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	gin.SetMode(cfg.Server.Mode)

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	// release 模式下默认不自动迁移，需显式 -migrate
	if cfg.ForceMigrate || cfg.Server.Mode != gin.ReleaseMode {
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Log.Info("Database migrated")
	}

	if cfg.SeedFile != "" {
		if err := seedCatalog(db, cfg.SeedFile); err != nil {
			logger.Log.Fatal("Failed to seed catalog", zap.String("file", cfg.SeedFile), zap.Error(err))
		}
	}

	if cfg.MigrateOnly {
		return &App{Config: cfg, DB: db}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
	}
	if rdb == nil {
		logger.Log.Warn("Redis disabled, attempt locks and knowledge cache are process-local")
	}

	app := New(cfg, db, rdb)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.startPolicyWatcher()

	return app
}

func seedCatalog(db *gorm.DB, path string) error {
	catalog, err := service.LoadCatalogFile(path)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := service.NewCatalogSeeder(db).Seed(ctx, catalog); err != nil {
		return err
	}
	logger.Log.Info("Catalog seeded", zap.String("file", path), zap.Int("courses", len(catalog.Courses)))
	return nil
}

func (a *App) startPolicyWatcher() {
	if a.Config.ConfigFile == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.stopWatcher = cancel
	go func() {
		if err := configwatcher.WatchPolicy(ctx, a.Config.ConfigFile, a.Policy); err != nil {
			logger.Log.Error("Policy watcher stopped", zap.Error(err))
		}
	}()
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:              ":" + a.Config.Server.Port,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	if a.stopWatcher != nil {
		a.stopWatcher()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Log.Info("Server exiting")
}
