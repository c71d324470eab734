package app

import (
	"eduflex_backend/docs"
	"eduflex_backend/internal/config"
	"eduflex_backend/internal/middleware"
	"eduflex_backend/internal/model"
	"eduflex_backend/internal/util"
	"eduflex_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())
	router.NoRoute(util.NotFound)

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
	}

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		a.registerStudentRoutes(authGroup, c)
		a.registerTeacherRoutes(authGroup, c)
	}
}

func (a *App) registerStudentRoutes(rg *gin.RouterGroup, c *controllers) {
	// 测试
	rg.GET("/tests/:id", c.assessment.GetTest)
	rg.POST("/tests/:id/submit", c.assessment.Submit)

	// 知识掌握度
	rg.GET("/me/modules/knowledge", c.knowledge.ModuleKnowledge)
	rg.GET("/me/courses/knowledge", c.knowledge.CourseKnowledge)
	rg.GET("/me/topics/knowledge", c.knowledge.TopicKnowledge)

	// 成绩
	rg.GET("/me/results", c.result.MyResults)
	rg.GET("/results/:id", c.result.GetResult)

	// 课程与模块解锁
	rg.GET("/courses/:courseId/modules/access", c.course.ModuleStates)
	rg.GET("/courses/:courseId/modules/:moduleId/access", c.course.ModuleAccess)
	rg.GET("/courses/:courseId/modules/:moduleId/topics", c.course.ModuleTopics)
	rg.POST("/courses/:courseId/enroll", c.course.Enroll)
	rg.DELETE("/courses/:courseId/enroll", c.course.Unenroll)
}

// registerTeacherRoutes 课程作者身份在服务层校验
func (a *App) registerTeacherRoutes(rg *gin.RouterGroup, c *controllers) {
	teacher := rg.Group("")
	teacher.Use(middleware.RoleMiddleware(model.Teacher))
	{
		teacher.GET("/tests/:id/results", c.assessment.TestResults)
		teacher.GET("/tests/:id/results/export", c.assessment.ExportResults)
	}
}
