package controller

import (
	"eduflex_backend/internal/service"
	"eduflex_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type CourseController struct {
	Unlock     *service.UnlockService
	Enrollment *service.EnrollmentService
}

func NewCourseController(unlock *service.UnlockService, enrollment *service.EnrollmentService) *CourseController {
	return &CourseController{Unlock: unlock, Enrollment: enrollment}
}

// @Summary 课程模块解锁状态
// @Tags 课程模块
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response{data=[]service.AccessDecision}
// @Failure 403 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/courses/{courseId}/modules/access [get]
func (c *CourseController) ModuleStates(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}

	states, err := c.Unlock.ModuleStates(ctx.Request.Context(), actor, courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, states)
}

// @Summary 单个模块解锁状态
// @Tags 课程模块
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Param moduleId path int true "模块ID"
// @Success 200 {object} util.Response{data=service.AccessDecision}
// @Failure 403 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/courses/{courseId}/modules/{moduleId}/access [get]
func (c *CourseController) ModuleAccess(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}
	moduleID, ok := pathID(ctx, "moduleId")
	if !ok {
		return
	}

	decision, err := c.Unlock.IsAccessible(ctx.Request.Context(), actor, moduleID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	if decision.CourseID != courseID {
		util.HandleError(ctx, util.ErrModuleNotFound)
		return
	}
	util.Success(ctx, decision)
}

// @Summary 获取模块主题列表
// @Description 模块未解锁时返回 403 MODULE_LOCKED
// @Tags 课程模块
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Param moduleId path int true "模块ID"
// @Success 200 {object} util.Response{data=[]model.Topic}
// @Failure 403 {object} util.Response
// @Router /api/courses/{courseId}/modules/{moduleId}/topics [get]
func (c *CourseController) ModuleTopics(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}
	moduleID, ok := pathID(ctx, "moduleId")
	if !ok {
		return
	}

	topics, err := c.Unlock.ListTopics(ctx.Request.Context(), actor, courseID, moduleID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, topics)
}

// @Summary 报名课程
// @Tags 课程模块
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 201 {object} util.Response{data=model.Enrollment}
// @Failure 400 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/courses/{courseId}/enroll [post]
func (c *CourseController) Enroll(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}

	enrollment, err := c.Enrollment.Enroll(ctx.Request.Context(), actor, courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Created(ctx, enrollment)
}

// @Summary 退出课程
// @Tags 课程模块
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/courses/{courseId}/enroll [delete]
func (c *CourseController) Unenroll(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}

	if err := c.Enrollment.Unenroll(ctx.Request.Context(), actor, courseID); err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
