package controller

import (
	"eduflex_backend/internal/service"
	"eduflex_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type ResultController struct {
	Service *service.AssessmentService
}

func NewResultController(svc *service.AssessmentService) *ResultController {
	return &ResultController{Service: svc}
}

// @Summary 我的测试记录
// @Tags 成绩模块
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]service.ResultView}
// @Router /api/me/results [get]
func (c *ResultController) MyResults(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}

	results, err := c.Service.MyResults(ctx.Request.Context(), actor)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, results)
}

// @Summary 获取单次提交详情
// @Description 本人、课程作者或管理员可见
// @Tags 成绩模块
// @Produce json
// @Security BearerAuth
// @Param id path int true "提交ID"
// @Success 200 {object} util.Response{data=service.ResultView}
// @Failure 403 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/results/{id} [get]
func (c *ResultController) GetResult(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	attemptID, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	result, err := c.Service.GetResult(ctx.Request.Context(), actor, attemptID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}
