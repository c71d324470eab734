package controller

import (
	"eduflex_backend/internal/service"
	"eduflex_backend/internal/util"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AssessmentController struct {
	Scoring    *service.ScoringService
	Assessment *service.AssessmentService
}

func NewAssessmentController(scoring *service.ScoringService, assessment *service.AssessmentService) *AssessmentController {
	return &AssessmentController{Scoring: scoring, Assessment: assessment}
}

// SubmitTestRequest 答案以题目ID为键：单选题传答案ID，开放题传文本
type SubmitTestRequest struct {
	Answers         map[string]json.RawMessage `json:"answers" binding:"required" swaggertype:"object"`
	DurationMinutes int                        `json:"durationMinutes"`
}

// @Summary 获取测试详情
// @Description 学生视图，不包含正确答案；返回已用及剩余次数
// @Tags 测试模块
// @Produce json
// @Security BearerAuth
// @Param id path int true "测试ID"
// @Success 200 {object} util.Response{data=service.TestView}
// @Failure 403 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/tests/{id} [get]
func (c *AssessmentController) GetTest(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	testID, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	view, err := c.Assessment.GetTest(ctx.Request.Context(), actor, testID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// @Summary 提交测试答案
// @Description 评分、记录尝试并更新知识掌握度
// @Tags 测试模块
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "测试ID"
// @Param body body SubmitTestRequest true "答案"
// @Success 200 {object} util.Response{data=service.SubmitResult}
// @Failure 400 {object} util.Response
// @Failure 403 {object} util.Response
// @Failure 409 {object} util.Response
// @Failure 503 {object} util.Response
// @Router /api/tests/{id}/submit [post]
func (c *AssessmentController) Submit(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	testID, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	var req SubmitTestRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	answers, err := service.ParseAnswers(req.Answers)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	result, err := c.Scoring.Submit(ctx.Request.Context(), actor, testID, service.SubmitRequest{
		Answers:         answers,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// @Summary 获取测试的全部提交记录
// @Tags 测试模块
// @Produce json
// @Security BearerAuth
// @Param id path int true "测试ID"
// @Success 200 {object} util.Response{data=[]service.ResultView}
// @Failure 403 {object} util.Response
// @Router /api/tests/{id}/results [get]
func (c *AssessmentController) TestResults(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	testID, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	results, _, err := c.Assessment.TestResults(ctx.Request.Context(), actor, testID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, results)
}

// @Summary 导出测试成绩
// @Tags 测试模块
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param id path int true "测试ID"
// @Success 200 {file} file
// @Failure 403 {object} util.Response
// @Router /api/tests/{id}/results/export [get]
func (c *AssessmentController) ExportResults(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}
	testID, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	buf, filename, err := c.Assessment.ExportTestResults(ctx.Request.Context(), actor, testID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	ctx.Data(http.StatusOK, util.MimeXLSX, buf.Bytes())
}
