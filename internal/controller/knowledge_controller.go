package controller

import (
	"eduflex_backend/internal/service"
	"eduflex_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type KnowledgeController struct {
	Aggregation *service.AggregationService
	Ledger      *service.KnowledgeLedger
}

func NewKnowledgeController(aggregation *service.AggregationService, ledger *service.KnowledgeLedger) *KnowledgeController {
	return &KnowledgeController{Aggregation: aggregation, Ledger: ledger}
}

// @Summary 我的模块掌握度
// @Tags 知识掌握度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]model.ModuleKnowledge}
// @Router /api/me/modules/knowledge [get]
func (c *KnowledgeController) ModuleKnowledge(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}

	items, err := c.Aggregation.ModuleKnowledgeForUser(ctx.Request.Context(), actor.UserID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, items)
}

// @Summary 我的课程掌握度
// @Tags 知识掌握度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]model.CourseKnowledge}
// @Router /api/me/courses/knowledge [get]
func (c *KnowledgeController) CourseKnowledge(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}

	items, err := c.Aggregation.CourseKnowledgeForUser(ctx.Request.Context(), actor.UserID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, items)
}

// @Summary 我的主题掌握度
// @Tags 知识掌握度
// @Produce json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]model.TopicKnowledge}
// @Router /api/me/topics/knowledge [get]
func (c *KnowledgeController) TopicKnowledge(ctx *gin.Context) {
	actor, ok := currentActor(ctx)
	if !ok {
		return
	}

	rows, err := c.Ledger.ListForUser(ctx.Request.Context(), actor.UserID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, rows)
}
