package controller

import (
	"eduflex_backend/internal/service"
	"eduflex_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// currentActor 未登录时已写入 401 响应
func currentActor(ctx *gin.Context) (service.Actor, bool) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return service.Actor{}, false
	}
	return service.ActorFromClaims(user), true
}

func pathID(ctx *gin.Context, name string) (uint, bool) {
	id := util.MustParseUint(ctx.Param(name))
	if id == 0 {
		util.BadRequest(ctx, "invalid "+name)
		return 0, false
	}
	return id, true
}
