package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/storyline/pkg/response"
)

type viewRequest struct {
	DurationMs int64 `json:"duration_ms" binding:"gte=0"`
	Completed  bool  `json:"completed"`
}

// ViewStory 记录一次观看；同一观众重复观看不重复计数
// @Summary 记录观看
// @Tags 互动
// @Security BearerAuth
// @Accept json
// @Param story_id path string true "快拍ID"
// @Param request body viewRequest false "观看时长"
// @Success 200 {object} response.Response{data=map[string]bool}
// @Router /api/v1/stories/{story_id}/views [post]
func (h *Handler) ViewStory(c *gin.Context) {
	var req viewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	recorded, err := h.storyService.ViewStory(c.Request.Context(), c.Param("story_id"),
		time.Duration(req.DurationMs)*time.Millisecond, req.Completed)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"recorded": recorded})
}

// ListViewers 作者查看观众列表
// @Summary 观众列表
// @Tags 互动
// @Security BearerAuth
// @Param story_id path string true "快拍ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=pageResult}
// @Router /api/v1/stories/{story_id}/views [get]
func (h *Handler) ListViewers(c *gin.Context) {
	page, pageSize := pageParams(c)
	list, err := h.storyService.ListViewers(c.Request.Context(), c.Param("story_id"), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, pageResult{Page: page, PageSize: pageSize, List: list})
}

type reactRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// React 对快拍做出反应，重复调用覆盖 emoji
// @Summary 反应
// @Tags 互动
// @Security BearerAuth
// @Accept json
// @Param story_id path string true "快拍ID"
// @Param request body reactRequest true "emoji"
// @Success 200 {object} response.Response
// @Router /api/v1/stories/{story_id}/reactions [put]
func (h *Handler) React(c *gin.Context) {
	var req reactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.storyService.React(c.Request.Context(), c.Param("story_id"), req.Emoji); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Unreact 撤销反应
// @Summary 撤销反应
// @Tags 互动
// @Security BearerAuth
// @Param story_id path string true "快拍ID"
// @Success 200 {object} response.Response
// @Router /api/v1/stories/{story_id}/reactions [delete]
func (h *Handler) Unreact(c *gin.Context) {
	if err := h.storyService.Unreact(c.Request.Context(), c.Param("story_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

type replyRequest struct {
	Text string `json:"text" binding:"required"`
}

// Reply 回复快拍
// @Summary 回复
// @Tags 互动
// @Security BearerAuth
// @Accept json
// @Param story_id path string true "快拍ID"
// @Param request body replyRequest true "回复内容"
// @Success 201 {object} response.Response{data=model.StoryReply}
// @Router /api/v1/stories/{story_id}/replies [post]
func (h *Handler) Reply(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	reply, err := h.storyService.Reply(c.Request.Context(), c.Param("story_id"), req.Text)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, reply)
}

// ListReplies 作者查看回复
// @Summary 回复列表
// @Tags 互动
// @Security BearerAuth
// @Param story_id path string true "快拍ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=pageResult}
// @Router /api/v1/stories/{story_id}/replies [get]
func (h *Handler) ListReplies(c *gin.Context) {
	page, pageSize := pageParams(c)
	list, err := h.storyService.ListReplies(c.Request.Context(), c.Param("story_id"), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, pageResult{Page: page, PageSize: pageSize, List: list})
}
