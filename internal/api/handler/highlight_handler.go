package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/storyline/pkg/response"
)

type highlightRequest struct {
	Title    string  `json:"title" binding:"required"`
	CoverURL *string `json:"cover_url"`
}

// CreateHighlight 新建精选集
// @Summary 新建精选集
// @Tags 精选集
// @Security BearerAuth
// @Accept json
// @Param request body highlightRequest true "标题和封面"
// @Success 201 {object} response.Response{data=model.Highlight}
// @Router /api/v1/highlights [post]
func (h *Handler) CreateHighlight(c *gin.Context) {
	var req highlightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	hl, err := h.highlightService.Create(c.Request.Context(), req.Title, req.CoverURL)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, hl)
}

// GetHighlight 精选集详情（按 position 排序的条目）
// @Summary 精选集详情
// @Tags 精选集
// @Security BearerAuth
// @Param highlight_id path string true "精选集ID"
// @Success 200 {object} response.Response{data=model.Highlight}
// @Router /api/v1/highlights/{highlight_id} [get]
func (h *Handler) GetHighlight(c *gin.Context) {
	hl, err := h.highlightService.Get(c.Request.Context(), c.Param("highlight_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, hl)
}

// ListHighlights 某用户的精选集
// @Summary 用户精选集
// @Tags 精选集
// @Security BearerAuth
// @Param user_id path string true "用户ID"
// @Success 200 {object} response.Response{data=[]model.Highlight}
// @Router /api/v1/users/{user_id}/highlights [get]
func (h *Handler) ListHighlights(c *gin.Context) {
	list, err := h.highlightService.List(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

// RenameHighlight 修改标题或封面
// @Summary 修改精选集
// @Tags 精选集
// @Security BearerAuth
// @Accept json
// @Param highlight_id path string true "精选集ID"
// @Param request body highlightRequest true "标题和封面"
// @Success 200 {object} response.Response
// @Router /api/v1/highlights/{highlight_id} [patch]
func (h *Handler) RenameHighlight(c *gin.Context) {
	var req highlightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.highlightService.Rename(c.Request.Context(), c.Param("highlight_id"), req.Title, req.CoverURL); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// DeleteHighlight 删除精选集，归档快照保留
// @Summary 删除精选集
// @Tags 精选集
// @Security BearerAuth
// @Param highlight_id path string true "精选集ID"
// @Success 200 {object} response.Response
// @Router /api/v1/highlights/{highlight_id} [delete]
func (h *Handler) DeleteHighlight(c *gin.Context) {
	if err := h.highlightService.Delete(c.Request.Context(), c.Param("highlight_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

type highlightItemRequest struct {
	StoryID   string `json:"story_id"`
	ArchiveID string `json:"archive_id"`
}

// AddHighlightItem 加入快拍（会先归档）或已有的归档快照
// @Summary 添加精选条目
// @Tags 精选集
// @Security BearerAuth
// @Accept json
// @Param highlight_id path string true "精选集ID"
// @Param request body highlightItemRequest true "story_id 或 archive_id 二选一"
// @Success 200 {object} response.Response
// @Router /api/v1/highlights/{highlight_id}/items [post]
func (h *Handler) AddHighlightItem(c *gin.Context) {
	var req highlightItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	id := c.Param("highlight_id")
	var err error
	switch {
	case req.StoryID != "" && req.ArchiveID == "":
		err = h.highlightService.AddStory(ctx, id, req.StoryID)
	case req.ArchiveID != "" && req.StoryID == "":
		err = h.highlightService.AddArchive(ctx, id, req.ArchiveID)
	default:
		response.BadRequest(c, "exactly one of story_id or archive_id is required")
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// RemoveHighlightItem 移除条目
// @Summary 移除精选条目
// @Tags 精选集
// @Security BearerAuth
// @Param highlight_id path string true "精选集ID"
// @Param archive_id path string true "归档ID"
// @Success 200 {object} response.Response
// @Router /api/v1/highlights/{highlight_id}/items/{archive_id} [delete]
func (h *Handler) RemoveHighlightItem(c *gin.Context) {
	if err := h.highlightService.RemoveItem(c.Request.Context(), c.Param("highlight_id"), c.Param("archive_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

type reorderRequest struct {
	ArchiveIDs []string `json:"archive_ids" binding:"required"`
}

// ReorderHighlight 按给定顺序重排全部条目
// @Summary 重排精选条目
// @Tags 精选集
// @Security BearerAuth
// @Accept json
// @Param highlight_id path string true "精选集ID"
// @Param request body reorderRequest true "新的顺序"
// @Success 200 {object} response.Response
// @Router /api/v1/highlights/{highlight_id}/order [put]
func (h *Handler) ReorderHighlight(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.highlightService.Reorder(c.Request.Context(), c.Param("highlight_id"), req.ArchiveIDs); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// ListArchive 当前用户的归档
// @Summary 我的归档
// @Tags 精选集
// @Security BearerAuth
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=pageResult}
// @Router /api/v1/archive [get]
func (h *Handler) ListArchive(c *gin.Context) {
	page, pageSize := pageParams(c)
	list, err := h.archiveService.ListArchive(c.Request.Context(), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, pageResult{Page: page, PageSize: pageSize, List: list})
}
