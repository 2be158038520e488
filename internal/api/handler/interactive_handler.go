package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/storyline/internal/interactive"
	"github.com/d60-Lab/storyline/pkg/response"
)

type respondRequest struct {
	OptionIndex *int    `json:"option_index"`
	Text        *string `json:"text"`
}

// Respond 投票或回答提问，再次作答覆盖
// @Summary 作答互动贴纸
// @Tags 互动贴纸
// @Security BearerAuth
// @Accept json
// @Param element_id path string true "贴纸ID"
// @Param request body respondRequest true "作答"
// @Success 200 {object} response.Response
// @Router /api/v1/elements/{element_id}/responses [put]
func (h *Handler) Respond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	err := h.interactiveService.Respond(c.Request.Context(), c.Param("element_id"),
		interactive.ResponseInput{OptionIndex: req.OptionIndex, Text: req.Text})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// PollResults 投票结果
// @Summary 投票结果
// @Tags 互动贴纸
// @Security BearerAuth
// @Param element_id path string true "贴纸ID"
// @Success 200 {object} response.Response{data=interactive.PollResult}
// @Router /api/v1/elements/{element_id}/results [get]
func (h *Handler) PollResults(c *gin.Context) {
	res, err := h.interactiveService.PollResults(c.Request.Context(), c.Param("element_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// ListResponses 作者查看作答明细
// @Summary 作答明细
// @Tags 互动贴纸
// @Security BearerAuth
// @Param element_id path string true "贴纸ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=pageResult}
// @Router /api/v1/elements/{element_id}/responses [get]
func (h *Handler) ListResponses(c *gin.Context) {
	page, pageSize := pageParams(c)
	list, err := h.interactiveService.ListResponses(c.Request.Context(), c.Param("element_id"), page, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, pageResult{Page: page, PageSize: pageSize, List: list})
}
