package handler

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/media"
	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/service"
	"github.com/d60-Lab/storyline/internal/upload"
	"github.com/d60-Lab/storyline/pkg/response"
)

// CreateStory 上传媒体并发布快拍
// @Summary 发布快拍
// @Tags 快拍
// @Security BearerAuth
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "图片或视频"
// @Param caption formData string false "文案"
// @Param location formData string false "位置"
// @Param privacy formData string false "public | followers | close_friends | custom" default(public)
// @Param allow formData []string false "custom 可见名单"
// @Param deny formData []string false "屏蔽名单"
// @Param duration_hours formData int false "展示时长（小时）" default(24)
// @Param elements formData string false "互动贴纸 JSON 数组"
// @Param mentions formData []string false "提及的用户"
// @Success 201 {object} response.Response{data=model.Story}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /api/v1/stories [post]
func (h *Handler) CreateStory(c *gin.Context) {
	in, err := h.parseCreate(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	story, err := h.coordinator.CreateStory(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, story)
}

func (h *Handler) parseCreate(c *gin.Context) (upload.CreateOptions, error) {
	var in upload.CreateOptions
	fh, err := c.FormFile("file")
	if err != nil {
		return in, apperr.Validation("media file is required")
	}
	if fh.Size > h.maxUploadBytes {
		return in, apperr.Validation("file exceeds %d MB", h.maxUploadBytes>>20)
	}
	f, err := fh.Open()
	if err != nil {
		return in, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		return in, err
	}
	in.File = &media.File{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}

	if v, ok := c.GetPostForm("caption"); ok {
		in.Caption = &v
	}
	if v, ok := c.GetPostForm("location"); ok && strings.TrimSpace(v) != "" {
		in.Location = &v
	}
	in.Privacy = model.Privacy(c.PostForm("privacy"))
	in.Allow = formList(c, "allow")
	in.Deny = formList(c, "deny")
	in.Mentions = formList(c, "mentions")
	if v := c.PostForm("duration_hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			return in, apperr.Validation("duration_hours must be an integer")
		}
		in.DurationHours = hours
	}
	if v := c.PostForm("elements"); v != "" {
		if err := json.Unmarshal([]byte(v), &in.Elements); err != nil {
			return in, apperr.Validation("elements must be a JSON array")
		}
	}
	return in, nil
}

// formList 同时支持重复字段和逗号分隔
func formList(c *gin.Context, key string) []string {
	var out []string
	for _, v := range c.PostFormArray(key) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// GetStory 查看单条快拍
// @Summary 获取快拍
// @Tags 快拍
// @Security BearerAuth
// @Param story_id path string true "快拍ID"
// @Success 200 {object} response.Response{data=model.Story}
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/stories/{story_id} [get]
func (h *Handler) GetStory(c *gin.Context) {
	story, err := h.storyService.Get(c.Request.Context(), c.Param("story_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, story)
}

type updateStoryRequest struct {
	Caption *string        `json:"caption"`
	Privacy *model.Privacy `json:"privacy"`
	Allow   []string       `json:"allow"`
	Deny    []string       `json:"deny"`
}

// UpdateStory 作者修改文案或可见范围
// @Summary 修改快拍
// @Tags 快拍
// @Security BearerAuth
// @Accept json
// @Param story_id path string true "快拍ID"
// @Param request body updateStoryRequest true "修改内容"
// @Success 200 {object} response.Response{data=model.Story}
// @Failure 400 {object} response.Response
// @Failure 403 {object} response.Response
// @Router /api/v1/stories/{story_id} [patch]
func (h *Handler) UpdateStory(c *gin.Context) {
	var req updateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	story, err := h.storyService.Update(c.Request.Context(), c.Param("story_id"), service.UpdateInput{
		Caption: req.Caption,
		Privacy: req.Privacy,
		Allow:   req.Allow,
		Deny:    req.Deny,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, story)
}

// DeleteStory 作者删除快拍（软删除并归档）
// @Summary 删除快拍
// @Tags 快拍
// @Security BearerAuth
// @Param story_id path string true "快拍ID"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/stories/{story_id} [delete]
func (h *Handler) DeleteStory(c *gin.Context) {
	if err := h.storyService.Delete(c.Request.Context(), c.Param("story_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// ListUserStories 某作者对当前用户可见的在线快拍
// @Summary 作者的快拍
// @Tags 快拍
// @Security BearerAuth
// @Param user_id path string true "作者ID"
// @Success 200 {object} response.Response{data=[]model.Story}
// @Router /api/v1/users/{user_id}/stories [get]
func (h *Handler) ListUserStories(c *gin.Context) {
	list, err := h.storyService.ListUserStories(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

// ListFeed 当前用户的快拍流，按作者分组
// @Summary 快拍流
// @Tags 快拍
// @Security BearerAuth
// @Success 200 {object} response.Response{data=[]model.StoryGroup}
// @Router /api/v1/feed [get]
func (h *Handler) ListFeed(c *gin.Context) {
	groups, err := h.feedService.ListFeed(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, groups)
}
