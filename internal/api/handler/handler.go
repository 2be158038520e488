package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/storyline/internal/service"
	"github.com/d60-Lab/storyline/internal/upload"
)

// Handler 聚合 HTTP 层依赖的服务
type Handler struct {
	storyService       service.StoryService
	feedService        service.FeedService
	interactiveService service.InteractiveService
	highlightService   service.HighlightService
	archiveService     *service.ArchiveService
	relService         service.RelationshipService
	coordinator        *upload.Coordinator
	maxUploadBytes     int64
}

// Services 构造 Handler 所需的全部服务
type Services struct {
	Stories       service.StoryService
	Feed          service.FeedService
	Interactive   service.InteractiveService
	Highlights    service.HighlightService
	Archive       *service.ArchiveService
	Relationships service.RelationshipService
	Coordinator   *upload.Coordinator
	// MaxUploadBytes 读取上传文件的上限，超出部分直接拒绝
	MaxUploadBytes int64
}

func NewHandler(s Services) *Handler {
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = upload.DefaultMaxUploadBytes
	}
	return &Handler{
		storyService:       s.Stories,
		feedService:        s.Feed,
		interactiveService: s.Interactive,
		highlightService:   s.Highlights,
		archiveService:     s.Archive,
		relService:         s.Relationships,
		coordinator:        s.Coordinator,
		maxUploadBytes:     s.MaxUploadBytes,
	}
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	return page, pageSize
}

type pageResult struct {
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	List     interface{} `json:"list"`
}
