package service

import (
	"time"

	"github.com/gin-gonic/gin"

	contentbiz "github.com/timxs/storage-toolkit/internal/content/biz"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
	"github.com/timxs/storage-toolkit/internal/pkg/response"
	"github.com/timxs/storage-toolkit/internal/reference/biz"
	"github.com/timxs/storage-toolkit/internal/resolver"
	"github.com/timxs/storage-toolkit/internal/status"
)

// ReferenceService 附件引用 HTTP 服务
type ReferenceService struct {
	refUseCase *biz.ReferenceUseCase
	resolver   *resolver.Resolver
	logger     *logger.Logger
}

// NewReferenceService 创建附件引用服务
func NewReferenceService(refUseCase *biz.ReferenceUseCase, resolver *resolver.Resolver, log *logger.Logger) *ReferenceService {
	return &ReferenceService{
		refUseCase: refUseCase,
		resolver:   resolver,
		logger:     log,
	}
}

// RegisterRoutes 注册路由
func (s *ReferenceService) RegisterRoutes(rg *gin.RouterGroup) {
	refs := rg.Group("/references")
	{
		refs.POST("/scan", s.StartScan)
		refs.GET("/status", s.GetStatus)
		refs.GET("", s.ListReferences)
		refs.GET("/:assetId", s.GetReference)
		refs.PUT("/:assetId/sources/:sourceId", s.UpdateSource)
		refs.DELETE("", s.ClearAll)
	}
}

// ScanStatusResponse 引用扫描状态响应
type ScanStatusResponse struct {
	Phase             string     `json:"phase"`
	StartTime         *time.Time `json:"startTime,omitempty"`
	LastScanTime      *time.Time `json:"lastScanTime,omitempty"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	TotalAssets       int64      `json:"totalAssets"`
	ReferencedCount   int64      `json:"referencedCount"`
	UnreferencedCount int64      `json:"unreferencedCount"`
	UnreferencedSize  int64      `json:"unreferencedSize"`
}

func toStatusResponse(st *status.Status) *ScanStatusResponse {
	return &ScanStatusResponse{
		Phase:             st.Phase,
		StartTime:         st.StartTime,
		LastScanTime:      st.LastScanTime,
		ErrorMessage:      st.ErrorMessage,
		TotalAssets:       st.Stats[status.StatTotalAssets],
		ReferencedCount:   st.Stats[status.StatReferencedCount],
		UnreferencedCount: st.Stats[status.StatUnreferencedCount],
		UnreferencedSize:  st.Stats[status.StatUnreferencedSize],
	}
}

// RecordResponse 引用记录响应
type RecordResponse struct {
	AssetID        string              `json:"assetId"`
	DisplayName    string              `json:"displayName"`
	MediaType      string              `json:"mediaType"`
	Size           int64               `json:"size"`
	Permalink      string              `json:"permalink"`
	ReferenceCount int                 `json:"referenceCount"`
	Sources        []contentbiz.Source `json:"sources"`
	LastScannedAt  time.Time           `json:"lastScannedAt"`
}

func (s *ReferenceService) toRecordResponse(c *gin.Context, record *biz.Record, resolve bool) *RecordResponse {
	sources := record.Sources
	if resolve {
		sources = s.resolver.ResolveSources(c.Request.Context(), record.Sources)
	}
	return &RecordResponse{
		AssetID:        record.AssetID,
		DisplayName:    record.DisplayName,
		MediaType:      record.MediaType,
		Size:           record.Size,
		Permalink:      record.Permalink,
		ReferenceCount: record.ReferenceCount,
		Sources:        sources,
		LastScannedAt:  record.LastScannedAt,
	}
}

// StartScan 发起引用扫描
func (s *ReferenceService) StartScan(c *gin.Context) {
	st, err := s.refUseCase.StartScan(c.Request.Context())
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toStatusResponse(st))
}

// GetStatus 查询引用扫描状态
func (s *ReferenceService) GetStatus(c *gin.Context) {
	st, err := s.refUseCase.GetStatus(c.Request.Context())
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toStatusResponse(st))
}

// ListReferencesRequest 引用记录列表查询参数
type ListReferencesRequest struct {
	Keyword    string `form:"keyword"`
	SourceType string `form:"sourceType"`
	Sort       string `form:"sort"`
	Page       int    `form:"page"`
	Size       int    `form:"size"`
}

// ListReferences 分页查询引用记录
func (s *ReferenceService) ListReferences(c *gin.Context) {
	var req ListReferencesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if req.Page <= 0 {
		req.Page = 1
	}
	if req.Size <= 0 || req.Size > 100 {
		req.Size = 20
	}

	records, total, err := s.refUseCase.List(c.Request.Context(), &biz.ListQuery{
		Keyword:    req.Keyword,
		SourceType: req.SourceType,
		Sort:       req.Sort,
		Page:       req.Page,
		Size:       req.Size,
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}

	items := make([]*RecordResponse, len(records))
	for i, record := range records {
		// 列表不做标题解析，避免分页接口放大查询
		items[i] = s.toRecordResponse(c, record, false)
	}
	response.Success(c, &response.PageResult{
		Page:  req.Page,
		Size:  req.Size,
		Total: total,
		Items: items,
	})
}

// GetReference 查询单个附件的引用记录，来源标题就地解析
func (s *ReferenceService) GetReference(c *gin.Context) {
	record, err := s.refUseCase.Get(c.Request.Context(), c.Param("assetId"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, s.toRecordResponse(c, record, true))
}

// UpdateSourceRequest 来源标题更新请求
type UpdateSourceRequest struct {
	Title *string `json:"title"`
	URL   *string `json:"url"`
}

// UpdateSource 更新记录中某个来源的标题和链接
func (s *ReferenceService) UpdateSource(c *gin.Context) {
	var req UpdateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Title == nil && req.URL == nil {
		response.BadRequest(c, "either title or url must be provided")
		return
	}

	record, err := s.refUseCase.UpdateSource(
		c.Request.Context(),
		c.Param("assetId"),
		c.Param("sourceId"),
		req.Title,
		req.URL,
	)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, s.toRecordResponse(c, record, false))
}

// ClearAll 清空引用数据
func (s *ReferenceService) ClearAll(c *gin.Context) {
	if err := s.refUseCase.ClearAll(c.Request.Context()); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}
