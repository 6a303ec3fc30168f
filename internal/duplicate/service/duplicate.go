package service

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/timxs/storage-toolkit/internal/duplicate/biz"
	"github.com/timxs/storage-toolkit/internal/pkg/logger"
	"github.com/timxs/storage-toolkit/internal/pkg/response"
	"github.com/timxs/storage-toolkit/internal/status"
)

// DuplicateService 重复附件 HTTP 服务
type DuplicateService struct {
	dupUseCase *biz.DuplicateUseCase
	logger     *logger.Logger
}

// NewDuplicateService 创建重复附件服务
func NewDuplicateService(dupUseCase *biz.DuplicateUseCase, log *logger.Logger) *DuplicateService {
	return &DuplicateService{
		dupUseCase: dupUseCase,
		logger:     log,
	}
}

// RegisterRoutes 注册路由
func (s *DuplicateService) RegisterRoutes(rg *gin.RouterGroup) {
	dups := rg.Group("/duplicates")
	{
		dups.POST("/scan", s.StartScan)
		dups.GET("/status", s.GetStatus)
		dups.GET("", s.ListGroups)
		dups.DELETE("", s.ClearAll)
	}
}

// ScanStatusResponse 重复扫描状态响应。
// ScannedCount/TotalCount 是进行中扫描的内存进度，不落库
type ScanStatusResponse struct {
	Phase               string     `json:"phase"`
	StartTime           *time.Time `json:"startTime,omitempty"`
	LastScanTime        *time.Time `json:"lastScanTime,omitempty"`
	ErrorMessage        string     `json:"errorMessage,omitempty"`
	ScannedCount        int64      `json:"scannedCount"`
	TotalCount          int64      `json:"totalCount"`
	DuplicateGroupCount int64      `json:"duplicateGroupCount"`
	DuplicateFileCount  int64      `json:"duplicateFileCount"`
	SavableSize         int64      `json:"savableSize"`
}

func (s *DuplicateService) toStatusResponse(st *status.Status) *ScanStatusResponse {
	resp := &ScanStatusResponse{
		Phase:               st.Phase,
		StartTime:           st.StartTime,
		LastScanTime:        st.LastScanTime,
		ErrorMessage:        st.ErrorMessage,
		DuplicateGroupCount: st.Stats[status.StatGroupCount],
		DuplicateFileCount:  st.Stats[status.StatDuplicateFileCount],
		SavableSize:         st.Stats[status.StatSavableSize],
	}
	if st.Phase == status.PhaseScanning {
		resp.ScannedCount, resp.TotalCount = s.dupUseCase.Progress()
	}
	return resp
}

// MemberResponse 重复组成员响应
type MemberResponse struct {
	AssetID        string    `json:"assetId"`
	DisplayName    string    `json:"displayName"`
	MediaType      string    `json:"mediaType"`
	Permalink      string    `json:"permalink"`
	Size           int64     `json:"size"`
	UploadedAt     time.Time `json:"uploadedAt"`
	ReferenceCount int       `json:"referenceCount"` // -1 表示尚无引用扫描数据
}

// GroupResponse 重复组响应
type GroupResponse struct {
	ID              string           `json:"id"`
	Digest          string           `json:"digest"`
	FileSize        int64            `json:"fileSize"`
	FileCount       int              `json:"fileCount"`
	SavableSize     int64            `json:"savableSize"`
	RecommendedKeep string           `json:"recommendedKeep"`
	Members         []MemberResponse `json:"members"`
}

func toGroupResponse(view *biz.GroupView) *GroupResponse {
	members := make([]MemberResponse, len(view.Members))
	for i, m := range view.Members {
		members[i] = MemberResponse{
			AssetID:        m.AssetID,
			DisplayName:    m.DisplayName,
			MediaType:      m.MediaType,
			Permalink:      m.Permalink,
			Size:           m.Size,
			UploadedAt:     m.UploadedAt,
			ReferenceCount: m.ReferenceCount,
		}
	}
	return &GroupResponse{
		ID:              view.ID,
		Digest:          view.Digest,
		FileSize:        view.FileSize,
		FileCount:       view.FileCount,
		SavableSize:     view.SavableSize,
		RecommendedKeep: view.RecommendedKeep,
		Members:         members,
	}
}

// StartScan 发起重复检测
func (s *DuplicateService) StartScan(c *gin.Context) {
	st, err := s.dupUseCase.StartScan(c.Request.Context())
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, s.toStatusResponse(st))
}

// GetStatus 查询重复扫描状态
func (s *DuplicateService) GetStatus(c *gin.Context) {
	st, err := s.dupUseCase.GetStatus(c.Request.Context())
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, s.toStatusResponse(st))
}

// ListGroupsRequest 重复组列表查询参数
type ListGroupsRequest struct {
	Page int `form:"page"`
	Size int `form:"size"`
}

// ListGroups 分页查询重复组，按可回收空间降序
func (s *DuplicateService) ListGroups(c *gin.Context) {
	var req ListGroupsRequest
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

	views, total, err := s.dupUseCase.ListGroups(c.Request.Context(), req.Page, req.Size)
	if err != nil {
		response.HandleError(c, err)
		return
	}

	items := make([]*GroupResponse, len(views))
	for i, view := range views {
		items[i] = toGroupResponse(view)
	}
	response.Success(c, &response.PageResult{
		Page:  req.Page,
		Size:  req.Size,
		Total: total,
		Items: items,
	})
}

// ClearAll 清空重复检测数据
func (s *DuplicateService) ClearAll(c *gin.Context) {
	if err := s.dupUseCase.ClearAll(c.Request.Context()); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}
