package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"workspace-agent-backend/pkg/models"
)

var (
	ErrNotFound          = errors.New("approval request not found")
	ErrAlreadyDecided    = errors.New("approval request already decided")
	ErrNotApproved       = errors.New("approval request is not approved")
	ErrWorkspaceMismatch = errors.New("approval request belongs to another workspace")
	ErrTypeMismatch      = errors.New("approval request has a different type")
)

// Store 审批存储的窄接口
type Store interface {
	CreateApproval(req *models.ApprovalRequest) error
	GetApproval(id int64) (*models.ApprovalRequest, error)
	ListApprovals(workspaceID int64, status string, limit int) ([]models.ApprovalRequest, error)
	DecideApproval(id int64, status models.ApprovalStatus, decidedBy, note string, decidedAt time.Time) (bool, error)
}

// Gate 人工审批闸门。每个请求只能被裁决一次，裁决竞争由存储层的
// 条件更新保证。
type Gate struct {
	store Store
	now   func() time.Time
}

func NewGate(store Store) *Gate {
	return &Gate{store: store, now: time.Now}
}

// CreateRequest 创建 pending 审批请求，payload 按 request_type 序列化存储
func (g *Gate) CreateRequest(workspaceID int64, requestType string, payload interface{}, requestedBy, reason string) (*models.ApprovalRequest, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode approval payload: %w", err)
	}

	req := &models.ApprovalRequest{
		WorkspaceID: workspaceID,
		RequestType: requestType,
		Payload:     raw,
		Reason:      reason,
		RequestedBy: requestedBy,
	}
	if err := g.store.CreateApproval(req); err != nil {
		return nil, err
	}
	return req, nil
}

// GetRequest 获取审批请求
func (g *Gate) GetRequest(id int64) (*models.ApprovalRequest, error) {
	req, err := g.store.GetApproval(id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	return req, nil
}

// ListRequests 审批收件箱
func (g *Gate) ListRequests(workspaceID int64, status string, limit int) ([]models.ApprovalRequest, error) {
	return g.store.ListApprovals(workspaceID, status, limit)
}

// Decide 裁决。两个并发裁决最多一个生效，落败方收到 ErrAlreadyDecided。
func (g *Gate) Decide(id int64, outcome models.ApprovalStatus, decidedBy, note string) (*models.ApprovalRequest, error) {
	if outcome != models.ApprovalApproved && outcome != models.ApprovalRejected {
		return nil, fmt.Errorf("invalid decision outcome: %s", outcome)
	}

	existing, err := g.store.GetApproval(id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrNotFound
	}

	hit, err := g.store.DecideApproval(id, outcome, decidedBy, note, g.now())
	if err != nil {
		return nil, err
	}
	if !hit {
		return nil, ErrAlreadyDecided
	}

	return g.GetRequest(id)
}

// EnsureApproved 续约校验：请求必须存在、属于该工作区、类型匹配且已批准
func (g *Gate) EnsureApproved(id, workspaceID int64, requestType string) (*models.ApprovalRequest, error) {
	req, err := g.store.GetApproval(id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrNotFound
	}
	if req.WorkspaceID != workspaceID {
		return nil, ErrWorkspaceMismatch
	}
	if req.RequestType != requestType {
		return nil, ErrTypeMismatch
	}
	if req.Status != models.ApprovalApproved {
		return nil, fmt.Errorf("%w: status is %s", ErrNotApproved, req.Status)
	}
	return req, nil
}
