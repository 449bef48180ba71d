package billing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"workspace-agent-backend/pkg/models"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrAlreadyIssued   = errors.New("invoice already issued")
	ErrInvalidInvoice  = errors.New("invalid invoice input")
)

// issuedVia barobill 연동 전의 어댑터 식별자
const issuedVia = "barobill-ready-adapter"

// Store 发票存储的窄接口
type Store interface {
	CreateInvoice(inv *models.Invoice) error
	GetInvoice(workspaceID, invoiceID int64) (*models.Invoice, error)
	ListInvoices(workspaceID int64, limit int) ([]models.Invoice, error)
	IssueInvoice(workspaceID, invoiceID int64, metadata map[string]interface{}) (bool, error)
}

// Service 发票草稿与开具。开具的 draft→issued 迁移只会发生一次，
// 竞争由存储层条件更新裁决。
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// CreateDraft 创建 draft 发票。税额 = round(공급가액 * 세율, 2)。
func (s *Service) CreateDraft(workspaceID int64, createdBy, customer, businessNo string, supplyAmount, vatRate float64, metadata map[string]interface{}) (*models.Invoice, error) {
	customer = strings.TrimSpace(customer)
	if customer == "" {
		return nil, fmt.Errorf("%w: customer is required", ErrInvalidInvoice)
	}
	if supplyAmount <= 0 {
		return nil, fmt.Errorf("%w: supply_amount must be positive", ErrInvalidInvoice)
	}
	if vatRate <= 0 {
		vatRate = 0.1
	}

	tax := math.Round(supplyAmount*vatRate*100) / 100
	inv := &models.Invoice{
		WorkspaceID:  workspaceID,
		Customer:     customer,
		BusinessNo:   businessNo,
		SupplyAmount: supplyAmount,
		TaxAmount:    tax,
		TotalAmount:  supplyAmount + tax,
		Metadata:     metadata,
		CreatedBy:    createdBy,
	}
	if err := s.store.CreateInvoice(inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// Get 获取发票
func (s *Service) Get(workspaceID, invoiceID int64) (*models.Invoice, error) {
	inv, err := s.store.GetInvoice(workspaceID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInvoiceNotFound
	}
	return inv, nil
}

// List 列出发票
func (s *Service) List(workspaceID int64, limit int) ([]models.Invoice, error) {
	return s.store.ListInvoices(workspaceID, limit)
}

// Issue draft→issued，且只成功一次。metadata 增加 issued_by / issued_via。
func (s *Service) Issue(workspaceID, invoiceID int64, approver string) (*models.Invoice, error) {
	hit, err := s.store.IssueInvoice(workspaceID, invoiceID, map[string]interface{}{
		"issued_by":  approver,
		"issued_via": issuedVia,
	})
	if err != nil {
		return nil, err
	}
	if !hit {
		existing, err := s.store.GetInvoice(workspaceID, invoiceID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("%w: status is %s", ErrAlreadyIssued, existing.Status)
	}
	return s.Get(workspaceID, invoiceID)
}
