package models

import "time"

// InvoiceStatus 税金计算书状态
type InvoiceStatus string

const (
	InvoiceDraft  InvoiceStatus = "draft"
	InvoiceIssued InvoiceStatus = "issued"
)

// Invoice 税金计算书（barobill 适配前的草稿/开具记录）
type Invoice struct {
	ID           int64                  `json:"id" db:"id"`
	WorkspaceID  int64                  `json:"workspace_id" db:"workspace_id"`
	Customer     string                 `json:"customer" db:"customer"`
	BusinessNo   string                 `json:"business_no,omitempty" db:"business_no"`
	SupplyAmount float64                `json:"supply_amount" db:"supply_amount"`
	TaxAmount    float64                `json:"tax_amount" db:"tax_amount"`
	TotalAmount  float64                `json:"total_amount" db:"total_amount"`
	Status       InvoiceStatus          `json:"status" db:"status"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedBy    string                 `json:"created_by" db:"created_by"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at" db:"updated_at"`
}

// CreateInvoiceRequest 创建发票草稿请求
type CreateInvoiceRequest struct {
	ActorEmail   string                 `json:"actor_email"`
	Customer     string                 `json:"customer"`
	BusinessNo   string                 `json:"business_no"`
	SupplyAmount float64                `json:"supply_amount"`
	VATRate      float64                `json:"vat_rate"`
	Metadata     map[string]interface{} `json:"metadata"`
}
