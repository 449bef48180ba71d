package billing

import (
	"errors"
	"testing"

	"workspace-agent-backend/pkg/database"
)

func TestCreateDraftComputesTax(t *testing.T) {
	svc := NewService(database.NewLocalDatabase())
	inv, err := svc.CreateDraft(1, "member@acme.io", "ACME Ltd", "123-45-67890", 1000000, 0, nil)
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	if inv.TaxAmount != 100000 {
		t.Errorf("tax = %v, want 100000 (default 10%%)", inv.TaxAmount)
	}
	if inv.TotalAmount != 1100000 {
		t.Errorf("total = %v, want 1100000", inv.TotalAmount)
	}
	if inv.Status != "draft" {
		t.Errorf("status = %s, want draft", inv.Status)
	}
}

func TestCreateDraftValidation(t *testing.T) {
	svc := NewService(database.NewLocalDatabase())
	if _, err := svc.CreateDraft(1, "m@a.io", "", "", 1000, 0.1, nil); !errors.Is(err, ErrInvalidInvoice) {
		t.Errorf("empty customer: got %v", err)
	}
	if _, err := svc.CreateDraft(1, "m@a.io", "ACME", "", 0, 0.1, nil); !errors.Is(err, ErrInvalidInvoice) {
		t.Errorf("zero amount: got %v", err)
	}
}

func TestIssueExactlyOnce(t *testing.T) {
	svc := NewService(database.NewLocalDatabase())
	inv, _ := svc.CreateDraft(1, "member@acme.io", "ACME Ltd", "", 1000, 0.1, nil)

	issued, err := svc.Issue(1, inv.ID, "admin@acme.io")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.Status != "issued" {
		t.Errorf("status = %s, want issued", issued.Status)
	}
	if issued.Metadata["issued_by"] != "admin@acme.io" {
		t.Errorf("issued_by = %v", issued.Metadata["issued_by"])
	}
	if issued.Metadata["issued_via"] != "barobill-ready-adapter" {
		t.Errorf("issued_via = %v", issued.Metadata["issued_via"])
	}

	if _, err := svc.Issue(1, inv.ID, "other@acme.io"); !errors.Is(err, ErrAlreadyIssued) {
		t.Errorf("second issue: got %v, want ErrAlreadyIssued", err)
	}
	// first issuer stands
	final, _ := svc.Get(1, inv.ID)
	if final.Metadata["issued_by"] != "admin@acme.io" {
		t.Errorf("issued_by overwritten: %v", final.Metadata["issued_by"])
	}
}

func TestIssueUnknownInvoice(t *testing.T) {
	svc := NewService(database.NewLocalDatabase())
	if _, err := svc.Issue(1, 999, "admin@acme.io"); !errors.Is(err, ErrInvoiceNotFound) {
		t.Errorf("got %v, want ErrInvoiceNotFound", err)
	}
}
