package approval

import (
	"encoding/json"
	"errors"
	"testing"

	"workspace-agent-backend/pkg/database"
	"workspace-agent-backend/pkg/models"
)

func newGate() (*Gate, *database.LocalDatabase) {
	db := database.NewLocalDatabase()
	return NewGate(db), db
}

func TestCreateRequestStartsPending(t *testing.T) {
	gate, _ := newGate()
	req, err := gate.CreateRequest(1, models.RequestTypeAgentExecute,
		models.AgentExecutePayload{Instruction: "주간 보고서 작성"}, "member@acme.io", "agent execution requires approval")
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if req.Status != models.ApprovalPending {
		t.Errorf("status = %s, want pending", req.Status)
	}
	if req.ID == 0 {
		t.Error("id should be assigned")
	}

	var payload models.AgentExecutePayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Instruction != "주간 보고서 작성" {
		t.Errorf("payload instruction = %q", payload.Instruction)
	}
}

func TestDecideExactlyOnce(t *testing.T) {
	gate, _ := newGate()
	req, _ := gate.CreateRequest(1, models.RequestTypeAgentExecute, models.AgentExecutePayload{Instruction: "x"}, "member@acme.io", "")

	decided, err := gate.Decide(req.ID, models.ApprovalApproved, "admin@acme.io", "looks fine")
	if err != nil {
		t.Fatalf("first decide: %v", err)
	}
	if decided.Status != models.ApprovalApproved {
		t.Errorf("status = %s, want approved", decided.Status)
	}

	if _, err := gate.Decide(req.ID, models.ApprovalRejected, "admin2@acme.io", ""); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("second decide: got %v, want ErrAlreadyDecided", err)
	}

	// the first decision stands
	stored, _ := gate.GetRequest(req.ID)
	if stored.Status != models.ApprovalApproved || *stored.DecidedBy != "admin@acme.io" {
		t.Errorf("decision overwritten: %+v", stored)
	}
}

func TestDecideUnknownRequest(t *testing.T) {
	gate, _ := newGate()
	if _, err := gate.Decide(999, models.ApprovalApproved, "admin@acme.io", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDecideInvalidOutcome(t *testing.T) {
	gate, _ := newGate()
	req, _ := gate.CreateRequest(1, models.RequestTypeAgentExecute, nil, "member@acme.io", "")
	if _, err := gate.Decide(req.ID, models.ApprovalPending, "admin@acme.io", ""); err == nil {
		t.Error("deciding back to pending should fail")
	}
}

func TestEnsureApproved(t *testing.T) {
	gate, _ := newGate()
	req, _ := gate.CreateRequest(7, models.RequestTypeAgentExecute, models.AgentExecutePayload{Instruction: "x"}, "member@acme.io", "")

	if _, err := gate.EnsureApproved(req.ID, 7, models.RequestTypeAgentExecute); !errors.Is(err, ErrNotApproved) {
		t.Errorf("pending request: got %v, want ErrNotApproved", err)
	}

	if _, err := gate.Decide(req.ID, models.ApprovalApproved, "admin@acme.io", ""); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	if _, err := gate.EnsureApproved(req.ID, 7, models.RequestTypeAgentExecute); err != nil {
		t.Errorf("approved request: %v", err)
	}
	if _, err := gate.EnsureApproved(req.ID, 8, models.RequestTypeAgentExecute); !errors.Is(err, ErrWorkspaceMismatch) {
		t.Errorf("wrong workspace: got %v, want ErrWorkspaceMismatch", err)
	}
	if _, err := gate.EnsureApproved(req.ID, 7, models.RequestTypeInvoiceIssue); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("wrong type: got %v, want ErrTypeMismatch", err)
	}
	if _, err := gate.EnsureApproved(999, 7, models.RequestTypeAgentExecute); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: got %v, want ErrNotFound", err)
	}
}

func TestEnsureApprovedRejected(t *testing.T) {
	gate, _ := newGate()
	req, _ := gate.CreateRequest(1, models.RequestTypeInvoiceIssue, models.InvoiceIssuePayload{InvoiceID: 3}, "member@acme.io", "")
	if _, err := gate.Decide(req.ID, models.ApprovalRejected, "admin@acme.io", "not now"); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if _, err := gate.EnsureApproved(req.ID, 1, models.RequestTypeInvoiceIssue); !errors.Is(err, ErrNotApproved) {
		t.Errorf("rejected request: got %v, want ErrNotApproved", err)
	}
}

func TestListRequestsFiltersByStatus(t *testing.T) {
	gate, _ := newGate()
	a, _ := gate.CreateRequest(1, models.RequestTypeAgentExecute, nil, "member@acme.io", "")
	gate.CreateRequest(1, models.RequestTypeAgentExecute, nil, "member@acme.io", "")
	gate.CreateRequest(2, models.RequestTypeAgentExecute, nil, "member@acme.io", "")
	gate.Decide(a.ID, models.ApprovalApproved, "admin@acme.io", "")

	pending, err := gate.ListRequests(1, "pending", 0)
	if err != nil {
		t.Fatalf("ListRequests: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("len(pending) = %d, want 1", len(pending))
	}
	all, _ := gate.ListRequests(1, "", 0)
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}
}
