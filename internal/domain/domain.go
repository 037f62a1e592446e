package domain

import (
	"strconv"
	"strings"
	"time"
)

// Providers known to the platform.
const (
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
)

// Contract roles. A role label on an issue must match one of these.
const (
	RoleDEV  = "DEV"
	RoleREV  = "REV"
	RoleQA   = "QA"
	RoleARCH = "ARCH"
	RolePO   = "PO"
)

// Roles lists the role labels in their canonical order.
var Roles = []string{RoleDEV, RoleREV, RoleQA, RoleARCH, RolePO}

// ParseRole matches a label name against the known roles, case-insensitively.
func ParseRole(label string) (string, bool) {
	l := strings.TrimSpace(label)
	for _, r := range Roles {
		if strings.EqualFold(l, r) {
			return r, true
		}
	}
	return "", false
}

// FakePaymentPrefix marks sandbox transactions that never get a platform invoice.
const FakePaymentPrefix = "fake_payment_"

// IsFakePayment reports whether transactionID belongs to a sandbox payment.
func IsFakePayment(transactionID string) bool {
	return strings.HasPrefix(transactionID, FakePaymentPrefix)
}

type User struct {
	Username    string   `json:"username"`
	Provider    string   `json:"provider"`
	Email       string   `json:"email,omitempty"`
	Credentials []string `json:"credentials,omitempty"`
}

type Contributor struct {
	Username    string `json:"username"`
	Provider    string `json:"provider"`
	BillingInfo string `json:"billing_info,omitempty"`
}

// ProjectID identifies a repository on a provider.
type ProjectID struct {
	RepoFullName string `json:"repo_full_name"`
	Provider     string `json:"provider"`
}

func (p ProjectID) String() string { return p.Provider + ":" + p.RepoFullName }

type Project struct {
	RepoFullName  string    `json:"repo_full_name"`
	Provider      string    `json:"provider"`
	OwnerUsername string    `json:"owner"`
	WebhookToken  string    `json:"-"`
	BillingInfo   string    `json:"billing_info,omitempty"`
	CreatedAt     time.Time `json:"created_at" format:"date-time"`
}

func (p Project) ID() ProjectID {
	return ProjectID{RepoFullName: p.RepoFullName, Provider: p.Provider}
}

// ContractID is the unique key of a contract.
type ContractID struct {
	RepoFullName string `json:"repo_full_name"`
	Username     string `json:"username"`
	Provider     string `json:"provider"`
	Role         string `json:"role"`
}

func (c ContractID) String() string {
	return c.Provider + ":" + c.RepoFullName + ":" + c.Username + ":" + c.Role
}

func (c ContractID) Project() ProjectID {
	return ProjectID{RepoFullName: c.RepoFullName, Provider: c.Provider}
}

type Contract struct {
	ID               ContractID `json:"id"`
	HourlyRate       int64      `json:"hourly_rate"`
	MarkedForRemoval *time.Time `json:"marked_for_removal,omitempty" format:"date-time"`
	CreatedAt        time.Time  `json:"created_at" format:"date-time"`
}

// TaskID identifies an issue lifted from a provider.
type TaskID struct {
	IssueID      string `json:"issue_id"`
	RepoFullName string `json:"repo_full_name"`
	Provider     string `json:"provider"`
}

func (t TaskID) String() string {
	return t.Provider + ":" + t.RepoFullName + "#" + t.IssueID
}

func (t TaskID) Project() ProjectID {
	return ProjectID{RepoFullName: t.RepoFullName, Provider: t.Provider}
}

// TaskState is derived from the assignee and closing time.
type TaskState string

const (
	TaskOpen     TaskState = "open"
	TaskAssigned TaskState = "assigned"
	TaskClosed   TaskState = "closed"
)

type Task struct {
	ID             TaskID     `json:"id"`
	Title          string     `json:"title,omitempty"`
	Role           string     `json:"role"`
	Estimation     int        `json:"estimation_minutes"`
	Assignee       *string    `json:"assignee,omitempty"`
	AssignmentDate *time.Time `json:"assignment_date,omitempty" format:"date-time"`
	Deadline       *time.Time `json:"deadline,omitempty" format:"date-time"`
	ClosedAt       *time.Time `json:"closed_at,omitempty" format:"date-time"`
	CreatedAt      time.Time  `json:"created_at" format:"date-time"`
}

func (t Task) State() TaskState {
	switch {
	case t.ClosedAt != nil:
		return TaskClosed
	case t.Assignee != nil:
		return TaskAssigned
	default:
		return TaskOpen
	}
}

// ContractID derives the contract an assigned task is billed under.
func (t Task) ContractID() (ContractID, bool) {
	if t.Assignee == nil {
		return ContractID{}, false
	}
	return ContractID{
		RepoFullName: t.ID.RepoFullName,
		Username:     *t.Assignee,
		Provider:     t.ID.Provider,
		Role:         t.Role,
	}, true
}

// Overdue reports whether an assigned task passed its deadline at now.
func (t Task) Overdue(now time.Time) bool {
	return t.State() == TaskAssigned && t.Deadline != nil && t.Deadline.Before(now)
}

type Invoice struct {
	ID            int64      `json:"id"`
	Contract      ContractID `json:"contract"`
	CreatedAt     time.Time  `json:"created_at" format:"date-time"`
	PaymentTime   *time.Time `json:"payment_time,omitempty" format:"date-time"`
	TransactionID *string    `json:"transaction_id,omitempty"`
	BilledBy      string     `json:"billed_by,omitempty"`
	BilledTo      string     `json:"billed_to,omitempty"`
	Currency      string     `json:"currency"`
}

func (i Invoice) IsPaid() bool {
	return i.PaymentTime != nil && i.TransactionID != nil
}

// Number is the printable invoice identifier.
func (i Invoice) Number() string {
	return "SLFX-" + strconv.FormatInt(i.ID, 10)
}

// InvoicedTask is the snapshot of a task taken when it joined an invoice.
type InvoicedTask struct {
	InvoiceID         int64     `json:"invoice_id"`
	Task              TaskID    `json:"task"`
	Username          string    `json:"username"`
	Role              string    `json:"role"`
	EstimationMinutes int       `json:"estimation_minutes"`
	Value             int64     `json:"value"`
	Commission        int64     `json:"commission"`
	InvoicedAt        time.Time `json:"invoiced_at" format:"date-time"`
}

func (it InvoicedTask) TotalAmount() int64 { return it.Value + it.Commission }

// ContractID derives the contract of the snapshot.
func (it InvoicedTask) ContractID() ContractID {
	return ContractID{
		RepoFullName: it.Task.RepoFullName,
		Username:     it.Username,
		Provider:     it.Task.Provider,
		Role:         it.Role,
	}
}

// Wallet types.
const (
	WalletFake   = "FAKE"
	WalletStripe = "STRIPE"
)

type Wallet struct {
	Project      ProjectID `json:"project"`
	Type         string    `json:"type"`
	CashLimit    int64     `json:"cash_limit"`
	Currency     string    `json:"currency"`
	CommissionBP int64     `json:"commission_bp"`
	Active       bool      `json:"active"`
	Identifier   string    `json:"identifier,omitempty"`
}

type PlatformInvoice struct {
	ID            int64     `json:"id"`
	InvoiceID     int64     `json:"invoice_id"`
	TransactionID string    `json:"transaction_id"`
	PaymentTime   time.Time `json:"payment_time" format:"date-time"`
	BilledTo      string    `json:"billed_to"`
	Commission    int64     `json:"commission"`
	TotalAmount   int64     `json:"total_amount"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Label is a provider issue label with its raw JSON.
type Label struct {
	Name string `json:"name"`
	JSON string `json:"-"`
}

// IssueSnapshot is an issue as read from a provider.
type IssueSnapshot struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Body     string  `json:"body,omitempty"`
	Labels   []Label `json:"labels,omitempty"`
	Assignee string  `json:"assignee,omitempty"`
	State    string  `json:"state"`
}

// Role returns the first role label on the issue.
func (i IssueSnapshot) Role() (string, bool) {
	for _, l := range i.Labels {
		if r, ok := ParseRole(l.Name); ok {
			return r, true
		}
	}
	return "", false
}

// InvoiceView is a read-only invoice with its tasks and resolved parties.
type InvoiceView struct {
	Invoice  Invoice          `json:"invoice"`
	Number   string           `json:"number"`
	BilledBy string           `json:"billed_by"`
	BilledTo string           `json:"billed_to"`
	Tasks    []InvoicedTask   `json:"tasks"`
	Platform *PlatformInvoice `json:"platform_invoice,omitempty"`
}

// Amount is the sum of task values.
func (v InvoiceView) Amount() int64 {
	var sum int64
	for _, t := range v.Tasks {
		sum += t.Value
	}
	return sum
}

// Commission is the sum of task commissions.
func (v InvoiceView) Commission() int64 {
	var sum int64
	for _, t := range v.Tasks {
		sum += t.Commission
	}
	return sum
}

func (v InvoiceView) TotalAmount() int64 { return v.Amount() + v.Commission() }

// ContractSummary is a contract with its invoice aggregates.
type ContractSummary struct {
	Contract
	Revenue  int64 `json:"revenue"`
	Value    int64 `json:"value"`
	Invoiced int64 `json:"invoiced"`
}
