package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskValue(t *testing.T) {
	cases := []struct {
		rate    int64
		minutes int
		want    int64
	}{
		{6000, 30, 3000},
		{6000, 60, 6000},
		{0, 120, 0},
		{100, 1, 2},  // 1.666.. rounds up
		{90, 1, 2},   // 1.5 rounds to even 2
		{150, 1, 2},  // 2.5 rounds to even 2
		{210, 1, 4},  // 3.5 rounds to even 4
		{2500, 90, 3750},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, TaskValue(c.rate, c.minutes), "rate=%d minutes=%d", c.rate, c.minutes)
	}
}

func TestBasisPoints(t *testing.T) {
	assert.Equal(t, int64(300), BasisPoints(3000, 1000))
	assert.Equal(t, int64(0), BasisPoints(3000, 0))
	assert.Equal(t, int64(2), BasisPoints(25, 1000)) // 2.5 -> 2
	assert.Equal(t, int64(4), BasisPoints(35, 1000)) // 3.5 -> 4
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "33.00 EUR", FormatMoney(3300, ""))
	assert.Equal(t, "0.05 USD", FormatMoney(5, "usd"))
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole(" dev ")
	assert.True(t, ok)
	assert.Equal(t, RoleDEV, r)
	_, ok = ParseRole("bug")
	assert.False(t, ok)

	issue := IssueSnapshot{Labels: []Label{{Name: "bug"}, {Name: "Rev"}}}
	role, ok := issue.Role()
	assert.True(t, ok)
	assert.Equal(t, RoleREV, role)
}

func TestTaskStateAndContract(t *testing.T) {
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	task := Task{ID: TaskID{IssueID: "1", RepoFullName: "john/test", Provider: ProviderGitHub}, Role: RoleDEV}
	assert.Equal(t, TaskOpen, task.State())
	_, ok := task.ContractID()
	assert.False(t, ok)

	user := "mihai"
	deadline := now.Add(-time.Hour)
	task.Assignee = &user
	task.Deadline = &deadline
	assert.Equal(t, TaskAssigned, task.State())
	assert.True(t, task.Overdue(now))
	cid, ok := task.ContractID()
	assert.True(t, ok)
	assert.Equal(t, ContractID{RepoFullName: "john/test", Username: "mihai", Provider: ProviderGitHub, Role: RoleDEV}, cid)

	task.ClosedAt = &now
	assert.Equal(t, TaskClosed, task.State())
	assert.False(t, task.Overdue(now))
}

func TestInvoiceIsPaid(t *testing.T) {
	inv := Invoice{ID: 7}
	assert.False(t, inv.IsPaid())
	now := time.Now()
	inv.PaymentTime = &now
	assert.False(t, inv.IsPaid())
	tx := "ch_abc"
	inv.TransactionID = &tx
	assert.True(t, inv.IsPaid())
	assert.Equal(t, "SLFX-7", inv.Number())
	assert.True(t, IsFakePayment("fake_payment_1"))
	assert.False(t, IsFakePayment("ch_abc"))
}
