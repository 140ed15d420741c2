/*
gating.go - Exam permission policy

PURPOSE:
  Decides whether a student may sit an exam period. The default rule is
  strict: the period must be fully paid. A registrar-granted waiver
  downgrades a refusal to CONDITIONAL admission; waivers are explicit and
  never inferred from balances.
*/
package accounts

// Waivers answers whether a student holds an exam waiver for a period.
// The zero policy has no waiver source and never grants CONDITIONAL.
type Waivers interface {
	HasWaiver(accountID string, period Period) bool
}

// GatingPolicy maps account state to exam permission.
type GatingPolicy struct {
	// Waivers is optional. When nil, unpaid periods are NOT_PERMITTED.
	Waivers Waivers
}

// ExamPermission evaluates the gate for one period:
//
//	period PAID                -> PERMITTED
//	unpaid, waiver on file     -> CONDITIONAL
//	unpaid, no waiver          -> NOT_PERMITTED
func (g GatingPolicy) ExamPermission(a *Account, period Period) ExamPermission {
	if a.PeriodStatus[period] == StatusPaid {
		return Permitted
	}
	if g.Waivers != nil && g.Waivers.HasWaiver(string(a.ID), period) {
		return Conditional
	}
	return NotPermitted
}
