package logging

// AuditEvent records a ledger write submitted on behalf of the account.
type AuditEvent struct {
	Operation string // approve, deposit, claim, withdraw
	Account   string
	Target    string // spender address or position index
	TxHash    string
	Result    string // confirmed, pending, failed, rejected
	Details   string
}

// Audit logs a write operation at info level with an "audit" marker so the
// entries can be filtered out of the regular stream.
func Audit(event AuditEvent) {
	Logger().Info("audit",
		"audit", true,
		"operation", event.Operation,
		"account", event.Account,
		"target", event.Target,
		"tx_hash", event.TxHash,
		"result", event.Result,
		"details", event.Details,
	)
}
