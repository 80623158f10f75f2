package taskname

const (
	// Payment tasks
	PaymentReconcile  = "payment:reconcile"
	PaymentDistribute = "payment:distribute"

	// Entitlement tasks
	EntitlementSync = "entitlement:sync"
)
