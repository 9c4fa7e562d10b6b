package usecases

import "dotpay.backend/internal/domain/entities"

// Per-flow fee schedule in basis points, with a KES floor.
const (
	feeBpsOnramp   = 130
	feeBpsOfframp  = 180
	feeBpsPaybill  = 120
	feeBpsBuygoods = 120
	feeBpsDefault  = 150

	feeFloorKes = 5.0

	// Network fee charged on funded flows; onramp pays none.
	networkFeeKes = 3.0
)

// feeBps returns the basis points for a flow.
func feeBps(flow entities.FlowType) int {
	switch flow {
	case entities.FlowOnramp:
		return feeBpsOnramp
	case entities.FlowOfframp:
		return feeBpsOfframp
	case entities.FlowPaybill:
		return feeBpsPaybill
	case entities.FlowBuygoods:
		return feeBpsBuygoods
	default:
		return feeBpsDefault
	}
}

// Idempotency key bounds.
const (
	idempotencyKeyMinLen = 8
	idempotencyKeyMaxLen = 128
)

// Reconciler defaults.
const (
	reconcileDefaultMaxAgeMinutes = 30
	reconcilePageSize             = 100
)

// Transition sources recorded in history entries.
const (
	sourceOrchestrator = "orchestrator"
	sourceWebhook      = "webhook"
	sourceRefund       = "refund"
	sourceSettler      = "settler"
	sourceReconciler   = "reconciler"
)
