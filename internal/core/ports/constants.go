package ports

const (
	// BpsDenominator is the basis-point scale used by every rate in the engine.
	BpsDenominator = 10000

	// OrderRegistryCallerID identifies the settlement orchestrator on the
	// donation router's allow-list.
	OrderRegistryCallerID = "order-registry"
)
