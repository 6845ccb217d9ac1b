package saga

type State string

const (
	StateStarted         State = "STARTED"
	StateValidating      State = "VALIDATING"
	StateReserving       State = "RESERVING"
	StatePriced          State = "PRICED"
	StateOrderPersisted  State = "ORDER_PERSISTED"
	StateStockCommitted  State = "STOCK_COMMITTED"
	StateTrackingCreated State = "TRACKING_CREATED"
	StateCompensating    State = "COMPENSATING"
	StateCompleted       State = "COMPLETED"
	StateFailed          State = "FAILED"
)

// Nama state = step yang sedang berjalan (write-before-effect): crash di
// tengah step kebaca saat resume sebagai "step in progress, verifikasi ulang".
var validNext = map[State]map[State]bool{
	StateStarted:         {StateValidating: true, StateFailed: true}, // FAILED = cancel sebelum validasi
	StateValidating:      {StateReserving: true, StateFailed: true, StateCompensating: true},
	StateReserving:       {StatePriced: true, StateCompensating: true},
	StatePriced:          {StateOrderPersisted: true, StateCompensating: true},
	StateOrderPersisted:  {StateStockCommitted: true, StateCompensating: true},
	StateStockCommitted:  {StateTrackingCreated: true},
	StateTrackingCreated: {StateCompleted: true},
	StateCompensating:    {StateFailed: true},
	StateCompleted:       {},
	StateFailed:          {},
}

func CanTransition(from, to State) bool {
	return validNext[from][to]
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
