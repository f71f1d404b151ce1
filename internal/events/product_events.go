package events

// Event types double as routing keys on the product exchange.
const (
	ProductStockUpdated            = "ProductStockUpdated"
	ProductStockCompensationFailed = "ProductStockCompensationFailed"
)

// StockAdjustedPayload follows a single stock adjustment.
type StockAdjustedPayload struct {
	ProductID   string `json:"productId"`
	NewQuantity int    `json:"newQuantity"`
}

// StockReservedPayload follows a committed reservation batch. The two
// slices are index aligned.
type StockReservedPayload struct {
	ProductIDs    []string `json:"productIds"`
	NewQuantities []int    `json:"newQuantities"`
}

// CompensationFailedPayload asks for quantity to be restored to a product
// after an in-line rollback could not do it.
type CompensationFailedPayload struct {
	ReservationID string `json:"reservationId"`
	ProductID     string `json:"productId"`
	Quantity      int    `json:"quantity"`
	Reason        string `json:"reason"`
}
