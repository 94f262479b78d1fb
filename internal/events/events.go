package events

// Event types routed through the bookstore.events exchange
const (
	EventTypeSupplierNotice = "notification.supplier"
	EventTypeCustomerNotice = "notification.customer"
)

// SupplierNotice asks the notification gateway to tell a supplier that a
// purchase order was raised against them.
type SupplierNotice struct {
	Email           string `json:"email"`
	SupplierName    string `json:"supplier_name"`
	BookTitle       string `json:"book_title"`
	Quantity        int    `json:"quantity"`
	PurchaseOrderID int64  `json:"purchase_order_id"`
	Kind            string `json:"kind"` // shortage | restock
}

// CustomerNotice asks the notification gateway to tell a customer that their
// order changed state.
type CustomerNotice struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	OrderID  int64  `json:"order_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}
