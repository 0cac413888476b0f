package types

type RegisterBatchRequest struct {
	SerialNumbers []string `json:"serial_numbers"`
}

// Rejection explains why one serial in a batch was not registered.
// Index points into the request's serial_numbers.
type Rejection struct {
	Index  int    `json:"index"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

type BatchRegistrationReport struct {
	BatchID          string      `json:"batch_id"`
	Message          string      `json:"message"`
	Total            int         `json:"total"`
	Created          int         `json:"created"`
	AlreadyAuthentic int         `json:"already_authentic"`
	Rejected         int         `json:"rejected"`
	Unresolved       int         `json:"unresolved"`
	Rejections       []Rejection `json:"rejections,omitempty"`
	Keys             []string    `json:"keys"`
	ServerTime       string      `json:"server_time"`
}
