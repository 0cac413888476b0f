package types

type AuditEvent struct {
	Kind       string `json:"kind"`
	BatchID    string `json:"batch_id,omitempty"`
	Status     string `json:"status"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

type HistoryResponse struct {
	SerialNumber string       `json:"serial_number"`
	Key          string       `json:"key"`
	Events       []AuditEvent `json:"events"`
}
