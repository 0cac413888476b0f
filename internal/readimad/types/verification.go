package types

type SerialRequest struct {
	SerialNumber string `json:"serial_number"`
}

type VerificationResult struct {
	SerialNumber string `json:"serial_number"`
	Key          string `json:"key"`
	Status       string `json:"status"`
	IsAuthentic  bool   `json:"is_authentic"`
	Message      string `json:"message"`
	ServerTime   string `json:"server_time"`
}

type RedemptionResult struct {
	SerialNumber string `json:"serial_number"`
	Key          string `json:"key"`
	Status       string `json:"status"`
	RedeemedAt   string `json:"redeemed_at"`
}
