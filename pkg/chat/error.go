package chat

// ErrorResponse represents an error payload from the backend API.
type ErrorResponse struct {
	Error string `json:"error"`
}
