package http

// APIResponse is the envelope every JSON endpoint answers with.
type APIResponse struct {
	Status  int    `json:"status" example:"200"`
	Message string `json:"message" example:"OK"`
	Data    any    `json:"data,omitempty"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Code    string         `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string         `json:"field,omitempty" example:"threshold"`
	Message string         `json:"message,omitempty" example:"threshold is required"`
	Params  map[string]any `json:"params,omitempty"`
}

// ListDataResponse is a page of rows plus the unpaged total.
type ListDataResponse struct {
	Rows  any   `json:"rows"`
	Total int64 `json:"total"`
}
