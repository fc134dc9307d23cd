package models

// SelectRequest selects the stream a direction attaches to
type SelectRequest struct {
	Selector string `json:"selector" binding:"required"`
}

// SelectResponse reports the stream a direction was attached to
type SelectResponse struct {
	Direction Direction `json:"direction"`
	StreamID  string    `json:"streamId"`
}

// ErrorResponse is returned with every non-2xx API response
type ErrorResponse struct {
	Error string `json:"error"`
}
