// models/response.go
package models

// Response is the envelope returned by every handler
type Response struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
