package model

// ProxyResponse is the uniform success envelope returned for every dispatch,
// regardless of the backend family. Exactly one of Database, Bucket, or
// Endpoint is populated depending on the connector type.
type ProxyResponse struct {
	Status         string          `json:"status"`
	ProxyType      ProxyType       `json:"proxy_type"`
	Database       string          `json:"database,omitempty"`
	Bucket         string          `json:"bucket,omitempty"`
	Endpoint       string          `json:"endpoint,omitempty"`
	Query          string          `json:"query,omitempty"`
	RowCount       int             `json:"row_count"`
	Data           interface{}     `json:"data"`
	ConnectionInfo *ConnectionInfo `json:"connection_info,omitempty"`
}

// ConnectionInfo surfaces non-secret operational metadata so clients can
// debug where the gateway is routing them. Credentials never appear here.
type ConnectionInfo struct {
	ProxyHost string `json:"proxy_host"`
	ProxyPort int    `json:"proxy_port,omitempty"`
	Note      string `json:"note,omitempty"`
}

// ErrorResponse is the uniform failure envelope. ErrorCode carries the
// machine-readable taxonomy kind; IsResumable signals that the caller may
// safely retry (backend connectivity failures only).
type ErrorResponse struct {
	ErrorCode   string                 `json:"error_code"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	IsResumable bool                   `json:"is_resumable,omitempty"`
}
