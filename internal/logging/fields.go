package logging

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Connection
	FieldConnID     = "conn_id"
	FieldRemoteAddr = "remote_addr"
	FieldUsername   = "username"
	FieldEvent      = "event"

	FieldService = "service"
	FieldModule  = "module"

	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
