package logging

import (
	"go.uber.org/zap"
)

// Field names shared by every component so log queries can join on them.
const (
	KeyExecutionID = "execution_id"
	KeyRequestID   = "request_id"
	KeyMode        = "mode"
	KeyCapability  = "capability"
)

// ExecutionID tags an entry with an execution ID
func ExecutionID(id string) zap.Field {
	return zap.String(KeyExecutionID, id)
}

// RequestID tags an entry with an HTTP request ID
func RequestID(id string) zap.Field {
	return zap.String(KeyRequestID, id)
}

// Mode tags an entry with an isolation mode
func Mode(mode string) zap.Field {
	return zap.String(KeyMode, mode)
}

// Capability tags an entry with a group.method pair
func Capability(group, method string) zap.Field {
	return zap.String(KeyCapability, group+"."+method)
}
