package rpc

import "github.com/pilosa/erpdk"

// ServiceName is the fully qualified gRPC service name of the resolution
// engine.
const ServiceName = "erpdk.Resolver"

// Full method names.
const (
	MethodAddRecord         = "/" + ServiceName + "/AddRecord"
	MethodGetRedoRecord     = "/" + ServiceName + "/GetRedoRecord"
	MethodProcessRedoRecord = "/" + ServiceName + "/ProcessRedoRecord"
)

// FlagWithInfo asks the engine to return the affected-entity document.
const FlagWithInfo int64 = 1 << 62

// AddRecordRequest submits one record for resolution.
type AddRecordRequest struct {
	DataSource string       `json:"data_source"`
	RecordID   string       `json:"record_id"`
	Record     erpdk.Record `json:"record"`
	Flags      int64        `json:"flags,omitempty"`
}

// GetRedoRecordRequest asks for the next unit of pending redo work.
type GetRedoRecordRequest struct{}

// GetRedoRecordResponse holds a redo unit. An empty RedoRecord means the
// backlog is empty.
type GetRedoRecordResponse struct {
	RedoRecord string `json:"redo_record"`
}

// ProcessRedoRecordRequest hands a redo unit back to the engine to process.
type ProcessRedoRecordRequest struct {
	RedoRecord string `json:"redo_record"`
	Flags      int64  `json:"flags,omitempty"`
}

// InfoResponse carries the engine's JSON info document, which is empty
// unless FlagWithInfo was set.
type InfoResponse struct {
	Result string `json:"result"`
}

func flags(withInfo bool) int64 {
	if withInfo {
		return FlagWithInfo
	}
	return 0
}
