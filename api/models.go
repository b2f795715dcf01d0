package api

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// SuccessResponse acknowledges a state-changing request that has no
// richer payload of its own.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	State       string `json:"state"`
	TaskCount   int    `json:"task_count"`
	Subscribers int    `json:"subscribers"`
}

// LoadProgramResponse is the body of POST /api/v1/program.
type LoadProgramResponse struct {
	Success     bool   `json:"success"`
	TasksLoaded int    `json:"tasks_loaded"`
	Error       string `json:"error,omitempty"`
}

// RegisterTaskRequest is the body of POST /api/v1/tasks.
type RegisterTaskRequest struct {
	ID         uint16 `json:"id"`
	Type       uint8  `json:"type"`
	Priority   uint8  `json:"priority"`
	IntervalUS uint32 `json:"interval_us"`
	StackSize  uint16 `json:"stack_size"`
	CodeHex    string `json:"code_hex"`
}

// RegisterTaskResponse is the body returned by a successful
// POST /api/v1/tasks.
type RegisterTaskResponse struct {
	Handle int `json:"handle"`
}

// TaskInfo describes one task slot for GET /api/v1/tasks[/{id}].
type TaskInfo struct {
	Handle        int    `json:"handle"`
	ID            uint16 `json:"id"`
	Priority      uint8  `json:"priority"`
	IntervalUS    uint32 `json:"interval_us"`
	State         string `json:"state"`
	CycleCount    uint64 `json:"cycle_count"`
	OverrunCount  uint64 `json:"overrun_count"`
	LastExecUs    uint32 `json:"last_exec_us"`
	MaxExecUs     uint32 `json:"max_exec_us"`
	AvgExecUs     uint32 `json:"avg_exec_us"`
}

// TaskListResponse is the body of GET /api/v1/tasks.
type TaskListResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

// MemoryResponse is the body of GET /api/v1/memory.
type MemoryResponse struct {
	Address uint32 `json:"address"`
	DataHex string `json:"data_hex"`
	Length  uint32 `json:"length"`
}

// CommandRequest is the body of POST /api/v1/command, mirroring
// debugchan.Command over the wire.
type CommandRequest struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// CommandResponse is the body returned for a dispatched command: the
// same ack frame the debug channel itself emits.
type CommandResponse struct {
	Cmd string      `json:"cmd"`
	Val interface{} `json:"val"`
}
