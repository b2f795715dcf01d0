package api

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/zplc/zplc-core/debugchan"
	"github.com/zplc/zplc-core/scheduler"
)

// handleLoadProgram handles POST /api/v1/program: loads a ZPLC
// container file (spec §4.3) and registers one task slot per parsed
// TaskDef via Scheduler.Load.
func (s *Server) handleLoadProgram(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodPost) {
		return
	}
	body := http.MaxBytesReader(w, r.Body, 16<<20) // 16MB limit
	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}

	n, err := s.sched.Load(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, LoadProgramResponse{Success: false, TasksLoaded: n, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, LoadProgramResponse{Success: true, TasksLoaded: n})
}

// handleTasks handles POST /api/v1/tasks (register a single task
// directly, spec §4.4 register_task) and GET /api/v1/tasks (list all
// task slots and their live statistics).
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleRegisterTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRegisterTask(w http.ResponseWriter, r *http.Request) {
	var req RegisterTaskRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	code, err := hex.DecodeString(req.CodeHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid code_hex: %v", err))
		return
	}

	def := scheduler.TaskDef{ID: req.ID, Type: req.Type, Priority: req.Priority, IntervalUS: req.IntervalUS, StackSize: req.StackSize}
	handle, err := s.sched.RegisterTask(def, code)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, RegisterTaskResponse{Handle: handle})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	stats := s.sched.Stats()
	tasks := make([]TaskInfo, 0, stats.TaskCount)
	for id, st := range stats.SlotStats {
		tasks = append(tasks, TaskInfo{
			ID:           id,
			State:        stats.SlotStates[id].String(),
			CycleCount:   st.CycleCount,
			OverrunCount: st.OverrunCount,
			LastExecUs:   st.LastExecTimeUs,
			MaxExecUs:    st.MaxExecTimeUs,
			AvgExecUs:    st.AvgExecTimeUs,
		})
	}
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: tasks})
}

// handleTaskRoute handles /api/v1/tasks/{handle}[/action].
func (s *Server) handleTaskRoute(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		writeError(w, http.StatusBadRequest, "task handle required")
		return
	}
	handle, err := strconv.Atoi(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "task handle must be numeric")
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetTask(w, r, handle)
		case http.MethodDelete:
			s.handleUnregisterTask(w, r, handle)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "reset":
		s.handleResetTask(w, r, handle)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown task action: %s", parts[1]))
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, handle int) {
	slot := s.sched.Task(handle)
	if slot == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	st := slot.Stats()
	writeJSON(w, http.StatusOK, TaskInfo{
		Handle:       handle,
		ID:           slot.ID(),
		Priority:     slot.Priority(),
		IntervalUS:   slot.IntervalUS(),
		State:        slot.State().String(),
		CycleCount:   st.CycleCount,
		OverrunCount: st.OverrunCount,
		LastExecUs:   st.LastExecTimeUs,
		MaxExecUs:    st.MaxExecTimeUs,
		AvgExecUs:    st.AvgExecTimeUs,
	})
}

func (s *Server) handleUnregisterTask(w http.ResponseWriter, r *http.Request, handle int) {
	if err := s.sched.UnregisterTask(handle); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "task unregistered"})
}

func (s *Server) handleResetTask(w http.ResponseWriter, r *http.Request, handle int) {
	if methodNotAllowed(w, r, http.MethodPost) {
		return
	}
	if err := s.sched.ResetSlot(handle); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "task reset"})
}

// handleLifecycle handles POST /api/v1/lifecycle/{init|start|stop|pause|resume|shutdown}.
func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodPost) {
		return
	}
	action := strings.TrimPrefix(r.URL.Path, "/api/v1/lifecycle/")

	var err error
	switch action {
	case "init":
		err = s.sched.Init()
	case "start":
		err = s.sched.Start()
	case "stop":
		err = s.sched.Stop()
	case "pause":
		err = s.sched.Pause()
	case "resume":
		err = s.sched.Resume()
	case "shutdown":
		err = s.sched.Shutdown()
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown lifecycle action: %s", action))
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: action})
}

// handleCommand handles POST /api/v1/command: the debug channel's
// command surface (spec §6), over HTTP instead of a local pipe.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodPost) {
		return
	}
	var req CommandRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	frame := s.debug.Dispatch(s.sched.DebugHandlers(), debugchan.Command{Name: req.Name, Args: req.Args})
	writeJSON(w, http.StatusOK, CommandResponse{Cmd: frame.Fields["cmd"].(string), Val: frame.Fields["val"]})
}

// handleMemory handles GET /api/v1/memory?address=0x2000&length=16: a
// hex dump of a Memory Plane range, for inspection tools that don't
// want to speak the debug frame stream.
func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	if methodNotAllowed(w, r, http.MethodGet) {
		return
	}
	query := r.URL.Query()
	address, err := parseHexOrDec(query.Get("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address parameter")
		return
	}
	length, err := strconv.ParseUint(query.Get("length"), 10, 16)
	if err != nil || length == 0 {
		writeError(w, http.StatusBadRequest, "invalid length parameter")
		return
	}
	const maxRead = 4096
	if length > maxRead {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("length too large (max %d)", maxRead))
		return
	}

	data, err := s.sched.ReadMemory(uint32(address), uint32(length))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, MemoryResponse{Address: uint32(address), DataHex: hex.EncodeToString(data), Length: uint32(length)})
}

func parseHexOrDec(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty address")
	}
	if len(s) > 2 && s[:2] == "0x" {
		return strconv.ParseUint(s[2:], 16, 32)
	}
	return strconv.ParseUint(s, 10, 32)
}
