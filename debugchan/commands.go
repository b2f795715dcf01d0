package debugchan

import "fmt"

// Command is one request from the external command surface (spec §6:
// "set debug mode, get status, add/remove/clear watched memory
// addresses, reset VM").
type Command struct {
	Name string
	Args map[string]interface{}
}

// Handlers supplies the actual effects a Command triggers. Kept
// separate from Channel so this package never has to import vm/
// scheduler: whoever owns the runtime state (Scheduler, in practice)
// wires its own methods in here.
type Handlers struct {
	SetMode     func(Mode)
	GetStatus   func() map[string]interface{}
	WatchAdd    func(addr uint32) error
	WatchRemove func(addr uint32) error
	WatchClear  func() error
	ResetVM     func(taskID uint16) error
}

// Dispatch executes cmd against h and emits (always, regardless of
// mode) the resulting ack frame. Watch add/remove/clear succeed
// independent of the channel's mode — only a watch *hit* is
// mode-gated, via Emit(WatchFrame(...)) from the caller that detects
// the change.
func (c *Channel) Dispatch(h Handlers, cmd Command) Frame {
	val, err := dispatch(h, cmd)
	var frame Frame
	if err != nil {
		frame = AckFrame(cmd.Name, err.Error())
	} else {
		frame = AckFrame(cmd.Name, val)
	}
	c.EmitAlways(frame)
	return frame
}

func dispatch(h Handlers, cmd Command) (interface{}, error) {
	switch cmd.Name {
	case "set_mode":
		name, _ := cmd.Args["mode"].(string)
		mode, err := ParseMode(name)
		if err != nil {
			return nil, err
		}
		if h.SetMode == nil {
			return nil, fmt.Errorf("debugchan: set_mode not wired")
		}
		h.SetMode(mode)
		return mode.String(), nil

	case "get_status":
		if h.GetStatus == nil {
			return nil, fmt.Errorf("debugchan: get_status not wired")
		}
		return h.GetStatus(), nil

	case "watch_add":
		addr, err := argAddr(cmd)
		if err != nil {
			return nil, err
		}
		if h.WatchAdd == nil {
			return nil, fmt.Errorf("debugchan: watch_add not wired")
		}
		if err := h.WatchAdd(addr); err != nil {
			return nil, err
		}
		return addr, nil

	case "watch_remove":
		addr, err := argAddr(cmd)
		if err != nil {
			return nil, err
		}
		if h.WatchRemove == nil {
			return nil, fmt.Errorf("debugchan: watch_remove not wired")
		}
		if err := h.WatchRemove(addr); err != nil {
			return nil, err
		}
		return addr, nil

	case "watch_clear":
		if h.WatchClear == nil {
			return nil, fmt.Errorf("debugchan: watch_clear not wired")
		}
		if err := h.WatchClear(); err != nil {
			return nil, err
		}
		return nil, nil

	case "reset_vm":
		id, _ := cmd.Args["task_id"].(float64) // JSON numbers decode as float64
		if h.ResetVM == nil {
			return nil, fmt.Errorf("debugchan: reset_vm not wired")
		}
		if err := h.ResetVM(uint16(id)); err != nil {
			return nil, err
		}
		return uint16(id), nil

	default:
		return nil, fmt.Errorf("debugchan: unknown command %q", cmd.Name)
	}
}

func argAddr(cmd Command) (uint32, error) {
	switch v := cmd.Args["addr"].(type) {
	case float64:
		return uint32(v), nil
	case uint32:
		return v, nil
	case int:
		return uint32(v), nil
	default:
		return 0, fmt.Errorf("debugchan: command %q missing numeric addr", cmd.Name)
	}
}
