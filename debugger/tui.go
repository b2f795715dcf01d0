package debugger

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/zplc/zplc-core/scheduler"
)

// TUI is the live console attached to a running scheduler: a task
// table, a memory hex view, a watch list, a tail of recent debug
// frames, and a command bar, refreshed when Run starts, after every
// command, and on Ctrl-L.
type TUI struct {
	Debugger *Debugger
	App      *tview.Application
	Pages    *tview.Pages

	MainLayout *tview.Flex
	LeftPanel  *tview.Flex
	RightPanel *tview.Flex

	TasksView   *tview.TextView
	MemoryView  *tview.TextView
	WatchView   *tview.TextView
	FrameView   *tview.TextView
	OutputView  *tview.TextView
	CommandLine *tview.InputField

	MemoryAddress uint32
}

// NewTUI builds a TUI bound to d, laid out and ready to Run.
func NewTUI(d *Debugger) *TUI {
	t := &TUI{
		Debugger: d,
		App:      tview.NewApplication(),
	}
	t.initializeViews()
	t.buildLayout()
	t.setupKeyBindings()
	return t
}

func (t *TUI) initializeViews() {
	t.TasksView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetWrap(false)
	t.TasksView.SetBorder(true).SetTitle(" Tasks ")

	t.MemoryView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetWrap(false)
	t.MemoryView.SetBorder(true).SetTitle(" Memory ")

	t.WatchView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetWrap(false)
	t.WatchView.SetBorder(true).SetTitle(" Watches ")

	t.FrameView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetWrap(false)
	t.FrameView.SetBorder(true).SetTitle(" Debug Frames ")

	t.OutputView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true).SetWrap(true)
	t.OutputView.SetBorder(true).SetTitle(" Output ")

	t.CommandLine = tview.NewInputField().SetLabel("> ").SetFieldWidth(0)
	t.CommandLine.SetBorder(true).SetTitle(" Command ")
	t.CommandLine.SetDoneFunc(t.handleCommand)
}

func (t *TUI) buildLayout() {
	t.LeftPanel = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.TasksView, 0, 1, false).
		AddItem(t.MemoryView, 0, 1, false)

	t.RightPanel = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.WatchView, 0, 1, false).
		AddItem(t.FrameView, 0, 2, false)

	mainContent := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(t.LeftPanel, 0, 1, false).
		AddItem(t.RightPanel, 0, 1, false)

	t.MainLayout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(mainContent, 0, 4, false).
		AddItem(t.OutputView, 8, 0, false).
		AddItem(t.CommandLine, 3, 0, true)

	t.Pages = tview.NewPages().AddPage("main", t.MainLayout, true, true)
}

func (t *TUI) setupKeyBindings() {
	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			t.App.Stop()
			return nil
		case tcell.KeyCtrlL:
			t.RefreshAll()
			return nil
		}
		return event
	})
}

func (t *TUI) handleCommand(key tcell.Key) {
	if key != tcell.KeyEnter {
		return
	}
	cmd := t.CommandLine.GetText()
	if cmd == "" {
		return
	}
	t.executeCommand(cmd)
	t.CommandLine.SetText("")
}

func (t *TUI) executeCommand(cmd string) {
	if strings.EqualFold(strings.TrimSpace(cmd), "quit") || strings.EqualFold(strings.TrimSpace(cmd), "q") {
		t.App.Stop()
		return
	}

	err := t.Debugger.ExecuteCommand(cmd)
	output := t.Debugger.GetOutput()

	if err != nil {
		t.WriteOutput(fmt.Sprintf("[red]error:[white] %v\n", err))
	}
	if output != "" {
		t.WriteOutput(output)
	}
	t.RefreshAll()
}

// WriteOutput appends text to the output panel and scrolls to it.
func (t *TUI) WriteOutput(text string) {
	_, _ = t.OutputView.Write([]byte(text))
	t.OutputView.ScrollToEnd()
}

// RefreshAll redraws every panel from current scheduler/debug-channel
// state.
func (t *TUI) RefreshAll() {
	t.updateTasksView()
	t.updateMemoryView()
	t.updateWatchView()
	t.updateFrameView()
	t.App.Draw()
}

func (t *TUI) updateTasksView() {
	stats := t.Debugger.Sched.Stats()
	var lines []string
	lines = append(lines, fmt.Sprintf("[yellow]cycle %d, %d task(s)[white]", stats.CycleCount, stats.TaskCount))
	for id, st := range stats.SlotStats {
		state := stats.SlotStates[id]
		color := "green"
		if state == scheduler.SlotError {
			color = "red"
		}
		lines = append(lines, fmt.Sprintf("  task %-3d [%s]%-8s[white] cycles=%-6d overruns=%-4d last=%4dus max=%4dus",
			id, color, state, st.CycleCount, st.OverrunCount, st.LastExecTimeUs, st.MaxExecTimeUs))
	}
	t.TasksView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) updateMemoryView() {
	addr := t.MemoryAddress
	const rows, cols = 8, 16
	data, err := t.Debugger.Sched.ReadMemory(addr, rows*cols)
	if err != nil {
		t.MemoryView.SetText(fmt.Sprintf("[red]%v[white]", err))
		return
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("[yellow]0x%08X[white]", addr))
	for row := 0; row < rows; row++ {
		rowBytes := data[row*cols : (row+1)*cols]
		var hexParts []string
		var ascii []byte
		for _, b := range rowBytes {
			hexParts = append(hexParts, fmt.Sprintf("%02X", b))
			if b >= 32 && b < 127 {
				ascii = append(ascii, b)
			} else {
				ascii = append(ascii, '.')
			}
		}
		lines = append(lines, fmt.Sprintf("0x%08X: %s  %s", addr+uint32(row*cols), strings.Join(hexParts, " "), string(ascii)))
	}
	t.MemoryView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) updateWatchView() {
	var lines []string
	for _, w := range t.Debugger.Sched.Watches().List() {
		lines = append(lines, fmt.Sprintf("0x%08X = 0x%08X (hits: %d)", w.Addr, w.LastValue, w.HitCount))
	}
	if len(lines) == 0 {
		lines = append(lines, "[yellow]no watches set[white]")
	}
	t.WatchView.SetText(strings.Join(lines, "\n"))
}

func (t *TUI) updateFrameView() {
	frames := t.Debugger.Frames()
	var lines []string
	start := 0
	if len(frames) > 200 {
		start = len(frames) - 200
	}
	for _, f := range frames[start:] {
		lines = append(lines, fmt.Sprintf("[%s] %v", f.Tag, f.Fields))
	}
	t.FrameView.SetText(strings.Join(lines, "\n"))
	t.FrameView.ScrollToEnd()
}

// Run starts the TUI event loop, attaching to the debug channel first.
func (t *TUI) Run() error {
	t.Debugger.Attach()
	t.RefreshAll()
	t.WriteOutput("[green]ZPLC debug console[white]\n")
	t.WriteOutput("Type 'help' for the command list, 'quit' to exit\n\n")
	return t.App.SetRoot(t.Pages, true).SetFocus(t.CommandLine).Run()
}

// Stop stops the TUI event loop and detaches from the scheduler.
func (t *TUI) Stop() {
	t.Debugger.Detach()
	t.App.Stop()
}
