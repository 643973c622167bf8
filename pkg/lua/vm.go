package lua

import (
	"fmt"
	"os"
	"sort"

	"github.com/Shopify/go-lua"
)

// VM is a sandboxed Lua state. It is not safe for concurrent use; scripted
// modes only touch it from the tick loop.
type VM struct {
	state   *lua.State
	timers  map[int]*Timer
	timerID int
	now     int64
}

// Timer calls a global function once its due tick is reached.
type Timer struct {
	ID       int
	Callback string
	Interval int64
	Repeat   bool
	Due      int64
	Args     []interface{}
}

func NewVM() *VM {
	state := lua.NewState()
	openSafeLibraries(state)
	return &VM{
		state:  state,
		timers: make(map[int]*Timer),
	}
}

func openSafeLibraries(state *lua.State) {
	lua.OpenLibraries(state)

	for _, name := range []string{"io", "os", "debug", "dofile", "loadfile", "require"} {
		state.PushNil()
		state.SetGlobal(name)
	}
}

func (vm *VM) LoadFile(path string) error {
	if err := lua.DoFile(vm.state, path); err != nil {
		return fmt.Errorf("failed to load lua file %s: %w", path, err)
	}
	return nil
}

func (vm *VM) LoadString(code string) error {
	if err := lua.DoString(vm.state, code); err != nil {
		return fmt.Errorf("failed to load lua string: %w", err)
	}
	return nil
}

func (vm *VM) Close() {
	vm.timers = make(map[int]*Timer)
}

// RegisterTimer schedules callback to run interval ticks from the last
// Advance. Intervals below one tick run on the next Advance.
func (vm *VM) RegisterTimer(callback string, interval int64, repeat bool, args ...interface{}) int {
	if interval < 1 {
		interval = 1
	}
	vm.timerID++
	vm.timers[vm.timerID] = &Timer{
		ID:       vm.timerID,
		Callback: callback,
		Interval: interval,
		Repeat:   repeat,
		Due:      vm.now + interval,
		Args:     args,
	}
	return vm.timerID
}

func (vm *VM) CancelTimer(id int) {
	delete(vm.timers, id)
}

func (vm *VM) PendingTimers() int {
	return len(vm.timers)
}

// Advance moves the VM clock to tick and fires due timers in ID order.
// The first failing callback stops the pass.
func (vm *VM) Advance(tick int64) error {
	vm.now = tick

	var due []*Timer
	for _, timer := range vm.timers {
		if timer.Due <= tick {
			due = append(due, timer)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })

	for _, timer := range due {
		if timer.Repeat {
			timer.Due = tick + timer.Interval
		} else {
			delete(vm.timers, timer.ID)
		}
		if err := vm.CallFunction(timer.Callback, timer.Args...); err != nil {
			return fmt.Errorf("timer callback %s failed: %w", timer.Callback, err)
		}
	}
	return nil
}

func (vm *VM) GetGlobalString(name string) (string, error) {
	vm.state.Global(name)
	if !vm.state.IsString(-1) {
		vm.state.Pop(1)
		return "", fmt.Errorf("global %s is not a string", name)
	}
	value, _ := vm.state.ToString(-1)
	vm.state.Pop(1)
	return value, nil
}

func (vm *VM) GetGlobalNumber(name string) (float64, error) {
	vm.state.Global(name)
	if !vm.state.IsNumber(-1) {
		vm.state.Pop(1)
		return 0, fmt.Errorf("global %s is not a number", name)
	}
	value, _ := vm.state.ToNumber(-1)
	vm.state.Pop(1)
	return value, nil
}

func (vm *VM) pushArgs(args []interface{}) error {
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			vm.state.PushString(v)
		case int:
			vm.state.PushInteger(v)
		case int64:
			vm.state.PushInteger(int(v))
		case float64:
			vm.state.PushNumber(v)
		case bool:
			vm.state.PushBoolean(v)
		case nil:
			vm.state.PushNil()
		default:
			return fmt.Errorf("unsupported argument type: %T", arg)
		}
	}
	return nil
}

func (vm *VM) CallFunction(name string, args ...interface{}) error {
	_, err := vm.CallFunctionWithReturn(name, 0, args...)
	return err
}

// CallFunctionWithReturn calls a global function and converts its results to
// string, float64, bool or nil.
func (vm *VM) CallFunctionWithReturn(name string, numReturns int, args ...interface{}) ([]interface{}, error) {
	top := vm.state.Top()
	vm.state.Global(name)
	if !vm.state.IsFunction(-1) {
		vm.state.SetTop(top)
		return nil, fmt.Errorf("global %s is not a function", name)
	}

	if err := vm.pushArgs(args); err != nil {
		vm.state.SetTop(top)
		return nil, err
	}

	if err := vm.state.ProtectedCall(len(args), numReturns, 0); err != nil {
		vm.state.SetTop(top)
		return nil, fmt.Errorf("[Lua Error] function %s: %w", name, err)
	}

	results := make([]interface{}, numReturns)
	for i := 0; i < numReturns; i++ {
		index := top + 1 + i
		switch {
		case vm.state.TypeOf(index) == lua.TypeNumber:
			value, _ := vm.state.ToNumber(index)
			results[i] = value
		case vm.state.IsString(index):
			value, _ := vm.state.ToString(index)
			results[i] = value
		case vm.state.IsBoolean(index):
			results[i] = vm.state.ToBoolean(index)
		}
	}
	vm.state.SetTop(top)

	return results, nil
}

func (vm *VM) HasFunction(name string) bool {
	vm.state.Global(name)
	isFunc := vm.state.IsFunction(-1)
	vm.state.Pop(1)
	return isFunc
}

func (vm *VM) RegisterFunction(name string, fn lua.Function) {
	vm.state.Register(name, fn)
}

func (vm *VM) State() *lua.State {
	return vm.state
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
