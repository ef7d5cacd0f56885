package sandbox

import "github.com/jkaninda/sandrun/internal/domain"

// run executes job on vm and always produces exactly one Message, whatever
// user code does short of exhausting the host.
func run(vm *VM, job Job) (msg Message) {
	defer func() {
		if r := recover(); r != nil {
			msg = failure(vm.recovered(r))
		}
		msg.Logs = vm.Logs()
	}()

	args, err := vm.Args(job.Args)
	if err != nil {
		return failure(err)
	}
	mod, err := vm.Load(job.Unit)
	if err != nil {
		return failure(err)
	}
	res, err := vm.Invoke(mod, job.FunctionName, args)
	if err != nil {
		return failure(err)
	}
	raw, err := vm.Marshal(res)
	if err != nil {
		return failure(err)
	}
	return Message{OK: true, Value: raw}
}

// RunJob executes job in a fresh VM on the calling goroutine. It is the
// body of every isolate; backends differ only in where it runs.
func RunJob(job Job) Message {
	vm, err := NewVM(job.Limits)
	if err != nil {
		return Message{Kind: domain.KindHost, Error: "creating isolate: " + err.Error()}
	}
	return run(vm, job)
}
