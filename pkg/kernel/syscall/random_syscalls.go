package syscall

import (
	"io"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/context"
)

// registerRandomSyscalls wires random_get (spec §4.2: "backed by a CSPRNG").
func registerRandomSyscalls(d *Dispatcher) {
	d.register(cloudabi.SysRandomGet, randomGet)
}

// randomGet: arg0 = buffer pointer, arg1 = length.
func randomGet(ctx context.Context, sc *Context, env *Env) cloudabi.Errno {
	length := sc.Frame.U64(1)
	buf := make([]byte, length)
	if _, err := io.ReadFull(env.Random, buf); err != nil {
		// A CSPRNG read failing is not a condition this kernel can recover
		// from meaningfully, same posture as proc.New's id generation.
		panic("syscall: random_get: " + err.Error())
	}
	return sc.Proc().Mem().WriteBytes(sc.Frame.Ptr(0), buf)
}
