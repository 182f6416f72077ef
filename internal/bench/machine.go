package bench

import (
	"github.com/tinyrange/rvbench/internal/rvm"
)

type rvmMachine struct {
	*rvm.Machine
}

func (m rvmMachine) Fingerprint() string {
	return m.Config().Hash().String()
}

// RVMFactory builds rvm machines with cfg and cost, installing a fresh
// handler from each constructor in order.
func RVMFactory(cfg rvm.Config, cost rvm.CostFunc, handlers ...func() rvm.Syscalls) Factory {
	return func() (Machine, error) {
		b := rvm.NewBuilder(cfg).InstructionCost(cost)
		for _, h := range handlers {
			b.Syscall(h())
		}
		m, err := b.Build()
		if err != nil {
			return nil, err
		}
		return rvmMachine{m}, nil
	}
}
