package fiberloop_test

import (
	"fmt"

	fiberloop "github.com/joeycumines/go-fiberloop"
)

// Example demonstrates the basic shape from the package doc comment: build a
// Reactor, schedule a fiber onto it, and let it run to completion.
func Example() {
	reactor, err := fiberloop.NewReactor(1, fiberloop.WithAutoStop(true))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer reactor.Close()

	done := make(chan struct{})
	reactor.Schedule(fiberloop.FiberTask(func(*fiberloop.Fiber) {
		fiberloop.SetHookEnabled(true)
		defer fiberloop.SetHookEnabled(false)
		fmt.Println("fiber running")
		close(done)
	}))
	reactor.Start()
	<-done
	reactor.Stop()
	reactor.Wait()

	// Output:
	// fiber running
}
