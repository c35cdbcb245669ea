package taskqueue_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	taskqueue "github.com/monpro/distributed-task-queue"
)

func ExampleManager() {
	mux := taskqueue.NewMux()
	mux.Handle("resize", taskqueue.HandlerFunc(func(_ context.Context, job *taskqueue.Job) (any, error) {
		return job.Payload().(int) * 2, nil
	}))

	m := taskqueue.NewManager(&taskqueue.Config{
		Mux:    mux,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer m.Close()

	if err := m.Register("resize", "resize", 2); err != nil {
		fmt.Println(err)
		return
	}

	handle, err := m.Submit("resize", 100)
	if err != nil {
		fmt.Println(err)
		return
	}

	out, err := handle.Wait(context.Background())
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(out)
	// Output: 200
}
