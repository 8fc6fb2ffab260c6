// internal/cron/dispatcher.go
package cron

import (
	"context"
	"encoding/json"
	"fmt"

	"github-star-browser/internal/durable"
)

// RunDispatcher routes job targets onto durable workflow runs: a firing of
// service/method enqueues a run of the mapped workflow. Enqueueing is the
// fire-and-forget boundary; the run itself is retried by the worker.
type RunDispatcher struct {
	exec   *durable.Executor
	routes map[string]string
}

func NewRunDispatcher(exec *durable.Executor) *RunDispatcher {
	return &RunDispatcher{exec: exec, routes: map[string]string{}}
}

// Route maps a service/method pair to a registered workflow name.
func (d *RunDispatcher) Route(service, method, workflow string) {
	d.routes[service+"/"+method] = workflow
}

func (d *RunDispatcher) Send(ctx context.Context, service, method, key string, payload json.RawMessage) error {
	workflow, ok := d.routes[service+"/"+method]
	if !ok {
		return fmt.Errorf("no route for target %s/%s", service, method)
	}
	_, err := d.exec.EnqueueRun(ctx, workflow, payload)
	return err
}
