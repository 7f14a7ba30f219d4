package llm

import (
	"context"
	"sync"
)

// ScriptedClient replays canned responses in order, used in development
// and tests. Once the script is exhausted it keeps returning the last
// entry.
type ScriptedClient struct {
	mu       sync.Mutex
	script   []Response
	errs     []error
	requests []Request
}

// NewScriptedClient creates a client that replays the given responses.
func NewScriptedClient(script ...Response) *ScriptedClient {
	return &ScriptedClient{script: script}
}

// Fail queues an error to return before the remaining script entries.
func (c *ScriptedClient) Fail(err error) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
	return c
}

func (c *ScriptedClient) Complete(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)

	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return Response{}, err
	}
	if len(c.script) == 0 {
		return Response{}, nil
	}
	resp := c.script[0]
	if len(c.script) > 1 {
		c.script = c.script[1:]
	}
	return resp, nil
}

// Requests returns every request seen so far.
func (c *ScriptedClient) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.requests...)
}

var _ Client = (*ScriptedClient)(nil)
