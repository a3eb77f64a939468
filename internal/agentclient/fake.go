package agentclient

import "context"

// FakeClient is a test double with a scripted result/error and an optional
// hook invoked before returning, used by internal/run's tests to simulate
// slow or failing agent workers.
type FakeClient struct {
	Result ExecuteResult
	Err    error
	OnExecute func(ctx context.Context, req ExecuteRequest)
	Requests []ExecuteRequest
}

func (f *FakeClient) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	f.Requests = append(f.Requests, req)
	if f.OnExecute != nil {
		f.OnExecute(ctx, req)
	}
	if f.Err != nil {
		return ExecuteResult{}, f.Err
	}
	return f.Result, nil
}

var _ Client = (*FakeClient)(nil)
