package temporal

import (
	"context"
	"crypto/tls"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// workflowAPI is the slice of the Temporal client the engine uses.
type workflowAPI interface {
	Execute(ctx context.Context, id, taskQueue, workflowType string, input any) (string, error)
	Describe(ctx context.Context, id string) (enumspb.WorkflowExecutionStatus, error)
	Query(ctx context.Context, id, queryName string) (any, error)
	Result(ctx context.Context, id string) (any, error)
	Signal(ctx context.Context, id, signalName string) error
	Cancel(ctx context.Context, id string) error
	CheckHealth(ctx context.Context) error
	Close()
}

type sdkClient struct {
	c client.Client
}

func dialSDK(ctx context.Context, o Options) (workflowAPI, error) {
	co := client.Options{
		HostPort:  o.HostPort,
		Namespace: o.Namespace,
		Logger:    newSDKLogger(o.Logger),
	}
	if o.APIKey != "" {
		co.Credentials = client.NewAPIKeyStaticCredentials(o.APIKey)
	}
	if o.TLS || o.APIKey != "" {
		co.ConnectionOptions = client.ConnectionOptions{TLS: &tls.Config{MinVersion: tls.VersionTLS12}}
	}
	c, err := client.DialContext(ctx, co)
	if err != nil {
		return nil, err
	}
	return &sdkClient{c: c}, nil
}

func (s *sdkClient) Execute(ctx context.Context, id, taskQueue, workflowType string, input any) (string, error) {
	run, err := s.c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: taskQueue,
	}, workflowType, input)
	if err != nil {
		return "", err
	}
	return run.GetID(), nil
}

func (s *sdkClient) Describe(ctx context.Context, id string) (enumspb.WorkflowExecutionStatus, error) {
	resp, err := s.c.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		return enumspb.WORKFLOW_EXECUTION_STATUS_UNSPECIFIED, err
	}
	return resp.GetWorkflowExecutionInfo().GetStatus(), nil
}

func (s *sdkClient) Query(ctx context.Context, id, queryName string) (any, error) {
	v, err := s.c.QueryWorkflow(ctx, id, "", queryName)
	if err != nil {
		return nil, err
	}
	var out any
	if v == nil || !v.HasValue() {
		return nil, nil
	}
	if err := v.Get(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sdkClient) Result(ctx context.Context, id string) (any, error) {
	var out any
	if err := s.c.GetWorkflow(ctx, id, "").Get(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sdkClient) Signal(ctx context.Context, id, signalName string) error {
	return s.c.SignalWorkflow(ctx, id, "", signalName, nil)
}

func (s *sdkClient) Cancel(ctx context.Context, id string) error {
	return s.c.CancelWorkflow(ctx, id, "")
}

func (s *sdkClient) CheckHealth(ctx context.Context) error {
	_, err := s.c.CheckHealth(ctx, &client.CheckHealthRequest{})
	return err
}

func (s *sdkClient) Close() { s.c.Close() }
