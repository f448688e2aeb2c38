package lifecycle

import "context"

// Provisioner allocates and releases the concrete hardware behind a node.
type Provisioner interface {
	Provision(ctx context.Context, config NodeConfig) (Allocation, error)
	// Terminate releases whatever Provision allocated for the node.
	// It must tolerate being called for a node that holds nothing.
	Terminate(ctx context.Context, nodeID string) error
}

// Executor runs one request against a servable node.
type Executor func(ctx context.Context, endpoint Endpoint, payload any) (any, error)
