package control

import (
	"context"
	"fmt"
)

// Status is a point-in-time view of a node.
type Status struct {
	Healthy bool
	Keys    []string
	Stored  int64
	Staged  int64
	Errors  map[string]string
}

// Status gathers key, store and staging figures. Component failures are
// reported in Errors rather than returned.
func (n *Node) Status(ctx context.Context) Status {
	st := Status{Healthy: true, Errors: make(map[string]string)}

	for _, k := range n.enclave.PublicKeys() {
		st.Keys = append(st.Keys, k.String())
	}
	if err := n.enclave.Status(ctx); err != nil {
		st.Errors["enclave"] = err.Error()
	}

	stored, err := n.txRepo.Count(ctx)
	if err != nil {
		st.Errors["store"] = fmt.Sprintf("count: %v", err)
	}
	st.Stored = stored

	staged, err := n.staging.Count(ctx)
	if err != nil {
		st.Errors["staging"] = fmt.Sprintf("count: %v", err)
	}
	st.Staged = staged

	if n.db != nil {
		if err := n.db.Health(ctx); err != nil {
			st.Errors["database"] = err.Error()
		}
	}
	if n.redisClient != nil {
		if err := n.redisClient.Health(ctx); err != nil {
			st.Errors["redis"] = err.Error()
		}
	}

	st.Healthy = len(st.Errors) == 0
	return st
}
