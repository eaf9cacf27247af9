// Package commandsurface exposes one Go method per operation a UI would
// invoke: listing contexts, switching clusters, discovering resources,
// starting/stopping watches, and the raw-request escape hatch. It is plain
// Go, not an RPC transport — wiring it to any particular IPC mechanism is
// left to the caller.
package commandsurface

import (
	"context"

	"github.com/google/uuid"

	"github.com/clusterglass/clusterglass/internal/configloader"
	"github.com/clusterglass/clusterglass/internal/discovery"
	"github.com/clusterglass/clusterglass/internal/gateway"
	"github.com/clusterglass/clusterglass/internal/multiplexer"
	"github.com/clusterglass/clusterglass/internal/selector"
	"github.com/clusterglass/clusterglass/internal/watchevent"
	"github.com/clusterglass/clusterglass/internal/xerrors"
)

// Surface wires the Config Loader, Registry, and whichever Gateway/Facade the
// Registry currently holds into the operation set a UI expects.
type Surface struct {
	loader   *configloader.Loader
	registry *multiplexer.Registry
}

// New builds a Surface over an already-constructed Registry. The Registry's
// initial Gateway/Facade must already be wired to loader's starting context.
func New(loader *configloader.Loader, registry *multiplexer.Registry) *Surface {
	return &Surface{loader: loader, registry: registry}
}

// ListContexts returns every context known to the kubeconfig.
func (s *Surface) ListContexts() ([]configloader.ContextInfo, error) {
	return s.loader.Contexts()
}

// StartContext switches the backend to a different kubeconfig context,
// probing connectivity before committing (per the supplemented cluster-info
// capability check) so a bad name or an unreachable cluster fails this call
// instead of leaving the Registry wired to a broken Gateway.
func (s *Surface) StartContext(ctx context.Context, name string) error {
	restConfig, err := s.loader.RestConfigFor(name)
	if err != nil {
		return xerrors.Wrap(xerrors.ErrUnknownContext, "failed to resolve context "+name, err)
	}

	gw, err := gateway.New(restConfig)
	if err != nil {
		return err
	}
	if _, err := gw.ServerVersion(ctx); err != nil {
		return xerrors.Wrap(xerrors.ErrClusterUnreachable, "context "+name+" is unreachable", err)
	}

	disco := discovery.New(gw.Discovery())
	if err := disco.Refresh(); err != nil {
		return err
	}

	s.loader.SetCurrent(name)
	s.registry.ContextSwitch(gw, disco)
	return nil
}

// ListAPIResources returns every API resource the current context's cluster
// reports, for the UI's resource picker.
func (s *Surface) ListAPIResources() []discovery.Resource {
	return s.registry.Discovery().APIResources()
}

// DetailResource fetches a single object by its full selector (Name must be
// set), bypassing the multiplexer entirely: this is a one-shot read, not a
// subscription.
func (s *Surface) DetailResource(ctx context.Context, sel selector.Selector) (any, error) {
	if !sel.SingleObject() {
		return nil, xerrors.InvalidSelector("detail-resource requires a Name")
	}
	obj, err := s.registry.Gateway().Get(ctx, sel)
	if err != nil {
		return nil, err
	}
	return obj.Object, nil
}

// StartListenResult is returned by StartListen.
type StartListenResult struct {
	SubscriptionID string
	Events         <-chan watchevent.Event
}

// StartListen begins (or joins) a watch for sel and returns a subscription id
// plus the channel of events the caller should read from until it calls
// StopListen with the same id.
func (s *Surface) StartListen(sel selector.Selector) (StartListenResult, error) {
	id, events, err := s.registry.StartListen(sel)
	if err != nil {
		return StartListenResult{}, err
	}
	return StartListenResult{SubscriptionID: id.String(), Events: events}, nil
}

// StopListen ends a subscription previously returned by StartListen.
func (s *Surface) StopListen(subscriptionID string) error {
	id, err := uuid.Parse(subscriptionID)
	if err != nil {
		return xerrors.UnknownSubscription(subscriptionID)
	}
	return s.registry.StopListen(id)
}

// ExecRaw issues a raw GET against the current context's API server for an
// arbitrary path, for subresources with no typed representation (pod logs,
// exec negotiation).
func (s *Surface) ExecRaw(ctx context.Context, path string) (string, error) {
	body, err := s.registry.Gateway().RawGet(ctx, path)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Debug returns the Registry's current {open_tasks, tasks, watchers}
// snapshot.
func (s *Surface) Debug() multiplexer.DebugSnapshot {
	return s.registry.Debug()
}
