// Package configloader resolves kubeconfig contexts into *rest.Config values,
// without itself building any Kubernetes clients.
package configloader

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Options configures a Loader.
type Options struct {
	// KubeconfigPath overrides $KUBECONFIG / ~/.kube/config when set.
	KubeconfigPath string
}

// ContextInfo describes one context entry from a kubeconfig.
type ContextInfo struct {
	Name      string
	Cluster   string
	User      string
	Namespace string
	IsCurrent bool
}

// Loader resolves named contexts from a kubeconfig (or in-cluster config) into
// *rest.Config values. It holds no Kubernetes clients itself; internal/gateway
// is the package that turns a *rest.Config into a live connection.
type Loader struct {
	inCluster      bool
	kubeconfigPath string
	current        string
}

// Load discovers the kubeconfig to use and returns a Loader. It tries
// in-cluster config first (for when running inside a pod), then falls back to
// a kubeconfig file.
func Load(opts Options) (*Loader, error) {
	if _, err := rest.InClusterConfig(); err == nil {
		return &Loader{inCluster: true, current: "in-cluster"}, nil
	}

	path := opts.KubeconfigPath
	if path == "" {
		path = os.Getenv("KUBECONFIG")
	}
	if path == "" {
		if home := homedir.HomeDir(); home != "" {
			path = filepath.Join(home, ".kube", "config")
		}
	}
	if path == "" {
		return nil, fmt.Errorf("configloader: no kubeconfig path resolved and not running in-cluster")
	}

	rawConfig, err := clientcmd.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("configloader: failed to load kubeconfig %s: %w", path, err)
	}

	return &Loader{
		kubeconfigPath: path,
		current:        rawConfig.CurrentContext,
	}, nil
}

// InCluster reports whether this Loader resolved to an in-cluster config.
func (l *Loader) InCluster() bool { return l.inCluster }

// Current returns the context name currently selected (possibly after
// SetCurrent), or "in-cluster".
func (l *Loader) Current() string { return l.current }

// Contexts lists every context defined in the kubeconfig. Returns a single
// synthetic "in-cluster" entry when running inside a pod.
func (l *Loader) Contexts() ([]ContextInfo, error) {
	if l.inCluster {
		return []ContextInfo{{Name: "in-cluster", Cluster: "in-cluster", User: "service-account", IsCurrent: true}}, nil
	}

	rawConfig, err := clientcmd.LoadFromFile(l.kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("configloader: failed to load kubeconfig %s: %w", l.kubeconfigPath, err)
	}

	out := make([]ContextInfo, 0, len(rawConfig.Contexts))
	for name, ctx := range rawConfig.Contexts {
		out = append(out, ContextInfo{
			Name:      name,
			Cluster:   ctx.Cluster,
			User:      ctx.AuthInfo,
			Namespace: ctx.Namespace,
			IsCurrent: name == l.current,
		})
	}
	return out, nil
}

// RestConfigFor builds a *rest.Config for the named context. Pass "" (or
// l.Current()) to build the config for the presently selected context.
func (l *Loader) RestConfigFor(name string) (*rest.Config, error) {
	if l.inCluster {
		return rest.InClusterConfig()
	}
	if name == "" {
		name = l.current
	}

	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: l.kubeconfigPath}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: name}
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)

	rawConfig, err := clientConfig.RawConfig()
	if err != nil {
		return nil, fmt.Errorf("configloader: failed to load kubeconfig: %w", err)
	}
	if _, ok := rawConfig.Contexts[name]; !ok {
		return nil, fmt.Errorf("configloader: context %q not found in kubeconfig", name)
	}

	config, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("configloader: failed to build config for context %q: %w", name, err)
	}
	return config, nil
}

// SetCurrent records name as the presently selected context without rebuilding
// any client. Callers should first confirm name via RestConfigFor or Contexts.
func (l *Loader) SetCurrent(name string) {
	l.current = name
}
