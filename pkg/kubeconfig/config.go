package kubeconfig

import (
	"fmt"
	"sort"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/clientcmd/api"
)

// Kubeconfig represents a loaded kubeconfig, possibly merged from several
// files.
type Kubeconfig struct {
	// Path is the explicit file, or empty when the default loading rules
	// were used.
	Path   string
	Config *api.Config
}

// Context represents a Kubernetes context
type Context struct {
	Name      string
	Cluster   string
	Server    string
	Namespace string
	User      string
}

// Load reads the kubeconfig at path. With an empty path the default loading
// rules apply: $KUBECONFIG, then ~/.kube/config.
func Load(path string) (*Kubeconfig, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules = &clientcmd.ClientConfigLoadingRules{ExplicitPath: path}
	}
	config, err := rules.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return &Kubeconfig{Path: path, Config: config}, nil
}

// CurrentContext returns the name of the current context.
func (k *Kubeconfig) CurrentContext() string {
	return k.Config.CurrentContext
}

// Contexts returns all contexts sorted by name.
func (k *Kubeconfig) Contexts() []*Context {
	names := make([]string, 0, len(k.Config.Contexts))
	for name := range k.Config.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Context, 0, len(names))
	for _, name := range names {
		out = append(out, k.Context(name))
	}
	return out
}

// Context returns the named context, or the current one for an empty name.
// It returns nil if there is no such context.
func (k *Kubeconfig) Context(name string) *Context {
	if name == "" {
		name = k.Config.CurrentContext
	}
	c, ok := k.Config.Contexts[name]
	if !ok || c == nil {
		return nil
	}
	ctx := &Context{
		Name:      name,
		Cluster:   c.Cluster,
		Namespace: c.Namespace,
		User:      c.AuthInfo,
	}
	if cluster, ok := k.Config.Clusters[c.Cluster]; ok && cluster != nil {
		ctx.Server = cluster.Server
	}
	return ctx
}

// RESTConfig returns the client configuration of the named context, or of
// the current context for an empty name, together with the namespace the
// context configures. The namespace is empty if the context sets none.
func (k *Kubeconfig) RESTConfig(contextName string) (*rest.Config, string, error) {
	ctx := k.Context(contextName)
	if ctx == nil {
		if contextName == "" {
			return nil, "", fmt.Errorf("kubeconfig has no current context")
		}
		return nil, "", fmt.Errorf("context %q not found in kubeconfig", contextName)
	}
	config, err := clientcmd.NewNonInteractiveClientConfig(*k.Config, ctx.Name, &clientcmd.ConfigOverrides{}, nil).ClientConfig()
	if err != nil {
		return nil, "", fmt.Errorf("failed to create client config for context %q: %w", ctx.Name, err)
	}
	return config, ctx.Namespace, nil
}
