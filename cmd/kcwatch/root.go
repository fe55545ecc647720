package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	klog "k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/sttts/kcmodel/internal/cluster"
	"github.com/sttts/kcmodel/pkg/appconfig"
	"github.com/sttts/kcmodel/pkg/kubeconfig"
	"github.com/sttts/kcmodel/pkg/model"
	"github.com/sttts/kcmodel/pkg/resources"
	"github.com/sttts/kcmodel/pkg/watch"
)

type rootOptions struct {
	kubeconfig string
	context    string
	namespace  string
	configPath string
	noColor    bool

	zapOpts zap.Options
	cfg     *appconfig.Config
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{zapOpts: zap.Options{Development: true}}
	cmd := &cobra.Command{
		Use:   "kcwatch",
		Short: "Browse and watch cluster resources through a cached model",
		Long: `kcwatch drives the kcmodel resource model against a cluster. Resources are
listed once per kind and kept fresh through watches; namespace switches
redirect every namespaced kind at once.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.complete()
		},
	}

	fs := cmd.PersistentFlags()
	fs.StringVar(&o.kubeconfig, "kubeconfig", "", "path to the kubeconfig file (default: $KUBECONFIG or ~/.kube/config)")
	fs.StringVar(&o.context, "context", "", "kubeconfig context to use (default: current context)")
	fs.StringVarP(&o.namespace, "namespace", "n", "", "namespace to use (default: namespace of the context, else the first listed)")
	fs.StringVar(&o.configPath, "config", "", "config file (default: ~/.kcmodel/config.yaml)")
	fs.BoolVar(&o.noColor, "no-color", false, "disable colored output")

	goFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	o.zapOpts.BindFlags(goFlags)
	fs.AddGoFlagSet(goFlags)

	cmd.AddCommand(newNamespacesCmd(o))
	cmd.AddCommand(newGetCmd(o))
	cmd.AddCommand(newWatchCmd(o))
	cmd.AddCommand(newDeleteCmd(o))
	return cmd
}

func (o *rootOptions) complete() error {
	logger := zap.New(zap.UseFlagOptions(&o.zapOpts))
	ctrl.SetLogger(logger)
	klog.SetLogger(logger)

	var err error
	if o.configPath != "" {
		o.cfg, err = appconfig.LoadFile(o.configPath)
	} else {
		o.cfg, err = appconfig.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if o.noColor {
		o.cfg.Output.Color = false
	}
	return nil
}

// session is a connected model plus the observable it reports to.
type session struct {
	model      *model.ActiveContext
	observable *model.ModelChangeObservable
}

func (s *session) Close() error {
	err := s.model.Close()
	s.observable.Close()
	return err
}

func (o *rootOptions) connect(ctx context.Context) (*session, error) {
	kc, err := kubeconfig.Load(o.kubeconfig)
	if err != nil {
		return nil, err
	}
	restConfig, namespace, err := kc.RESTConfig(o.context)
	if err != nil {
		return nil, err
	}
	if o.namespace != "" {
		namespace = o.namespace
	}
	c, err := cluster.New(restConfig,
		cluster.WithNamespace(namespace),
		cluster.WithRefreshInterval(o.cfg.Kubernetes.DiscoveryRefresh.Duration),
	)
	if err != nil {
		return nil, err
	}

	observable := model.NewModelChangeObservable()
	mc, err := model.NewContext(ctx, c, observable, model.Options{
		Resources: resources.Options{RequestTimeout: o.cfg.Kubernetes.RequestTimeout.Duration},
		Watch: watch.Options{
			OpenTimeout: o.cfg.Watch.OpenTimeout.Duration,
			Parallelism: o.cfg.Watch.Parallelism,
		},
	})
	if err != nil {
		observable.Close()
		_ = c.Close()
		return nil, err
	}
	return &session{model: mc, observable: observable}, nil
}

// resolveKind finds the registered kind named by arg. Kind names, lower-case
// plurals and group-qualified forms like "deployments.apps" are accepted.
func resolveKind(registry *resources.Registry, arg string) (resources.Kind, error) {
	name, group, qualified := strings.Cut(strings.ToLower(arg), ".")
	for _, k := range registry.Kinds() {
		if qualified && k.Group != group {
			continue
		}
		kind := strings.ToLower(k.Kind)
		if name == kind || name == plural(kind) {
			return k, nil
		}
	}
	return resources.Kind{}, fmt.Errorf("unknown kind %q", arg)
}

func plural(kind string) string {
	switch {
	case strings.HasSuffix(kind, "s"):
		// endpoints
		if kind == "endpoints" {
			return kind
		}
		return kind + "es"
	case strings.HasSuffix(kind, "y"):
		return strings.TrimSuffix(kind, "y") + "ies"
	}
	return kind + "s"
}
