package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/client"
	crlog "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/sttts/kcmodel/pkg/model"
	"github.com/sttts/kcmodel/pkg/resources"
)

func newWatchCmd(o *rootOptions) *cobra.Command {
	var switchTo string
	cmd := &cobra.Command{
		Use:   "watch KIND...",
		Short: "List kinds and print changes as they are observed",
		Long: `watch lists the given kinds and prints every change the model observes
until interrupted. With --switch-to the current namespace is switched once
the initial listing is printed, which exercises the watch hand-over.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			log := crlog.FromContext(ctx).WithName("watch")

			s, err := o.connect(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			kinds := make([]resources.Kind, 0, len(args))
			for _, arg := range args {
				kind, err := resolveKind(s.model.Registry(), arg)
				if err != nil {
					return err
				}
				kinds = append(kinds, kind)
			}

			st := newPalette(o.cfg.Output.Color)
			out := cmd.OutOrStdout()
			var mu sync.Mutex
			emit := func(line string) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintln(out, line)
			}
			remove := s.observable.AddListener(model.ListenerFuncs{
				AddFunc:              func(obj client.Object) { emit(st.eventLine("ADDED", obj)) },
				ModifyFunc:           func(obj client.Object) { emit(st.eventLine("MODIFIED", obj)) },
				RemoveFunc:           func(obj client.Object) { emit(st.eventLine("DELETED", obj)) },
				CurrentNamespaceFunc: func(name string) { emit(st.namespaceChanged(name)) },
				ErrorFunc:            func(err error) { emit(st.errorLine(err)) },
			})
			defer remove()

			if err := listAll(ctx, s.model, kinds, func(obj client.Object) { emit(st.eventLine("ADDED", obj)) }); err != nil {
				return err
			}
			if switchTo != "" {
				log.V(1).Info("switching namespace", "namespace", switchTo)
				if err := s.model.SetCurrentNamespace(switchTo); err != nil {
					return err
				}
				if err := listAll(ctx, s.model, kinds, func(obj client.Object) { emit(st.eventLine("ADDED", obj)) }); err != nil {
					return err
				}
			}

			<-ctx.Done()
			s.observable.Flush()
			return nil
		},
	}
	cmd.Flags().StringVar(&switchTo, "switch-to", "", "namespace to switch to after the initial listing")
	return cmd
}

func listAll(ctx context.Context, m *model.ActiveContext, kinds []resources.Kind, fn func(client.Object)) error {
	for _, kind := range kinds {
		objs, err := m.GetResources(ctx, kind)
		if err != nil {
			return err
		}
		for _, obj := range objs {
			fn(obj)
		}
	}
	return nil
}
