package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newNamespacesCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "namespaces",
		Aliases: []string{"ns", "projects"},
		Short:   "List namespaces and mark the current one",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := o.connect(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			current, err := s.model.CurrentNamespace(ctx)
			if err != nil {
				return err
			}
			objs, err := s.model.GetResources(ctx, s.model.Registry().NamespacesKind())
			if err != nil {
				return err
			}
			st := newPalette(o.cfg.Output.Color)
			for _, obj := range objs {
				fmt.Fprintln(cmd.OutOrStdout(), st.namespaceLine(obj.GetName(), obj.GetName() == current))
			}
			return nil
		},
	}
}
