package main

import (
	"fmt"

	"github.com/spf13/cobra"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func newDeleteCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete KIND NAME",
		Short: "Delete a resource in the current namespace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := o.connect(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			kind, err := resolveKind(s.model.Registry(), args[0])
			if err != nil {
				return err
			}
			obj := &unstructured.Unstructured{}
			obj.SetGroupVersionKind(kind.GroupVersionKind())
			obj.SetName(args[1])
			if namespaced, _ := s.model.Registry().IsNamespaced(kind); namespaced {
				namespace, err := s.model.CurrentNamespace(ctx)
				if err != nil {
					return err
				}
				obj.SetNamespace(namespace)
			}
			if err := s.model.Delete(ctx, obj); err != nil {
				if apierrors.IsNotFound(err) {
					return fmt.Errorf("%s %q not found", kind.Kind, args[1])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %q deleted\n", kind.Kind, args[1])
			return nil
		},
	}
}
