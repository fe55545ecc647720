package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/client"
	yaml "sigs.k8s.io/yaml"
)

func newGetCmd(o *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get KIND [NAME]",
		Short: "Print resources of a kind in the current namespace",
		Args:  cobra.RangeArgs(1, 2),
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
			objs, err := s.model.GetResources(ctx, kind)
			if err != nil {
				return err
			}
			if len(args) == 2 {
				objs = filterByName(objs, args[1])
				if len(objs) == 0 {
					return fmt.Errorf("%s %q not found", kind.Kind, args[1])
				}
			}

			out := cmd.OutOrStdout()
			switch output {
			case "name":
				for _, obj := range objs {
					fmt.Fprintln(out, obj.GetName())
				}
				return nil
			case "yaml":
				return printYAML(out, objs, o.cfg.Viewer.Theme, o.cfg.Output.Color)
			}
			return fmt.Errorf("unsupported output format %q", output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "name", "output format: name or yaml")
	return cmd
}

func filterByName(objs []client.Object, name string) []client.Object {
	var out []client.Object
	for _, obj := range objs {
		if obj.GetName() == name {
			out = append(out, obj)
		}
	}
	return out
}

func printYAML(w io.Writer, objs []client.Object, theme string, color bool) error {
	docs := make([]string, 0, len(objs))
	for _, obj := range objs {
		data, err := yaml.Marshal(obj)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", obj.GetName(), err)
		}
		docs = append(docs, string(data))
	}
	source := strings.Join(docs, "---\n")
	if !color {
		_, err := io.WriteString(w, source)
		return err
	}
	if styles.Get(theme) == styles.Fallback {
		theme = "dracula"
	}
	return quick.Highlight(w, source, "yaml", "terminal256", theme)
}
