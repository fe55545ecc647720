package main

import (
	"github.com/charmbracelet/lipgloss/v2"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/sttts/kcmodel/pkg/resources"
)

type palette struct {
	color    bool
	added    lipgloss.Style
	modified lipgloss.Style
	removed  lipgloss.Style
	failed   lipgloss.Style
	current  lipgloss.Style
}

func newPalette(color bool) palette {
	return palette{
		color:    color,
		added:    lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		modified: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		removed:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		failed:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		current:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
	}
}

func (s palette) render(st lipgloss.Style, text string) string {
	if !s.color {
		return text
	}
	return st.Render(text)
}

func (s palette) eventLine(op string, obj client.Object) string {
	id, ok := resources.IdentityOf(obj)
	text := obj.GetName()
	if ok {
		text = id.String()
	}
	switch op {
	case "ADDED":
		return s.render(s.added, "+ "+op) + "    " + text
	case "MODIFIED":
		return s.render(s.modified, "~ "+op) + " " + text
	case "DELETED":
		return s.render(s.removed, "- "+op) + "  " + text
	}
	return op + " " + text
}

func (s palette) namespaceChanged(name string) string {
	return s.render(s.current, "> NAMESPACE") + " " + name
}

func (s palette) errorLine(err error) string {
	return s.render(s.failed, "! ERROR") + "    " + err.Error()
}

func (s palette) namespaceLine(name string, current bool) string {
	if !current {
		return "  " + name
	}
	return s.render(s.current, "* "+name)
}
