package kubeconfig

import (
	"path/filepath"
	"testing"

	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/clientcmd/api"
)

func writeKubeconfig(t *testing.T) string {
	t.Helper()
	config := &api.Config{
		CurrentContext: "context1",
		Contexts: map[string]*api.Context{
			"context1": {
				Cluster:  "cluster1",
				AuthInfo: "user1",
			},
			"context2": {
				Cluster:   "cluster1",
				AuthInfo:  "user1",
				Namespace: "kube-system",
			},
			"broken": {
				Cluster:  "missing",
				AuthInfo: "user1",
			},
		},
		Clusters: map[string]*api.Cluster{
			"cluster1": {
				Server: "https://server1:6443",
			},
		},
		AuthInfos: map[string]*api.AuthInfo{
			"user1": {
				Token: "test-token",
			},
		},
	}
	path := filepath.Join(t.TempDir(), "config")
	if err := clientcmd.WriteToFile(*config, path); err != nil {
		t.Fatalf("Failed to write kubeconfig: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	kc, err := Load(writeKubeconfig(t))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if kc.CurrentContext() != "context1" {
		t.Errorf("CurrentContext() = %v, want %v", kc.CurrentContext(), "context1")
	}

	contexts := kc.Contexts()
	if len(contexts) != 3 {
		t.Fatalf("Expected 3 contexts, got %d", len(contexts))
	}
	if contexts[0].Name != "broken" || contexts[1].Name != "context1" || contexts[2].Name != "context2" {
		t.Errorf("Contexts() not sorted: %v, %v, %v", contexts[0].Name, contexts[1].Name, contexts[2].Name)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected error for missing kubeconfig")
	}
}

func TestContext(t *testing.T) {
	kc, err := Load(writeKubeconfig(t))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	current := kc.Context("")
	if current == nil {
		t.Fatal("current context not found")
	}
	if current.Name != "context1" {
		t.Errorf("Name = %v, want %v", current.Name, "context1")
	}
	if current.Server != "https://server1:6443" {
		t.Errorf("Server = %v, want %v", current.Server, "https://server1:6443")
	}
	if current.Namespace != "" {
		t.Errorf("Namespace = %q, want empty", current.Namespace)
	}
	if current.User != "user1" {
		t.Errorf("User = %v, want %v", current.User, "user1")
	}

	if kc.Context("non-existing") != nil {
		t.Error("Context(\"non-existing\") should be nil")
	}
}

func TestRESTConfig(t *testing.T) {
	kc, err := Load(writeKubeconfig(t))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	config, namespace, err := kc.RESTConfig("context2")
	if err != nil {
		t.Fatalf("RESTConfig() failed: %v", err)
	}
	if config.Host != "https://server1:6443" {
		t.Errorf("Host = %v, want %v", config.Host, "https://server1:6443")
	}
	if config.BearerToken != "test-token" {
		t.Errorf("BearerToken = %v, want %v", config.BearerToken, "test-token")
	}
	if namespace != "kube-system" {
		t.Errorf("namespace = %v, want %v", namespace, "kube-system")
	}

	// no namespace configured is reported as empty, not "default"
	_, namespace, err = kc.RESTConfig("")
	if err != nil {
		t.Fatalf("RESTConfig() failed: %v", err)
	}
	if namespace != "" {
		t.Errorf("namespace = %q, want empty", namespace)
	}

	if _, _, err := kc.RESTConfig("non-existing"); err == nil {
		t.Error("Expected error for unknown context")
	}
	if _, _, err := kc.RESTConfig("broken"); err == nil {
		t.Error("Expected error for context with unknown cluster")
	}
}
