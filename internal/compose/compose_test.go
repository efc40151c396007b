package compose_test

import (
	"errors"
	"testing"

	"github.com/reporun/reporun/internal/compose"
)

func TestParseServices_OrderAndPorts(t *testing.T) {
	def := []byte(`
version: "3.9"
services:
  frontend:
    image: node:20
    ports:
      - "3000:3000"
  backend:
    image: python:3.12
    ports:
      - "127.0.0.1:8000:8000"
      - "9000/tcp"
  db:
    image: postgres:16
`)
	services, err := compose.ParseServices(def)
	if err != nil {
		t.Fatalf("ParseServices: %v", err)
	}
	if len(services) != 3 {
		t.Fatalf("got %d services, want 3", len(services))
	}

	wantNames := []string{"frontend", "backend", "db"}
	for i, svc := range services {
		if svc.Name != wantNames[i] {
			t.Errorf("services[%d].Name = %q, want %q (file order)", i, svc.Name, wantNames[i])
		}
	}

	if got := services[0].Ports; len(got) != 1 || got[0] != 3000 {
		t.Errorf("frontend ports = %v, want [3000]", got)
	}
	if got := services[1].Ports; len(got) != 2 || got[0] != 8000 || got[1] != 9000 {
		t.Errorf("backend ports = %v, want [8000 9000]", got)
	}
	if len(services[2].Ports) != 0 {
		t.Errorf("db ports = %v, want none", services[2].Ports)
	}
}

func TestParseServices_Empty(t *testing.T) {
	if _, err := compose.ParseServices([]byte("version: \"3\"\n")); !errors.Is(err, compose.ErrNoServices) {
		t.Errorf("error = %v, want ErrNoServices", err)
	}
}

func TestParseServices_InvalidPort(t *testing.T) {
	def := []byte(`
services:
  app:
    image: app
    ports:
      - "not-a-port"
`)
	if _, err := compose.ParseServices(def); err == nil {
		t.Error("ParseServices accepted an invalid port entry")
	}
}

func TestParseServices_NotYAML(t *testing.T) {
	if _, err := compose.ParseServices([]byte("{{nope")); err == nil {
		t.Error("ParseServices accepted invalid YAML")
	}
}
