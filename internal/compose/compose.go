// Package compose discovers the services declared in a compose definition.
// The runner uses it to render one deployment and service per discovered
// service; discovery order follows file order so rendering stays
// deterministic across redeliveries.
package compose

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoServices is returned when the definition declares no services.
var ErrNoServices = errors.New("reporun/compose: no services defined")

// Service is one entry of the compose services mapping.
type Service struct {
	Name  string
	Image string
	Ports []int32 // container ports
}

type serviceSpec struct {
	Image string   `yaml:"image"`
	Ports []string `yaml:"ports"`
}

// ParseServices extracts the services of a compose definition in file
// order. yaml.v3 mapping nodes keep key order, which plain map decoding
// would lose.
func ParseServices(data []byte) ([]Service, error) {
	var doc struct {
		Services yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("reporun/compose: parse definition: %w", err)
	}
	if doc.Services.Kind != yaml.MappingNode {
		return nil, ErrNoServices
	}

	// Mapping node content alternates key, value.
	var services []Service
	for i := 0; i+1 < len(doc.Services.Content); i += 2 {
		name := doc.Services.Content[i].Value
		var spec serviceSpec
		if err := doc.Services.Content[i+1].Decode(&spec); err != nil {
			return nil, fmt.Errorf("reporun/compose: service %s: %w", name, err)
		}
		svc := Service{Name: name, Image: spec.Image}
		for _, p := range spec.Ports {
			port, err := containerPort(p)
			if err != nil {
				return nil, fmt.Errorf("reporun/compose: service %s: %w", name, err)
			}
			svc.Ports = append(svc.Ports, port)
		}
		services = append(services, svc)
	}
	if len(services) == 0 {
		return nil, ErrNoServices
	}
	return services, nil
}

// containerPort parses a compose port entry ("80", "8080:80",
// "127.0.0.1:8080:80", "80/tcp") down to the container port.
func containerPort(entry string) (int32, error) {
	spec := entry
	if idx := strings.IndexByte(spec, '/'); idx >= 0 {
		spec = spec[:idx]
	}
	parts := strings.Split(spec, ":")
	raw := parts[len(parts)-1]
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", entry)
	}
	return int32(n), nil
}
