package executor

import (
	"fmt"

	"github.com/google/shlex"

	"github.com/schovi/dockertest/internal/config"
)

// Command builds the argv for one invocation of the configured docker CLI:
// docker_path, then docker_options split like a shell would, then args.
func Command(settings config.Settings, args ...string) ([]string, error) {
	if settings.DockerPath == "" {
		return nil, fmt.Errorf("docker_path is not set")
	}
	opts, err := shlex.Split(settings.DockerOptions)
	if err != nil {
		return nil, fmt.Errorf("parse docker_options %q: %w", settings.DockerOptions, err)
	}

	argv := make([]string, 0, 1+len(opts)+len(args))
	argv = append(argv, settings.DockerPath)
	argv = append(argv, opts...)
	argv = append(argv, args...)
	return argv, nil
}
