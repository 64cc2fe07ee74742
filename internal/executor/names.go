package executor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// NamePlaceholder is replaced by ExpandName.
const NamePlaceholder = "{name}"

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const (
	maxNameLen   = 64
	nameIDLength = 12
)

// ValidateName checks name against the rules docker applies to container
// names.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("container name too long (max %d chars)", maxNameLen)
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("container name must start with alphanumeric and contain only letters, numbers, dots, dashes, or underscores")
	}
	return nil
}

// UniqueName returns prefix followed by a random suffix, so that repeated or
// parallel runs never reuse a container name.
func UniqueName(prefix string) (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:nameIDLength]
	if prefix == "" {
		return "dockertest-" + id, nil
	}
	name := prefix + "-" + id
	if err := ValidateName(name); err != nil {
		return "", fmt.Errorf("prefix %q: %w", prefix, err)
	}
	return name, nil
}

// ExpandName returns a copy of args with every {name} placeholder replaced.
func ExpandName(args []string, name string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = strings.ReplaceAll(arg, NamePlaceholder, name)
	}
	return out
}
