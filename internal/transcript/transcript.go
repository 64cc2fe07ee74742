// Package transcript keeps the output and outcome of finished test steps
// on disk so failures can be inspected after the run.
//
// Each step is stored as <name>.meta (JSON) plus one <name>.<stream> file
// per output stream holding the lines exactly as the matchers saw them.
package transcript

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/hashicorp/go-multierror"
)

const metaExt = ".meta"

// Meta describes one finished step.
type Meta struct {
	Name       string    `json:"name"`
	Argv       []string  `json:"argv"`
	PID        int       `json:"pid"`
	TTY        bool      `json:"tty"`
	Pattern    string    `json:"pattern"`
	Policy     string    `json:"policy"`
	Success    bool      `json:"success"`
	MatchLine  int       `json:"match_line"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Streams    []string  `json:"streams"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store is a directory of transcripts.
type Store struct {
	dir string
	mu  sync.RWMutex
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func checkName(name string) error {
	if !validName.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid transcript name %q", name)
	}
	return nil
}

func checkStream(stream string) error {
	if stream == "" || strings.ContainsAny(stream, `/\.`) {
		return fmt.Errorf("invalid stream name %q", stream)
	}
	return nil
}

func (s *Store) metaPath(name string) string {
	return filepath.Join(s.dir, name+metaExt)
}

func (s *Store) streamPath(name, stream string) string {
	return filepath.Join(s.dir, name+"."+stream)
}

// Save writes meta and the given streams, replacing an earlier transcript
// of the same name. Streams of the earlier transcript that are not in
// streams are removed.
func (s *Store) Save(meta *Meta, streams map[string][]string) error {
	if meta.Name == "" {
		return fmt.Errorf("transcript name cannot be empty")
	}
	if err := checkName(meta.Name); err != nil {
		return err
	}
	for stream := range streams {
		if err := checkStream(stream); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, err := s.loadMeta(meta.Name); err == nil {
		for _, stream := range old.Streams {
			if _, ok := streams[stream]; ok || checkStream(stream) != nil {
				continue
			}
			if err := removeIfExists(s.streamPath(meta.Name, stream)); err != nil {
				return fmt.Errorf("remove old %s output: %w", stream, err)
			}
		}
	}

	meta.Streams = meta.Streams[:0]
	for stream, lines := range streams {
		if err := os.WriteFile(s.streamPath(meta.Name, stream), []byte(strings.Join(lines, "")), 0644); err != nil {
			return fmt.Errorf("write %s output: %w", stream, err)
		}
		meta.Streams = append(meta.Streams, stream)
	}
	sort.Strings(meta.Streams)

	data, err := gojson.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if err := os.WriteFile(s.metaPath(meta.Name), data, 0644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

func (s *Store) LoadMeta(name string) (*Meta, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadMeta(name)
}

func (s *Store) loadMeta(name string) (*Meta, error) {
	data, err := os.ReadFile(s.metaPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("transcript %q not found", name)
		}
		return nil, fmt.Errorf("read meta: %w", err)
	}

	var meta Meta
	if err := gojson.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse meta: %w", err)
	}
	return &meta, nil
}

// ReadStream returns the stored output of one stream, empty when the step
// produced none.
func (s *Store) ReadStream(name, stream string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := checkStream(stream); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.streamPath(name, stream))
	if err != nil {
		if os.IsNotExist(err) {
			return []byte{}, nil
		}
		return nil, fmt.Errorf("read %s output: %w", stream, err)
	}
	return data, nil
}

// List returns the stored transcript names in sorted order.
func (s *Store) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read transcript dir: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(entry.Name(), metaExt); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a transcript and all of its streams. Every file that
// could not be removed is reported.
func (s *Store) Delete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.loadMeta(name)
	if err != nil {
		return err
	}

	var errs *multierror.Error
	for _, stream := range meta.Streams {
		if checkStream(stream) != nil {
			continue
		}
		if err := removeIfExists(s.streamPath(name, stream)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := os.Remove(s.metaPath(name)); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
