package progress

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the flag file has content that is not a record.
	ErrMissingFrontMatter = errors.New("progress: missing frontmatter")
	// ErrMalformedFrontMatter indicates the record block could not be parsed.
	ErrMalformedFrontMatter = errors.New("progress: malformed frontmatter")
)

// StatusComplete marks a finished build stage.
const StatusComplete = "complete"

// Record is what a finished build stage leaves behind for the push stage.
type Record struct {
	Status      string
	RunID       string
	Version     string
	Projects    []string
	Steps       []string
	LastStep    string
	CompletedAt time.Time
}

// Validate reports whether the record carries what the push stage relies on.
func (r Record) Validate() error {
	var errs []error
	if r.Status == "" {
		errs = append(errs, errors.New("status is required"))
	}
	if r.RunID == "" {
		errs = append(errs, errors.New("run id is required"))
	}
	if r.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if r.CompletedAt.IsZero() {
		errs = append(errs, errors.New("completion time is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("progress: invalid record: %w", errors.Join(errs...))
	}
	return nil
}

type recordEnvelope struct {
	Release recordFields `yaml:"release"`
}

type recordFields struct {
	Status      string   `yaml:"status"`
	RunID       string   `yaml:"run_id"`
	Version     string   `yaml:"version"`
	Projects    []string `yaml:"projects,omitempty"`
	Steps       []string `yaml:"steps,omitempty"`
	LastStep    string   `yaml:"last_step,omitempty"`
	CompletedAt string   `yaml:"completed_at"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// parseRecord extracts the record from a document that starts with `---`
// YAML fences.
func parseRecord(content []byte) (Record, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Record{}, ErrMissingFrontMatter
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Record{}, ErrMalformedFrontMatter
	}
	var envelope recordEnvelope
	if err := yaml.Unmarshal(parts[0], &envelope); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}
	f := envelope.Release
	rec := Record{
		Status:   f.Status,
		RunID:    f.RunID,
		Version:  f.Version,
		Projects: append([]string(nil), f.Projects...),
		Steps:    append([]string(nil), f.Steps...),
		LastStep: f.LastStep,
	}
	if strings.TrimSpace(f.CompletedAt) != "" {
		t, err := time.Parse(timeLayout, f.CompletedAt)
		if err != nil {
			return Record{}, fmt.Errorf("progress: parse completed_at: %w", err)
		}
		rec.CompletedAt = t.UTC()
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// renderRecord writes the record between YAML fences followed by a short
// human-readable note.
func renderRecord(rec Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	envelope := recordEnvelope{Release: recordFields{
		Status:      rec.Status,
		RunID:       rec.RunID,
		Version:     rec.Version,
		Projects:    append([]string(nil), rec.Projects...),
		Steps:       append([]string(nil), rec.Steps...),
		LastStep:    rec.LastStep,
		CompletedAt: rec.CompletedAt.UTC().Format(timeLayout),
	}}
	data, err := yaml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("progress: encode record: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	fmt.Fprintf(&buf, "Release build of %s finished at %s. Run `cfrelease push` next.\n",
		rec.Version, rec.CompletedAt.UTC().Format(time.RFC1123))
	return buf.Bytes(), nil
}
