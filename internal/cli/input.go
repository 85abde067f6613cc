package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kubev2v/ids-validator/internal/extract"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

var legalOutputTypes = []string{jsonFormat, yamlFormat}

// elementsFile is the wrapped form of an elements input file.
type elementsFile struct {
	Elements []extract.RawElementRecord `json:"elements"`
}

// readRecords reads raw element records from a JSON or YAML file. The file
// holds either a list of records or an object with an "elements" list.
func readRecords(path string) ([]extract.RawElementRecord, error) {
	data, err := readInput(path)
	if err != nil {
		return nil, err
	}

	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	jsonData = bytes.TrimSpace(jsonData)

	if bytes.HasPrefix(jsonData, []byte("[")) {
		var records []extract.RawElementRecord
		if err := json.Unmarshal(jsonData, &records); err != nil {
			return nil, errors.Wrapf(err, "failed to decode elements from %s", path)
		}
		return records, nil
	}

	var wrapped elementsFile
	if err := json.Unmarshal(jsonData, &wrapped); err != nil {
		return nil, errors.Wrapf(err, "failed to decode elements from %s", path)
	}
	if wrapped.Elements == nil {
		return nil, fmt.Errorf("%s has no elements list", path)
	}
	return wrapped.Elements, nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return data, errors.Wrap(err, "failed to read stdin")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	return data, nil
}

// openOutput returns stdout for an empty path.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", path)
	}
	return f, nil
}

// writeOutput runs write against out and closes it. A close failure is
// returned, since buffered file writes surface there.
func writeOutput(out io.WriteCloser, write func(io.Writer) error) error {
	if err := write(out); err != nil {
		_ = out.Close()
		return err
	}
	return errors.Wrap(out.Close(), "failed to close output")
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func marshal(v any, format string) ([]byte, error) {
	if format == yamlFormat {
		return yaml.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}
