package util

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyYamlDocument is returned when a config source contains no YAML document at all
var ErrEmptyYamlDocument = errors.New("empty YAML document")

// GetYamlLocation describes the position of a YAML node as "yaml line L:C", followed by its head comment or anchor
func GetYamlLocation(node *yaml.Node) string {
	location := fmt.Sprintf("yaml line %d:%d", node.Line, node.Column)
	if len(node.HeadComment) > 0 {
		return location + " " + node.HeadComment
	}
	if len(node.Anchor) > 0 {
		return location + " " + node.Anchor
	}
	return location
}

// NewYamlError creates an error prefixed by the line and column of the node
func NewYamlError(node *yaml.Node, format string, args ...interface{}) error {
	return fmt.Errorf("yaml line %d:%d: %s", node.Line, node.Column, fmt.Sprintf(format, args...))
}

// MarshalYaml marshals the source to a YAML document indented by two spaces
func MarshalYaml(source interface{}) (string, error) {
	var builder strings.Builder
	encoder := yaml.NewEncoder(&builder)
	encoder.SetIndent(2)
	err := encoder.Encode(source)
	if cerr := encoder.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	return builder.String(), nil
}

// NodeDecodeKnownFields decodes a YAML node to the output with known-fields checking
//
// yaml.Node.Decode ignores unknown fields and custom unmarshalers have no access to the decoder's options, so the node
// is re-encoded and decoded again by a strict decoder. Line numbers in errors are relative to the node.
func NodeDecodeKnownFields(node *yaml.Node, output interface{}) error {
	doc, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	return decodeYamlStrict(bytes.NewReader(doc), output)
}

// UnmarshalYamlFile decodes the YAML file at path to a pointer, rejecting unknown fields
func UnmarshalYamlFile(path string, output interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return decodeYamlStrict(file, output)
}

// UnmarshalYamlString decodes YAML text to a pointer, rejecting unknown fields
func UnmarshalYamlString(contents string, output interface{}) error {
	return decodeYamlStrict(strings.NewReader(contents), output)
}

func decodeYamlStrict(reader io.Reader, output interface{}) error {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true) // only works outside of custom unmarshalers
	if err := decoder.Decode(output); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyYamlDocument
		}
		return err
	}
	return nil
}
