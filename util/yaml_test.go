package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

type yamlParentType struct {
	Name  string
	Child yamlChildType
}

type yamlChildType string

var yamlTestTempLocation string

func (yc *yamlChildType) UnmarshalYAML(node *yaml.Node) error {
	yamlTestTempLocation = GetYamlLocation(node)
	if node.Value == "fail" {
		return NewYamlError(node, "Fail")
	}
	*yc = yamlChildType(node.Value)
	return nil
}

func TestYAMLMarshal(t *testing.T) {
	y, err := MarshalYaml(&yamlParentType{
		Name:  "succ",
		Child: yamlChildType("here"),
	})
	assert.Nil(t, err)
	assert.Equal(t, "name: succ\nchild: here\n", y)
}

func TestYAMLUnmarshal(t *testing.T) {
	var yp yamlParentType

	assert.ErrorContains(t, UnmarshalYamlString(`
name: hi
child: fail
`, &yp), "yaml line 3:8: Fail")
	assert.Equal(t, "yaml line 3:8", yamlTestTempLocation)
}

func TestYAMLNodeDecodeKnownFields(t *testing.T) {
	var node yaml.Node
	assert.NoError(t, yaml.Unmarshal([]byte(`
value: ok

list:
  - "Hi here"
  - "Hey"
`), &node))

	type resultType struct {
		Value string   `yaml:"value"`
		List  []string `yaml:"list"`
	}

	t.Run("known fields", func(t *testing.T) {
		var result resultType
		assert.NoError(t, NodeDecodeKnownFields(&node, &result))
		assert.Equal(t, "ok", result.Value)
		assert.Equal(t, []string{"Hi here", "Hey"}, result.List)
	})

	t.Run("unknown field", func(t *testing.T) {
		var badNode yaml.Node
		assert.NoError(t, yaml.Unmarshal([]byte("value: ok\nunknown: 9\n"), &badNode))
		var result resultType
		assert.ErrorContains(t, NodeDecodeKnownFields(&badNode, &result), "field unknown not found")
	})
}

func TestYAMLEmptyDocument(t *testing.T) {
	var yp yamlParentType
	assert.ErrorIs(t, UnmarshalYamlString("\n# nothing\n", &yp), ErrEmptyYamlDocument)
	assert.NoError(t, UnmarshalYamlString("name: only\n", &yp))
	assert.Equal(t, "only", yp.Name)
}
