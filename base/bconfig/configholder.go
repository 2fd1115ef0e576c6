package bconfig

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/relex/gotils/logger"
	"github.com/relex/slog-buffer/util"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// ConfigHolder holds an interface to the actual Config, selected by the "type" property in YAML
type ConfigHolder[C BaseConfig] struct {
	Location string `yaml:"-"`
	Value    C
}

func (holder ConfigHolder[C]) String() string {
	return fmt.Sprint(holder.Value)
}

// MarshalYAML exports the held config only. The result can be unmarshalled back since the type is a property of it.
func (holder ConfigHolder[C]) MarshalYAML() (interface{}, error) {
	return holder.Value, nil
}

// UnmarshalYAML creates the registered config type named by .type and decodes the whole node into it
func (holder *ConfigHolder[C]) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return util.NewYamlError(value, "not an object")
	}
	typeName, found := findTypeProperty(value)
	if !found {
		return util.NewYamlError(value, ".type is undefined")
	}

	table := getConfigConstructors[C]()
	createFunc, supported := table[typeName]
	if !supported {
		names := maps.Keys(table)
		slices.Sort(names)
		return util.NewYamlError(value, ".type: unsupported '%s', expected one of: %s", typeName, strings.Join(names, ", "))
	}

	holder.Value = createFunc()
	if err := util.NodeDecodeKnownFields(value, holder.Value); err != nil {
		return util.NewYamlError(value, "%s", err.Error())
	}
	holder.Location = util.GetYamlLocation(value)
	return nil
}

// VerifyConfig verifies the held config, prefixing errors with its location
func (holder *ConfigHolder[C]) VerifyConfig() error {
	if reflect.ValueOf(&holder.Value).Elem().IsNil() {
		return fmt.Errorf("undefined")
	}
	if err := holder.Value.VerifyConfig(); err != nil {
		return fmt.Errorf("%s: %w", holder.Location, err)
	}
	return nil
}

// findTypeProperty looks up the scalar value of "type" among the pairs of a mapping node
func findTypeProperty(mapping *yaml.Node) (string, bool) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, val := mapping.Content[i], mapping.Content[i+1]
		if key.Kind == yaml.ScalarNode && key.Value == "type" && val.Kind == yaml.ScalarNode {
			return val.Value, true
		}
	}
	return "", false
}

// ConfigCreatorTable provides a map of config types to their constructors
type ConfigCreatorTable[C BaseConfig] map[string]func() C

var typeToConfigCreatorTables = make(map[reflect.Type]interface{})

// RegisterConfigConstructors registers the list of config constructors for a particular config interface C
//
// It can only be called once for each C
func RegisterConfigConstructors[C BaseConfig](newMap ConfigCreatorTable[C]) {
	c := reflect.TypeOf((*C)(nil)).Elem()
	if _, exists := typeToConfigCreatorTables[c]; exists {
		logger.Panicf("already registered %s", c.String())
	}
	typeToConfigCreatorTables[c] = newMap
}

func getConfigConstructors[C BaseConfig]() ConfigCreatorTable[C] {
	c := reflect.TypeOf((*C)(nil)).Elem()
	table, exists := typeToConfigCreatorTables[c]
	if !exists {
		logger.Panicf("not registered %s", c.String())
	}
	return table.(ConfigCreatorTable[C])
}
