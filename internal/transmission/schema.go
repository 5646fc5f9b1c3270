package transmission

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var ErrSchemaViolation = errors.New("event does not match wire schema")

// 保存側・表示側と共有するワイヤ形式
//
//go:embed event.schema.json
var EventSchema string

// ワイヤ形式のJSONスキーマで1行を検証する
type SchemaValidator struct {
	schema *gojsonschema.Schema
}

// 新しいSchemaValidatorを作成
func NewSchemaValidator() (*SchemaValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(EventSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to load event schema: %w", err)
	}
	return &SchemaValidator{schema: schema}, nil
}

func (v *SchemaValidator) Validate(line []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(line))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(problems, "; "))
}
