package vfg

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"codegraph/internal/logging"
)

// protoScalars maps Protobuf scalar names to base types.
var protoScalars = map[string]BaseType{
	"int32": TypeInt, "int64": TypeInt, "uint32": TypeInt, "uint64": TypeInt,
	"sint32": TypeInt, "sint64": TypeInt, "fixed32": TypeInt, "fixed64": TypeInt,
	"sfixed32": TypeInt, "sfixed64": TypeInt,
	"float": TypeFloat, "double": TypeFloat,
	"string": TypeString, "bytes": TypeBytes, "bool": TypeBool,
}

// graphqlScalars maps GraphQL named types to base types.
var graphqlScalars = map[string]BaseType{
	"Int": TypeInt, "Float": TypeFloat, "String": TypeString,
	"Boolean": TypeBool, "ID": TypeString,
}

// pythonPrimitives maps Python annotation names to base types.
var pythonPrimitives = map[string]BaseType{
	"int": TypeInt, "float": TypeFloat, "str": TypeString, "bool": TypeBool,
	"bytes": TypeBytes, "None": TypeNull, "Any": TypeAny,
}

// InferFromOpenAPI maps a JSON-Schema fragment (decoded into a generic map)
// to the type lattice.
func InferFromOpenAPI(schema map[string]interface{}) *TypeInfo {
	if schema == nil {
		return &TypeInfo{Base: TypeUnknown}
	}
	nullable, _ := schema["nullable"].(bool)
	typeName, _ := schema["type"].(string)

	switch typeName {
	case "integer":
		return &TypeInfo{Base: TypeInt, Nullable: nullable, TypeName: typeName}
	case "number":
		return &TypeInfo{Base: TypeFloat, Nullable: nullable, TypeName: typeName}
	case "string":
		if format, _ := schema["format"].(string); format == "byte" || format == "binary" {
			return &TypeInfo{Base: TypeBytes, Nullable: nullable, TypeName: typeName}
		}
		return &TypeInfo{Base: TypeString, Nullable: nullable, TypeName: typeName}
	case "boolean":
		return &TypeInfo{Base: TypeBool, Nullable: nullable, TypeName: typeName}
	case "null":
		return &TypeInfo{Base: TypeNull, TypeName: typeName}
	case "array":
		items, _ := schema["items"].(map[string]interface{})
		return &TypeInfo{Base: TypeArray, Nullable: nullable, GenericArgs: []*TypeInfo{InferFromOpenAPI(items)}}
	case "object":
		props, _ := schema["properties"].(map[string]interface{})
		fields := make(map[string]*TypeInfo, len(props))
		for name, raw := range props {
			sub, _ := raw.(map[string]interface{})
			fields[name] = InferFromOpenAPI(sub)
		}
		return &TypeInfo{Base: TypeObject, Nullable: nullable, Fields: fields}
	default:
		return &TypeInfo{Base: TypeUnknown, Nullable: nullable, TypeName: typeName}
	}
}

// InferFromProtobuf maps a Protobuf scalar name. Unknown scalars are UNKNOWN.
func InferFromProtobuf(protoType string) *TypeInfo {
	if strings.HasPrefix(protoType, "repeated ") {
		elem := InferFromProtobuf(strings.TrimPrefix(protoType, "repeated "))
		return &TypeInfo{Base: TypeArray, GenericArgs: []*TypeInfo{elem}, TypeName: protoType}
	}
	base, ok := protoScalars[strings.ToLower(protoType)]
	if !ok {
		base = TypeUnknown
	}
	return &TypeInfo{Base: base, TypeName: protoType}
}

// InferFromGraphQL maps a GraphQL type string (Int, String!, [Int], ...).
// GraphQL types are nullable unless suffixed with "!".
func InferFromGraphQL(gqlType string) *TypeInfo {
	nullable := !strings.HasSuffix(gqlType, "!")
	clean := strings.TrimSuffix(gqlType, "!")

	if strings.HasPrefix(clean, "[") && strings.HasSuffix(clean, "]") {
		elem := InferFromGraphQL(clean[1 : len(clean)-1])
		return &TypeInfo{Base: TypeArray, GenericArgs: []*TypeInfo{elem}, Nullable: nullable, TypeName: gqlType}
	}
	base, ok := graphqlScalars[clean]
	if !ok {
		base = TypeUnknown
	}
	return &TypeInfo{Base: base, Nullable: nullable, TypeName: clean}
}

// InferFromPythonAnnotation maps a Python-style annotation string
// (int, List[str], Optional[int], Dict[str, int]).
func InferFromPythonAnnotation(annotation string) *TypeInfo {
	annotation = strings.TrimSpace(annotation)

	if inner, ok := stripWrapper(annotation, "Optional["); ok {
		t := InferFromPythonAnnotation(inner)
		t.Nullable = true
		return t
	}
	for _, prefix := range []string{"List[", "list["} {
		if inner, ok := stripWrapper(annotation, prefix); ok {
			return &TypeInfo{Base: TypeArray, GenericArgs: []*TypeInfo{InferFromPythonAnnotation(inner)}}
		}
	}
	for _, prefix := range []string{"Dict[", "dict["} {
		if _, ok := stripWrapper(annotation, prefix); ok {
			return &TypeInfo{Base: TypeObject}
		}
	}

	base, ok := pythonPrimitives[annotation]
	if !ok {
		base = TypeUnknown
	}
	return &TypeInfo{Base: base, TypeName: annotation}
}

func stripWrapper(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) && strings.HasSuffix(s, "]") {
		return s[len(prefix) : len(s)-1], true
	}
	return "", false
}

// InferSchemaTypes maps a flat field->type-string schema (as carried by a
// BoundarySpec) into TypeInfo per field, trying each notation in turn.
func InferSchemaTypes(schema map[string]string) map[string]*TypeInfo {
	out := make(map[string]*TypeInfo, len(schema))
	for field, typeName := range schema {
		out[field] = inferLoose(typeName)
	}
	return out
}

func inferLoose(typeName string) *TypeInfo {
	if t := InferFromPythonAnnotation(typeName); t.Base != TypeUnknown {
		return t
	}
	if t := InferFromProtobuf(typeName); t.Base != TypeUnknown {
		return t
	}
	if t := InferFromGraphQL(typeName); t.Base != TypeUnknown {
		return t
	}
	switch strings.ToLower(typeName) {
	case "integer":
		return &TypeInfo{Base: TypeInt, TypeName: typeName}
	case "number":
		return &TypeInfo{Base: TypeFloat, TypeName: typeName}
	case "boolean":
		return &TypeInfo{Base: TypeBool, TypeName: typeName}
	}
	return &TypeInfo{Base: TypeUnknown, TypeName: typeName}
}

// openapiDoc mirrors the subset of an OpenAPI 3.0 / Swagger document needed
// for boundary extraction.
type openapiDoc struct {
	Info struct {
		Title string `yaml:"title"`
	} `yaml:"info"`
	Paths map[string]map[string]openapiOperation `yaml:"paths"`
}

type openapiOperation struct {
	OperationID string `yaml:"operationId"`
	RequestBody struct {
		Content map[string]struct {
			Schema map[string]interface{} `yaml:"schema"`
		} `yaml:"content"`
	} `yaml:"requestBody"`
	Responses map[string]struct {
		Content map[string]struct {
			Schema map[string]interface{} `yaml:"schema"`
		} `yaml:"content"`
	} `yaml:"responses"`
}

var httpMethods = []string{"get", "post", "put", "patch", "delete"}

// ExtractOpenAPIBoundaries parses an OpenAPI/Swagger YAML (or JSON) document
// and returns one BoundarySpec per path+method operation.
func ExtractOpenAPIBoundaries(content []byte) ([]BoundarySpec, error) {
	var doc openapiDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("openapi parse: %w", err)
	}

	var specs []BoundarySpec
	for path, ops := range doc.Paths {
		for _, method := range httpMethods {
			op, ok := ops[method]
			if !ok {
				continue
			}
			spec := BoundarySpec{
				Protocol:    ProtocolRESTAPI,
				ServiceName: doc.Info.Title,
				Endpoint:    path,
				HTTPMethod:  strings.ToUpper(method),
				Confidence:  0.9,
			}
			for _, body := range op.RequestBody.Content {
				spec.RequestSchema = flattenSchema(body.Schema)
				break
			}
			for code, resp := range op.Responses {
				if !strings.HasPrefix(code, "2") {
					continue
				}
				for _, body := range resp.Content {
					spec.ResponseSchema = flattenSchema(body.Schema)
					break
				}
				break
			}
			specs = append(specs, spec)
		}
	}
	logging.VFGDebug("ExtractOpenAPIBoundaries: %d operations from %q", len(specs), doc.Info.Title)
	return specs, nil
}

// flattenSchema reduces an object schema to field->type-name for boundary
// matching.
func flattenSchema(schema map[string]interface{}) map[string]string {
	props, _ := schema["properties"].(map[string]interface{})
	if props == nil {
		return nil
	}
	out := make(map[string]string, len(props))
	for name, raw := range props {
		sub, _ := raw.(map[string]interface{})
		if t, _ := sub["type"].(string); t != "" {
			out[name] = t
		} else {
			out[name] = "unknown"
		}
	}
	return out
}

// SchemasCompatible checks whether every field of the target schema can be
// fed from the source schema. Used when matching boundary endpoints across
// services.
func SchemasCompatible(source, target map[string]string) bool {
	st := InferSchemaTypes(source)
	tt := InferSchemaTypes(target)
	for field, want := range tt {
		have, ok := st[field]
		if !ok {
			return false
		}
		if r := CheckCompatible(have, want); !r.Compatible {
			return false
		}
	}
	return true
}
