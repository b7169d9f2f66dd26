package schema

import (
	"strings"
	"testing"

	"github.com/Iron-Ham/arbiter/internal/errors"
)

const personSchema = `{
  "type": "object",
  "required": ["name", "age"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "age": {"type": "integer", "minimum": 0, "maximum": 3}
  }
}`

func TestValidate(t *testing.T) {
	s := MustCompile("person", []byte(personSchema))

	tests := []struct {
		name    string
		input   string
		wantErr bool
		substr  string
	}{
		{"valid", `{"name":"a","age":2}`, false, ""},
		{"out of range", `{"name":"a","age":5}`, true, "/age"},
		{"missing field", `{"name":"a"}`, true, "age"},
		{"not json", `{"name":`, true, "invalid JSON"},
		{"empty name", `{"name":"","age":0}`, true, "/name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var verr *errors.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *errors.ValidationError, got %T", err)
			}
			if verr.Document != "person" {
				t.Errorf("Document = %q", verr.Document)
			}
			if len(verr.Problems) == 0 {
				t.Fatal("expected at least one problem")
			}
			if !strings.Contains(strings.Join(verr.Problems, "\n"), tt.substr) {
				t.Errorf("problems %v do not mention %q", verr.Problems, tt.substr)
			}
		})
	}
}

func TestValidateValue(t *testing.T) {
	s := MustCompile("person", []byte(personSchema))
	if err := s.ValidateValue(map[string]any{"name": "x", "age": 1}); err != nil {
		t.Errorf("ValidateValue: %v", err)
	}
	if err := s.ValidateValue(map[string]any{"name": "x", "age": 9}); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCompileInvalidSchema(t *testing.T) {
	if _, err := Compile("bad", []byte(`{"type": 12}`)); err == nil {
		t.Error("expected compile error for invalid schema")
	}
	if _, err := Compile("bad", []byte(`{`)); err == nil {
		t.Error("expected unmarshal error")
	}
}
