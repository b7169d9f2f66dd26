// Package signals computes the deterministic facts attached to a proposal
// when an agent submits it: risk signals from the Go AST of the changed
// file, a scan of its module-internal imports, and scope checks against the
// agent's assignment.
//
// Every signal has a safe default. A file that cannot be parsed, or is not
// Go, is never mechanical and is assumed to change its public API.
package signals

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"maps"
	"reflect"
	"strconv"
	"strings"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

// AST change type vocabulary.
const (
	ASTMechanical = "mechanical"
	ASTStructural = "structural"
	ASTBehavioral = "behavioral"
)

// DefaultHighFanInThreshold is the number of dependent records that makes a
// module high fan-in.
const DefaultHighFanInThreshold = 3

// Source is one file at the base and head revisions.
type Source struct {
	Path string
	// BaseExists is false for a file added on the branch.
	BaseExists bool
	Base       []byte
	Head       []byte
}

// IsGo reports whether the file is Go source.
func (s Source) IsGo() bool {
	return strings.HasSuffix(s.Path, ".go")
}

func parseFile(src []byte) (*ast.File, bool) {
	f, err := parser.ParseFile(token.NewFileSet(), "", src, parser.SkipObjectResolution)
	if err != nil {
		return nil, false
	}
	return f, true
}

// MechanicalOnly reports whether head has the same syntax tree as base once
// positions and comments are ignored. New files and parse failures are not
// mechanical.
func MechanicalOnly(s Source) bool {
	if !s.BaseExists || !s.IsGo() {
		return false
	}
	base, ok := parseFile(s.Base)
	if !ok {
		return false
	}
	head, ok := parseFile(s.Head)
	if !ok {
		return false
	}
	return canonical(base) == canonical(head)
}

var (
	posType     = reflect.TypeFor[token.Pos]()
	commentType = reflect.TypeFor[*ast.CommentGroup]()
	objectType  = reflect.TypeFor[*ast.Object]()
	scopeType   = reflect.TypeFor[*ast.Scope]()
)

// canonical renders a syntax tree without positions, comments or resolver
// state, so two files that differ only in layout render identically.
func canonical(f *ast.File) string {
	var sb strings.Builder
	dump(&sb, reflect.ValueOf(f))
	return sb.String()
}

func dump(sb *strings.Builder, v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			sb.WriteString("nil")
			return
		}
		dump(sb, v.Elem())
	case reflect.Struct:
		t := v.Type()
		sb.WriteString(t.Name())
		sb.WriteByte('{')
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			switch f.Type {
			case posType, commentType, objectType, scopeType:
				continue
			}
			// File.Imports and File.Unresolved repeat nodes already in Decls.
			if t == reflect.TypeFor[ast.File]() && (f.Name == "Comments" || f.Name == "Imports" || f.Name == "Unresolved") {
				continue
			}
			sb.WriteString(f.Name)
			sb.WriteByte(':')
			dump(sb, v.Field(i))
			sb.WriteByte(' ')
		}
		sb.WriteByte('}')
	case reflect.Slice:
		sb.WriteByte('[')
		for i := range v.Len() {
			if i > 0 {
				sb.WriteByte(',')
			}
			dump(sb, v.Index(i))
		}
		sb.WriteByte(']')
	default:
		fmt.Fprintf(sb, "%v", v.Interface())
	}
}

// PublicAPIChanged reports whether the exported top-level declarations of
// the file were added, removed, or changed signature. New files and parse
// failures count as a change.
func PublicAPIChanged(s Source) bool {
	if !s.BaseExists || !s.IsGo() {
		return true
	}
	base, ok := parseFile(s.Base)
	if !ok {
		return true
	}
	head, ok := parseFile(s.Head)
	if !ok {
		return true
	}
	return !maps.Equal(apiSurface(base), apiSurface(head))
}

// apiSurface maps each exported declaration to its signature.
func apiSurface(f *ast.File) map[string]string {
	out := make(map[string]string)
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if !d.Name.IsExported() {
				continue
			}
			key := "func " + d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				recv := receiverName(d.Recv.List[0].Type)
				if !ast.IsExported(recv) {
					continue
				}
				key = "func (" + recv + ") " + d.Name.Name
			}
			out[key] = fieldList(d.Type.TypeParams) + types.ExprString(d.Type)
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch sp := spec.(type) {
				case *ast.TypeSpec:
					if sp.Name.IsExported() {
						out["type "+sp.Name.Name] = fieldList(sp.TypeParams) + typeSignature(sp.Type)
					}
				case *ast.ValueSpec:
					for _, name := range sp.Names {
						if !name.IsExported() {
							continue
						}
						sig := ""
						if sp.Type != nil {
							sig = types.ExprString(sp.Type)
						}
						out[d.Tok.String()+" "+name.Name] = sig
					}
				}
			}
		}
	}
	return out
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return types.ExprString(expr)
	}
}

// typeSignature renders a type definition. Structs contribute only their
// exported fields.
func typeSignature(expr ast.Expr) string {
	st, ok := expr.(*ast.StructType)
	if !ok {
		return types.ExprString(expr)
	}
	var parts []string
	for _, field := range st.Fields.List {
		typ := types.ExprString(field.Type)
		if len(field.Names) == 0 {
			if ast.IsExported(receiverName(field.Type)) {
				parts = append(parts, typ)
			}
			continue
		}
		for _, name := range field.Names {
			if name.IsExported() {
				parts = append(parts, name.Name+" "+typ)
			}
		}
	}
	return "struct{" + strings.Join(parts, "; ") + "}"
}

func fieldList(fl *ast.FieldList) string {
	if fl == nil || len(fl.List) == 0 {
		return ""
	}
	var parts []string
	for _, field := range fl.List {
		typ := types.ExprString(field.Type)
		for _, name := range field.Names {
			parts = append(parts, name.Name+" "+typ)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// TouchesPatterns reports whether any identifier in head equals one of the
// security patterns, case-sensitively. Parse failures report false.
func TouchesPatterns(s Source, patterns []string) bool {
	if len(patterns) == 0 || !s.IsGo() {
		return false
	}
	f, ok := parseFile(s.Head)
	if !ok {
		return false
	}
	want := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		want[p] = true
	}
	found := false
	ast.Inspect(f, func(n ast.Node) bool {
		if found {
			return false
		}
		if id, ok := n.(*ast.Ident); ok && want[id.Name] {
			found = true
		}
		return true
	})
	return found
}

// Imports returns the import paths of head in source order. Parse failures
// return nil.
func Imports(head []byte) []string {
	f, err := parser.ParseFile(token.NewFileSet(), "", head, parser.ImportsOnly)
	if err != nil {
		return nil
	}
	var out []string
	for _, spec := range f.Imports {
		if p, err := strconv.Unquote(spec.Path.Value); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// InvariantReferenced reports whether a record that touches invariants
// lists path as a dependency.
func InvariantReferenced(path string, records []knowledge.StateRecord) bool {
	path = knowledge.NormalizePath(path)
	for _, rec := range records {
		if len(rec.InvariantsTouched) == 0 {
			continue
		}
		for _, d := range rec.Dependencies {
			if knowledge.NormalizePath(d) == path {
				return true
			}
		}
	}
	return false
}

// HighFanIn reports whether at least threshold records depend on path.
func HighFanIn(path string, records []knowledge.StateRecord, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultHighFanInThreshold
	}
	snap := knowledge.Snapshot{State: records}
	return len(snap.Dependents(path)) >= threshold
}

// ASTChangeType names the shape of a change: mechanical first, then
// structural when the public API changed, else behavioral.
func ASTChangeType(mechanical, publicAPI bool) string {
	switch {
	case mechanical:
		return ASTMechanical
	case publicAPI:
		return ASTStructural
	default:
		return ASTBehavioral
	}
}

// RiskSignals computes every signal for one file. mechanical_only holds
// only when the AST is unchanged and no other risk signal fired.
func RiskSignals(s Source, records []knowledge.StateRecord, securityPatterns []string, fanInThreshold int) knowledge.RiskSignals {
	mech := MechanicalOnly(s)
	api := PublicAPIChanged(s)
	auth := TouchesPatterns(s, securityPatterns)
	inv := InvariantReferenced(s.Path, records)
	fanIn := HighFanIn(s.Path, records, fanInThreshold)
	change := ASTChangeType(mech, api)

	return knowledge.RiskSignals{
		TouchedAuthOrPermissionPatterns: auth,
		PublicAPISignatureChanged:       api,
		InvariantReferencedFileModified: inv,
		HighFanInModuleModified:         fanIn,
		ASTChangeType:                   change,
		MechanicalOnly:                  change == ASTMechanical && !auth && !inv && !fanIn,
	}
}
