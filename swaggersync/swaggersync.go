// Package swaggersync keeps the committed OpenAPI document in sync
// with the `tacobot:openapi` annotations on HTTP handler doc comments.
//
// An annotated handler looks like:
//
//	// getFoo returns foo.
//	//
//	// tacobot:openapi GET /api/v1/foo
//	//
//	//	summary: Get foo
//	//	tags: [foo]
//	//	responses:
//	//	  "200":
//	//	    description: A foo
//	func (a *API) getFoo(c *gin.Context) { ... }
//
// The indented block after the marker line is a YAML fragment holding
// the operation object for that method and path. Scanning the source
// tree yields the set of annotated operations; comparing them against
// the committed document yields drift (operations added or changed in
// code) and orphans (operations present in the document with no
// matching annotation).
package swaggersync

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// annotationMarker introduces an operation annotation in a doc comment.
const annotationMarker = "tacobot:openapi"

var httpMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"PATCH":   true,
	"DELETE":  true,
	"HEAD":    true,
	"OPTIONS": true,
}

// Annotation is one parsed handler annotation: an HTTP method, a path,
// and the YAML operation fragment from the doc comment.
type Annotation struct {
	Method   string
	Path     string
	Fragment map[string]any

	// Where the annotation came from
	File     string
	Line     int
	FuncName string
}

// Key returns the "METHOD path" identity of the operation.
func (a Annotation) Key() string {
	return a.Method + " " + a.Path
}

// ScanDir parses every non-test Go file in dir and returns the
// annotations found on function doc comments, sorted by path then
// method. Duplicate method/path pairs are an error.
func ScanDir(dir string) ([]Annotation, error) {
	fset := token.NewFileSet()
	pkgs, err := parser.ParseDir(
		fset,
		dir,
		func(fi os.FileInfo) bool {
			return !strings.HasSuffix(fi.Name(), "_test.go")
		},
		parser.ParseComments,
	)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", dir, err)
	}

	var annotations []Annotation
	seen := map[string]Annotation{}

	for _, pkg := range pkgs {
		for filename, file := range pkg.Files {
			for _, decl := range file.Decls {
				fn, ok := decl.(*ast.FuncDecl)
				if ok && fn.Doc != nil {
					parsed, parseErr := parseDocComment(
						fn.Doc.Text(),
						filepath.Base(filename),
						fset.Position(fn.Doc.Pos()).Line,
						fn.Name.Name,
					)
					if parseErr != nil {
						return nil, parseErr
					}
					for _, a := range parsed {
						if prev, dup := seen[a.Key()]; dup {
							return nil, fmt.Errorf(
								"duplicate annotation %q in %s:%d (first seen in %s:%d)",
								a.Key(),
								a.File,
								a.Line,
								prev.File,
								prev.Line,
							)
						}
						seen[a.Key()] = a
						annotations = append(annotations, a)
					}
				}
			}
		}
	}

	sort.Slice(
		annotations, func(a, b int) bool {
			if annotations[a].Path != annotations[b].Path {
				return annotations[a].Path < annotations[b].Path
			}
			return annotations[a].Method < annotations[b].Method
		},
	)
	return annotations, nil
}

// parseDocComment extracts annotations from a single doc comment. The
// comment text arrives with the `// ` prefixes already stripped; the
// YAML fragment is the tab-indented block following the marker line.
func parseDocComment(
	text string,
	file string,
	line int,
	funcName string,
) ([]Annotation, error) {
	lines := strings.Split(text, "\n")
	var annotations []Annotation

	for idx := 0; idx < len(lines); idx++ {
		trimmed := strings.TrimSpace(lines[idx])
		if !strings.HasPrefix(trimmed, annotationMarker) {
			continue
		}

		fields := strings.Fields(trimmed)
		if len(fields) != 3 {
			return nil, fmt.Errorf(
				"%s:%d (%s): malformed annotation %q, want %q",
				file,
				line+idx,
				funcName,
				trimmed,
				annotationMarker+" METHOD /path",
			)
		}
		method := strings.ToUpper(fields[1])
		path := fields[2]
		if !httpMethods[method] {
			return nil, fmt.Errorf(
				"%s:%d (%s): unknown HTTP method %q",
				file,
				line+idx,
				funcName,
				fields[1],
			)
		}
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf(
				"%s:%d (%s): path %q must start with /",
				file,
				line+idx,
				funcName,
				path,
			)
		}

		// Collect the indented fragment. Blank lines are allowed
		// inside it; the fragment ends at the first non-blank,
		// non-indented line.
		var fragmentLines []string
		next := idx + 1
		for ; next < len(lines); next++ {
			l := lines[next]
			if strings.TrimSpace(l) == "" {
				fragmentLines = append(fragmentLines, "")
				continue
			}
			if !strings.HasPrefix(l, "\t") {
				break
			}
			fragmentLines = append(fragmentLines, strings.TrimPrefix(l, "\t"))
		}

		fragmentText := strings.TrimRight(
			strings.Join(fragmentLines, "\n"),
			"\n",
		)
		if strings.TrimSpace(fragmentText) == "" {
			return nil, fmt.Errorf(
				"%s:%d (%s): annotation %q has no YAML fragment",
				file,
				line+idx,
				funcName,
				trimmed,
			)
		}

		var fragment map[string]any
		if err := yaml.Unmarshal([]byte(fragmentText), &fragment); err != nil {
			return nil, fmt.Errorf(
				"%s:%d (%s): invalid YAML fragment: %w",
				file,
				line+idx,
				funcName,
				err,
			)
		}

		annotations = append(
			annotations, Annotation{
				Method:   method,
				Path:     path,
				Fragment: fragment,
				File:     file,
				Line:     line + idx,
				FuncName: funcName,
			},
		)
		idx = next - 1
	}
	return annotations, nil
}

// Document is a loaded OpenAPI document.
type Document struct {
	Root map[string]any
}

// LoadDocument reads an OpenAPI YAML document. A missing file yields an
// empty skeleton so the first sync can bootstrap it.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Document{Root: newSkeleton()}, nil
	}
	if err != nil {
		return nil, err
	}

	var root map[string]any
	if err = yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	if root == nil {
		root = newSkeleton()
	}
	if _, ok := root["paths"]; !ok {
		root["paths"] = map[string]any{}
	}
	return &Document{Root: root}, nil
}

func newSkeleton() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "TacoBot API",
			"version": "v1",
		},
		"paths": map[string]any{},
	}
}

// Write marshals the document back to disk.
func (d *Document) Write(path string) error {
	var buf strings.Builder
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.Root); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(buf.String()), 0o644)
}

func (d *Document) paths() map[string]any {
	paths, _ := d.Root["paths"].(map[string]any)
	if paths == nil {
		paths = map[string]any{}
		d.Root["paths"] = paths
	}
	return paths
}

// operation returns the operation object at method/path, or nil.
func (d *Document) operation(method, path string) map[string]any {
	pathItem, _ := d.paths()[path].(map[string]any)
	if pathItem == nil {
		return nil
	}
	op, _ := pathItem[strings.ToLower(method)].(map[string]any)
	return op
}

func (d *Document) setOperation(method, path string, fragment map[string]any) {
	paths := d.paths()
	pathItem, _ := paths[path].(map[string]any)
	if pathItem == nil {
		pathItem = map[string]any{}
		paths[path] = pathItem
	}
	pathItem[strings.ToLower(method)] = fragment
}

func (d *Document) removeOperation(method, path string) {
	paths := d.paths()
	pathItem, _ := paths[path].(map[string]any)
	if pathItem == nil {
		return
	}
	delete(pathItem, strings.ToLower(method))
	if len(pathItem) == 0 {
		delete(paths, path)
	}
}

// OperationRef identifies one operation in the document.
type OperationRef struct {
	Method string
	Path   string
}

func (o OperationRef) String() string {
	return o.Method + " " + o.Path
}

// Diff is the result of comparing annotations against a document.
type Diff struct {
	// Annotated operations missing from the document
	Added []Annotation

	// Annotated operations whose document copy differs
	Changed []Annotation

	// Document operations with no matching annotation
	Orphans []OperationRef
}

// InSync reports whether code and document agree, ignoring orphans.
func (d Diff) InSync() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0
}

// Compare diffs the annotations against the document.
func Compare(doc *Document, annotations []Annotation) Diff {
	var diff Diff
	annotated := map[string]bool{}

	for _, a := range annotations {
		annotated[strings.ToLower(a.Method)+" "+a.Path] = true
		existing := doc.operation(a.Method, a.Path)
		switch {
		case existing == nil:
			diff.Added = append(diff.Added, a)
		case !reflect.DeepEqual(normalize(existing), normalize(a.Fragment)):
			diff.Changed = append(diff.Changed, a)
		}
	}

	var orphans []OperationRef
	for path, item := range doc.paths() {
		pathItem, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for method := range pathItem {
			if !httpMethods[strings.ToUpper(method)] {
				continue
			}
			if !annotated[method+" "+path] {
				orphans = append(
					orphans,
					OperationRef{
						Method: strings.ToUpper(method),
						Path:   path,
					},
				)
			}
		}
	}
	sort.Slice(
		orphans, func(a, b int) bool {
			if orphans[a].Path != orphans[b].Path {
				return orphans[a].Path < orphans[b].Path
			}
			return orphans[a].Method < orphans[b].Method
		},
	)
	diff.Orphans = orphans
	return diff
}

// normalize round-trips a value through YAML so map key types and
// number representations compare consistently.
func normalize(v any) any {
	data, err := yaml.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err = yaml.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// Apply merges the annotations into the document, optionally pruning
// orphans. Returns the diff that was applied.
func Apply(doc *Document, annotations []Annotation, prune bool) Diff {
	diff := Compare(doc, annotations)
	for _, a := range diff.Added {
		doc.setOperation(a.Method, a.Path, a.Fragment)
	}
	for _, a := range diff.Changed {
		doc.setOperation(a.Method, a.Path, a.Fragment)
	}
	if prune {
		for _, orphan := range diff.Orphans {
			doc.removeOperation(orphan.Method, orphan.Path)
		}
	}
	return diff
}
