// Package schemadef parses the class definition language used by the
// zoostore command line tool:
//
//	// comments run to the end of the line
//	class Vehicle {
//		wheels int32;
//	}
//	class Car extends Vehicle {
//		name  string;
//		owner ref Person;
//	}
//
// Field types are the primitive kinds (bool, int8 ... float64, string,
// bytes) or "ref" followed by the name of the referenced class.
// Semicolons after fields are optional.
package schemadef

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/schema"
	"github.com/FocuswithJustin/zoostore/internal/validation"
)

// File is a parsed definition file.
//
//nolint:govet // participle grammar tags are not standard struct tags
type File struct {
	Classes []*ClassDecl `@@*`
}

// ClassDecl is one class declaration.
//
//nolint:govet // participle grammar tags are not standard struct tags
type ClassDecl struct {
	Pos    lexer.Position
	Name   string       `"class" @Ident`
	Super  string       `( "extends" @Ident )?`
	Fields []*FieldDecl `"{" @@* "}"`
}

// FieldDecl is one field of a class.
//
//nolint:govet // participle grammar tags are not standard struct tags
type FieldDecl struct {
	Pos  lexer.Position
	Name string `@Ident`
	Ref  bool   `@"ref"?`
	Type string `@Ident ";"?`
}

var defLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `(?:#|//)[^\n]*`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_.]*`},
	{Name: "Punct", Pattern: `[{};]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var defParser = participle.MustBuild[File](
	participle.Lexer(defLexer),
	participle.Elide("Comment", "Whitespace"),
)

// Class is a checked class declaration ready to be defined in a session.
type Class struct {
	Name   string
	Super  string
	Fields []schema.FieldDef
}

// Parse parses and checks src. filename is only used in error messages.
func Parse(filename, src string) ([]Class, error) {
	f, err := defParser.ParseString(filename, src)
	if err != nil {
		return nil, zerrors.NewParse("class definition", filename, err.Error())
	}

	seen := make(map[string]bool)
	classes := make([]Class, 0, len(f.Classes))
	for _, decl := range f.Classes {
		if err := validation.ValidateClassName(decl.Name); err != nil {
			return nil, zerrors.NewParse("class definition", filename, fmt.Sprintf("%s: %v", decl.Pos, err))
		}
		if seen[decl.Name] {
			return nil, zerrors.NewParse("class definition", filename,
				fmt.Sprintf("%s: class %s declared twice", decl.Pos, decl.Name))
		}
		seen[decl.Name] = true

		cls := Class{Name: decl.Name, Super: decl.Super}
		for _, fd := range decl.Fields {
			def, err := fieldDef(fd)
			if err != nil {
				return nil, zerrors.NewParse("class definition", filename, fmt.Sprintf("%s: %v", fd.Pos, err))
			}
			cls.Fields = append(cls.Fields, def)
		}
		classes = append(classes, cls)
	}
	return classes, nil
}

func fieldDef(fd *FieldDecl) (schema.FieldDef, error) {
	if err := validation.ValidateFieldName(fd.Name); err != nil {
		return schema.FieldDef{}, err
	}
	if fd.Ref {
		if err := validation.ValidateClassName(fd.Type); err != nil {
			return schema.FieldDef{}, err
		}
		return schema.RefField(fd.Name, fd.Type), nil
	}
	k, err := schema.ParsePrimitiveKind(fd.Type)
	if err != nil {
		return schema.FieldDef{}, fmt.Errorf("field %s: %w", fd.Name, err)
	}
	return schema.Field(fd.Name, k), nil
}

// Order sorts classes so that every super class comes before its
// subclasses. exists reports classes that are already defined elsewhere;
// any other super class must be declared in classes.
func Order(classes []Class, exists func(name string) bool) ([]Class, error) {
	byName := make(map[string]Class, len(classes))
	for _, c := range classes {
		byName[c.Name] = c
	}

	const (
		visiting = 1
		done     = 2
	)
	mark := make(map[string]int)
	out := make([]Class, 0, len(classes))
	var visit func(c Class) error
	visit = func(c Class) error {
		switch mark[c.Name] {
		case done:
			return nil
		case visiting:
			return zerrors.NewValidation("class "+c.Name, "inheritance cycle")
		}
		mark[c.Name] = visiting
		if c.Super != "" {
			if super, ok := byName[c.Super]; ok {
				if err := visit(super); err != nil {
					return err
				}
			} else if exists == nil || !exists(c.Super) {
				return zerrors.NewNotFound("class", c.Super)
			}
		}
		mark[c.Name] = done
		out = append(out, c)
		return nil
	}
	for _, c := range classes {
		if err := visit(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Definer is the part of a session Apply needs.
type Definer interface {
	DefineClass(name, superName string, fields []schema.FieldDef) (*schema.ClassSchema, error)
	Schema(name string) (*schema.ClassSchema, error)
}

// Apply defines classes in d, super classes first, and returns the new
// schemas in definition order.
func Apply(d Definer, classes []Class) ([]*schema.ClassSchema, error) {
	ordered, err := Order(classes, func(name string) bool {
		_, err := d.Schema(name)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*schema.ClassSchema, 0, len(ordered))
	for _, c := range ordered {
		cls, err := d.DefineClass(c.Name, c.Super, c.Fields)
		if err != nil {
			return nil, zerrors.Wrapf(err, "define %s", c.Name)
		}
		out = append(out, cls)
	}
	return out, nil
}

// Format writes classes in the definition language, sorted by name.
func Format(classes []*schema.ClassSchema) string {
	sorted := append([]*schema.ClassSchema(nil), classes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	for i, c := range sorted {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "class %s", c.Name)
		if c.Super != nil {
			fmt.Fprintf(&b, " extends %s", c.Super.Name)
		}
		b.WriteString(" {\n")
		for _, f := range c.Fields {
			if f.IsRef {
				fmt.Fprintf(&b, "\t%s ref %s;\n", f.Name, f.TypeName)
			} else {
				fmt.Fprintf(&b, "\t%s %s;\n", f.Name, f.TypeName)
			}
		}
		b.WriteString("}\n")
	}
	return b.String()
}
