package xmlio

import (
	"fmt"
	"io"
	"strconv"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	zerrors "github.com/FocuswithJustin/zoostore/core/errors"
	"github.com/FocuswithJustin/zoostore/core/schema"
	"github.com/FocuswithJustin/zoostore/core/store"
	"github.com/FocuswithJustin/zoostore/internal/logging"
	"github.com/FocuswithJustin/zoostore/internal/schemadef"
	"github.com/FocuswithJustin/zoostore/internal/validation"
)

var (
	rootExpr   = xpath.MustCompile("/zoostore")
	classExpr  = xpath.MustCompile("/zoostore/classes/class")
	fieldExpr  = xpath.MustCompile("field")
	objectExpr = xpath.MustCompile("/zoostore/objects/object")
	valueExpr  = xpath.MustCompile("value")
)

// ImportOptions controls Import.
type ImportOptions struct {
	// AutoCreate defines classes of the document that the store does not
	// have yet. Without it such classes are an error.
	AutoCreate bool
}

// Import reads a document written by Export into sess, which must have an
// open transaction. Nothing is committed; the caller decides.
func Import(r io.Reader, sess *store.Session, opts ImportOptions) (Stats, error) {
	var stats Stats
	doc, err := xmlquery.Parse(validation.LimitReader(r, validation.MaxImportSize))
	if err != nil {
		return stats, zerrors.NewParse("xml", "", err.Error())
	}
	root := xmlquery.QuerySelector(doc, rootExpr)
	if root == nil {
		return stats, zerrors.NewParse("xml", "", "missing zoostore root element")
	}
	if v := root.SelectAttr("version"); v != strconv.Itoa(FormatVersion) {
		return stats, zerrors.NewUnsupported("xml format version", v)
	}

	created, err := importClasses(doc, sess, opts)
	if err != nil {
		return stats, err
	}
	stats.Classes = created

	n, err := importObjects(doc, sess)
	stats.Objects = n
	if err != nil {
		return stats, err
	}
	logging.Debug("xml import", "classes", stats.Classes, "objects", stats.Objects)
	return stats, nil
}

func importClasses(doc *xmlquery.Node, sess *store.Session, opts ImportOptions) (int, error) {
	var missing []schemadef.Class
	for _, n := range xmlquery.QuerySelectorAll(doc, classExpr) {
		decl := schemadef.Class{Name: n.SelectAttr("name"), Super: n.SelectAttr("super")}
		if err := validation.ValidateClassName(decl.Name); err != nil {
			return 0, zerrors.NewParse("xml", "", err.Error())
		}
		for _, f := range xmlquery.QuerySelectorAll(n, fieldExpr) {
			def := schema.FieldDef{
				Name:     f.SelectAttr("name"),
				TypeName: f.SelectAttr("type"),
				IsRef:    f.SelectAttr("ref") == "true",
			}
			if err := validation.ValidateFieldName(def.Name); err != nil {
				return 0, zerrors.NewParse("xml", "", fmt.Sprintf("class %s: %v", decl.Name, err))
			}
			decl.Fields = append(decl.Fields, def)
		}

		existing, err := sess.Schema(decl.Name)
		switch {
		case err == nil:
			if err := compatible(existing, decl); err != nil {
				return 0, err
			}
		case zerrors.Is(err, zerrors.ErrNotFound):
			if !opts.AutoCreate {
				return 0, fmt.Errorf("import: %w (enable automatic schema creation to define it)", err)
			}
			missing = append(missing, decl)
		default:
			return 0, err
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	defined, err := schemadef.Apply(sess, missing)
	return len(defined), err
}

// compatible checks that every field of decl exists in cls with the same type.
func compatible(cls *schema.ClassSchema, decl schemadef.Class) error {
	for _, f := range decl.Fields {
		have, ok := cls.FieldByName(f.Name)
		if !ok {
			return zerrors.NewValidation("class "+cls.Name, fmt.Sprintf("store has no field %q", f.Name))
		}
		if have.TypeName != f.TypeName || have.IsRef != f.IsRef {
			return zerrors.NewValidation("class "+cls.Name,
				fmt.Sprintf("field %q is %s in the store and %s in the document", f.Name, have.TypeName, f.TypeName))
		}
	}
	return nil
}

type pendingRef struct {
	obj   *schema.GenericObject
	field string
	old   int64
}

func importObjects(doc *xmlquery.Node, sess *store.Session) (int, error) {
	remap := make(map[int64]int64)
	var refs []pendingRef
	count := 0

	for _, n := range xmlquery.QuerySelectorAll(doc, objectExpr) {
		className := n.SelectAttr("class")
		oldOID, err := strconv.ParseInt(n.SelectAttr("oid"), 10, 64)
		if err != nil {
			return count, zerrors.NewParse("xml", "", fmt.Sprintf("object of class %s: bad oid %q", className, n.SelectAttr("oid")))
		}
		o, err := sess.NewObject(className)
		if err != nil {
			return count, err
		}
		for _, v := range xmlquery.QuerySelectorAll(n, valueExpr) {
			name := v.SelectAttr("name")
			f, ok := o.Class().FieldByName(name)
			if !ok {
				return count, zerrors.NewNotFound("field", className+"."+name)
			}
			k, err := f.Kind()
			if err != nil {
				return count, err
			}
			val, err := schema.ParseValue(k, v.InnerText())
			if err != nil {
				return count, zerrors.NewParse("xml", "", fmt.Sprintf("object %d field %s: %v", oldOID, name, err))
			}
			if k == schema.KindRef {
				if val.AsRef() != 0 {
					refs = append(refs, pendingRef{obj: o, field: name, old: val.AsRef()})
				}
				continue
			}
			if err := o.SetValue(name, val); err != nil {
				return count, err
			}
		}
		oid, err := sess.MakePersistent(o)
		if err != nil {
			return count, err
		}
		remap[oldOID] = oid
		count++
	}

	// References to objects outside the document are kept as they are.
	for _, r := range refs {
		target := r.old
		if oid, ok := remap[r.old]; ok {
			target = oid
		}
		if err := r.obj.Set(r.field, target); err != nil {
			return count, err
		}
	}
	return count, nil
}
