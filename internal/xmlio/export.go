// Package xmlio exports the classes and objects of a store as XML and
// imports such documents into a session.
//
// Document layout:
//
//	<zoostore version="1">
//	  <classes>
//	    <class name="Car" super="Vehicle">
//	      <field name="name" type="string"/>
//	      <field name="owner" type="Person" ref="true"/>
//	    </class>
//	  </classes>
//	  <objects>
//	    <object class="Car" oid="104">
//	      <value name="name">Beetle</value>
//	      <value name="owner">101</value>
//	    </object>
//	  </objects>
//	</zoostore>
//
// Byte arrays are hex encoded. OIDs in a document only identify objects
// within it; import assigns new OIDs and rewrites references.
package xmlio

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/FocuswithJustin/zoostore/core/schema"
	"github.com/FocuswithJustin/zoostore/core/store"
	"github.com/FocuswithJustin/zoostore/internal/logging"
	"github.com/FocuswithJustin/zoostore/internal/schemadef"
)

// FormatVersion is the version attribute of the root element.
const FormatVersion = 1

type classElem struct {
	Name   string      `xml:"name,attr"`
	Super  string      `xml:"super,attr,omitempty"`
	Fields []fieldElem `xml:"field"`
}

type fieldElem struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
	Ref  bool   `xml:"ref,attr,omitempty"`
}

type objectElem struct {
	XMLName xml.Name    `xml:"object"`
	Class   string      `xml:"class,attr"`
	OID     int64       `xml:"oid,attr"`
	Values  []valueElem `xml:"value"`
}

type valueElem struct {
	Name string `xml:"name,attr"`
	Text string `xml:",chardata"`
}

type classesElem struct {
	XMLName xml.Name    `xml:"classes"`
	Classes []classElem `xml:"class"`
}

// Stats counts what an export or import touched.
type Stats struct {
	Classes int
	Objects int
}

// Export writes every class and object visible to sess. sess must have an
// open transaction. Objects are evicted class by class to bound memory.
func Export(w io.Writer, sess *store.Session) (Stats, error) {
	var stats Stats
	schemas, err := sess.Schemas()
	if err != nil {
		return stats, err
	}
	classes, err := orderedSchemas(schemas)
	if err != nil {
		return stats, err
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return stats, err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	root := xml.StartElement{
		Name: xml.Name{Local: "zoostore"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "version"}, Value: fmt.Sprint(FormatVersion)}},
	}
	if err := enc.EncodeToken(root); err != nil {
		return stats, err
	}

	ce := classesElem{}
	for _, c := range classes {
		ce.Classes = append(ce.Classes, toClassElem(c))
	}
	if err := enc.Encode(ce); err != nil {
		return stats, fmt.Errorf("encode classes: %w", err)
	}
	stats.Classes = len(classes)

	objects := xml.StartElement{Name: xml.Name{Local: "objects"}}
	if err := enc.EncodeToken(objects); err != nil {
		return stats, err
	}
	for _, c := range classes {
		n, err := exportExtent(enc, sess, c)
		stats.Objects += n
		if err != nil {
			return stats, fmt.Errorf("export %s: %w", c.Name, err)
		}
		if err := sess.EvictClass(c.Name, false); err != nil {
			return stats, err
		}
	}
	if err := enc.EncodeToken(objects.End()); err != nil {
		return stats, err
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return stats, err
	}
	if err := enc.Flush(); err != nil {
		return stats, err
	}
	_, err = io.WriteString(w, "\n")
	logging.Debug("xml export", "classes", stats.Classes, "objects", stats.Objects)
	return stats, err
}

func exportExtent(enc *xml.Encoder, sess *store.Session, c *schema.ClassSchema) (int, error) {
	ext, err := sess.Extent(c.Name, false)
	if err != nil {
		return 0, err
	}
	defer ext.Close()

	n := 0
	fields := c.AllFields()
	for ext.Next() {
		o := ext.Value()
		elem := objectElem{Class: c.Name, OID: o.OID()}
		for _, f := range fields {
			v, err := o.Get(f.Name)
			if err != nil {
				return n, err
			}
			elem.Values = append(elem.Values, valueElem{Name: f.Name, Text: v.String()})
		}
		if err := enc.Encode(elem); err != nil {
			return n, err
		}
		n++
	}
	return n, ext.Err()
}

func toClassElem(c *schema.ClassSchema) classElem {
	e := classElem{Name: c.Name}
	if c.Super != nil {
		e.Super = c.Super.Name
	}
	for _, f := range c.Fields {
		e.Fields = append(e.Fields, fieldElem{Name: f.Name, Type: f.TypeName, Ref: f.IsRef})
	}
	return e
}

// orderedSchemas puts super classes before their subclasses.
func orderedSchemas(schemas []*schema.ClassSchema) ([]*schema.ClassSchema, error) {
	byName := make(map[string]*schema.ClassSchema, len(schemas))
	decls := make([]schemadef.Class, 0, len(schemas))
	for _, c := range schemas {
		byName[c.Name] = c
		d := schemadef.Class{Name: c.Name, Fields: c.Fields}
		if c.Super != nil {
			d.Super = c.Super.Name
		}
		decls = append(decls, d)
	}
	ordered, err := schemadef.Order(decls, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.ClassSchema, len(ordered))
	for i, d := range ordered {
		out[i] = byName[d.Name]
	}
	return out, nil
}
