package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
)

// run parses args like the binary does and returns what the command printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	defer func() { stdout = old }()

	parser, err := kong.New(&CLI, kong.Name("zoostore"), kong.Exit(func(int) { t.Fatalf("kong exited for %v", args) }))
	if err != nil {
		t.Fatalf("kong.New() error = %v", err)
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		t.Fatalf("Parse(%v) error = %v", args, err)
	}
	err = ctx.Run()
	return buf.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%s error = %v", strings.Join(args, " "), err)
	}
	return out
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

const testSchema = `
class Person {
	name string;
	age int32;
}

class Driver extends Person {
	licence string;
}

class Car {
	model string;
	owner ref Person;
}
`

const testDocument = `<?xml version="1.0" encoding="UTF-8"?>
<zoostore version="1">
  <classes>
    <class name="Person"><field name="name" type="string"/><field name="age" type="int32"/></class>
    <class name="Car"><field name="model" type="string"/><field name="owner" type="Person" ref="true"/></class>
  </classes>
  <objects>
    <object class="Person" oid="1"><value name="name">Ann</value><value name="age">31</value></object>
    <object class="Car" oid="2"><value name="model">Beetle</value><value name="owner">1</value></object>
  </objects>
</zoostore>
`

func TestCLI_Workflow(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cars.zdb")

	if out := mustRun(t, "create", db, "--page-size", "1024"); !strings.Contains(out, "page size 1024") {
		t.Errorf("create output = %q", out)
	}

	out := mustRun(t, "define", db, writeFile(t, dir, "cars.zs", testSchema))
	for _, name := range []string{"Person", "Driver", "Car"} {
		if !strings.Contains(out, "Defined "+name) {
			t.Errorf("define output missing %s:\n%s", name, out)
		}
	}

	out = mustRun(t, "classes", db)
	if !strings.Contains(out, "class Driver extends Person {") || !strings.Contains(out, "\towner ref Person;") {
		t.Errorf("classes output:\n%s", out)
	}

	out = mustRun(t, "import", db, writeFile(t, dir, "in.xml", testDocument))
	if !strings.Contains(out, "Imported 2 objects (0 new classes)") {
		t.Errorf("import output = %q", out)
	}

	out = mustRun(t, "dump", db, "Person", "--subclasses")
	if !strings.Contains(out, "Person {name=Ann, age=31}") {
		t.Errorf("dump output = %q", out)
	}

	xmlPath := filepath.Join(dir, "out.xml")
	if out := mustRun(t, "export", db, "-o", xmlPath); !strings.Contains(out, "3 classes and 2 objects") {
		t.Errorf("export output = %q", out)
	}
	exported, err := os.ReadFile(xmlPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(exported), "Beetle") {
		t.Errorf("exported document lacks objects:\n%s", exported)
	}

	mustRun(t, "user", "add", db, "admin", "--password", "secret", "--admin")
	if out := mustRun(t, "user", "list", db); !strings.Contains(out, "admin") || !strings.Contains(out, "password") {
		t.Errorf("user list output = %q", out)
	}

	if out := mustRun(t, "verify", db); !strings.HasPrefix(out, "OK: ") {
		t.Errorf("verify output = %q", out)
	}

	archive := filepath.Join(dir, "cars.tar.gz")
	mustRun(t, "backup", db, archive, "--compression", "gzip")
	if out := mustRun(t, "verify", archive); !strings.HasPrefix(out, "OK: backup of store") {
		t.Errorf("verify archive output = %q", out)
	}

	restored := filepath.Join(dir, "restored.zdb")
	mustRun(t, "restore", archive, restored)
	out = mustRun(t, "info", restored)
	if !strings.Contains(out, "Users:      1") {
		t.Errorf("info output:\n%s", out)
	}
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "empty.zdb")
	mustRun(t, "create", db)

	tests := []struct {
		name string
		args []string
	}{
		{"bad schema", []string{"define", db, writeFile(t, dir, "bad.zs", "class { }")}},
		{"unknown class", []string{"dump", db, "Nope"}},
		{"import without classes", []string{"import", db, writeFile(t, dir, "doc.xml", testDocument)}},
		{"create existing", []string{"create", db}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Errorf("%v error = nil, want error", tt.args)
			}
		})
	}
}

func TestCLI_Version(t *testing.T) {
	if out := mustRun(t, "version"); out != "zoostore version "+version+"\n" {
		t.Errorf("version output = %q", out)
	}
}
