package annotation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleXML = `<?xml version="1.0"?>
<Annotations>
  <Annotation Id="1">
    <Regions>
      <Region Id="1" Text="tumor">
        <Vertices>
          <Vertex X="2" Y="2"/>
          <Vertex X="12" Y="2"/>
          <Vertex X="12" Y="12"/>
          <Vertex X="2" Y="12"/>
        </Vertices>
      </Region>
      <Region Id="2" Text="Stroma">
        <Vertices>
          <Vertex X="8" Y="8"/>
          <Vertex X="18" Y="8"/>
          <Vertex X="18" Y="18"/>
          <Vertex X="8" Y="18"/>
        </Vertices>
      </Region>
    </Regions>
  </Annotation>
</Annotations>
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func regionXML(labels ...string) string {
	var sb strings.Builder
	sb.WriteString("<Annotations><Regions>")
	for _, l := range labels {
		sb.WriteString(`<Region Text="` + l + `"><Vertices><Vertex X="0" Y="0"/><Vertex X="4" Y="0"/><Vertex X="4" Y="4"/></Vertices></Region>`)
	}
	sb.WriteString("</Regions></Annotations>")
	return sb.String()
}

func TestAllocateAssignsDescendingCodes(t *testing.T) {
	r := NewRegistry("")

	tests := []struct {
		label string
		code  int
	}{
		{"tumor", 255},
		{"STROMA", 254},
		{"Tumor", 255},
		{"necrosis", 253},
	}
	for _, tt := range tests {
		code, err := r.Allocate(tt.label)
		if err != nil {
			t.Fatalf("Allocate(%q) failed: %v", tt.label, err)
		}
		if code != tt.code {
			t.Errorf("Allocate(%q) = %d, want %d", tt.label, code, tt.code)
		}
	}

	if r.Len() != 3 {
		t.Errorf("Expected 3 labels, got %d", r.Len())
	}
	if code, ok := r.CodeFor("stroma"); !ok || code != 254 {
		t.Errorf("CodeFor(stroma) = %d, %v", code, ok)
	}
}

func TestAllocateExhaustsCodes(t *testing.T) {
	r := NewRegistry("")
	r.codes["LAST"] = 1
	if _, err := r.Allocate("ONE MORE"); !errors.Is(err, ErrCodesExhausted) {
		t.Errorf("Expected ErrCodesExhausted, got %v", err)
	}
	if _, ok := r.CodeFor("ONE MORE"); ok {
		t.Error("Failed allocation must not register the label")
	}
}

func TestAllocatePersistsKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Annotation_Key.txt")
	r := NewRegistry(path)
	if _, err := r.Allocate("tumor"); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if _, err := r.Allocate("adipose"); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read key file: %v", err)
	}

	want := "Key: ADIPOSE" + strings.Repeat(" ", 65-12-18) + "Mask_Color: [254]\n" +
		"Key: TUMOR" + strings.Repeat(" ", 65-10-18) + "Mask_Color: [255]\n"
	if string(data) != want {
		t.Errorf("Unexpected key file:\n%q\nwant:\n%q", data, want)
	}

	loaded, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	if code, ok := loaded.CodeFor("ADIPOSE"); !ok || code != 254 {
		t.Errorf("Expected ADIPOSE=254 after reload, got %d, %v", code, ok)
	}
}

func TestReadKeyFileLegacyLayout(t *testing.T) {
	content := "Key: BLOOD VESSEL                              Mask_Color: [252]\r\n" +
		"\n" +
		"Key: TUMOR                                     Mask_Color: [255]\n"
	codes, err := ReadKeyFile(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ReadKeyFile failed: %v", err)
	}
	if codes["BLOOD VESSEL"] != 252 || codes["TUMOR"] != 255 {
		t.Errorf("Unexpected codes: %v", codes)
	}

	if _, err := ReadKeyFile(strings.NewReader("TUMOR 255\n")); err == nil {
		t.Error("Expected an error for a malformed line")
	}
}

func TestBootstrapFirstSeenOrder(t *testing.T) {
	dir := t.TempDir()
	xmlDir := filepath.Join(dir, "xml")
	writeFile(t, filepath.Join(xmlDir, "b.xml"), regionXML("Necrosis", "Tumor"))
	writeFile(t, filepath.Join(xmlDir, "a.xml"), regionXML("Tumor", "Stroma", "tumor"))
	writeFile(t, filepath.Join(xmlDir, "notes.txt"), "not xml")

	r, err := Bootstrap(filepath.Join(dir, "key.txt"), xmlDir)
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	want := map[string]int{"TUMOR": 255, "STROMA": 254, "NECROSIS": 253}
	for label, code := range want {
		if got, ok := r.CodeFor(label); !ok || got != code {
			t.Errorf("%s: got %d (%v), want %d", label, got, ok, code)
		}
	}
}

func TestBootstrapIdempotent(t *testing.T) {
	dir := t.TempDir()
	xmlDir := filepath.Join(dir, "xml")
	keyPath := filepath.Join(dir, "key.txt")
	writeFile(t, filepath.Join(xmlDir, "slide1.xml"), regionXML("Tumor", "Stroma"))

	if _, err := Bootstrap(keyPath, xmlDir); err != nil {
		t.Fatalf("First bootstrap failed: %v", err)
	}
	first, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatalf("Failed to read key file: %v", err)
	}

	if _, err := Bootstrap(keyPath, xmlDir); err != nil {
		t.Fatalf("Second bootstrap failed: %v", err)
	}
	second, err := os.ReadFile(keyPath)
	if err != nil {
		t.Fatalf("Failed to read key file: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("Bootstrap changed the table:\n%s\nvs\n%s", first, second)
	}
}

func TestBootstrapExtendsExistingTable(t *testing.T) {
	dir := t.TempDir()
	xmlDir := filepath.Join(dir, "xml")
	keyPath := filepath.Join(dir, "key.txt")

	existing := NewRegistry(keyPath)
	if _, err := existing.Allocate("STROMA"); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	writeFile(t, filepath.Join(xmlDir, "slide1.xml"), regionXML("Tumor", "Stroma"))

	r, err := Bootstrap(keyPath, xmlDir)
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if code, _ := r.CodeFor("STROMA"); code != 255 {
		t.Errorf("Existing label was renumbered to %d", code)
	}
	if code, _ := r.CodeFor("TUMOR"); code != 254 {
		t.Errorf("Expected TUMOR=254, got %d", code)
	}
}

func TestOpenRegistryGeneratesMissingKey(t *testing.T) {
	dir := t.TempDir()
	xmlDir := filepath.Join(dir, "xml")
	keyPath := filepath.Join(dir, "out", "key.txt")
	writeFile(t, filepath.Join(xmlDir, "slide.xml"), sampleXML)

	r, err := OpenRegistry(keyPath, xmlDir)
	if err != nil {
		t.Fatalf("OpenRegistry failed: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 labels, got %d", r.Len())
	}
	if _, err := os.Stat(keyPath); err != nil {
		t.Errorf("Expected key file to be written: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Dir(keyPath))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("Temporary file %s left behind", e.Name())
		}
	}
}
