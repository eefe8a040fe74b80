package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"slideseg/pkg/config"
)

func TestListSlides(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.tif", "a.svs.png", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	slides, err := listSlides(dir)
	if err != nil {
		t.Fatalf("listSlides failed: %v", err)
	}
	want := []string{filepath.Join(dir, "a.svs.png"), filepath.Join(dir, "b.tif")}
	if !reflect.DeepEqual(slides, want) {
		t.Errorf("Expected %v, got %v", want, slides)
	}

	single, err := listSlides(filepath.Join(dir, "b.tif"))
	if err != nil || len(single) != 1 {
		t.Errorf("Expected the file itself, got %v, %v", single, err)
	}

	if _, err := listSlides(filepath.Join(dir, "missing")); err == nil {
		t.Error("Expected an error for a missing path")
	}
}

func TestApplyOverrides(t *testing.T) {
	p := config.DefaultParams()
	applyOverrides(p, "", "", "", 0, "", false)
	if !reflect.DeepEqual(p, config.DefaultParams()) {
		t.Error("Empty overrides must not change parameters")
	}

	applyOverrides(p, "s/", "x/", "o/", 3, "20.0", true)
	if p.SlidePath != "s/" || p.XMLPath != "x/" || p.OutputDir != "o/" || p.CPUs != 3 || p.Level != "20.0" || !p.Convert {
		t.Errorf("Overrides not applied: %+v", p)
	}
}
