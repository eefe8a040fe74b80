package annotation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"slideseg/internal/models"
)

const (
	// FirstCode is assigned to the first label ever discovered
	FirstCode = 255

	// keyFileWidth is the column the Mask_Color field is right-aligned to
	keyFileWidth = 65
)

// ErrCodesExhausted is returned when no mask value above background remains
var ErrCodesExhausted = errors.New("no color codes left")

// Registry maps uppercased annotation labels to mask values. New labels get
// (minimum existing code) - 1, so discovery order decides the assignment.
// When the registry is backed by a file, every allocation rewrites it.
type Registry struct {
	mu    sync.Mutex
	path  string
	codes map[string]int
}

// NewRegistry creates an empty registry persisted at path. An empty path
// keeps the registry in memory only.
func NewRegistry(path string) *Registry {
	return &Registry{path: path, codes: make(map[string]int)}
}

// LoadRegistry reads an existing key file
func LoadRegistry(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open annotation key: %w", err)
	}
	defer f.Close()

	codes, err := ReadKeyFile(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotation key %s: %w", path, err)
	}

	return &Registry{path: path, codes: codes}, nil
}

// OpenRegistry loads the key file at path, generating it from the XML files in
// xmlDir when it does not exist yet
func OpenRegistry(path, xmlDir string) (*Registry, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Bootstrap(path, xmlDir)
	}
	return LoadRegistry(path)
}

// Bootstrap assigns a code to every distinct region label found in the XML
// files of xmlDir, visiting files in lexical order and regions in document
// order. Labels already present in the key file at path keep their codes.
func Bootstrap(path, xmlDir string) (*Registry, error) {
	r := NewRegistry(path)
	if _, err := os.Stat(path); err == nil {
		loaded, err := LoadRegistry(path)
		if err != nil {
			return nil, err
		}
		r = loaded
	}

	entries, err := os.ReadDir(xmlDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotation directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, name := range files {
		labels, err := scanLabels(filepath.Join(xmlDir, name))
		if err != nil {
			return nil, err
		}
		for _, label := range labels {
			if _, ok := r.codes[label]; ok {
				continue
			}
			code, err := r.nextCode()
			if err != nil {
				return nil, err
			}
			r.codes[label] = code
			changed = true
		}
	}

	if changed || !fileExists(path) {
		if err := r.persist(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// CodeFor returns the code of a label
func (r *Registry) CodeFor(label string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[strings.ToUpper(label)]
	return code, ok
}

// Allocate returns the code of a label, assigning and persisting a new one
// if the label is unknown
func (r *Registry) Allocate(label string) (int, error) {
	label = strings.ToUpper(label)

	r.mu.Lock()
	defer r.mu.Unlock()

	if code, ok := r.codes[label]; ok {
		return code, nil
	}

	code, err := r.nextCode()
	if err != nil {
		return 0, err
	}
	r.codes[label] = code

	if err := r.persist(); err != nil {
		delete(r.codes, label)
		return 0, err
	}
	return code, nil
}

// Annotations returns every label and code sorted by label
func (r *Registry) Annotations() []models.Annotation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedAnnotations(r.codes)
}

// Len returns the number of known labels
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

// nextCode must be called with the lock held
func (r *Registry) nextCode() (int, error) {
	if len(r.codes) == 0 {
		return FirstCode, nil
	}
	min := FirstCode + 1
	for _, c := range r.codes {
		if c < min {
			min = c
		}
	}
	if min-1 < 1 {
		return 0, ErrCodesExhausted
	}
	return min - 1, nil
}

// persist atomically replaces the key file. Must be called with the lock held.
func (r *Registry) persist() error {
	if r.path == "" {
		return nil
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create annotation key directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create annotation key: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteKeyFile(tmp, sortedAnnotations(r.codes)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write annotation key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write annotation key: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace annotation key: %w", err)
	}
	return nil
}

// ReadKeyFile parses an annotation key. Each line holds
// "Key: LABEL" followed by a right-aligned "Mask_Color: [code]".
func ReadKeyFile(rd io.Reader) (map[string]int, error) {
	codes := make(map[string]int)
	scanner := bufio.NewScanner(rd)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		marker := strings.Index(line, "Mask_")
		if !strings.HasPrefix(line, "Key: ") || marker < 0 {
			return nil, fmt.Errorf("line %d: malformed entry %q", lineNo, line)
		}
		label := strings.TrimRight(line[5:marker], " \t")

		open := strings.LastIndex(line, "[")
		end := strings.LastIndex(line, "]")
		if open < marker || end < open {
			return nil, fmt.Errorf("line %d: missing color code in %q", lineNo, line)
		}
		code, err := strconv.Atoi(strings.TrimSpace(line[open+1 : end]))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad color code: %w", lineNo, err)
		}
		codes[label] = code
	}
	return codes, scanner.Err()
}

// WriteKeyFile writes annotations in key file layout
func WriteKeyFile(w io.Writer, annotations []models.Annotation) error {
	bw := bufio.NewWriter(w)
	for _, a := range annotations {
		keyline := "Key: " + a.Label
		value := fmt.Sprintf("Mask_Color: [%d]\n", a.Code)
		if _, err := bw.WriteString(keyline + RightJustify(value, keyFileWidth-len(keyline))); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// RightJustify left-pads s with spaces to width characters
func RightJustify(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func sortedAnnotations(codes map[string]int) []models.Annotation {
	out := make([]models.Annotation, 0, len(codes))
	for label, code := range codes {
		out = append(out, models.Annotation{Label: label, Code: code})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
