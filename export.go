package treedb

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"treedb/internal/charconv"
	"treedb/keypath"
)

// ExportedValue is one simple-keyed value in an export document.
type ExportedValue struct {
	Key  uint16 `msgpack:"key"`
	Data []byte `msgpack:"data"`
}

// ExportedLongValue is one long-keyed value in an export document. Name
// carries the text decoding of the key when every pair is known.
type ExportedLongValue struct {
	Key  []byte `msgpack:"key"`
	Name string `msgpack:"name,omitempty"`
	Data []byte `msgpack:"data"`
}

// ExportedDir is one directory of an export document.
type ExportedDir struct {
	Path       []string            `msgpack:"path"`
	Values     []ExportedValue     `msgpack:"values,omitempty"`
	LongValues []ExportedLongValue `msgpack:"long_values,omitempty"`
	Data       [][]byte            `msgpack:"data,omitempty"`
	Children   []*ExportedDir      `msgpack:"children,omitempty"`
}

// exportDocument is the top-level export envelope.
type exportDocument struct {
	Session string       `msgpack:"session"`
	File    string       `msgpack:"file"`
	Root    *ExportedDir `msgpack:"root"`
}

// Export serializes the directory subtree at path to msgpack for external
// tooling. Payloads are copied, so the document is independent of the page
// cache.
func (c *Context) Export(w io.Writer, path keypath.Path) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	v, err := c.resolveView(path)
	if err != nil {
		return err
	}
	doc := exportDocument{
		Session: c.id.String(),
		File:    c.path,
		Root:    exportDir(v),
	}
	if err := msgpack.NewEncoder(w).Encode(doc); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	return nil
}

func exportDir(v *View) *ExportedDir {
	dir := &ExportedDir{Path: renderComponents(v.Path())}
	for _, kv := range v.AllValues() {
		dir.Values = append(dir.Values, ExportedValue{Key: kv.Key, Data: bytes.Clone(kv.Data)})
	}
	for _, lv := range v.v.AllLongValues() {
		dir.LongValues = append(dir.LongValues, ExportedLongValue{
			Key:  bytes.Clone(lv.Key),
			Name: decodeName(lv.Key),
			Data: bytes.Clone(lv.Data),
		})
	}
	for _, data := range v.SimpleData() {
		dir.Data = append(dir.Data, bytes.Clone(data))
	}
	for _, sub := range v.Subdirs() {
		dir.Children = append(dir.Children, exportDir(sub))
	}
	return dir
}

// renderComponents renders each path component the way Path.String does,
// one string per component.
func renderComponents(p keypath.Path) []string {
	if len(p) == 0 {
		return nil
	}
	return strings.Split(p.String(), "/")
}

// decodeName returns the text decoding of a long key when every pair is in
// the known mapping, "" otherwise.
func decodeName(key []byte) string {
	if len(key) == 0 || len(key)%2 != 0 {
		return ""
	}
	name := charconv.DecodeBytes(key)
	if strings.ContainsRune(name, '?') {
		return ""
	}
	return name
}
