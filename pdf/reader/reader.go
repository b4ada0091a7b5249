// Package reader parses PDF documents far enough to support incremental
// update signing: header, classic cross-reference tables, the trailer chain,
// and on-demand object resolution.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/aruthen/pdfsign/pdf/generic"
)

// Common errors.
var (
	ErrInvalidDocument = errors.New("invalid PDF document")
	ErrObjectNotFound  = errors.New("object not found")
	ErrUnsupportedXRef = errors.New("cross-reference streams are not supported")
	ErrEncrypted       = errors.New("encrypted documents are not supported")
)

var headerRegexp = regexp.MustCompile(`^%PDF-(\d+\.\d+)`)

// Document is a parsed PDF file. The underlying bytes are retained untouched
// so they can serve as the base of an incremental update.
type Document struct {
	data    []byte
	version string

	xref    map[int]XRefEntry
	trailer *generic.DictionaryObject

	lastXRefOffset int64
	maxObjectNum   int

	objects map[generic.ObjectID]generic.PdfObject
}

// Parse reads a PDF document from data.
func Parse(data []byte) (*Document, error) {
	doc := &Document{
		data:    data,
		xref:    make(map[int]XRefEntry),
		objects: make(map[generic.ObjectID]generic.PdfObject),
	}

	if err := doc.parseHeader(); err != nil {
		return nil, err
	}
	if err := doc.parseXRefChain(); err != nil {
		return nil, err
	}

	if doc.trailer.Has("Encrypt") {
		return nil, ErrEncrypted
	}

	return doc, nil
}

func (d *Document) parseHeader() error {
	if len(d.data) < 8 {
		return fmt.Errorf("%w: file too small", ErrInvalidDocument)
	}

	m := headerRegexp.FindSubmatch(d.data)
	if m == nil {
		return fmt.Errorf("%w: missing %%PDF header", ErrInvalidDocument)
	}
	d.version = string(m[1])
	return nil
}

func (d *Document) parseXRefChain() error {
	idx := bytes.LastIndex(d.data, []byte("startxref"))
	if idx < 0 {
		return fmt.Errorf("%w: missing startxref", ErrInvalidDocument)
	}

	pos := skipSpaceAndEOL(d.data, idx+len("startxref"))
	tok, _ := readToken(d.data, pos)
	offset, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad startxref offset '%s'", ErrInvalidDocument, tok)
	}
	d.lastXRefOffset = offset

	// Walk the Prev chain; the newest table comes first, so first-seen
	// entries take precedence over older ones.
	seen := make(map[int64]bool)
	for {
		if seen[offset] {
			return fmt.Errorf("%w: circular xref chain", ErrInvalidDocument)
		}
		seen[offset] = true

		section, err := parseXRefSection(d.data, offset)
		if err != nil {
			return err
		}

		for num, entry := range section.entries {
			if _, exists := d.xref[num]; !exists {
				d.xref[num] = entry
			}
			if num > d.maxObjectNum {
				d.maxObjectNum = num
			}
		}

		if d.trailer == nil {
			d.trailer = section.trailer
		}

		prev, hasPrev := section.trailer.GetInt("Prev")
		if !hasPrev {
			break
		}
		offset = prev
	}

	if d.trailer == nil || !d.trailer.Has("Root") {
		return fmt.Errorf("%w: trailer has no Root", ErrInvalidDocument)
	}

	return nil
}

// Version returns the version from the file header, e.g. "1.7".
func (d *Document) Version() string {
	return d.version
}

// Bytes returns the raw document bytes.
func (d *Document) Bytes() []byte {
	return d.data
}

// Trailer returns the most recent trailer dictionary.
func (d *Document) Trailer() *generic.DictionaryObject {
	return d.trailer
}

// LastXRefOffset returns the offset of the most recent xref table, for use
// as Prev in an incremental update.
func (d *Document) LastXRefOffset() int64 {
	return d.lastXRefOffset
}

// MaxObjectNumber returns the highest object number in the file.
func (d *Document) MaxObjectNumber() int {
	return d.maxObjectNum
}

// Object resolves an indirect reference to its object.
func (d *Document) Object(ref generic.Reference) (generic.PdfObject, error) {
	if obj, ok := d.objects[ref.ObjectID]; ok {
		return obj, nil
	}

	entry, ok := d.xref[ref.Number]
	if !ok || !entry.InUse {
		return nil, fmt.Errorf("%w: %d %d R", ErrObjectNotFound, ref.Number, ref.Generation)
	}
	if entry.Generation != ref.Generation {
		return nil, fmt.Errorf("%w: %d %d R (have generation %d)", ErrObjectNotFound, ref.Number, ref.Generation, entry.Generation)
	}
	if entry.Offset < 0 || entry.Offset >= int64(len(d.data)) {
		return nil, fmt.Errorf("%w: offset %d out of bounds for %d %d R", ErrInvalidDocument, entry.Offset, ref.Number, ref.Generation)
	}

	indirect, err := generic.NewParserAt(d.data, int(entry.Offset)).ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("%w: object %d %d R: %v", ErrInvalidDocument, ref.Number, ref.Generation, err)
	}
	if indirect.ID.Number != ref.Number {
		return nil, fmt.Errorf("%w: xref points %d %d R at object %s", ErrInvalidDocument, ref.Number, ref.Generation, indirect.ID)
	}

	d.objects[ref.ObjectID] = indirect.Object
	return indirect.Object, nil
}

// Resolve dereferences obj if it is a reference, otherwise returns it as is.
func (d *Document) Resolve(obj generic.PdfObject) (generic.PdfObject, error) {
	if ref, ok := obj.(generic.Reference); ok {
		return d.Object(ref)
	}
	return obj, nil
}

// ResolveDict resolves obj and asserts it is a dictionary.
func (d *Document) ResolveDict(obj generic.PdfObject) (*generic.DictionaryObject, error) {
	resolved, err := d.Resolve(obj)
	if err != nil {
		return nil, err
	}
	dict, ok := resolved.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: expected dictionary, got %T", ErrInvalidDocument, resolved)
	}
	return dict, nil
}

// RootRef returns the catalog reference from the trailer.
func (d *Document) RootRef() (generic.Reference, error) {
	ref, ok := d.trailer.GetReference("Root")
	if !ok {
		return generic.Reference{}, fmt.Errorf("%w: trailer Root is not a reference", ErrInvalidDocument)
	}
	return ref, nil
}

// Catalog returns the document catalog dictionary.
func (d *Document) Catalog() (*generic.DictionaryObject, error) {
	ref, err := d.RootRef()
	if err != nil {
		return nil, err
	}
	return d.ResolveDict(ref)
}

// FirstPage walks the page tree and returns the reference and dictionary of
// the first page.
func (d *Document) FirstPage() (generic.Reference, *generic.DictionaryObject, error) {
	catalog, err := d.Catalog()
	if err != nil {
		return generic.Reference{}, nil, err
	}

	ref, ok := catalog.GetReference("Pages")
	if !ok {
		return generic.Reference{}, nil, fmt.Errorf("%w: catalog has no Pages reference", ErrInvalidDocument)
	}

	node, err := d.ResolveDict(ref)
	if err != nil {
		return generic.Reference{}, nil, err
	}

	// Descend through intermediate Pages nodes. Depth is bounded to guard
	// against cyclic trees.
	for depth := 0; depth < 64; depth++ {
		if node.GetName("Type") == "Page" {
			return ref, node, nil
		}

		kids := node.GetArray("Kids")
		if len(kids) == 0 {
			return generic.Reference{}, nil, fmt.Errorf("%w: page tree node has no kids", ErrInvalidDocument)
		}

		kidRef, ok := kids[0].(generic.Reference)
		if !ok {
			return generic.Reference{}, nil, fmt.Errorf("%w: page tree kid is not a reference", ErrInvalidDocument)
		}
		ref = kidRef
		node, err = d.ResolveDict(ref)
		if err != nil {
			return generic.Reference{}, nil, err
		}
	}

	return generic.Reference{}, nil, fmt.Errorf("%w: page tree too deep", ErrInvalidDocument)
}
