// Package writer appends incremental updates to existing PDF documents.
// Updates never touch the original bytes, which keeps any signature over an
// earlier revision intact.
package writer

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"

	"github.com/aruthen/pdfsign/pdf/generic"
	"github.com/aruthen/pdfsign/pdf/reader"
)

// Common errors.
var (
	ErrInvalidTransition = errors.New("invalid signing state transition")
	ErrSignatureTooLarge = errors.New("signature does not fit in the reserved Contents space")
	ErrSlotOverflow      = errors.New("byte range offset exceeds the reserved field width")
	ErrNoSignature       = errors.New("no signature dictionary staged")
)

// byteRangeDigits is the fixed width of each ByteRange number. The
// placeholder and the final values occupy the same number of bytes, so
// patching the range never shifts any offsets.
const byteRangeDigits = 10

// SigningState tracks the lifecycle of a staged signature.
type SigningState int

const (
	// StateUnsigned means no signature has been staged yet.
	StateUnsigned SigningState = iota
	// StatePlaceholderInserted means the signature dictionary with its
	// zeroed Contents and ByteRange slots has been staged.
	StatePlaceholderInserted
	// StateSerialized means the incremental update has been rendered to
	// bytes and all offsets are fixed.
	StateSerialized
	// StateRangeComputed means the ByteRange slot holds final values.
	StateRangeComputed
	// StateSigned means the signature blob has been patched into the
	// Contents slot.
	StateSigned
	// StateFinal means the output has been checked and released.
	StateFinal
)

// String returns the state name.
func (s SigningState) String() string {
	switch s {
	case StateUnsigned:
		return "unsigned"
	case StatePlaceholderInserted:
		return "placeholder_inserted"
	case StateSerialized:
		return "serialized"
	case StateRangeComputed:
		return "range_computed"
	case StateSigned:
		return "signed"
	case StateFinal:
		return "final"
	default:
		return "unknown"
	}
}

// IncrementalWriter stages new and updated objects on top of a parsed
// document and serializes them as an incremental update section.
type IncrementalWriter struct {
	doc *reader.Document

	objects []*generic.IndirectObject
	index   map[generic.ObjectID]int
	nextNum int

	documentID generic.ArrayObject

	state        SigningState
	sigDictRef   generic.Reference
	sigDict      *generic.DictionaryObject
	contentsSize int
}

// NewIncrementalWriter creates a writer over doc.
func NewIncrementalWriter(doc *reader.Document) *IncrementalWriter {
	return &IncrementalWriter{
		doc:        doc,
		index:      make(map[generic.ObjectID]int),
		nextNum:    doc.MaxObjectNumber() + 1,
		documentID: refreshDocumentID(doc),
		state:      StateUnsigned,
	}
}

// refreshDocumentID keeps the first half of the file identifier and
// regenerates the second half, as required for modified documents.
func refreshDocumentID(doc *reader.Document) generic.ArrayObject {
	id2 := make([]byte, 16)
	rand.Read(id2)

	var id1 []byte
	if idArray := doc.Trailer().GetArray("ID"); len(idArray) >= 1 {
		if str, ok := idArray[0].(*generic.StringObject); ok {
			id1 = str.Value
		}
	}
	if id1 == nil {
		id1 = make([]byte, 16)
		rand.Read(id1)
	}

	return generic.ArrayObject{
		generic.NewHexString(id1),
		generic.NewHexString(id2),
	}
}

// Document returns the underlying parsed document.
func (w *IncrementalWriter) Document() *reader.Document {
	return w.doc
}

// State returns the current signing state.
func (w *IncrementalWriter) State() SigningState {
	return w.state
}

// NextObjectNumber returns the number the next added object will get.
func (w *IncrementalWriter) NextObjectNumber() int {
	return w.nextNum
}

// Add stages a new object and returns its reference.
func (w *IncrementalWriter) Add(obj generic.PdfObject) generic.Reference {
	id := generic.ObjectID{Number: w.nextNum}
	w.nextNum++

	w.index[id] = len(w.objects)
	w.objects = append(w.objects, generic.NewIndirectObject(id, obj))

	return generic.Reference{ObjectID: id}
}

// Update stages a replacement for an object from the base document. Staging
// the same reference twice overwrites the earlier staging.
func (w *IncrementalWriter) Update(ref generic.Reference, obj generic.PdfObject) {
	if i, ok := w.index[ref.ObjectID]; ok {
		w.objects[i] = generic.NewIndirectObject(ref.ObjectID, obj)
		return
	}
	w.index[ref.ObjectID] = len(w.objects)
	w.objects = append(w.objects, generic.NewIndirectObject(ref.ObjectID, obj))
}

// Object returns a staged object, falling back to the base document.
func (w *IncrementalWriter) Object(ref generic.Reference) (generic.PdfObject, error) {
	if i, ok := w.index[ref.ObjectID]; ok {
		return w.objects[i].Object, nil
	}
	return w.doc.Object(ref)
}

// ResolveDict resolves obj against staged and base objects and asserts it is
// a dictionary.
func (w *IncrementalWriter) ResolveDict(obj generic.PdfObject) (*generic.DictionaryObject, error) {
	if ref, ok := obj.(generic.Reference); ok {
		resolved, err := w.Object(ref)
		if err != nil {
			return nil, err
		}
		obj = resolved
	}
	dict, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("expected dictionary, got %T", obj)
	}
	return dict, nil
}

// StageSignature stages sigDict with zeroed Contents and ByteRange slots
// sized for a signature of up to reserve DER bytes. It returns the reference
// of the staged dictionary.
func (w *IncrementalWriter) StageSignature(sigDict *generic.DictionaryObject, reserve int) (generic.Reference, error) {
	if w.state != StateUnsigned {
		return generic.Reference{}, fmt.Errorf("%w: cannot stage signature in state %s", ErrInvalidTransition, w.state)
	}
	if reserve <= 0 {
		return generic.Reference{}, fmt.Errorf("signature reservation must be positive, got %d", reserve)
	}

	sigDict.Set("Contents", generic.NewHexString(make([]byte, reserve)))
	sigDict.Set("ByteRange", generic.NewArray(
		generic.IntegerObject(0),
		generic.IntegerObject(0),
		generic.IntegerObject(0),
		generic.IntegerObject(0),
	))

	w.sigDict = sigDict
	w.sigDictRef = w.Add(sigDict)
	w.contentsSize = reserve
	w.state = StatePlaceholderInserted

	return w.sigDictRef, nil
}

// SignatureRef returns the reference of the staged signature dictionary.
func (w *IncrementalWriter) SignatureRef() generic.Reference {
	return w.sigDictRef
}

// PreparedSignature is a fully serialized incremental update whose signature
// slots are still placeholders. All further mutations patch bytes in place,
// so the output length is already final.
type PreparedSignature struct {
	w *IncrementalWriter

	data []byte

	byteRangeOffset int // at the '[' of the ByteRange array
	contentsOffset  int // at the '<' of the Contents hex string
	contentsSize    int

	byteRange [4]int64
}

// Serialize renders the incremental update and fixes every byte offset.
func (w *IncrementalWriter) Serialize() (*PreparedSignature, error) {
	if w.state != StatePlaceholderInserted {
		return nil, fmt.Errorf("%w: cannot serialize in state %s", ErrInvalidTransition, w.state)
	}

	var buf bytes.Buffer
	buf.Write(w.doc.Bytes())
	if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
		buf.WriteByte('\n')
	}

	sorted := make([]*generic.IndirectObject, len(w.objects))
	copy(sorted, w.objects)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID.Number < sorted[j].ID.Number
	})

	offsets := make(map[generic.ObjectID]int64, len(sorted))
	var byteRangeOffset, contentsOffset int

	for _, obj := range sorted {
		offsets[obj.ID] = int64(buf.Len())

		if obj.ID == w.sigDictRef.ObjectID {
			bro, co, err := writeSignatureDict(&buf, obj.ID, w.sigDict, w.contentsSize)
			if err != nil {
				return nil, err
			}
			byteRangeOffset, contentsOffset = bro, co
			continue
		}

		if err := obj.Write(&buf); err != nil {
			return nil, err
		}
	}

	xrefOffset := int64(buf.Len())
	writeXRefTable(&buf, sorted, offsets)

	trailer := w.buildTrailer()
	buf.WriteString("trailer\n")
	if err := trailer.Write(&buf); err != nil {
		return nil, err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	w.state = StateSerialized

	return &PreparedSignature{
		w:               w,
		data:            buf.Bytes(),
		byteRangeOffset: byteRangeOffset,
		contentsOffset:  contentsOffset,
		contentsSize:    w.contentsSize,
	}, nil
}

// writeSignatureDict writes the signature dictionary with fixed-width
// placeholder slots and reports where they start.
func writeSignatureDict(buf *bytes.Buffer, id generic.ObjectID, dict *generic.DictionaryObject, contentsSize int) (byteRangeOffset, contentsOffset int, err error) {
	fmt.Fprintf(buf, "%d %d obj\n<<\n", id.Number, id.Generation)

	for _, key := range dict.Keys() {
		if err := (generic.NameObject(key)).Write(buf); err != nil {
			return 0, 0, err
		}
		buf.WriteByte(' ')

		switch key {
		case "ByteRange":
			byteRangeOffset = buf.Len()
			fmt.Fprintf(buf, "[%0*d %0*d %0*d %0*d]",
				byteRangeDigits, 0, byteRangeDigits, 0,
				byteRangeDigits, 0, byteRangeDigits, 0)
		case "Contents":
			contentsOffset = buf.Len()
			buf.WriteByte('<')
			for i := 0; i < contentsSize; i++ {
				buf.WriteString("00")
			}
			buf.WriteByte('>')
		default:
			if err := dict.Get(key).Write(buf); err != nil {
				return 0, 0, err
			}
		}
		buf.WriteByte('\n')
	}

	buf.WriteString(">>\nendobj\n")
	return byteRangeOffset, contentsOffset, nil
}

// writeXRefTable writes a classic xref table, grouping consecutive object
// numbers into subsections.
func writeXRefTable(buf *bytes.Buffer, sorted []*generic.IndirectObject, offsets map[generic.ObjectID]int64) {
	buf.WriteString("xref\n")

	type subsection struct {
		start   int
		entries []*generic.IndirectObject
	}

	var subsections []subsection
	for _, obj := range sorted {
		n := len(subsections)
		if n > 0 && obj.ID.Number == subsections[n-1].start+len(subsections[n-1].entries) {
			subsections[n-1].entries = append(subsections[n-1].entries, obj)
			continue
		}
		subsections = append(subsections, subsection{start: obj.ID.Number, entries: []*generic.IndirectObject{obj}})
	}

	for _, sub := range subsections {
		fmt.Fprintf(buf, "%d %d\n", sub.start, len(sub.entries))
		for _, obj := range sub.entries {
			fmt.Fprintf(buf, "%010d %05d n \n", offsets[obj.ID], obj.ID.Generation)
		}
	}
}

// buildTrailer assembles the trailer of the incremental section.
func (w *IncrementalWriter) buildTrailer() *generic.DictionaryObject {
	trailer := generic.NewDictionary()
	trailer.Set("Size", generic.IntegerObject(w.nextNum))
	trailer.Set("Prev", generic.IntegerObject(w.doc.LastXRefOffset()))

	base := w.doc.Trailer()
	if root, ok := base.GetReference("Root"); ok {
		trailer.Set("Root", root)
	}
	if info, ok := base.GetReference("Info"); ok {
		trailer.Set("Info", info)
	}
	trailer.Set("ID", w.documentID)

	return trailer
}

// ComputeByteRange derives the final ByteRange from the fixed offsets and
// patches it into the serialized bytes in place.
func (p *PreparedSignature) ComputeByteRange() error {
	if p.w.state != StateSerialized {
		return fmt.Errorf("%w: cannot compute byte range in state %s", ErrInvalidTransition, p.w.state)
	}

	contentsStart := int64(p.contentsOffset) + 1 // after '<'
	contentsEnd := contentsStart + int64(p.contentsSize)*2 // at '>'

	// The signed spans cover everything except the Contents hex string and
	// both of its delimiters.
	p.byteRange = [4]int64{
		0,
		int64(p.contentsOffset),
		contentsEnd + 1,
		int64(len(p.data)) - contentsEnd - 1,
	}

	for _, v := range p.byteRange {
		if v >= 1e10 {
			return fmt.Errorf("%w: %d needs more than %d digits", ErrSlotOverflow, v, byteRangeDigits)
		}
	}

	patch := fmt.Sprintf("[%0*d %0*d %0*d %0*d]",
		byteRangeDigits, p.byteRange[0], byteRangeDigits, p.byteRange[1],
		byteRangeDigits, p.byteRange[2], byteRangeDigits, p.byteRange[3])
	copy(p.data[p.byteRangeOffset:], patch)

	p.w.state = StateRangeComputed
	return nil
}

// ByteRange returns the computed byte range.
func (p *PreparedSignature) ByteRange() [4]int64 {
	return p.byteRange
}

// BytesToSign concatenates the two signed spans in order.
func (p *PreparedSignature) BytesToSign() ([]byte, error) {
	if p.w.state != StateRangeComputed && p.w.state != StateSigned && p.w.state != StateFinal {
		return nil, fmt.Errorf("%w: byte range not computed yet (state %s)", ErrInvalidTransition, p.w.state)
	}

	part1 := p.data[p.byteRange[0] : p.byteRange[0]+p.byteRange[1]]
	part2 := p.data[p.byteRange[2] : p.byteRange[2]+p.byteRange[3]]

	result := make([]byte, 0, len(part1)+len(part2))
	result = append(result, part1...)
	result = append(result, part2...)
	return result, nil
}

// EmbedSignature patches the DER-encoded signature into the Contents slot as
// uppercase hex, padded with '0' to the full reserved width.
func (p *PreparedSignature) EmbedSignature(der []byte) error {
	if p.w.state != StateRangeComputed {
		return fmt.Errorf("%w: cannot embed signature in state %s", ErrInvalidTransition, p.w.state)
	}

	if len(der) > p.contentsSize {
		return fmt.Errorf("%w: %d bytes, %d reserved", ErrSignatureTooLarge, len(der), p.contentsSize)
	}

	slot := p.data[p.contentsOffset+1 : p.contentsOffset+1+p.contentsSize*2]
	hexSig := fmt.Sprintf("%X", der)
	n := copy(slot, hexSig)
	for i := n; i < len(slot); i++ {
		slot[i] = '0'
	}

	p.w.state = StateSigned
	return nil
}

// Finalize checks the output against the serialized baseline and releases
// the signed bytes.
func (p *PreparedSignature) Finalize() ([]byte, error) {
	if p.w.state != StateSigned {
		return nil, fmt.Errorf("%w: cannot finalize in state %s", ErrInvalidTransition, p.w.state)
	}

	// In-place patching must never change the document length; the signed
	// spans would be invalidated otherwise.
	expectedGap := int64(p.contentsSize)*2 + 2
	if gap := p.byteRange[2] - p.byteRange[1]; gap != expectedGap {
		return nil, fmt.Errorf("signature hole is %d bytes, expected %d", gap, expectedGap)
	}
	if total := p.byteRange[2] + p.byteRange[3]; total != int64(len(p.data)) {
		return nil, fmt.Errorf("document is %d bytes, byte range covers %d", len(p.data), total)
	}

	p.w.state = StateFinal
	return p.data, nil
}

// Bytes returns the current serialized bytes. Before Finalize the slice
// still contains placeholder content.
func (p *PreparedSignature) Bytes() []byte {
	return p.data
}
