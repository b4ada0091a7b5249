// Package fields builds the PDF objects that make a signature visible and
// addressable: the signature dictionary, the widget annotation with its
// appearance stream, and the interactive form container.
package fields

import (
	"fmt"
	"strings"
	"time"

	"github.com/aruthen/pdfsign/pdf/generic"
	"github.com/aruthen/pdfsign/pdf/writer"
)

// Signature handler identifiers.
const (
	Filter    = "Adobe.PPKLite"
	SubFilter = "adbe.pkcs7.detached"
)

// defaultAppearanceString configures the form-wide default font.
const defaultAppearanceString = "/F1 0 Tf 0 0 0 rg"

// SignatureOptions carries everything needed to build the signature objects.
type SignatureOptions struct {
	// FieldName is the form field name, e.g. "Signature1".
	FieldName string

	// Optional human-readable metadata; empty strings are omitted from the
	// signature dictionary.
	Name        string
	Reason      string
	Location    string
	ContactInfo string

	// SigningTime becomes the /M entry and is shown in the appearance.
	SigningTime time.Time

	// Certificate is the signer certificate in DER form, embedded as /Cert
	// when present.
	Certificate []byte

	// Rect positions the widget annotation on the first page.
	Rect *generic.Rectangle

	// BytesReserved is the Contents slot capacity in DER bytes.
	BytesReserved int
}

// BuildSignatureDictionary assembles the /Sig dictionary. The Contents and
// ByteRange placeholder entries are added when the dictionary is staged on
// the writer.
func BuildSignatureDictionary(opts SignatureOptions) *generic.DictionaryObject {
	dict := generic.NewDictionary()
	dict.Set("Type", generic.NameObject("Sig"))
	dict.Set("Filter", generic.NameObject(Filter))
	dict.Set("SubFilter", generic.NameObject(SubFilter))

	if opts.Name != "" {
		dict.Set("Name", generic.NewTextString(opts.Name))
	}
	if opts.Reason != "" {
		dict.Set("Reason", generic.NewTextString(opts.Reason))
	}
	if opts.Location != "" {
		dict.Set("Location", generic.NewTextString(opts.Location))
	}
	if opts.ContactInfo != "" {
		dict.Set("ContactInfo", generic.NewTextString(opts.ContactInfo))
	}

	dict.Set("M", generic.NewLiteralString(FormatDate(opts.SigningTime)))

	if len(opts.Certificate) > 0 {
		dict.Set("Cert", generic.NewHexString(opts.Certificate))
	}

	return dict
}

// FormatDate renders t as a PDF date string, D:YYYYMMDDHHmmSS followed by a
// timezone suffix such as +02'00'.
func FormatDate(t time.Time) string {
	_, offset := t.Zone()

	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	hours := offset / 3600
	minutes := (offset % 3600) / 60

	return fmt.Sprintf("D:%s%s%02d'%02d'", t.Format("20060102150405"), sign, hours, minutes)
}

// BuildAppearanceStream renders the signer name, reason and date as static
// text in a form XObject.
func BuildAppearanceStream(opts SignatureOptions) *generic.StreamObject {
	font := generic.NewDictionary()
	font.Set("Type", generic.NameObject("Font"))
	font.Set("Subtype", generic.NameObject("Type1"))
	font.Set("BaseFont", generic.NameObject("Helvetica"))

	fonts := generic.NewDictionary()
	fonts.Set("F1", font)

	resources := generic.NewDictionary()
	resources.Set("Font", fonts)

	dict := generic.NewDictionary()
	dict.Set("Type", generic.NameObject("XObject"))
	dict.Set("Subtype", generic.NameObject("Form"))
	dict.Set("BBox", generic.NewArray(
		generic.IntegerObject(0), generic.IntegerObject(0),
		generic.IntegerObject(200), generic.IntegerObject(60),
	))
	dict.Set("Resources", resources)

	var lines []string
	if opts.Name != "" {
		lines = append(lines, "Digitally signed by "+opts.Name)
	}
	if opts.Reason != "" {
		lines = append(lines, opts.Reason)
	}
	lines = append(lines, FormatDate(opts.SigningTime))

	var content strings.Builder
	content.WriteString("q\nBT\n/F1 9 Tf\n11 TL\n1 0 0 1 4 44 Tm\n")
	for i, line := range lines {
		if i > 0 {
			content.WriteString("T*\n")
		}
		fmt.Fprintf(&content, "(%s) Tj\n", escapeContentText(line))
	}
	content.WriteString("ET\nQ")

	return generic.NewStream(dict, []byte(content.String()))
}

// escapeContentText escapes the characters that would terminate a literal
// string inside a content stream.
func escapeContentText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}

// Attach stages all signature objects onto w: the appearance stream, the
// signature dictionary with its placeholder slots, the widget annotation on
// the first page, and the interactive form entry. It returns the signature
// dictionary reference.
func Attach(w *writer.IncrementalWriter, opts SignatureOptions) (generic.Reference, error) {
	pageRef, page, err := w.Document().FirstPage()
	if err != nil {
		return generic.Reference{}, err
	}

	appearanceRef := w.Add(BuildAppearanceStream(opts))

	sigRef, err := w.StageSignature(BuildSignatureDictionary(opts), opts.BytesReserved)
	if err != nil {
		return generic.Reference{}, err
	}

	apDict := generic.NewDictionary()
	apDict.Set("N", appearanceRef)

	widget := generic.NewDictionary()
	widget.Set("Type", generic.NameObject("Annot"))
	widget.Set("Subtype", generic.NameObject("Widget"))
	widget.Set("FT", generic.NameObject("Sig"))
	widget.Set("T", generic.NewTextString(opts.FieldName))
	widget.Set("F", generic.IntegerObject(4)) // print flag
	widget.Set("Rect", opts.Rect.ToArray())
	widget.Set("V", sigRef)
	widget.Set("P", pageRef)
	widget.Set("AP", apDict)
	widgetRef := w.Add(widget)

	if err := attachToAcroForm(w, widgetRef); err != nil {
		return generic.Reference{}, err
	}
	if err := attachToPage(w, pageRef, page, widgetRef); err != nil {
		return generic.Reference{}, err
	}

	return sigRef, nil
}

// attachToAcroForm appends the field to the catalog's AcroForm, creating
// the form container when the document has none.
func attachToAcroForm(w *writer.IncrementalWriter, fieldRef generic.Reference) error {
	rootRef, err := w.Document().RootRef()
	if err != nil {
		return err
	}
	catalog, err := w.ResolveDict(rootRef)
	if err != nil {
		return err
	}

	existing := catalog.Get("AcroForm")
	if existing == nil {
		acroForm := generic.NewDictionary()
		acroForm.Set("Fields", generic.NewArray(fieldRef))
		acroForm.Set("SigFlags", generic.IntegerObject(3)) // SignaturesExist | AppendOnly
		acroForm.Set("DA", generic.NewLiteralString(defaultAppearanceString))
		acroFormRef := w.Add(acroForm)

		catalogCopy := catalog.Clone().(*generic.DictionaryObject)
		catalogCopy.Set("AcroForm", acroFormRef)
		w.Update(rootRef, catalogCopy)
		return nil
	}

	acroForm, err := w.ResolveDict(existing)
	if err != nil {
		return err
	}

	updated := acroForm.Clone().(*generic.DictionaryObject)
	updated.Set("Fields", append(updated.GetArray("Fields"), fieldRef))

	sigFlags, _ := updated.GetInt("SigFlags")
	updated.Set("SigFlags", generic.IntegerObject(sigFlags|3))

	if !updated.Has("DA") {
		updated.Set("DA", generic.NewLiteralString(defaultAppearanceString))
	}

	if ref, ok := existing.(generic.Reference); ok {
		w.Update(ref, updated)
		return nil
	}

	// The AcroForm was a direct dictionary, so the catalog itself must be
	// rewritten.
	catalogCopy := catalog.Clone().(*generic.DictionaryObject)
	catalogCopy.Set("AcroForm", updated)
	w.Update(rootRef, catalogCopy)
	return nil
}

// attachToPage appends the widget to the page's Annots array.
func attachToPage(w *writer.IncrementalWriter, pageRef generic.Reference, page *generic.DictionaryObject, widgetRef generic.Reference) error {
	pageCopy := page.Clone().(*generic.DictionaryObject)

	if ref, ok := pageCopy.Get("Annots").(generic.Reference); ok {
		resolved, err := w.Object(ref)
		if err != nil {
			return err
		}
		annots, ok := resolved.(generic.ArrayObject)
		if !ok {
			return fmt.Errorf("page Annots is %T, expected an array", resolved)
		}
		w.Update(ref, append(annots.Clone().(generic.ArrayObject), widgetRef))
		w.Update(pageRef, pageCopy)
		return nil
	}

	annots, _ := pageCopy.Get("Annots").(generic.ArrayObject)
	pageCopy.Set("Annots", append(annots.Clone().(generic.ArrayObject), widgetRef))
	w.Update(pageRef, pageCopy)
	return nil
}
