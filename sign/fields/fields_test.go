package fields

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aruthen/pdfsign/pdf/generic"
	"github.com/aruthen/pdfsign/pdf/reader"
	"github.com/aruthen/pdfsign/pdf/writer"
)

func buildTestPdf(t *testing.T, acroForm *generic.DictionaryObject) []byte {
	t.Helper()

	catalog := generic.NewDictionary()
	catalog.Set("Type", generic.NameObject("Catalog"))
	catalog.Set("Pages", generic.NewReference(2, 0))
	if acroForm != nil {
		catalog.Set("AcroForm", acroForm)
	}

	pages := generic.NewDictionary()
	pages.Set("Type", generic.NameObject("Pages"))
	pages.Set("Kids", generic.NewArray(generic.NewReference(3, 0)))
	pages.Set("Count", generic.IntegerObject(1))

	page := generic.NewDictionary()
	page.Set("Type", generic.NameObject("Page"))
	page.Set("Parent", generic.NewReference(2, 0))
	page.Set("MediaBox", generic.NewArray(
		generic.IntegerObject(0), generic.IntegerObject(0),
		generic.IntegerObject(612), generic.IntegerObject(792),
	))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")

	offsets := make(map[int]int)
	write := func(num int, obj generic.PdfObject) {
		offsets[num] = buf.Len()
		indirect := generic.NewIndirectObject(generic.ObjectID{Number: num}, obj)
		if err := indirect.Write(&buf); err != nil {
			t.Fatalf("write object %d: %v", num, err)
		}
	}
	write(1, catalog)
	write(2, pages)
	write(3, page)

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 4\n")
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= 3; num++ {
		fmt.Fprintf(&buf, "%010d %05d n \n", offsets[num], 0)
	}
	buf.WriteString("trailer\n<<\n/Size 4\n/Root 1 0 R\n>>\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes()
}

func testOptions() SignatureOptions {
	return SignatureOptions{
		FieldName:     "Signature1",
		Name:          "Alice Example",
		Reason:        "Approval",
		SigningTime:   time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		Rect:          &generic.Rectangle{LLX: 100, LLY: 650, URX: 300, URY: 700},
		BytesReserved: 64,
	}
}

// attachAndFinalize runs the full placeholder flow so the output can be
// parsed back.
func attachAndFinalize(t *testing.T, input []byte, opts SignatureOptions) []byte {
	t.Helper()

	doc, err := reader.Parse(input)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	w := writer.NewIncrementalWriter(doc)

	if _, err := Attach(w, opts); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	prepared, err := w.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if err := prepared.ComputeByteRange(); err != nil {
		t.Fatalf("ComputeByteRange failed: %v", err)
	}
	if err := prepared.EmbedSignature([]byte{0x30, 0x03, 0x02, 0x01, 0x01}); err != nil {
		t.Fatalf("EmbedSignature failed: %v", err)
	}
	out, err := prepared.Finalize()
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	return out
}

func TestBuildSignatureDictionary(t *testing.T) {
	opts := testOptions()
	opts.Location = "Berlin"
	opts.ContactInfo = "alice@example.org"

	dict := BuildSignatureDictionary(opts)

	if name := dict.GetName("Type"); name != "Sig" {
		t.Errorf("Type = %q, want Sig", name)
	}
	if name := dict.GetName("Filter"); name != "Adobe.PPKLite" {
		t.Errorf("Filter = %q", name)
	}
	if name := dict.GetName("SubFilter"); name != "adbe.pkcs7.detached" {
		t.Errorf("SubFilter = %q", name)
	}

	for key, want := range map[string]string{
		"Name":        "Alice Example",
		"Reason":      "Approval",
		"Location":    "Berlin",
		"ContactInfo": "alice@example.org",
	} {
		str, ok := dict.Get(key).(*generic.StringObject)
		if !ok {
			t.Fatalf("%s missing or not a string", key)
		}
		if got := str.Text(); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}

	m, ok := dict.Get("M").(*generic.StringObject)
	if !ok {
		t.Fatal("M missing")
	}
	if string(m.Value) != "D:20240315103000+00'00'" {
		t.Errorf("M = %q", m.Value)
	}
}

func TestBuildSignatureDictionaryOmitsEmptyFields(t *testing.T) {
	opts := testOptions()
	opts.Name = ""
	opts.Reason = ""

	dict := BuildSignatureDictionary(opts)
	for _, key := range []string{"Name", "Reason", "Location", "ContactInfo", "Cert"} {
		if dict.Has(key) {
			t.Errorf("%s should be omitted when empty", key)
		}
	}
}

func TestBuildSignatureDictionaryCertificate(t *testing.T) {
	opts := testOptions()
	opts.Certificate = []byte{0x30, 0x03, 0x02, 0x01, 0x01}

	dict := BuildSignatureDictionary(opts)
	cert, ok := dict.Get("Cert").(*generic.StringObject)
	if !ok {
		t.Fatal("Cert missing")
	}
	if !cert.IsHex {
		t.Error("Cert should be a hex string")
	}
	if !bytes.Equal(cert.Value, opts.Certificate) {
		t.Error("Cert bytes do not round-trip")
	}
}

func TestFormatDate(t *testing.T) {
	tests := []struct {
		name string
		time time.Time
		want string
	}{
		{
			name: "utc",
			time: time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
			want: "D:20240315103000+00'00'",
		},
		{
			name: "positive offset",
			time: time.Date(2024, 12, 31, 23, 59, 59, 0, time.FixedZone("", 2*3600)),
			want: "D:20241231235959+02'00'",
		},
		{
			name: "negative offset with minutes",
			time: time.Date(2024, 6, 1, 0, 0, 0, 0, time.FixedZone("", -(5*3600+30*60))),
			want: "D:20240601000000-05'30'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDate(tt.time); got != tt.want {
				t.Errorf("FormatDate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildAppearanceStream(t *testing.T) {
	opts := testOptions()
	opts.Name = "Team (QA)"

	stream := BuildAppearanceStream(opts)

	if name := stream.Dictionary.GetName("Subtype"); name != "Form" {
		t.Errorf("Subtype = %q, want Form", name)
	}
	if bbox := stream.Dictionary.GetArray("BBox"); len(bbox) != 4 {
		t.Errorf("BBox has %d entries", len(bbox))
	}

	content := string(stream.Data)
	if !strings.Contains(content, `(Digitally signed by Team \(QA\)) Tj`) {
		t.Errorf("name line missing or unescaped:\n%s", content)
	}
	if !strings.Contains(content, "(Approval) Tj") {
		t.Errorf("reason line missing:\n%s", content)
	}
	if !strings.Contains(content, "(D:20240315103000+00'00') Tj") {
		t.Errorf("date line missing:\n%s", content)
	}
}

func TestAttachCreatesForm(t *testing.T) {
	out := attachAndFinalize(t, buildTestPdf(t, nil), testOptions())

	doc, err := reader.Parse(out)
	if err != nil {
		t.Fatalf("signed output does not parse: %v", err)
	}

	catalog, err := doc.Catalog()
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	acroForm, err := doc.ResolveDict(catalog.Get("AcroForm"))
	if err != nil {
		t.Fatalf("AcroForm missing: %v", err)
	}

	if flags, _ := acroForm.GetInt("SigFlags"); flags != 3 {
		t.Errorf("SigFlags = %d, want 3", flags)
	}
	fieldRefs := acroForm.GetArray("Fields")
	if len(fieldRefs) != 1 {
		t.Fatalf("Fields has %d entries, want 1", len(fieldRefs))
	}

	widget, err := doc.ResolveDict(fieldRefs[0])
	if err != nil {
		t.Fatalf("widget missing: %v", err)
	}
	if name := widget.GetName("Subtype"); name != "Widget" {
		t.Errorf("widget Subtype = %q", name)
	}
	if name := widget.GetName("FT"); name != "Sig" {
		t.Errorf("widget FT = %q", name)
	}
	title, ok := widget.Get("T").(*generic.StringObject)
	if !ok || title.Text() != "Signature1" {
		t.Errorf("widget T = %v", widget.Get("T"))
	}

	sig, err := doc.ResolveDict(widget.Get("V"))
	if err != nil {
		t.Fatalf("signature value missing: %v", err)
	}
	if name := sig.GetName("Type"); name != "Sig" {
		t.Errorf("signature Type = %q", name)
	}

	ap, err := doc.ResolveDict(widget.Get("AP"))
	if err != nil {
		t.Fatalf("AP missing: %v", err)
	}
	appearance, err := doc.Resolve(ap.Get("N"))
	if err != nil {
		t.Fatalf("appearance missing: %v", err)
	}
	if _, ok := appearance.(*generic.StreamObject); !ok {
		t.Errorf("appearance is %T, want stream", appearance)
	}

	// Widget must be reachable from the page too.
	_, page, err := doc.FirstPage()
	if err != nil {
		t.Fatalf("FirstPage failed: %v", err)
	}
	annots := page.GetArray("Annots")
	if len(annots) != 1 {
		t.Fatalf("page Annots has %d entries, want 1", len(annots))
	}
	if annots[0] != fieldRefs[0] {
		t.Error("page annotation and form field are different objects")
	}
}

func TestAttachExtendsExistingForm(t *testing.T) {
	acroForm := generic.NewDictionary()
	acroForm.Set("Fields", generic.NewArray())
	acroForm.Set("SigFlags", generic.IntegerObject(1))

	out := attachAndFinalize(t, buildTestPdf(t, acroForm), testOptions())

	doc, err := reader.Parse(out)
	if err != nil {
		t.Fatalf("signed output does not parse: %v", err)
	}
	catalog, err := doc.Catalog()
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	updated, err := doc.ResolveDict(catalog.Get("AcroForm"))
	if err != nil {
		t.Fatalf("AcroForm missing: %v", err)
	}

	if flags, _ := updated.GetInt("SigFlags"); flags != 3 {
		t.Errorf("SigFlags = %d, want existing flags ORed with 3", flags)
	}
	if fields := updated.GetArray("Fields"); len(fields) != 1 {
		t.Errorf("Fields has %d entries, want 1", len(fields))
	}
	if !updated.Has("DA") {
		t.Error("DA should be set when absent")
	}
}

func TestAttachRejectsZeroReservation(t *testing.T) {
	doc, err := reader.Parse(buildTestPdf(t, nil))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	w := writer.NewIncrementalWriter(doc)

	opts := testOptions()
	opts.BytesReserved = 0
	if _, err := Attach(w, opts); err == nil {
		t.Fatal("Attach should reject a zero reservation")
	}
}
