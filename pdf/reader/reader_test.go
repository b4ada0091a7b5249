package reader

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/aruthen/pdfsign/pdf/generic"
)

// buildMinimalPdf produces a small but well-formed one-page document with a
// computed xref table.
func buildMinimalPdf(t *testing.T) []byte {
	t.Helper()

	catalog := generic.NewDictionary()
	catalog.Set("Type", generic.NameObject("Catalog"))
	catalog.Set("Pages", generic.NewReference(2, 0))

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

func TestParseMinimalDocument(t *testing.T) {
	data := buildMinimalPdf(t)

	doc, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if doc.Version() != "1.7" {
		t.Errorf("Version = %q, want 1.7", doc.Version())
	}
	if doc.MaxObjectNumber() != 3 {
		t.Errorf("MaxObjectNumber = %d, want 3", doc.MaxObjectNumber())
	}
	if !bytes.Equal(doc.Bytes(), data) {
		t.Error("Bytes should return the original input unchanged")
	}

	catalog, err := doc.Catalog()
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	if catalog.GetName("Type") != "Catalog" {
		t.Errorf("catalog Type = %q", catalog.GetName("Type"))
	}
}

func TestFirstPage(t *testing.T) {
	doc, err := Parse(buildMinimalPdf(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ref, page, err := doc.FirstPage()
	if err != nil {
		t.Fatalf("FirstPage failed: %v", err)
	}
	if ref.Number != 3 {
		t.Errorf("page ref = %v, want 3 0 R", ref)
	}
	if page.GetName("Type") != "Page" {
		t.Errorf("page Type = %q", page.GetName("Type"))
	}
}

func TestObjectResolution(t *testing.T) {
	doc, err := Parse(buildMinimalPdf(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	t.Run("resolve reference", func(t *testing.T) {
		obj, err := doc.Object(generic.NewReference(2, 0))
		if err != nil {
			t.Fatalf("Object failed: %v", err)
		}
		dict, ok := obj.(*generic.DictionaryObject)
		if !ok || dict.GetName("Type") != "Pages" {
			t.Errorf("got %T %v", obj, obj)
		}
	})

	t.Run("missing object", func(t *testing.T) {
		if _, err := doc.Object(generic.NewReference(99, 0)); !errors.Is(err, ErrObjectNotFound) {
			t.Errorf("expected ErrObjectNotFound, got %v", err)
		}
	})

	t.Run("wrong generation", func(t *testing.T) {
		if _, err := doc.Object(generic.NewReference(2, 5)); !errors.Is(err, ErrObjectNotFound) {
			t.Errorf("expected ErrObjectNotFound, got %v", err)
		}
	})

	t.Run("resolve direct object passthrough", func(t *testing.T) {
		obj, err := doc.Resolve(generic.IntegerObject(7))
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if i, ok := obj.(generic.IntegerObject); !ok || i != 7 {
			t.Errorf("got %T %v", obj, obj)
		}
	})
}

func TestParseErrors(t *testing.T) {
	t.Run("too small", func(t *testing.T) {
		if _, err := Parse([]byte("%P")); !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("expected ErrInvalidDocument, got %v", err)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		if _, err := Parse([]byte("not a pdf at all, definitely")); !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("expected ErrInvalidDocument, got %v", err)
		}
	})

	t.Run("missing startxref", func(t *testing.T) {
		if _, err := Parse([]byte("%PDF-1.7\nno trailer here\n%%EOF\n")); !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("expected ErrInvalidDocument, got %v", err)
		}
	})

	t.Run("bad xref offset", func(t *testing.T) {
		data := []byte("%PDF-1.7\nstartxref\n999999\n%%EOF\n")
		if _, err := Parse(data); !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("expected ErrInvalidDocument, got %v", err)
		}
	})

	t.Run("xref stream rejected", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteString("%PDF-1.7\n")
		offset := buf.Len()
		buf.WriteString("1 0 obj\n<< /Type /XRef /Length 0 >>\nstream\n\nendstream\nendobj\n")
		fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", offset)

		if _, err := Parse(buf.Bytes()); !errors.Is(err, ErrUnsupportedXRef) {
			t.Errorf("expected ErrUnsupportedXRef, got %v", err)
		}
	})

	t.Run("encrypted rejected", func(t *testing.T) {
		data := buildMinimalPdf(t)
		patched := bytes.Replace(data, []byte("/Root 1 0 R"), []byte("/Root 1 0 R\n/Encrypt 9 0 R"), 1)
		// The startxref offset is unchanged because the edit happens
		// after the xref table entries themselves.
		if _, err := Parse(patched); !errors.Is(err, ErrEncrypted) {
			t.Errorf("expected ErrEncrypted, got %v", err)
		}
	})
}

func TestIncrementalUpdateChain(t *testing.T) {
	base := buildMinimalPdf(t)

	// Append an update that replaces the page object and chains to the
	// previous xref table.
	var buf bytes.Buffer
	buf.Write(base)

	newPage := generic.NewDictionary()
	newPage.Set("Type", generic.NameObject("Page"))
	newPage.Set("Parent", generic.NewReference(2, 0))
	newPage.Set("Rotate", generic.IntegerObject(90))

	pageOffset := buf.Len()
	obj := generic.NewIndirectObject(generic.ObjectID{Number: 3}, newPage)
	if err := obj.Write(&buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	baseDoc, err := Parse(base)
	if err != nil {
		t.Fatalf("Parse base failed: %v", err)
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n3 1\n%010d %05d n \n", pageOffset, 0)
	fmt.Fprintf(&buf, "trailer\n<<\n/Size 4\n/Root 1 0 R\n/Prev %d\n>>\n", baseDoc.LastXRefOffset())
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	doc, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse updated failed: %v", err)
	}

	// The newest revision of object 3 must win.
	obj3, err := doc.Object(generic.NewReference(3, 0))
	if err != nil {
		t.Fatalf("Object failed: %v", err)
	}
	page := obj3.(*generic.DictionaryObject)
	if rot, _ := page.GetInt("Rotate"); rot != 90 {
		t.Errorf("Rotate = %d, want 90 (stale object resolved)", rot)
	}

	// Objects only present in the base revision still resolve.
	if _, err := doc.Object(generic.NewReference(1, 0)); err != nil {
		t.Errorf("catalog from base revision not resolvable: %v", err)
	}

	if doc.LastXRefOffset() != int64(xrefOffset) {
		t.Errorf("LastXRefOffset = %d, want %d", doc.LastXRefOffset(), xrefOffset)
	}
}
