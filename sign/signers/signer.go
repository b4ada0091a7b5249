// Package signers orchestrates PDF signing: it drives the placeholder flow
// on an incremental writer, hashes the covered byte ranges, and embeds the
// resulting SignedData structure.
package signers

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/aruthen/pdfsign/pdf/generic"
	"github.com/aruthen/pdfsign/pdf/reader"
	"github.com/aruthen/pdfsign/pdf/writer"
	"github.com/aruthen/pdfsign/sign/der"
	"github.com/aruthen/pdfsign/sign/fields"
	"github.com/aruthen/pdfsign/sign/pkcs7"
)

// Defaults applied by NewPdfSigner.
const (
	DefaultFieldName     = "Signature1"
	DefaultBytesReserved = 4096
)

// DefaultRect positions the signature widget near the top of a letter page.
func DefaultRect() *generic.Rectangle {
	return &generic.Rectangle{LLX: 100, LLY: 650, URX: 300, URY: 700}
}

// Signer produces a raw cryptographic signature over a message digest.
type Signer interface {
	// SignDigest signs the SHA-256 digest and returns the DER-encoded
	// ECDSA signature.
	SignDigest(digest []byte) ([]byte, error)

	// Certificate returns the signer certificate in DER form, or nil when
	// none is available.
	Certificate() []byte
}

// ECDSASigner signs with an in-memory P-256 private key.
type ECDSASigner struct {
	key  *ecdsa.PrivateKey
	cert []byte
}

// NewECDSASigner wraps key, optionally carrying the signer certificate DER.
func NewECDSASigner(key *ecdsa.PrivateKey, cert []byte) *ECDSASigner {
	return &ECDSASigner{key: key, cert: cert}
}

// SignDigest implements Signer.
func (s *ECDSASigner) SignDigest(digest []byte) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, s.key, digest)
}

// Certificate implements Signer.
func (s *ECDSASigner) Certificate() []byte {
	return s.cert
}

// SignatureMetadata is the human-readable signature information.
type SignatureMetadata struct {
	Name        string
	Reason      string
	Location    string
	ContactInfo string

	// SigningTime defaults to the current time when zero.
	SigningTime time.Time
}

// normalized returns a copy with all text in Unicode NFC and the time
// truncated to whole seconds, which is all the date format can carry.
func (m SignatureMetadata) normalized() SignatureMetadata {
	m.Name = norm.NFC.String(m.Name)
	m.Reason = norm.NFC.String(m.Reason)
	m.Location = norm.NFC.String(m.Location)
	m.ContactInfo = norm.NFC.String(m.ContactInfo)

	if m.SigningTime.IsZero() {
		m.SigningTime = time.Now()
	}
	m.SigningTime = m.SigningTime.Truncate(time.Second)
	return m
}

// SigningError reports which step of the signing flow failed.
type SigningError struct {
	Step string
	Err  error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing failed at %s: %v", e.Step, e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

func stepErr(step string, err error) error {
	return &SigningError{Step: step, Err: err}
}

// PdfSigner signs PDF documents with a detached PKCS#7 signature embedded
// via incremental update.
type PdfSigner struct {
	Signer   Signer
	Metadata SignatureMetadata

	// FieldName is the signature form field name.
	FieldName string

	// Rect positions the signature widget on the first page.
	Rect *generic.Rectangle

	// BytesReserved is the Contents slot capacity in DER bytes.
	BytesReserved int
}

// NewPdfSigner creates a signer with default field name, widget placement
// and reservation size.
func NewPdfSigner(signer Signer) *PdfSigner {
	return &PdfSigner{
		Signer:        signer,
		FieldName:     DefaultFieldName,
		Rect:          DefaultRect(),
		BytesReserved: DefaultBytesReserved,
	}
}

// Sign produces a signed copy of input. The original bytes are preserved
// unmodified; the signature objects are appended as an incremental update.
func (p *PdfSigner) Sign(input []byte) ([]byte, error) {
	doc, err := reader.Parse(input)
	if err != nil {
		return nil, stepErr("parse", err)
	}

	w := writer.NewIncrementalWriter(doc)

	meta := p.Metadata.normalized()
	rect := p.Rect
	if rect == nil {
		rect = DefaultRect()
	}

	if _, err := fields.Attach(w, fields.SignatureOptions{
		FieldName:     p.FieldName,
		Name:          meta.Name,
		Reason:        meta.Reason,
		Location:      meta.Location,
		ContactInfo:   meta.ContactInfo,
		SigningTime:   meta.SigningTime,
		Certificate:   p.Signer.Certificate(),
		Rect:          rect,
		BytesReserved: p.BytesReserved,
	}); err != nil {
		return nil, stepErr("attach signature field", err)
	}

	prepared, err := w.Serialize()
	if err != nil {
		return nil, stepErr("serialize", err)
	}
	if err := prepared.ComputeByteRange(); err != nil {
		return nil, stepErr("compute byte range", err)
	}

	toSign, err := prepared.BytesToSign()
	if err != nil {
		return nil, stepErr("collect signed bytes", err)
	}
	digest := sha256.Sum256(toSign)

	signature, err := p.Signer.SignDigest(digest[:])
	if err != nil {
		return nil, stepErr("sign digest", err)
	}

	signedData, err := pkcs7.BuildSignedData(pkcs7.OIDSHA256, signature, p.Signer.Certificate())
	if err != nil {
		return nil, stepErr("encode signature container", err)
	}

	if err := prepared.EmbedSignature(signedData); err != nil {
		return nil, stepErr("embed signature", err)
	}

	out, err := prepared.Finalize()
	if err != nil {
		return nil, stepErr("finalize", err)
	}
	return out, nil
}

// ExtractedSignature is one signature found in a document.
type ExtractedSignature struct {
	FieldName string
	ByteRange [4]int64
	// SignedData is the DER SignedData with the slot padding trimmed.
	SignedData []byte
}

// ErrNoSignatures indicates the document carries no signature fields.
var ErrNoSignatures = errors.New("document has no signatures")

// ExtractSignatures reads back every signed form field in data. It exists
// so callers and tests can recover the embedded signature containers; it
// performs no cryptographic verification.
func ExtractSignatures(data []byte) ([]ExtractedSignature, error) {
	doc, err := reader.Parse(data)
	if err != nil {
		return nil, err
	}

	catalog, err := doc.Catalog()
	if err != nil {
		return nil, err
	}
	acroFormObj := catalog.Get("AcroForm")
	if acroFormObj == nil {
		return nil, ErrNoSignatures
	}
	acroForm, err := doc.ResolveDict(acroFormObj)
	if err != nil {
		return nil, err
	}

	var result []ExtractedSignature
	for _, fieldObj := range acroForm.GetArray("Fields") {
		field, err := doc.ResolveDict(fieldObj)
		if err != nil {
			return nil, err
		}
		if field.GetName("FT") != "Sig" || !field.Has("V") {
			continue
		}

		sig, err := doc.ResolveDict(field.Get("V"))
		if err != nil {
			return nil, err
		}

		extracted := ExtractedSignature{}
		if title, ok := field.Get("T").(*generic.StringObject); ok {
			extracted.FieldName = title.Text()
		}

		br := sig.GetArray("ByteRange")
		if len(br) != 4 {
			return nil, fmt.Errorf("field %q: ByteRange has %d entries", extracted.FieldName, len(br))
		}
		for i, entry := range br {
			n, ok := entry.(generic.IntegerObject)
			if !ok {
				return nil, fmt.Errorf("field %q: ByteRange[%d] is not an integer", extracted.FieldName, i)
			}
			extracted.ByteRange[i] = int64(n)
		}

		contents, ok := sig.Get("Contents").(*generic.StringObject)
		if !ok {
			return nil, fmt.Errorf("field %q: Contents missing", extracted.FieldName)
		}
		extracted.SignedData, err = trimSlotPadding(contents.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", extracted.FieldName, err)
		}

		result = append(result, extracted)
	}

	if len(result) == 0 {
		return nil, ErrNoSignatures
	}
	return result, nil
}

// CoveredBytes concatenates the two byte ranges a signature covers.
func CoveredBytes(data []byte, br [4]int64) ([]byte, error) {
	for i := 0; i+1 < len(br); i += 2 {
		start, length := br[i], br[i+1]
		if start < 0 || length < 0 || start+length > int64(len(data)) {
			return nil, fmt.Errorf("byte range [%d %d] exceeds document of %d bytes", start, length, len(data))
		}
	}
	covered := make([]byte, 0, br[1]+br[3])
	covered = append(covered, data[br[0]:br[0]+br[1]]...)
	covered = append(covered, data[br[2]:br[2]+br[3]]...)
	return covered, nil
}

// trimSlotPadding cuts the zero padding that fills the Contents slot after
// the DER structure. The real length is recovered from the outer DER header.
func trimSlotPadding(slot []byte) ([]byte, error) {
	if len(slot) < 2 || slot[0] != 0x30 {
		return nil, errors.New("slot does not hold a DER sequence")
	}
	length, lengthOctets, err := der.DecodeLength(slot[1:])
	if err != nil {
		return nil, err
	}
	total := 1 + lengthOctets + length
	if total > len(slot) {
		return nil, errors.New("DER structure exceeds slot")
	}
	return slot[:total], nil
}
