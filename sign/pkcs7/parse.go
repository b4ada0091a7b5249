package pkcs7

import (
	"encoding/asn1"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// ErrMalformed is returned when data is not a SignedData container of the
// shape this package builds.
var ErrMalformed = errors.New("malformed SignedData")

// SignedDataInfo is the decoded form of a detached SignedData container.
type SignedDataInfo struct {
	Version            int
	DigestAlgorithm    asn1.ObjectIdentifier
	SignatureAlgorithm asn1.ObjectIdentifier
	// Certificate holds the embedded certificate DER, or nil.
	Certificate []byte
	// Signature is the raw DER ECDSA signature (the encryptedDigest).
	Signature []byte
}

// ParseSignedData decodes a container produced by BuildSignedData.
func ParseSignedData(data []byte) (*SignedDataInfo, error) {
	input := cryptobyte.String(data)

	var body cryptobyte.String
	if !input.ReadASN1(&body, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: not a single SEQUENCE", ErrMalformed)
	}

	info := &SignedDataInfo{}

	if !body.ReadASN1Integer(&info.Version) {
		return nil, fmt.Errorf("%w: missing version", ErrMalformed)
	}

	var digestAlgs cryptobyte.String
	if !body.ReadASN1(&digestAlgs, cbasn1.SET) {
		return nil, fmt.Errorf("%w: missing digestAlgorithms", ErrMalformed)
	}
	var err error
	info.DigestAlgorithm, err = readAlgorithmIdentifier(&digestAlgs)
	if err != nil {
		return nil, err
	}

	// Two SETs remaining means certificates precede signerInfos.
	var set1 cryptobyte.String
	if !body.ReadASN1(&set1, cbasn1.SET) {
		return nil, fmt.Errorf("%w: missing signerInfos", ErrMalformed)
	}

	signerInfos := set1
	if !body.Empty() {
		var cert cryptobyte.String
		if !set1.ReadASN1Element(&cert, cbasn1.SEQUENCE) {
			return nil, fmt.Errorf("%w: malformed certificates set", ErrMalformed)
		}
		info.Certificate = []byte(cert)

		if !body.ReadASN1(&signerInfos, cbasn1.SET) {
			return nil, fmt.Errorf("%w: missing signerInfos after certificates", ErrMalformed)
		}
	}
	if !body.Empty() {
		return nil, fmt.Errorf("%w: trailing data after signerInfos", ErrMalformed)
	}

	var signerInfo cryptobyte.String
	if !signerInfos.ReadASN1(&signerInfo, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: missing SignerInfo", ErrMalformed)
	}

	var signerVersion int
	if !signerInfo.ReadASN1Integer(&signerVersion) {
		return nil, fmt.Errorf("%w: missing SignerInfo version", ErrMalformed)
	}
	if signerVersion != info.Version {
		return nil, fmt.Errorf("%w: SignerInfo version %d does not match %d", ErrMalformed, signerVersion, info.Version)
	}

	signerDigest, err := readAlgorithmIdentifier(&signerInfo)
	if err != nil {
		return nil, err
	}
	if !signerDigest.Equal(info.DigestAlgorithm) {
		return nil, fmt.Errorf("%w: SignerInfo digest algorithm mismatch", ErrMalformed)
	}

	info.SignatureAlgorithm, err = readAlgorithmIdentifier(&signerInfo)
	if err != nil {
		return nil, err
	}

	var sig cryptobyte.String
	if !signerInfo.ReadASN1(&sig, cbasn1.OCTET_STRING) {
		return nil, fmt.Errorf("%w: missing encryptedDigest", ErrMalformed)
	}
	info.Signature = []byte(sig)

	return info, nil
}

func readAlgorithmIdentifier(s *cryptobyte.String) (asn1.ObjectIdentifier, error) {
	var alg cryptobyte.String
	if !s.ReadASN1(&alg, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("%w: missing AlgorithmIdentifier", ErrMalformed)
	}
	var oid asn1.ObjectIdentifier
	if !alg.ReadASN1ObjectIdentifier(&oid) {
		return nil, fmt.Errorf("%w: missing algorithm OID", ErrMalformed)
	}
	return oid, nil
}
