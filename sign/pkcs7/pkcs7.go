// Package pkcs7 assembles and inspects the minimal detached SignedData
// container embedded in signature dictionaries.
package pkcs7

import (
	"fmt"

	"github.com/aruthen/pdfsign/sign/der"
)

// Object identifiers used by the container.
var (
	// OIDSHA256 is id-sha256 (2.16.840.1.101.3.4.2.1).
	OIDSHA256 = []int{2, 16, 840, 1, 101, 3, 4, 2, 1}

	// OIDECDSAWithSHA256 is ecdsa-with-SHA256 (1.2.840.10045.4.3.2).
	OIDECDSAWithSHA256 = []int{1, 2, 840, 10045, 4, 3, 2}
)

// signedDataVersion is the fixed CMS structure version.
const signedDataVersion = 1

// BuildSignedData wraps a raw DER ECDSA signature in a detached SignedData
// structure:
//
//	SEQUENCE {
//	  version          INTEGER(1),
//	  digestAlgorithms SET { SEQUENCE { digestOID } },
//	  certificates     SET { certificate }   -- only when supplied
//	  signerInfos      SET { SignerInfo }
//	}
//
// The content is detached, so no encapsulated content field is emitted.
// certificate may be nil; its absence changes nothing beyond omitting the
// certificates set.
func BuildSignedData(digestOID []int, signature, certificate []byte) ([]byte, error) {
	version, err := der.EncodeInteger(signedDataVersion)
	if err != nil {
		return nil, err
	}

	digestAlg, err := algorithmIdentifier(digestOID)
	if err != nil {
		return nil, err
	}
	digestAlgSet, err := der.EncodeSet(digestAlg)
	if err != nil {
		return nil, err
	}

	signerInfo, err := buildSignerInfo(digestOID, signature)
	if err != nil {
		return nil, err
	}
	signerInfoSet, err := der.EncodeSet(signerInfo)
	if err != nil {
		return nil, err
	}

	children := [][]byte{version, digestAlgSet}
	if len(certificate) > 0 {
		certSet, err := der.EncodeSet(certificate)
		if err != nil {
			return nil, err
		}
		children = append(children, certSet)
	}
	children = append(children, signerInfoSet)

	return der.EncodeSequence(children...)
}

// buildSignerInfo encodes the single SignerInfo:
//
//	SEQUENCE {
//	  version            INTEGER(1),
//	  digestAlgorithm    SEQUENCE { digestOID },
//	  signatureAlgorithm SEQUENCE { ecdsa-with-SHA256 },
//	  encryptedDigest    OCTET STRING
//	}
func buildSignerInfo(digestOID []int, signature []byte) ([]byte, error) {
	version, err := der.EncodeInteger(signedDataVersion)
	if err != nil {
		return nil, err
	}

	digestAlg, err := algorithmIdentifier(digestOID)
	if err != nil {
		return nil, err
	}

	sigAlg, err := algorithmIdentifier(OIDECDSAWithSHA256)
	if err != nil {
		return nil, err
	}

	encDigest, err := der.EncodeOctetString(signature)
	if err != nil {
		return nil, err
	}

	return der.EncodeSequence(version, digestAlg, sigAlg, encDigest)
}

// algorithmIdentifier encodes SEQUENCE { oid }. Parameters are omitted, as
// required for ECDSA identifiers and harmless for SHA-256.
func algorithmIdentifier(oid []int) ([]byte, error) {
	encOID, err := der.EncodeOID(oid)
	if err != nil {
		return nil, fmt.Errorf("bad algorithm OID %v: %w", oid, err)
	}
	return der.EncodeSequence(encOID)
}
