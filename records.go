package lrc

import (
	"bytes"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

// EndorsementRecordType is the experimental TLV type used to signal
// endorsement on update_add_htlc.
const EndorsementRecordType tlv.Type = 106823973

// Record returns a TLV record that can be used to encode or decode the
// endorsement signal on the wire. An absent record corresponds to
// EndorsementNone.
func (e *Endorsement) Record() tlv.Record {
	return tlv.MakeStaticRecord(
		EndorsementRecordType, e, 1, endorsementEncoder,
		endorsementDecoder,
	)
}

// endorsementEncoder writes a present endorsement signal as a single byte,
// non-zero for endorsed.
func endorsementEncoder(w io.Writer, val interface{}, buf *[8]byte) error {
	if e, ok := val.(*Endorsement); ok {
		var signal uint8
		if *e == EndorsementTrue {
			signal = 1
		}

		return tlv.EUint8(w, &signal, buf)
	}

	return tlv.NewTypeForEncodingErr(val, "lrc.Endorsement")
}

// endorsementDecoder reads an endorsement signal from a single byte record,
// mapping any non-zero value to endorsed.
func endorsementDecoder(r io.Reader, val interface{}, buf *[8]byte,
	l uint64) error {

	if e, ok := val.(*Endorsement); ok && l == 1 {
		var signal uint8
		if err := tlv.DUint8(r, &signal, buf, 1); err != nil {
			return err
		}

		if signal == 0 {
			*e = EndorsementFalse
		} else {
			*e = EndorsementTrue
		}

		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "lrc.Endorsement", l, 1)
}

// EncodeEndorsementSignal serializes an endorsement signal into the TLV
// blob that accompanies the HTLC downstream. EndorsementNone produces a nil
// blob, as it represents the absence of the record.
func EncodeEndorsementSignal(e Endorsement) (tlv.Blob, error) {
	if e == EndorsementNone {
		return nil, nil
	}

	stream, err := tlv.NewStream(e.Record())
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeEndorsementSignal extracts the endorsement signal from an incoming
// HTLC's TLV blob, returning EndorsementNone when the record is not
// present.
func DecodeEndorsementSignal(blob tlv.Blob) (Endorsement, error) {
	endorsed := EndorsementNone

	if len(blob) == 0 {
		return endorsed, nil
	}

	stream, err := tlv.NewStream(endorsed.Record())
	if err != nil {
		return EndorsementNone, err
	}

	parsedTypes, err := stream.DecodeWithParsedTypes(
		bytes.NewReader(blob),
	)
	if err != nil {
		return EndorsementNone, err
	}

	if _, ok := parsedTypes[EndorsementRecordType]; !ok {
		return EndorsementNone, nil
	}

	return endorsed, nil
}
