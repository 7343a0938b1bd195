package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// MaxFilenameLength caps the attachment filename field (u16 prefixed).
	MaxFilenameLength = 1024
	// MaxMimeTypeLength caps the attachment MIME type field (u16 prefixed).
	MaxMimeTypeLength = 256
)

// Attachment is a file attachment carried inside a message payload.
// Wire form:
//
//	[u16 BE filenameLen][filename][u16 BE mimeLen][mime][u32 BE dataLen][data]
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// EncodeAttachment serializes an attachment to its TLV wire form.
// Filename and MIME type are rejected above their caps rather than
// silently truncated.
func EncodeAttachment(a *Attachment) ([]byte, error) {
	if len(a.Filename) > MaxFilenameLength {
		return nil, fmt.Errorf("%w: filename %d bytes, cap %d", ErrFieldTooLong, len(a.Filename), MaxFilenameLength)
	}
	if len(a.MimeType) > MaxMimeTypeLength {
		return nil, fmt.Errorf("%w: mime type %d bytes, cap %d", ErrFieldTooLong, len(a.MimeType), MaxMimeTypeLength)
	}

	buf := make([]byte, 0, 2+len(a.Filename)+2+len(a.MimeType)+4+len(a.Data))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(a.Filename)))
	buf = append(buf, a.Filename...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(a.MimeType)))
	buf = append(buf, a.MimeType...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(a.Data)))
	buf = append(buf, a.Data...)
	return buf, nil
}

// DecodeAttachment parses an attachment, validating every declared length
// against the remaining buffer before reading.
func DecodeAttachment(data []byte) (*Attachment, error) {
	offset := 0

	filename, offset, err := readUint16Field(data, offset, MaxFilenameLength, "filename")
	if err != nil {
		return nil, err
	}
	mimeType, offset, err := readUint16Field(data, offset, MaxMimeTypeLength, "mime type")
	if err != nil {
		return nil, err
	}

	if offset+4 > len(data) {
		return nil, fmt.Errorf("%w: missing data length", ErrTruncatedFrame)
	}
	dataLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4

	if dataLen < 0 || offset+dataLen > len(data) {
		return nil, fmt.Errorf("%w: declared data length %d exceeds remaining %d", ErrTruncatedFrame, dataLen, len(data)-offset)
	}
	payload := make([]byte, dataLen)
	copy(payload, data[offset:offset+dataLen])
	offset += dataLen

	if offset != len(data) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(data)-offset)
	}

	return &Attachment{
		Filename: string(filename),
		MimeType: string(mimeType),
		Data:     payload,
	}, nil
}

// readUint16Field reads a u16-length-prefixed field with a cap check.
func readUint16Field(data []byte, offset, maxLen int, name string) ([]byte, int, error) {
	if offset+2 > len(data) {
		return nil, 0, fmt.Errorf("%w: missing %s length", ErrTruncatedFrame, name)
	}
	fieldLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2

	if fieldLen > maxLen {
		return nil, 0, fmt.Errorf("%w: %s declared %d bytes, cap %d", ErrFieldTooLong, name, fieldLen, maxLen)
	}
	if offset+fieldLen > len(data) {
		return nil, 0, fmt.Errorf("%w: %s declared %d bytes, %d remaining", ErrTruncatedFrame, name, fieldLen, len(data)-offset)
	}
	return data[offset : offset+fieldLen], offset + fieldLen, nil
}
