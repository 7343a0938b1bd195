package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		attachment Attachment
	}{
		{"empty fields", Attachment{}},
		{"single byte filename", Attachment{Filename: "a", MimeType: "text/plain", Data: []byte{0x42}}},
		{"max filename", Attachment{Filename: strings.Repeat("f", MaxFilenameLength), MimeType: "image/png", Data: []byte("payload")}},
		{"max mime", Attachment{Filename: "photo.jpg", MimeType: strings.Repeat("m", MaxMimeTypeLength), Data: make([]byte, 4096)}},
		{"empty data", Attachment{Filename: "empty.bin", MimeType: "application/octet-stream"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeAttachment(&tt.attachment)
			require.NoError(t, err)

			decoded, err := DecodeAttachment(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.attachment.Filename, decoded.Filename)
			assert.Equal(t, tt.attachment.MimeType, decoded.MimeType)
			assert.Equal(t, len(tt.attachment.Data), len(decoded.Data))
			assert.Equal(t, tt.attachment.Data, append([]byte(nil), decoded.Data...))
		})
	}
}

func TestEncodeAttachmentRejectsOversizedFields(t *testing.T) {
	_, err := EncodeAttachment(&Attachment{Filename: strings.Repeat("f", MaxFilenameLength+1)})
	assert.ErrorIs(t, err, ErrFieldTooLong)

	_, err = EncodeAttachment(&Attachment{MimeType: strings.Repeat("m", MaxMimeTypeLength+1)})
	assert.ErrorIs(t, err, ErrFieldTooLong)
}

func TestDecodeAttachmentTruncation(t *testing.T) {
	full, err := EncodeAttachment(&Attachment{
		Filename: "notes.txt",
		MimeType: "text/plain",
		Data:     []byte("hello mesh"),
	})
	require.NoError(t, err)

	// Every proper prefix of a valid frame must fail cleanly.
	for cut := 0; cut < len(full); cut++ {
		_, err := DecodeAttachment(full[:cut])
		assert.Errorf(t, err, "prefix of length %d accepted", cut)
	}

	// Trailing garbage is also rejected.
	_, err = DecodeAttachment(append(append([]byte(nil), full...), 0x00))
	assert.ErrorIs(t, err, ErrTrailingData)
}

func TestDecodeAttachmentDeclaredLengthBeyondBuffer(t *testing.T) {
	// filename len 0, mime len 0, data len 100 but only 2 data bytes.
	frame := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x64, 0x01, 0x02}
	_, err := DecodeAttachment(frame)
	assert.ErrorIs(t, err, ErrTruncatedFrame)

	// A declared length near the 32-bit ceiling must fail the bounds
	// check, not attempt a 4 GiB read.
	huge := []byte{0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFE, 0x01}
	_, err = DecodeAttachment(huge)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestDecodeAttachmentOversizedDeclaredFilename(t *testing.T) {
	frame := make([]byte, 2+MaxFilenameLength+1)
	frame[0] = byte((MaxFilenameLength + 1) >> 8)
	frame[1] = byte((MaxFilenameLength + 1) & 0xff)
	_, err := DecodeAttachment(frame)
	assert.ErrorIs(t, err, ErrFieldTooLong)
}
