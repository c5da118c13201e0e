package cryptox

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encryptStream produces a full ciphertext stream for plain, chunked the way
// the upload path chunks files.
func encryptStream(t *testing.T, plain, key []byte) (header, sealed []byte) {
	t.Helper()
	enc, header, err := NewChunkEncrypter(key)
	require.NoError(t, err)

	var out bytes.Buffer
	for off := 0; off < len(plain); off += PlainChunkSize {
		end := off + PlainChunkSize
		if end > len(plain) {
			end = len(plain)
		}
		out.Write(enc.EncryptChunk(plain[off:end]))
	}
	return header, out.Bytes()
}

func TestChunkRoundTrip_ExactMultiple(t *testing.T) {
	key := GenerateKey()
	plain := make([]byte, 2*PlainChunkSize)
	_, _ = rand.New(rand.NewSource(1)).Read(plain)

	header, sealed := encryptStream(t, plain, key)

	dec, err := NewChunkDecrypter(header, key)
	require.NoError(t, err)

	var got []byte
	for off := 0; off < len(sealed); off += EncryptedChunkSize {
		chunk, err := dec.DecryptChunk(sealed[off : off+EncryptedChunkSize])
		require.NoError(t, err)
		got = append(got, chunk...)
	}
	assert.Equal(t, plain, got)
}

func TestChunkDecrypt_OutOfOrderFails(t *testing.T) {
	key := GenerateKey()
	plain := make([]byte, 2*PlainChunkSize)
	header, sealed := encryptStream(t, plain, key)

	dec, err := NewChunkDecrypter(header, key)
	require.NoError(t, err)

	// feed the second chunk first
	_, err = dec.DecryptChunk(sealed[EncryptedChunkSize:])
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestDecryptingReader_SizeNotAMultipleOfChunkSize(t *testing.T) {
	key := GenerateKey()
	// one full chunk plus a short tail, exercising the final partial chunk
	plain := make([]byte, PlainChunkSize+12345)
	_, _ = rand.New(rand.NewSource(2)).Read(plain)

	header, sealed := encryptStream(t, plain, key)

	r, err := NewDecryptingReader(bytes.NewReader(sealed), header, key)
	require.NoError(t, err)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plain, got), "plaintext must survive the stream byte-for-byte")
}

func TestDecryptingReader_SmallReadsBackpressure(t *testing.T) {
	key := GenerateKey()
	plain := []byte("tiny file smaller than one chunk")
	header, sealed := encryptStream(t, plain, key)

	r, err := NewDecryptingReader(bytes.NewReader(sealed), header, key)
	require.NoError(t, err)

	var got []byte
	buf := make([]byte, 7)
	for {
		n, err := r.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, plain, got)
}

func TestDecryptingReader_CorruptStream(t *testing.T) {
	key := GenerateKey()
	plain := make([]byte, 1000)
	header, sealed := encryptStream(t, plain, key)

	sealed[10] ^= 0xff

	r, err := NewDecryptingReader(bytes.NewReader(sealed), header, key)
	require.NoError(t, err)

	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestDecryptingReader_EmptyStream(t *testing.T) {
	key := GenerateKey()
	header := make([]byte, StreamHeaderSize)

	r, err := NewDecryptingReader(bytes.NewReader(nil), header, key)
	require.NoError(t, err)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, got)
}
