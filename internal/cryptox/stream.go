package cryptox

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/avelt/photovault/internal/common"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// PlainChunkSize is the plaintext chunk length for streamed file
	// encryption. The final chunk of a file may be shorter.
	PlainChunkSize = 4 << 20

	// EncryptedChunkSize is the on-wire length of a full ciphertext chunk.
	EncryptedChunkSize = PlainChunkSize + chacha20poly1305.Overhead

	// StreamHeaderSize is the length of the stream header stored alongside a
	// file's encrypted content. It is the XChaCha20 base nonce.
	StreamHeaderSize = chacha20poly1305.NonceSizeX
)

// chunkNonce derives the nonce for chunk n from the stream header. The chunk
// counter is folded into the trailing 8 bytes so every chunk of a stream gets
// a distinct nonce under the same key.
func chunkNonce(header []byte, n uint64) []byte {
	nonce := make([]byte, StreamHeaderSize)
	copy(nonce, header)
	ctr := binary.LittleEndian.Uint64(nonce[StreamHeaderSize-8:])
	binary.LittleEndian.PutUint64(nonce[StreamHeaderSize-8:], ctr^n)
	return nonce
}

// ChunkEncrypter encrypts a file as a sequence of fixed-size chunks. Chunks
// must be fed strictly in order.
type ChunkEncrypter struct {
	aead    cipher.AEAD
	header  []byte
	counter uint64
}

// NewChunkEncrypter creates a streaming encrypter under key and returns the
// stream header that a decrypter will need.
func NewChunkEncrypter(key []byte) (*ChunkEncrypter, []byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, err
	}
	header := common.GenerateRandByteArray(StreamHeaderSize)
	return &ChunkEncrypter{aead: aead, header: header}, header, nil
}

// EncryptChunk seals the next plaintext chunk. len(plain) must be
// PlainChunkSize for every chunk except the last.
func (e *ChunkEncrypter) EncryptChunk(plain []byte) []byte {
	sealed := e.aead.Seal(nil, chunkNonce(e.header, e.counter), plain, nil)
	e.counter++
	return sealed
}

// ChunkDecrypter decrypts a chunked stream produced by ChunkEncrypter.
// Chunks must be fed strictly in order; a reordered, corrupted or truncated
// chunk fails authentication.
type ChunkDecrypter struct {
	aead    cipher.AEAD
	header  []byte
	counter uint64
}

// NewChunkDecrypter prepares sequential decryption for a stream with the
// given header and key.
func NewChunkDecrypter(header, key []byte) (*ChunkDecrypter, error) {
	if len(header) != StreamHeaderSize {
		return nil, errors.New("invalid stream header size")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &ChunkDecrypter{aead: aead, header: header}, nil
}

// DecryptChunk opens the next ciphertext chunk.
func (d *ChunkDecrypter) DecryptChunk(sealed []byte) ([]byte, error) {
	plain, err := d.aead.Open(nil, chunkNonce(d.header, d.counter), sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", d.counter, ErrOpenFailed)
	}
	d.counter++
	return plain, nil
}

// DecryptingReader turns a ciphertext stream into a plaintext io.Reader.
// Ciphertext is pulled from the underlying reader one encrypted chunk at a
// time, so the consumer's read pace drives the network read pace.
type DecryptingReader struct {
	src  io.Reader
	dec  *ChunkDecrypter
	buf  []byte // decrypted bytes not yet handed to the consumer
	done bool
}

// NewDecryptingReader wraps src, decrypting with the stream header and key.
func NewDecryptingReader(src io.Reader, header, key []byte) (*DecryptingReader, error) {
	dec, err := NewChunkDecrypter(header, key)
	if err != nil {
		return nil, err
	}
	return &DecryptingReader{src: src, dec: dec}, nil
}

func (r *DecryptingReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// fill reads one full ciphertext chunk (or the final short chunk) and
// decrypts it into the buffer.
func (r *DecryptingReader) fill() error {
	sealed := make([]byte, EncryptedChunkSize)
	n, err := io.ReadFull(r.src, sealed)
	switch {
	case err == io.EOF:
		r.done = true
		return nil
	case err == io.ErrUnexpectedEOF:
		// final short chunk
		r.done = true
	case err != nil:
		return err
	}
	if n == 0 {
		return nil
	}
	plain, derr := r.dec.DecryptChunk(sealed[:n])
	if derr != nil {
		return derr
	}
	r.buf = plain
	return nil
}
