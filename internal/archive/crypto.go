package archive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Journal encryption: the compressed journal stream is sealed in fixed-size
// AES-256-GCM chunks so decryption can stream without loading the whole
// journal. The key is derived from a passphrase with PBKDF2-SHA256.

const (
	encSaltSize   = 16
	encNonceSize  = 12
	encChunkSize  = 64 * 1024
	encIterations = 100_000
	encKeySize    = 32
)

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, encIterations, encKeySize, sha256.New)
}

// encryptWriter seals buffered plaintext into length-prefixed GCM chunks.
type encryptWriter struct {
	dst    io.Writer
	aead   cipher.AEAD
	buf    []byte
	closed bool
}

// newEncryptWriter writes the random salt header and returns a WriteCloser
// that seals everything written to it.
func newEncryptWriter(dst io.Writer, passphrase string) (*encryptWriter, error) {
	salt := make([]byte, encSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := dst.Write(salt); err != nil {
		return nil, fmt.Errorf("failed to write encryption header: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	return &encryptWriter{
		dst:  dst,
		aead: aead,
		buf:  make([]byte, 0, encChunkSize),
	}, nil
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

func (ew *encryptWriter) Write(p []byte) (int, error) {
	if ew.closed {
		return 0, fmt.Errorf("write to closed encryption stream")
	}
	total := len(p)
	for len(p) > 0 {
		room := encChunkSize - len(ew.buf)
		n := len(p)
		if n > room {
			n = room
		}
		ew.buf = append(ew.buf, p[:n]...)
		p = p[n:]

		if len(ew.buf) == encChunkSize {
			if err := ew.flushChunk(); err != nil {
				return 0, err
			}
		}
	}
	return total, nil
}

func (ew *encryptWriter) flushChunk() error {
	nonce := make([]byte, encNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := ew.aead.Seal(nil, nonce, ew.buf, nil)

	var header [4 + encNonceSize]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(sealed)))
	copy(header[4:], nonce)

	if _, err := ew.dst.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write chunk header: %w", err)
	}
	if _, err := ew.dst.Write(sealed); err != nil {
		return fmt.Errorf("failed to write encrypted chunk: %w", err)
	}

	ew.buf = ew.buf[:0]
	return nil
}

// Close flushes the final partial chunk.
func (ew *encryptWriter) Close() error {
	if ew.closed {
		return nil
	}
	ew.closed = true
	if len(ew.buf) > 0 {
		return ew.flushChunk()
	}
	return nil
}

// decryptReader opens a stream written by encryptWriter.
type decryptReader struct {
	src  io.Reader
	aead cipher.AEAD
	buf  []byte
	err  error
}

func newDecryptReader(src io.Reader, passphrase string) (*decryptReader, error) {
	salt := make([]byte, encSaltSize)
	if _, err := io.ReadFull(src, salt); err != nil {
		return nil, fmt.Errorf("failed to read encryption header: %w", err)
	}

	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}

	return &decryptReader{src: src, aead: aead}, nil
}

func (dr *decryptReader) Read(p []byte) (int, error) {
	for len(dr.buf) == 0 {
		if dr.err != nil {
			return 0, dr.err
		}
		if err := dr.readChunk(); err != nil {
			dr.err = err
			if len(dr.buf) == 0 {
				return 0, err
			}
		}
	}
	n := copy(p, dr.buf)
	dr.buf = dr.buf[n:]
	return n, nil
}

func (dr *decryptReader) readChunk() error {
	var header [4 + encNonceSize]byte
	if _, err := io.ReadFull(dr.src, header[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("corrupt encrypted chunk header: %w", err)
	}

	sealedLen := binary.BigEndian.Uint32(header[:4])
	if sealedLen > uint32(encChunkSize+dr.aead.Overhead()) {
		return fmt.Errorf("corrupt encrypted chunk: impossible length %d", sealedLen)
	}

	sealed := make([]byte, sealedLen)
	if _, err := io.ReadFull(dr.src, sealed); err != nil {
		return fmt.Errorf("truncated encrypted chunk: %w", err)
	}

	plain, err := dr.aead.Open(nil, header[4:], sealed, nil)
	if err != nil {
		return fmt.Errorf("failed to decrypt chunk (wrong passphrase or corrupt data): %w", err)
	}

	dr.buf = plain
	return nil
}

func (dr *decryptReader) Close() error { return nil }
