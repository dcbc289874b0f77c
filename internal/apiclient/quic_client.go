package apiclient

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"
)

// opCode identifies which of the four logical operations a QUIC control
// message carries, framed the way the teacher's ControlStream frames its
// own messages: a one-byte type tag followed by a big-endian uint32 length
// and the JSON payload.
type opCode uint8

const (
	opCreateSession opCode = iota + 1
	opCheckChunk
	opCheckFile
	opUploadChunk
	opMergeFile
)

// QUICClient implements Client by carrying the same four logical operations
// over a QUIC connection instead of HTTP: one bidirectional stream per call,
// framed request/response, grounded on the teacher's
// daemon/transport/quic_connection.go and control_stream.go.
type QUICClient struct {
	addr      string
	tlsConfig *tls.Config
	conn      *quic.Conn
}

var _ Client = (*QUICClient)(nil)

// DialQUICClient establishes the underlying QUIC connection.
func DialQUICClient(ctx context.Context, addr string, tlsConfig *tls.Config) (*QUICClient, error) {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"wf-upload"}}
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, &quic.Config{
		KeepAlivePeriod: 10_000_000_000,
		MaxIdleTimeout:  60_000_000_000,
	})
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return &QUICClient{addr: addr, tlsConfig: tlsConfig, conn: conn}, nil
}

func (c *QUICClient) Close() error {
	return c.conn.CloseWithError(0, "upload session closed")
}

func (c *QUICClient) call(ctx context.Context, op opCode, req, resp any) error {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer stream.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := writeFrame(stream, op, data); err != nil {
		return &NetworkError{Err: err}
	}

	gotOp, payload, err := readFrame(stream)
	if err != nil {
		return &NetworkError{Err: err}
	}
	if gotOp != op {
		return &ProtocolError{Msg: fmt.Sprintf("response op mismatch: sent %d, got %d", op, gotOp)}
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return &ProtocolError{Msg: "malformed QUIC response: " + err.Error()}
	}
	if env.Code != 200 {
		return &ProtocolError{Msg: fmt.Sprintf("server returned code %d", env.Code)}
	}
	if resp != nil {
		if err := json.Unmarshal(payload, resp); err != nil {
			return &ProtocolError{Msg: "response shape mismatch: " + err.Error()}
		}
	}
	return nil
}

func writeFrame(w io.Writer, op opCode, payload []byte) error {
	if err := binary.Write(w, binary.BigEndian, op); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (opCode, []byte, error) {
	var op opCode
	if err := binary.Read(r, binary.BigEndian, &op); err != nil {
		return 0, nil, err
	}
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return 0, nil, err
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return op, payload, nil
}

func (c *QUICClient) CreateSession(ctx context.Context, fileName, fileType string, fileSize uint64, chunksLength int) (string, error) {
	req := struct {
		FileName     string `json:"fileName"`
		FileType     string `json:"fileType"`
		FileSize     uint64 `json:"fileSize"`
		ChunksLength int    `json:"chunksLength"`
	}{fileName, fileType, fileSize, chunksLength}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, opCreateSession, req, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &ProtocolError{Msg: "createSession response missing token"}
	}
	return out.Token, nil
}

func (c *QUICClient) CheckChunk(ctx context.Context, token, hash string) (bool, error) {
	req := struct {
		Token   string `json:"token"`
		Hash    string `json:"hash"`
		IsChunk bool   `json:"isChunk"`
	}{token, hash, true}
	var out struct {
		Exists *bool `json:"exists"`
	}
	if err := c.call(ctx, opCheckChunk, req, &out); err != nil {
		return false, err
	}
	if out.Exists == nil {
		return false, &ProtocolError{Msg: "checkChunk response missing exists"}
	}
	return *out.Exists, nil
}

func (c *QUICClient) CheckFile(ctx context.Context, token, fileHash string) (bool, string, error) {
	req := struct {
		Token   string `json:"token"`
		Hash    string `json:"hash"`
		IsChunk bool   `json:"isChunk"`
	}{token, fileHash, false}
	var out struct {
		Exists *bool  `json:"exists"`
		URL    string `json:"url"`
	}
	if err := c.call(ctx, opCheckFile, req, &out); err != nil {
		return false, "", err
	}
	if out.Exists == nil {
		return false, "", &ProtocolError{Msg: "checkFile response missing exists"}
	}
	if *out.Exists && out.URL == "" {
		return false, "", &ProtocolError{Msg: "checkFile reported exists=true with empty url"}
	}
	return *out.Exists, out.URL, nil
}

func (c *QUICClient) UploadChunk(ctx context.Context, token, hash string, index uint32, data []byte) error {
	req := struct {
		Token string `json:"token"`
		Hash  string `json:"hash"`
		Index uint32 `json:"index"`
		Chunk []byte `json:"chunk"`
	}{token, hash, index, data}
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.call(ctx, opUploadChunk, req, &out); err != nil {
		return err
	}
	if !out.Success {
		return &ProtocolError{Msg: "uploadChunk response missing success=true"}
	}
	return nil
}

func (c *QUICClient) MergeFile(ctx context.Context, token, fileHash, fileName string, chunks []ChunkRef) (string, error) {
	req := struct {
		Token        string     `json:"token"`
		FileHash     string     `json:"fileHash"`
		FileName     string     `json:"fileName"`
		ChunksLength int        `json:"chunksLength"`
		Chunks       []ChunkRef `json:"chunks"`
	}{token, fileHash, fileName, len(chunks), chunks}
	var out struct {
		URL string `json:"url"`
	}
	if err := c.call(ctx, opMergeFile, req, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", &ProtocolError{Msg: "mergeFile response missing url"}
	}
	return out.URL, nil
}
