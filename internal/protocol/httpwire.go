package protocol

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/danmuck/contractrpc/internal/status"
	"github.com/danmuck/contractrpc/internal/wire"
	"github.com/klauspost/compress/zip"
)

// HTTP mapping of the envelopes. Parameters travel as base64 wire values
// keyed by parameter name; the response body is the wire-encoded result
// array, or a zip archive when files come back.
const (
	SessionCookie   = "ContractSession"
	HeaderPrefix    = "X-Contract-Header-"
	HeaderID        = "X-Contract-Id"
	HeaderMessage   = "X-Contract-Message"
	HeaderZip       = "X-Contract-Zip"
	ResultsEntry    = "__results"
	ContentTypeWire = "application/x-contract"
	ContentTypeZip  = "application/zip"
	ContentTypeForm = "application/x-www-form-urlencoded"

	maxMultipartMemory = 32 << 20
)

var (
	ErrMissingParam = errors.New("protocol: missing form parameter")
	ErrBadZip       = errors.New("protocol: malformed response archive")
)

// ContractPath is the HTTP route of one method: {base}/{contract}/{identity}.
func ContractPath(base, contract string, identity int) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(contract) + "/" + strconv.Itoa(identity)
}

// NewHTTPRequest builds the POST for req. names are the parameter names in
// positional order.
func NewHTTPRequest(c *wire.Codec, base string, names []string, req *ContractRequest) (*http.Request, error) {
	if len(names) != len(req.Params) {
		return nil, fmt.Errorf("%w: %d names for %d params", ErrMissingParam, len(names), len(req.Params))
	}
	values := make(map[string]string, len(names))
	for i, name := range names {
		data, err := c.Encode(req.Params[i])
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", name, err)
		}
		values[name] = base64.StdEncoding.EncodeToString(data)
	}

	var body bytes.Buffer
	contentType := ContentTypeForm
	if len(req.Files) == 0 {
		form := url.Values{}
		for name, v := range values {
			form.Set(name, v)
		}
		body.WriteString(form.Encode())
	} else {
		mw := multipart.NewWriter(&body)
		for _, name := range names {
			if err := mw.WriteField(name, values[name]); err != nil {
				return nil, err
			}
		}
		for _, f := range req.Files {
			if err := writeFilePart(mw, f); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		contentType = mw.FormDataContentType()
	}

	hr, err := http.NewRequest(http.MethodPost, ContractPath(base, req.Contract, req.Method), &body)
	if err != nil {
		return nil, err
	}
	hr.Header.Set("Content-Type", contentType)
	hr.Header.Set(HeaderID, strconv.FormatUint(req.ID, 10))
	SetHeaders(hr.Header, req.Headers)
	if req.Session != "" {
		hr.AddCookie(&http.Cookie{Name: SessionCookie, Value: req.Session})
	}
	return hr, nil
}

func writeFilePart(mw *multipart.Writer, f File) error {
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{mime.FormatMediaType("form-data", map[string]string{"name": "file", "filename": f.Name})}
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h["Content-Type"] = []string{ct}
	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = w.Write(f.Data)
	return err
}

// ReadHTTPRequest parses the parameters, files, session and headers of an
// inbound POST. Missing parameters decode as nil.
func ReadHTTPRequest(c *wire.Codec, r *http.Request, names []string) (*ContractRequest, error) {
	req := &ContractRequest{Headers: HeadersFrom(r.Header)}
	if id := r.Header.Get(HeaderID); id != "" {
		n, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q", status.ErrBadRequest, HeaderID, id)
		}
		req.ID = n
	}
	if ck, err := r.Cookie(SessionCookie); err == nil {
		req.Session = ck.Value
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var get func(string) string
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, fmt.Errorf("%w: %v", status.ErrBadRequest, err)
		}
		get = r.PostFormValue
		files, err := readFileParts(r.MultipartForm)
		if err != nil {
			return nil, err
		}
		req.Files = files
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("%w: %v", status.ErrBadRequest, err)
		}
		get = r.PostForm.Get
	}

	req.Params = make([]any, len(names))
	for i, name := range names {
		raw := get(name)
		if raw == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: param %s: %v", status.ErrBadRequest, name, err)
		}
		v, err := c.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: param %s: %v", status.ErrBadRequest, name, err)
		}
		req.Params[i] = v
	}
	return req, nil
}

func readFileParts(form *multipart.Form) ([]File, error) {
	if form == nil {
		return nil, nil
	}
	var out []File
	for _, headers := range form.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				return nil, err
			}
			out = append(out, File{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data})
		}
	}
	return out, nil
}

// WriteHTTPResponse renders resp. The HTTP status carries resp.Status and
// X-Contract-Message its message.
func WriteHTTPResponse(w http.ResponseWriter, c *wire.Codec, resp *ContractResponse) error {
	body, err := c.Encode(resp.Results)
	if err != nil {
		return err
	}
	contentType := ContentTypeWire
	if len(resp.Files) > 0 {
		if body, err = packZip(body, resp.Files); err != nil {
			return err
		}
		contentType = ContentTypeZip
		w.Header().Set(HeaderZip, "1")
	}
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set(HeaderID, strconv.FormatUint(resp.ID, 10))
	if resp.Message != "" {
		h.Set(HeaderMessage, url.QueryEscape(resp.Message))
	}
	SetHeaders(h, resp.Headers)
	if resp.Session != "" {
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: resp.Session, Path: "/", HttpOnly: true})
	}
	code := resp.Status
	if code == 0 {
		code = status.OK
	}
	w.WriteHeader(code.HTTP())
	_, err = w.Write(body)
	return err
}

// ReadHTTPResponse builds a ContractResponse from hr. The body is consumed
// but not closed.
func ReadHTTPResponse(c *wire.Codec, hr *http.Response) (*ContractResponse, error) {
	code, ok := status.FromHTTP(hr.StatusCode)
	if !ok {
		code = status.InternalServerError
	}
	resp := &ContractResponse{Status: code, Headers: HeadersFrom(hr.Header)}
	if msg := hr.Header.Get(HeaderMessage); msg != "" {
		if unescaped, err := url.QueryUnescape(msg); err == nil {
			msg = unescaped
		}
		resp.Message = msg
	} else if !ok {
		resp.Message = hr.Status
	}
	if id := hr.Header.Get(HeaderID); id != "" {
		resp.ID, _ = strconv.ParseUint(id, 10, 64)
	}
	for _, ck := range hr.Cookies() {
		if ck.Name == SessionCookie {
			resp.Session = ck.Value
		}
	}

	body, err := io.ReadAll(hr.Body)
	if err != nil {
		return nil, err
	}
	if hr.Header.Get(HeaderZip) == "1" {
		if body, resp.Files, err = unpackZip(body); err != nil {
			return nil, err
		}
	}
	if len(body) > 0 {
		if err := c.DecodeInto(body, &resp.Results); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// SetHeaders copies m onto h with the custom header prefix.
func SetHeaders(h http.Header, m *wire.FoldMap) {
	m.Range(func(k, v string) bool {
		h.Set(HeaderPrefix+k, v)
		return true
	})
}

// HeadersFrom collects prefixed custom headers. It returns nil when none
// are present.
func HeadersFrom(h http.Header) *wire.FoldMap {
	var out *wire.FoldMap
	for k, vs := range h {
		if len(k) <= len(HeaderPrefix) || !strings.EqualFold(k[:len(HeaderPrefix)], HeaderPrefix) || len(vs) == 0 {
			continue
		}
		if out == nil {
			out = wire.NewFoldMap()
		}
		out.Set(k[len(HeaderPrefix):], vs[0])
	}
	return out
}

func packZip(results []byte, files []File) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(ResultsEntry)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(results); err != nil {
		return nil, err
	}
	for _, f := range files {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: zip.Deflate, Comment: f.ContentType})
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unpackZip(data []byte) ([]byte, []File, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadZip, err)
	}
	var results []byte
	var files []File
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrBadZip, err)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrBadZip, err)
		}
		if zf.Name == ResultsEntry {
			results = content
			continue
		}
		files = append(files, File{Name: zf.Name, ContentType: zf.Comment, Data: content})
	}
	return results, files, nil
}
