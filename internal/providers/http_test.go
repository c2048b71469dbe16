package providers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	domainErrors "github.com/oakmart/payments/internal/domain/errors"
	"github.com/stretchr/testify/assert"
)

// fakeDoer captures the outbound request and returns a canned response.
type fakeDoer struct {
	status  int
	body    string
	err     error
	lastReq *http.Request
	lastBody []byte
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.lastReq = req
	if req.Body != nil {
		f.lastBody, _ = io.ReadAll(req.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(f.body))),
		Header:     make(http.Header),
	}, nil
}

func TestDoRequest_ClassifiesServerError(t *testing.T) {
	doer := &fakeDoer{status: 502, body: "bad gateway"}
	_, err := doRequest(context.Background(), doer, http.MethodGet, "https://x.test/v1", nil, nil)
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
}

func TestDoRequest_ClassifiesClientError(t *testing.T) {
	doer := &fakeDoer{status: 422, body: `{"error":"card_declined"}`}
	_, err := doRequest(context.Background(), doer, http.MethodPost, "https://x.test/v1", []byte("{}"), nil)
	assert.ErrorIs(t, err, domainErrors.ErrProviderRejected)
}

func TestDoRequest_ClassifiesTimeout(t *testing.T) {
	doer := &fakeDoer{err: context.DeadlineExceeded}
	_, err := doRequest(context.Background(), doer, http.MethodGet, "https://x.test/v1", nil, nil)
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
}

func TestDoRequest_ReturnsBodyOnSuccess(t *testing.T) {
	doer := &fakeDoer{body: `{"ok":true}`}
	body, err := doRequest(context.Background(), doer, http.MethodGet, "https://x.test/v1", nil, nil)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}
